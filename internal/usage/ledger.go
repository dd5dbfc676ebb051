package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	ometrics "github.com/BothRocks/hari2-sub000/internal/metrics"
)

// Record is one LLM call's token consumption within a run. The ledger is
// audit-only; nothing in the answering loop reads it back.
type Record struct {
	ID           string    `db:"id"`
	RunID        string    `db:"run_id"`
	Stage        string    `db:"stage"`
	Model        string    `db:"model"`
	InputTokens  int       `db:"input_tokens"`
	OutputTokens int       `db:"output_tokens"`
	CostUSD      float64   `db:"cost_usd"`
	CreatedAt    time.Time `db:"created_at"`
}

// Ledger persists per-call usage rows. Postgres in production; a SQLite
// file works for local development.
type Ledger struct {
	db     *sqlx.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS run_usage (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	stage         TEXT NOT NULL,
	model         TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd      DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMP NOT NULL
)`

// Open connects to the ledger database and ensures the schema exists.
// driver is "postgres" or "sqlite3".
func Open(driver, dsn string, logger *zap.Logger) (*Ledger, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect usage ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure usage schema: %w", err)
	}
	logger.Info("Usage ledger ready", zap.String("driver", driver))
	return &Ledger{db: db, logger: logger}, nil
}

// NewLedger wraps an existing connection (tests).
func NewLedger(db *sqlx.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// Record inserts one usage row. Failures are logged and counted but not
// returned as run errors; a lost audit row must not fail an answer.
func (l *Ledger) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx,
		l.db.Rebind(`INSERT INTO run_usage (id, run_id, stage, model, input_tokens, output_tokens, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.RunID, rec.Stage, rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.CreatedAt,
	)
	if err != nil {
		ometrics.UsageRecordErrors.Inc()
		l.logger.Warn("Failed to record usage",
			zap.String("run_id", rec.RunID),
			zap.String("stage", rec.Stage),
			zap.Error(err),
		)
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// RunTotal aggregates tokens and cost for one run.
func (l *Ledger) RunTotal(ctx context.Context, runID string) (tokens int, costUSD float64, err error) {
	row := l.db.QueryRowxContext(ctx,
		l.db.Rebind(`SELECT COALESCE(SUM(input_tokens + output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM run_usage WHERE run_id = ?`), runID)
	if err := row.Scan(&tokens, &costUSD); err != nil {
		return 0, 0, fmt.Errorf("aggregate usage: %w", err)
	}
	return tokens, costUSD, nil
}

// Ping checks database connectivity for readiness probes.
func (l *Ledger) Ping(ctx context.Context) error { return l.db.PingContext(ctx) }

// Close releases the database connection.
func (l *Ledger) Close() error { return l.db.Close() }
