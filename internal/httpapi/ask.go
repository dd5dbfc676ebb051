package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BothRocks/hari2-sub000/internal/agent"
	"github.com/BothRocks/hari2-sub000/internal/search"
	"github.com/BothRocks/hari2-sub000/internal/streaming"
)

// historyRetention is how long a finished run's event backlog stays
// replayable for late subscribers.
const historyRetention = 30 * time.Minute

// AskHandler serves the question-answering endpoint.
type AskHandler struct {
	orch   *agent.Orchestrator
	events *streaming.Manager
	logger *zap.Logger
}

func NewAskHandler(orch *agent.Orchestrator, events *streaming.Manager, logger *zap.Logger) *AskHandler {
	return &AskHandler{orch: orch, events: events, logger: logger}
}

// RegisterRoutes registers the ask route on the provided mux.
func (h *AskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ask", h.handleAsk)
}

type askRequest struct {
	Query          string  `json:"query"`
	MaxIterations  *int    `json:"max_iterations,omitempty"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
	CostCeilingUSD float64 `json:"cost_ceiling_usd,omitempty"`
	Stream         bool    `json:"stream,omitempty"`
}

type askResponse struct {
	RunID              string                   `json:"run_id"`
	Answer             string                   `json:"answer,omitempty"`
	Sources            []search.SourceReference `json:"sources,omitempty"`
	ResearchIterations int                      `json:"research_iterations"`
	LimitExceeded      string                   `json:"limit_exceeded,omitempty"`
	ElapsedSeconds     float64                  `json:"elapsed_seconds"`
	CostUSD            float64                  `json:"cost_usd"`
	TokensUsed         int                      `json:"tokens_used"`
	Error              string                   `json:"error,omitempty"`
}

type streamStartedResponse struct {
	RunID     string `json:"run_id"`
	StreamURL string `json:"stream_url"`
}

// handleAsk answers a question. With "stream": false the call blocks until
// the run finishes and returns the full result. With "stream": true it
// returns the run ID immediately; progress arrives on /stream/sse.
// POST /ask
func (h *AskHandler) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	params := agent.RunParams{
		Query:          req.Query,
		MaxIterations:  req.MaxIterations,
		TimeoutSeconds: req.TimeoutSeconds,
		CostCeilingUSD: req.CostCeilingUSD,
	}
	// Reject bad input before any stage runs, streaming or not.
	if err := agent.ValidateParams(params); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Stream {
		h.handleStreamingAsk(w, params)
		return
	}

	state, err := h.orch.Run(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusOK
	if state.Error != "" {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, stateToResponse(state))
}

// handleStreamingAsk pre-assigns the run ID, kicks the run off in the
// background, and returns immediately. The run is detached from the request
// context so a client dropping the POST does not cancel it.
func (h *AskHandler) handleStreamingAsk(w http.ResponseWriter, params agent.RunParams) {
	params.RunID = uuid.New().String()

	go func() {
		// Background context: the run's own timeout guardrail bounds it.
		if _, err := h.orch.Run(context.Background(), params); err != nil {
			h.logger.Warn("Streaming run rejected",
				zap.String("run_id", params.RunID), zap.Error(err))
			if h.events != nil {
				h.events.Publish(params.RunID, streaming.Event{
					Type:    agent.EventError,
					Message: "Run rejected",
					Data:    map[string]interface{}{"error": err.Error()},
				})
			}
		}
		if h.events != nil {
			time.AfterFunc(historyRetention, func() {
				h.events.CloseStreams(params.RunID)
			})
		}
	}()

	writeJSON(w, http.StatusAccepted, streamStartedResponse{
		RunID:     params.RunID,
		StreamURL: "/stream/sse?run_id=" + params.RunID,
	})
}

func stateToResponse(s *agent.RunState) askResponse {
	return askResponse{
		RunID:              s.RunID,
		Answer:             s.FinalAnswer,
		Sources:            s.Sources,
		ResearchIterations: s.Iteration,
		LimitExceeded:      string(s.LimitExceeded),
		ElapsedSeconds:     s.ElapsedSeconds,
		CostUSD:            s.CostUSDSpent,
		TokensUsed:         s.TokensUsed,
		Error:              s.Error,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
