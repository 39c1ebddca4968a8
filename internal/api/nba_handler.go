package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/paygate/internal/api/shared"
	"github.com/phrazzld/paygate/internal/capability"
	"github.com/phrazzld/paygate/internal/domain"
	"github.com/phrazzld/paygate/internal/paygate"
	"github.com/phrazzld/paygate/internal/platform/logger"
	"github.com/phrazzld/paygate/internal/redact"
	"github.com/phrazzld/paygate/internal/store"
)

// Conflict listing bounds.
const (
	DefaultConflictLimit = 50
	MaxConflictLimit     = 500
)

var validate = validator.New()

// MatchupAnalyzer runs the full analysis of a matchup.
type MatchupAnalyzer interface {
	Analyze(ctx context.Context, in capability.MatchupInput) (*capability.FullResult, error)
}

// AnalysisRequest is the body of POST /nba/analysis.
type AnalysisRequest struct {
	Date         string `json:"date"`
	Home         string `json:"home"`
	Away         string `json:"away"`
	MatchupLimit *int   `json:"matchupLimit,omitempty" validate:"omitempty,gte=0,lte=25"`
	RecentLimit  *int   `json:"recentLimit,omitempty" validate:"omitempty,gte=0,lte=25"`
}

// Validate checks the request in the order clients expect the messages.
func (req *AnalysisRequest) Validate() error {
	if strings.TrimSpace(req.Date) == "" {
		return badRequest("date is required, YYYY-MM-DD")
	}
	if strings.TrimSpace(req.Home) == "" || strings.TrimSpace(req.Away) == "" {
		return badRequest("home and away are required")
	}
	if _, err := domain.ParseDate(req.Date); err != nil {
		return badRequest("date must be YYYY-MM-DD")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest("matchupLimit and recentLimit must be between 0 and 25")
	}
	return nil
}

func (req *AnalysisRequest) input() capability.MatchupInput {
	in := capability.MatchupInput{Date: req.Date, Home: req.Home, Away: req.Away}
	if req.MatchupLimit != nil {
		in.MatchupLimit = *req.MatchupLimit
	}
	if req.RecentLimit != nil {
		in.RecentLimit = *req.RecentLimit
	}
	return in
}

// NBAHandler serves the analysis and conflict endpoints.
type NBAHandler struct {
	analyzer  MatchupAnalyzer
	logs      store.AnalysisLogStore
	conflicts store.ConflictStore
	logger    *slog.Logger
}

// NewNBAHandler creates an NBAHandler.
func NewNBAHandler(
	analyzer MatchupAnalyzer,
	logs store.AnalysisLogStore,
	conflicts store.ConflictStore,
	log *slog.Logger,
) *NBAHandler {
	if log == nil {
		log = slog.Default()
	}
	return &NBAHandler{
		analyzer:  analyzer,
		logs:      logs,
		conflicts: conflicts,
		logger:    log.With("component", "nba_handler"),
	}
}

// Analyze handles POST /nba/analysis. Every request that reaches the
// analyzer records exactly one analysis log entry, whatever the outcome.
func (h *NBAHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AnalysisRequest
	if err := shared.DecodeJSON(r, &req); err != nil && !errors.Is(err, shared.ErrEmptyBody) {
		RespondWithMappedError(w, r, badRequest("invalid request body"))
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		RespondWithMappedError(w, r, err)
		return
	}

	params, err := json.Marshal(req)
	if err != nil {
		RespondWithMappedError(w, r, err)
		return
	}
	info, _ := paygate.FromContext(ctx)
	entry := domain.NewAnalysisLogEntry(info.PayerAddress, info.SessionID, params)

	result, err := h.analyzer.Analyze(ctx, req.input())
	if err != nil {
		if errors.Is(err, store.ErrGameNotFound) {
			entry.Fail(capability.FailureGameNotFound)
		} else {
			entry.Fail(redact.Error(err))
		}
		h.record(ctx, entry)
		RespondWithMappedError(w, r, err)
		return
	}

	response, err := json.Marshal(result)
	if err != nil {
		entry.Fail(err.Error())
		h.record(ctx, entry)
		RespondWithMappedError(w, r, err)
		return
	}
	entry.Succeed(response)
	h.record(ctx, entry)

	shared.RespondWithJSON(w, r, http.StatusOK, json.RawMessage(response))
}

// record saves an analysis log entry. Failures are logged and never change
// the response.
func (h *NBAHandler) record(ctx context.Context, entry *domain.AnalysisLogEntry) {
	if h.logs == nil {
		return
	}
	if err := h.logs.Create(context.WithoutCancel(ctx), entry); err != nil {
		logger.FromContextOrDefault(ctx, h.logger).Warn("failed to record analysis log",
			"entry_id", entry.ID,
			"error", err)
	}
}

// ListConflicts handles GET /nba/conflicts?limit=.
func (h *NBAHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	limit := DefaultConflictLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			RespondWithMappedError(w, r, badRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, MaxConflictLimit)
	}

	conflicts, err := h.conflicts.ListRecent(r.Context(), limit)
	if err != nil {
		RespondWithMappedError(w, r, err)
		return
	}
	if conflicts == nil {
		conflicts = []*domain.DataConflict{}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]any{
		"data":  conflicts,
		"limit": limit,
	})
}
