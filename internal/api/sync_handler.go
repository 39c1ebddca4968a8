package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/paygate/internal/api/shared"
	"github.com/phrazzld/paygate/internal/nbasync"
	"github.com/phrazzld/paygate/internal/platform/logger"
	"github.com/phrazzld/paygate/internal/task"
)

// SyncTrigger enqueues a manual sync through the cooldown.
type SyncTrigger interface {
	Fire(ctx context.Context, name string, p nbasync.Params) (*task.Job, error)
}

// syncRoutes maps each trigger path segment to its job and the query
// parameters it accepts.
var syncRoutes = map[string]struct {
	job    string
	params []string
}{
	"scoreboard":          {nbasync.JobScoreboard, []string{"date"}},
	"final-results":       {nbasync.JobFinalResults, []string{"date"}},
	"player-game-stats":   {nbasync.JobPlayerGameStats, []string{"date", "gameId"}},
	"players":             {nbasync.JobPlayers, []string{"season"}},
	"player-season-teams": {nbasync.JobPlayerSeasonTeams, []string{"season"}},
	"injury-report":       {nbasync.JobInjuryReport, nil},
	"range":               {nbasync.JobRange, []string{"from", "to", "mode"}},
}

// SyncHandler serves the manual sync triggers.
type SyncHandler struct {
	triggers SyncTrigger
	logger   *slog.Logger
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(triggers SyncTrigger, log *slog.Logger) *SyncHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SyncHandler{triggers: triggers, logger: log.With("component", "sync_handler")}
}

// Trigger handles POST /sync/{action}. Callers inside an active cooldown
// receive the job that opened it, or 429 when none can be resolved.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	action := chi.URLParam(r, "action")

	route, ok := syncRoutes[action]
	if !ok {
		shared.RespondWithError(w, r, http.StatusNotFound, "unknown sync action")
		return
	}

	params := paramsFromQuery(r, route.params)

	job, err := h.triggers.Fire(ctx, route.job, params)
	if err != nil {
		RespondWithMappedError(w, r, err)
		return
	}

	logger.FromContextOrDefault(ctx, h.logger).Info("manual sync triggered",
		"job", route.job,
		"job_id", job.ID,
		"state", job.State)

	shared.RespondWithJSON(w, r, http.StatusOK, job.Represent())
}

func paramsFromQuery(r *http.Request, accepted []string) nbasync.Params {
	q := r.URL.Query()
	var p nbasync.Params
	for _, name := range accepted {
		v := q.Get(name)
		switch name {
		case "date":
			p.Date = v
		case "gameId":
			p.GameID = v
		case "season":
			p.Season = v
		case "from":
			p.From = v
		case "to":
			p.To = v
		case "mode":
			p.Mode = v
		}
	}
	return p
}
