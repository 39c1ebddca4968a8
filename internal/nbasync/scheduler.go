package nbasync

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/phrazzld/paygate/internal/config"
	"github.com/phrazzld/paygate/internal/coord"
	"github.com/robfig/cron/v3"
)

// tickLockTTL bounds how long a schedule tick stays claimed.
const tickLockTTL = time.Minute

// TickKey is the coordination key claimed by the instance that enqueues
// entry for the tick starting at tick.
func TickKey(entry string, tick time.Time) string {
	return "nba-sync:schedule:" + entry + ":" + strconv.FormatInt(tick.Unix(), 10)
}

// scheduledJob is one job enqueued by a cron entry.
type scheduledJob struct {
	name   string
	params Params
}

// scheduled is one cron entry and the jobs it enqueues.
type scheduled struct {
	name string
	spec string
	jobs []scheduledJob
}

// Scheduler enqueues sync jobs on cron schedules. Several instances may
// run it at once; a per-tick claim in the coordination store lets only
// one of them enqueue.
type Scheduler struct {
	cron    *cron.Cron
	queue   Adder
	store   coord.Store
	entries []scheduled
	logger  *slog.Logger
	now     func() time.Time
}

// NewScheduler registers the schedules from cfg. Scheduled jobs bypass the
// manual trigger cooldown.
func NewScheduler(queue Adder, store coord.Store, cfg config.SyncConfig, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With(slog.String("component", "nba_sync_scheduler"))

	s := &Scheduler{
		queue:  queue,
		store:  store,
		logger: log,
		now:    time.Now,
	}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{log})),
		cron.WithLogger(cronLogger{log}),
	)

	entries := []scheduled{
		{name: "scoreboard", spec: cfg.ScoreboardCron, jobs: []scheduledJob{
			{JobScoreboard, Params{Date: cfg.ScoreboardDate}},
		}},
		{name: "final-results", spec: cfg.FinalResultsCron, jobs: []scheduledJob{
			{JobFinalResults, Params{Date: cfg.FinalResultsDate}},
		}},
		{name: "injury-report", spec: cfg.InjuryReportCron, jobs: []scheduledJob{
			{JobInjuryReport, Params{}},
		}},
	}
	if cfg.HourlyEnabled {
		entries = append(entries, scheduled{name: "hourly", spec: cfg.HourlyCron, jobs: []scheduledJob{
			{JobScoreboard, Params{Date: cfg.HourlyDate}},
			{JobFinalResults, Params{Date: cfg.HourlyDate}},
		}})
	}

	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.spec, func() { s.tick(context.Background(), e) }); err != nil {
			return nil, fmt.Errorf("invalid %s schedule %q: %w", e.name, e.spec, err)
		}
		s.entries = append(s.entries, e)
	}

	return s, nil
}

// Start begins running the schedules in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("sync scheduler started", slog.Int("entries", len(s.entries)))
}

// Stop halts the schedules and waits for running ticks until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// tick enqueues the jobs of e unless another instance claimed this minute.
func (s *Scheduler) tick(ctx context.Context, e scheduled) {
	tick := s.now().UTC().Truncate(time.Minute)
	log := s.logger.With(slog.String("entry", e.name), slog.Time("tick", tick))

	claim := strconv.FormatInt(s.now().UnixMilli(), 10)
	won, err := s.store.SetNX(ctx, TickKey(e.name, tick), claim, tickLockTTL)
	if err != nil {
		log.Error("failed to claim schedule tick", slog.String("error", err.Error()))
		return
	}
	if !won {
		log.Debug("schedule tick claimed elsewhere")
		return
	}

	for _, j := range e.jobs {
		job, err := s.queue.Add(ctx, j.name, j.params, nil)
		if err != nil {
			log.Error("failed to enqueue scheduled job",
				slog.String("job_name", j.name),
				slog.String("error", err.Error()))
			continue
		}
		log.Info("scheduled job enqueued",
			slog.String("job_name", j.name),
			slog.String("job_id", job.ID))
	}
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
