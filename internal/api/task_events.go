package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/phrazzld/paygate/internal/metrics"
	"github.com/phrazzld/paygate/internal/platform/logger"
	"github.com/phrazzld/paygate/internal/task"
)

// SSE event names beyond the relayed queue events.
const (
	sseEventState = "state"
	sseEventPing  = "ping"
)

// relayedEvents are the queue events forwarded to task streams.
var relayedEvents = map[string]bool{
	task.EventProgress:  true,
	task.EventCompleted: true,
	task.EventFailed:    true,
	task.EventActive:    true,
	task.EventWaiting:   true,
}

type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func (s sseWriter) send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, raw); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// StreamEvents handles GET /tasks/{id}/events. It sends the current state,
// then relays the job's queue events until the job settles, the client goes
// away or a write fails. The queue subscription is released on every exit.
func (h *TaskHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContextOrDefault(ctx, h.logger)

	id, err := pathParam(r, "id")
	if err != nil {
		RespondWithMappedError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondWithMappedError(w, r, fmt.Errorf("response writer %T cannot stream", w))
		return
	}

	// Subscribe before reading the state so nothing published in between
	// is lost.
	sub, err := h.queue.Subscribe(ctx)
	if err != nil {
		RespondWithMappedError(w, r, err)
		return
	}
	defer func() {
		if err := sub.Close(); err != nil {
			log.Warn("failed to close task event subscription", "job_id", id, "error", err)
		}
	}()

	job, err := h.queue.GetJob(ctx, id)
	if err != nil {
		RespondWithMappedError(w, r, err)
		return
	}

	done := metrics.SSEStreamOpened()
	defer done()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream; charset=utf-8")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	out := sseWriter{w: w, flusher: flusher}

	state := job.PublicState()
	if err := out.send(sseEventState, map[string]any{"id": job.ID, "state": state, "at": isoTime(h.now())}); err != nil {
		log.Debug("task stream write failed", "job_id", id, "error", err)
		return
	}
	if state.IsTerminal() {
		return
	}

	heartbeat := time.NewTicker(h.PingInterval)
	defer heartbeat.Stop()

	// closing fires once a terminal event was relayed; nil blocks forever.
	var closing <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case <-closing:
			return

		case <-heartbeat.C:
			if err := out.send(sseEventPing, map[string]any{"at": isoTime(h.now())}); err != nil {
				log.Debug("task stream write failed", "job_id", id, "error", err)
				return
			}

		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.JobID != id || !relayedEvents[ev.Name] {
				continue
			}

			payload := make(map[string]any, len(ev.Payload)+1)
			for k, v := range ev.Payload {
				payload[k] = v
			}
			payload["at"] = isoTime(h.now())

			if err := out.send(ev.Name, payload); err != nil {
				log.Debug("task stream write failed", "job_id", id, "error", err)
				return
			}

			if (ev.Name == task.EventCompleted || ev.Name == task.EventFailed) && closing == nil {
				timer := time.NewTimer(h.FlushWindow)
				defer timer.Stop()
				closing = timer.C
			}
		}
	}
}
