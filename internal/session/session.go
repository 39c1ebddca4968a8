// Package session remembers that a caller has already paid, keyed by an
// opaque cookie-borne session id. Session state lives in the coordination
// store so every gateway instance sees the same view.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/paygate/internal/coord"
)

// PerRequestID is the pseudo-session used when session tracking is disabled.
const PerRequestID = "per_request"

// Mode values accepted by Config.Mode.
const (
	ModeCookie     = "cookie"
	ModePerRequest = "per_request"
	ModeDisabled   = "disabled"
)

// Config configures a Manager.
type Config struct {
	Mode          string
	TTL           time.Duration
	CookieName    string
	Secure        bool
	SweepInterval time.Duration
}

// Manager issues session ids and tracks paid-until and payer per session.
type Manager struct {
	store  coord.Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	sweepOnce sync.Once
}

// NewManager creates a session manager backed by store.
func NewManager(store coord.Store, cfg Config, logger *slog.Logger) *Manager {
	if cfg.CookieName == "" {
		cfg.CookieName = "x402_session"
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "session"),
		now:    time.Now,
	}
}

// WithClock replaces the manager's time source. Intended for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Enabled reports whether sessions are tracked at all.
func (m *Manager) Enabled() bool {
	return m.cfg.TTL > 0 && m.cfg.Mode != ModePerRequest && m.cfg.Mode != ModeDisabled
}

// TTL returns how long a paid session stays paid.
func (m *Manager) TTL() time.Duration {
	return m.cfg.TTL
}

func paidKey(id string) string  { return "x402:session:" + id + ":paid" }
func payerKey(id string) string { return "x402:session:" + id + ":payer" }

// EnsureSessionID returns the caller's session id, issuing a fresh one as an
// http-only cookie when the request carries none.
func (m *Manager) EnsureSessionID(w http.ResponseWriter, r *http.Request) string {
	if !m.Enabled() {
		return PerRequestID
	}

	if c, err := r.Cookie(m.cfg.CookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(m.cfg.TTL / time.Second),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// paidUntil returns the stored paid-until time, evicting the session when it
// has lapsed. The zero time means unpaid.
func (m *Manager) paidUntil(ctx context.Context, id string) (time.Time, error) {
	raw, err := m.store.Get(ctx, paidKey(id))
	if errors.Is(err, coord.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		m.logger.Warn("discarding malformed session entry", "session_id", id, "value", raw)
		return time.Time{}, m.evict(ctx, id, raw)
	}

	until := time.UnixMilli(ms)
	if !until.After(m.now()) {
		return time.Time{}, m.evict(ctx, id, raw)
	}
	return until, nil
}

// evict removes a lapsed paid entry only if it still holds the value that
// was read. A MarkPaid from another instance in between wins, and its payer
// is kept with it.
func (m *Manager) evict(ctx context.Context, id, raw string) error {
	deleted, err := m.store.CompareAndDelete(ctx, paidKey(id), raw)
	if err != nil || !deleted {
		return err
	}
	return m.store.Delete(ctx, payerKey(id))
}

// IsPaid reports whether the session has an unexpired payment.
func (m *Manager) IsPaid(ctx context.Context, id string) (bool, error) {
	if !m.Enabled() {
		return false, nil
	}
	until, err := m.paidUntil(ctx, id)
	if err != nil {
		return false, fmt.Errorf("session: check paid: %w", err)
	}
	return !until.IsZero(), nil
}

// MarkPaid sets paidUntil to now+TTL and stretches a cached payer to match.
// Calling it again extends the window relative to the later call.
func (m *Manager) MarkPaid(ctx context.Context, id string) (time.Time, error) {
	if !m.Enabled() {
		return time.Time{}, nil
	}

	until := m.now().Add(m.cfg.TTL)
	if err := m.store.Set(ctx, paidKey(id), strconv.FormatInt(until.UnixMilli(), 10), m.cfg.TTL); err != nil {
		return time.Time{}, fmt.Errorf("session: mark paid: %w", err)
	}

	payer, err := m.store.Get(ctx, payerKey(id))
	switch {
	case errors.Is(err, coord.ErrNotFound):
	case err != nil:
		return until, fmt.Errorf("session: read payer: %w", err)
	default:
		if err := m.store.Set(ctx, payerKey(id), payer, m.cfg.TTL); err != nil {
			return until, fmt.Errorf("session: extend payer: %w", err)
		}
	}

	return until, nil
}

// SetPayer caches the payer address for the session. The entry expires with
// the paid window, or after one TTL when the session is not yet paid.
func (m *Manager) SetPayer(ctx context.Context, id, payer string) error {
	if !m.Enabled() || payer == "" {
		return nil
	}

	ttl := m.cfg.TTL
	until, err := m.paidUntil(ctx, id)
	if err != nil {
		return fmt.Errorf("session: set payer: %w", err)
	}
	if !until.IsZero() {
		ttl = until.Sub(m.now())
	}

	if err := m.store.Set(ctx, payerKey(id), payer, ttl); err != nil {
		return fmt.Errorf("session: set payer: %w", err)
	}
	return nil
}

// GetPayer returns the cached payer address, or "" when none is known.
func (m *Manager) GetPayer(ctx context.Context, id string) (string, error) {
	if !m.Enabled() {
		return "", nil
	}
	payer, err := m.store.Get(ctx, payerKey(id))
	if errors.Is(err, coord.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session: get payer: %w", err)
	}
	return payer, nil
}

// StartSweeper launches the periodic purge of expired entries. Only the first
// call per Manager starts a goroutine; it stops when ctx is cancelled. Stores
// without a Sweep method rely on native key expiry and get no goroutine.
func (m *Manager) StartSweeper(ctx context.Context) {
	m.sweepOnce.Do(func() {
		sweeper, ok := m.store.(coord.Sweeper)
		if !ok || !m.Enabled() {
			return
		}

		go func() {
			ticker := time.NewTicker(m.cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					purged, err := sweeper.Sweep(ctx)
					if err != nil {
						m.logger.Error("session sweep failed", "error", err)
						continue
					}
					if purged > 0 {
						m.logger.Debug("session sweep", "purged", purged)
					}
				}
			}
		}()
	})
}
