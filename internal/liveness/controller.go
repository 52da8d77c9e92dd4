package liveness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goodtune/classlog/internal/metrics"
	"github.com/goodtune/classlog/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultRotationInterval is how often a session's token is replaced
	DefaultRotationInterval = 10 * time.Second

	// DefaultGracePeriod is subtracted from the watermark when checking
	// freshness, absorbing render and network delay
	DefaultGracePeriod = 1000 * time.Millisecond

	// DefaultWriteTimeout bounds a single watermark write
	DefaultWriteTimeout = 5 * time.Second
)

// ErrSessionInactive is returned when rotation is requested for a session
// that has already been stopped.
var ErrSessionInactive = errors.New("liveness: session is not active")

// Reason explains why a scan was rejected.
type Reason string

const (
	ReasonUnknownSession   Reason = "UNKNOWN_SESSION"
	ReasonSessionInactive  Reason = "SESSION_INACTIVE"
	ReasonExpired          Reason = "EXPIRED"
	ReasonMalformedPayload Reason = "MALFORMED_PAYLOAD"
)

// ScanResult is the outcome of a freshness check. Session is set whenever the
// session was found.
type ScanResult struct {
	Accepted bool
	Reason   Reason
	Session  *storage.Session
}

// Sessions is the slice of storage.SessionStore the controller needs.
type Sessions interface {
	GetSession(ctx context.Context, id string) (*storage.Session, error)
	SetLastRenewedAt(ctx context.Context, id string, renewedAt time.Time) error
	Deactivate(ctx context.Context, id string) error
	ListActiveSessions(ctx context.Context) ([]storage.Session, error)
}

// Config holds controller configuration
type Config struct {
	RotationInterval time.Duration
	GracePeriod      time.Duration
	WriteTimeout     time.Duration
	Clock            clock.Clock
}

// Controller manages rotation handles for active sessions and validates
// scanned tokens against the persisted watermark.
type Controller struct {
	sessions Sessions
	cfg      Config
	logger   zerolog.Logger

	mu      sync.Mutex
	handles map[string]*RotationHandle
	// stopped holds sessions this process has ended. They never restart,
	// even while their deactivation is still in flight.
	stopped map[string]struct{}
}

// New creates a new liveness controller
func New(sessions Sessions, cfg Config, logger zerolog.Logger) *Controller {
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = DefaultRotationInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Controller{
		sessions: sessions,
		cfg:      cfg,
		logger:   logger.With().Str("component", "liveness").Logger(),
		handles:  make(map[string]*RotationHandle),
		stopped:  make(map[string]struct{}),
	}
}

// Clock returns the clock driving rotation.
func (c *Controller) Clock() clock.Clock {
	return c.cfg.Clock
}

// RotationInterval returns the configured rotation period.
func (c *Controller) RotationInterval() time.Duration {
	return c.cfg.RotationInterval
}

// StartSession begins rotating tokens for a session. The first token is
// available as soon as this returns. A session that is already rotating
// keeps its existing handle.
func (c *Controller) StartSession(ctx context.Context, sessionID string) (*RotationHandle, error) {
	h, stopped := c.lookup(sessionID)
	if stopped {
		return nil, ErrSessionInactive
	}
	if h != nil {
		return h, nil
	}

	session, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if !session.Active {
		return nil, ErrSessionInactive
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A stop may have begun while the session was loading.
	if _, ok := c.stopped[sessionID]; ok {
		return nil, ErrSessionInactive
	}
	if existing, ok := c.handles[sessionID]; ok {
		return existing, nil
	}

	h = newRotationHandle(sessionID, c.cfg, c.sessions, c.logger)
	h.start()

	c.handles[sessionID] = h
	metrics.ActiveSessions.Set(float64(len(c.handles)))

	return h, nil
}

// Handle returns the running handle for a session, or nil.
func (c *Controller) Handle(sessionID string) *RotationHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[sessionID]
}

// StopSession stops rotation and marks the session inactive. Stopping a
// stopped handle only repeats the deactivation. Once called, StartSession
// refuses the session for the life of the controller.
func (c *Controller) StopSession(ctx context.Context, h *RotationHandle) error {
	if other := c.retire(h.SessionID()); other != nil && other != h {
		other.Stop()
	}
	h.Stop()

	if err := c.sessions.Deactivate(ctx, h.SessionID()); err != nil {
		return fmt.Errorf("failed to deactivate session %s: %w", h.SessionID(), err)
	}

	c.logger.Info().Str("session_id", h.SessionID()).Msg("Session stopped")
	return nil
}

// EndSession stops a session by id, whether or not this process is rotating it.
func (c *Controller) EndSession(ctx context.Context, sessionID string) error {
	if h := c.retire(sessionID); h != nil {
		h.Stop()
	}

	if err := c.sessions.Deactivate(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to deactivate session %s: %w", sessionID, err)
	}

	c.logger.Info().Str("session_id", sessionID).Msg("Session stopped")
	return nil
}

// Resume restarts rotation for every session the store still reports as
// active and returns how many were started.
func (c *Controller) Resume(ctx context.Context) (int, error) {
	sessions, err := c.sessions.ListActiveSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active sessions: %w", err)
	}

	started := 0
	for _, session := range sessions {
		if _, err := c.StartSession(ctx, session.ID); err != nil {
			c.logger.Error().Err(err).Str("session_id", session.ID).Msg("Failed to resume rotation")
			continue
		}
		started++
	}

	c.logger.Info().Int("sessions", started).Msg("Resumed rotation for active sessions")
	return started, nil
}

// Shutdown stops every handle without deactivating the sessions, so a
// restarted process can resume them.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	handles := make([]*RotationHandle, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	c.handles = make(map[string]*RotationHandle)
	metrics.ActiveSessions.Set(0)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *RotationHandle) {
			defer wg.Done()
			h.Stop()
		}(h)
	}
	wg.Wait()
}

func (c *Controller) lookup(sessionID string) (*RotationHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, stopped := c.stopped[sessionID]
	return c.handles[sessionID], stopped
}

// retire marks a session stopped and unregisters its handle, which it
// returns for the caller to stop.
func (c *Controller) retire(sessionID string) *RotationHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped[sessionID] = struct{}{}

	h, ok := c.handles[sessionID]
	if !ok {
		return nil
	}
	delete(c.handles, sessionID)
	metrics.ActiveSessions.Set(float64(len(c.handles)))
	return h
}

// ValidateScan checks a presented token timestamp against the session's
// watermark. Only store failures are returned as errors.
func (c *Controller) ValidateScan(ctx context.Context, sessionID string, presentedMs int64) (ScanResult, error) {
	session, err := c.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return ScanResult{Reason: ReasonUnknownSession}, nil
	}
	if err != nil {
		return ScanResult{}, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	if !session.Active {
		return ScanResult{Reason: ReasonSessionInactive, Session: session}, nil
	}

	floor := session.WatermarkMillis() - c.cfg.GracePeriod.Milliseconds()
	if presentedMs < floor {
		c.logger.Debug().
			Str("session_id", sessionID).
			Int64("presented", presentedMs).
			Int64("watermark", session.WatermarkMillis()).
			Msg("Rejected stale token")
		return ScanResult{Reason: ReasonExpired, Session: session}, nil
	}

	return ScanResult{Accepted: true, Session: session}, nil
}

// ValidatePayload parses a scanned payload and validates it.
func (c *Controller) ValidatePayload(ctx context.Context, payload string) (ScanResult, error) {
	token, err := ParsePayload(payload)
	if err != nil {
		return ScanResult{Reason: ReasonMalformedPayload}, nil
	}
	return c.ValidateScan(ctx, token.SessionID, token.IssuedAt)
}
