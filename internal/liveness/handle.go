package liveness

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goodtune/classlog/internal/metrics"
	"github.com/rs/zerolog"
)

// RotationHandle owns the rotating token of one active session. Rotation runs
// on its own goroutine and is independent of any client connection.
type RotationHandle struct {
	sessionID    string
	interval     time.Duration
	writeTimeout time.Duration
	clock        clock.Clock
	writer       watermarkWriter
	logger       zerolog.Logger

	mu     sync.RWMutex
	token  Token
	nextAt time.Time

	timer *clock.Timer

	// pending holds at most one watermark; a newer tick replaces an unwritten one
	pending chan time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type watermarkWriter interface {
	SetLastRenewedAt(ctx context.Context, id string, renewedAt time.Time) error
}

func newRotationHandle(sessionID string, cfg Config, writer watermarkWriter, logger zerolog.Logger) *RotationHandle {
	return &RotationHandle{
		sessionID:    sessionID,
		interval:     cfg.RotationInterval,
		writeTimeout: cfg.WriteTimeout,
		clock:        cfg.Clock,
		writer:       writer,
		logger:       logger.With().Str("session_id", sessionID).Logger(),
		pending:      make(chan time.Time, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// start performs the first tick synchronously, then hands rotation and
// watermark persistence to their goroutines.
func (h *RotationHandle) start() {
	h.timer = h.clock.Timer(h.interval)
	h.tick()

	h.wg.Add(2)
	go h.rotate()
	go h.persist()

	h.logger.Info().Dur("interval", h.interval).Msg("Rotation started")
}

// SessionID returns the session this handle rotates.
func (h *RotationHandle) SessionID() string {
	return h.sessionID
}

// Token returns the current token.
func (h *RotationHandle) Token() Token {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// Payload returns the current token in wire form.
func (h *RotationHandle) Payload() string {
	return h.Token().Payload()
}

// NextRotation returns when the current token is due to be replaced.
func (h *RotationHandle) NextRotation() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.nextAt
}

// ExpiresIn returns the time left until the next rotation, never negative.
func (h *RotationHandle) ExpiresIn() time.Duration {
	remaining := h.NextRotation().Sub(h.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Done is closed once rotation has stopped and the last watermark write has
// completed.
func (h *RotationHandle) Done() <-chan struct{} {
	return h.done
}

// Stop cancels rotation. It is safe to call more than once and returns after
// the final watermark write.
func (h *RotationHandle) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.wg.Wait()
		close(h.done)
		h.logger.Info().Msg("Rotation stopped")
	})
}

func (h *RotationHandle) rotate() {
	defer h.wg.Done()
	defer h.timer.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-h.timer.C:
			// Re-arm before ticking so the countdown restarts from this tick
			h.timer.Reset(h.interval)
			h.tick()
		}
	}
}

func (h *RotationHandle) tick() {
	now := h.clock.Now()
	token := Token{SessionID: h.sessionID, IssuedAt: now.UnixMilli()}

	h.mu.Lock()
	h.token = token
	h.nextAt = now.Add(h.interval)
	h.mu.Unlock()

	metrics.RotationsTotal.Inc()

	h.logger.Debug().Int64("issued_at", token.IssuedAt).Msg("Token rotated")

	h.enqueue(now)
}

// enqueue offers a watermark to the writer, replacing any value it has not
// picked up yet. Only the rotation goroutine calls it.
func (h *RotationHandle) enqueue(renewedAt time.Time) {
	for {
		select {
		case h.pending <- renewedAt:
			return
		default:
		}

		select {
		case <-h.pending:
		default:
		}
	}
}

func (h *RotationHandle) persist() {
	defer h.wg.Done()

	for {
		select {
		case renewedAt := <-h.pending:
			h.write(renewedAt)
		case <-h.stop:
			select {
			case renewedAt := <-h.pending:
				h.write(renewedAt)
			default:
			}
			return
		}
	}
}

// write is best effort: a failed write leaves the previous watermark in place
// until the next tick succeeds.
func (h *RotationHandle) write(renewedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
	defer cancel()

	if err := h.writer.SetLastRenewedAt(ctx, h.sessionID, renewedAt); err != nil {
		metrics.RotationWriteFailures.Inc()
		h.logger.Error().Err(err).Time("renewed_at", renewedAt).Msg("Failed to persist rotation watermark")
	}
}
