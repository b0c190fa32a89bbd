package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/eapache/queue/v2"
	"github.com/teilomillet/hearth/errors"
	"github.com/teilomillet/hearth/server/metrics"
	"go.uber.org/zap"
)

// waiter is a request parked in the queue. ready is closed when a slot is
// handed to it.
type waiter struct {
	ready     chan struct{}
	granted   bool
	abandoned bool
}

// TurnQueue admits at most maxConcurrent requests at a time and parks up to
// maxPending more in FIFO order. Requests beyond that are rejected with
// queue_full. A parked request whose context ends leaves the queue.
type TurnQueue struct {
	mu            sync.Mutex
	waiting       *queue.Queue[*waiter]
	active        int64
	pending       int64
	maxConcurrent int64
	maxPending    int64

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// QueueConfig defines the queue limits.
type QueueConfig struct {
	MaxConcurrent int64
	MaxPending    int64
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// NewTurnQueue creates a queue with the given limits.
func NewTurnQueue(cfg QueueConfig) *TurnQueue {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &TurnQueue{
		waiting:       queue.New[*waiter](),
		maxConcurrent: cfg.MaxConcurrent,
		maxPending:    cfg.MaxPending,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}
}

// SetLimits applies new limits. Running requests are not interrupted; parked
// requests are admitted if the new concurrency allows it.
func (q *TurnQueue) SetLimits(maxConcurrent, maxPending int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxConcurrent = maxConcurrent
	q.maxPending = maxPending
	for q.active < q.maxConcurrent && q.grantNextLocked() {
		q.active++
	}
}

// Stats returns the number of running and parked requests.
func (q *TurnQueue) Stats() (active, pending int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active, q.pending
}

// Handler wraps next with admission control.
func (q *TurnQueue) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := errors.RequestIDFrom(r.Context())

		if err := q.acquire(r.Context()); err != nil {
			if err == errQueueFull {
				q.count("queue_full")
				q.mu.Lock()
				maxPending := q.maxPending
				q.mu.Unlock()
				errors.WriteError(w, errors.NewQueueFullError(requestID, maxPending))
				return
			}
			// The client went away while parked; there is nobody to answer.
			q.logger.Debug("request left the queue", zap.String("request_id", requestID), zap.Error(err))
			return
		}
		defer q.release()

		if q.metrics != nil {
			q.metrics.RequestDuration.WithLabelValues("queue_wait").Observe(time.Since(start).Seconds())
		}
		next.ServeHTTP(w, r)
	})
}

type queueError string

func (e queueError) Error() string { return string(e) }

const errQueueFull = queueError("queue is full")

func (q *TurnQueue) acquire(ctx context.Context) error {
	q.mu.Lock()
	if q.active < q.maxConcurrent && q.pending == 0 {
		q.active++
		q.mu.Unlock()
		return nil
	}
	if q.pending >= q.maxPending {
		q.mu.Unlock()
		return errQueueFull
	}

	w := &waiter{ready: make(chan struct{})}
	q.waiting.Add(w)
	q.pending++
	q.updateGaugeLocked()
	q.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		defer q.mu.Unlock()
		if w.granted {
			// The slot arrived as we gave up; pass it on.
			q.releaseLocked()
			return ctx.Err()
		}
		w.abandoned = true
		q.pending--
		q.updateGaugeLocked()
		return ctx.Err()
	}
}

func (q *TurnQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.releaseLocked()
}

// releaseLocked hands the caller's slot to the next parked request, or
// frees it.
func (q *TurnQueue) releaseLocked() {
	if q.active <= q.maxConcurrent && q.grantNextLocked() {
		return
	}
	q.active--
}

// grantNextLocked wakes the oldest live waiter. It reports false when
// nobody is waiting.
func (q *TurnQueue) grantNextLocked() bool {
	for q.waiting.Length() > 0 {
		w := q.waiting.Remove()
		if w.abandoned {
			continue
		}
		w.granted = true
		q.pending--
		q.updateGaugeLocked()
		close(w.ready)
		return true
	}
	return false
}

func (q *TurnQueue) updateGaugeLocked() {
	if q.metrics != nil {
		q.metrics.ActiveRequests.WithLabelValues("queued").Set(float64(q.pending))
	}
}

func (q *TurnQueue) count(errType string) {
	if q.metrics != nil {
		q.metrics.ErrorsTotal.WithLabelValues(errType).Inc()
	}
}

// Shutdown waits until no request is running or parked, or ctx ends.
func (q *TurnQueue) Shutdown(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		active, pending := q.Stats()
		if active == 0 && pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			q.count("queue_shutdown_timeout")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
