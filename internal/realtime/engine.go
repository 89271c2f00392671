package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/etmpass/notifications-service/pkg/db/models"
	"github.com/etmpass/notifications-service/pkg/enums"
	pkgerrors "github.com/etmpass/notifications-service/pkg/errors"
	"github.com/etmpass/notifications-service/pkg/logger"
	"github.com/etmpass/notifications-service/pkg/metrics"
)

const (
	DefaultRetryInterval = 5 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetention     = 24 * time.Hour
)

// Presence reports whether a user has at least one open session.
type Presence interface {
	IsOnline(userID int64) bool
}

// Transport pushes a payload to every session of a user and reports whether
// all of them acknowledged.
type Transport interface {
	SendToUser(ctx context.Context, userID int64, payload Payload) (bool, error)
}

// Store persists the notification record before delivery.
type Store interface {
	Create(ctx context.Context, n *models.Notification) error
}

type Options struct {
	RetryInterval time.Duration
	MaxRetries    int
	Retention     time.Duration
}

func (o Options) withDefaults() Options {
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	return o
}

type EngineParams struct {
	Presence  Presence
	Transport Transport
	Store     Store
	Logger    *logger.Logger
	Metrics   *metrics.DeliveryMetrics
	Options   Options
}

// Engine owns the pending-delivery table and drives the retry state machine:
// persisted -> delivered, or persisted -> retrying -> delivered | dropped.
type Engine struct {
	presence  Presence
	transport Transport
	store     Store
	logg      *logger.Logger
	metrics   *metrics.DeliveryMetrics
	opts      Options

	now       func() time.Time
	afterFunc afterFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[uuid.UUID]*PendingDelivery
	closed  bool
}

func NewEngine(p EngineParams) (*Engine, error) {
	if p.Presence == nil {
		return nil, errors.New("presence registry is required")
	}
	if p.Transport == nil {
		return nil, errors.New("push transport is required")
	}
	if p.Logger == nil {
		return nil, errors.New("logger is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		presence:  p.Presence,
		transport: p.Transport,
		store:     p.Store,
		logg:      p.Logger,
		metrics:   p.Metrics,
		opts:      p.Options.withDefaults(),
		now:       time.Now,
		afterFunc: realAfterFunc,
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[uuid.UUID]*PendingDelivery),
	}, nil
}

// Send persists n, pushes it when the user is online and otherwise queues it
// for retry. Failed pushes never surface to the caller; retries run in the
// background.
func (e *Engine) Send(ctx context.Context, n *models.Notification) error {
	if n == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification is required")
	}
	if n.UserID <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id must be positive")
	}

	n.Channel = enums.NotificationChannelRealtime
	if n.Type == "" {
		n.Type = enums.NotificationTypeInfo
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = e.now().UTC()
	}

	ctx = e.logg.WithNotificationID(e.logg.WithUserID(ctx, n.UserID), n.ID.String())

	if e.store != nil {
		if err := e.store.Create(ctx, n); err != nil {
			e.logg.Error(ctx, "failed to persist real-time notification", err)
		}
	}

	payload := payloadFrom(n)
	if e.presence.IsOnline(n.UserID) {
		if e.push(ctx, n.UserID, payload) {
			return nil
		}
	} else {
		e.logg.Info(ctx, fmt.Sprintf("user %d is offline, queuing notification", n.UserID))
	}

	e.enqueue(ctx, n.UserID, payload)
	return nil
}

func (e *Engine) push(ctx context.Context, userID int64, payload Payload) bool {
	delivered, err := e.transport.SendToUser(ctx, userID, payload)
	if err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "real-time push failed")
		delivered = false
	}
	e.metrics.IncPush(delivered)
	return delivered
}

func (e *Engine) enqueue(ctx context.Context, userID int64, payload Payload) {
	if e.opts.MaxRetries == 0 {
		e.metrics.IncDropped()
		e.logg.Warn(ctx, fmt.Sprintf("retries disabled, dropping notification %s to user %d", payload.ID, userID))
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if prev, ok := e.pending[payload.ID]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	entry := &PendingDelivery{
		NotificationID: payload.ID,
		UserID:         userID,
		Payload:        payload,
		CreatedAt:      e.now(),
	}
	e.pending[payload.ID] = entry
	e.arm(entry)
	count := len(e.pending)
	e.mu.Unlock()

	e.metrics.IncRetry()
	e.metrics.SetPending(count)
}

// arm schedules the next attempt for entry. Callers hold e.mu.
func (e *Engine) arm(entry *PendingDelivery) {
	id := entry.NotificationID
	entry.timer = e.afterFunc(e.opts.RetryInterval, func() { e.retry(id) })
}

func (e *Engine) retry(id uuid.UUID) {
	e.mu.Lock()
	entry, ok := e.pending[id]
	if !ok || e.closed {
		e.mu.Unlock()
		return
	}
	entry.timer = nil
	attempt := entry.Retries + 1
	e.mu.Unlock()

	ctx := e.logg.WithFields(e.ctx, map[string]any{
		"user_id":         entry.UserID,
		"notification_id": id.String(),
		"attempt":         attempt,
	})

	delivered := false
	if e.presence.IsOnline(entry.UserID) {
		delivered = e.push(ctx, entry.UserID, entry.Payload)
	}

	e.mu.Lock()
	if current, ok := e.pending[id]; !ok || current != entry || e.closed {
		e.mu.Unlock()
		return
	}
	if delivered {
		delete(e.pending, id)
		count := len(e.pending)
		e.mu.Unlock()
		e.metrics.SetPending(count)
		e.logg.Info(ctx, "pending notification delivered")
		return
	}

	entry.Retries = attempt
	if entry.Retries >= e.opts.MaxRetries {
		delete(e.pending, id)
		count := len(e.pending)
		e.mu.Unlock()
		e.metrics.IncDropped()
		e.metrics.SetPending(count)
		e.logg.Warn(ctx, fmt.Sprintf("max retries reached for notification %s to user %d", id, entry.UserID))
		return
	}
	e.arm(entry)
	e.mu.Unlock()
	e.metrics.IncRetry()
}

// Sweep evicts pending deliveries created before now minus the retention
// window and cancels their timers. It returns the number evicted.
func (e *Engine) Sweep(now time.Time) int {
	cutoff := now.Add(-e.opts.Retention)

	e.mu.Lock()
	evicted := 0
	for id, entry := range e.pending {
		if !entry.CreatedAt.Before(cutoff) {
			continue
		}
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(e.pending, id)
		evicted++
	}
	count := len(e.pending)
	e.mu.Unlock()

	e.metrics.AddEvicted(evicted)
	e.metrics.SetPending(count)
	if evicted > 0 {
		e.logg.Info(e.logg.WithField(e.ctx, "evicted", evicted), "evicted stale pending notifications")
	}
	return evicted
}

// Pending returns a snapshot of the pending deliveries.
func (e *Engine) Pending() []PendingDelivery {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]PendingDelivery, 0, len(e.pending))
	for _, entry := range e.pending {
		snapshot := *entry
		snapshot.timer = nil
		out = append(out, snapshot)
	}
	return out
}

// Close stops every outstanding retry timer. Sends after Close persist and
// attempt once but never queue.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	for id, entry := range e.pending {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(e.pending, id)
	}
	e.mu.Unlock()
	e.cancel()
	e.metrics.SetPending(0)
}
