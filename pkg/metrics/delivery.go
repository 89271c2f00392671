package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "notifications"

// DeliveryMetrics tracks dispatch, real-time push, queue and gateway activity.
// A zero value (or nil pointer) records nothing.
type DeliveryMetrics struct {
	dispatched  *prometheus.CounterVec
	pushes      *prometheus.CounterVec
	retries     prometheus.Counter
	dropped     prometheus.Counter
	evicted     prometheus.Counter
	pending     prometheus.Gauge
	online      prometheus.Gauge
	connections *prometheus.CounterVec
	consumed    *prometheus.CounterVec
}

// NewDeliveryMetrics registers the delivery metrics on the provided registerer.
func NewDeliveryMetrics(reg prometheus.Registerer) *DeliveryMetrics {
	if reg == nil {
		return &DeliveryMetrics{}
	}
	m := &DeliveryMetrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatched_total",
			Help:      "Notifications dispatched per channel and outcome.",
		}, []string{"channel", "outcome"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_push_attempts_total",
			Help:      "Real-time push attempts by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_retries_scheduled_total",
			Help:      "Real-time retries scheduled.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_dropped_total",
			Help:      "Real-time deliveries dropped after exhausting retries.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_evicted_total",
			Help:      "Pending deliveries evicted by the sweep.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_pending",
			Help:      "Pending real-time deliveries held in memory.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users with at least one open session.",
		}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_connections_total",
			Help:      "Gateway connection attempts by result.",
		}, []string{"result"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_total",
			Help:      "Queue messages handled by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.dispatched, m.pushes, m.retries, m.dropped, m.evicted, m.pending, m.online, m.connections, m.consumed)
	return m
}

func (m *DeliveryMetrics) IncDispatched(channel string, ok bool) {
	if m == nil || m.dispatched == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.dispatched.WithLabelValues(normalizeLabel(channel), outcome).Inc()
}

func (m *DeliveryMetrics) IncPush(delivered bool) {
	if m == nil || m.pushes == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "undelivered"
	}
	m.pushes.WithLabelValues(result).Inc()
}

func (m *DeliveryMetrics) IncRetry() {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Inc()
}

func (m *DeliveryMetrics) IncDropped() {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.Inc()
}

func (m *DeliveryMetrics) AddEvicted(n int) {
	if m == nil || m.evicted == nil || n <= 0 {
		return
	}
	m.evicted.Add(float64(n))
}

func (m *DeliveryMetrics) SetPending(n int) {
	if m == nil || m.pending == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *DeliveryMetrics) SetOnline(n int) {
	if m == nil || m.online == nil {
		return
	}
	m.online.Set(float64(n))
}

func (m *DeliveryMetrics) IncConnection(result string) {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *DeliveryMetrics) IncConsumed(outcome string) {
	if m == nil || m.consumed == nil {
		return
	}
	m.consumed.WithLabelValues(normalizeLabel(outcome)).Inc()
}
