package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "admission"

type Metrics struct {
	queueJoins     *prometheus.CounterVec
	admissions     *prometheus.CounterVec
	sessionsEnded  *prometheus.CounterVec
	limitEvictions prometheus.Counter
	loopErrors     *prometheus.CounterVec
	slotSignals    *prometheus.CounterVec
	tickDuration   *prometheus.HistogramVec
	waitingEntries *prometheus.GaugeVec
	occupiedSlots  *prometheus.GaugeVec
	runningLoops   prometheus.Gauge
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		queueJoins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_joins_total",
			Help:      "Join requests by outcome",
		}, []string{"result"}),
		admissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Queue entries promoted to processing",
		}, []string{"event_id", "slot_type"}),
		sessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Purchase sessions reaching a terminal status",
		}, []string{"status", "reason"}),
		limitEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limit_evictions_total",
			Help:      "Queue entries force-completed because the user hit every ticket limit",
		}),
		loopErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_errors_total",
			Help:      "Per-item failures inside background loops",
		}, []string{"loop"}),
		slotSignals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_signals_total",
			Help:      "Slot-freed nudges received",
		}, []string{"source"}),
		tickDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one admission tick",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"outcome"}),
		waitingEntries: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waiting_entries",
			Help:      "Waiting queue entries observed at the last tick",
		}, []string{"event_id"}),
		occupiedSlots: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "occupied_slots",
			Help:      "Active or processing entries observed at the last tick",
		}, []string{"event_id"}),
		runningLoops: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_event_loops",
			Help:      "Per-event admission loops running on this instance",
		}),
	}
}

func (m *Metrics) QueueJoin(result string) {
	m.queueJoins.WithLabelValues(result).Inc()
}

func (m *Metrics) Admitted(eventID, slotType string) {
	m.admissions.WithLabelValues(eventID, slotType).Inc()
}

func (m *Metrics) SessionEnded(status, reason string) {
	m.sessionsEnded.WithLabelValues(status, reason).Inc()
}

func (m *Metrics) LimitEviction() {
	m.limitEvictions.Inc()
}

func (m *Metrics) LoopError(loop string) {
	m.loopErrors.WithLabelValues(loop).Inc()
}

func (m *Metrics) SlotSignal(source string) {
	m.slotSignals.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveTick(outcome string, d time.Duration) {
	m.tickDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) QueueDepth(eventID string, waiting, occupied int) {
	m.waitingEntries.WithLabelValues(eventID).Set(float64(waiting))
	m.occupiedSlots.WithLabelValues(eventID).Set(float64(occupied))
}

func (m *Metrics) ForgetEvent(eventID string) {
	m.waitingEntries.DeleteLabelValues(eventID)
	m.occupiedSlots.DeleteLabelValues(eventID)
}

func (m *Metrics) SetRunningLoops(n int) {
	m.runningLoops.Set(float64(n))
}
