package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"agora/pkg/types"
)

const namespace = "agora"

// Metrics holds the debate engine's collectors. A nil *Metrics is valid
// and records nothing, so components can be built without a registry.
type Metrics struct {
	messages       *prometheus.CounterVec
	violations     prometheus.Counter
	terminations   prometheus.Counter
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	joins          prometheus.Counter
	proposals      *prometheus.CounterVec
	notices        *prometheus.CounterVec
	archived       prometheus.Counter
	deliveries     *prometheus.CounterVec
	dropped        *prometheus.CounterVec
}

// New registers every collector on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "messages appended to session logs by kind",
		}, []string{"kind"}),
		violations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "messages classified as prohibited",
		}),
		terminations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminations_total",
			Help:      "sessions ended by the moderator",
		}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "number of active sessions",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "sessions created by promotion",
		}),
		joins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participants_joined_total",
			Help:      "participants added to session rosters",
		}),
		proposals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_total",
			Help:      "proposal state transitions by resulting status",
		}, []string{"status"}),
		notices: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notices_total",
			Help:      "notices emitted by level",
		}, []string{"level"}),
		archived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_archived_total",
			Help:      "ended sessions moved to the archive",
		}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "frames written to live connections by envelope type",
		}, []string{"type"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "fan-out events dropped before delivery by envelope type",
		}, []string{"type"}),
	}
}

// MessageAppended counts one log entry; human messages have an empty kind
func (m *Metrics) MessageAppended(kind types.SynthesisKind) {
	if m == nil {
		return
	}
	label := string(kind)
	if label == "" {
		label = "human"
	}
	m.messages.WithLabelValues(label).Inc()
}

func (m *Metrics) Violation() {
	if m == nil {
		return
	}
	m.violations.Inc()
}

func (m *Metrics) Termination() {
	if m == nil {
		return
	}
	m.terminations.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// SessionRestored counts a session reloaded from storage as active
func (m *Metrics) SessionRestored() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) ParticipantJoined() {
	if m == nil {
		return
	}
	m.joins.Inc()
}

func (m *Metrics) Proposal(status types.ProposalStatus) {
	if m == nil {
		return
	}
	m.proposals.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) Notice(level types.NoticeLevel) {
	if m == nil {
		return
	}
	m.notices.WithLabelValues(string(level)).Inc()
}

func (m *Metrics) Archived() {
	if m == nil {
		return
	}
	m.archived.Inc()
}

// Delivered counts one frame written to a live connection
func (m *Metrics) Delivered(envelope string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(envelope).Inc()
}

// Dropped counts a fan-out event that never reached the hub loop
func (m *Metrics) Dropped(envelope string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(envelope).Inc()
}
