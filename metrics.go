package orgchart

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outboxDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orgchart",
		Subsystem: "outbox",
		Name:      "deliveries_total",
		Help:      "Outbox delivery attempts broken down by result.",
	}, []string{"result"})

	intentReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orgchart",
		Subsystem: "saga",
		Name:      "replays_total",
		Help:      "Intent replays broken down by kind and resulting status.",
	}, []string{"kind", "status"})

	roleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orgchart",
		Subsystem: "identity",
		Name:      "role_calls_total",
		Help:      "Identity role calls broken down by operation and result.",
	}, []string{"op", "result"})
)

func recordDelivery(o deliveryOutcome) {
	result := "sent"
	switch o {
	case outcomeDuplicate:
		result = "duplicate"
	case outcomeFailed:
		result = "failed"
	case outcomeDead:
		result = "dead"
	}
	outboxDeliveries.WithLabelValues(result).Inc()
}

func recordReplay(kind IntentKind, status IntentStatus) {
	intentReplays.WithLabelValues(string(kind), string(status)).Inc()
}

func recordRoleCall(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	roleCalls.WithLabelValues(op, result).Inc()
}
