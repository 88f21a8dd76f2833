package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	rewrites       prometheus.Counter
	stateUpdates   prometheus.Counter
	payloadLookups *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		rewrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_query_rewrites_total",
			Help: "Follow-up queries rewritten with the active entity.",
		}),
		stateUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_state_updates_total",
			Help: "Session state refreshes from backend responses.",
		}),
		payloadLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_payload_lookups_total",
			Help: "Point payload resolutions by outcome.",
		}, []string{"result"}),
	}
}
