// Package metrics holds the client's Prometheus collectors on a private
// registry served by the render bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	TransportRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market",
		Subsystem: "transport",
		Name:      "retries_total",
		Help:      "Outbound API calls retried, by reason.",
	}, []string{"reason"})

	SessionRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market",
		Subsystem: "session",
		Name:      "refresh_total",
		Help:      "Token refresh attempts, by result.",
	}, []string{"result"})

	Settlements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market",
		Name:      "settlements_total",
		Help:      "Settlements recorded in the ledger.",
	}, []string{"origin", "blocked"})

	MirrorSyncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market",
		Subsystem: "github",
		Name:      "repository_syncs_total",
		Help:      "Repository mirror syncs, by result.",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		TransportRetries, SessionRefreshes, Settlements, MirrorSyncs,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
