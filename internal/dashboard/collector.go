package dashboard

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vbcherepanov/claude-total-memory/internal/store"
)

// storeCollector reads counts from the store on every scrape instead of
// keeping counters in memory, so the dashboard reports whatever the daemon
// has written since the last scrape.
type storeCollector struct {
	store *store.Store

	knowledge    *prometheus.Desc
	relations    *prometheus.Desc
	observations *prometheus.Desc
	sessions     *prometheus.Desc
	health       *prometheus.Desc
	storage      *prometheus.Desc
}

func newStoreCollector(st *store.Store) *storeCollector {
	return &storeCollector{
		store: st,
		knowledge: prometheus.NewDesc("memoryd_knowledge_records",
			"Knowledge records by status.", []string{"status"}, nil),
		relations: prometheus.NewDesc("memoryd_relations_total",
			"Typed relations between records.", nil, nil),
		observations: prometheus.NewDesc("memoryd_observations_total",
			"Short-lived observations.", nil, nil),
		sessions: prometheus.NewDesc("memoryd_sessions_total",
			"Recorded sessions.", nil, nil),
		health: prometheus.NewDesc("memoryd_health_score",
			"Store health score between 0 and 1.", nil, nil),
		storage: prometheus.NewDesc("memoryd_storage_bytes",
			"Bytes on disk across database, vectors, and raw logs.", nil, nil),
	}
}

func (c *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.knowledge
	ch <- c.relations
	ch <- c.observations
	ch <- c.sessions
	ch <- c.health
	ch <- c.storage
}

func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := c.store.Stats(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.health, err)
		return
	}
	for status, n := range st.ByStatus {
		ch <- prometheus.MustNewConstMetric(c.knowledge, prometheus.GaugeValue, float64(n), status)
	}
	ch <- prometheus.MustNewConstMetric(c.relations, prometheus.GaugeValue, float64(st.Relations))
	ch <- prometheus.MustNewConstMetric(c.observations, prometheus.GaugeValue, float64(st.Observations))
	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(st.Sessions))
	ch <- prometheus.MustNewConstMetric(c.health, prometheus.GaugeValue, st.HealthScore)
	ch <- prometheus.MustNewConstMetric(c.storage, prometheus.GaugeValue, float64(st.StorageBytes))
}
