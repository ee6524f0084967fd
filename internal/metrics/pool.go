package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

type poolMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(*pgxpool.Stat) float64
}

type poolCollector struct {
	pool    *pgxpool.Pool
	metrics []poolMetric
}

// RegisterPoolMetrics registers collectors that report live pgxpool
// statistics on every scrape. Gauges describe the pool right now; counters
// accumulate over the life of the pool.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) {
	reg.MustRegister(newPoolCollector(pool))
}

func newPoolCollector(pool *pgxpool.Pool) *poolCollector {
	gauge := func(name, help string, value func(*pgxpool.Stat) float64) poolMetric {
		return poolMetric{desc: prometheus.NewDesc(name, help, nil, nil), valueType: prometheus.GaugeValue, value: value}
	}
	counter := func(name, help string, value func(*pgxpool.Stat) float64) poolMetric {
		return poolMetric{desc: prometheus.NewDesc(name, help, nil, nil), valueType: prometheus.CounterValue, value: value}
	}

	return &poolCollector{
		pool: pool,
		metrics: []poolMetric{
			gauge("marquee_db_pool_acquired", "Number of currently acquired database connections.",
				func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
			gauge("marquee_db_pool_idle", "Number of idle database connections in the pool.",
				func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
			gauge("marquee_db_pool_total", "Total number of database connections in the pool.",
				func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
			gauge("marquee_db_pool_max", "Maximum number of database connections allowed in the pool.",
				func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }),
			counter("marquee_db_pool_acquires_total", "Total number of successful connection acquires.",
				func(s *pgxpool.Stat) float64 { return float64(s.AcquireCount()) }),
			counter("marquee_db_pool_empty_acquires_total", "Total number of acquires that waited for a connection.",
				func(s *pgxpool.Stat) float64 { return float64(s.EmptyAcquireCount()) }),
			counter("marquee_db_pool_canceled_acquires_total", "Total number of acquires canceled by their context.",
				func(s *pgxpool.Stat) float64 { return float64(s.CanceledAcquireCount()) }),
			counter("marquee_db_pool_acquire_seconds_total", "Cumulative time spent acquiring connections.",
				func(s *pgxpool.Stat) float64 { return s.AcquireDuration().Seconds() }),
		},
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()

	for _, metric := range c.metrics {
		ch <- prometheus.MustNewConstMetric(metric.desc, metric.valueType, metric.value(stat))
	}
}
