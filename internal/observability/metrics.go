package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RunMetrics collects the gauges of one run on a private registry so that a
// batch invocation can hand them to a node-exporter textfile collector.
type RunMetrics struct {
	registry *prometheus.Registry

	tablesLoaded      prometheus.Gauge
	tableLoadFailures prometheus.Gauge
	resultRows        prometheus.Gauge
	queryDuration     prometheus.Gauge
	runSuccess        prometheus.Gauge
	lastRunTimestamp  prometheus.Gauge
}

func NewRunMetrics(engine string) *RunMetrics {
	labels := prometheus.Labels{"engine": engine}
	m := &RunMetrics{
		registry: prometheus.NewRegistry(),
		tablesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sqlrun_tables_loaded",
			Help:        "Number of tables registered from the data folder.",
			ConstLabels: labels,
		}),
		tableLoadFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sqlrun_table_load_failures",
			Help:        "Number of data files that failed to load.",
			ConstLabels: labels,
		}),
		resultRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sqlrun_result_rows",
			Help:        "Number of rows returned by the query.",
			ConstLabels: labels,
		}),
		queryDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sqlrun_query_duration_seconds",
			Help:        "Wall time spent executing the query.",
			ConstLabels: labels,
		}),
		runSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sqlrun_run_success",
			Help:        "1 if the last run completed successfully, 0 otherwise.",
			ConstLabels: labels,
		}),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sqlrun_last_run_timestamp_seconds",
			Help:        "Unix time at which the last run finished.",
			ConstLabels: labels,
		}),
	}
	m.registry.MustRegister(
		m.tablesLoaded,
		m.tableLoadFailures,
		m.resultRows,
		m.queryDuration,
		m.runSuccess,
		m.lastRunTimestamp,
	)
	return m
}

func (m *RunMetrics) ObserveLoad(loaded, failed int) {
	m.tablesLoaded.Set(float64(loaded))
	m.tableLoadFailures.Set(float64(failed))
}

func (m *RunMetrics) ObserveQuery(rows int, elapsed time.Duration) {
	m.resultRows.Set(float64(rows))
	m.queryDuration.Set(elapsed.Seconds())
}

func (m *RunMetrics) Finish(success bool, at time.Time) {
	if success {
		m.runSuccess.Set(1)
	} else {
		m.runSuccess.Set(0)
	}
	m.lastRunTimestamp.Set(float64(at.Unix()))
}

func (m *RunMetrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %q: %w", path, err)
	}
	return nil
}
