package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ftwbench"

// Metrics counts what a run saw and produced. Exported through a textfile
// once the command finishes.
type Metrics struct {
	registry       *prometheus.Registry
	WBLinesTotal   prometheus.Counter
	ExchangesTotal prometheus.Counter
	CommitsTotal   *prometheus.CounterVec
	SkippedTotal   *prometheus.CounterVec
	VerdictsTotal  *prometheus.CounterVec
	TestCases      prometheus.Gauge
	RunDuration    prometheus.Gauge
}

func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		WBLinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wb_lines_total",
			Help:      "Lines read from wb output",
		}),
		ExchangesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Request/response frame pairs extracted from wb output",
		}),
		CommitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Windows committed to the result store by stream",
		}, []string{"stream"}),
		SkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_windows_total",
			Help:      "Windows that matched no test case by stream",
		}, []string{"stream"}),
		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Evaluated test cases by result",
		}, []string{"result"}),
		TestCases: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "test_cases",
			Help:      "Test cases in the catalog",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last wb run",
		}),
	}
	r.MustRegister(m.WBLinesTotal, m.ExchangesTotal, m.CommitsTotal, m.SkippedTotal, m.VerdictsTotal, m.TestCases, m.RunDuration)
	return m
}

// WriteFile writes the metrics in the Prometheus text format (node_exporter
// textfile collector layout)
func (m *Metrics) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
