package fleet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetsim_ticks_total",
		Help: "Total number of node ticks simulated",
	})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetsim_tick_batch_duration_seconds",
		Help:    "Duration of one tick batch across the fleet, including persistence",
		Buckets: prometheus.DefBuckets,
	})

	stressTestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsim_stress_tests_total",
		Help: "Stress tests by outcome",
	}, []string{"outcome"})

	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsim_alerts_raised_total",
		Help: "Alerts raised by level",
	}, []string{"level"})

	persistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetsim_persist_failures_total",
		Help: "Failed writes to the snapshot sinks",
	}, []string{"sink"})

	nodeCPU = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetsim_node_cpu_usage_percent",
		Help: "Last simulated cpu usage per node",
	}, []string{"node"})

	nodeRAM = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetsim_node_ram_usage_percent",
		Help: "Last simulated ram usage per node",
	}, []string{"node"})

	nodeTemperature = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetsim_node_temperature_celsius",
		Help: "Last simulated temperature per node",
	}, []string{"node"})
)
