package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	namespace = "deploywatch"

	labelKind    = "kind"
	labelOutcome = "outcome"
	labelRegion  = "region"
	labelWait    = "wait"

	WaitBuild = "build"
	WaitScale = "scale"

	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// Registry holds every metric reported by this process. It is private to
// the client so that pushing it does not leak Go runtime collectors.
var Registry = prometheus.NewRegistry()

func counter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name:      name,
		Help:      help,
		Namespace: namespace,
		Subsystem: subsystem,
	})
}

var (
	PollCycles     = counter("convergence", "poll_cycles", "number of snapshot poll cycles")
	SnapshotErrors = counter("convergence", "snapshot_errors", "number of snapshot fetches that failed")
	Reconnects     = counter("buildevents", "reconnects", "number of times the event stream was re-opened")

	regionConvergence = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "region_seconds",
		Help:      "time from start of verification until a region satisfied its constraint",
		Namespace: namespace,
		Subsystem: "convergence",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
	},
		[]string{
			labelRegion,
		},
	)

	buildEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "events",
		Help:      "number of build events consumed",
		Namespace: namespace,
		Subsystem: "buildevents",
	},
		[]string{
			labelKind,
		},
	)

	waits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "waits",
		Help:      "number of finished waits",
		Namespace: namespace,
	},
		[]string{
			labelWait,
			labelOutcome,
		},
	)
)

func RegionConverged(region string, seconds float64) {
	regionConvergence.With(prometheus.Labels{labelRegion: region}).Observe(seconds)
}

func BuildEvent(kind string) {
	buildEvents.With(prometheus.Labels{labelKind: kind}).Inc()
}

func WaitFinished(wait, outcome string) {
	waits.With(prometheus.Labels{labelWait: wait, labelOutcome: outcome}).Inc()
}

// Push sends all collected metrics to a Prometheus Pushgateway.
func Push(ctx context.Context, url, job string) error {
	return push.New(url, job).Gatherer(Registry).PushContext(ctx)
}

func init() {
	Registry.MustRegister(PollCycles)
	Registry.MustRegister(SnapshotErrors)
	Registry.MustRegister(Reconnects)
	Registry.MustRegister(regionConvergence)
	Registry.MustRegister(buildEvents)
	Registry.MustRegister(waits)
}
