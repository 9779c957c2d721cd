// Package convergence verifies that a deployment's running instances have reached
// their desired per-region range, by polling the platform for snapshots.
package convergence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	ocodes "go.opentelemetry.io/otel/codes"
	otrace "go.opentelemetry.io/otel/trace"

	"github.com/nais/deploywatch/pkg/interrupt"
	"github.com/nais/deploywatch/pkg/metrics"
	"github.com/nais/deploywatch/pkg/scale"
	"github.com/nais/deploywatch/pkg/telemetry"
)

const (
	DefaultDeadline       = 3 * time.Minute
	DefaultPollInterval   = 5 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// SnapshotSource returns the running instance count of every region of a deployment
// in a single round trip.
type SnapshotSource interface {
	Snapshot(ctx context.Context, deploymentID string) (scale.Snapshot, error)
}

// Progress is reported once for every region that satisfies its constraint.
type Progress struct {
	Region  string
	Count   int
	Elapsed time.Duration
}

type Options struct {
	Deadline       time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration

	// InitialDeploy requires at least one running instance in every region,
	// even where the constraint allows zero.
	InitialDeploy bool

	// OnProgress is called from the polling goroutine and must return quickly.
	OnProgress func(Progress)
}

type Convergence struct {
	Count   int
	Elapsed time.Duration
	At      time.Time
}

type Result struct {
	Converged map[string]Convergence
	Cycles    int
}

// TimeoutError is returned when the deadline passes before every region has converged.
type TimeoutError struct {
	Deadline    time.Duration
	Unconverged []string
	LastErr     error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("regions did not reach desired scale within %s: %s", e.Deadline, strings.Join(e.Unconverged, ", "))
	if e.LastErr != nil {
		msg = fmt.Sprintf("%s; last error was: %s", msg, e.LastErr)
	}
	return msg
}

type Poller struct {
	Source SnapshotSource
}

func (o Options) withDefaults() Options {
	if o.Deadline <= 0 {
		o.Deadline = DefaultDeadline
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	return o
}

// Wait polls until every region in constraints satisfies its range, the deadline
// passes, or ctx is cancelled. Cancellation is honored between poll cycles and
// during the sleep; a snapshot request in flight is allowed to finish, and its
// result is thrown away.
func (p *Poller) Wait(ctx context.Context, deploymentID string, constraints scale.Constraints, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	ctx, span := telemetry.Tracer().Start(ctx, "Wait for scale convergence")
	defer span.End()
	span.SetAttributes(
		attribute.String(telemetry.AttributeDeploymentID, deploymentID),
		attribute.Int(telemetry.AttributeRegionCount, len(constraints)),
	)

	logger := log.WithField("deployment_id", deploymentID)

	pending := make(map[string]scale.Constraint, len(constraints))
	for region, c := range constraints {
		if opts.InitialDeploy {
			c = c.AtLeastOne()
		}
		pending[region] = c
	}

	result := &Result{
		Converged: make(map[string]Convergence, len(constraints)),
	}

	start := time.Now()
	var lastErr error

	for {
		if ctx.Err() != nil {
			span.SetStatus(ocodes.Error, "cancelled")
			metrics.WaitFinished(metrics.WaitScale, metrics.OutcomeCancelled)
			return result, interrupt.Cancelled(ctx)
		}

		if time.Since(start) >= opts.Deadline {
			err := &TimeoutError{
				Deadline:    opts.Deadline,
				Unconverged: sortedKeys(pending),
				LastErr:     lastErr,
			}
			span.SetStatus(ocodes.Error, err.Error())
			metrics.WaitFinished(metrics.WaitScale, metrics.OutcomeTimeout)
			return result, err
		}

		result.Cycles++
		metrics.PollCycles.Inc()

		snapshot, err := p.fetch(ctx, deploymentID, opts.RequestTimeout)

		if ctx.Err() != nil {
			span.SetStatus(ocodes.Error, "cancelled")
			metrics.WaitFinished(metrics.WaitScale, metrics.OutcomeCancelled)
			return result, interrupt.Cancelled(ctx)
		}

		if err != nil {
			lastErr = err
			metrics.SnapshotErrors.Inc()
			logger.Warnf("Unable to fetch instance counts (retrying in %s): %s", opts.PollInterval, err)
		} else {
			p.evaluate(span, snapshot, pending, result, start, opts.OnProgress, logger)
		}

		if len(pending) == 0 {
			metrics.WaitFinished(metrics.WaitScale, metrics.OutcomeSuccess)
			return result, nil
		}

		logger.WithField(telemetry.AttributePending, strings.Join(sortedKeys(pending), ",")).
			Debugf("Still waiting for %d region(s) to reach desired scale...", len(pending))

		// Never sleep past the deadline.
		interval := min(opts.PollInterval, max(opts.Deadline-time.Since(start), 0))

		if !sleep(ctx, interval) {
			span.SetStatus(ocodes.Error, "cancelled")
			metrics.WaitFinished(metrics.WaitScale, metrics.OutcomeCancelled)
			return result, interrupt.Cancelled(ctx)
		}
	}
}

// The request is detached from ctx so an abort never interrupts it mid-flight.
func (p *Poller) fetch(ctx context.Context, deploymentID string, timeout time.Duration) (scale.Snapshot, error) {
	requestContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	requestContext, span := telemetry.Tracer().Start(requestContext, "Fetch instance snapshot")
	defer span.End()

	snapshot, err := p.Source.Snapshot(requestContext, deploymentID)
	if err != nil {
		span.SetStatus(ocodes.Error, err.Error())
		return nil, err
	}
	return snapshot, nil
}

func (p *Poller) evaluate(span otrace.Span, snapshot scale.Snapshot, pending map[string]scale.Constraint, result *Result, start time.Time, onProgress func(Progress), logger *log.Entry) {
	for _, region := range snapshot.Regions() {
		c, ok := pending[region]
		if !ok {
			continue
		}

		count := snapshot[region]
		if !c.Satisfied(count) {
			logger.WithField("region", region).Debugf("Region has %d instance(s); want %s", count, c)
			continue
		}

		now := time.Now()
		elapsed := now.Sub(start)
		delete(pending, region)
		result.Converged[region] = Convergence{
			Count:   count,
			Elapsed: elapsed,
			At:      now,
		}
		metrics.RegionConverged(region, elapsed.Seconds())
		span.AddEvent("Region converged", otrace.WithAttributes(
			attribute.String(telemetry.AttributeRegion, region),
			attribute.Int(telemetry.AttributeInstances, count),
		))

		if onProgress != nil {
			onProgress(Progress{
				Region:  region,
				Count:   count,
				Elapsed: elapsed,
			})
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func sortedKeys(m map[string]scale.Constraint) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
