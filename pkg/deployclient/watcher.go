package deployclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	ocodes "go.opentelemetry.io/otel/codes"

	"github.com/nais/deploywatch/pkg/buildevents"
	"github.com/nais/deploywatch/pkg/convergence"
	"github.com/nais/deploywatch/pkg/interrupt"
	"github.com/nais/deploywatch/pkg/logslink"
	"github.com/nais/deploywatch/pkg/metrics"
	"github.com/nais/deploywatch/pkg/scale"
	"github.com/nais/deploywatch/pkg/telemetry"
)

// Platform is the part of the remote deployment platform used by the watcher.
type Platform interface {
	convergence.SnapshotSource
	buildevents.Source
	SetScale(ctx context.Context, deploymentID string, constraints scale.Constraints) error
}

type Watcher struct {
	Platform Platform
	// Interrupts defaults to the process-wide registry.
	Interrupts *interrupt.Registry
	// Output receives build output. Defaults to standard output.
	Output io.Writer
	// SummaryPath is a file that a markdown summary is appended to, if set.
	SummaryPath string
	// CorrelationID is attached to the trace of the run.
	CorrelationID string
	// Signals abort the run. Defaults to interrupt.DefaultSignals.
	Signals []os.Signal

	summary Summary
}

// Run performs the wait selected by cfg.Mode. Operator interrupts are handled
// for the whole run, so an abort between two waits is reported like any other.
func (w *Watcher) Run(ctx context.Context, cfg *Config) error {
	ctx, span := telemetry.Tracer().Start(ctx, "Verify deployment")
	defer span.End()
	span.SetAttributes(telemetry.DeploymentAttributes(cfg.Deployment, w.CorrelationID)...)

	w.summary = Summary{
		Deployment: cfg.Deployment,
		TraceID:    telemetry.TraceID(ctx),
	}

	var err error
	waitCtx, handle, acquireErr := w.registry().Acquire(ctx, w.Signals...)
	if acquireErr != nil {
		err = ErrorWrap(ExitInternalError, acquireErr)
	} else {
		err = w.dispatch(waitCtx, cfg)
		if handle.Aborted() {
			log.Warnf("Aborted by operator. Nothing submitted to the platform has been rolled back.")
		}
		handle.Release()
	}

	if err != nil {
		span.SetStatus(ocodes.Error, err.Error())
		span.RecordError(err)
	}

	w.writeSummary(err)

	return err
}

func (w *Watcher) dispatch(ctx context.Context, cfg *Config) error {
	switch cfg.Mode {
	case ModeBuild:
		return w.waitForBuild(ctx, cfg)
	case ModeScale:
		if !cfg.VerifyOnly {
			err := w.submit(ctx, cfg)
			if err != nil {
				return err
			}
		}
		return w.verifyScale(ctx, cfg)
	case ModeDeploy:
		err := w.waitForBuild(ctx, cfg)
		if err != nil || len(cfg.Constraints) == 0 {
			return err
		}
		return w.verifyScale(ctx, cfg)
	default:
		return Errorf(ExitInvocationFailure, "unknown mode %q", cfg.Mode)
	}
}

// waitForBuild follows the build event stream until the build is ready or has failed.
func (w *Watcher) waitForBuild(ctx context.Context, cfg *Config) error {
	logger := log.WithField("deployment_id", cfg.Deployment)
	consumer := buildevents.Consumer{Source: w.Platform}
	opts := buildevents.Options{Follow: cfg.Follow}

	logger.Infof("Waiting for build to finish...")

	var err error
	for {
		_, err = consumer.Wait(ctx, cfg.Deployment, opts, w.printEvent(logger))

		var connectionError *buildevents.ConnectionError
		if !errors.As(err, &connectionError) || !cfg.Retry || !reconnectable(connectionError) {
			break
		}

		opts.Since = connectionError.LastPosition
		metrics.Reconnects.Inc()
		logger.Warnf("%s (reconnecting in %s...)", err, cfg.RetryInterval)

		if !sleep(ctx, cfg.RetryInterval) {
			err = interrupt.Cancelled(ctx)
			break
		}
	}

	return w.buildOutcome(cfg, err)
}

func (w *Watcher) submit(ctx context.Context, cfg *Config) error {
	ctx, span := telemetry.Tracer().Start(ctx, "Submit scale")
	defer span.End()

	for _, region := range cfg.Constraints.Regions() {
		log.WithField("region", region).Infof("Setting scale of %s to %s", region, cfg.Constraints[region])
	}

	err := retryTransient(ctx, cfg.RetryInterval, cfg.Retry, func() error {
		return w.Platform.SetScale(ctx, cfg.Deployment, cfg.Constraints)
	})
	if err == nil {
		log.Infof("Scale settings accepted by the platform.")
		return nil
	}

	span.SetStatus(ocodes.Error, err.Error())

	switch {
	case errors.Is(context.Cause(ctx), interrupt.ErrAborted):
		return Errorf(ExitCancelled, "scale submission aborted; the platform may already have applied the new settings")
	case ctx.Err() != nil:
		return Errorf(ExitTimeout, "scale request timed out: %w", ctx.Err())
	case transient(err):
		return Errorf(ExitUnavailable, "submit scale: %w", err)
	default:
		return Errorf(ExitScaleRejected, "submit scale: %w", err)
	}
}

// verifyScale polls the platform until every region satisfies its constraint.
func (w *Watcher) verifyScale(ctx context.Context, cfg *Config) error {
	logger := log.WithField("deployment_id", cfg.Deployment)
	logger.Infof("Waiting for %d region(s) to reach desired scale...", len(cfg.Constraints))

	poller := convergence.Poller{Source: w.Platform}
	result, err := poller.Wait(ctx, cfg.Deployment, cfg.Constraints, convergence.Options{
		Deadline:       cfg.ScaleTimeout,
		PollInterval:   cfg.PollInterval,
		RequestTimeout: cfg.RequestTimeout,
		InitialDeploy:  cfg.InitialDeploy,
		OnProgress: func(p convergence.Progress) {
			logger.WithField("region", p.Region).Infof("Region %s is running %d instance(s) [%s]", p.Region, p.Count, p.Elapsed.Truncate(time.Millisecond))
		},
	})

	if result != nil {
		for _, region := range cfg.Constraints.Regions() {
			if c, ok := result.Converged[region]; ok {
				w.summary.Regions = append(w.summary.Regions, RegionSummary{Name: region, Count: c.Count, Elapsed: c.Elapsed})
			}
		}
	}

	var timeout *convergence.TimeoutError
	var cancelled *interrupt.CancelledError

	switch {
	case err == nil:
		logger.Infof("All regions reached desired scale after %d poll cycle(s).", result.Cycles)
		return nil

	case errors.As(err, &timeout):
		w.summary.Unconverged = timeout.Unconverged
		logger.Warnf("The scale settings remain in effect; the platform may still converge later.")
		return ErrorWrap(ExitTimeout, err)

	case errors.As(err, &cancelled):
		if errors.Is(cancelled, context.DeadlineExceeded) {
			return Errorf(ExitTimeout, "scale verification timed out; the submitted scale settings remain in effect")
		}
		return Errorf(ExitCancelled, "scale verification aborted; the submitted scale settings for %s remain in effect", cfg.Deployment)

	default:
		return ErrorWrap(ExitInternalError, err)
	}
}

func (w *Watcher) buildOutcome(cfg *Config, err error) error {
	logger := log.WithField("deployment_id", cfg.Deployment)

	var buildFailed *buildevents.BuildFailedError
	var connectionError *buildevents.ConnectionError
	var cancelled *interrupt.CancelledError

	switch {
	case err == nil:
		w.summary.Build = string(buildevents.StateReady)
		logger.Infof("Build completed.")
		return nil

	case errors.As(err, &buildFailed):
		w.summary.Build = string(buildevents.StateError)
		at := time.Now()
		if buildFailed.Event != nil {
			at = buildFailed.Event.Timestamp
		}
		link := logslink.Make(cfg.LogsURL, cfg.LogsIndex, cfg.Deployment, at)
		w.summary.LogsURL = link
		if len(link) > 0 {
			return Errorf(ExitBuildFailed, "%w; see logs at %s", err, link)
		}
		return ErrorWrap(ExitBuildFailed, err)

	case errors.As(err, &cancelled):
		if errors.Is(cancelled, context.DeadlineExceeded) {
			return Errorf(ExitTimeout, "build did not finish within %s", cfg.Timeout)
		}
		return Errorf(ExitCancelled, "stopped waiting for build; deployment %s continues on the platform", cfg.Deployment)

	case errors.As(err, &connectionError):
		return ErrorWrap(ExitUnavailable, err)

	default:
		return ErrorWrap(ExitInternalError, err)
	}
}

func (w *Watcher) printEvent(logger *log.Entry) func(buildevents.Notification) {
	out := w.Output
	if out == nil {
		out = os.Stdout
	}

	return func(n buildevents.Notification) {
		switch n.Kind {
		case buildevents.NotifyOutput:
			if len(n.Text) == 0 {
				return
			}
			for _, line := range strings.Split(n.Text, "\n") {
				_, _ = fmt.Fprintf(out, "%s %s\n", n.Event.Timestamp.Local().Format(time.TimeOnly), line)
			}
		case buildevents.NotifyStateChanged:
			logger.Infof("Deployment state: %s", n.State)
		case buildevents.NotifyCompleted:
			logger.Infof("Deployment state: %s", n.State)
		case buildevents.NotifyFailed:
			logger.Errorf("Deployment state: %s", n.State)
		}
	}
}

func (w *Watcher) writeSummary(err error) {
	if len(w.SummaryPath) == 0 {
		return
	}

	w.summary.Finished = time.Now()
	w.summary.Outcome = outcome(err)

	if err := w.summary.Append(w.SummaryPath); err != nil {
		log.Warnf("Unable to write step summary: %s", err)
	}
}

func (w *Watcher) registry() *interrupt.Registry {
	if w.Interrupts == nil {
		return interrupt.Default
	}
	return w.Interrupts
}

func outcome(err error) string {
	switch ErrorExitCode(err) {
	case ExitSuccess:
		return "success"
	case ExitBuildFailed:
		return "build failed"
	case ExitTimeout:
		return "timeout"
	case ExitUnavailable:
		return "lost connection"
	case ExitCancelled:
		return "cancelled"
	case ExitScaleRejected:
		return "scale rejected"
	default:
		return "error"
	}
}

// reconnectable reports whether a lost event stream is worth reopening.
// Refusals to open it, such as an unknown deployment or a bad token, are final.
func reconnectable(err *buildevents.ConnectionError) bool {
	return errors.Is(err.Err, io.ErrUnexpectedEOF) || transient(err.Err)
}

func retryTransient(ctx context.Context, interval time.Duration, retry bool, fn func() error) error {
	for {
		err := fn()
		if retry && transient(err) && ctx.Err() == nil {
			log.Warnf("%s (retrying in %s...)", err, interval)
			if !sleep(ctx, interval) {
				return err
			}
			continue
		}
		return err
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
