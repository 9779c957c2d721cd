// Package buildevents follows a deployment's build event sequence until the
// build reaches a terminal state.
package buildevents

import (
	"context"
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	ocodes "go.opentelemetry.io/otel/codes"

	"github.com/nais/deploywatch/pkg/interrupt"
	"github.com/nais/deploywatch/pkg/metrics"
	"github.com/nais/deploywatch/pkg/telemetry"
)

// Stream is a forward-only, possibly endless sequence of build events.
// Recv blocks until the next event is available.
type Stream interface {
	Recv() (*Event, error)
	Close() error
}

type Options struct {
	// Follow keeps the stream open and waits for new events.
	Follow bool
	// Since skips all events at or before this position.
	Since int64
}

type Source interface {
	Events(ctx context.Context, deploymentID string, opts Options) (Stream, error)
}

type NotificationKind int

const (
	NotifyOutput NotificationKind = iota
	NotifyStateChanged
	NotifyCompleted
	NotifyFailed
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyOutput:
		return "output"
	case NotifyStateChanged:
		return "state-changed"
	case NotifyCompleted:
		return "completed"
	case NotifyFailed:
		return "failed"
	default:
		return fmt.Sprintf("NotificationKind(%d)", int(k))
	}
}

// Notification is handed to the caller for every consumed event.
type Notification struct {
	Kind  NotificationKind
	Event *Event
	Text  string
	State State
}

// BuildFailedError means the build itself reached the ERROR state.
type BuildFailedError struct {
	DeploymentID string
	Event        *Event
}

func (e *BuildFailedError) Error() string {
	if len(e.DeploymentID) == 0 {
		return "build failed"
	}
	return fmt.Sprintf("build of deployment %s failed", e.DeploymentID)
}

// ConnectionError means the event sequence ended before a terminal state was seen.
type ConnectionError struct {
	// LastPosition is the position of the last event that was consumed.
	LastPosition int64
	Err          error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("lost connection to build event stream: %s", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Consume reads events in order and hands them to onEvent until a terminal state is observed.
//
// READY returns StateReady and a nil error. ERROR returns a *BuildFailedError.
// A stream that fails or ends before either returns a *ConnectionError.
// If ctx is cancelled, the pending event is discarded and a *interrupt.CancelledError is returned.
func Consume(ctx context.Context, stream Stream, since int64, onEvent func(Notification)) (State, error) {
	state := StateInitializing
	last := since

	notify := func(n Notification) {
		if onEvent != nil {
			onEvent(n)
		}
	}

	for {
		if ctx.Err() != nil {
			return state, interrupt.Cancelled(ctx)
		}

		event, err := stream.Recv()

		if ctx.Err() != nil {
			return state, interrupt.Cancelled(ctx)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return state, &ConnectionError{LastPosition: last, Err: err}
		}

		if event.Position <= last && last > 0 {
			log.Tracef("Skipping already consumed event at position %d", event.Position)
			continue
		}
		last = event.Position
		metrics.BuildEvent(string(event.Kind))

		switch {
		case event.IsText():
			notify(Notification{
				Kind:  NotifyOutput,
				Event: event,
				Text:  trimNewline(event.Payload.Text),
				State: state,
			})

		case event.Kind == KindStateChange:
			state = state.Advance(event.Payload.Value)
			switch state {
			case StateReady:
				notify(Notification{Kind: NotifyCompleted, Event: event, State: state})
				return state, nil
			case StateError:
				notify(Notification{Kind: NotifyFailed, Event: event, State: state})
				return state, &BuildFailedError{Event: event}
			default:
				notify(Notification{Kind: NotifyStateChanged, Event: event, State: state})
			}

		default:
			log.Debugf("Ignoring build event of unknown kind %q", event.Kind)
		}
	}
}

type Consumer struct {
	Source Source
}

// Wait opens the event sequence of a deployment and consumes it. The stream is
// closed on every exit path.
func (c *Consumer) Wait(ctx context.Context, deploymentID string, opts Options, onEvent func(Notification)) (State, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "Wait for build to finish")
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttributeDeploymentID, deploymentID))

	stream, err := c.Source.Events(ctx, deploymentID, opts)
	if err != nil {
		if ctx.Err() != nil {
			metrics.WaitFinished(metrics.WaitBuild, metrics.OutcomeCancelled)
			return StateInitializing, interrupt.Cancelled(ctx)
		}
		span.SetStatus(ocodes.Error, err.Error())
		metrics.WaitFinished(metrics.WaitBuild, metrics.OutcomeError)
		return StateInitializing, &ConnectionError{LastPosition: opts.Since, Err: err}
	}

	defer func() {
		err := stream.Close()
		if err != nil {
			log.Debugf("close build event stream: %s", err)
		}
	}()

	state, err := Consume(ctx, stream, opts.Since, onEvent)

	var buildFailed *BuildFailedError
	var cancelled *interrupt.CancelledError
	switch {
	case err == nil:
		metrics.WaitFinished(metrics.WaitBuild, metrics.OutcomeSuccess)
	case errors.As(err, &buildFailed):
		buildFailed.DeploymentID = deploymentID
		span.SetStatus(ocodes.Error, err.Error())
		metrics.WaitFinished(metrics.WaitBuild, metrics.OutcomeFailed)
	case errors.As(err, &cancelled):
		metrics.WaitFinished(metrics.WaitBuild, metrics.OutcomeCancelled)
	default:
		span.SetStatus(ocodes.Error, err.Error())
		metrics.WaitFinished(metrics.WaitBuild, metrics.OutcomeError)
	}

	return state, err
}
