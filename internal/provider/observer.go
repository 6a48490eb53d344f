package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/shineum/mailkit/internal/email"
)

// Stage marks where in a send an Event was emitted.
type Stage int

const (
	StagePreSend Stage = iota
	StageSent
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StagePreSend:
		return "pre_send"
	case StageSent:
		return "sent"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event describes one lifecycle point of a send.
type Event struct {
	Provider    string
	Stage       Stage
	Subject     string
	Recipients  int
	Attachments int
	// MessageID is the transport-assigned id, set on StageSent when known.
	MessageID string
	// Err is set on StageFailed.
	Err error
	// Duration is the time since StagePreSend, zero for StagePreSend.
	Duration time.Duration
}

// NewEvent returns a StagePreSend event describing msg.
func NewEvent(provider string, msg *email.Message) Event {
	ev := Event{Provider: provider, Stage: StagePreSend}
	if msg != nil {
		ev.Subject = msg.Subject
		ev.Recipients = msg.RecipientCount()
		ev.Attachments = len(msg.Attachments) + len(msg.LinkedResources)
	}
	return ev
}

// Observer receives lifecycle events from senders. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

// Nop is an Observer that discards events.
var Nop Observer = ObserverFunc(func(context.Context, Event) {})

// Observers fans an event out to several observers in order.
type Observers []Observer

// Observe forwards ev to every non-nil observer.
func (o Observers) Observe(ctx context.Context, ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, ev)
		}
	}
}

// LogObserver returns an Observer that writes events to logger. A nil
// logger uses slog.Default.
func LogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return ObserverFunc(func(ctx context.Context, ev Event) {
		attrs := []slog.Attr{
			slog.String("provider", ev.Provider),
			slog.String("subject", ev.Subject),
			slog.Int("recipients", ev.Recipients),
			slog.Int("attachments", ev.Attachments),
		}

		switch ev.Stage {
		case StagePreSend:
			logger.LogAttrs(ctx, slog.LevelInfo, "started to send mail", attrs...)
		case StageSent:
			attrs = append(attrs,
				slog.String("message_id", ev.MessageID),
				slog.Duration("duration", ev.Duration),
			)
			logger.LogAttrs(ctx, slog.LevelInfo, "sent mail successfully", attrs...)
		case StageFailed:
			attrs = append(attrs,
				slog.Duration("duration", ev.Duration),
				slog.Any("error", ev.Err),
			)
			logger.LogAttrs(ctx, slog.LevelError, "failed to send mail", attrs...)
		}
	})
}

// Tracker emits the lifecycle of a single send to an observer.
type Tracker struct {
	obs   Observer
	ev    Event
	start time.Time
}

// Track emits StagePreSend for msg and returns a Tracker for the outcome.
// A nil observer is treated as Nop.
func Track(ctx context.Context, obs Observer, provider string, msg *email.Message) *Tracker {
	if obs == nil {
		obs = Nop
	}
	t := &Tracker{obs: obs, ev: NewEvent(provider, msg), start: time.Now()}
	obs.Observe(ctx, t.ev)
	return t
}

// Sent emits StageSent with the given message id.
func (t *Tracker) Sent(ctx context.Context, id string) {
	ev := t.ev
	ev.Stage = StageSent
	ev.MessageID = id
	ev.Duration = time.Since(t.start)
	t.obs.Observe(ctx, ev)
}

// Failed emits StageFailed with err.
func (t *Tracker) Failed(ctx context.Context, err error) {
	ev := t.ev
	ev.Stage = StageFailed
	ev.Err = err
	ev.Duration = time.Since(t.start)
	t.obs.Observe(ctx, ev)
}

// Finish emits StageSent or StageFailed according to resp.
func (t *Tracker) Finish(ctx context.Context, resp *email.Response) {
	if resp.OK() {
		t.Sent(ctx, resp.ID)
		return
	}
	t.Failed(ctx, &FailedError{Reason: resp.FailedReason})
}

// FailedError carries the reason of a failed response to observers.
type FailedError struct {
	Reason string
}

func (e *FailedError) Error() string { return e.Reason }
