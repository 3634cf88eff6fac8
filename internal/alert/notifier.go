// Package alert delivers audible, email and MQTT notifications for risky
// classifications.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"gas-monitor/internal/logging"
	"gas-monitor/internal/models"
)

var (
	ErrBeep    = errors.New("audible alert failed")
	ErrMail    = errors.New("email alert failed")
	ErrPublish = errors.New("alert publish failed")
)

// Tones used for each level
const (
	DangerFreq   = 1000.0
	WarningFreq  = 800.0
	ToneDuration = 500 * time.Millisecond
)

// Sink receives alert decisions from the prediction loop and manual entry.
// Errors are non-fatal to the caller.
type Sink interface {
	NotifyDanger(ctx context.Context, ev models.ClassifiedEvent) error
	NotifyWarning(ctx context.Context, ev models.ClassifiedEvent) error
}

// Beeper plays a tone
type Beeper interface {
	Beep(freq float64, d time.Duration) error
}

// Mailer sends the danger email for an event
type Mailer interface {
	Send(ctx context.Context, ev models.ClassifiedEvent) error
}

// Publisher forwards alerts to another system, e.g. an MQTT topic
type Publisher interface {
	PublishAlert(ev models.ClassifiedEvent) error
}

// Notifier is the Sink used in production. Nil dependencies are skipped.
type Notifier struct {
	beeper    Beeper
	mailer    Mailer
	publisher Publisher
	log       *logrus.Entry
}

// NewNotifier composes the alert channels
func NewNotifier(beeper Beeper, mailer Mailer, publisher Publisher, logger logrus.FieldLogger) *Notifier {
	return &Notifier{
		beeper:    beeper,
		mailer:    mailer,
		publisher: publisher,
		log:       logging.Component(logger, "alert"),
	}
}

// NotifyDanger plays the danger tone, sends the email and publishes the alert.
// Every channel is attempted; failures are joined.
func (n *Notifier) NotifyDanger(ctx context.Context, ev models.ClassifiedEvent) error {
	var errs []error
	if err := n.beep(DangerFreq); err != nil {
		errs = append(errs, err)
	}
	if n.mailer != nil {
		if err := n.mailer.Send(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrMail, err))
		} else {
			n.log.WithField("entry_id", ev.EntryID).Info("Alert: danger email sent")
		}
	}
	if err := n.publish(ev); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NotifyWarning plays the warning tone and publishes the alert. No email.
func (n *Notifier) NotifyWarning(ctx context.Context, ev models.ClassifiedEvent) error {
	var errs []error
	if err := n.beep(WarningFreq); err != nil {
		errs = append(errs, err)
	}
	if err := n.publish(ev); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (n *Notifier) beep(freq float64) error {
	if n.beeper == nil {
		return nil
	}
	if err := n.beeper.Beep(freq, ToneDuration); err != nil {
		return fmt.Errorf("%w: %w", ErrBeep, err)
	}
	return nil
}

func (n *Notifier) publish(ev models.ClassifiedEvent) error {
	if n.publisher == nil {
		return nil
	}
	if err := n.publisher.PublishAlert(ev); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	return nil
}

// Dispatch routes an event to the sink according to its level. Safe and
// Unknown events trigger nothing.
func Dispatch(ctx context.Context, sink Sink, ev models.ClassifiedEvent) error {
	if sink == nil {
		return nil
	}
	switch ev.Level {
	case models.LevelDanger:
		return sink.NotifyDanger(ctx, ev)
	case models.LevelWarning:
		return sink.NotifyWarning(ctx, ev)
	default:
		return nil
	}
}
