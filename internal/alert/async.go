package alert

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"gas-monitor/internal/logging"
	"gas-monitor/internal/models"
)

// ErrQueueFull is returned when the async mail queue cannot take more work
var ErrQueueFull = errors.New("mail queue full")

// DefaultDrainTimeout bounds how long queued mail is still sent after shutdown
const DefaultDrainTimeout = 10 * time.Second

// AsyncMailer queues emails for a background worker so the prediction cycle
// does not wait on SMTP. Delivery errors go to the OnError handler.
type AsyncMailer struct {
	next         Mailer
	queue        chan models.ClassifiedEvent
	drainTimeout time.Duration
	onError      func(ev models.ClassifiedEvent, err error)
	log          *logrus.Entry
}

// NewAsyncMailer wraps next with a queue of the given size
func NewAsyncMailer(next Mailer, size int, logger logrus.FieldLogger) *AsyncMailer {
	if size <= 0 {
		size = 16
	}
	return &AsyncMailer{
		next:         next,
		queue:        make(chan models.ClassifiedEvent, size),
		drainTimeout: DefaultDrainTimeout,
		log:          logging.Component(logger, "mailer"),
	}
}

// OnError sets the handler called for every failed delivery, including mail
// dropped at shutdown. Call it before Start.
func (m *AsyncMailer) OnError(fn func(ev models.ClassifiedEvent, err error)) {
	m.onError = fn
}

// SetDrainTimeout changes how long Start keeps sending after ctx is cancelled
func (m *AsyncMailer) SetDrainTimeout(d time.Duration) {
	m.drainTimeout = d
}

// Send enqueues the event without blocking
func (m *AsyncMailer) Send(_ context.Context, ev models.ClassifiedEvent) error {
	select {
	case m.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start sends queued mail until ctx is cancelled, then flushes what is left
// within the drain timeout. Runs in its own goroutine.
func (m *AsyncMailer) Start(ctx context.Context) {
	m.log.Info("Mailer: Starting async worker...")
	for {
		select {
		case <-ctx.Done():
			m.log.Info("Mailer: Context cancelled, flushing queue...")
			m.drain()
			m.log.Info("Mailer: Shutdown complete")
			return
		case ev := <-m.queue:
			m.deliver(context.WithoutCancel(ctx), ev)
		}
	}
}

func (m *AsyncMailer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), m.drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-m.queue:
			if ctx.Err() != nil {
				m.fail(ev, ctx.Err())
				continue
			}
			m.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (m *AsyncMailer) deliver(ctx context.Context, ev models.ClassifiedEvent) {
	if err := m.next.Send(ctx, ev); err != nil {
		m.fail(ev, err)
		return
	}
	m.log.WithField("entry_id", ev.EntryID).Info("Mailer: alert email sent")
}

func (m *AsyncMailer) fail(ev models.ClassifiedEvent, err error) {
	m.log.WithError(err).WithField("entry_id", ev.EntryID).Error("Mailer: failed to send alert email")
	if m.onError != nil {
		m.onError(ev, err)
	}
}
