package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"gas-monitor/internal/logging"
	"gas-monitor/internal/metrics"
	"gas-monitor/internal/models"
)

// ErrRecorderBusy is returned when the event channel stays full
var ErrRecorderBusy = errors.New("recorder channel full, dropping event")

// NamedRecorder is a persistence or publishing target
type NamedRecorder struct {
	Name     string
	Recorder Recorder
}

type queuedEvent struct {
	event     models.ClassifiedEvent
	sessionID string
}

// RecorderService handles event persistence and forwarding off the
// prediction cycle. The loop enqueues through Record; Start drains the
// channel into every sink.
type RecorderService struct {
	sinks   []NamedRecorder
	metrics *metrics.Metrics
	log     *logrus.Entry

	// Input channel (written by the loop, read by the service)
	events chan queuedEvent

	enqueueTimeout time.Duration
	writeTimeout   time.Duration
}

// RecorderServiceConfig holds configuration for recorder service
type RecorderServiceConfig struct {
	ChannelSize    int
	EnqueueTimeout time.Duration // how long Record waits on a full channel
	WriteTimeout   time.Duration // per sink write
}

// DefaultRecorderServiceConfig returns default configuration
func DefaultRecorderServiceConfig() RecorderServiceConfig {
	return RecorderServiceConfig{
		ChannelSize:    100,
		EnqueueTimeout: 100 * time.Millisecond,
		WriteTimeout:   5 * time.Second,
	}
}

// NewRecorderService creates a new recorder service
func NewRecorderService(sinks []NamedRecorder, config RecorderServiceConfig, m *metrics.Metrics, logger logrus.FieldLogger) *RecorderService {
	if config.ChannelSize <= 0 {
		config.ChannelSize = 100
	}
	return &RecorderService{
		sinks:          sinks,
		metrics:        m,
		log:            logging.Component(logger, "recorder"),
		events:         make(chan queuedEvent, config.ChannelSize),
		enqueueTimeout: config.EnqueueTimeout,
		writeTimeout:   config.WriteTimeout,
	}
}

// Record queues the event for the background writer
func (s *RecorderService) Record(ctx context.Context, ev models.ClassifiedEvent) error {
	item := queuedEvent{event: ev, sessionID: models.SessionID(ctx)}

	// Write to channel (non-blocking with timeout)
	select {
	case s.events <- item:
		return nil
	default:
	}
	if s.enqueueTimeout <= 0 {
		return ErrRecorderBusy
	}
	timer := time.NewTimer(s.enqueueTimeout)
	defer timer.Stop()
	select {
	case s.events <- item:
		return nil
	case <-timer.C:
		return ErrRecorderBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start processes queued events until the context is cancelled. Events still
// queued at shutdown are flushed with a fresh deadline.
func (s *RecorderService) Start(ctx context.Context) {
	s.log.Info("RecorderService: Starting...")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("RecorderService: Shutting down...")
			s.drain()
			s.log.Info("RecorderService: Shutdown complete")
			return
		case item := <-s.events:
			s.process(context.WithoutCancel(ctx), item)
		}
	}
}

func (s *RecorderService) drain() {
	for {
		select {
		case item := <-s.events:
			s.process(context.Background(), item)
		default:
			return
		}
	}
}

// process writes one event to every sink. Sinks are best effort.
func (s *RecorderService) process(ctx context.Context, item queuedEvent) {
	ctx = models.WithSessionID(ctx, item.sessionID)
	for _, sink := range s.sinks {
		writeCtx := ctx
		var cancel context.CancelFunc = func() {}
		if s.writeTimeout > 0 {
			writeCtx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		}
		err := sink.Recorder.Record(writeCtx, item.event)
		cancel()
		if err != nil {
			s.metrics.RecordFailure()
			s.log.WithError(err).WithFields(logrus.Fields{"sink": sink.Name, "entry_id": item.event.EntryID}).
				Warn("RecorderService: error saving event")
			continue
		}
		s.log.WithFields(logrus.Fields{"sink": sink.Name, "entry_id": item.event.EntryID}).Debug("RecorderService: saved event")
	}
}
