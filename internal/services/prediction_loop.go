package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gas-monitor/internal/alert"
	"gas-monitor/internal/feed"
	"gas-monitor/internal/history"
	"gas-monitor/internal/logging"
	"gas-monitor/internal/metrics"
	"gas-monitor/internal/ml"
	"gas-monitor/internal/models"
)

// errStopped ends a cycle that was interrupted by Stop while waiting to retry
var errStopped = errors.New("prediction loop stopped")

// Recorder receives every accepted event after it is appended to the history.
// Failures are logged and never stop the loop.
type Recorder interface {
	Record(ctx context.Context, ev models.ClassifiedEvent) error
}

// LoopState is the dedup and run state of the automatic prediction loop
type LoopState struct {
	Running         bool
	LastSeenEntryID string
	HasLastSeen     bool
}

type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeDuplicate
)

func (o Outcome) String() string {
	if o == OutcomeDuplicate {
		return "duplicate"
	}
	return "accepted"
}

// StepResult describes one completed cycle
type StepResult struct {
	Outcome Outcome
	Event   models.ClassifiedEvent // zero for duplicates
	Reading models.Reading
}

// LoopConfig holds timing and retention settings for the prediction loop.
// Zero intervals mean no delay.
type LoopConfig struct {
	DedupInterval        time.Duration // wait after a duplicate entry
	CycleInterval        time.Duration // wait after an accepted entry
	HistorySize          int
	FetchMaxRetries      int // transient fetch retries; 0 stops on the first failure
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// DefaultLoopConfig returns default configuration
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		DedupInterval:        2 * time.Second,
		CycleInterval:        1 * time.Second,
		HistorySize:          history.DefaultCapacity,
		FetchMaxRetries:      3,
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxInterval:     5 * time.Second,
	}
}

// LoopDeps are the collaborators of the loop. Feed and Classifier are
// required; everything else is optional.
type LoopDeps struct {
	Feed       feed.Client
	Classifier ml.Classifier
	Alerts     alert.Sink
	Presenter  Presenter
	Recorders  []Recorder
	Features   FeatureSource
	Metrics    *metrics.Metrics
	Logger     logrus.FieldLogger
}

// PredictionLoop polls the feed, classifies new readings, raises alerts and
// keeps a bounded history. It owns all loop state; callers only see copies.
type PredictionLoop struct {
	feed       feed.Client
	classifier ml.Classifier
	alerts     alert.Sink
	presenter  Presenter
	recorders  []Recorder
	features   FeatureSource
	metrics    *metrics.Metrics
	log        *logrus.Entry
	config     LoopConfig
	after      func(time.Duration) <-chan time.Time

	mu        sync.Mutex
	state     LoopState
	history   *history.Buffer[models.ClassifiedEvent]
	sessionID string
	stopCh    chan struct{}
	done      chan struct{}
}

// NewPredictionLoop creates a stopped loop
func NewPredictionLoop(deps LoopDeps, config LoopConfig) (*PredictionLoop, error) {
	if deps.Feed == nil {
		return nil, errors.New("prediction loop requires a feed client")
	}
	if deps.Classifier == nil {
		return nil, errors.New("prediction loop requires a classifier")
	}
	if deps.Presenter == nil {
		deps.Presenter = nopPresenter{}
	}
	if deps.Features == nil {
		deps.Features = SyntheticFeatures(nil)
	}
	if config.HistorySize <= 0 {
		config.HistorySize = history.DefaultCapacity
	}
	if config.FetchMaxRetries < 0 {
		config.FetchMaxRetries = 0
	}

	return &PredictionLoop{
		feed:       deps.Feed,
		classifier: deps.Classifier,
		alerts:     deps.Alerts,
		presenter:  deps.Presenter,
		recorders:  deps.Recorders,
		features:   deps.Features,
		metrics:    deps.Metrics,
		log:        logging.Component(deps.Logger, "loop"),
		config:     config,
		after:      time.After,
		history:    history.NewBuffer[models.ClassifiedEvent](config.HistorySize),
	}, nil
}

// Start moves the loop to Running and launches a new session. The history is
// kept; the last seen entry is cleared. It returns false if the loop was
// already running.
func (l *PredictionLoop) Start(ctx context.Context) bool {
	l.mu.Lock()
	if l.state.Running {
		l.mu.Unlock()
		return false
	}
	prev := l.done
	stop := make(chan struct{})
	done := make(chan struct{})
	session := uuid.NewString()

	l.state = LoopState{Running: true}
	l.stopCh = stop
	l.done = done
	l.sessionID = session
	l.mu.Unlock()

	l.metrics.SetRunning(true)

	go func() {
		defer close(done)
		// a stopped session may still be finishing its cycle
		if prev != nil {
			<-prev
		}
		l.run(ctx, session, stop)
	}()
	return true
}

// Stop moves the loop to Stopped. A cycle in flight completes; no further
// fetch is made. It returns false if the loop was not running.
func (l *PredictionLoop) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.haltLocked(l.stopCh)
}

// haltLocked stops the session owning stop. Caller holds l.mu.
func (l *PredictionLoop) haltLocked(stop chan struct{}) bool {
	if !l.state.Running || l.stopCh != stop {
		return false
	}
	close(stop)
	l.state = LoopState{}
	l.metrics.SetRunning(false)
	return true
}

// Wait blocks until the current session's goroutine has exited
func (l *PredictionLoop) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

// State returns a copy of the loop state
func (l *PredictionLoop) State() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Snapshot returns a copy of the state and history
func (l *PredictionLoop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *PredictionLoop) snapshotLocked() Snapshot {
	s := Snapshot{
		Running:  l.state.Running,
		Capacity: l.history.Cap(),
		Events:   l.history.Snapshot(),
	}
	if l.state.Running {
		s.SessionID = l.sessionID
	}
	if l.state.HasLastSeen {
		s.LastSeenEntryID = l.state.LastSeenEntryID
	}
	return s
}

// Recent returns up to n of the newest events, oldest first
func (l *PredictionLoop) Recent(n int) []models.ClassifiedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.history.LastN(n)
}

// Restore seeds the history with previously recorded events, oldest first
func (l *PredictionLoop) Restore(events []models.ClassifiedEvent) {
	l.mu.Lock()
	for _, ev := range events {
		l.history.Push(ev)
	}
	n := l.history.Len()
	l.mu.Unlock()
	l.metrics.SetHistorySize(n)
}

func (l *PredictionLoop) run(ctx context.Context, session string, stop chan struct{}) {
	log := l.log.WithField("session_id", session)
	log.Info("PredictionLoop: Starting...")
	ctx = models.WithSessionID(ctx, session)

	for {
		select {
		case <-stop:
			log.Info("PredictionLoop: Stopped")
			return
		case <-ctx.Done():
			l.halt(stop)
			log.Info("PredictionLoop: Context cancelled, shutting down...")
			return
		default:
		}

		res, err := l.step(ctx, stop)
		if err != nil {
			if errors.Is(err, errStopped) || ctx.Err() != nil {
				l.halt(stop)
				log.Info("PredictionLoop: Stopped during fetch retry")
				return
			}
			l.metrics.Cycle("error")
			l.halt(stop)
			log.WithError(err).Error("PredictionLoop: stopping after error")
			l.report(SeverityError, fmt.Sprintf("Error: %v", err))
			return
		}

		wait := l.config.CycleInterval
		if res.Outcome == OutcomeDuplicate {
			wait = l.config.DedupInterval
		}
		if !l.sleep(ctx, stop, wait) {
			continue // top of loop reports the reason
		}
	}
}

func (l *PredictionLoop) halt(stop chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.haltLocked(stop)
}

func (l *PredictionLoop) sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-l.after(d):
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// Step runs a single cycle against the current state without the
// inter-cycle wait. Errors are returned rather than stopping the loop.
func (l *PredictionLoop) Step(ctx context.Context) (StepResult, error) {
	return l.step(ctx, nil)
}

// step runs one cycle. stop identifies the owning session; once that session
// is stopped its in-flight cycle no longer updates the last seen entry.
func (l *PredictionLoop) step(ctx context.Context, stop chan struct{}) (StepResult, error) {
	reading, err := l.fetch(ctx, stop)
	if err != nil {
		return StepResult{}, err
	}

	l.mu.Lock()
	if l.state.HasLastSeen && l.state.LastSeenEntryID == reading.EntryID {
		l.mu.Unlock()
		l.metrics.Cycle(OutcomeDuplicate.String())
		l.log.WithField("entry_id", reading.EntryID).Debug("PredictionLoop: no new entry")
		return StepResult{Outcome: OutcomeDuplicate, Reading: reading}, nil
	}
	if stop == nil || (l.state.Running && l.stopCh == stop) {
		l.state.LastSeenEntryID = reading.EntryID
		l.state.HasLastSeen = true
	}
	l.mu.Unlock()

	temperature, humidity := l.features()
	level, err := l.classifier.Classify(temperature, humidity, reading.GasPPM)
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to classify entry %s: %w", reading.EntryID, err)
	}
	ev := models.NewClassifiedEvent(reading, models.Features{
		Temperature: temperature,
		Humidity:    humidity,
		GasPPM:      reading.GasPPM,
	}, level)
	l.metrics.Event(level.String())

	l.notify(ctx, ev)

	l.mu.Lock()
	l.history.Push(ev)
	snap := l.snapshotLocked()
	l.mu.Unlock()
	l.metrics.SetHistorySize(len(snap.Events))

	l.record(ctx, ev)
	l.presenter.Present(snap)
	l.metrics.Cycle(OutcomeAccepted.String())

	return StepResult{Outcome: OutcomeAccepted, Event: ev, Reading: reading}, nil
}

// fetch reads the latest entry, retrying transient failures with exponential
// backoff. Stop interrupts the wait between attempts but not an attempt.
func (l *PredictionLoop) fetch(ctx context.Context, stop chan struct{}) (models.Reading, error) {
	retryCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if stop != nil {
		go func() {
			select {
			case <-stop:
				cancel()
			case <-retryCtx.Done():
			}
		}()
	}

	attempt := func() (models.Reading, error) {
		start := time.Now()
		reading, err := l.feed.FetchLatest(ctx)
		l.metrics.ObserveFetch(time.Since(start))
		if err == nil {
			return reading, nil
		}

		var ferr *feed.FetchError
		if !errors.As(err, &ferr) {
			l.metrics.FetchError("unknown")
			return reading, backoff.Permanent(err)
		}
		l.metrics.FetchError(ferr.Kind.String())
		if !ferr.Transient() {
			return reading, backoff.Permanent(err)
		}
		return reading, err
	}

	b := backoff.NewExponentialBackOff()
	if l.config.RetryInitialInterval > 0 {
		b.InitialInterval = l.config.RetryInitialInterval
	}
	if l.config.RetryMaxInterval > 0 {
		b.MaxInterval = l.config.RetryMaxInterval
	}

	reading, err := backoff.Retry(retryCtx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(l.config.FetchMaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.log.WithError(err).WithField("retry_in", next).Warn("PredictionLoop: fetch failed, retrying")
			l.report(SeverityWarning, fmt.Sprintf("Fetch failed, retrying in %s: %v", next.Round(time.Millisecond), err))
		}),
	)
	if err != nil {
		if stop != nil && isClosed(stop) {
			return models.Reading{}, errStopped
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return models.Reading{}, err
	}
	return reading, nil
}

// notify raises the alert for the event's level. Failures are reported and
// the cycle continues.
func (l *PredictionLoop) notify(ctx context.Context, ev models.ClassifiedEvent) {
	if ev.Level != models.LevelDanger && ev.Level != models.LevelWarning {
		return
	}
	l.metrics.Alert(ev.Level.String())
	if err := alert.Dispatch(ctx, l.alerts, ev); err != nil {
		l.metrics.NotifyFailure()
		l.log.WithError(err).WithField("entry_id", ev.EntryID).Warn("PredictionLoop: alert delivery failed")
		l.report(SeverityWarning, fmt.Sprintf("Alert for entry %s failed: %v", ev.EntryID, err))
	}
}

func (l *PredictionLoop) record(ctx context.Context, ev models.ClassifiedEvent) {
	for _, r := range l.recorders {
		if err := r.Record(ctx, ev); err != nil {
			l.metrics.RecordFailure()
			l.log.WithError(err).WithField("entry_id", ev.EntryID).Warn("PredictionLoop: failed to record event")
		}
	}
}

func (l *PredictionLoop) report(sev Severity, msg string) {
	l.presenter.Report(Notice{Severity: sev, Message: msg, Time: time.Now()})
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
