package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gas-monitor/internal/feed"
	"gas-monitor/internal/metrics"
	"gas-monitor/internal/ml"
	"gas-monitor/internal/models"
)

// scriptedFeed returns its responses in order, then repeats the last one
type scriptedFeed struct {
	mu        sync.Mutex
	responses []fetchResponse
	calls     int
}

type fetchResponse struct {
	reading models.Reading
	err     error
}

func reading(id string, gas float64) fetchResponse {
	return fetchResponse{reading: models.Reading{EntryID: id, CreatedAt: "2025-06-01T10:00:0" + id + "Z", GasPPM: gas}}
}

func failure(kind feed.Kind, status int) fetchResponse {
	return fetchResponse{err: &feed.FetchError{Kind: kind, StatusCode: status, Err: errors.New("boom")}}
}

func (f *scriptedFeed) FetchLatest(context.Context) (models.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[i]
	return r.reading, r.err
}

func (f *scriptedFeed) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type countingClassifier struct {
	ml.Classifier
	mu    sync.Mutex
	calls int
}

func (c *countingClassifier) Classify(t, h, g float64) (models.Level, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Classifier.Classify(t, h, g)
}

type fakeSink struct {
	mu      sync.Mutex
	danger  []string
	warning []string
	err     error
}

func (s *fakeSink) NotifyDanger(_ context.Context, ev models.ClassifiedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.danger = append(s.danger, ev.EntryID)
	return s.err
}

func (s *fakeSink) NotifyWarning(_ context.Context, ev models.ClassifiedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warning = append(s.warning, ev.EntryID)
	return s.err
}

type recordingPresenter struct {
	mu        sync.Mutex
	snapshots []Snapshot
	notices   []Notice
}

func (p *recordingPresenter) Present(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, s)
}

func (p *recordingPresenter) Report(n Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, n)
}

func (p *recordingPresenter) Notices() []Notice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Notice(nil), p.notices...)
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []models.ClassifiedEvent
	err    error
}

func (r *fakeRecorder) Record(_ context.Context, ev models.ClassifiedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

type harness struct {
	loop       *PredictionLoop
	feed       *scriptedFeed
	classifier *countingClassifier
	sink       *fakeSink
	presenter  *recordingPresenter
	recorder   *fakeRecorder
}

func newHarness(t *testing.T, config LoopConfig, responses ...fetchResponse) *harness {
	t.Helper()
	h := &harness{
		feed:       &scriptedFeed{responses: responses},
		classifier: &countingClassifier{Classifier: ml.DefaultThresholds()},
		sink:       &fakeSink{},
		presenter:  &recordingPresenter{},
		recorder:   &fakeRecorder{},
	}
	loop, err := NewPredictionLoop(LoopDeps{
		Feed:       h.feed,
		Classifier: h.classifier,
		Alerts:     h.sink,
		Presenter:  h.presenter,
		Recorders:  []Recorder{h.recorder},
		Features:   FixedFeatures(25, 55),
		Metrics:    metrics.New(prometheus.NewRegistry()),
	}, config)
	require.NoError(t, err)
	h.loop = loop
	return h
}

func fastConfig() LoopConfig {
	return LoopConfig{
		HistorySize:          20,
		FetchMaxRetries:      3,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     2 * time.Millisecond,
	}
}

func levels(events []models.ClassifiedEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.EntryID + ":" + ev.Level.String()
	}
	return out
}

func TestStepScenario(t *testing.T) {
	h := newHarness(t, fastConfig(),
		reading("A", 50), reading("A", 50), reading("B", 400), reading("C", 10))
	ctx := context.Background()

	var outcomes []Outcome
	for i := 0; i < 4; i++ {
		res, err := h.loop.Step(ctx)
		require.NoError(t, err)
		outcomes = append(outcomes, res.Outcome)
	}

	assert.Equal(t, []Outcome{OutcomeAccepted, OutcomeDuplicate, OutcomeAccepted, OutcomeAccepted}, outcomes)
	assert.Equal(t, []string{"A:Safe", "B:Danger", "C:Safe"}, levels(h.loop.Snapshot().Events))
	assert.Equal(t, []string{"B"}, h.sink.danger)
	assert.Empty(t, h.sink.warning)
	assert.Equal(t, 3, h.classifier.calls)
	assert.Len(t, h.presenter.snapshots, 3)
	assert.Len(t, h.recorder.events, 3)
}

func TestStepAlertGatingIsExclusive(t *testing.T) {
	h := newHarness(t, fastConfig(),
		reading("1", 10), reading("2", 150), reading("3", 350), reading("4", 99))

	for i := 0; i < 4; i++ {
		_, err := h.loop.Step(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"3"}, h.sink.danger)
	assert.Equal(t, []string{"2"}, h.sink.warning)
}

func TestHistoryKeepsLastTwenty(t *testing.T) {
	var responses []fetchResponse
	for i := 1; i <= 25; i++ {
		responses = append(responses, fetchResponse{reading: models.Reading{EntryID: fmt.Sprint(i), GasPPM: float64(i)}})
	}
	h := newHarness(t, fastConfig(), responses...)

	for i := 0; i < 25; i++ {
		_, err := h.loop.Step(context.Background())
		require.NoError(t, err)
		assert.LessOrEqual(t, len(h.loop.Snapshot().Events), 20)
	}

	events := h.loop.Snapshot().Events
	require.Len(t, events, 20)
	assert.Equal(t, "6", events[0].EntryID)
	assert.Equal(t, "25", events[19].EntryID)
}

func TestAlertFailureDoesNotStopCycle(t *testing.T) {
	h := newHarness(t, fastConfig(), reading("X", 500))
	h.sink.err = errors.New("smtp auth failed")

	res, err := h.loop.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Len(t, h.loop.Snapshot().Events, 1)

	notices := h.presenter.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, SeverityWarning, notices[0].Severity)
	assert.Contains(t, notices[0].Message, "smtp auth failed")
}

func TestRecorderFailureIsIgnored(t *testing.T) {
	h := newHarness(t, fastConfig(), reading("X", 5))
	h.recorder.err = errors.New("clickhouse down")

	_, err := h.loop.Step(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.loop.Snapshot().Events, 1)
}

func TestTransientFetchErrorIsRetried(t *testing.T) {
	h := newHarness(t, fastConfig(),
		failure(feed.KindStatus, 503), failure(feed.KindTimeout, 0), reading("A", 50))

	res, err := h.loop.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A", res.Event.EntryID)
	assert.Equal(t, 3, h.feed.Calls())
}

func TestRetriesAreBounded(t *testing.T) {
	config := fastConfig()
	config.FetchMaxRetries = 2
	h := newHarness(t, config, failure(feed.KindNetwork, 0))

	_, err := h.loop.Step(context.Background())
	var ferr *feed.FetchError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, feed.KindNetwork, ferr.Kind)
	assert.Equal(t, 3, h.feed.Calls())
}

func TestPermanentFetchErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, fastConfig(), failure(feed.KindField, 0))

	_, err := h.loop.Step(context.Background())
	var ferr *feed.FetchError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, feed.KindField, ferr.Kind)
	assert.Equal(t, 1, h.feed.Calls())
	assert.Empty(t, h.loop.Snapshot().Events)
}

func TestZeroRetriesStopsOnFirstFailure(t *testing.T) {
	config := fastConfig()
	config.FetchMaxRetries = 0
	h := newHarness(t, config, failure(feed.KindTimeout, 0))

	_, err := h.loop.Step(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, h.feed.Calls())
}

func TestRunStopsOnFatalFetchError(t *testing.T) {
	h := newHarness(t, fastConfig(), reading("A", 50), failure(feed.KindStatus, 404))

	require.True(t, h.loop.Start(context.Background()))
	h.loop.Wait()

	state := h.loop.State()
	assert.False(t, state.Running)
	assert.False(t, state.HasLastSeen)
	assert.Equal(t, []string{"A:Safe"}, levels(h.loop.Snapshot().Events))

	notices := h.presenter.Notices()
	require.NotEmpty(t, notices)
	last := notices[len(notices)-1]
	assert.Equal(t, SeverityError, last.Severity)
	assert.Contains(t, last.Message, "404")
}

// blockingFeed serves one new entry per release
type blockingFeed struct {
	mu      sync.Mutex
	next    int
	calls   int
	release chan struct{}
	entered chan struct{}
}

func (f *blockingFeed) FetchLatest(ctx context.Context) (models.Reading, error) {
	f.entered <- struct{}{}
	select {
	case <-f.release:
	case <-ctx.Done():
		return models.Reading{}, &feed.FetchError{Kind: feed.KindTimeout, Err: ctx.Err()}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.calls++
	return models.Reading{EntryID: fmt.Sprint(f.next), GasPPM: 10}, nil
}

func TestStopDuringCycleTakesEffectBeforeNextFetch(t *testing.T) {
	bf := &blockingFeed{release: make(chan struct{}), entered: make(chan struct{}, 4)}
	presenter := &recordingPresenter{}
	loop, err := NewPredictionLoop(LoopDeps{
		Feed:       bf,
		Classifier: ml.DefaultThresholds(),
		Presenter:  presenter,
		Features:   FixedFeatures(25, 55),
	}, fastConfig())
	require.NoError(t, err)

	require.True(t, loop.Start(context.Background()))
	<-bf.entered // cycle in flight

	assert.True(t, loop.Stop())
	assert.False(t, loop.Stop(), "stop is idempotent")
	close(bf.release)
	loop.Wait()

	// the in-flight cycle completed, no further fetch was made
	assert.Len(t, loop.Snapshot().Events, 1)
	assert.Equal(t, 1, bf.calls)
	assert.Len(t, bf.entered, 0)
	assert.False(t, loop.State().Running)
}

func TestStartIsIdempotentAndResumesHistory(t *testing.T) {
	h := newHarness(t, LoopConfig{
		CycleInterval: time.Hour,
		DedupInterval: time.Hour,
		HistorySize:   20,
	}, reading("A", 50))

	ctx := context.Background()
	require.True(t, h.loop.Start(ctx))
	assert.False(t, h.loop.Start(ctx))

	assert.Eventually(t, func() bool { return len(h.loop.Snapshot().Events) == 1 }, time.Second, time.Millisecond)
	assert.True(t, h.loop.Stop())
	h.loop.Wait()

	// Start clears the last seen entry, so A is accepted again and appended
	require.True(t, h.loop.Start(ctx))
	assert.Eventually(t, func() bool { return len(h.loop.Snapshot().Events) == 2 }, time.Second, time.Millisecond)
	h.loop.Stop()
	h.loop.Wait()

	assert.Equal(t, []string{"A:Safe", "A:Safe"}, levels(h.loop.Snapshot().Events))
}

func TestStopInterruptsSleep(t *testing.T) {
	h := newHarness(t, LoopConfig{CycleInterval: time.Hour, HistorySize: 20}, reading("A", 50))

	require.True(t, h.loop.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(h.loop.Snapshot().Events) == 1 }, time.Second, time.Millisecond)

	h.loop.Stop()
	finished := make(chan struct{})
	go func() {
		h.loop.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after Stop")
	}
	assert.Equal(t, 1, h.feed.Calls())
}

func TestContextCancelStopsLoop(t *testing.T) {
	h := newHarness(t, LoopConfig{DedupInterval: time.Millisecond, HistorySize: 20}, reading("A", 50))

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, h.loop.Start(ctx))
	assert.Eventually(t, func() bool { return h.feed.Calls() >= 2 }, time.Second, time.Millisecond)
	cancel()
	h.loop.Wait()

	assert.False(t, h.loop.State().Running)
	assert.Len(t, h.loop.Snapshot().Events, 1)
}

func TestRestore(t *testing.T) {
	h := newHarness(t, fastConfig(), reading("N", 10))
	h.loop.Restore([]models.ClassifiedEvent{{EntryID: "old1"}, {EntryID: "old2"}})

	_, err := h.loop.Step(context.Background())
	require.NoError(t, err)

	events := h.loop.Snapshot().Events
	require.Len(t, events, 3)
	assert.Equal(t, "old1", events[0].EntryID)
	assert.Equal(t, "N", events[2].EntryID)

	recent := h.loop.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "old2", recent[0].EntryID)
	assert.Equal(t, "N", recent[1].EntryID)
	assert.Len(t, h.loop.Recent(10), 3)
	assert.Empty(t, h.loop.Recent(0))
}

func TestSnapshotIsACopy(t *testing.T) {
	h := newHarness(t, fastConfig(), reading("A", 50))
	_, err := h.loop.Step(context.Background())
	require.NoError(t, err)

	snap := h.loop.Snapshot()
	snap.Events[0].EntryID = "mutated"
	assert.Equal(t, "A", h.loop.Snapshot().Events[0].EntryID)
}

func TestNewPredictionLoopRequiresDeps(t *testing.T) {
	_, err := NewPredictionLoop(LoopDeps{Classifier: ml.DefaultThresholds()}, fastConfig())
	assert.Error(t, err)

	_, err = NewPredictionLoop(LoopDeps{Feed: &scriptedFeed{}}, fastConfig())
	assert.Error(t, err)
}

func TestRunWaitsDedupOrCycleInterval(t *testing.T) {
	h := newHarness(t, LoopConfig{
		CycleInterval: time.Second,
		DedupInterval: 2 * time.Second,
		HistorySize:   20,
	}, reading("A", 50), reading("A", 50), reading("B", 400))

	var mu sync.Mutex
	var waits []time.Duration
	h.loop.after = func(d time.Duration) <-chan time.Time {
		mu.Lock()
		waits = append(waits, d)
		n := len(waits)
		mu.Unlock()
		if n == 3 {
			h.loop.Stop()
			return nil // blocks; Stop ends the sleep
		}
		fired := make(chan time.Time, 1)
		fired <- time.Now()
		return fired
	}

	require.True(t, h.loop.Start(context.Background()))
	h.loop.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second}, waits)
	assert.Equal(t, []string{"A:Safe", "B:Danger"}, levels(h.loop.Snapshot().Events))
}

type stubClassifier struct {
	level models.Level
	err   error
}

func (c stubClassifier) Classify(t, h, g float64) (models.Level, error) {
	return c.level, c.err
}

func TestRunStopsOnClassificationError(t *testing.T) {
	h := newHarness(t, fastConfig(), reading("A", 50))
	h.classifier.Classifier = stubClassifier{err: &ml.ClassificationError{
		Features: models.Features{Temperature: 25, Humidity: 55, GasPPM: 50},
		Err:      errors.New("score is NaN"),
	}}

	require.True(t, h.loop.Start(context.Background()))
	h.loop.Wait()

	assert.False(t, h.loop.State().Running)
	assert.Empty(t, h.loop.Snapshot().Events)
	assert.Empty(t, h.sink.danger)
	assert.Empty(t, h.sink.warning)

	notices := h.presenter.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, SeverityError, notices[0].Severity)
	assert.Contains(t, notices[0].Message, "score is NaN")
	assert.Equal(t, 1, h.feed.Calls())
}

func TestUnknownLevelIsKeptWithoutAlert(t *testing.T) {
	h := newHarness(t, fastConfig(), reading("A", 500))
	h.classifier.Classifier = stubClassifier{level: models.LevelUnknown}

	res, err := h.loop.Step(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, []string{"A:Unknown"}, levels(h.loop.Snapshot().Events))
	assert.Empty(t, h.sink.danger)
	assert.Empty(t, h.sink.warning)
	assert.Empty(t, h.presenter.Notices())
	assert.Len(t, h.presenter.snapshots, 1)
}
