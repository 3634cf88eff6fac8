package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gas-monitor/internal/logging"
	"gas-monitor/internal/models"
)

type sessionRecorder struct {
	fakeRecorder
	sessions []string
}

func (r *sessionRecorder) Record(ctx context.Context, ev models.ClassifiedEvent) error {
	r.mu.Lock()
	r.sessions = append(r.sessions, models.SessionID(ctx))
	r.mu.Unlock()
	return r.fakeRecorder.Record(ctx, ev)
}

func (r *sessionRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestRecorderServiceWritesEverySink(t *testing.T) {
	good := &sessionRecorder{}
	bad := &sessionRecorder{}
	bad.err = errors.New("bucket not found")

	svc := NewRecorderService([]NamedRecorder{{"influx", bad}, {"clickhouse", good}}, DefaultRecorderServiceConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)

	require.NoError(t, svc.Record(models.WithSessionID(context.Background(), "s-1"), models.ClassifiedEvent{EntryID: "1"}))
	require.NoError(t, svc.Record(context.Background(), models.ClassifiedEvent{EntryID: "2"}))

	assert.Eventually(t, func() bool { return good.count() == 2 && bad.count() == 2 }, time.Second, time.Millisecond)
	good.mu.Lock()
	assert.Equal(t, []string{"s-1", ""}, good.sessions)
	good.mu.Unlock()
}

func TestRecorderServiceFullChannel(t *testing.T) {
	svc := NewRecorderService(nil, RecorderServiceConfig{ChannelSize: 1}, nil, nil)

	require.NoError(t, svc.Record(context.Background(), models.ClassifiedEvent{EntryID: "1"}))
	assert.ErrorIs(t, svc.Record(context.Background(), models.ClassifiedEvent{EntryID: "2"}), ErrRecorderBusy)
}

func TestRecorderServiceFlushesOnShutdown(t *testing.T) {
	r := &sessionRecorder{}
	svc := NewRecorderService([]NamedRecorder{{"mqtt", r}}, DefaultRecorderServiceConfig(), nil, nil)

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, svc.Record(context.Background(), models.ClassifiedEvent{EntryID: id}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Start(ctx)

	assert.Equal(t, 3, r.count())
}

func TestLogPresenter(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPresenter(logging.NewWithWriter(&buf, "info", "json"))

	p.Present(Snapshot{})
	assert.Empty(t, buf.String())

	p.Present(Snapshot{Events: []models.ClassifiedEvent{{EntryID: "9", GasPPM: 123.456, Level: models.LevelWarning}}})
	assert.Contains(t, buf.String(), `"gas_ppm":123.46`)
	assert.Contains(t, buf.String(), `"prediction":"Warning"`)

	p.Report(Notice{Severity: SeverityError, Message: "Error: feed down"})
	assert.Contains(t, buf.String(), `"level":"error"`)
}
