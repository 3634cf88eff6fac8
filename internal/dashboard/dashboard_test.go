package dashboard

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gas-monitor/internal/models"
	"gas-monitor/internal/services"
)

type fakeController struct {
	running bool
	starts  int
	stops   int
	events  []models.ClassifiedEvent
}

func (c *fakeController) Start(context.Context) bool {
	c.starts++
	if c.running {
		return false
	}
	c.running = true
	return true
}

func (c *fakeController) Stop() bool {
	c.stops++
	if !c.running {
		return false
	}
	c.running = false
	return true
}

func (c *fakeController) Snapshot() services.Snapshot {
	return services.Snapshot{Running: c.running, Capacity: 20, Events: c.events}
}

func key(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func sampleEvents() []models.ClassifiedEvent {
	return []models.ClassifiedEvent{
		{EntryID: "A", Timestamp: "2025-06-01T10:00:00Z", Temperature: 24.567, Humidity: 55.004, GasPPM: 50, Level: models.LevelSafe},
		{EntryID: "B", Timestamp: "2025-06-01T10:00:05Z", Temperature: 21.1, Humidity: 44.449, GasPPM: 400.126, Level: models.LevelDanger},
	}
}

func TestKeysDriveController(t *testing.T) {
	ctrl := &fakeController{}
	m := New(context.Background(), ctrl, false)

	next, _ := m.Update(key('s'))
	m = next.(Model)
	assert.True(t, ctrl.running)
	assert.True(t, m.snap.Running)

	next, _ = m.Update(key('s'))
	m = next.(Model)
	assert.Equal(t, 2, ctrl.starts)
	assert.Contains(t, m.notices[len(m.notices)-1].Message, "already running")

	next, _ = m.Update(key('x'))
	m = next.(Model)
	assert.False(t, ctrl.running)
	assert.False(t, m.snap.Running)

	_, cmd := m.Update(key('q'))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestAutoStart(t *testing.T) {
	ctrl := &fakeController{}
	m := New(context.Background(), ctrl, true)

	cmd := m.Init()
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	assert.True(t, ctrl.running)
	assert.True(t, next.(Model).snap.Running)

	assert.Nil(t, New(context.Background(), &fakeController{}, false).Init())
}

func TestNoticesAreBounded(t *testing.T) {
	m := New(context.Background(), &fakeController{}, false)
	for i := 0; i < 8; i++ {
		next, _ := m.Update(noticeMsg{Message: "n", Time: time.Now()})
		m = next.(Model)
	}
	assert.Len(t, m.notices, maxNotices)
}

func TestSnapshotMessageUpdatesView(t *testing.T) {
	m := New(context.Background(), &fakeController{}, false)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = next.(Model)
	assert.Contains(t, m.View(), "No predictions yet")

	next, _ = m.Update(snapshotMsg(services.Snapshot{Running: true, Capacity: 20, Events: sampleEvents()}))
	view := next.(Model).View()
	assert.Contains(t, view, "RUNNING")
	assert.Contains(t, view, "400.13")
	assert.Contains(t, view, "2/20 events")
}

func TestTableRowsRoundToTwoDecimals(t *testing.T) {
	rows := TableRows(sampleEvents())
	assert.Equal(t, []string{"2025-06-01T10:00:00Z", "24.57", "55.00", "50.00", "Safe"}, rows[0])
	assert.Equal(t, []string{"2025-06-01T10:00:05Z", "21.10", "44.45", "400.13", "Danger"}, rows[1])

	out := RenderTable(sampleEvents(), 0)
	for _, h := range TableHeaders {
		assert.Contains(t, out, h)
	}
	assert.Contains(t, out, "Danger")
}

func TestRenderSparkline(t *testing.T) {
	assert.Equal(t, "", RenderSparkline(sampleEvents(), 0))
	assert.Equal(t, 10, lipgloss.Width(RenderSparkline(nil, 10)))

	out := RenderSparkline(sampleEvents(), 6)
	assert.Equal(t, 6, lipgloss.Width(out))
	assert.True(t, strings.Contains(out, "▁") && strings.Contains(out, "█"))
}

func TestPresenterBeforeAttachDrops(t *testing.T) {
	p := &Presenter{}
	assert.NotPanics(t, func() {
		p.Present(services.Snapshot{})
		p.Report(services.Notice{Message: "dropped"})
	})
}
