package notify

import (
	"sync"
	"testing"
	"time"

	"vaultsync/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+msg)
}

func (l *recordingLogger) Info(msg string, _ ...any)  { l.add("INFO", msg) }
func (l *recordingLogger) Debug(msg string, _ ...any) { l.add("DEBUG", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("WARN", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.add("ERROR", msg) }

func TestHubFansOut(t *testing.T) {
	hub := NewHub(&recordingLogger{})
	a, cancelA := hub.Subscribe(4)
	b, cancelB := hub.Subscribe(4)
	defer cancelA()
	defer cancelB()

	hub.Publish(EventSession, entity.Session{Account: "0xabc", Epoch: 1})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventSession, ev.Type)
			assert.Equal(t, uint64(1), ev.Data.(entity.Session).Epoch)
			assert.False(t, ev.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	log := &recordingLogger{}
	hub := NewHub(log)
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	hub.Publish(EventStatus, 1)
	hub.Publish(EventStatus, 2)

	ev := <-ch
	assert.Equal(t, 1, ev.Data)
	assert.Contains(t, log.lines, "WARN Dropping event for slow subscriber")
}

func TestHubCancelAndClose(t *testing.T) {
	hub := NewHub(&recordingLogger{})
	ch, cancel := hub.Subscribe(1)
	require.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, hub.Subscribers())

	other, _ := hub.Subscribe(1)
	hub.Close()
	_, open = <-other
	assert.False(t, open)

	late, _ := hub.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
	hub.Publish(EventStatus, nil)
}

func TestNotifierLogsAndPublishes(t *testing.T) {
	log := &recordingLogger{}
	hub := NewHub(log)
	ch, cancel := hub.Subscribe(4)
	defer cancel()

	n := NewNotifier(hub, log)
	n.Notify(entity.Notification{Title: "Success", Variant: entity.NotificationDefault})
	n.Notify(entity.Notification{Title: "Deposit Failed", Variant: entity.NotificationDestructive})

	assert.Equal(t, []string{"INFO Notification", "WARN Notification"}, log.lines)
	first := <-ch
	note := first.Data.(entity.Notification)
	assert.Equal(t, "Success", note.Title)
	assert.False(t, note.At.IsZero())
	second := <-ch
	assert.Equal(t, "Deposit Failed", second.Data.(entity.Notification).Title)
}

func TestNotifierWithoutHub(t *testing.T) {
	log := &recordingLogger{}
	NewNotifier(nil, log).Notify(entity.Notification{Title: "Wallet Connected"})
	assert.Equal(t, []string{"INFO Notification"}, log.lines)
}
