package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyard/vm/pkg/types"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.PublishWorkspace(types.EventWorkspaceRunning, "id-1", "dev", "provisioned")

	select {
	case evt := <-sub:
		assert.Equal(t, types.EventWorkspaceRunning, evt.Type)
		assert.Equal(t, "id-1", evt.WorkspaceID)
		assert.Equal(t, "dev", evt.Workspace)
		assert.False(t, evt.Timestamp.IsZero(), "timestamp backfilled")
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe()
	fast := b.Subscribe()
	defer b.Unsubscribe(fast)
	defer b.Unsubscribe(slow)

	// Overrun the slow subscriber's buffer without draining it.
	for i := 0; i < 120; i++ {
		b.Publish(&types.Event{Type: types.EventServiceStarted, Service: "redis"})
	}

	received := 0
	deadline := time.After(2 * time.Second)
	for received < 50 {
		select {
		case <-fast:
			received++
		case <-deadline:
			t.Fatalf("fast subscriber starved after %d events", received)
		}
	}
}

func TestSubscriberCount(t *testing.T) {
	b := NewBroker()

	require.Equal(t, 0, b.SubscriberCount())
	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())
	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriberCount())
}
