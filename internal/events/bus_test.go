package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBus(16)
	ch := b.Subscribe("wf-1", 4)
	defer b.Unsubscribe("wf-1", ch)

	b.Publish("wf-1", Event{Type: TypeWorkflowStarted})
	b.Publish("wf-2", Event{Type: TypeWorkflowStarted}) // different scope

	ev := <-ch
	assert.Equal(t, "wf-1", ev.Scope)
	assert.Equal(t, TypeWorkflowStarted, ev.Type)
	assert.Equal(t, uint64(0), ev.Seq)
	assert.False(t, ev.Timestamp.IsZero())

	select {
	case extra := <-ch:
		t.Fatalf("received event for another scope: %+v", extra)
	default:
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := NewBus(16)
	ch := b.Subscribe("wf-1", 1)
	defer b.Unsubscribe("wf-1", ch)

	b.Publish("wf-1", Event{Type: TypeStepCompleted})
	b.Publish("wf-1", Event{Type: TypeStepCompleted}) // buffer full, dropped

	ev := <-ch
	assert.Equal(t, uint64(0), ev.Seq)
	select {
	case <-ch:
		t.Fatal("second event should have been dropped")
	default:
	}

	// Dropped events remain available via replay.
	evs := b.ReplaySince("wf-1", 0)
	require.Len(t, evs, 1)
	assert.Equal(t, uint64(1), evs[0].Seq)
}

func TestReplaySinceRingOverwrite(t *testing.T) {
	b := NewBus(3)
	for i := 0; i < 5; i++ {
		b.Publish("wf-1", Event{Type: TypeStepCompleted})
	}

	// Ring holds seq 2,3,4 after overwriting the oldest two.
	evs := b.ReplaySince("wf-1", 0)
	require.Len(t, evs, 3)
	assert.Equal(t, uint64(2), evs[0].Seq)
	assert.Equal(t, uint64(4), evs[2].Seq)

	evs = b.ReplaySince("wf-1", 3)
	require.Len(t, evs, 1)
	assert.Equal(t, uint64(4), evs[0].Seq)

	assert.Nil(t, b.ReplaySince("unknown", 0))
}

func TestFirehoseReceivesAllScopes(t *testing.T) {
	b := NewBus(16)
	all := b.Subscribe("", 4)
	defer b.Unsubscribe("", all)

	b.Publish("wf-1", Event{Type: TypeWorkflowStarted})
	b.Publish("wf-2", Event{Type: TypeStepCompleted})

	first := <-all
	second := <-all
	assert.Equal(t, "wf-1", first.Scope)
	assert.Equal(t, "wf-2", second.Scope)

	// Scoped subscribers are unaffected by the firehose.
	scoped := b.Subscribe("wf-1", 4)
	defer b.Unsubscribe("wf-1", scoped)
	b.Publish("wf-2", Event{Type: TypeStepCompleted})
	select {
	case extra := <-scoped:
		t.Fatalf("scoped subscriber received foreign event: %+v", extra)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(8)
	ch := b.Subscribe("wf-1", 1)
	b.Unsubscribe("wf-1", ch)

	_, open := <-ch
	assert.False(t, open)

	// Double unsubscribe must not panic.
	b.Unsubscribe("wf-1", ch)
}
