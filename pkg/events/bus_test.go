package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_EmitAssignsMonotonicIDs(t *testing.T) {
	b := NewBus(nil)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Emit(Started())
	b.Emit(StageUpdate("cloning"))
	b.Emit(Completed("done"))

	var ids []uint64
	for i := 0; i < 3; i++ {
		ids = append(ids, (<-sub).ID)
	}
	require.Len(t, ids, 3)
	assert.Equal(t, uint64(1), ids[0])
	assert.Equal(t, uint64(2), ids[1])
	assert.Equal(t, uint64(3), ids[2])
}

func TestBus_FIFOPerSubscriber(t *testing.T) {
	b := NewBus(nil)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Emit(ToolExecution("list-directory", "{}"))
	b.Emit(ToolExecution("read-file", `{"path":"go.mod"}`))

	first := <-sub
	second := <-sub
	assert.Equal(t, "list-directory", first.ToolName)
	assert.Equal(t, "read-file", second.ToolName)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(nil)
	sub := b.Subscribe()
	b.Unsubscribe(sub)

	_, ok := <-sub
	assert.False(t, ok)
}

func TestBus_SlowConsumerNeverBlocksEmit(t *testing.T) {
	b := NewBus(nil)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < subscriberBuffer*2; i++ {
		b.Emit(Progress(i, subscriberBuffer*2, "step"))
	}
	// Emit must not have blocked to reach here; the subscriber may have
	// dropped some events under the oldest-drop policy, but at least one
	// event should remain readable.
	select {
	case e := <-sub:
		assert.Equal(t, KindProgress, e.Kind)
	default:
		t.Fatal("expected at least one buffered event")
	}
}

func TestBus_CloseClosesAllSubscribers(t *testing.T) {
	b := NewBus(nil)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()

	b.Close()

	_, ok1 := <-sub1
	_, ok2 := <-sub2
	assert.False(t, ok1)
	assert.False(t, ok2)
}
