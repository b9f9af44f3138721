package bus

import (
	"testing"
	"time"

	"github.com/agentscan/registry-indexer/internal/logger"
	"github.com/agentscan/registry-indexer/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(chainID, block uint64, logIndex uint32) events.Event {
	return events.Event{
		ChainID:         chainID,
		BlockNumber:     block,
		LogIndex:        logIndex,
		TransactionHash: "0xabc",
		Type:            events.TypeRegistered,
		Data:            events.RegisteredData{AgentID: "1"},
	}
}

func collect(t *testing.T, sub *Subscription, n int) []Message {
	t.Helper()

	out := make([]Message, 0, n)
	for len(out) < n {
		select {
		case msg, ok := <-sub.Events():
			require.True(t, ok, "subscription closed early")
			out = append(out, msg)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %d messages, got %d", n, len(out))
		}
	}
	return out
}

func TestBus_PublishOrder(t *testing.T) {
	b := New(16, logger.NewNopLogger())
	defer b.Close()

	sub := b.Subscribe(nil)
	defer sub.Close()

	b.Publish(testEvent(1, 10, 0))
	b.Publish(testEvent(1, 20, 2))
	b.Publish(testEvent(1, 40, 1))

	msgs := collect(t, sub, 3)
	assert.Equal(t, uint64(10), msgs[0].Event.BlockNumber)
	assert.Equal(t, uint64(20), msgs[1].Event.BlockNumber)
	assert.Equal(t, uint64(40), msgs[2].Event.BlockNumber)
	for _, msg := range msgs {
		assert.Zero(t, msg.Lagged)
	}
}

func TestBus_ChainFilter(t *testing.T) {
	b := New(16, logger.NewNopLogger())
	defer b.Close()

	chainA := uint64(11155111)
	subA := b.Subscribe(&chainA)
	defer subA.Close()

	all := b.Subscribe(nil)
	defer all.Close()

	b.Publish(testEvent(11155111, 10, 0))
	b.Publish(testEvent(84532, 11, 0))

	msgs := collect(t, subA, 1)
	assert.Equal(t, uint64(11155111), msgs[0].Event.ChainID)

	// No second message for the filtered subscriber.
	select {
	case msg := <-subA.Events():
		t.Fatalf("unexpected message for chain %d", msg.Event.ChainID)
	case <-time.After(50 * time.Millisecond):
	}

	assert.Len(t, collect(t, all, 2), 2)
}

func TestBus_SlowSubscriberLags(t *testing.T) {
	b := New(2, logger.NewNopLogger())
	defer b.Close()

	sub := b.Subscribe(nil)
	defer sub.Close()

	// Capacity 2: the third and fourth publishes are dropped.
	for i := uint64(1); i <= 4; i++ {
		b.Publish(testEvent(1, i, 0))
	}

	msgs := collect(t, sub, 2)
	assert.Equal(t, uint64(1), msgs[0].Event.BlockNumber)
	assert.Equal(t, uint64(2), msgs[1].Event.BlockNumber)

	// The next delivery reports the gap.
	b.Publish(testEvent(1, 5, 0))
	msgs = collect(t, sub, 1)
	assert.Equal(t, uint64(5), msgs[0].Event.BlockNumber)
	assert.Equal(t, uint64(2), msgs[0].Lagged)
}

func TestBus_PublisherNeverBlocks(t *testing.T) {
	b := New(1, logger.NewNopLogger())
	defer b.Close()

	sub := b.Subscribe(nil)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		// Far more publishes than buffer capacity; must not block even
		// though nobody is reading.
		for i := uint64(0); i < 1000; i++ {
			b.Publish(testEvent(1, i, 0))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(16, logger.NewNopLogger())
	defer b.Close()

	sub := b.Subscribe(nil)
	assert.Equal(t, 1, b.SubscriberCount())

	sub.Close()
	assert.Equal(t, 0, b.SubscriberCount())

	// Channel is closed.
	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Double close is safe.
	sub.Close()
}

func TestBus_Close(t *testing.T) {
	b := New(16, logger.NewNopLogger())

	sub := b.Subscribe(nil)
	b.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())

	// Publishing after close is a no-op.
	b.Publish(testEvent(1, 1, 0))

	// Subscribing after close yields a closed subscription.
	late := b.Subscribe(nil)
	_, ok = <-late.Events()
	assert.False(t, ok)
}
