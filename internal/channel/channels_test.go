package channel

import (
	"context"
	"testing"
	"time"

	"kisflow/config"
	"kisflow/models"
)

func testChannels() *Channels {
	return NewChannels(config.ChannelsConfig{
		RawBuffer:     2,
		SignalBuffer:  2,
		OrderBuffer:   2,
		PersistBuffer: 2,
	})
}

func TestSendRawCountsStats(t *testing.T) {
	c := testChannels()
	defer c.Close()

	ctx := context.Background()
	if !c.SendRaw(ctx, models.RawMessage{Payload: "x"}) {
		t.Fatalf("send failed on empty queue")
	}
	if got := c.GetStats().RawSent; got != 1 {
		t.Errorf("RawSent = %d, want 1", got)
	}
}

func TestSendRawBlocksUntilCancelled(t *testing.T) {
	c := testChannels()
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	// Fill the queue so the next send must block.
	c.SendRaw(ctx, models.RawMessage{Payload: "1"})
	c.SendRaw(ctx, models.RawMessage{Payload: "2"})

	done := make(chan bool)
	go func() {
		done <- c.SendRaw(ctx, models.RawMessage{Payload: "3"})
	}()

	select {
	case <-done:
		t.Fatalf("send on full queue returned before cancellation")
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	if ok := <-done; ok {
		t.Errorf("send should report failure after cancellation")
	}
}

func TestWaitPersistDrained(t *testing.T) {
	c := testChannels()
	defer c.Close()

	ctx := context.Background()
	c.SendPersist(ctx, models.FillRecord{ID: "a"})

	if c.WaitPersistDrained(30 * time.Millisecond) {
		t.Fatalf("expected drain timeout while record is queued")
	}

	<-c.Persist
	if !c.WaitPersistDrained(time.Second) {
		t.Errorf("expected drain success on empty queue")
	}
}

func TestOrderQueueFIFO(t *testing.T) {
	c := testChannels()
	defer c.Close()

	ctx := context.Background()
	c.SendOrder(ctx, models.OrderIntent{ID: "first"})
	c.SendOrder(ctx, models.OrderIntent{ID: "second"})

	if got := (<-c.Order).ID; got != "first" {
		t.Errorf("first dequeue = %s, want first", got)
	}
	if got := (<-c.Order).ID; got != "second" {
		t.Errorf("second dequeue = %s, want second", got)
	}
}
