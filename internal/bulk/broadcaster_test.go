package bulk_test

import (
	"testing"
	"time"

	"bulkhub/internal/bulk"
	"bulkhub/internal/bulk/testutil"
)

func TestBroadcasterSnapshotFirst(t *testing.T) {
	b := bulk.NewBroadcaster(16, testutil.DiscardLogger())
	defer b.Stop()

	op := bulk.NewOperation("op-1", "owner-1", bulk.ActionSetStatus, nil, []string{"a", "b"}, nil, 10)
	op.Start()

	sub := b.Subscribe(op)
	defer b.Unsubscribe(sub)

	select {
	case ev := <-sub.Events():
		if ev.Type != bulk.EventSnapshot {
			t.Fatalf("first event = %v, want snapshot", ev.Type)
		}
		if ev.Status != bulk.StatusInProgress {
			t.Errorf("snapshot status = %v, want in_progress", ev.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot event")
	}
}

func TestBroadcasterOrderedDeltas(t *testing.T) {
	b := bulk.NewBroadcaster(64, testutil.DiscardLogger())
	defer b.Stop()

	op := bulk.NewOperation("op-1", "owner-1", bulk.ActionSetStatus, nil,
		[]string{"a", "b", "c"}, nil, 10)
	op.Start()
	sub := b.Subscribe(op)

	for _, id := range []string{"a", "b", "c"} {
		if _, err := b.PublishItemOutcome(op, bulk.ItemOutcome{ItemID: id, State: bulk.ItemSucceeded}); err != nil {
			t.Fatalf("PublishItemOutcome(%s): %v", id, err)
		}
	}
	op.Finalize()
	b.PublishTerminal(op)

	events := testutil.CollectEvents(t, sub, time.Second)

	if events[0].Type != bulk.EventSnapshot {
		t.Fatalf("first event = %v, want snapshot", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != bulk.EventTerminal {
		t.Fatalf("last event = %v, want terminal", last.Type)
	}
	if last.Status != bulk.StatusCompleted || last.Processed != 3 {
		t.Errorf("terminal event = %v processed=%d, want completed processed=3", last.Status, last.Processed)
	}

	// Processed counts never regress across the stream.
	prev := -1
	for _, ev := range events {
		if ev.Processed < prev {
			t.Errorf("processed regressed: %d after %d", ev.Processed, prev)
		}
		prev = ev.Processed
	}
}

func TestBroadcasterSubscribeAfterTerminal(t *testing.T) {
	b := bulk.NewBroadcaster(16, testutil.DiscardLogger())
	defer b.Stop()

	op := bulk.NewOperation("op-1", "owner-1", bulk.ActionSetStatus, nil, []string{"a"}, nil, 10)
	op.Start()
	op.CompleteItem(bulk.ItemOutcome{ItemID: "a", State: bulk.ItemSucceeded})
	op.Finalize()

	sub := b.Subscribe(op)
	events := testutil.CollectEvents(t, sub, time.Second)

	if len(events) != 2 {
		t.Fatalf("events = %d, want snapshot + terminal", len(events))
	}
	if events[0].Type != bulk.EventSnapshot || events[1].Type != bulk.EventTerminal {
		t.Errorf("event types = %v, %v; want snapshot, terminal", events[0].Type, events[1].Type)
	}

	// The channel closes; no live registration remains.
	if _, ok := <-sub.Events(); ok {
		t.Error("channel still open after terminal replay")
	}
	if n := b.SubscriberCount("op-1"); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

func TestBroadcasterSlowSubscriberStillGetsTerminal(t *testing.T) {
	// Buffer of 2 and a subscriber that never reads until the end: the
	// intermediate events overflow and are dropped, but the terminal event
	// must still land.
	b := bulk.NewBroadcaster(2, testutil.DiscardLogger())
	defer b.Stop()

	ids := testutil.ItemIDs(20)
	op := bulk.NewOperation("op-1", "owner-1", bulk.ActionSetStatus, nil, ids, nil, 10)
	op.Start()
	sub := b.Subscribe(op)

	for _, id := range ids {
		if _, err := b.PublishItemOutcome(op, bulk.ItemOutcome{ItemID: id, State: bulk.ItemSucceeded}); err != nil {
			t.Fatalf("PublishItemOutcome: %v", err)
		}
	}
	op.Finalize()
	b.PublishTerminal(op)

	events := testutil.CollectEvents(t, sub, time.Second)
	if len(events) >= 22 {
		t.Errorf("slow subscriber received all %d events, expected drops", len(events))
	}
	last := events[len(events)-1]
	if last.Type != bulk.EventTerminal || last.Processed != 20 {
		t.Errorf("terminal event = %v processed=%d, want terminal processed=20", last.Type, last.Processed)
	}
}

func TestBroadcasterSubscriberIsolation(t *testing.T) {
	b := bulk.NewBroadcaster(64, testutil.DiscardLogger())
	defer b.Stop()

	opA := bulk.NewOperation("op-a", "owner-1", bulk.ActionSetStatus, nil, []string{"x"}, nil, 10)
	opB := bulk.NewOperation("op-b", "owner-1", bulk.ActionSetStatus, nil, []string{"y"}, nil, 10)
	opA.Start()
	opB.Start()

	subA := b.Subscribe(opA)
	subB := b.Subscribe(opB)
	defer b.Unsubscribe(subB)

	b.PublishItemOutcome(opA, bulk.ItemOutcome{ItemID: "x", State: bulk.ItemSucceeded})
	opA.Finalize()
	b.PublishTerminal(opA)

	events := testutil.CollectEvents(t, subA, time.Second)
	for _, ev := range events {
		if ev.ID != "op-a" {
			t.Errorf("subscriber for op-a received event for %s", ev.ID)
		}
	}

	// op-b's subscriber saw only its own snapshot.
	select {
	case ev := <-subB.Events():
		if ev.Type != bulk.EventSnapshot || ev.ID != "op-b" {
			t.Errorf("unexpected event on op-b subscription: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot on op-b subscription")
	}
	select {
	case ev := <-subB.Events():
		t.Errorf("op-b subscriber received stray event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcasterUnsubscribeIdempotent(t *testing.T) {
	b := bulk.NewBroadcaster(16, testutil.DiscardLogger())
	defer b.Stop()

	op := bulk.NewOperation("op-1", "owner-1", bulk.ActionSetStatus, nil, []string{"a"}, nil, 10)
	op.Start()
	sub := b.Subscribe(op)

	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // must not panic

	if n := b.SubscriberCount("op-1"); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}
