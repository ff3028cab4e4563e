package bulk

import (
	"log/slog"
	"sync"
)

// Subscription is one live observer of one operation. It receives a snapshot
// on attach, then an ordered stream of delta events, then a terminal event,
// after which the channel is closed.
type Subscription struct {
	operationID string
	events      chan Event
}

// OperationID returns the operation this subscription observes.
func (s *Subscription) OperationID() string { return s.operationID }

// Events returns the subscription's event stream.
func (s *Subscription) Events() <-chan Event { return s.events }

type publishRequest struct {
	op       *Operation
	outcome  *ItemOutcome // nil for started/terminal publications
	terminal bool
	status   OperationStatus
	err      error
	done     chan struct{}
}

// Broadcaster folds item outcomes into operation counters and fans the
// resulting snapshots out to subscribers. All publications funnel through a
// single processor goroutine, so every subscriber observes the same ordered
// sequence and a counter update is never visible without its event (or the
// other way around).
//
// Delivery is best-effort for progress events: a subscriber that stops
// reading has events dropped rather than ever blocking the scheduler. The
// terminal event is delivered at-least-once to every attached subscriber.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]bool
	buffer int
	logger *slog.Logger

	updates  chan publishRequest
	stop     chan struct{}
	stopOnce sync.Once
}

// NewBroadcaster creates a broadcaster and starts its update processor.
func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer < 2 {
		buffer = 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Broadcaster{
		subs:    make(map[string]map[*Subscription]bool),
		buffer:  buffer,
		logger:  logger.With(slog.String("component", "broadcaster")),
		updates: make(chan publishRequest, 64),
		stop:    make(chan struct{}),
	}

	go b.processUpdates()

	return b
}

// Subscribe attaches a new observer. The current snapshot is already queued
// on the returned subscription; a fresh snapshot is always the first event,
// never partial history. Subscribing to a terminal operation yields the
// snapshot, the terminal event, and a closed channel.
func (b *Broadcaster) Subscribe(op *Operation) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		operationID: op.ID(),
		events:      make(chan Event, b.buffer),
	}

	// Snapshot is taken under b.mu, which every fan-out also holds, so no
	// delta can slip between the snapshot and the registration below.
	st := op.Snapshot()
	sub.events <- Event{Type: EventSnapshot, OperationStatus: st}

	if st.Status.Terminal() {
		sub.events <- Event{Type: EventTerminal, OperationStatus: st}
		close(sub.events)
		return sub
	}

	if b.subs[op.ID()] == nil {
		b.subs[op.ID()] = make(map[*Subscription]bool)
	}
	b.subs[op.ID()][sub] = true
	return sub
}

// Unsubscribe detaches an observer and releases its channel. Idempotent and
// safe on a subscription already closed by a terminal event.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if members, ok := b.subs[sub.operationID]; ok {
		if members[sub] {
			delete(members, sub)
			close(sub.events)
		}
		if len(members) == 0 {
			delete(b.subs, sub.operationID)
		}
	}
}

// SubscriberCount returns the number of attached observers for an operation.
func (b *Broadcaster) SubscriberCount(operationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[operationID])
}

// PublishItemOutcome folds one terminal item outcome into the operation's
// counters and broadcasts the resulting snapshot. Blocks until the update
// has been applied, so the caller observes its own write.
func (b *Broadcaster) PublishItemOutcome(op *Operation, outcome ItemOutcome) (OperationStatus, error) {
	req := publishRequest{
		op:      op,
		outcome: &outcome,
		done:    make(chan struct{}),
	}

	select {
	case b.updates <- req:
	case <-b.stop:
		return op.Snapshot(), nil
	}
	<-req.done
	return req.status, req.err
}

// PublishProgress broadcasts the operation's current snapshot as a progress
// event without touching the counters. Used for the pending -> in_progress
// transition.
func (b *Broadcaster) PublishProgress(op *Operation) {
	req := publishRequest{op: op, done: make(chan struct{})}

	select {
	case b.updates <- req:
	case <-b.stop:
		return
	}
	<-req.done
}

// PublishTerminal broadcasts the terminal snapshot to every subscriber and
// closes all of the operation's subscriptions. The operation must already be
// in a terminal state.
func (b *Broadcaster) PublishTerminal(op *Operation) {
	req := publishRequest{op: op, terminal: true, done: make(chan struct{})}

	select {
	case b.updates <- req:
	case <-b.stop:
		return
	}
	<-req.done
}

// Stop shuts down the broadcaster's processor.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *Broadcaster) processUpdates() {
	for {
		select {
		case <-b.stop:
			return
		case req := <-b.updates:
			b.handlePublish(req)
		}
	}
}

func (b *Broadcaster) handlePublish(req publishRequest) {
	defer close(req.done)

	if req.outcome != nil {
		req.status, req.err = req.op.CompleteItem(*req.outcome)
		if req.err != nil {
			// Counters are frozen; nothing to broadcast.
			return
		}
	} else {
		req.status = req.op.Snapshot()
	}

	if req.terminal {
		b.fanOutTerminal(req.op.ID(), req.status)
		return
	}
	b.fanOutProgress(req.op.ID(), req.status)
}

func (b *Broadcaster) fanOutProgress(operationID string, st OperationStatus) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ev := Event{Type: EventProgress, OperationStatus: st}
	for sub := range b.subs[operationID] {
		select {
		case sub.events <- ev:
		default:
			// Slow subscriber: drop the delta rather than stall processing.
			b.logger.Debug("dropped progress event for slow subscriber",
				slog.String("operation_id", operationID))
		}
	}
}

func (b *Broadcaster) fanOutTerminal(operationID string, st OperationStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev := Event{Type: EventTerminal, OperationStatus: st}
	for sub := range b.subs[operationID] {
		select {
		case sub.events <- ev:
		default:
			// Full buffer: evict the oldest buffered event to make room.
			// The processor is the only sender, so the retry cannot fail.
			select {
			case <-sub.events:
			default:
			}
			select {
			case sub.events <- ev:
			default:
			}
		}
		close(sub.events)
	}
	delete(b.subs, operationID)
}
