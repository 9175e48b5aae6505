package notify

import (
	"sync"

	"github.com/sirupsen/logrus"

	"siprec-bridge/pkg/metrics"
	"siprec-bridge/pkg/session"
)

// Event names on the subscription channel.
const (
	EventCallUpdate   = "call_update"
	EventInitialState = "initial_state"
)

// Event is the envelope delivered to observers. Data is either a single
// session snapshot (call_update) or a call_id keyed map (initial_state).
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Observer receives events for one agent key. Send must not block
// indefinitely; a returned error removes the observer from its set.
type Observer interface {
	Send(evt Event) error
}

// Sink receives a copy of every published event regardless of agent key,
// e.g. an AMQP exchange. Sink failures are logged but never remove the sink.
type Sink interface {
	Publish(agentDNIS string, evt Event) error
}

type queuedEvent struct {
	agentDNIS string
	evt       Event
}

// Broker fans session-change events out to the observers registered under
// the session's agent key. Publishing hands off to a dedicated delivery
// goroutine so the signaling domain never blocks on a slow observer.
type Broker struct {
	logger   *logrus.Logger
	registry *session.Registry

	mu        sync.Mutex
	observers map[string]map[Observer]struct{}
	sinks     []Sink

	queue chan queuedEvent
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewBroker creates a broker with the given handoff queue depth.
func NewBroker(logger *logrus.Logger, registry *session.Registry, queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Broker{
		logger:    logger,
		registry:  registry,
		observers: make(map[string]map[Observer]struct{}),
		queue:     make(chan queuedEvent, queueSize),
		done:      make(chan struct{}),
	}
}

// Start launches the delivery loop.
func (b *Broker) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.done:
				return
			case ev := <-b.queue:
				b.deliver(ev)
			}
		}
	}()
}

// Stop shuts the delivery loop down. Queued events are discarded.
func (b *Broker) Stop() {
	close(b.done)
	b.wg.Wait()
}

// AddSink registers a global event sink.
func (b *Broker) AddSink(sink Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Subscribe registers an observer under an agent key and returns a snapshot
// of the sessions currently routed to that agent. Registration and snapshot
// happen under one lock so the observer cannot miss the first update.
func (b *Broker) Subscribe(agentDNIS string, obs Observer) map[string]*session.CallSession {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, exists := b.observers[agentDNIS]
	if !exists {
		set = make(map[Observer]struct{})
		b.observers[agentDNIS] = set
	}
	set[obs] = struct{}{}
	metrics.Subscribers.Inc()

	b.logger.WithField("agent_dnis", agentDNIS).Info("Observer subscribed")
	return b.registry.ListByAgent(agentDNIS)
}

// Unsubscribe removes an observer; the key entry is dropped once its set is
// empty. Unsubscribing an unknown observer is a no-op.
func (b *Broker) Unsubscribe(agentDNIS string, obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(agentDNIS, obs)
}

func (b *Broker) removeLocked(agentDNIS string, obs Observer) {
	set, exists := b.observers[agentDNIS]
	if !exists {
		return
	}
	if _, member := set[obs]; !member {
		return
	}
	delete(set, obs)
	metrics.Subscribers.Dec()
	if len(set) == 0 {
		delete(b.observers, agentDNIS)
	}
	b.logger.WithField("agent_dnis", agentDNIS).Debug("Observer removed")
}

// Publish queues a call_update carrying the session snapshot for delivery to
// every observer under the session's agent key. It never blocks; if the
// handoff queue is full the event is dropped and counted.
func (b *Broker) Publish(s *session.CallSession) {
	ev := queuedEvent{
		agentDNIS: s.AgentDNIS,
		evt:       Event{Event: EventCallUpdate, Data: s},
	}
	select {
	case b.queue <- ev:
	default:
		metrics.NotificationsDropped.Inc()
		b.logger.WithFields(logrus.Fields{
			"call_id":    s.CallID,
			"agent_dnis": s.AgentDNIS,
		}).Warn("Notification queue full, dropping call update")
	}
}

// SubscriberCount reports how many observers are registered for an agent.
func (b *Broker) SubscriberCount(agentDNIS string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers[agentDNIS])
}

func (b *Broker) deliver(ev queuedEvent) {
	b.mu.Lock()
	targets := make([]Observer, 0, len(b.observers[ev.agentDNIS]))
	for obs := range b.observers[ev.agentDNIS] {
		targets = append(targets, obs)
	}
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.Unlock()

	for _, obs := range targets {
		if err := obs.Send(ev.evt); err != nil {
			metrics.NotificationsFailed.Inc()
			b.logger.WithError(err).WithField("agent_dnis", ev.agentDNIS).
				Warn("Observer delivery failed, removing observer")
			b.mu.Lock()
			b.removeLocked(ev.agentDNIS, obs)
			b.mu.Unlock()
			continue
		}
		metrics.NotificationsDelivered.Inc()
	}

	for _, sink := range sinks {
		if err := sink.Publish(ev.agentDNIS, ev.evt); err != nil {
			b.logger.WithError(err).Warn("Event sink publish failed")
		}
	}
}
