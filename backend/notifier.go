package backend

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/pkg/errors"
)

const topicPrefix = "auth:session:"

// Notifier is the change feed a backend exposes through OnSessionChanged.
// Each listener gets its own bus topic so unsubscribing removes exactly that listener.
//
// Publish runs listeners synchronously while the bus lock is held: a listener
// that subscribes or unsubscribes from inside its callback deadlocks.
type Notifier struct {
	bus    evbus.Bus
	mu     sync.Mutex
	topics map[string]sessions.Listener
}

func NewNotifier() *Notifier {
	return &Notifier{
		bus:    evbus.New(),
		topics: make(map[string]sessions.Listener),
	}
}

// Subscribe registers listener until the returned subscription is released.
func (n *Notifier) Subscribe(listener sessions.Listener) (sessions.Subscription, error) {
	if listener == nil {
		return nil, errors.New("[Notifier.Subscribe] listener is required")
	}

	topic := topicPrefix + uuid.NewString()
	if err := n.bus.Subscribe(topic, listener); err != nil {
		return nil, errors.Wrap(err, "[Notifier.Subscribe] bus subscribe")
	}

	n.mu.Lock()
	n.topics[topic] = listener
	n.mu.Unlock()

	var once sync.Once
	return sessions.SubscriptionFunc(func() {
		once.Do(func() { n.unsubscribe(topic) })
	}), nil
}

// Publish delivers ev to every current listener before returning.
func (n *Notifier) Publish(ev sessions.Event) {
	n.mu.Lock()
	topics := make([]string, 0, len(n.topics))
	for topic := range n.topics {
		topics = append(topics, topic)
	}
	n.mu.Unlock()

	for _, topic := range topics {
		n.bus.Publish(topic, ev)
	}
}

// Len is the number of live subscriptions.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.topics)
}

func (n *Notifier) unsubscribe(topic string) {
	n.mu.Lock()
	listener, ok := n.topics[topic]
	delete(n.topics, topic)
	n.mu.Unlock()

	if ok {
		_ = n.bus.Unsubscribe(topic, listener)
	}
}
