// Package broadcast fans product updates out to live page subscribers.
package broadcast

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pysugar/shelflife/internal/logging"
)

const (
	MessageTypeProduct     = "product"
	MessageTypeLibraryItem = "library_item"

	defaultBuffer = 16
)

// Message is one update pushed to a topic.
type Message struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Data   any    `json:"data"`
}

func ProductTopic(productID uint) string { return fmt.Sprintf("product_%d", productID) }

func LibraryTopic(libraryID uint) string { return fmt.Sprintf("library_%d", libraryID) }

// Subscriber receives messages on C until it is cancelled or dropped for
// falling behind, at which point C is closed.
type Subscriber struct {
	id    uint64
	topic string
	C     chan Message
}

// Hub is an in-process topic pub/sub.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*Subscriber]struct{}
	nextID uint64
	closed bool
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers interest in topic. The returned func unsubscribes.
func (h *Hub) Subscribe(topic string) (*Subscriber, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	s := &Subscriber{id: h.nextID, topic: topic, C: make(chan Message, defaultBuffer)}
	if h.closed {
		close(s.C)
		return s, func() {}
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Subscriber]struct{})
	}
	h.topics[topic][s] = struct{}{}
	logging.Debug().Str("topic", topic).Int("subscribers", len(h.topics[topic])).Msg("stream subscriber connected")

	return s, func() { h.remove(s) }
}

// Publish delivers msg to every subscriber of topic without blocking.
// Subscribers whose buffer is full are dropped. It returns the number of
// subscribers that received the message.
func (h *Hub) Publish(topic string, msg Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := make([]*Subscriber, 0, len(h.topics[topic]))
	for s := range h.topics[topic] {
		subs = append(subs, s)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	delivered := 0
	for _, s := range subs {
		select {
		case s.C <- msg:
			delivered++
		default:
			logging.Warn().Str("topic", topic).Msg("dropping slow stream subscriber")
			h.removeLocked(s)
		}
	}
	return delivered
}

// SubscriberCount reports how many subscribers topic has.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// Serve closes every stream once ctx is done.
func (h *Hub) Serve(ctx context.Context) error {
	<-ctx.Done()
	h.Close()
	return ctx.Err()
}

func (h *Hub) String() string { return "broadcast-hub" }

// Close disconnects all subscribers. Later subscriptions are closed at once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	n := 0
	for _, subs := range h.topics {
		for s := range subs {
			close(s.C)
			n++
		}
	}
	h.topics = make(map[string]map[*Subscriber]struct{})
	logging.Info().Int("subscribers_closed", n).Msg("broadcast hub stopped")
}

func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *Subscriber) {
	subs, ok := h.topics[s.topic]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	close(s.C)
	if len(subs) == 0 {
		delete(h.topics, s.topic)
	}
}
