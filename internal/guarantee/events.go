// internal/guarantee/events.go
package guarantee

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guaranteedesk/internal/guarantee/metrics"
)

// EventType discriminates published events.
type EventType string

const (
	EventCreated            EventType = "guarantee_created"
	EventStatusChanged      EventType = "guarantee_status_changed"
	EventDocumentAdded      EventType = "guarantee_document_added"
	EventDocumentReviewed   EventType = "guarantee_document_reviewed"
	EventNoteAdded          EventType = "guarantee_note_added"
	EventAlertsRaised       EventType = "guarantee_alerts_raised"
	EventAlertUpdated       EventType = "guarantee_alert_updated"
	EventExtensionRequested EventType = "guarantee_extension_requested"
	EventExtensionDecided   EventType = "guarantee_extension_decided"
	EventArchived           EventType = "guarantee_archived"
)

// Event is what listeners receive and what is journaled.
type Event struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// CreatedPayload accompanies guarantee_created.
type CreatedPayload struct {
	GuaranteeID     uuid.UUID `json:"guarantee_id"`
	GuaranteeNumber string    `json:"guarantee_number"`
	CreatedBy       string    `json:"created_by"`
}

// StatusChangedPayload accompanies guarantee_status_changed.
type StatusChangedPayload struct {
	GuaranteeID     uuid.UUID `json:"guarantee_id"`
	GuaranteeNumber string    `json:"guarantee_number"`
	PreviousStatus  Status    `json:"previous_status"`
	Status          Status    `json:"status"`
	ChangedBy       string    `json:"changed_by"`
	Reason          string    `json:"reason,omitempty"`
}

// GuaranteePayload accompanies every other event type.
type GuaranteePayload struct {
	GuaranteeID     uuid.UUID `json:"guarantee_id"`
	GuaranteeNumber string    `json:"guarantee_number"`
	Actor           string    `json:"actor"`
	SubjectID       uuid.UUID `json:"subject_id,omitempty"`
	Detail          string    `json:"detail,omitempty"`
	Count           int       `json:"count,omitempty"`
}

// Listener receives events synchronously after a change is stored.
type Listener interface {
	HandleEvent(ctx context.Context, evt Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, evt Event) error

func (f ListenerFunc) HandleEvent(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Subscription identifies a registered listener.
type Subscription uint64

// Dispatcher fans events out to listeners in subscription order. A failing
// or panicking listener is logged and skipped; Dispatch never fails.
type Dispatcher struct {
	mu        sync.RWMutex
	next      Subscription
	listeners []subscriber
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

type subscriber struct {
	id       Subscription
	listener Listener
}

// NewDispatcher creates a dispatcher. metrics may be nil.
func NewDispatcher(logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logger: logger, metrics: m}
}

// Subscribe registers l and returns the handle used to remove it.
func (d *Dispatcher) Subscribe(l Listener) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.listeners = append(d.listeners, subscriber{id: d.next, listener: l})
	return d.next
}

// Unsubscribe removes a listener. It reports whether sub was registered.
func (d *Dispatcher) Unsubscribe(sub Subscription) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.listeners {
		if s.id == sub {
			d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Dispatch delivers evt to every listener.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) {
	d.mu.RLock()
	listeners := make([]subscriber, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for _, s := range listeners {
		if err := d.deliver(ctx, s.listener, evt); err != nil {
			d.logger.Warn("event listener failed",
				zap.Uint64("subscription", uint64(s.id)),
				zap.String("event", string(evt.Type)),
				zap.Error(err),
			)
			if d.metrics != nil {
				d.metrics.IncrementListenerFailure(string(evt.Type))
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, l Listener, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ListenerError{EventType: string(evt.Type), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := l.HandleEvent(ctx, evt); err != nil {
		return &ListenerError{EventType: string(evt.Type), Err: err}
	}
	return nil
}

// Publisher is the broker side of BrokerListener.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
}

// BrokerListener forwards every event to a topic exchange using the event
// type as routing key.
type BrokerListener struct {
	publisher Publisher
	exchange  string
}

func NewBrokerListener(p Publisher, exchange string) *BrokerListener {
	return &BrokerListener{publisher: p, exchange: exchange}
}

func (b *BrokerListener) HandleEvent(ctx context.Context, evt Event) error {
	return b.publisher.Publish(ctx, b.exchange, string(evt.Type), evt)
}
