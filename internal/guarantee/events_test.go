package guarantee

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	exchanges []string
	keys      []string
	bodies    []any
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, exchange, routingKey string, body any) error {
	p.exchanges = append(p.exchanges, exchange)
	p.keys = append(p.keys, routingKey)
	p.bodies = append(p.bodies, body)
	return p.err
}

func TestBrokerListenerRoutesByEventType(t *testing.T) {
	h := newHarness(t)
	pub := &recordingPublisher{}
	h.svc.Subscribe(NewBrokerListener(pub, "guarantees"))

	g := h.create(t)
	_, err := h.svc.SubmitToBank(context.Background(), g.ID, "QAS-1", "", "clerk")
	require.NoError(t, err)

	assert.Equal(t, []string{"guarantees", "guarantees"}, pub.exchanges)
	assert.Equal(t, []string{string(EventCreated), string(EventStatusChanged)}, pub.keys)
	evt, ok := pub.bodies[1].(Event)
	require.True(t, ok)
	assert.Equal(t, StatusSubmitted, evt.Payload.(StatusChangedPayload).Status)
}

func TestBrokerFailureDoesNotFailOperation(t *testing.T) {
	h := newHarness(t)
	h.svc.Subscribe(NewBrokerListener(&recordingPublisher{err: errors.New("connection reset")}, "guarantees"))

	g := h.create(t)
	assert.Equal(t, StatusDraft, g.Status)
}

func TestDispatcherWithoutMetrics(t *testing.T) {
	d := NewDispatcher(nil, nil)
	var got []EventType
	d.Subscribe(ListenerFunc(func(context.Context, Event) error { return errors.New("boom") }))
	d.Subscribe(ListenerFunc(func(_ context.Context, evt Event) error {
		got = append(got, evt.Type)
		return nil
	}))

	d.Dispatch(context.Background(), Event{Type: EventArchived, Payload: GuaranteePayload{GuaranteeID: uuid.New()}})
	assert.Equal(t, []EventType{EventArchived}, got)
}
