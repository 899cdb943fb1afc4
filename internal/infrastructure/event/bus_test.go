package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/payops/recon/internal/domain/shared"
)

// testHandler implements EventHandler for testing
type testHandler struct {
	eventTypes []string
	handled    []shared.DomainEvent
	err        error
	panics     bool
	mu         sync.Mutex
}

func newTestHandler(eventTypes ...string) *testHandler {
	return &testHandler{eventTypes: eventTypes}
}

func (h *testHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panics {
		panic("handler exploded")
	}
	h.handled = append(h.handled, event)
	return h.err
}

func (h *testHandler) EventTypes() []string {
	return h.eventTypes
}

func (h *testHandler) getHandled() []shared.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]shared.DomainEvent(nil), h.handled...)
}

func statusChangedEvent(t *testing.T, nvcCode string) *recon.ReconciliationStatusChangedEvent {
	t.Helper()
	record, err := recon.NewReconciliationRecord(nvcCode)
	require.NoError(t, err)
	return recon.NewReconciliationStatusChangedEvent(record, recon.StatusUnmatched)
}

func flaggedEvent(t *testing.T, nvcCode string) *recon.RecordFlaggedEvent {
	t.Helper()
	record, err := recon.NewReconciliationRecord(nvcCode)
	require.NoError(t, err)
	return recon.NewRecordFlaggedEvent(record)
}

func TestInMemoryEventBus_Publish_RoutesByEventType(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	statusHandler := newTestHandler("ReconciliationStatusChanged")
	bus.Subscribe(statusHandler)

	statusEvent := statusChangedEvent(t, "NVC7KAAA")
	err := bus.Publish(context.Background(), statusEvent, flaggedEvent(t, "NVC7KBBB"))

	require.NoError(t, err)
	handled := statusHandler.getHandled()
	require.Len(t, handled, 1)
	assert.Equal(t, statusEvent, handled[0])
	assert.Equal(t, "NVC7KAAA", handled[0].AggregateID())
}

func TestInMemoryEventBus_Publish_WildcardHandlerSeesAllEvents(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	wildcard := newTestHandler()
	bus.Subscribe(wildcard)

	err := bus.Publish(context.Background(),
		statusChangedEvent(t, "NVC7KAAA"),
		flaggedEvent(t, "NVC7KBBB"),
	)

	require.NoError(t, err)
	assert.Len(t, wildcard.getHandled(), 2)
}

func TestInMemoryEventBus_Publish_HandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	failing := newTestHandler("ReconciliationStatusChanged")
	failing.err = errors.New("handler down")
	healthy := newTestHandler("ReconciliationStatusChanged")
	bus.Subscribe(failing)
	bus.Subscribe(healthy)

	err := bus.Publish(context.Background(), statusChangedEvent(t, "NVC7KAAA"))

	require.NoError(t, err)
	assert.Len(t, failing.getHandled(), 1)
	assert.Len(t, healthy.getHandled(), 1)
}

func TestInMemoryEventBus_Publish_PanickingHandlerIsContained(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	exploding := newTestHandler("ReconciliationStatusChanged")
	exploding.panics = true
	healthy := newTestHandler("ReconciliationStatusChanged")
	bus.Subscribe(exploding)
	bus.Subscribe(healthy)

	err := bus.Publish(context.Background(), statusChangedEvent(t, "NVC7KAAA"))

	require.NoError(t, err)
	assert.Len(t, healthy.getHandled(), 1)
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	handler := newTestHandler("ReconciliationStatusChanged")
	bus.Subscribe(handler)

	require.NoError(t, bus.Publish(context.Background(), statusChangedEvent(t, "NVC7KAAA")))
	require.Len(t, handler.getHandled(), 1)

	bus.Unsubscribe(handler)

	require.NoError(t, bus.Publish(context.Background(), statusChangedEvent(t, "NVC7KBBB")))
	assert.Len(t, handler.getHandled(), 1)
}

func TestInMemoryEventBus_StartStop(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, bus.Start(ctx))
	require.NoError(t, bus.Stop(ctx))
}
