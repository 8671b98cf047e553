package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu           sync.RWMutex
	blockEvents  []*BlockEvent
	walletEvents []*WalletEvent
	priceEvents  []*PriceEvent
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishBlock records the event and returns any configured error.
func (m *MockPublisher) PublishBlock(ctx context.Context, event *BlockEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.blockEvents = append(m.blockEvents, event)
	return nil
}

// PublishWallets records the events and returns any configured error.
func (m *MockPublisher) PublishWallets(ctx context.Context, events []*WalletEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.walletEvents = append(m.walletEvents, events...)
	return nil
}

// PublishPrices records the events and returns any configured error.
func (m *MockPublisher) PublishPrices(ctx context.Context, events []*PriceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.priceEvents = append(m.priceEvents, events...)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetBlockEvents returns all published block events (for testing).
func (m *MockPublisher) GetBlockEvents() []*BlockEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*BlockEvent(nil), m.blockEvents...)
}

// GetWalletEvents returns all published wallet events (for testing).
func (m *MockPublisher) GetWalletEvents() []*WalletEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*WalletEvent(nil), m.walletEvents...)
}

// GetWalletEventsFor returns events published for a specific wallet.
func (m *MockPublisher) GetWalletEventsFor(wallet string) []*WalletEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*WalletEvent, 0)
	for _, event := range m.walletEvents {
		if event.Aggregates.Wallet == wallet {
			events = append(events, event)
		}
	}
	return events
}

// GetPriceEvents returns all published price events (for testing).
func (m *MockPublisher) GetPriceEvents() []*PriceEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*PriceEvent(nil), m.priceEvents...)
}

// SetPublishError configures the mock to return an error on every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockEvents = nil
	m.walletEvents = nil
	m.priceEvents = nil
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
