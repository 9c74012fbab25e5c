package stream

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PostingView is one leg of a recorded transaction as seen by subscribers.
type PostingView struct {
	Account  string          `json:"account"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// EntryEvent describes a transaction accepted into the ledger.
type EntryEvent struct {
	TransactionID string        `json:"transaction_id"`
	Date          string        `json:"date"`
	Narration     string        `json:"narration"`
	Payee         string        `json:"payee,omitempty"`
	Postings      []PostingView `json:"postings"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Stream fan-outs ledger entry events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan EntryEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan EntryEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan EntryEvent {
	ch := make(chan EntryEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt EntryEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
