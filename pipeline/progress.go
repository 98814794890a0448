package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rasha-hantash/locscout/steps/types"
	"github.com/rasha-hantash/locscout/store"
)

// MailboxSize bounds each subscriber's queue. When a subscriber falls
// behind, its oldest marker is dropped.
const MailboxSize = 16

// ProgressStore persists the latest marker for pollers.
type ProgressStore interface {
	SetProgress(ctx context.Context, tabID string, stage types.Stage) (store.Marker, error)
}

// Broker records progress markers and fans them out to subscribers.
type Broker struct {
	store ProgressStore

	mu   sync.Mutex
	subs map[int]chan store.Marker
	next int
}

func NewBroker(s ProgressStore) *Broker {
	return &Broker{store: s, subs: map[int]chan store.Marker{}}
}

// Publish persists stage and delivers it to every subscriber. A failed
// write is logged; progress is advisory.
func (b *Broker) Publish(ctx context.Context, tabID string, stage types.Stage) store.Marker {
	m, err := b.store.SetProgress(context.WithoutCancel(ctx), tabID, stage)
	if err != nil {
		slog.Warn("failed to persist progress",
			slog.String("stage", string(stage)),
			slog.Any("error", err))
	}
	slog.Debug("progress",
		slog.String("tab_id", tabID),
		slog.String("stage", string(stage)))

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- m:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- m:
			default:
			}
		}
	}
	return m
}

// Subscribe returns a channel of future markers and a function that
// unsubscribes and closes it.
func (b *Broker) Subscribe() (<-chan store.Marker, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan store.Marker, MailboxSize)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}
