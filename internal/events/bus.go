package events

import (
	"sync"
	"time"

	"votewatch/internal/calibrate"
)

// CycleEvent is published after every successful calibration cycle.
type CycleEvent struct {
	CycleID   string
	Timestamp time.Time
	Total     int64
	Results   []calibrate.Result
}

// Bus provides simple in-process pub/sub for cycle results.
type Bus struct {
	mu   sync.RWMutex
	subs []chan CycleEvent
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) Subscribe() <-chan CycleEvent {
	ch := make(chan CycleEvent, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, ch)
	return ch
}

// Publish never blocks; slow subscribers drop events.
func (b *Bus) Publish(ev CycleEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
