package alarms

import (
	"sync"

	"github.com/samber/mo"
)

// EventKind names what happened
type EventKind int

const (
	// AlarmActivated is sent after a new active alarm was stored
	AlarmActivated EventKind = iota
	// AlarmSnoozedOff is sent when a snoozed alarm rings again
	AlarmSnoozedOff
	// AlarmDismissed is sent after an alarm was dismissed
	AlarmDismissed
	// SearchCompleted is sent when a search settled, armed or idle
	SearchCompleted
)

func (k EventKind) String() string {
	switch k {
	case AlarmActivated:
		return "alarm_activated"
	case AlarmSnoozedOff:
		return "alarm_snoozed_off"
	case AlarmDismissed:
		return "alarm_dismissed"
	case SearchCompleted:
		return "search_completed"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers. Alarm is set for alarm events, Next
// for SearchCompleted.
type Event struct {
	Kind  EventKind
	Alarm ActiveAlarm
	Next  mo.Option[int64]
}

// bus delivers events synchronously in subscription order
type bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Event)
	order  []int
}

func (b *bus) subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]func(Event))
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *bus) publish(e Event) {
	b.mu.Lock()
	var fns []func(Event)
	for _, id := range b.order {
		if fn, ok := b.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
