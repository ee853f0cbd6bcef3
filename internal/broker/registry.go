package broker

import (
	"errors"
	"sync"

	"github.com/surveillance/presurge/internal/broker/wire"
)

// ErrCapExceeded is returned by Subscribe when admitting the requested
// symbols would push the registry's total slot count over the broker's
// session-wide subscription cap. Per broker rule each (symbol, channel)
// pair counts as exactly one slot.
var ErrCapExceeded = errors.New("broker: subscription cap exceeded")

// subscriptionRegistry tracks every (symbol, channel) pair the stream
// client has requested, from the moment Subscribe admits it; broker
// acknowledgements are not read, so an entry the broker rejected stays
// registered. It enforces the slot cap before admitting more. It
// is the sole place slot accounting happens; Subscribe/Unsubscribe/replay
// all route through it rather than mutating a bare map.
type subscriptionRegistry struct {
	mu   sync.Mutex
	cap  int
	sets map[wire.Channel]map[string]bool
}

func newSubscriptionRegistry(cap int) *subscriptionRegistry {
	return &subscriptionRegistry{
		cap:  cap,
		sets: make(map[wire.Channel]map[string]bool),
	}
}

func (r *subscriptionRegistry) totalLocked() int {
	n := 0
	for _, set := range r.sets {
		n += len(set)
	}
	return n
}

// add admits symbols into channel, all-or-nothing: if doing so would push
// current_slots + new_slots over cap, nothing is admitted and
// ErrCapExceeded is returned. A cap of 0 disables the check (unbounded).
func (r *subscriptionRegistry) add(channel wire.Channel, symbols []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.sets[channel]
	newSlots := 0
	for _, sym := range symbols {
		if !set[sym] {
			newSlots++
		}
	}
	if r.cap > 0 && r.totalLocked()+newSlots > r.cap {
		return ErrCapExceeded
	}

	if set == nil {
		set = make(map[string]bool, len(symbols))
		r.sets[channel] = set
	}
	for _, sym := range symbols {
		set[sym] = true
	}
	return nil
}

func (r *subscriptionRegistry) remove(channel wire.Channel, symbols []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.sets[channel]
	if set == nil {
		return
	}
	for _, sym := range symbols {
		delete(set, sym)
	}
}

func (r *subscriptionRegistry) symbols(channel wire.Channel) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.sets[channel]
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	return out
}

// snapshot returns every registered (channel -> symbols) pair, for replay
// after a reconnect.
func (r *subscriptionRegistry) snapshot() map[wire.Channel][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[wire.Channel][]string, len(r.sets))
	for ch, set := range r.sets {
		syms := make([]string, 0, len(set))
		for sym := range set {
			syms = append(syms, sym)
		}
		out[ch] = syms
	}
	return out
}
