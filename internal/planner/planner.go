// Package planner periodically re-ranks the polled universe and re-targets
// the broker's capacity-capped stream subscriptions at the most promising
// candidates, issuing unsubscribe/subscribe deltas against the broker's
// subscription registry.
package planner

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/surveillance/presurge/internal/broker"
	"github.com/surveillance/presurge/internal/broker/wire"
)

// Candidate is one ranking input: a symbol and the metric the planner
// ranks by (volume ratio).
type Candidate struct {
	Symbol      string
	VolumeRatio float64
}

// Subscriber is the subset of StreamClient the planner depends on,
// narrowed to ease testing without a live connection.
type Subscriber interface {
	Subscribe(channel wire.Channel, symbols []string) error
	Unsubscribe(channel wire.Channel, symbols []string) error
	SubscribedSymbols(channel wire.Channel) []string
}

// Planner ranks the universe and issues subscription deltas on a timer.
type Planner struct {
	stream          Subscriber
	topK            int
	subscriptionCap int
	channels        []wire.Channel
	unsubSettle     time.Duration
	log             zerolog.Logger

	// sticky remembers the previous cycle's target so equal-rank ties
	// prefer symbols already subscribed, avoiding needless churn.
	sticky map[string]bool
}

// Config configures a Planner.
type Config struct {
	TopK            int
	SubscriptionCap int
	Channels        []wire.Channel
	UnsubSettleDelay time.Duration
}

// New builds a Planner against the given stream subscriber.
func New(stream Subscriber, cfg Config, log zerolog.Logger) *Planner {
	channels := cfg.Channels
	if len(channels) == 0 {
		channels = []wire.Channel{wire.ChannelTrades, wire.ChannelBook}
	}
	return &Planner{
		stream:          stream,
		topK:            cfg.TopK,
		subscriptionCap: cfg.SubscriptionCap,
		channels:        channels,
		unsubSettle:     cfg.UnsubSettleDelay,
		sticky:          make(map[string]bool),
		log:             log.With().Str("component", "planner").Logger(),
	}
}

// Rank sorts candidates by descending volume ratio, with stickiness
// breaking ties in favour of symbols already in the sticky set from the
// previous cycle.
func (p *Planner) Rank(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].VolumeRatio != out[j].VolumeRatio {
			return out[i].VolumeRatio > out[j].VolumeRatio
		}
		return p.sticky[out[i].Symbol] && !p.sticky[out[j].Symbol]
	})
	return out
}

// Target returns the top-K symbols from a ranked candidate list, bounded
// additionally by however many slots the subscription cap leaves for this
// planner's channel set (each symbol occupies len(channels) slots).
func (p *Planner) Target(ranked []Candidate) []string {
	k := p.topK
	perSymbolSlots := len(p.channels)
	if perSymbolSlots > 0 {
		maxBySlots := p.subscriptionCap / perSymbolSlots
		if maxBySlots < k {
			k = maxBySlots
		}
	}
	if k > len(ranked) {
		k = len(ranked)
	}
	if k < 0 {
		k = 0
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = ranked[i].Symbol
	}
	return out
}

// Reconcile computes the delta between the current registry and target,
// issues unsubscribes, waits the configured settle delay, then issues
// subscribes — retrying cap-rejected subscribes is the caller's job via
// the next tick, per spec: the planner never blocks retrying within one
// cycle beyond the cap-aware trim below.
func (p *Planner) Reconcile(ctx context.Context, target []string) error {
	targetSet := make(map[string]bool, len(target))
	for _, s := range target {
		targetSet[s] = true
	}
	p.sticky = targetSet

	for _, channel := range p.channels {
		current := p.stream.SubscribedSymbols(channel)
		currentSet := make(map[string]bool, len(current))
		for _, s := range current {
			currentSet[s] = true
		}

		var toDrop, toAdd []string
		for _, s := range current {
			if !targetSet[s] {
				toDrop = append(toDrop, s)
			}
		}
		for _, s := range target {
			if !currentSet[s] {
				toAdd = append(toAdd, s)
			}
		}

		if len(toDrop) > 0 {
			if err := p.stream.Unsubscribe(channel, toDrop); err != nil {
				return err
			}
			p.log.Info().Str("channel", string(channel)).Strs("dropped", toDrop).Msg("unsubscribed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.unsubSettle):
		}

		// Trim additions to what the cap allows for this channel, in
		// ranked order, dropping the lowest-ranked overflow with a
		// warning rather than ever exceeding the cap.
		roomForChannel := p.subscriptionCap/len(p.channels) - (len(currentSet) - len(toDrop))
		if roomForChannel < 0 {
			roomForChannel = 0
		}
		if len(toAdd) > roomForChannel {
			p.log.Warn().
				Str("channel", string(channel)).
				Int("requested", len(toAdd)).
				Int("room", roomForChannel).
				Msg("subscription cap reached, trimming lowest-ranked candidates")
			toAdd = toAdd[:roomForChannel]
		}

		if len(toAdd) > 0 {
			if err := p.stream.Subscribe(channel, toAdd); err != nil {
				if errors.Is(err, broker.ErrCapExceeded) {
					// The broker's registry view disagrees with our own
					// trim (e.g. another caller holds slots we didn't
					// account for). Never exceed the cap: skip this
					// channel's additions and let the next cycle retry
					// against a freshly observed registry state.
					p.log.Warn().Str("channel", string(channel)).Strs("rejected", toAdd).Msg("broker rejected subscribe, cap exceeded; will retry next cycle")
					continue
				}
				return err
			}
			p.log.Info().Str("channel", string(channel)).Strs("added", toAdd).Msg("subscribed")
		}
	}
	return nil
}

// Run drives Reconcile on a fixed interval until ctx is cancelled. rank
// supplies the current candidate ranking input (e.g. from the feature
// store's volume ratios) each cycle.
func (p *Planner) Run(ctx context.Context, interval time.Duration, rank func() []Candidate) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			candidates := rank()
			ranked := p.Rank(candidates)
			target := p.Target(ranked)
			if err := p.Reconcile(ctx, target); err != nil {
				p.log.Error().Err(err).Msg("subscription reconcile failed")
			}
		}
	}
}
