package relays

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/zapacademy/platform/internal/receipt"
)

var (
	ErrAllRelaysFailed = fmt.Errorf("all relays failed")
)

// ReceiptFilter matches zap receipts paying the recipient for a content
// item, by event id or addressable coordinate.
func ReceiptFilter(recipient, targetEventID, targetAddress string) nostr.Filter {
	tags := nostr.TagMap{}
	if recipient != "" {
		tags["p"] = []string{recipient}
	}
	if targetEventID != "" {
		tags["e"] = []string{targetEventID}
	}
	if targetAddress != "" {
		tags["a"] = []string{targetAddress}
	}

	return nostr.Filter{
		Kinds: []int{receipt.KindZapReceipt},
		Tags:  tags,
	}
}

// NewSource returns a receipt source over the given relays. Queries share a
// single timeout budget; a slow or dead relay costs partial results, never a
// hung claim.
func NewSource(relayURLs []string, timeout time.Duration) *Source {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Source{
		relayURLs: relayURLs,
		timeout:   timeout,
	}
}

type Source struct {
	relayURLs []string
	timeout   time.Duration
}

// FetchReceiptsOnce queries every configured relay once and returns the
// deduplicated union of events gathered before the deadline. The error is
// non-nil only when every relay failed and nothing was gathered; callers
// treat that as "no additional receipts" unless they have nothing else.
func (s *Source) FetchReceiptsOnce(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	if len(s.relayURLs) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		seen   = map[string]bool{}
		events []*nostr.Event
		failed int
	)
	for _, url := range s.relayURLs {
		relay, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			log.Printf("relay connect %v: %v", url, err)
			failed++
			continue
		}

		evts, err := relay.QuerySync(ctx, filter)
		relay.Close()
		if err != nil {
			log.Printf("relay query %v: %v", url, err)
			failed++
			continue
		}

		for _, evt := range evts {
			if evt == nil || seen[evt.ID] {
				continue
			}
			seen[evt.ID] = true
			events = append(events, evt)
		}
	}

	if failed == len(s.relayURLs) {
		return nil, ErrAllRelaysFailed
	}

	return events, nil
}

// SubscribeReceipts streams receipts from all configured relays onto one
// channel, deduplicated by event id, until ctx is done. Callers re-run their
// claim as events arrive.
func (s *Source) SubscribeReceipts(ctx context.Context, filter nostr.Filter) (<-chan *nostr.Event, error) {
	out := make(chan *nostr.Event)

	var subscribed int
	for _, url := range s.relayURLs {
		relay, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			log.Printf("relay connect %v: %v", url, err)
			continue
		}

		sub, err := relay.Subscribe(ctx, nostr.Filters{filter})
		if err != nil {
			log.Printf("relay subscribe %v: %v", url, err)
			relay.Close()
			continue
		}
		subscribed++

		go func(relay *nostr.Relay, sub *nostr.Subscription) {
			defer relay.Close()
			for {
				select {
				case evt, ok := <-sub.Events:
					if !ok {
						return
					}
					select {
					case out <- evt:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(relay, sub)
	}

	if subscribed == 0 {
		close(out)
		return out, ErrAllRelaysFailed
	}

	deduped := make(chan *nostr.Event)
	go func() {
		defer close(deduped)
		seen := map[string]bool{}
		for {
			select {
			case evt := <-out:
				if evt == nil || seen[evt.ID] {
					continue
				}
				seen[evt.ID] = true
				select {
				case deduped <- evt:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return deduped, nil
}
