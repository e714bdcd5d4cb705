package relays

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

const (
	publishAttempts = 3
	publishBackoff  = 500 * time.Millisecond
)

// NewPublisher returns a relay publisher for the nsec-encoded key. Used for
// operator announcements (new unlocks); publishing is best effort and every
// attempt is bounded, a dead relay never blocks a claim.
func NewPublisher(nsec string, relayURLs []string) (*Publisher, error) {
	_, sk, err := nip19.Decode(nsec)
	if err != nil {
		return nil, fmt.Errorf("nip19 decode: %w", err)
	}
	privateKey := sk.(string)

	pubkey, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("get pubkey: %w", err)
	}

	return &Publisher{
		relayURLs:  relayURLs,
		pubkey:     pubkey,
		privateKey: privateKey,
	}, nil
}

type Publisher struct {
	relayURLs          []string
	pubkey, privateKey string
}

// SendNote signs and publishes a text note to every configured relay,
// retrying each a bounded number of times.
func (p *Publisher) SendNote(ctx context.Context, content string) error {
	event := nostr.Event{
		PubKey:    p.pubkey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindTextNote,
		Tags:      nil,
		Content:   content,
	}
	if err := event.Sign(p.privateKey); err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	var published int
	for _, url := range p.relayURLs {
		if p.publishWithRetry(ctx, url, event) {
			published++
		}
	}

	if published == 0 && len(p.relayURLs) > 0 {
		return ErrAllRelaysFailed
	}
	return nil
}

func (p *Publisher) publishWithRetry(ctx context.Context, url string, event nostr.Event) bool {
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * publishBackoff):
			case <-ctx.Done():
				return false
			}
		}

		relay, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			log.Printf("publish connect %v: %v", url, err)
			continue
		}

		_, err = relay.Publish(ctx, event)
		relay.Close()
		if err != nil {
			log.Printf("publish %v: %v", url, err)
			continue
		}

		return true
	}

	return false
}
