package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// CompositeSender fans one sale event out to multiple senders. Every sender is
// attempted; failures are collected so one broken sink cannot mute the others.
type CompositeSender struct {
	senders []Sender
}

// NewCompositeSender creates a composite with the given initial senders.
func NewCompositeSender(senders ...Sender) *CompositeSender {
	return &CompositeSender{senders: senders}
}

// AddSender appends another sender to the composite.
func (s *CompositeSender) AddSender(sender Sender) {
	s.senders = append(s.senders, sender)
}

func (s *CompositeSender) Notify(ctx context.Context, event SaleEvent) error {
	var failures []string
	for _, sender := range s.senders {
		if err := sender.Notify(ctx, event); err != nil {
			log.Printf("WARN: sale notification sender %T failed: %v", sender, err)
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("some notification senders failed: %s", strings.Join(failures, "; "))
	}
	return nil
}
