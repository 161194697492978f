package chat

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
)

var (
	// ErrSelfMessage rejects a message addressed to its sender.
	ErrSelfMessage = fmt.Errorf("%w: cannot message yourself", failure.ErrInvalid)
	// ErrNotParticipant rejects a message between two people who are not the seller and a counterpart.
	ErrNotParticipant = fmt.Errorf("%w: messages must be exchanged with the seller", failure.ErrForbidden)
	// ErrNoThread rejects a seller writing to someone who never contacted them.
	ErrNoThread = fmt.Errorf("%w: the seller may only reply to people who wrote first", failure.ErrForbidden)
	// ErrThreadClosed rejects messages on a conversation that became read-only.
	ErrThreadClosed = fmt.Errorf("%w: this conversation is closed", failure.ErrForbidden)
	// ErrChatBlocked rejects any exchange between parties with a block between them.
	ErrChatBlocked = fmt.Errorf("%w: chat unavailable between these users", failure.ErrForbidden)
)

// exchange is what the send policy needs to know about a prospective message.
type exchange struct {
	seller    string
	buyer     string
	sender    string
	receiver  string
	sold      bool
	listed    bool
	hasThread bool
}

// authorize applies the conversation rules. Once a purchase exists only the
// buyer and seller may talk. Before that a non-seller may open a thread with
// the seller while the product is listed, and the seller answers existing
// threads only.
func authorize(e exchange) error {
	if e.sender == e.receiver {
		return ErrSelfMessage
	}
	if e.sender != e.seller && e.receiver != e.seller {
		return ErrNotParticipant
	}
	counterpart := e.sender
	if counterpart == e.seller {
		counterpart = e.receiver
	}
	if e.sold {
		if counterpart != e.buyer {
			return ErrThreadClosed
		}
		return nil
	}
	if e.sender == e.seller {
		if !e.hasThread {
			return ErrNoThread
		}
		return nil
	}
	if !e.hasThread && !e.listed {
		return ErrThreadClosed
	}
	return nil
}
