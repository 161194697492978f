package purchases

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
)

var (
	// ErrTransitionNotAllowed rejects a status change the state machine does not permit.
	ErrTransitionNotAllowed = fmt.Errorf("%w: status change not allowed", failure.ErrForbidden)
	// ErrNotParticipant rejects an actor who is neither buyer nor seller.
	ErrNotParticipant = fmt.Errorf("%w: only the buyer or seller may act on this purchase", failure.ErrForbidden)
)

// authorizeTransition checks that actor may move a purchase from current to
// target. The error names who may act next.
func authorizeTransition(current, target Status, actor Actor) error {
	next, allowed, ok := current.Next()
	if !ok {
		return fmt.Errorf("%w: purchase is already %s", ErrTransitionNotAllowed, current)
	}
	if target != next {
		return fmt.Errorf("%w: %s may only move to %s, by the %s", ErrTransitionNotAllowed, current, next, allowed)
	}
	if actor != allowed {
		return fmt.Errorf("%w: only the %s may move the purchase to %s", ErrTransitionNotAllowed, allowed, next)
	}
	return nil
}

// OptionsFor lists the statuses actor may apply to a purchase in current.
func OptionsFor(current Status, actor Actor) []Status {
	next, allowed, ok := current.Next()
	if !ok || actor != allowed {
		return []Status{}
	}
	return []Status{next}
}
