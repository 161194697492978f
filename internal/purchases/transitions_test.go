package purchases

import (
	"errors"
	"strings"
	"testing"
)

func TestAuthorizeTransitionTable(t *testing.T) {
	statuses := []Status{StatusPaid, StatusPreparing, StatusShipped, StatusCompleted}
	allowed := map[[2]Status]Actor{
		{StatusPaid, StatusPreparing}:    ActorSeller,
		{StatusPreparing, StatusShipped}: ActorSeller,
		{StatusShipped, StatusCompleted}: ActorBuyer,
	}

	for _, current := range statuses {
		for _, target := range statuses {
			for _, actor := range []Actor{ActorSeller, ActorBuyer} {
				err := authorizeTransition(current, target, actor)
				expectedActor, permitted := allowed[[2]Status{current, target}]
				if permitted && expectedActor == actor {
					if err != nil {
						t.Fatalf("%s -> %s by %s: unexpected error %v", current, target, actor, err)
					}
					continue
				}
				if !errors.Is(err, ErrTransitionNotAllowed) {
					t.Fatalf("%s -> %s by %s: expected rejection, got %v", current, target, actor, err)
				}
			}
		}
	}
}

func TestAuthorizeTransitionNamesNextActor(t *testing.T) {
	err := authorizeTransition(StatusShipped, StatusCompleted, ActorSeller)
	if err == nil || !strings.Contains(err.Error(), "only the buyer") {
		t.Fatalf("expected error naming the buyer, got %v", err)
	}
	err = authorizeTransition(StatusPaid, StatusShipped, ActorSeller)
	if err == nil || !strings.Contains(err.Error(), "paid may only move to preparing") {
		t.Fatalf("expected error naming the next status, got %v", err)
	}
}

func TestOptionsFor(t *testing.T) {
	if options := OptionsFor(StatusPaid, ActorSeller); len(options) != 1 || options[0] != StatusPreparing {
		t.Fatalf("unexpected seller options %v", options)
	}
	if options := OptionsFor(StatusPaid, ActorBuyer); len(options) != 0 {
		t.Fatalf("expected no buyer options, got %v", options)
	}
	if options := OptionsFor(StatusCompleted, ActorBuyer); len(options) != 0 {
		t.Fatalf("expected terminal status to have no options, got %v", options)
	}
}
