package chat

import (
	"errors"
	"testing"
)

func TestAuthorize(t *testing.T) {
	const (
		seller   = "seller@example.com"
		buyer    = "buyer@example.com"
		prospect = "prospect@example.com"
	)
	testCases := []struct {
		name     string
		exchange exchange
		want     error
	}{
		{name: "self", exchange: exchange{seller: seller, sender: seller, receiver: seller, listed: true}, want: ErrSelfMessage},
		{name: "prospect opens thread", exchange: exchange{seller: seller, sender: prospect, receiver: seller, listed: true}},
		{name: "seller cannot open thread", exchange: exchange{seller: seller, sender: seller, receiver: prospect, listed: true}, want: ErrNoThread},
		{name: "seller replies", exchange: exchange{seller: seller, sender: seller, receiver: prospect, listed: true, hasThread: true}},
		{name: "strangers", exchange: exchange{seller: seller, sender: prospect, receiver: buyer, listed: true}, want: ErrNotParticipant},
		{name: "delisted without thread", exchange: exchange{seller: seller, sender: prospect, receiver: seller}, want: ErrThreadClosed},
		{name: "delisted with thread", exchange: exchange{seller: seller, sender: prospect, receiver: seller, hasThread: true}},
		{name: "sold buyer", exchange: exchange{seller: seller, buyer: buyer, sender: buyer, receiver: seller, sold: true}},
		{name: "sold seller to buyer", exchange: exchange{seller: seller, buyer: buyer, sender: seller, receiver: buyer, sold: true}},
		{name: "sold prospect", exchange: exchange{seller: seller, buyer: buyer, sender: prospect, receiver: seller, sold: true, hasThread: true}, want: ErrThreadClosed},
		{name: "sold seller to prospect", exchange: exchange{seller: seller, buyer: buyer, sender: seller, receiver: prospect, sold: true, hasThread: true}, want: ErrThreadClosed},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := authorize(testCase.exchange)
			if testCase.want == nil {
				if err != nil {
					t.Fatalf("expected message to be allowed, got %v", err)
				}
				return
			}
			if !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}
