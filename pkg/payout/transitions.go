package payout

import (
	"slices"

	"github.com/jordanlanch/creatorledger/pkg/ledger"
)

// Decision is an operator action on a payout request.
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionReject   Decision = "reject"
	DecisionProcess  Decision = "process"
	DecisionComplete Decision = "complete"
	DecisionFail     Decision = "fail"
)

// balanceEffect is what a transition does to the creator's pending funds.
type balanceEffect int

const (
	effectNone balanceEffect = iota
	effectRelease
	effectWithdraw
)

type transition struct {
	from   []ledger.State
	to     ledger.State
	effect balanceEffect
}

// transitions is the complete set of legal moves. Anything else is rejected.
var transitions = map[Decision]transition{
	DecisionApprove: {
		from: []ledger.State{ledger.StatePending},
		to:   ledger.StateApproved,
	},
	DecisionReject: {
		from:   []ledger.State{ledger.StatePending},
		to:     ledger.StateRejected,
		effect: effectRelease,
	},
	DecisionProcess: {
		from: []ledger.State{ledger.StateApproved},
		to:   ledger.StateProcessing,
	},
	DecisionComplete: {
		from:   []ledger.State{ledger.StateApproved, ledger.StateProcessing},
		to:     ledger.StateCompleted,
		effect: effectWithdraw,
	},
	DecisionFail: {
		from:   []ledger.State{ledger.StateApproved, ledger.StateProcessing},
		to:     ledger.StateFailed,
		effect: effectRelease,
	},
}

// Decisions lists every known decision.
func Decisions() []Decision {
	return []Decision{DecisionApprove, DecisionReject, DecisionProcess, DecisionComplete, DecisionFail}
}

// IsValid reports whether d is a known decision.
func (d Decision) IsValid() bool {
	_, ok := transitions[d]
	return ok
}

// Allowed reports whether d may be applied to a request in state from.
func (d Decision) Allowed(from ledger.State) bool {
	t, ok := transitions[d]
	return ok && slices.Contains(t.from, from)
}

// Target returns the state d leads to.
func (d Decision) Target() ledger.State {
	return transitions[d].to
}
