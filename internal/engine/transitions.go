package engine

import (
	"github.com/davidahmann/claimflow/internal/claim"
	"github.com/davidahmann/claimflow/internal/stage"
)

// allowedFrom is the legal-transition table: the stages a claim may occupy
// when each tool is invoked. Self-loops and back-edges are explicit entries;
// anything absent is an illegal transition. Closed is terminal and appears
// nowhere.
var allowedFrom = map[stage.Tool][]claim.Stage{
	stage.ToolRegistration: {claim.StageReceived},
	stage.ToolValidation:   {claim.StageRegistered, claim.StageValidating},
	stage.ToolAssignment:   {claim.StageValid},
	stage.ToolInvestigation: {
		claim.StageAssigned,
		claim.StageInvestigating,
		// Escalation sends the claim back for deeper review.
		claim.StageEscalated,
	},
	stage.ToolDecision: {claim.StageDecisionPending},
	stage.ToolPayment:  {claim.StageApproved, claim.StagePaymentPending},
	stage.ToolNotification: {
		claim.StagePaymentCompleted,
		claim.StageRejected,
		claim.StageEscalated,
	},
	// Closure is reachable from any post-decision stage; whether it may
	// actually run is decided by closurePreconditions, so an out-of-order
	// attempt reads as PreconditionFailed rather than IllegalTransition.
	stage.ToolClosure: {
		claim.StageApproved,
		claim.StageRejected,
		claim.StageEscalated,
		claim.StagePaymentPending,
		claim.StagePaymentCompleted,
		claim.StagePaymentUnresolved,
		claim.StageNotifyApproval,
		claim.StageNotifyRejection,
	},
}

// doneStage maps each tool to the stages that mean its work is already
// finished. A call that finds the claim there is an idempotent no-op: one
// audit entry, no state change. Closure is deliberately absent: a closed
// claim accepts nothing, not even a repeat closure.
var doneStage = map[stage.Tool][]claim.Stage{
	stage.ToolRegistration:  {claim.StageRegistered},
	stage.ToolValidation:    {claim.StageValid},
	stage.ToolAssignment:    {claim.StageAssigned},
	stage.ToolInvestigation: {claim.StageDecisionPending},
	stage.ToolDecision:      {claim.StageApproved, claim.StageRejected, claim.StageEscalated},
	stage.ToolPayment:       {claim.StagePaymentCompleted},
	stage.ToolNotification:  {claim.StageNotifyApproval, claim.StageNotifyRejection},
}

func stageIn(s claim.Stage, set []claim.Stage) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

// legalFrom reports whether tool may run against a claim at stage s.
func legalFrom(tool stage.Tool, s claim.Stage) bool {
	return stageIn(s, allowedFrom[tool])
}

// alreadyDone reports whether the claim already sits in tool's terminal
// stage.
func alreadyDone(tool stage.Tool, s claim.Stage) bool {
	return stageIn(s, doneStage[tool])
}

// closurePreconditions checks the cross-stage dependencies closure requires
// beyond graph legality. Returns the human-readable reason when unmet.
func closurePreconditions(c *claim.Claim) (string, bool) {
	if c.Decision == nil {
		return "no decision recorded", false
	}
	if c.Stage == claim.StagePaymentUnresolved {
		return "payment is unresolved", false
	}
	if c.Decision.Outcome == claim.OutcomeApproved && c.PaymentState() != claim.PaymentCompleted {
		return "approved claim has no completed payment", false
	}
	if !c.NotifiedOutcome() {
		return "claimant has not been notified of the final outcome", false
	}
	return "", true
}
