package claim

// Stage is one lifecycle phase of a claim. Values only ever move along the
// edges owned by the engine's transition table.
type Stage string

const (
	StageReceived          Stage = "Received"
	StageRegistered        Stage = "Registered"
	StageValidating        Stage = "Validating"
	StageValid             Stage = "Valid"
	StageAssigned          Stage = "Assigned"
	StageInvestigating     Stage = "Investigating"
	StageDecisionPending   Stage = "DecisionPending"
	StageApproved          Stage = "Approved"
	StageRejected          Stage = "Rejected"
	StageEscalated         Stage = "Escalated"
	StagePaymentPending    Stage = "PaymentPending"
	StagePaymentCompleted  Stage = "PaymentCompleted"
	StagePaymentUnresolved Stage = "PaymentUnresolved"
	StageNotifyApproval    Stage = "NotifyApproval"
	StageNotifyRejection   Stage = "NotifyRejection"
	StageClosed            Stage = "Closed"
)

// Stages lists every stage in lifecycle order.
var Stages = []Stage{
	StageReceived,
	StageRegistered,
	StageValidating,
	StageValid,
	StageAssigned,
	StageInvestigating,
	StageDecisionPending,
	StageApproved,
	StageRejected,
	StageEscalated,
	StagePaymentPending,
	StagePaymentCompleted,
	StagePaymentUnresolved,
	StageNotifyApproval,
	StageNotifyRejection,
	StageClosed,
}

func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// DecisionMade reports whether the claim has passed the decision gateway.
func (s Stage) DecisionMade() bool {
	switch s {
	case StageApproved, StageRejected, StageEscalated,
		StagePaymentPending, StagePaymentCompleted, StagePaymentUnresolved,
		StageNotifyApproval, StageNotifyRejection, StageClosed:
		return true
	}
	return false
}

func (s Stage) Closed() bool {
	return s == StageClosed
}
