package claim

import "time"

// PartialPayload is one conversational turn's worth of stage input. Fields
// arrive incrementally across turns, so every field is optional and the merge
// is strictly additive: an absent field never clears what a previous turn
// supplied.
type PartialPayload struct {
	ClaimantInfo *ClaimantPatch `json:"claimantInfo,omitempty"`
	ClaimDetails *DetailsPatch  `json:"claimDetails,omitempty"`

	ExaminerPool *string `json:"examinerPool,omitempty"`
	Priority     *string `json:"priority,omitempty"`

	EvidenceSummary *string `json:"evidenceSummary,omitempty"`
	Notes           *string `json:"notes,omitempty"`

	InvestigationData *InvestigationPatch `json:"investigationData,omitempty"`

	Amount        *float64 `json:"amount,omitempty"`
	AccountNumber *string  `json:"accountNumber,omitempty"`
	RoutingNumber *string  `json:"routingNumber,omitempty"`
	Method        *string  `json:"method,omitempty"`

	Recipient *string `json:"recipient,omitempty"`
	Message   *string `json:"message,omitempty"`

	ClosureNotes *string `json:"closureNotes,omitempty"`

	// DuplicateResolution is the caller's answer to a duplicate advisory:
	// "proceed-as-new" or "merge-intent".
	DuplicateResolution *string `json:"duplicateResolution,omitempty"`
}

type ClaimantPatch struct {
	Name    *string `json:"name,omitempty"`
	Contact *string `json:"contact,omitempty"`
}

type DetailsPatch struct {
	PolicyNumber        *string `json:"policyNumber,omitempty"`
	IncidentDescription *string `json:"incidentDescription,omitempty"`
}

type InvestigationPatch struct {
	Findings        *string `json:"findings,omitempty"`
	EvidenceSummary *string `json:"evidenceSummary,omitempty"`
	Notes           *string `json:"notes,omitempty"`
	Score           *int    `json:"score,omitempty"`
	Recommendation  *string `json:"recommendation,omitempty"`
}

// Merge applies the payload onto the claim field by field. Only fields the
// caller actually sent are written; explicitly sent empty strings do land,
// which is what lets the validator report them as missing.
func (c *Claim) Merge(p PartialPayload, now time.Time) {
	if p.ClaimantInfo != nil {
		if p.ClaimantInfo.Name != nil {
			c.Claimant.Name = *p.ClaimantInfo.Name
		}
		if p.ClaimantInfo.Contact != nil {
			c.Claimant.Contact = *p.ClaimantInfo.Contact
		}
	}
	if p.ClaimDetails != nil {
		if p.ClaimDetails.PolicyNumber != nil {
			c.Details.PolicyNumber = *p.ClaimDetails.PolicyNumber
		}
		if p.ClaimDetails.IncidentDescription != nil {
			c.Details.IncidentDescription = *p.ClaimDetails.IncidentDescription
		}
	}

	if p.ExaminerPool != nil || p.Priority != nil {
		if c.Assignment == nil {
			c.Assignment = &Assignment{}
		}
		if p.ExaminerPool != nil {
			c.Assignment.ExaminerPool = *p.ExaminerPool
		}
		if p.Priority != nil {
			c.Assignment.Priority = *p.Priority
		}
	}

	mergeInvestigation(c, p)

	if p.Amount != nil || p.AccountNumber != nil || p.RoutingNumber != nil || p.Method != nil {
		if c.Payment == nil {
			c.Payment = &Payment{Status: PaymentPending}
		}
		if p.Amount != nil {
			c.Payment.Amount = *p.Amount
		}
		if p.AccountNumber != nil {
			c.Payment.AccountNumber = *p.AccountNumber
		}
		if p.RoutingNumber != nil {
			c.Payment.RoutingNumber = *p.RoutingNumber
		}
		if p.Method != nil {
			c.Payment.Method = *p.Method
		}
	}

	if p.ClosureNotes != nil {
		c.ClosureNotes = *p.ClosureNotes
	}

	c.Touch(now)
}

func mergeInvestigation(c *Claim, p PartialPayload) {
	hasFlat := p.EvidenceSummary != nil || p.Notes != nil
	if !hasFlat && p.InvestigationData == nil {
		return
	}
	if c.Investigation == nil {
		c.Investigation = &Investigation{}
	}
	if p.EvidenceSummary != nil {
		c.Investigation.EvidenceSummary = *p.EvidenceSummary
	}
	if p.Notes != nil {
		c.Investigation.Notes = *p.Notes
	}
	inv := p.InvestigationData
	if inv == nil {
		return
	}
	if inv.EvidenceSummary != nil {
		c.Investigation.EvidenceSummary = *inv.EvidenceSummary
	}
	// findings is an accepted alias for the evidence summary on the
	// decision call.
	if inv.Findings != nil && c.Investigation.EvidenceSummary == "" {
		c.Investigation.EvidenceSummary = *inv.Findings
	}
	if inv.Notes != nil {
		c.Investigation.Notes = *inv.Notes
	}
	if inv.Score != nil {
		c.Investigation.Score = *inv.Score
	}
	if inv.Recommendation != nil {
		c.Investigation.Recommendation = *inv.Recommendation
	}
}
