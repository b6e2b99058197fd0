package claim

import "time"

type DecisionOutcome string

const (
	OutcomeApproved  DecisionOutcome = "Approved"
	OutcomeRejected  DecisionOutcome = "Rejected"
	OutcomeEscalated DecisionOutcome = "Escalated"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pending"
	PaymentCompleted PaymentStatus = "Completed"
	PaymentFailed    PaymentStatus = "Failed"
)

type ClaimantInfo struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

type ClaimDetails struct {
	PolicyNumber        string `json:"policyNumber"`
	IncidentDescription string `json:"incidentDescription"`
}

type Assignment struct {
	ExaminerID   string    `json:"examinerId"`
	ExaminerPool string    `json:"examinerPool"`
	Priority     string    `json:"priority"`
	AssignedAt   time.Time `json:"assignedAt"`
}

type Investigation struct {
	EvidenceSummary string `json:"evidenceSummary"`
	Notes           string `json:"notes"`
	Score           int    `json:"score,omitempty"`
	Recommendation  string `json:"recommendation,omitempty"`
}

type Decision struct {
	Outcome          DecisionOutcome `json:"outcome"`
	Rationale        string          `json:"rationale"`
	RequiredFollowUp string          `json:"requiredFollowUp,omitempty"`
}

type Payment struct {
	Amount        float64       `json:"amount"`
	AccountNumber string        `json:"accountNumber"`
	RoutingNumber string        `json:"routingNumber"`
	Method        string        `json:"method,omitempty"`
	Status        PaymentStatus `json:"status,omitempty"`
	Attempts      int           `json:"attempts,omitempty"`
	TransactionID string        `json:"transactionId,omitempty"`
	PaidAt        *time.Time    `json:"paidAt,omitempty"`
}

type Notification struct {
	NotificationID string    `json:"notificationId"`
	Recipient      string    `json:"recipient"`
	Message        string    `json:"message"`
	Outcome        string    `json:"outcome,omitempty"`
	SentAt         time.Time `json:"sentAt"`
}

// Claim is the aggregate root. It is owned by the ledger after registration
// and mutated only through engine-mediated transitions. Claims are never
// deleted; closure is a terminal stage.
type Claim struct {
	ClaimID  string       `json:"claimId"`
	Stage    Stage        `json:"stage"`
	Claimant ClaimantInfo `json:"claimantInfo"`
	Details  ClaimDetails `json:"claimDetails"`

	Assignment    *Assignment    `json:"assignment,omitempty"`
	Investigation *Investigation `json:"investigationData,omitempty"`
	Decision      *Decision      `json:"decision,omitempty"`
	Payment       *Payment       `json:"paymentDetails,omitempty"`

	Notifications []Notification `json:"notifications,omitempty"`
	ClosureNotes  string         `json:"closureNotes,omitempty"`

	// Duplicates are never merged; each side keeps its own identity and a
	// back-reference to the other.
	DuplicateOf []string `json:"duplicateOf,omitempty"`

	ArchivedDocuments []string `json:"archivedDocuments,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func New(claimID string, now time.Time) *Claim {
	return &Claim{
		ClaimID:   claimID,
		Stage:     StageReceived,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (c *Claim) Touch(now time.Time) {
	c.UpdatedAt = now.UTC()
}

// PaymentState returns the payment status, or Pending when no payment has
// been attempted yet.
func (c *Claim) PaymentState() PaymentStatus {
	if c.Payment == nil || c.Payment.Status == "" {
		return PaymentPending
	}
	return c.Payment.Status
}

// NotifiedOutcome reports whether a notification for the terminal decision
// outcome has been recorded.
func (c *Claim) NotifiedOutcome() bool {
	if c.Decision == nil {
		return false
	}
	for _, n := range c.Notifications {
		if n.Outcome == string(c.Decision.Outcome) {
			return true
		}
	}
	return false
}

// AddDuplicateRef records a back-reference to another claim, ignoring
// repeats and self-references.
func (c *Claim) AddDuplicateRef(claimID string) bool {
	if claimID == "" || claimID == c.ClaimID {
		return false
	}
	for _, existing := range c.DuplicateOf {
		if existing == claimID {
			return false
		}
	}
	c.DuplicateOf = append(c.DuplicateOf, claimID)
	return true
}
