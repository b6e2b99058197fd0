package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/claimflow/internal/claim"
)

// ExaminerPool assigns a claim to an examiner.
type ExaminerPool interface {
	Assign(ctx context.Context, claimID, pool, priority string) (examinerID string, err error)
}

// PaymentRail settles an approved claim's payout. A semantic rejection
// (structurally fine but invalid account) comes back as an error.
type PaymentRail interface {
	Charge(ctx context.Context, claimID string, p claim.Payment) (transactionID string, err error)
}

// Notifier queues a claimant notification for delivery.
type Notifier interface {
	Enqueue(claimID, recipient, message, outcome string) (notificationID string, err error)
}

// Archiver bundles the claim file at closure.
type Archiver interface {
	Archive(ctx context.Context, c *claim.Claim) (document string, err error)
}

const (
	DefaultExaminerPool = "general"
	DefaultPriority     = "normal"
)

// Delegates are the external collaborators the default handlers call out
// to. Nil fields fall back to built-in simulations.
type Delegates struct {
	Pool     ExaminerPool
	Rail     PaymentRail
	Notifier Notifier
	Archiver Archiver
	Now      func() time.Time
}

// DefaultHandlers builds the stage handler table.
func DefaultHandlers(d Delegates) map[Tool]Handler {
	if d.Pool == nil {
		d.Pool = SimulatedPool{}
	}
	if d.Rail == nil {
		d.Rail = SimulatedRail{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return map[Tool]Handler{
		ToolRegistration:  HandlerFunc(registration),
		ToolValidation:    HandlerFunc(validation),
		ToolAssignment:    assignmentHandler{d},
		ToolInvestigation: HandlerFunc(investigation),
		ToolDecision:      HandlerFunc(decision),
		ToolPayment:       paymentHandler{d},
		ToolNotification:  notificationHandler{d},
		ToolClosure:       closureHandler{d},
	}
}

func registration(ctx context.Context, c *claim.Claim, p claim.PartialPayload) Outcome {
	return Success(claim.StageRegistered, fmt.Sprintf("claim %s registered", c.ClaimID))
}

func validation(ctx context.Context, c *claim.Claim, p claim.PartialPayload) Outcome {
	// Structural checks already passed; all required fields are present.
	return Success(claim.StageValid, "all required fields present and valid")
}

type assignmentHandler struct {
	d Delegates
}

func (h assignmentHandler) Execute(ctx context.Context, c *claim.Claim, p claim.PartialPayload) Outcome {
	if c.Assignment == nil {
		c.Assignment = &claim.Assignment{}
	}
	if strings.TrimSpace(c.Assignment.ExaminerPool) == "" {
		c.Assignment.ExaminerPool = DefaultExaminerPool
	}
	if strings.TrimSpace(c.Assignment.Priority) == "" {
		c.Assignment.Priority = DefaultPriority
	}

	examinerID, err := h.d.Pool.Assign(ctx, c.ClaimID, c.Assignment.ExaminerPool, c.Assignment.Priority)
	if err != nil {
		if out, timedOut := CheckDeadline(ctx); timedOut {
			return out
		}
		return Failed("examiner assignment: " + err.Error())
	}
	c.Assignment.ExaminerID = examinerID
	c.Assignment.AssignedAt = h.d.Now().UTC()
	return Success(claim.StageAssigned, fmt.Sprintf("assigned to examiner %s (%s, lowest current workload)", examinerID, c.Assignment.ExaminerPool))
}

func investigation(ctx context.Context, c *claim.Claim, p claim.PartialPayload) Outcome {
	if c.Investigation == nil || strings.TrimSpace(c.Investigation.EvidenceSummary) == "" {
		// Evidence still being gathered; the claim stays under
		// investigation until a summary lands.
		return Success(claim.StageInvestigating, "investigation opened, awaiting evidence summary")
	}
	return Success(claim.StageDecisionPending, "investigation completed, findings recorded")
}

// decision applies the examiner heuristics to the investigation report.
func decision(ctx context.Context, c *claim.Claim, p claim.PartialPayload) Outcome {
	evidence := ""
	notes := ""
	recommendation := ""
	if c.Investigation != nil {
		evidence = strings.ToLower(strings.TrimSpace(c.Investigation.EvidenceSummary))
		notes = strings.ToLower(strings.TrimSpace(c.Investigation.Notes))
		recommendation = strings.ToLower(strings.TrimSpace(c.Investigation.Recommendation))
	}

	if evidence == "" || strings.Contains(evidence, "blurry") || strings.Contains(evidence, "sparse") {
		return NeedsInfo("investigationData.evidenceSummary")
	}

	var outcome claim.DecisionOutcome
	var rationale, followUp string
	switch {
	case strings.Contains(evidence, "inconclusive") || strings.Contains(notes, "fraud") || strings.Contains(notes, "suspicious"):
		outcome = claim.OutcomeEscalated
		rationale = "investigation findings indicate issues that require further review"
		followUp = "escalate to a senior claims examiner"
	case strings.HasPrefix(recommendation, "approve"):
		outcome = claim.OutcomeApproved
		rationale = "investigation findings are clear and documentation is verified"
		followUp = "trigger payment and notify the claimant"
	case strings.HasPrefix(recommendation, "reject") || strings.HasPrefix(recommendation, "deny"):
		outcome = claim.OutcomeRejected
		rationale = "investigation findings do not support the claim"
		followUp = "notify the claimant of the rejection"
	default:
		outcome = claim.OutcomeEscalated
		rationale = "examiner recommendation was not conclusive"
		followUp = "escalate to a senior claims examiner"
	}

	c.Decision = &claim.Decision{
		Outcome:          outcome,
		Rationale:        rationale,
		RequiredFollowUp: followUp,
	}

	advance := map[claim.DecisionOutcome]claim.Stage{
		claim.OutcomeApproved:  claim.StageApproved,
		claim.OutcomeRejected:  claim.StageRejected,
		claim.OutcomeEscalated: claim.StageEscalated,
	}[outcome]
	return Success(advance, fmt.Sprintf("decision %s: %s", outcome, rationale))
}

type paymentHandler struct {
	d Delegates
}

func (h paymentHandler) Execute(ctx context.Context, c *claim.Claim, p claim.PartialPayload) Outcome {
	if c.Payment == nil {
		return NeedsInfo("amount", "accountNumber", "routingNumber")
	}
	transactionID, err := h.d.Rail.Charge(ctx, c.ClaimID, *c.Payment)
	if err != nil {
		if out, timedOut := CheckDeadline(ctx); timedOut {
			return out
		}
		return Failed(err.Error())
	}

	now := h.d.Now().UTC()
	c.Payment.Status = claim.PaymentCompleted
	c.Payment.TransactionID = transactionID
	c.Payment.PaidAt = &now
	return Success(claim.StagePaymentCompleted, fmt.Sprintf("payment of %.2f settled, transaction %s", c.Payment.Amount, transactionID))
}

type notificationHandler struct {
	d Delegates
}

func (h notificationHandler) Execute(ctx context.Context, c *claim.Claim, p claim.PartialPayload) Outcome {
	recipient := recipientFor(c, p)
	outcome := ""
	if c.Decision != nil {
		outcome = string(c.Decision.Outcome)
	}

	message := ""
	if p.Message != nil {
		message = strings.TrimSpace(*p.Message)
	}
	if message == "" {
		message = composeNotification(c, outcome)
	}

	notificationID := uuid.NewString()
	if h.d.Notifier != nil {
		id, err := h.d.Notifier.Enqueue(c.ClaimID, recipient, message, outcome)
		if err != nil {
			if out, timedOut := CheckDeadline(ctx); timedOut {
				return out
			}
			return Failed("notification enqueue: " + err.Error())
		}
		notificationID = id
	}

	c.Notifications = append(c.Notifications, claim.Notification{
		NotificationID: notificationID,
		Recipient:      recipient,
		Message:        message,
		Outcome:        outcome,
		SentAt:         h.d.Now().UTC(),
	})

	advance := claim.StageNotifyRejection
	if c.Decision != nil && c.Decision.Outcome == claim.OutcomeApproved {
		advance = claim.StageNotifyApproval
	}
	return Success(advance, fmt.Sprintf("notification for claim %s queued to %s", c.ClaimID, recipient))
}

func composeNotification(c *claim.Claim, outcome string) string {
	name := strings.TrimSpace(c.Claimant.Name)
	if name == "" {
		name = "claimant"
	}
	switch outcome {
	case string(claim.OutcomeApproved):
		return fmt.Sprintf("Dear %s, your claim %s has been approved and payment has been initiated.", name, c.ClaimID)
	case string(claim.OutcomeRejected):
		reason := ""
		if c.Decision != nil {
			reason = " Reason: " + c.Decision.Rationale + "."
		}
		return fmt.Sprintf("Dear %s, your claim %s has been rejected.%s", name, c.ClaimID, reason)
	default:
		return fmt.Sprintf("Dear %s, your claim %s has been escalated for further review.", name, c.ClaimID)
	}
}

type closureHandler struct {
	d Delegates
}

func (h closureHandler) Execute(ctx context.Context, c *claim.Claim, p claim.PartialPayload) Outcome {
	if h.d.Archiver != nil {
		document, err := h.d.Archiver.Archive(ctx, c)
		if err != nil {
			if out, timedOut := CheckDeadline(ctx); timedOut {
				return out
			}
			return Failed("archive claim file: " + err.Error())
		}
		c.ArchivedDocuments = append(c.ArchivedDocuments, document)
	}
	return Success(claim.StageClosed, fmt.Sprintf("claim %s closed", c.ClaimID))
}

// SimulatedPool derives a deterministic examiner id from the claim id, the
// way the upstream assignment service does in dev environments.
type SimulatedPool struct{}

func (SimulatedPool) Assign(ctx context.Context, claimID, pool, priority string) (string, error) {
	suffix := claimID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "EX-" + suffix, nil
}

// SimulatedRail mimics the payment gateway: tokens the real rail rejects
// come back as semantic failures, everything else settles.
type SimulatedRail struct{}

func (SimulatedRail) Charge(ctx context.Context, claimID string, p claim.Payment) (string, error) {
	if strings.Contains(p.AccountNumber, "INVALID") || strings.Contains(p.RoutingNumber, "XXXXXXX") {
		return "", fmt.Errorf("payment rail rejected account details for claim %s", claimID)
	}
	return "TRX" + time.Now().UTC().Format("20060102150405") + uuid.NewString()[:8], nil
}
