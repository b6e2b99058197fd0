package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidahmann/claimflow/internal/claim"
	"github.com/davidahmann/claimflow/internal/dup"
	"github.com/davidahmann/claimflow/internal/ledger"
	"github.com/davidahmann/claimflow/internal/stage"
)

func strPtr(s string) *string { return &s }
func floatPtr(f float64) *float64 { return &f }

func newTestEngine(store ledger.Store) *Engine {
	return New(store, dup.NewDetector(store), stage.DefaultHandlers(stage.Delegates{}), Config{}, zerolog.Nop())
}

func registrationPayload() claim.PartialPayload {
	return claim.PartialPayload{
		ClaimantInfo: &claim.ClaimantPatch{Name: strPtr("Jane Doe"), Contact: strPtr("jane@example.com")},
		ClaimDetails: &claim.DetailsPatch{PolicyNumber: strPtr("POL-77"), IncidentDescription: strPtr("kitchen fire on 2026-01-04")},
	}
}

func mustProcess(t *testing.T, eng *Engine, tool stage.Tool, claimID string, payload claim.PartialPayload) Result {
	t.Helper()
	res, err := eng.Process(context.Background(), ToolCall{Tool: tool, ClaimID: claimID, Payload: payload})
	if err != nil {
		t.Fatalf("%s on %s: %v", tool, claimID, err)
	}
	return res
}

// driveToApproved walks a fresh claim through registration, validation,
// assignment, investigation, and an approving decision.
func driveToApproved(t *testing.T, eng *Engine, claimID string) {
	t.Helper()
	mustProcess(t, eng, stage.ToolRegistration, claimID, registrationPayload())
	mustProcess(t, eng, stage.ToolValidation, claimID, claim.PartialPayload{})
	mustProcess(t, eng, stage.ToolAssignment, claimID, claim.PartialPayload{})
	mustProcess(t, eng, stage.ToolInvestigation, claimID, claim.PartialPayload{})
	mustProcess(t, eng, stage.ToolInvestigation, claimID, claim.PartialPayload{
		EvidenceSummary: strPtr("clear photos, police report, verified receipts"),
	})
	res := mustProcess(t, eng, stage.ToolDecision, claimID, claim.PartialPayload{
		InvestigationData: &claim.InvestigationPatch{Recommendation: strPtr("approve")},
	})
	if res.Stage != claim.StageApproved {
		t.Fatalf("expected Approved, got %s", res.Stage)
	}
}

func paymentPayload(account string) claim.PartialPayload {
	return claim.PartialPayload{
		Amount:        floatPtr(2500),
		AccountNumber: strPtr(account),
		RoutingNumber: strPtr("87654321"),
	}
}

func TestLifecycleApprovedEndToEnd(t *testing.T) {
	store := ledger.NewInMemoryStore()
	eng := newTestEngine(store)
	claimID := "CLM-001"

	driveToApproved(t, eng, claimID)

	res := mustProcess(t, eng, stage.ToolPayment, claimID, paymentPayload("12345678"))
	if res.Stage != claim.StagePaymentCompleted || res.PaymentStatus != claim.PaymentCompleted {
		t.Fatalf("payment: stage=%s status=%s", res.Stage, res.PaymentStatus)
	}

	res = mustProcess(t, eng, stage.ToolNotification, claimID, claim.PartialPayload{})
	if res.Stage != claim.StageNotifyApproval {
		t.Fatalf("notification: stage=%s", res.Stage)
	}

	res = mustProcess(t, eng, stage.ToolClosure, claimID, claim.PartialPayload{ClosureNotes: strPtr("settled in full")})
	if res.Stage != claim.StageClosed {
		t.Fatalf("closure: stage=%s", res.Stage)
	}

	// The whole journey must leave a verifiable chained trail.
	entries, err := store.ListAuditFor(claimID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("no audit entries")
	}
	if err := ledger.VerifyAuditChain(entries); err != nil {
		t.Fatalf("chain: %v", err)
	}
	for _, entry := range entries {
		if entry.Result != ledger.AuditSuccess {
			t.Fatalf("unexpected non-success entry: %+v", entry)
		}
	}
}

func TestClosedClaimRejectsEverything(t *testing.T) {
	store := ledger.NewInMemoryStore()
	eng := newTestEngine(store)
	claimID := "CLM-001"

	driveToApproved(t, eng, claimID)
	mustProcess(t, eng, stage.ToolPayment, claimID, paymentPayload("12345678"))
	mustProcess(t, eng, stage.ToolNotification, claimID, claim.PartialPayload{})
	mustProcess(t, eng, stage.ToolClosure, claimID, claim.PartialPayload{})

	for _, tool := range stage.Tools()[1:] {
		_, err := eng.Process(context.Background(), ToolCall{Tool: tool, ClaimID: claimID})
		if !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("%s on closed claim: %v", tool, err)
		}
	}
}

func TestIdempotentRepeatIsNoop(t *testing.T) {
	store := ledger.NewInMemoryStore()
	eng := newTestEngine(store)
	claimID := "CLM-003"

	mustProcess(t, eng, stage.ToolRegistration, claimID, registrationPayload())
	mustProcess(t, eng, stage.ToolValidation, claimID, claim.PartialPayload{})

	before, _ := store.ListAuditFor(claimID)
	rec, _ := store.GetClaim(claimID)

	for i := 0; i < 2; i++ {
		res := mustProcess(t, eng, stage.ToolValidation, claimID, claim.PartialPayload{})
		if res.Stage != claim.StageValid {
			t.Fatalf("repeat %d moved stage to %s", i, res.Stage)
		}
	}

	after, _ := store.ListAuditFor(claimID)
	if len(after) != len(before)+2 {
		t.Fatalf("expected one audit entry per attempt: %d -> %d", len(before), len(after))
	}
	recAfter, _ := store.GetClaim(claimID)
	if recAfter.Version != rec.Version {
		t.Fatalf("no-op must not bump version: %d -> %d", rec.Version, recAfter.Version)
	}
	if err := ledger.VerifyAuditChain(after); err != nil {
		t.Fatalf("chain: %v", err)
	}
}

func TestMissingFieldLoop(t *testing.T) {
	store := ledger.NewInMemoryStore()
	eng := newTestEngine(store)
	claimID := "CLM-002"

	payload := registrationPayload()
	payload.ClaimDetails.IncidentDescription = strPtr("")

	res, err := eng.Process(context.Background(), ToolCall{Tool: stage.ToolRegistration, ClaimID: claimID, Payload: payload})
	var incomplete *ValidationIncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected ValidationIncompleteError, got %v", err)
	}
	if len(incomplete.Missing) != 1 || incomplete.Missing[0] != "claimDetails.incidentDescription" {
		t.Fatalf("missing=%v", incomplete.Missing)
	}
	if res.Stage != claim.StageRegistered {
		t.Fatalf("stage=%s, want Registered", res.Stage)
	}

	// The partial record survives the turn.
	rec, ok := store.GetClaim(claimID)
	if !ok || rec.Stage != string(claim.StageRegistered) {
		t.Fatalf("claim not persisted: %+v ok=%v", rec, ok)
	}

	// Validation with the field still missing reports it again.
	res, err = eng.Process(context.Background(), ToolCall{Tool: stage.ToolValidation, ClaimID: claimID})
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected ValidationIncompleteError, got %v", err)
	}
	if res.Stage != claim.StageValidating {
		t.Fatalf("stage=%s, want Validating", res.Stage)
	}

	// Supplying the field advances to Valid.
	res = mustProcess(t, eng, stage.ToolValidation, claimID, claim.PartialPayload{
		ClaimDetails: &claim.DetailsPatch{IncidentDescription: strPtr("burst pipe flooded the basement")},
	})
	if res.Stage != claim.StageValid {
		t.Fatalf("stage=%s, want Valid", res.Stage)
	}
}

func TestPaymentRetryExhaustionParksUnresolved(t *testing.T) {
	store := ledger.NewInMemoryStore()
	eng := newTestEngine(store)
	claimID := "CLM-005"

	driveToApproved(t, eng, claimID)

	var failed *HandlerFailedError
	for attempt := 1; attempt <= 3; attempt++ {
		res, err := eng.Process(context.Background(), ToolCall{Tool: stage.ToolPayment, ClaimID: claimID, Payload: paymentPayload("INVALID123")})
		if !errors.As(err, &failed) {
			t.Fatalf("attempt %d: expected HandlerFailedError, got %v", attempt, err)
		}
		if res.PaymentStatus != claim.PaymentFailed {
			t.Fatalf("attempt %d: payment status %s", attempt, res.PaymentStatus)
		}
		want := claim.StagePaymentPending
		if attempt == 3 {
			want = claim.StagePaymentUnresolved
		}
		if res.Stage != want {
			t.Fatalf("attempt %d: stage=%s, want %s", attempt, res.Stage, want)
		}
	}

	// Exhausted payment blocks both further payment and closure.
	_, err := eng.Process(context.Background(), ToolCall{Tool: stage.ToolPayment, ClaimID: claimID, Payload: paymentPayload("12345678")})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("payment after exhaustion: %v", err)
	}
	_, err = eng.Process(context.Background(), ToolCall{Tool: stage.ToolClosure, ClaimID: claimID})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("closure with unresolved payment: %v", err)
	}
}

func TestClosureRequiresNotification(t *testing.T) {
	store := ledger.NewInMemoryStore()
	eng := newTestEngine(store)
	claimID := "CLM-001"

	driveToApproved(t, eng, claimID)
	mustProcess(t, eng, stage.ToolPayment, claimID, paymentPayload("12345678"))

	_, err := eng.Process(context.Background(), ToolCall{Tool: stage.ToolClosure, ClaimID: claimID})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("closure before notification: %v", err)
	}

	mustProcess(t, eng, stage.ToolNotification, claimID, claim.PartialPayload{})
	res := mustProcess(t, eng, stage.ToolClosure, claimID, claim.PartialPayload{})
	if res.Stage != claim.StageClosed {
		t.Fatalf("stage=%s", res.Stage)
	}
}

func TestRejectedPathSkipsPayment(t *testing.T) {
	store := ledger.NewInMemoryStore()
	eng := newTestEngine(store)
	claimID := "CLM-010"

	mustProcess(t, eng, stage.ToolRegistration, claimID, registrationPayload())
	mustProcess(t, eng, stage.ToolValidation, claimID, claim.PartialPayload{})
	mustProcess(t, eng, stage.ToolAssignment, claimID, claim.PartialPayload{})
	mustProcess(t, eng, stage.ToolInvestigation, claimID, claim.PartialPayload{})
	mustProcess(t, eng, stage.ToolInvestigation, claimID, claim.PartialPayload{
		EvidenceSummary: strPtr("damage predates the policy start date"),
	})
	res := mustProcess(t, eng, stage.ToolDecision, claimID, claim.PartialPayload{
		InvestigationData: &claim.InvestigationPatch{Recommendation: strPtr("reject")},
	})
	if res.Stage != claim.StageRejected {
		t.Fatalf("stage=%s", res.Stage)
	}

	_, err := eng.Process(context.Background(), ToolCall{Tool: stage.ToolPayment, ClaimID: claimID, Payload: paymentPayload("12345678")})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("payment on rejected claim: %v", err)
	}

	res = mustProcess(t, eng, stage.ToolNotification, claimID, claim.PartialPayload{})
	if res.Stage != claim.StageNotifyRejection {
		t.Fatalf("stage=%s", res.Stage)
	}
	res = mustProcess(t, eng, stage.ToolClosure, claimID, claim.PartialPayload{})
	if res.Stage != claim.StageClosed {
		t.Fatalf("stage=%s", res.Stage)
	}
}

func TestEscalationBackEdge(t *testing.T) {
	store := ledger.NewInMemoryStore()
	eng := newTestEngine(store)
	claimID := "CLM-011"

	mustProcess(t, eng, stage.ToolRegistration, claimID, registrationPayload())
	mustProcess(t, eng, stage.ToolValidation, claimID, claim.PartialPayload{})
	mustProcess(t, eng, stage.ToolAssignment, claimID, claim.PartialPayload{})
	mustProcess(t, eng, stage.ToolInvestigation, claimID, claim.PartialPayload{})
	mustProcess(t, eng, stage.ToolInvestigation, claimID, claim.PartialPayload{
		EvidenceSummary: strPtr("findings are inconclusive"),
	})
	res := mustProcess(t, eng, stage.ToolDecision, claimID, claim.PartialPayload{
		InvestigationData: &claim.InvestigationPatch{Recommendation: strPtr("approve")},
	})
	if res.Stage != claim.StageEscalated {
		t.Fatalf("stage=%s, want Escalated", res.Stage)
	}

	// Escalation loops back into investigation for deeper review.
	res = mustProcess(t, eng, stage.ToolInvestigation, claimID, claim.PartialPayload{
		EvidenceSummary: strPtr("senior review: clear photos, receipts verified"),
	})
	if res.Stage != claim.StageDecisionPending {
		t.Fatalf("stage=%s, want DecisionPending", res.Stage)
	}
	res = mustProcess(t, eng, stage.ToolDecision, claimID, claim.PartialPayload{
		InvestigationData: &claim.InvestigationPatch{Recommendation: strPtr("approve")},
	})
	if res.Stage != claim.StageApproved {
		t.Fatalf("stage=%s, want Approved", res.Stage)
	}
}

func TestDuplicateAdvisoryAndReconcile(t *testing.T) {
	store := ledger.NewInMemoryStore()
	eng := newTestEngine(store)

	mustProcess(t, eng, stage.ToolRegistration, "CLM-006", registrationPayload())

	// Same fields under a new id: advisory, nothing created.
	res, err := eng.Process(context.Background(), ToolCall{Tool: stage.ToolRegistration, ClaimID: "CLM-007", Payload: registrationPayload()})
	var incomplete *ValidationIncompleteError
	if !errors.As(err, &incomplete) || incomplete.Missing[0] != "duplicateResolution" {
		t.Fatalf("expected duplicate advisory, got %v", err)
	}
	if len(res.Duplicates) != 1 || res.Duplicates[0] != "CLM-006" {
		t.Fatalf("duplicates=%v", res.Duplicates)
	}
	if _, ok := store.GetClaim("CLM-007"); ok {
		t.Fatalf("claim must not be created before resolution")
	}

	// Caller resolves; both sides get cross-references, neither is merged.
	payload := registrationPayload()
	payload.DuplicateResolution = strPtr(ResolveProceedAsNew)
	res = mustProcess(t, eng, stage.ToolRegistration, "CLM-007", payload)
	if len(res.Duplicates) != 1 || res.Duplicates[0] != "CLM-006" {
		t.Fatalf("flagged=%v", res.Duplicates)
	}

	for claimID, want := range map[string]string{"CLM-006": "CLM-007", "CLM-007": "CLM-006"} {
		rec, ok := store.GetClaim(claimID)
		if !ok {
			t.Fatalf("%s missing", claimID)
		}
		c, err := claim.Decode(rec.BodyJSON)
		if err != nil {
			t.Fatalf("decode %s: %v", claimID, err)
		}
		if len(c.DuplicateOf) != 1 || c.DuplicateOf[0] != want {
			t.Fatalf("%s duplicateOf=%v", claimID, c.DuplicateOf)
		}
	}
}

func TestReRegistrationMergesMissingFields(t *testing.T) {
	store := ledger.NewInMemoryStore()
	eng := newTestEngine(store)
	claimID := "CLM-012"

	payload := registrationPayload()
	payload.ClaimantInfo.Contact = strPtr("")
	if _, err := eng.Process(context.Background(), ToolCall{Tool: stage.ToolRegistration, ClaimID: claimID, Payload: payload}); err == nil {
		t.Fatalf("expected incomplete registration")
	}

	res := mustProcess(t, eng, stage.ToolRegistration, claimID, claim.PartialPayload{
		ClaimantInfo: &claim.ClaimantPatch{Contact: strPtr("jane@example.com")},
	})
	if res.Stage != claim.StageRegistered {
		t.Fatalf("stage=%s", res.Stage)
	}

	rec, _ := store.GetClaim(claimID)
	c, _ := claim.Decode(rec.BodyJSON)
	if c.Claimant.Contact != "jane@example.com" || c.Claimant.Name != "Jane Doe" {
		t.Fatalf("fields not merged: %+v", c.Claimant)
	}
}

func TestTransitionGraphProperty(t *testing.T) {
	// Every tool invoked against a stage outside its allowed set (and not its
	// own terminal stage) must be rejected without moving the claim.
	for _, tool := range stage.Tools()[1:] {
		for _, from := range claim.Stages {
			if from == claim.StageReceived || from.Closed() {
				continue
			}
			if legalFrom(tool, from) || alreadyDone(tool, from) {
				continue
			}

			store := ledger.NewInMemoryStore()
			eng := newTestEngine(store)
			c := claim.New("CLM-P", time.Now())
			c.Stage = from
			body, _ := c.Encode()
			_ = store.CreateClaim(ledger.ClaimRecord{ClaimID: "CLM-P", Stage: string(from), BodyJSON: body, CreatedAt: "t0", UpdatedAt: "t0"})

			res, err := eng.Process(context.Background(), ToolCall{Tool: tool, ClaimID: "CLM-P"})
			if !errors.Is(err, ErrIllegalTransition) {
				t.Fatalf("%s from %s: %v", tool, from, err)
			}
			if res.Stage != from {
				t.Fatalf("%s from %s moved stage to %s", tool, from, res.Stage)
			}
			rec, _ := store.GetClaim("CLM-P")
			if rec.Stage != string(from) {
				t.Fatalf("%s from %s persisted stage %s", tool, from, rec.Stage)
			}
			entries, _ := store.ListAuditFor("CLM-P")
			if len(entries) != 1 || entries[0].Result != ledger.AuditRejected {
				t.Fatalf("%s from %s: audit %+v", tool, from, entries)
			}
		}
	}
}

func TestUnknownClaimAndTool(t *testing.T) {
	eng := newTestEngine(ledger.NewInMemoryStore())

	_, err := eng.Process(context.Background(), ToolCall{Tool: stage.ToolValidation, ClaimID: "CLM-none"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, err = eng.Process(context.Background(), ToolCall{Tool: stage.Tool("underwriting"), ClaimID: "CLM-1"})
	if !errors.Is(err, ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}

	_, err = eng.Process(context.Background(), ToolCall{Tool: stage.ToolValidation, ClaimID: "  "})
	var incomplete *ValidationIncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected ValidationIncompleteError for blank id, got %v", err)
	}
}

func TestHandlerTimeoutSurfacesAsFailure(t *testing.T) {
	store := ledger.NewInMemoryStore()
	handlers := stage.DefaultHandlers(stage.Delegates{})
	handlers[stage.ToolPayment] = stage.HandlerFunc(func(ctx context.Context, c *claim.Claim, p claim.PartialPayload) stage.Outcome {
		<-ctx.Done()
		out, _ := stage.CheckDeadline(ctx)
		return out
	})
	eng := New(store, dup.NewDetector(store), handlers, Config{HandlerTimeout: 5 * time.Millisecond}, zerolog.Nop())

	driveToApproved(t, eng, "CLM-013")

	res, err := eng.Process(context.Background(), ToolCall{Tool: stage.ToolPayment, ClaimID: "CLM-013", Payload: paymentPayload("12345678")})
	var failed *HandlerFailedError
	if !errors.As(err, &failed) || failed.Reason != stage.ReasonTimeout {
		t.Fatalf("expected timeout failure, got %v", err)
	}
	if res.Stage != claim.StagePaymentPending {
		t.Fatalf("stage=%s", res.Stage)
	}
}

// conflictOnce fails the first UpdateClaim with a version conflict, the way
// a concurrent writer would.
type conflictOnce struct {
	*ledger.InMemoryStore
	fired bool
}

func (s *conflictOnce) WithTx(fn func(ledger.Tx) error) error {
	return s.InMemoryStore.WithTx(func(tx ledger.Tx) error {
		return fn(&conflictTx{Tx: tx, s: s})
	})
}

type conflictTx struct {
	ledger.Tx
	s *conflictOnce
}

func (t *conflictTx) UpdateClaim(rec ledger.ClaimRecord, expectedVersion int64) error {
	if !t.s.fired {
		t.s.fired = true
		return ledger.ErrVersionConflict
	}
	return t.Tx.UpdateClaim(rec, expectedVersion)
}

func TestConflictLoserCanRetry(t *testing.T) {
	store := &conflictOnce{InMemoryStore: ledger.NewInMemoryStore()}
	eng := newTestEngine(store)
	claimID := "CLM-014"

	mustProcess(t, eng, stage.ToolRegistration, claimID, registrationPayload())

	call := ToolCall{Tool: stage.ToolValidation, ClaimID: claimID}
	_, err := eng.Process(context.Background(), call)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	res := mustProcess(t, eng, stage.ToolValidation, claimID, claim.PartialPayload{})
	if res.Stage != claim.StageValid {
		t.Fatalf("retry should succeed, stage=%s", res.Stage)
	}
}
