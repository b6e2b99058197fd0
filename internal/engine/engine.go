// Package engine sequences claim lifecycle transitions. It owns the legal
// transition graph, optimistic-concurrency persistence, and the append-only
// audit chain; the per-stage domain work lives in the stage handlers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/davidahmann/claimflow/internal/claim"
	"github.com/davidahmann/claimflow/internal/dup"
	"github.com/davidahmann/claimflow/internal/ledger"
	"github.com/davidahmann/claimflow/internal/stage"
)

const (
	DefaultPaymentRetryLimit = 3
	DefaultHandlerTimeout    = 10 * time.Second

	timeFmt = time.RFC3339Nano
)

// Duplicate advisory resolutions a caller may supply when registration finds
// open claims with the same fingerprint.
const (
	ResolveProceedAsNew = "proceed-as-new"
	ResolveMergeIntent  = "merge-intent"
)

type Config struct {
	// PaymentRetryLimit bounds payment attempts before the claim parks at
	// PaymentUnresolved.
	PaymentRetryLimit int
	// HandlerTimeout caps each handler execution.
	HandlerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PaymentRetryLimit <= 0 {
		c.PaymentRetryLimit = DefaultPaymentRetryLimit
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = DefaultHandlerTimeout
	}
	return c
}

// ToolCall is one inbound transition request.
type ToolCall struct {
	Tool    stage.Tool
	ClaimID string
	Payload claim.PartialPayload
}

// Result reports the claim's state after a transition attempt. It is
// populated on rejected attempts too, so callers always learn the current
// stage, the missing-field set, and the audit entry the attempt produced.
type Result struct {
	ClaimID       string
	Stage         claim.Stage
	MissingFields []string
	Duplicates    []string
	PaymentStatus claim.PaymentStatus
	Detail        string
	Audit         ledger.AuditRecord
	Claim         *claim.Claim
}

type Engine struct {
	store    ledger.Store
	detector *dup.Detector
	handlers map[stage.Tool]stage.Handler
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

func New(store ledger.Store, detector *dup.Detector, handlers map[stage.Tool]stage.Handler, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		detector: detector,
		handlers: handlers,
		cfg:      cfg.withDefaults(),
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the engine's time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Process runs one tool call through legality check, payload merge,
// structural validation, handler execution, and atomic persist+audit.
// Exactly one audit entry is appended per attempt, rejected and failed
// attempts included.
func (e *Engine) Process(ctx context.Context, call ToolCall) (Result, error) {
	if strings.TrimSpace(call.ClaimID) == "" {
		return Result{}, &ValidationIncompleteError{Missing: []string{"claim_id"}}
	}
	if _, ok := e.handlers[call.Tool]; !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownStage, call.Tool)
	}

	var (
		res Result
		err error
	)
	if call.Tool == stage.ToolRegistration {
		res, err = e.register(ctx, call)
	} else {
		res, err = e.advance(ctx, call)
	}

	evt := e.log.Info()
	if err != nil {
		evt = e.log.Warn().Err(err)
	}
	evt.Str("claim_id", call.ClaimID).
		Str("tool", string(call.Tool)).
		Str("stage", string(res.Stage)).
		Msg("tool call processed")
	return res, err
}

// register handles the one tool that creates the claim rather than loading
// it. Partial registrations still create the record so fields accumulate
// across turns; the stage simply reports what is still missing.
func (e *Engine) register(ctx context.Context, call ToolCall) (Result, error) {
	now := e.now()

	if rec, ok := e.store.GetClaim(call.ClaimID); ok {
		return e.reRegister(call, rec, now)
	}

	c := claim.New(call.ClaimID, now)
	c.Merge(call.Payload, now)
	fingerprint := dup.Fingerprint(c.Claimant, c.Details)

	matches, err := e.detector.FindMatches(fingerprint, c.ClaimID)
	if err != nil {
		return Result{}, err
	}
	if len(matches) > 0 && call.Payload.DuplicateResolution == nil {
		// Advisory only: nothing is created until the caller says how to
		// proceed.
		audit, aerr := e.auditOnly(c.ClaimID, string(claim.StageReceived), ledger.AuditRejected,
			fmt.Sprintf("possible duplicate of %s; resolution required", strings.Join(matches, ", ")), now)
		if aerr != nil {
			return Result{}, aerr
		}
		res := e.result(c, audit, []string{"duplicateResolution"}, matches, "duplicate advisory")
		return res, &ValidationIncompleteError{Missing: []string{"duplicateResolution"}}
	}
	resolution := ""
	if call.Payload.DuplicateResolution != nil {
		resolution = strings.TrimSpace(*call.Payload.DuplicateResolution)
		if resolution != "" && resolution != ResolveProceedAsNew && resolution != ResolveMergeIntent {
			return Result{}, &ValidationIncompleteError{Missing: []string{"duplicateResolution"}}
		}
	}

	vr := stage.Validate(stage.ToolRegistration, c, call.Payload)
	result := ledger.AuditSuccess
	detail := fmt.Sprintf("claim %s registered", c.ClaimID)
	if vr.Complete {
		out := e.execute(ctx, call.Tool, c, call.Payload)
		if out.Kind == stage.OutcomeSuccess {
			c.Stage = out.Advance
			detail = out.Detail
		}
	} else {
		// The record is created anyway so the supplied fields survive the
		// conversational loop; the caller is told what is still missing.
		c.Stage = claim.StageRegistered
		result = ledger.AuditRejected
		detail = "registered with missing fields: " + strings.Join(vr.MissingFields, ", ")
	}
	if resolution != "" {
		detail += " (duplicate resolution: " + resolution + ")"
	}

	body, err := c.Encode()
	if err != nil {
		return Result{}, err
	}
	rec := ledger.ClaimRecord{
		ClaimID:     c.ClaimID,
		Stage:       string(c.Stage),
		Fingerprint: fingerprint,
		BodyJSON:    body,
		CreatedAt:   now.UTC().Format(timeFmt),
		UpdatedAt:   now.UTC().Format(timeFmt),
	}
	var audit ledger.AuditRecord
	err = e.store.WithTx(func(tx ledger.Tx) error {
		if err := tx.CreateClaim(rec); err != nil {
			return err
		}
		var aerr error
		audit, aerr = e.appendAudit(tx, c.ClaimID, string(c.Stage), result, detail, now)
		return aerr
	})
	if errors.Is(err, ledger.ErrClaimExists) {
		return Result{}, fmt.Errorf("%w: claim %s already registered concurrently", ErrConflict, c.ClaimID)
	}
	if err != nil {
		return Result{}, err
	}

	// Post-commit: drop the stale lookup and backfill duplicate references
	// both ways. Two racing registrations each see the other here even when
	// both passed the pre-commit check.
	e.detector.Invalidate(fingerprint)
	flagged, rerr := e.detector.Reconcile(c.ClaimID)
	if rerr != nil {
		e.log.Warn().Err(rerr).Str("claim_id", c.ClaimID).Msg("duplicate reconcile incomplete")
	}
	if len(flagged) > 0 {
		// Reload so the returned body carries the backfilled references.
		if rec, ok := e.store.GetClaim(c.ClaimID); ok {
			if fresh, derr := claim.Decode(rec.BodyJSON); derr == nil {
				c = fresh
			}
		}
	}

	res := e.result(c, audit, vr.MissingFields, flagged, detail)
	if !vr.Complete {
		return res, &ValidationIncompleteError{Missing: vr.MissingFields}
	}
	return res, nil
}

// reRegister merges another registration turn into an existing claim. Legal
// only while the claim still sits at Registered; past that, registration is
// out of order.
func (e *Engine) reRegister(call ToolCall, rec ledger.ClaimRecord, now time.Time) (Result, error) {
	c, err := claim.Decode(rec.BodyJSON)
	if err != nil {
		return Result{}, err
	}
	if c.Stage != claim.StageRegistered {
		audit, aerr := e.auditOnly(c.ClaimID, string(c.Stage), ledger.AuditRejected,
			fmt.Sprintf("registration not allowed at stage %s", c.Stage), now)
		if aerr != nil {
			return Result{}, aerr
		}
		return e.result(c, audit, nil, nil, ""), fmt.Errorf("%w: claim %s is at stage %s", ErrIllegalTransition, c.ClaimID, c.Stage)
	}

	c.Merge(call.Payload, now)
	vr := stage.Validate(stage.ToolRegistration, c, call.Payload)
	result := ledger.AuditSuccess
	detail := fmt.Sprintf("claim %s already registered; no-op", c.ClaimID)
	if !vr.Complete {
		result = ledger.AuditRejected
		detail = "registration still missing fields: " + strings.Join(vr.MissingFields, ", ")
	}

	audit, err := e.persist(c, rec, result, detail, now)
	if err != nil {
		return Result{}, err
	}
	res := e.result(c, audit, vr.MissingFields, nil, detail)
	if !vr.Complete {
		return res, &ValidationIncompleteError{Missing: vr.MissingFields}
	}
	return res, nil
}

func (e *Engine) advance(ctx context.Context, call ToolCall) (Result, error) {
	now := e.now()

	rec, ok := e.store.GetClaim(call.ClaimID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, call.ClaimID)
	}
	c, err := claim.Decode(rec.BodyJSON)
	if err != nil {
		return Result{}, err
	}

	if c.Stage.Closed() {
		audit, aerr := e.auditOnly(c.ClaimID, string(c.Stage), ledger.AuditRejected, "claim is closed", now)
		if aerr != nil {
			return Result{}, aerr
		}
		return e.result(c, audit, nil, nil, ""), fmt.Errorf("%w: claim %s is closed", ErrIllegalTransition, c.ClaimID)
	}

	if alreadyDone(call.Tool, c.Stage) {
		detail := fmt.Sprintf("%s already satisfied at stage %s; no-op", call.Tool, c.Stage)
		audit, aerr := e.auditOnly(c.ClaimID, string(c.Stage), ledger.AuditSuccess, detail, now)
		if aerr != nil {
			return Result{}, aerr
		}
		return e.result(c, audit, nil, nil, detail), nil
	}

	if !legalFrom(call.Tool, c.Stage) {
		detail := fmt.Sprintf("%s not allowed at stage %s", call.Tool, c.Stage)
		audit, aerr := e.auditOnly(c.ClaimID, string(c.Stage), ledger.AuditRejected, detail, now)
		if aerr != nil {
			return Result{}, aerr
		}
		return e.result(c, audit, nil, nil, detail), fmt.Errorf("%w: %s", ErrIllegalTransition, detail)
	}

	c.Merge(call.Payload, now)

	if call.Tool == stage.ToolPayment && c.Payment != nil && c.Payment.Status == claim.PaymentFailed {
		// A retry turn: the previous failure is superseded by this attempt.
		c.Payment.Status = claim.PaymentPending
	}

	vr := stage.Validate(call.Tool, c, call.Payload)
	if !vr.Complete {
		if call.Tool == stage.ToolValidation && c.Stage == claim.StageRegistered {
			c.Stage = claim.StageValidating
		}
		detail := "missing fields: " + strings.Join(vr.MissingFields, ", ")
		audit, aerr := e.persist(c, rec, ledger.AuditRejected, detail, now)
		if aerr != nil {
			return Result{}, aerr
		}
		return e.result(c, audit, vr.MissingFields, nil, detail), &ValidationIncompleteError{Missing: vr.MissingFields}
	}

	if call.Tool == stage.ToolClosure {
		if reason, ok := closurePreconditions(c); !ok {
			audit, aerr := e.persist(c, rec, ledger.AuditRejected, "closure blocked: "+reason, now)
			if aerr != nil {
				return Result{}, aerr
			}
			return e.result(c, audit, nil, nil, reason), fmt.Errorf("%w: %s", ErrPreconditionFailed, reason)
		}
	}

	out := e.execute(ctx, call.Tool, c, call.Payload)
	switch out.Kind {
	case stage.OutcomeSuccess:
		c.Stage = out.Advance
		c.Touch(now)
		audit, aerr := e.persist(c, rec, ledger.AuditSuccess, out.Detail, now)
		if aerr != nil {
			return Result{}, aerr
		}
		return e.result(c, audit, nil, nil, out.Detail), nil

	case stage.OutcomeNeedsInfo:
		detail := "missing fields: " + strings.Join(out.Missing, ", ")
		audit, aerr := e.persist(c, rec, ledger.AuditRejected, detail, now)
		if aerr != nil {
			return Result{}, aerr
		}
		return e.result(c, audit, out.Missing, nil, detail), &ValidationIncompleteError{Missing: out.Missing}

	default: // OutcomeFailed
		if call.Tool == stage.ToolPayment && c.Payment != nil {
			c.Payment.Status = claim.PaymentFailed
			c.Payment.Attempts++
			if c.Stage == claim.StageApproved {
				c.Stage = claim.StagePaymentPending
			}
			if c.Payment.Attempts >= e.cfg.PaymentRetryLimit {
				c.Stage = claim.StagePaymentUnresolved
			}
		}
		audit, aerr := e.persist(c, rec, ledger.AuditError, out.Reason, now)
		if aerr != nil {
			return Result{}, aerr
		}
		return e.result(c, audit, nil, nil, out.Reason), &HandlerFailedError{Reason: out.Reason}
	}
}

// execute runs the tool's handler under the configured deadline.
func (e *Engine) execute(ctx context.Context, tool stage.Tool, c *claim.Claim, p claim.PartialPayload) stage.Outcome {
	hctx, cancel := context.WithTimeout(ctx, e.cfg.HandlerTimeout)
	defer cancel()
	return e.handlers[tool].Execute(hctx, c, p)
}

// persist writes the claim and its audit entry in one transaction, keyed to
// the version the attempt was computed against. A lost race surfaces as
// Conflict; the losing caller retries against the fresh state.
func (e *Engine) persist(c *claim.Claim, prev ledger.ClaimRecord, result, detail string, now time.Time) (ledger.AuditRecord, error) {
	body, err := c.Encode()
	if err != nil {
		return ledger.AuditRecord{}, err
	}
	rec := ledger.ClaimRecord{
		ClaimID:     c.ClaimID,
		Stage:       string(c.Stage),
		Version:     prev.Version,
		Fingerprint: dup.Fingerprint(c.Claimant, c.Details),
		BodyJSON:    body,
		CreatedAt:   prev.CreatedAt,
		UpdatedAt:   now.UTC().Format(timeFmt),
	}

	var audit ledger.AuditRecord
	err = e.store.WithTx(func(tx ledger.Tx) error {
		if err := tx.UpdateClaim(rec, prev.Version); err != nil {
			return err
		}
		var aerr error
		audit, aerr = e.appendAudit(tx, c.ClaimID, string(c.Stage), result, detail, now)
		return aerr
	})
	if errors.Is(err, ledger.ErrVersionConflict) {
		if _, aerr := e.auditOnly(c.ClaimID, string(c.Stage), ledger.AuditError, "concurrent update lost", now); aerr != nil {
			return ledger.AuditRecord{}, aerr
		}
		return ledger.AuditRecord{}, fmt.Errorf("%w: claim %s", ErrConflict, c.ClaimID)
	}
	if err != nil {
		return ledger.AuditRecord{}, err
	}
	if rec.Fingerprint != prev.Fingerprint {
		e.detector.Invalidate(prev.Fingerprint)
		e.detector.Invalidate(rec.Fingerprint)
	}
	return audit, nil
}

// auditOnly appends an audit entry without touching the claim record, for
// attempts that change nothing (no-ops, rejected transitions).
func (e *Engine) auditOnly(claimID, stageName, result, detail string, now time.Time) (ledger.AuditRecord, error) {
	var audit ledger.AuditRecord
	err := e.store.WithTx(func(tx ledger.Tx) error {
		var aerr error
		audit, aerr = e.appendAudit(tx, claimID, stageName, result, detail, now)
		return aerr
	})
	return audit, err
}

func (e *Engine) appendAudit(tx ledger.Tx, claimID, stageName, result, detail string, now time.Time) (ledger.AuditRecord, error) {
	prev, _ := tx.LatestAudit(claimID)
	rec := ledger.AuditRecord{
		AuditID:     uuid.NewString(),
		ClaimID:     claimID,
		Stage:       stageName,
		Result:      result,
		Detail:      detail,
		PrevDigest:  prev.Digest,
		AttemptedAt: now.UTC().Format(timeFmt),
	}
	rec.Digest = ledger.ChainDigest(rec.PrevDigest, rec)
	if err := tx.AppendAudit(rec); err != nil {
		return ledger.AuditRecord{}, err
	}
	return rec, nil
}

func (e *Engine) result(c *claim.Claim, audit ledger.AuditRecord, missing, duplicates []string, detail string) Result {
	res := Result{
		ClaimID:       c.ClaimID,
		Stage:         c.Stage,
		MissingFields: missing,
		Duplicates:    duplicates,
		Detail:        detail,
		Audit:         audit,
		Claim:         c,
	}
	if c.Payment != nil {
		res.PaymentStatus = c.PaymentState()
	}
	return res
}
