package stage

import (
	"context"

	"github.com/davidahmann/claimflow/internal/claim"
)

type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeNeedsInfo OutcomeKind = "needs_info"
	OutcomeFailed    OutcomeKind = "failed"
)

const ReasonTimeout = "timeout"

// Outcome is a handler's verdict on one tool call. On success, Advance names
// the stage the claim moves to; several tools branch (decision, for one),
// so the handler owns the target.
type Outcome struct {
	Kind    OutcomeKind
	Advance claim.Stage
	Detail  string
	Missing []string
	Reason  string
}

func Success(advance claim.Stage, detail string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Advance: advance, Detail: detail}
}

func NeedsInfo(fields ...string) Outcome {
	return Outcome{Kind: OutcomeNeedsInfo, Missing: fields}
}

func Failed(reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason}
}

// Handler performs one stage's domain action. Implementations must honor
// ctx deadlines on any external call and surface an exceeded deadline as
// Failed(ReasonTimeout) rather than hang; the engine treats that like any
// other failure. Handlers mutate the claim in place; the engine persists it
// only after the outcome comes back.
type Handler interface {
	Execute(ctx context.Context, c *claim.Claim, p claim.PartialPayload) Outcome
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c *claim.Claim, p claim.PartialPayload) Outcome

func (f HandlerFunc) Execute(ctx context.Context, c *claim.Claim, p claim.PartialPayload) Outcome {
	return f(ctx, c, p)
}

// CheckDeadline converts a context error into the timeout outcome.
func CheckDeadline(ctx context.Context) (Outcome, bool) {
	if err := ctx.Err(); err != nil {
		return Failed(ReasonTimeout), true
	}
	return Outcome{}, false
}
