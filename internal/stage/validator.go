package stage

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/davidahmann/claimflow/internal/claim"
)

// ValidationResult reports structural completeness of a stage's input after
// the payload has been merged into the claim. Incomplete never advances the
// stage; the missing-field set goes back to the caller so the conversational
// layer can ask for exactly what is absent.
type ValidationResult struct {
	Complete      bool
	MissingFields []string
}

func complete() ValidationResult {
	return ValidationResult{Complete: true}
}

func missing(fields ...string) ValidationResult {
	if len(fields) == 0 {
		return complete()
	}
	return ValidationResult{MissingFields: fields}
}

var paymentValidate = validator.New()

// paymentCheck is the structural shape the payment rail requires. Malformed
// values are a correctable state, not a terminal error; semantic rejection
// (a structurally fine but invalid account) is the rail's call, not ours.
type paymentCheck struct {
	Amount        float64 `validate:"required,gt=0"`
	AccountNumber string  `validate:"required,alphanum"`
	RoutingNumber string  `validate:"required,alphanum"`
}

var paymentFieldNames = map[string]string{
	"Amount":        "amount",
	"AccountNumber": "accountNumber",
	"RoutingNumber": "routingNumber",
}

// Validate checks structural completeness of the given tool's input against
// the merged claim. Pure: no store access, no mutation.
func Validate(tool Tool, c *claim.Claim, p claim.PartialPayload) ValidationResult {
	switch tool {
	case ToolRegistration, ToolValidation:
		return validateClaimFields(c)
	case ToolAssignment, ToolInvestigation:
		// Pool and priority hints are optional; defaults are applied by the
		// handler when absent.
		return complete()
	case ToolDecision:
		if c.Investigation == nil || strings.TrimSpace(c.Investigation.Recommendation) == "" {
			return missing("investigationData.recommendation")
		}
		return complete()
	case ToolPayment:
		return validatePayment(c)
	case ToolNotification:
		if recipientFor(c, p) == "" {
			return missing("recipient")
		}
		return complete()
	case ToolClosure:
		// Closure dependencies (terminal decision, completed payment,
		// notification) are ordering preconditions enforced by the engine,
		// not missing input.
		return complete()
	default:
		return complete()
	}
}

func validateClaimFields(c *claim.Claim) ValidationResult {
	fields := []string{}
	if strings.TrimSpace(c.Claimant.Name) == "" {
		fields = append(fields, "claimantInfo.name")
	}
	if strings.TrimSpace(c.Claimant.Contact) == "" {
		fields = append(fields, "claimantInfo.contact")
	}
	if strings.TrimSpace(c.Details.PolicyNumber) == "" {
		fields = append(fields, "claimDetails.policyNumber")
	}
	if strings.TrimSpace(c.Details.IncidentDescription) == "" {
		fields = append(fields, "claimDetails.incidentDescription")
	}
	return missing(fields...)
}

func validatePayment(c *claim.Claim) ValidationResult {
	if c.Payment == nil {
		return missing("amount", "accountNumber", "routingNumber")
	}
	check := paymentCheck{
		Amount:        c.Payment.Amount,
		AccountNumber: strings.TrimSpace(c.Payment.AccountNumber),
		RoutingNumber: strings.TrimSpace(c.Payment.RoutingNumber),
	}
	err := paymentValidate.Struct(check)
	if err == nil {
		return complete()
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return missing("amount", "accountNumber", "routingNumber")
	}
	fields := []string{}
	for _, fe := range verrs {
		if name, ok := paymentFieldNames[fe.StructField()]; ok {
			fields = append(fields, name)
		}
	}
	return missing(fields...)
}

func recipientFor(c *claim.Claim, p claim.PartialPayload) string {
	if p.Recipient != nil && strings.TrimSpace(*p.Recipient) != "" {
		return strings.TrimSpace(*p.Recipient)
	}
	return strings.TrimSpace(c.Claimant.Contact)
}
