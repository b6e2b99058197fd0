package stage

import (
	"reflect"
	"testing"
	"time"

	"github.com/davidahmann/claimflow/internal/claim"
)

func fullClaim() *claim.Claim {
	c := claim.New("CLM-001", time.Now())
	c.Claimant = claim.ClaimantInfo{Name: "Jane Doe", Contact: "jane@example.com"}
	c.Details = claim.ClaimDetails{PolicyNumber: "POL-77", IncidentDescription: "kitchen fire"}
	return c
}

func TestValidateRegistrationMissingFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*claim.Claim)
		missing []string
	}{
		{"complete", func(c *claim.Claim) {}, nil},
		{"no name", func(c *claim.Claim) { c.Claimant.Name = "" }, []string{"claimantInfo.name"}},
		{"no contact", func(c *claim.Claim) { c.Claimant.Contact = " " }, []string{"claimantInfo.contact"}},
		{"no incident", func(c *claim.Claim) { c.Details.IncidentDescription = "" }, []string{"claimDetails.incidentDescription"}},
		{"empty claim", func(c *claim.Claim) {
			c.Claimant = claim.ClaimantInfo{}
			c.Details = claim.ClaimDetails{}
		}, []string{"claimantInfo.name", "claimantInfo.contact", "claimDetails.policyNumber", "claimDetails.incidentDescription"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fullClaim()
			tt.mutate(c)
			got := Validate(ToolRegistration, c, claim.PartialPayload{})
			if got.Complete != (len(tt.missing) == 0) {
				t.Fatalf("complete=%v, want %v", got.Complete, len(tt.missing) == 0)
			}
			if len(tt.missing) > 0 && !reflect.DeepEqual(got.MissingFields, tt.missing) {
				t.Fatalf("missing=%v, want %v", got.MissingFields, tt.missing)
			}
		})
	}
}

func TestValidateDecisionNeedsRecommendation(t *testing.T) {
	c := fullClaim()
	got := Validate(ToolDecision, c, claim.PartialPayload{})
	if got.Complete || len(got.MissingFields) != 1 || got.MissingFields[0] != "investigationData.recommendation" {
		t.Fatalf("unexpected result: %+v", got)
	}

	c.Investigation = &claim.Investigation{Recommendation: "approve"}
	if got := Validate(ToolDecision, c, claim.PartialPayload{}); !got.Complete {
		t.Fatalf("expected complete, got %+v", got)
	}
}

func TestValidatePayment(t *testing.T) {
	tests := []struct {
		name    string
		payment *claim.Payment
		missing []string
	}{
		{"absent", nil, []string{"amount", "accountNumber", "routingNumber"}},
		{"complete", &claim.Payment{Amount: 2500, AccountNumber: "12345678", RoutingNumber: "87654321"}, nil},
		// Structurally fine; semantic rejection is the rail's call.
		{"invalid token passes structure", &claim.Payment{Amount: 2500, AccountNumber: "INVALID123", RoutingNumber: "87654321"}, nil},
		{"zero amount", &claim.Payment{Amount: 0, AccountNumber: "12345678", RoutingNumber: "87654321"}, []string{"amount"}},
		{"malformed routing", &claim.Payment{Amount: 10, AccountNumber: "12345678", RoutingNumber: "12-34"}, []string{"routingNumber"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fullClaim()
			c.Payment = tt.payment
			got := Validate(ToolPayment, c, claim.PartialPayload{})
			if got.Complete != (len(tt.missing) == 0) {
				t.Fatalf("complete=%v, missing=%v", got.Complete, got.MissingFields)
			}
			if len(tt.missing) > 0 && !reflect.DeepEqual(got.MissingFields, tt.missing) {
				t.Fatalf("missing=%v, want %v", got.MissingFields, tt.missing)
			}
		})
	}
}

func TestValidateNotificationRecipient(t *testing.T) {
	c := fullClaim()
	if got := Validate(ToolNotification, c, claim.PartialPayload{}); !got.Complete {
		t.Fatalf("claimant contact should satisfy recipient: %+v", got)
	}

	c.Claimant.Contact = ""
	if got := Validate(ToolNotification, c, claim.PartialPayload{}); got.Complete {
		t.Fatalf("expected missing recipient")
	}

	recipient := "ops@example.com"
	got := Validate(ToolNotification, c, claim.PartialPayload{Recipient: &recipient})
	if !got.Complete {
		t.Fatalf("payload recipient should satisfy: %+v", got)
	}
}

func TestValidateOptionalInputStages(t *testing.T) {
	c := claim.New("CLM-002", time.Now())
	for _, tool := range []Tool{ToolAssignment, ToolInvestigation, ToolClosure} {
		if got := Validate(tool, c, claim.PartialPayload{}); !got.Complete {
			t.Fatalf("%s should not require input: %+v", tool, got)
		}
	}
}

func TestParseTool(t *testing.T) {
	for _, tool := range Tools() {
		got, ok := ParseTool(string(tool))
		if !ok || got != tool {
			t.Fatalf("parse %s failed", tool)
		}
	}
	if _, ok := ParseTool("underwriting"); ok {
		t.Fatalf("unknown tool must not parse")
	}
}
