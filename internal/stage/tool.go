// Package stage defines the per-stage validators and pluggable handlers the
// workflow engine drives. Handlers encapsulate delegation to external
// systems (examiner pool, payment rail, messaging channel); the engine only
// sequences them and records their outcomes.
package stage

// Tool names one lifecycle operation. The set is closed: inbound requests
// resolve through ParseTool, so an unknown stage name can never reach the
// engine's dispatch table.
type Tool string

const (
	ToolRegistration  Tool = "registration"
	ToolValidation    Tool = "validation"
	ToolAssignment    Tool = "assignment"
	ToolInvestigation Tool = "investigation"
	ToolDecision      Tool = "decision"
	ToolPayment       Tool = "payment"
	ToolNotification  Tool = "notification"
	ToolClosure       Tool = "closure"
)

var tools = map[string]Tool{
	string(ToolRegistration):  ToolRegistration,
	string(ToolValidation):    ToolValidation,
	string(ToolAssignment):    ToolAssignment,
	string(ToolInvestigation): ToolInvestigation,
	string(ToolDecision):      ToolDecision,
	string(ToolPayment):       ToolPayment,
	string(ToolNotification):  ToolNotification,
	string(ToolClosure):       ToolClosure,
}

func ParseTool(name string) (Tool, bool) {
	t, ok := tools[name]
	return t, ok
}

// Tools lists every tool in lifecycle order.
func Tools() []Tool {
	return []Tool{
		ToolRegistration,
		ToolValidation,
		ToolAssignment,
		ToolInvestigation,
		ToolDecision,
		ToolPayment,
		ToolNotification,
		ToolClosure,
	}
}
