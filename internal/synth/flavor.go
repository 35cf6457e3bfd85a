package synth

import "github.com/kalambet/opscribe/internal/storage"

// Flavor describes one kind of synthesized document.
type Flavor struct {
	Kind  storage.DocumentKind
	Title string
	// Structured flavors ask the collaborator for a JSON object of Fields.
	Structured bool
	// DefaultTemplate is used when no template file exists for Kind.
	DefaultTemplate string
}

var (
	Procedure = Flavor{
		Kind:            storage.KindProcedure,
		Title:           "Procedure",
		Structured:      true,
		DefaultTemplate: defaultProcedureTemplate,
	}
	Role = Flavor{
		Kind:            storage.KindRole,
		Title:           "Roles and delegation",
		DefaultTemplate: defaultRoleTemplate,
	}
)

// FlavorFor returns the flavor of kind.
func FlavorFor(kind storage.DocumentKind) (Flavor, bool) {
	switch kind {
	case storage.KindProcedure:
		return Procedure, true
	case storage.KindRole:
		return Role, true
	}
	return Flavor{}, false
}

const defaultProcedureTemplate = `You maintain a standard operating procedure that is being written while a person demonstrates the work in a meeting.

Respond with ONLY one JSON object, no prose and no markdown, with these fields:
- title: short name of the procedure
- goal: what the procedure achieves
- applicability: when it applies
- responsible_role: who performs it
- required_tools: applications and access needed
- main_flow: ordered steps, one imperative sentence each
- decision_points: conditions that change the flow
- exceptions: what to do when something goes wrong
- quality_check: how to verify the outcome
- low_confidence: sections you are unsure about
- assumptions: things you inferred but did not observe
- change_summary: one sentence describing what changed in this revision

Extend the existing document with the new observations. Keep steps that are still valid, merge duplicates and keep the order in which the work was demonstrated.`

const defaultRoleTemplate = `You maintain a companion document to a procedure being demonstrated in a meeting. It identifies the roles involved, which steps are bottlenecks that depend on one person, and which steps are candidates for delegation.

Write markdown with the sections "Roles", "Bottlenecks" and "Delegation candidates". Extend the existing document rather than replacing it. Only state what the observations and transcript support.`
