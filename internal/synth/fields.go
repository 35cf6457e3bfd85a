package synth

import (
	"fmt"
	"strings"
)

// Fields are the structured sections of a procedure document.
type Fields struct {
	Title           string   `json:"title,omitempty"`
	Goal            string   `json:"goal"`
	Applicability   string   `json:"applicability"`
	ResponsibleRole string   `json:"responsible_role"`
	RequiredTools   []string `json:"required_tools"`
	MainFlow        []string `json:"main_flow"`
	DecisionPoints  []string `json:"decision_points"`
	Exceptions      []string `json:"exceptions"`
	QualityCheck    string   `json:"quality_check"`
	LowConfidence   []string `json:"low_confidence"`
	Assumptions     []string `json:"assumptions"`
}

// empty reports whether the collaborator filled none of the substantive
// sections.
func (f Fields) empty() bool {
	return f.Goal == "" && len(f.MainFlow) == 0 && len(f.DecisionPoints) == 0 && f.Applicability == ""
}

// Markdown renders the fields as a document. fallbackTitle is used when the
// fields carry no title.
func (f Fields) Markdown(fallbackTitle string) string {
	var sb strings.Builder
	title := f.Title
	if title == "" {
		title = fallbackTitle
	}
	fmt.Fprintf(&sb, "# %s\n", title)

	section := func(name, body string) {
		if body == "" {
			return
		}
		fmt.Fprintf(&sb, "\n## %s\n\n%s\n", name, body)
	}
	list := func(name string, items []string, numbered bool) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&sb, "\n## %s\n\n", name)
		for i, it := range items {
			if numbered {
				fmt.Fprintf(&sb, "%d. %s\n", i+1, it)
			} else {
				fmt.Fprintf(&sb, "- %s\n", it)
			}
		}
	}

	section("Goal", f.Goal)
	section("Applicability", f.Applicability)
	section("Responsible role", f.ResponsibleRole)
	list("Required tools", f.RequiredTools, false)
	list("Main flow", f.MainFlow, true)
	list("Decision points", f.DecisionPoints, false)
	list("Exceptions", f.Exceptions, false)
	section("Quality check", f.QualityCheck)
	list("Low-confidence sections", f.LowConfidence, false)
	list("Assumptions", f.Assumptions, false)
	return sb.String()
}
