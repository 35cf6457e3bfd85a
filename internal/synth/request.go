package synth

import (
	"fmt"
	"strings"

	"github.com/kalambet/opscribe/internal/engine"
	"github.com/kalambet/opscribe/internal/observe"
	"github.com/kalambet/opscribe/internal/storage"
)

// Request is everything one synthesis pass sends to the collaborator.
type Request struct {
	Flavor         Flavor
	Template       string
	Existing       string
	Transcript     []observe.TranscriptEntry
	Observations   []observe.Observation
	Clarifications []storage.Clarification
}

// BuildRequest assembles a request. An empty template falls back to the
// flavor's default.
func BuildRequest(f Flavor, template, existing string, transcript []observe.TranscriptEntry, obs []observe.Observation, answered []storage.Clarification) Request {
	if strings.TrimSpace(template) == "" {
		template = f.DefaultTemplate
	}
	return Request{
		Flavor:         f,
		Template:       template,
		Existing:       existing,
		Transcript:     transcript,
		Observations:   obs,
		Clarifications: answered,
	}
}

// Messages renders the request as a system prompt plus one user message.
func (r Request) Messages() []engine.Message {
	var sb strings.Builder

	sb.WriteString("[Existing document]\n")
	if strings.TrimSpace(r.Existing) == "" {
		sb.WriteString("(none yet, start a new document)\n")
	} else {
		sb.WriteString(r.Existing)
		sb.WriteString("\n")
	}

	if len(r.Observations) > 0 {
		sb.WriteString("\n[New observations]\n")
		for i, o := range r.Observations {
			fmt.Fprintf(&sb, "%d. (%s, %s, %s confidence) %s\n", i+1, o.Source, o.Category, o.Confidence, o.Text)
			if d := o.Details; d != nil {
				writeDetails(&sb, d)
			}
		}
	}

	if len(r.Transcript) > 0 {
		sb.WriteString("\n[Recent transcript]\n")
		for _, e := range r.Transcript {
			if e.Speaker != "" {
				fmt.Fprintf(&sb, "%s: %s\n", e.Speaker, e.Text)
			} else {
				fmt.Fprintf(&sb, "%s\n", e.Text)
			}
		}
	}

	var answered []storage.Clarification
	for _, c := range r.Clarifications {
		if c.Status == storage.ClarificationAnswered && strings.TrimSpace(c.Answer) != "" {
			answered = append(answered, c)
		}
	}
	if len(answered) > 0 {
		sb.WriteString("\n[Clarifications]\n")
		for _, c := range answered {
			fmt.Fprintf(&sb, "Q: %s\nA: %s\n", c.Question, c.Answer)
		}
	}

	return []engine.Message{
		{Role: "system", Content: r.Template},
		{Role: "user", Content: sb.String()},
	}
}

// Schema returns the structured output hint, or nil for freeform flavors.
func (r Request) Schema() *engine.Schema {
	if !r.Flavor.Structured {
		return nil
	}
	return procedureSchema()
}

func writeDetails(sb *strings.Builder, d *observe.Details) {
	var parts []string
	if d.Application != "" {
		parts = append(parts, "app="+d.Application)
	}
	if d.Page != "" {
		parts = append(parts, "page="+d.Page)
	}
	if d.Action != "" {
		parts = append(parts, "action="+d.Action)
	}
	if d.Before != "" {
		parts = append(parts, "before="+d.Before)
	}
	if d.After != "" {
		parts = append(parts, "after="+d.After)
	}
	if d.Repeated {
		parts = append(parts, "repeated")
	}
	if len(parts) > 0 {
		fmt.Fprintf(sb, "   [%s]\n", strings.Join(parts, ", "))
	}
}

func procedureSchema() *engine.Schema {
	list := func(desc string) engine.SchemaProperty {
		return engine.SchemaProperty{Type: "array", Description: desc, Items: &engine.SchemaProperty{Type: "string"}}
	}
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"title":            {Type: "string", Description: "Short name of the procedure"},
			"goal":             {Type: "string", Description: "What the procedure achieves"},
			"applicability":    {Type: "string", Description: "When the procedure applies"},
			"responsible_role": {Type: "string", Description: "Who performs the procedure"},
			"required_tools":   list("Applications and access needed"),
			"main_flow":        list("Ordered steps"),
			"decision_points":  list("Conditions that change the flow"),
			"exceptions":       list("Handling of failures"),
			"quality_check":    {Type: "string", Description: "How to verify the outcome"},
			"low_confidence":   list("Sections that need confirmation"),
			"assumptions":      list("Inferred but unobserved facts"),
			"change_summary":   {Type: "string", Description: "One sentence describing this revision"},
		},
		Required: []string{"goal", "main_flow", "change_summary"},
	}
}
