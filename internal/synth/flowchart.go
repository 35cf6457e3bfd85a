package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/opscribe/internal/engine"
)

const flowchartTimeout = 30 * time.Second

// ErrNoFlowchart is returned when the backend answers with something that is
// not a mermaid flowchart.
var ErrNoFlowchart = errors.New("response is not a mermaid flowchart")

const flowchartPrompt = `Convert the procedure below into a mermaid flowchart. Respond with ONLY the mermaid source starting with "flowchart TD". Use short node labels. Model decision points as diamond nodes.`

// RenderFlowchart renders fields deterministically. It returns "" when the
// fields have no main flow.
func RenderFlowchart(f Fields) string {
	if len(f.MainFlow) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("flowchart TD\n")
	sb.WriteString("    start([Start])\n")
	prev := "start"
	for i, step := range f.MainFlow {
		id := fmt.Sprintf("s%d", i+1)
		fmt.Fprintf(&sb, "    %s[\"%d. %s\"]\n", id, i+1, mermaidLabel(step))
		fmt.Fprintf(&sb, "    %s --> %s\n", prev, id)
		prev = id
	}
	for i, d := range f.DecisionPoints {
		id := fmt.Sprintf("d%d", i+1)
		fmt.Fprintf(&sb, "    %s{\"%s\"}\n", id, mermaidLabel(d))
		fmt.Fprintf(&sb, "    %s -.-> %s\n", prev, id)
	}
	sb.WriteString("    done([Done])\n")
	fmt.Fprintf(&sb, "    %s --> done\n", prev)
	return sb.String()
}

func mermaidLabel(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, `"`, "'")
	if r := []rune(s); len(r) > 80 {
		s = string(r[:77]) + "..."
	}
	return s
}

// FlowchartDeriver produces the flowchart for a procedure document.
type FlowchartDeriver struct {
	client Chatter
	model  string
}

// NewFlowchartDeriver returns a deriver. client may be nil, in which case
// only structured documents get a flowchart.
func NewFlowchartDeriver(client Chatter, model string) *FlowchartDeriver {
	return &FlowchartDeriver{client: client, model: model}
}

// Derive returns mermaid source for a document. Structured sections are
// rendered locally; freeform content is sent to the backend.
func (d *FlowchartDeriver) Derive(ctx context.Context, content, sectionsJSON string) (string, error) {
	if sectionsJSON != "" {
		var f Fields
		if err := json.Unmarshal([]byte(sectionsJSON), &f); err == nil {
			if out := RenderFlowchart(f); out != "" {
				return out, nil
			}
		}
	}
	if d.client == nil {
		return "", ErrNoFlowchart
	}
	if strings.TrimSpace(content) == "" {
		return "", ErrNoFlowchart
	}

	ctx, cancel := context.WithTimeout(ctx, flowchartTimeout)
	defer cancel()

	raw, err := d.client.Chat(ctx, d.model, []engine.Message{
		{Role: "system", Content: flowchartPrompt},
		{Role: "user", Content: content},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("deriving flowchart: %w", err)
	}
	out := stripFence(strings.TrimSpace(raw))
	if !strings.HasPrefix(out, "flowchart") && !strings.HasPrefix(out, "graph") {
		return "", ErrNoFlowchart
	}
	return out + "\n", nil
}
