package synth

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRenderFlowchart(t *testing.T) {
	got := RenderFlowchart(Fields{
		MainFlow:       []string{"Open \"Orders\"", "Click Refund"},
		DecisionPoints: []string{"Amount over limit"},
	})
	for _, want := range []string{
		"flowchart TD",
		`s1["1. Open 'Orders'"]`,
		"start --> s1",
		"s1 --> s2",
		`d1{"Amount over limit"}`,
		"s2 --> done",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("flowchart missing %q:\n%s", want, got)
		}
	}
	if RenderFlowchart(Fields{}) != "" {
		t.Error("empty main flow should render nothing")
	}
}

func TestDerive_StructuredSkipsBackend(t *testing.T) {
	mock := &mockChatter{response: "flowchart TD\n a-->b"}
	d := NewFlowchartDeriver(mock, "m")

	out, err := d.Derive(context.Background(), "ignored", `{"main_flow":["Step one"]}`)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !strings.Contains(out, "1. Step one") {
		t.Errorf("out = %q", out)
	}
	if mock.calls != 0 {
		t.Errorf("backend called %d times, want 0", mock.calls)
	}
}

func TestDerive_FreeformUsesBackend(t *testing.T) {
	mock := &mockChatter{response: "```mermaid\nflowchart TD\n  a-->b\n```"}
	d := NewFlowchartDeriver(mock, "m")

	out, err := d.Derive(context.Background(), "# Notes\nDo things", "")
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if out != "flowchart TD\n  a-->b\n" {
		t.Errorf("out = %q", out)
	}
}

func TestDerive_RejectsNonMermaid(t *testing.T) {
	d := NewFlowchartDeriver(&mockChatter{response: "Sorry, I cannot."}, "m")
	if _, err := d.Derive(context.Background(), "content", ""); !errors.Is(err, ErrNoFlowchart) {
		t.Errorf("err = %v, want ErrNoFlowchart", err)
	}
}

func TestDerive_NoClient(t *testing.T) {
	d := NewFlowchartDeriver(nil, "")
	if _, err := d.Derive(context.Background(), "content", ""); !errors.Is(err, ErrNoFlowchart) {
		t.Errorf("err = %v, want ErrNoFlowchart", err)
	}
}
