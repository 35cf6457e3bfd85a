package synth

import (
	"strings"
	"testing"
	"time"

	"github.com/kalambet/opscribe/internal/observe"
	"github.com/kalambet/opscribe/internal/storage"
)

func TestBuildRequest_DefaultTemplate(t *testing.T) {
	req := BuildRequest(Procedure, "", "", nil, nil, nil)
	if req.Template != Procedure.DefaultTemplate {
		t.Errorf("Template not defaulted")
	}
	msgs := req.Messages()
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Fatalf("messages = %+v", msgs)
	}
	if !strings.Contains(msgs[1].Content, "none yet") {
		t.Errorf("missing empty-document marker: %q", msgs[1].Content)
	}
}

func TestBuildRequest_IncludesAllInputs(t *testing.T) {
	ts := time.Now()
	obs := []observe.Observation{
		{Text: "Click Export in the ledger view", Category: observe.CategoryUI, Source: observe.SourceScreen, Confidence: observe.ConfidenceHigh,
			Details: &observe.Details{Application: "Ledger", Repeated: true}},
	}
	transcript := []observe.TranscriptEntry{{Speaker: "Ana", Text: "then you reconcile", Timestamp: ts}}
	clar := []storage.Clarification{
		{Question: "Who approves?", Answer: "The controller", Status: storage.ClarificationAnswered},
		{Question: "Skipped?", Status: storage.ClarificationSkipped},
	}

	req := BuildRequest(Role, "custom template", "# Existing\n", transcript, obs, clar)
	msgs := req.Messages()
	if msgs[0].Content != "custom template" {
		t.Errorf("system = %q", msgs[0].Content)
	}
	user := msgs[1].Content
	for _, want := range []string{
		"# Existing",
		"Click Export in the ledger view",
		"app=Ledger, repeated",
		"Ana: then you reconcile",
		"Q: Who approves?\nA: The controller",
	} {
		if !strings.Contains(user, want) {
			t.Errorf("user message missing %q:\n%s", want, user)
		}
	}
	if strings.Contains(user, "Skipped?") {
		t.Errorf("skipped clarification included:\n%s", user)
	}
	if req.Schema() != nil {
		t.Error("freeform flavor should not send a schema")
	}
}

func TestRequestSchema_Structured(t *testing.T) {
	s := BuildRequest(Procedure, "", "", nil, nil, nil).Schema()
	if s == nil {
		t.Fatal("Schema() = nil for structured flavor")
	}
	p, ok := s.Properties["main_flow"]
	if !ok || p.Type != "array" || p.Items == nil || p.Items.Type != "string" {
		t.Errorf("main_flow property = %+v", p)
	}
}
