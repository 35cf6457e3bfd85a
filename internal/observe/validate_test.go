package observe

import (
	"testing"
	"time"
)

func TestValidateScreen(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{"action marker with verb", "ACTION: Click the Save button", "Click the Save button", true},
		{"lowercase marker", "step: navigate to Settings > Billing", "navigate to Settings > Billing", true},
		{"observation marker", "Observation: user selects the Region dropdown", "user selects the Region dropdown", true},
		{"no marker", "The user clicks the Save button", "", false},
		{"content too short", "ACTION: run", "", false},
		{"no action verb", "ACTION: a blank screen with a logo", "", false},
		{"verb inflection", "ACTION: Entered the invoice number", "Entered the invoice number", true},
		{"content stops at newline", "ACTION: Open the admin panel\napp: Console", "Open the admin panel", true},
		{"empty", "", "", false},
		{"verb only inside another word", "ACTION: Viewing the enterprise overview dashboard", "", false},
		{"doubled consonant", "STEP: Dragging the card to Done", "Dragging the card to Done", true},
		{"dropped e", "ACTION: Typed the customer name", "Typed the customer name", true},
		{"y to ies", "ACTION: Copies the API key", "Copies the API key", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ValidateScreen(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("ValidateScreen(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ValidateScreen(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestNewScreenObservation(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	obs, ok := NewScreenObservation("ACTION: Click the Submit button in the dialog\napp: Jira\nrepeat: yes", now)
	if !ok {
		t.Fatal("expected observation to be accepted")
	}
	if obs.ID == "" {
		t.Error("ID is empty")
	}
	if obs.Category != CategoryUI {
		t.Errorf("Category = %q, want %q", obs.Category, CategoryUI)
	}
	if obs.Source != SourceScreen || obs.Confidence != ConfidenceHigh {
		t.Errorf("Source/Confidence = %q/%q, want screen/high", obs.Source, obs.Confidence)
	}
	if !obs.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", obs.Timestamp, now)
	}
	if obs.Details == nil || obs.Details.Application != "Jira" || !obs.Details.Repeated {
		t.Errorf("Details = %+v, want application Jira and repeated", obs.Details)
	}
}

func TestNewScreenObservation_RejectsNoise(t *testing.T) {
	if _, ok := NewScreenObservation("Nothing changed on screen.", time.Now()); ok {
		t.Error("noise was accepted as an observation")
	}
}

func TestParseDetails_None(t *testing.T) {
	if d := ParseDetails("click save on the form"); d != nil {
		t.Errorf("ParseDetails = %+v, want nil", d)
	}
}

func TestParseDetails_BeforeAfter(t *testing.T) {
	d := ParseDetails("- page: Billing\n- before: Monthly\n- after: Annual")
	if d == nil {
		t.Fatal("ParseDetails returned nil")
	}
	if d.Page != "Billing" || d.Before != "Monthly" || d.After != "Annual" {
		t.Errorf("ParseDetails = %+v", d)
	}
}

func TestInflectionOf(t *testing.T) {
	tests := []struct {
		tok, kw string
		want    bool
	}{
		{"click", "click", true},
		{"clicks", "click", true},
		{"clicked", "click", true},
		{"clicking", "click", true},
		{"saving", "save", true},
		{"saved", "save", true},
		{"running", "run", true},
		{"switches", "switch", true},
		{"copied", "copy", true},
		{"enterprise", "enter", false},
		{"afternoon", "after", false},
		{"table", "tab", false},
		{"runway", "run", false},
		{"typewriter", "type", false},
		{"cli", "click", false},
	}
	for _, tt := range tests {
		if got := inflectionOf(tt.tok, tt.kw); got != tt.want {
			t.Errorf("inflectionOf(%q, %q) = %v, want %v", tt.tok, tt.kw, got, tt.want)
		}
	}
}
