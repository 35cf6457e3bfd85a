package engine

import (
	"context"
	"fmt"
	"io"
	"time"
)

const warmUpTimeout = 30 * time.Second

// EnsureReady verifies the backend is reachable, pulls any missing model
// and warms up the first one. Progress goes to w. A failed warm-up is
// reported but does not fail startup.
func EnsureReady(ctx context.Context, e Engine, models []string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("%s inference backend is not reachable; please ensure it is started and configured", e.Name())
	}

	required := dedupe(models)
	for _, model := range required {
		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		if err := e.PullModel(ctx, model, pullReporter(w)); err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	if len(required) == 0 {
		return nil
	}
	warm := required[0]
	fmt.Fprintf(w, "model %s: warming up...\n", warm)
	warmCtx, cancel := context.WithTimeout(ctx, warmUpTimeout)
	defer cancel()
	if _, err := e.Chat(warmCtx, warm, []Message{{Role: "user", Content: "ping"}}, nil); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", warm, err)
		return nil
	}
	fmt.Fprintf(w, "model %s: warm\n", warm)
	return nil
}

func dedupe(models []string) []string {
	seen := make(map[string]bool, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// pullReporter prints status changes and every tenth percent of a layer
// download rather than each progress frame.
func pullReporter(w io.Writer) func(PullProgress) {
	lastStatus, lastStep := "", -1
	return func(p PullProgress) {
		if p.Total <= 0 {
			if p.Status != lastStatus {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
			lastStatus, lastStep = p.Status, -1
			return
		}
		step := int(p.Completed * 10 / p.Total)
		if p.Status == lastStatus && step == lastStep {
			return
		}
		lastStatus, lastStep = p.Status, step
		fmt.Fprintf(w, "  %s %d%%\n", p.Status, step*10)
	}
}
