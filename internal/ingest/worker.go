// Package ingest runs background jobs that derive secondary artifacts from
// synthesized documents.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/opscribe/internal/metrics"
	"github.com/kalambet/opscribe/internal/storage"
	"github.com/kalambet/opscribe/internal/synth"
)

// JobDeriveFlowchart renders the flowchart of one procedure version.
const JobDeriveFlowchart = "derive_flowchart"

// JobStore is the slice of storage the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	RequeueRunningJobs() (int, error)
	PruneJobs(cutoff time.Time) (int, error)
	GetDocumentByID(id string) (storage.Document, error)
	SetFlowchart(documentID string, version int, flowchart string) (bool, error)
}

// FlowchartDeriver turns document content into mermaid source.
type FlowchartDeriver interface {
	Derive(ctx context.Context, content, sectionsJSON string) (string, error)
}

// Options tunes a Worker. Zero values pick the defaults.
type Options struct {
	PollInterval time.Duration
	// Retention is how long finished jobs are kept. Negative disables pruning.
	Retention time.Duration
}

const (
	defaultPoll      = 500 * time.Millisecond
	defaultRetention = 7 * 24 * time.Hour
	pruneEvery       = time.Hour
)

// Worker derives flowcharts for procedure documents off the synthesis path.
type Worker struct {
	store     JobStore
	deriver   FlowchartDeriver
	poll      time.Duration
	retention time.Duration
	now       func() time.Time
	lastPrune time.Time
	logger    *slog.Logger
}

func NewWorker(store JobStore, deriver FlowchartDeriver, opts Options) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPoll
	}
	if opts.Retention == 0 {
		opts.Retention = defaultRetention
	}
	return &Worker{
		store:     store,
		deriver:   deriver,
		poll:      opts.PollInterval,
		retention: opts.Retention,
		now:       time.Now,
		logger:    slog.Default().With("component", "flowchart-worker"),
	}
}

type flowchartPayload struct {
	DocumentID string `json:"document_id"`
	Version    int    `json:"version"`
}

// NewFlowchartJob builds the job for one document version. A newer version
// of the same document replaces a job that has not started yet.
func NewFlowchartJob(documentID string, version int) (storage.Job, error) {
	b, err := json.Marshal(flowchartPayload{DocumentID: documentID, Version: version})
	if err != nil {
		return storage.Job{}, err
	}
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        JobDeriveFlowchart,
		Key:         documentID,
		PayloadJSON: string(b),
	}, nil
}

// Run recovers jobs orphaned by a previous process, then polls until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.store.RequeueRunningJobs(); err != nil {
		w.logger.Error("requeueing interrupted jobs", "error", err)
	} else if n > 0 {
		w.logger.Info("requeued interrupted jobs", "count", n)
	}

	for ctx.Err() == nil {
		w.maybePrune()

		busy, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if busy {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(w.poll):
		}
	}
}

func (w *Worker) maybePrune() {
	if w.retention < 0 {
		return
	}
	now := w.now()
	if !w.lastPrune.IsZero() && now.Sub(w.lastPrune) < pruneEvery {
		return
	}
	w.lastPrune = now
	n, err := w.store.PruneJobs(now.Add(-w.retention))
	if err != nil {
		w.logger.Warn("pruning finished jobs", "error", err)
		return
	}
	if n > 0 {
		w.logger.Debug("pruned finished jobs", "count", n)
	}
}

// RunOnce claims and handles at most one job. It reports whether a job was
// claimed, whatever its outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobDeriveFlowchart})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	log := w.logger.With("job_id", job.ID, "attempt", job.Attempts+1)
	if err := w.processJob(ctx, job); err != nil {
		metrics.FlowchartJobs.WithLabelValues("retry").Inc()
		log.Warn("flowchart job failed", "error", err)
		if ferr := w.store.FailJob(job.ID, err.Error()); ferr != nil {
			log.Error("recording job failure", "error", ferr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// processJob returns an error only for failures worth retrying. A deleted
// document, a superseded version or an unusable response complete the job.
func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload flowchartPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		metrics.FlowchartJobs.WithLabelValues("invalid").Inc()
		w.logger.Warn("dropping job with malformed payload", "job_id", job.ID, "error", err)
		return nil
	}

	doc, err := w.store.GetDocumentByID(payload.DocumentID)
	if errors.Is(err, storage.ErrNotFound) {
		metrics.FlowchartJobs.WithLabelValues("stale").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}
	if doc.Version != payload.Version {
		metrics.FlowchartJobs.WithLabelValues("stale").Inc()
		return nil
	}

	chart, err := w.deriver.Derive(ctx, doc.Content, doc.SectionsJSON)
	if errors.Is(err, synth.ErrNoFlowchart) {
		metrics.FlowchartJobs.WithLabelValues("empty").Inc()
		w.logger.Info("no flowchart for document", "document_id", doc.ID, "version", doc.Version)
		return nil
	}
	if err != nil {
		return fmt.Errorf("deriving flowchart: %w", err)
	}

	applied, err := w.store.SetFlowchart(doc.ID, payload.Version, chart)
	if err != nil {
		return fmt.Errorf("saving flowchart: %w", err)
	}
	if !applied {
		metrics.FlowchartJobs.WithLabelValues("stale").Inc()
		return nil
	}
	metrics.FlowchartJobs.WithLabelValues("ok").Inc()
	return nil
}
