// Package history persists terminal workflow runs to Postgres through a
// bounded async write queue, so a slow or unavailable database never blocks
// pipeline execution.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nexus-kamuy/orchestrator/internal/config"
	"github.com/nexus-kamuy/orchestrator/internal/metrics"
	"github.com/nexus-kamuy/orchestrator/internal/models"
)

const (
	writeTimeout = 5 * time.Second
	// prune cadence in successful writes
	pruneEvery = 128
)

// Open connects to Postgres and verifies the connection.
func Open(cfg config.PostgresConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// Writer drains a bounded queue of terminal workflows into Postgres.
// It implements the orchestrator's Recorder seam.
type Writer struct {
	db        *sqlx.DB
	logger    *zap.Logger
	queue     chan *models.Workflow
	stopCh    chan struct{}
	wg        sync.WaitGroup
	retention int

	mu     sync.Mutex
	closed bool
	writes int
}

// NewWriter starts the background drain worker.
func NewWriter(db *sqlx.DB, cfg config.HistoryConfig, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &Writer{
		db:        db,
		logger:    logger,
		queue:     make(chan *models.Workflow, queueSize),
		stopCh:    make(chan struct{}),
		retention: cfg.RetentionCap,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// RecordWorkflow enqueues a workflow snapshot without blocking. When the
// queue is full or the writer is closed the record is dropped and counted.
func (w *Writer) RecordWorkflow(wf *models.Workflow) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		metrics.HistoryWriteErrors.Inc()
		return
	}

	select {
	case w.queue <- wf:
		metrics.HistoryWriteQueueDepth.Set(float64(len(w.queue)))
	default:
		metrics.HistoryWriteErrors.Inc()
		w.logger.Warn("History write queue full, dropping record",
			zap.String("workflow_id", wf.ID),
		)
	}
}

// Close stops accepting new records and drains the queue before returning.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stopCh)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("history writer shutdown: %w", ctx.Err())
	}
}

func (w *Writer) run() {
	defer w.wg.Done()
	for {
		select {
		case wf := <-w.queue:
			w.save(wf)
		case <-w.stopCh:
			// drain what is left
			for {
				select {
				case wf := <-w.queue:
					w.save(wf)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) save(wf *models.Workflow) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := w.saveWorkflow(ctx, wf); err != nil {
		metrics.HistoryWriteErrors.Inc()
		w.logger.Error("Failed to persist workflow history",
			zap.String("workflow_id", wf.ID),
			zap.Error(err),
		)
		metrics.HistoryWriteQueueDepth.Set(float64(len(w.queue)))
		return
	}
	metrics.HistoryWriteQueueDepth.Set(float64(len(w.queue)))

	w.mu.Lock()
	w.writes++
	shouldPrune := w.retention > 0 && w.writes%pruneEvery == 0
	w.mu.Unlock()
	if shouldPrune {
		if err := w.prune(ctx); err != nil {
			w.logger.Warn("Failed to prune workflow history", zap.Error(err))
		}
	}
}

// saveWorkflow upserts one workflow run, idempotent by workflow_id.
func (w *Writer) saveWorkflow(ctx context.Context, wf *models.Workflow) error {
	rec, err := toRecord(wf)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_history (
			id, workflow_id, name, workflow_type, requester, target, status,
			started_at, completed_at, steps_total, step_results, metadata,
			duration_minutes, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		ON CONFLICT (workflow_id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			step_results = EXCLUDED.step_results,
			metadata = EXCLUDED.metadata,
			duration_minutes = EXCLUDED.duration_minutes`

	_, err = w.db.ExecContext(ctx, query,
		rec.ID, rec.WorkflowID, rec.Name, rec.WorkflowType, rec.Requester,
		rec.Target, rec.Status, rec.StartedAt, rec.CompletedAt, rec.StepsTotal,
		rec.StepResults, rec.Metadata, rec.DurationMinutes, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save workflow history: %w", err)
	}

	w.logger.Debug("Workflow history saved",
		zap.String("workflow_id", rec.WorkflowID),
		zap.String("status", rec.Status),
	)
	return nil
}

// prune keeps only the newest retention-cap rows.
func (w *Writer) prune(ctx context.Context) error {
	query := `
		DELETE FROM workflow_history
		WHERE id NOT IN (
			SELECT id FROM workflow_history
			ORDER BY created_at DESC
			LIMIT $1
		)`
	_, err := w.db.ExecContext(ctx, query, w.retention)
	if err != nil {
		return fmt.Errorf("prune workflow history: %w", err)
	}
	return nil
}

func toRecord(wf *models.Workflow) (*WorkflowRecord, error) {
	results, err := toJSONB(wf.StepResults)
	if err != nil {
		return nil, fmt.Errorf("encode step results: %w", err)
	}
	meta, err := toJSONB(wf.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	return &WorkflowRecord{
		ID:              uuid.New(),
		WorkflowID:      wf.ID,
		Name:            wf.Name,
		WorkflowType:    wf.WorkflowType,
		Requester:       wf.Requester,
		Target:          wf.Target,
		Status:          string(wf.Status),
		StartedAt:       wf.StartTime,
		CompletedAt:     wf.EndTime,
		StepsTotal:      len(wf.Steps),
		StepResults:     results,
		Metadata:        meta,
		DurationMinutes: wf.ActualDuration,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

func toJSONB(v interface{}) (JSONB, error) {
	if v == nil {
		return JSONB{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out JSONB
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = JSONB{}
	}
	return out, nil
}
