package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quiz-trove/backend/internal/quizzes"
	"github.com/quiz-trove/backend/pkg/queue"
	"github.com/quiz-trove/backend/pkg/sheet"
)

// Importer creates questions from parsed sheet rows.
type Importer interface {
	CreateQuestionsBulk(ctx context.Context, quizID uuid.UUID, rows []quizzes.SheetRow, actor string) (*quizzes.BulkResult, error)
}

// ObjectReader fetches uploaded sheets from object storage.
type ObjectReader interface {
	GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// JobQueue is the part of the Redis queue the processor drives.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) (bool, error)
	SetStatus(ctx context.Context, st *queue.JobStatus) error
}

// errPermanent marks failures that a retry cannot fix.
var errPermanent = errors.New("permanent failure")

// ImportProcessor runs question import jobs: load the sheet, parse it, create
// the questions and record the outcome in the job status.
type ImportProcessor struct {
	importer Importer
	objects  ObjectReader
	queue    JobQueue
	logger   *zap.Logger
	backoff  time.Duration
}

// NewImportProcessor creates a question import processor. objects may be nil
// when every job carries its sheet inline.
func NewImportProcessor(importer Importer, objects ObjectReader, q JobQueue, logger *zap.Logger) *ImportProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportProcessor{importer: importer, objects: objects, queue: q, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one import job. A returned error means the job may be
// retried; permanent failures wrap errPermanent.
func (p *ImportProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeQuestionImport {
		return fmt.Errorf("%w: unknown job type %s", errPermanent, job.Type)
	}
	var payload queue.QuestionImportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("%w: unmarshal payload: %v", errPermanent, err)
	}
	p.setStatus(ctx, &queue.JobStatus{JobID: job.ID, QuizID: payload.QuizID, State: queue.StateRunning, Attempt: job.Attempt})

	cells, err := p.loadSheet(ctx, payload)
	if err != nil {
		return err
	}
	rows := quizzes.ParseSheetRows(cells)

	res, err := p.importer.CreateQuestionsBulk(ctx, payload.QuizID, rows, payload.Actor)
	if err != nil {
		// Rows already stored, linked or not, must not be imported twice.
		if errors.Is(err, quizzes.ErrNotFound) || errors.Is(err, quizzes.ErrValidation) || (res != nil && res.Committed() > 0) {
			p.finish(ctx, job, payload.QuizID, res, err)
			return nil
		}
		return fmt.Errorf("import questions: %w", err)
	}
	p.finish(ctx, job, payload.QuizID, res, nil)
	p.logger.Info("question import completed",
		zap.String("job_id", job.ID), zap.String("quiz_id", payload.QuizID.String()),
		zap.Int("created", len(res.Created)), zap.Int("failed", len(res.Failed)))
	return nil
}

func (p *ImportProcessor) loadSheet(ctx context.Context, payload queue.QuestionImportPayload) ([][]string, error) {
	var body io.Reader
	if payload.Key != "" {
		if p.objects == nil {
			return nil, fmt.Errorf("%w: no object store for %s", errPermanent, payload.Key)
		}
		rc, err := p.objects.GetObjectStream(ctx, payload.Bucket, payload.Key)
		if err != nil {
			return nil, fmt.Errorf("fetch sheet: %w", err)
		}
		defer rc.Close()
		body = rc
	} else {
		body = bytes.NewReader(payload.Content)
	}
	cells, err := sheet.Read(body, payload.Filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errPermanent, err)
	}
	return cells, nil
}

func (p *ImportProcessor) finish(ctx context.Context, job *queue.Job, quizID uuid.UUID, res *quizzes.BulkResult, err error) {
	st := &queue.JobStatus{JobID: job.ID, QuizID: quizID, State: queue.StateCompleted, Attempt: job.Attempt}
	if res != nil {
		st.Created = res.Committed()
		st.Failed = len(res.Failed)
		if raw, mErr := json.Marshal(res); mErr == nil {
			st.Result = raw
		}
	}
	if err != nil {
		st.State = queue.StateFailed
		st.Error = publicReason(err)
	}
	p.setStatus(ctx, st)
}

// setStatus outlives ctx so a shutdown still records where the job stopped.
func (p *ImportProcessor) setStatus(ctx context.Context, st *queue.JobStatus) {
	if err := p.queue.SetStatus(context.WithoutCancel(ctx), st); err != nil {
		p.logger.Warn("set job status failed", zap.String("job_id", st.JobID), zap.Error(err))
	}
}

// publicReason keeps storage details out of the status clients can read.
func publicReason(err error) string {
	switch {
	case errors.Is(err, quizzes.ErrNotFound):
		return "quiz not found"
	case errors.Is(err, quizzes.ErrStorage):
		return quizzes.ErrStorage.Error()
	}
	return err.Error()
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ImportProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("import worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.handleFailure(ctx, job, err)
		}
	}
}

func (p *ImportProcessor) handleFailure(ctx context.Context, job *queue.Job, err error) {
	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
	st := &queue.JobStatus{JobID: job.ID, State: queue.StateFailed, Attempt: job.Attempt, Error: publicReason(err)}
	var payload queue.QuestionImportPayload
	if json.Unmarshal(job.Payload, &payload) == nil {
		st.QuizID = payload.QuizID
	}
	if errors.Is(err, errPermanent) {
		p.setStatus(ctx, st)
		return
	}
	// Requeue even when the worker is stopping so the job is not lost.
	dead, reErr := p.queue.Retry(context.WithoutCancel(ctx), job)
	if reErr != nil {
		p.logger.Error("retry enqueue failed", zap.Error(reErr))
		p.setStatus(ctx, st)
		return
	}
	if !dead {
		st.State = queue.StateQueued
		st.Attempt = job.Attempt
	}
	p.setStatus(ctx, st)
	p.sleep(ctx)
}

func (p *ImportProcessor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.backoff):
	}
}
