package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueImports is the Redis list key for question import jobs.
	QueueImports = "worker:question_imports"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// StatusTTL is how long a job status stays readable after its last change.
	StatusTTL = 24 * time.Hour

	statusKeyPrefix = "worker:import_status:"
	dequeueTimeout  = 5 * time.Second
)

// ErrJobNotFound is returned when no status is stored for a job id.
var ErrJobNotFound = errors.New("job not found")

// JobType identifies the job kind.
type JobType string

const JobTypeQuestionImport JobType = "question_import"

// QuestionImportPayload describes where the uploaded sheet lives. Either
// Bucket/Key point at an object or Content carries the sheet itself.
type QuestionImportPayload struct {
	QuizID   uuid.UUID `json:"quiz_id"`
	Actor    string    `json:"actor"`
	Filename string    `json:"filename"`
	Bucket   string    `json:"bucket,omitempty"`
	Key      string    `json:"key,omitempty"`
	Content  []byte    `json:"content,omitempty"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// State is the externally visible progress of a job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// JobStatus is stored next to the queue so clients can poll a job.
type JobStatus struct {
	JobID     string          `json:"job_id"`
	QuizID    uuid.UUID       `json:"quiz_id"`
	State     State           `json:"state"`
	Attempt   int             `json:"attempt"`
	Created   int             `json:"created"`
	Failed    int             `json:"failed"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueQuestionImport records the job as queued and pushes it. An empty
// jobID gets a fresh one.
func (q *Queue) EnqueueQuestionImport(ctx context.Context, jobID string, payload QuestionImportPayload) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if jobID == "" {
		jobID = uuid.New().String()
	}
	job := &Job{
		ID:        jobID,
		Type:      JobTypeQuestionImport,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.SetStatus(ctx, &JobStatus{JobID: job.ID, QuizID: payload.QuizID, State: StateQueued}); err != nil {
		return nil, err
	}
	if err := q.client.RPush(ctx, QueueImports, raw).Err(); err != nil {
		return nil, fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued question import job", zap.String("job_id", job.ID), zap.String("quiz_id", payload.QuizID.String()))
	return job, nil
}

// Dequeue waits briefly for a job. It returns a nil job when none arrived so
// callers can check for shutdown between polls.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, dequeueTimeout, QueueImports).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries,
// pushes to DLQ instead and reports deadLettered.
func (q *Queue) Retry(ctx context.Context, job *Job) (deadLettered bool, err error) {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return false, err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return true, nil
	}
	if err := q.client.RPush(ctx, QueueImports, raw).Err(); err != nil {
		return false, err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return false, nil
}

// SetStatus stores a job status, replacing the previous one.
func (q *Queue) SetStatus(ctx context.Context, st *JobStatus) error {
	st.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := q.client.Set(ctx, statusKeyPrefix+st.JobID, raw, StatusTTL).Err(); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// GetStatus returns the last stored status of a job.
func (q *Queue) GetStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	raw, err := q.client.Get(ctx, statusKeyPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	var st JobStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("unmarshal status: %w", err)
	}
	return &st, nil
}
