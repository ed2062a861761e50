package quizzes

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quiz-trove/backend/internal/models"
)

// Store is the document store behind the coordinator. Implementations return
// ErrNotFound for unknown ids and ErrConflict for duplicate keys; lookups by id
// ignore status so the caller decides what "live" means.
type Store interface {
	QuestionSource

	InsertQuiz(ctx context.Context, q *models.Quiz) error
	ListLiveQuizzes(ctx context.Context, search string) ([]models.Quiz, error)
	// UpdateQuiz writes content and audit fields. It never writes QuestionRefs.
	UpdateQuiz(ctx context.Context, q *models.Quiz) error
	// AppendQuestionRef and RemoveQuestionRef change membership atomically
	// on the store side and refresh the quiz's updated_at.
	AppendQuestionRef(ctx context.Context, quizID, questionID uuid.UUID, at time.Time) error
	RemoveQuestionRef(ctx context.Context, quizID, questionID uuid.UUID, at time.Time) error

	InsertQuestion(ctx context.Context, q *models.Question) error
	GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error)
	UpdateQuestion(ctx context.Context, q *models.Question) error
	// DeleteQuestionsByQuiz soft-deletes every live question of a quiz and
	// returns how many were transitioned.
	DeleteQuestionsByQuiz(ctx context.Context, quizID uuid.UUID, actor string, at time.Time) (int64, error)
}

// QuestionSource is the read-only slice of the store used by the Reader.
type QuestionSource interface {
	GetQuiz(ctx context.Context, id uuid.UUID) (*models.Quiz, error)
	CountLiveQuestions(ctx context.Context, quizID uuid.UUID) (int, error)
	// ListLiveQuestions returns live questions of a quiz in a stable order
	// (created_at, id), skipping offset and returning at most limit items.
	ListLiveQuestions(ctx context.Context, quizID uuid.UUID, offset, limit int) ([]models.Question, error)
}
