package quizzes

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/quiz-trove/backend/internal/lifecycle"
	"github.com/quiz-trove/backend/internal/models"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page is one page of a quiz's questions.
type Page struct {
	TotalCount  int               `json:"total_count"`
	CurrentPage int               `json:"current_page"`
	TotalPages  int               `json:"total_pages"`
	Questions   []models.Question `json:"questions"`
}

// Reader serves paginated question lists. Pages are cut from a stable order
// and shuffled afterwards, so every live question shows up on exactly one page.
type Reader struct {
	src             QuestionSource
	defaultPageSize int
	maxPageSize     int
	shuffle         func(n int, swap func(i, j int))
}

// NewReader creates a reader. Non-positive sizes fall back to the defaults.
func NewReader(src QuestionSource, defaultPageSize, maxPageSize int) *Reader {
	if maxPageSize <= 0 {
		maxPageSize = MaxPageSize
	}
	if defaultPageSize <= 0 || defaultPageSize > maxPageSize {
		defaultPageSize = min(DefaultPageSize, maxPageSize)
	}
	return &Reader{
		src:             src,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		shuffle:         rand.Shuffle,
	}
}

// DefaultPageSize returns the page size used when the caller gives none.
func (r *Reader) DefaultPageSize() int { return r.defaultPageSize }

// ListQuestions returns page `page` of the quiz's live questions in random order.
// An unknown quiz is reported before the page bounds are checked. A quiz with
// no live questions is reported as not found; a page past the end is empty.
func (r *Reader) ListQuestions(ctx context.Context, quizID uuid.UUID, page, pageSize int) (*Page, error) {
	quiz, err := r.src.GetQuiz(ctx, quizID)
	if errors.Is(err, ErrNotFound) {
		return nil, quizNotFound(quizID)
	}
	if err != nil {
		return nil, storageErr("get quiz", err)
	}
	if !lifecycle.IsLive(quiz.Status) {
		return nil, quizNotFound(quizID)
	}
	if page < 1 {
		return nil, invalid("page", "must be at least 1")
	}
	if pageSize < 1 || pageSize > r.maxPageSize {
		return nil, invalid("limit", "must be between 1 and %d", r.maxPageSize)
	}

	total, err := r.src.CountLiveQuestions(ctx, quizID)
	if err != nil {
		return nil, storageErr("count questions", err)
	}
	if total == 0 {
		return nil, fmt.Errorf("quiz %s has no questions: %w", quizID, ErrNotFound)
	}

	out := &Page{
		TotalCount:  total,
		CurrentPage: page,
		TotalPages:  (total + pageSize - 1) / pageSize,
		Questions:   []models.Question{},
	}
	if page > out.TotalPages {
		return out, nil
	}

	items, err := r.src.ListLiveQuestions(ctx, quizID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, storageErr("list questions", err)
	}
	r.shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	out.Questions = items
	return out, nil
}
