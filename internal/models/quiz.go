package models

import (
	"github.com/google/uuid"

	"github.com/quiz-trove/backend/internal/lifecycle"
)

// Quiz is the aggregate root. QuestionRefs lists member questions in the order
// they were added; the questions themselves own their content.
type Quiz struct {
	ID           uuid.UUID   `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Image        string      `json:"image"`
	QuestionRefs []uuid.UUID `json:"questions"`
	lifecycle.Audit
}

// HasQuestion reports whether id is listed in the quiz membership.
func (q *Quiz) HasQuestion(id uuid.UUID) bool {
	for _, ref := range q.QuestionRefs {
		if ref == id {
			return true
		}
	}
	return false
}
