package models

import (
	"github.com/google/uuid"

	"github.com/quiz-trove/backend/internal/lifecycle"
)

// Question is a multiple-choice question owned by exactly one quiz.
// CorrectAnswer is a zero-based index into Options.
type Question struct {
	ID            uuid.UUID `json:"id"`
	QuizID        uuid.UUID `json:"quiz_id"`
	QuestionText  string    `json:"question_text"`
	Options       []string  `json:"options"`
	CorrectAnswer int       `json:"correct_answer"`
	lifecycle.Audit
}
