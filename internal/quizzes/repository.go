package quizzes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quiz-trove/backend/internal/lifecycle"
	"github.com/quiz-trove/backend/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const quizColumns = `id, title, description, image, question_refs, status, created_by, updated_by, created_at, updated_at`

const questionColumns = `id, quiz_id, question_text, options, correct_answer, status, created_by, updated_by, created_at, updated_at`

// Repository handles quiz and question persistence in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a quiz repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// InsertQuiz inserts a new quiz with the id and audit fields already set.
func (r *Repository) InsertQuiz(ctx context.Context, q *models.Quiz) error {
	const query = `INSERT INTO quizzes (` + quizColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	refs := q.QuestionRefs
	if refs == nil {
		refs = []uuid.UUID{}
	}
	_, err := r.pool.Exec(ctx, query, q.ID, q.Title, q.Description, q.Image, refs,
		q.Status, q.CreatedBy, q.UpdatedBy, q.CreatedAt, q.UpdatedAt)
	return translate(err)
}

// GetQuiz returns a quiz by ID regardless of status.
func (r *Repository) GetQuiz(ctx context.Context, id uuid.UUID) (*models.Quiz, error) {
	query := `SELECT ` + quizColumns + ` FROM quizzes WHERE id = $1`
	q, err := scanQuiz(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, translate(err)
	}
	return q, nil
}

// ListLiveQuizzes returns non-deleted quizzes, newest first. A non-empty search
// matches the title as a case-insensitive substring.
func (r *Repository) ListLiveQuizzes(ctx context.Context, search string) ([]models.Quiz, error) {
	query := `SELECT ` + quizColumns + ` FROM quizzes WHERE status <> $1`
	args := []interface{}{lifecycle.Deleted}
	if search = strings.TrimSpace(search); search != "" {
		query += ` AND title ILIKE '%' || $2 || '%'`
		args = append(args, escapeLike(search))
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY created_at DESC, id`, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	list := []models.Quiz{}
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, translate(err)
		}
		list = append(list, *q)
	}
	return list, translate(rows.Err())
}

// UpdateQuiz writes content and audit fields of a quiz.
func (r *Repository) UpdateQuiz(ctx context.Context, q *models.Quiz) error {
	const query = `UPDATE quizzes SET title = $1, description = $2, image = $3, status = $4,
		updated_by = $5, updated_at = $6 WHERE id = $7`
	tag, err := r.pool.Exec(ctx, query, q.Title, q.Description, q.Image, q.Status, q.UpdatedBy, q.UpdatedAt, q.ID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return quizNotFound(q.ID)
	}
	return nil
}

// AppendQuestionRef adds a question id to the quiz membership in one statement.
func (r *Repository) AppendQuestionRef(ctx context.Context, quizID, questionID uuid.UUID, at time.Time) error {
	const query = `UPDATE quizzes SET question_refs = array_append(question_refs, $2), updated_at = $3 WHERE id = $1`
	return r.execQuiz(ctx, query, quizID, questionID, at)
}

// RemoveQuestionRef drops every occurrence of a question id from the quiz membership.
func (r *Repository) RemoveQuestionRef(ctx context.Context, quizID, questionID uuid.UUID, at time.Time) error {
	const query = `UPDATE quizzes SET question_refs = array_remove(question_refs, $2), updated_at = $3 WHERE id = $1`
	return r.execQuiz(ctx, query, quizID, questionID, at)
}

func (r *Repository) execQuiz(ctx context.Context, query string, quizID uuid.UUID, args ...interface{}) error {
	tag, err := r.pool.Exec(ctx, query, append([]interface{}{quizID}, args...)...)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return quizNotFound(quizID)
	}
	return nil
}

// InsertQuestion inserts a new question.
func (r *Repository) InsertQuestion(ctx context.Context, q *models.Question) error {
	const query = `INSERT INTO questions (` + questionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query, q.ID, q.QuizID, q.QuestionText, q.Options, q.CorrectAnswer,
		q.Status, q.CreatedBy, q.UpdatedBy, q.CreatedAt, q.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return quizNotFound(q.QuizID)
	}
	return translate(err)
}

// GetQuestion returns a question by ID regardless of status.
func (r *Repository) GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE id = $1`
	q, err := scanQuestion(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, translate(err)
	}
	return q, nil
}

// UpdateQuestion writes content and audit fields. quiz_id is never rewritten.
func (r *Repository) UpdateQuestion(ctx context.Context, q *models.Question) error {
	const query = `UPDATE questions SET question_text = $1, options = $2, correct_answer = $3, status = $4,
		updated_by = $5, updated_at = $6 WHERE id = $7`
	tag, err := r.pool.Exec(ctx, query, q.QuestionText, q.Options, q.CorrectAnswer, q.Status, q.UpdatedBy, q.UpdatedAt, q.ID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return questionNotFound(q.ID)
	}
	return nil
}

// DeleteQuestionsByQuiz soft-deletes all live questions of a quiz.
func (r *Repository) DeleteQuestionsByQuiz(ctx context.Context, quizID uuid.UUID, actor string, at time.Time) (int64, error) {
	const query = `UPDATE questions SET status = $1, updated_by = $2, updated_at = $3
		WHERE quiz_id = $4 AND status <> $1`
	tag, err := r.pool.Exec(ctx, query, lifecycle.Deleted, actor, at, quizID)
	if err != nil {
		return 0, translate(err)
	}
	return tag.RowsAffected(), nil
}

// CountLiveQuestions counts non-deleted questions of a quiz.
func (r *Repository) CountLiveQuestions(ctx context.Context, quizID uuid.UUID) (int, error) {
	const query = `SELECT COUNT(*) FROM questions WHERE quiz_id = $1 AND status <> $2`
	var n int
	err := r.pool.QueryRow(ctx, query, quizID, lifecycle.Deleted).Scan(&n)
	return n, translate(err)
}

// ListLiveQuestions returns one page of non-deleted questions in creation order.
func (r *Repository) ListLiveQuestions(ctx context.Context, quizID uuid.UUID, offset, limit int) ([]models.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions
		WHERE quiz_id = $1 AND status <> $2
		ORDER BY created_at, id LIMIT $4 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, quizID, lifecycle.Deleted, offset, limit)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	list := []models.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, translate(err)
		}
		list = append(list, *q)
	}
	return list, translate(rows.Err())
}

func scanQuiz(row pgx.Row) (*models.Quiz, error) {
	var q models.Quiz
	err := row.Scan(&q.ID, &q.Title, &q.Description, &q.Image, &q.QuestionRefs,
		&q.Status, &q.CreatedBy, &q.UpdatedBy, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func scanQuestion(row pgx.Row) (*models.Question, error) {
	var q models.Question
	err := row.Scan(&q.ID, &q.QuizID, &q.QuestionText, &q.Options, &q.CorrectAnswer,
		&q.Status, &q.CreatedBy, &q.UpdatedBy, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// translate maps driver errors onto the store contract.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrConflict
	}
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
