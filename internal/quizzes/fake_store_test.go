package quizzes

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quiz-trove/backend/internal/lifecycle"
	"github.com/quiz-trove/backend/internal/models"
)

// memStore is an in-memory Store with the same contract as Repository.
type memStore struct {
	mu        sync.Mutex
	quizzes   map[uuid.UUID]models.Quiz
	questions map[uuid.UUID]models.Question
	// fail, when set, is consulted before every operation.
	fail func(op string) error
}

func newMemStore() *memStore {
	return &memStore{
		quizzes:   map[uuid.UUID]models.Quiz{},
		questions: map[uuid.UUID]models.Question{},
	}
}

var _ Store = (*memStore)(nil)

func (m *memStore) check(op string) error {
	if m.fail == nil {
		return nil
	}
	return m.fail(op)
}

func (m *memStore) InsertQuiz(_ context.Context, q *models.Quiz) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("InsertQuiz"); err != nil {
		return err
	}
	if _, ok := m.quizzes[q.ID]; ok {
		return ErrConflict
	}
	cp := *q
	cp.QuestionRefs = append([]uuid.UUID{}, q.QuestionRefs...)
	m.quizzes[q.ID] = cp
	return nil
}

func (m *memStore) GetQuiz(_ context.Context, id uuid.UUID) (*models.Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("GetQuiz"); err != nil {
		return nil, err
	}
	q, ok := m.quizzes[id]
	if !ok {
		return nil, ErrNotFound
	}
	q.QuestionRefs = append([]uuid.UUID{}, q.QuestionRefs...)
	return &q, nil
}

func (m *memStore) ListLiveQuizzes(_ context.Context, search string) ([]models.Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("ListLiveQuizzes"); err != nil {
		return nil, err
	}
	search = strings.ToLower(strings.TrimSpace(search))
	list := []models.Quiz{}
	for _, q := range m.quizzes {
		if !lifecycle.IsLive(q.Status) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(q.Title), search) {
			continue
		}
		q.QuestionRefs = append([]uuid.UUID{}, q.QuestionRefs...)
		list = append(list, q)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return bytes.Compare(list[i].ID[:], list[j].ID[:]) < 0
	})
	return list, nil
}

func (m *memStore) UpdateQuiz(_ context.Context, q *models.Quiz) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("UpdateQuiz"); err != nil {
		return err
	}
	cur, ok := m.quizzes[q.ID]
	if !ok {
		return quizNotFound(q.ID)
	}
	refs := cur.QuestionRefs
	cur = *q
	cur.QuestionRefs = refs
	m.quizzes[q.ID] = cur
	return nil
}

func (m *memStore) AppendQuestionRef(_ context.Context, quizID, questionID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("AppendQuestionRef"); err != nil {
		return err
	}
	q, ok := m.quizzes[quizID]
	if !ok {
		return quizNotFound(quizID)
	}
	q.QuestionRefs = append(append([]uuid.UUID{}, q.QuestionRefs...), questionID)
	q.Touch(at)
	m.quizzes[quizID] = q
	return nil
}

func (m *memStore) RemoveQuestionRef(_ context.Context, quizID, questionID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("RemoveQuestionRef"); err != nil {
		return err
	}
	q, ok := m.quizzes[quizID]
	if !ok {
		return quizNotFound(quizID)
	}
	refs := []uuid.UUID{}
	for _, r := range q.QuestionRefs {
		if r != questionID {
			refs = append(refs, r)
		}
	}
	q.QuestionRefs = refs
	q.Touch(at)
	m.quizzes[quizID] = q
	return nil
}

func (m *memStore) InsertQuestion(_ context.Context, q *models.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("InsertQuestion"); err != nil {
		return err
	}
	if _, ok := m.quizzes[q.QuizID]; !ok {
		return quizNotFound(q.QuizID)
	}
	if _, ok := m.questions[q.ID]; ok {
		return ErrConflict
	}
	cp := *q
	cp.Options = append([]string{}, q.Options...)
	m.questions[q.ID] = cp
	return nil
}

func (m *memStore) GetQuestion(_ context.Context, id uuid.UUID) (*models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("GetQuestion"); err != nil {
		return nil, err
	}
	q, ok := m.questions[id]
	if !ok {
		return nil, ErrNotFound
	}
	q.Options = append([]string{}, q.Options...)
	return &q, nil
}

func (m *memStore) UpdateQuestion(_ context.Context, q *models.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("UpdateQuestion"); err != nil {
		return err
	}
	cur, ok := m.questions[q.ID]
	if !ok {
		return questionNotFound(q.ID)
	}
	quizID := cur.QuizID
	cur = *q
	cur.QuizID = quizID
	cur.Options = append([]string{}, q.Options...)
	m.questions[q.ID] = cur
	return nil
}

func (m *memStore) DeleteQuestionsByQuiz(_ context.Context, quizID uuid.UUID, actor string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("DeleteQuestionsByQuiz"); err != nil {
		return 0, err
	}
	var n int64
	for id, q := range m.questions {
		if q.QuizID != quizID || q.Status == lifecycle.Deleted {
			continue
		}
		q.Status = lifecycle.Deleted
		q.UpdatedBy = actor
		q.UpdatedAt = at
		m.questions[id] = q
		n++
	}
	return n, nil
}

func (m *memStore) CountLiveQuestions(_ context.Context, quizID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("CountLiveQuestions"); err != nil {
		return 0, err
	}
	return len(m.liveQuestions(quizID)), nil
}

func (m *memStore) ListLiveQuestions(_ context.Context, quizID uuid.UUID, offset, limit int) ([]models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("ListLiveQuestions"); err != nil {
		return nil, err
	}
	all := m.liveQuestions(quizID)
	if offset >= len(all) {
		return []models.Question{}, nil
	}
	end := min(offset+limit, len(all))
	return append([]models.Question{}, all[offset:end]...), nil
}

func (m *memStore) liveQuestions(quizID uuid.UUID) []models.Question {
	list := []models.Question{}
	for _, q := range m.questions {
		if q.QuizID == quizID && lifecycle.IsLive(q.Status) {
			list = append(list, q)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return bytes.Compare(list[i].ID[:], list[j].ID[:]) < 0
	})
	return list
}

// stored returns the raw question record, deleted or not.
func (m *memStore) stored(id uuid.UUID) (models.Question, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	return q, ok
}

// storedQuiz returns the raw quiz record, deleted or not.
func (m *memStore) storedQuiz(id uuid.UUID) (models.Quiz, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quizzes[id]
	return q, ok
}

// failNth makes op fail on its nth call (1-based) with err.
func failNth(op string, n int, err error) func(string) error {
	var mu sync.Mutex
	calls := 0
	return func(got string) error {
		if got != op {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == n {
			return err
		}
		return nil
	}
}
