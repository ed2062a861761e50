package quizzes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quiz-trove/backend/internal/lifecycle"
	"github.com/quiz-trove/backend/internal/models"
	"github.com/quiz-trove/backend/pkg/storage"
)

// DefaultMaxImageBytes caps quiz image uploads when no limit is configured.
const DefaultMaxImageBytes = 5 * 1024 * 1024

// QuizInput holds the fields of a new quiz.
type QuizInput struct {
	Title       string
	Description string
	Image       *ImageUpload
}

// QuizUpdate holds the fields to replace on a quiz. Nil fields are kept.
type QuizUpdate struct {
	Title       *string
	Description *string
	Image       *ImageUpload
}

// QuestionInput holds the content fields of a question. The binding tags
// check request bodies; normalize applies the same rules to every source.
type QuestionInput struct {
	QuestionText  string   `json:"question_text" binding:"required"`
	Options       []string `json:"options" binding:"required,min=2,dive,required"`
	CorrectAnswer *int     `json:"correct_answer" binding:"required,min=0"`
}

// Limits bounds client-supplied sizes.
type Limits struct {
	MaxImageBytes   int64
	DefaultPageSize int
	MaxPageSize     int
}

// Service coordinates writes across a quiz and its questions. It is the only
// place that changes the quiz <-> question links.
type Service struct {
	store  Store
	images ImageStore
	reader *Reader
	limits Limits
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the quiz service.
func NewService(store Store, images ImageStore, limits Limits, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if images == nil {
		images = InlineImages{}
	}
	if limits.MaxImageBytes <= 0 {
		limits.MaxImageBytes = DefaultMaxImageBytes
	}
	return &Service{
		store:  store,
		images: images,
		reader: NewReader(store, limits.DefaultPageSize, limits.MaxPageSize),
		limits: limits,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Reader returns the paginated question reader backed by the same store.
func (s *Service) Reader() *Reader { return s.reader }

// CreateQuiz stores a new quiz with an empty membership list.
func (s *Service) CreateQuiz(ctx context.Context, in QuizInput, actor string) (*models.Quiz, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title", "is required")
	}
	if in.Image == nil {
		return nil, invalid("image", "is required")
	}
	if err := s.checkImage(in.Image); err != nil {
		return nil, err
	}

	quiz := &models.Quiz{
		ID:           uuid.New(),
		Title:        title,
		Description:  strings.TrimSpace(in.Description),
		QuestionRefs: []uuid.UUID{},
		Audit:        lifecycle.New(actor, s.now()),
	}
	ref, err := s.images.SaveQuizImage(ctx, quiz.ID, in.Image)
	if err != nil {
		s.logger.Error("save quiz image failed", zap.Error(err), zap.String("quiz_id", quiz.ID.String()))
		return nil, storageErr("save quiz image", err)
	}
	quiz.Image = ref

	if err := s.store.InsertQuiz(ctx, quiz); err != nil {
		s.logger.Error("insert quiz failed", zap.Error(err), zap.String("quiz_id", quiz.ID.String()))
		return nil, storageErr("insert quiz", err)
	}
	s.logger.Info("quiz created", zap.String("quiz_id", quiz.ID.String()), zap.String("actor", actor))
	return quiz, nil
}

// ListQuizzes returns live quizzes, optionally filtered by title.
func (s *Service) ListQuizzes(ctx context.Context, search string) ([]models.Quiz, error) {
	list, err := s.store.ListLiveQuizzes(ctx, search)
	if err != nil {
		s.logger.Error("list quizzes failed", zap.Error(err))
		return nil, storageErr("list quizzes", err)
	}
	return list, nil
}

// GetQuiz returns a live quiz.
func (s *Service) GetQuiz(ctx context.Context, id uuid.UUID) (*models.Quiz, error) {
	return s.liveQuiz(ctx, id)
}

// UpdateQuiz replaces the given content fields and marks the quiz updated.
func (s *Service) UpdateQuiz(ctx context.Context, id uuid.UUID, in QuizUpdate, actor string) (*models.Quiz, error) {
	quiz, err := s.liveQuiz(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, invalid("title", "must not be empty")
		}
		quiz.Title = title
	}
	if in.Description != nil {
		quiz.Description = strings.TrimSpace(*in.Description)
	}
	oldImage := quiz.Image
	if in.Image != nil {
		if err := s.checkImage(in.Image); err != nil {
			return nil, err
		}
		ref, err := s.images.SaveQuizImage(ctx, quiz.ID, in.Image)
		if err != nil {
			s.logger.Error("save quiz image failed", zap.Error(err), zap.String("quiz_id", quiz.ID.String()))
			return nil, storageErr("save quiz image", err)
		}
		quiz.Image = ref
	}
	if err := quiz.MarkUpdated(actor, s.now()); err != nil {
		return nil, quizNotFound(id)
	}
	if err := s.store.UpdateQuiz(ctx, quiz); err != nil {
		s.logger.Error("update quiz failed", zap.Error(err), zap.String("quiz_id", id.String()))
		return nil, storageErr("update quiz", err)
	}
	if in.Image != nil && oldImage != "" && oldImage != quiz.Image {
		if err := s.images.RemoveQuizImage(ctx, oldImage); err != nil {
			s.logger.Warn("remove replaced quiz image failed", zap.Error(err), zap.String("quiz_id", id.String()))
		}
	}
	return quiz, nil
}

// DeleteQuiz soft-deletes the quiz, then every question that points at it.
// The two writes are not atomic. Deleting an already deleted quiz reruns the
// question cascade before reporting NotFound, which repairs a failed cascade.
func (s *Service) DeleteQuiz(ctx context.Context, id uuid.UUID, actor string) error {
	quiz, err := s.store.GetQuiz(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return quizNotFound(id)
	}
	if err != nil {
		s.logger.Error("get quiz failed", zap.Error(err), zap.String("quiz_id", id.String()))
		return storageErr("get quiz", err)
	}
	now := s.now()
	if !lifecycle.IsLive(quiz.Status) {
		n, err := s.cascadeQuestions(ctx, id, actor, now)
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Info("questions of deleted quiz removed", zap.String("quiz_id", id.String()), zap.Int64("questions_deleted", n))
		}
		return quizNotFound(id)
	}
	if err := quiz.MarkDeleted(actor, now); err != nil {
		return quizNotFound(id)
	}
	if err := s.store.UpdateQuiz(ctx, quiz); err != nil {
		s.logger.Error("delete quiz failed", zap.Error(err), zap.String("quiz_id", id.String()))
		return storageErr("delete quiz", err)
	}
	n, err := s.cascadeQuestions(ctx, id, actor, now)
	if err != nil {
		return err
	}
	s.logger.Info("quiz deleted", zap.String("quiz_id", id.String()), zap.Int64("questions_deleted", n), zap.String("actor", actor))
	return nil
}

// cascadeQuestions soft-deletes the live questions of a quiz.
func (s *Service) cascadeQuestions(ctx context.Context, quizID uuid.UUID, actor string, at time.Time) (int64, error) {
	n, err := s.store.DeleteQuestionsByQuiz(ctx, quizID, actor, at)
	if err != nil {
		s.logger.Error("quiz deleted but question cascade failed", zap.Error(err), zap.String("quiz_id", quizID.String()))
		return 0, storageErr("cascade delete questions", err)
	}
	return n, nil
}

// CreateQuestion stores a question and then links it to its quiz.
func (s *Service) CreateQuestion(ctx context.Context, quizID uuid.UUID, in QuestionInput, actor string) (*models.Question, error) {
	if _, err := s.liveQuiz(ctx, quizID); err != nil {
		return nil, err
	}
	q, err := s.addQuestion(ctx, quizID, in, actor)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// addQuestion inserts and links a question. When only the link fails the
// stored question is returned along with the error.
func (s *Service) addQuestion(ctx context.Context, quizID uuid.UUID, in QuestionInput, actor string) (*models.Question, error) {
	text, options, answer, err := in.normalize()
	if err != nil {
		return nil, err
	}
	now := s.now()
	q := &models.Question{
		ID:            uuid.New(),
		QuizID:        quizID,
		QuestionText:  text,
		Options:       options,
		CorrectAnswer: answer,
		Audit:         lifecycle.New(actor, now),
	}
	if err := s.store.InsertQuestion(ctx, q); err != nil {
		s.logger.Error("insert question failed", zap.Error(err), zap.String("quiz_id", quizID.String()))
		return nil, storageErr("insert question", err)
	}
	if err := s.store.AppendQuestionRef(ctx, quizID, q.ID, now); err != nil {
		s.logger.Warn("question stored but not linked to quiz",
			zap.Error(err), zap.String("quiz_id", quizID.String()), zap.String("question_id", q.ID.String()))
		return q, storageErr("link question", err)
	}
	return q, nil
}

// UpdateQuestion replaces the content of a question that belongs to quizID.
func (s *Service) UpdateQuestion(ctx context.Context, quizID, questionID uuid.UUID, in QuestionInput, actor string) (*models.Question, error) {
	if _, err := s.liveQuiz(ctx, quizID); err != nil {
		return nil, err
	}
	q, err := s.liveQuestion(ctx, quizID, questionID)
	if err != nil {
		return nil, err
	}
	text, options, answer, err := in.normalize()
	if err != nil {
		return nil, err
	}
	q.QuestionText = text
	q.Options = options
	q.CorrectAnswer = answer
	if err := q.MarkUpdated(actor, s.now()); err != nil {
		return nil, questionNotFound(questionID)
	}
	if err := s.store.UpdateQuestion(ctx, q); err != nil {
		s.logger.Error("update question failed", zap.Error(err), zap.String("question_id", questionID.String()))
		return nil, storageErr("update question", err)
	}
	return q, nil
}

// DeleteQuestion unlinks the question from its quiz, then soft-deletes it.
// If the second write fails the question stays live but unlisted.
func (s *Service) DeleteQuestion(ctx context.Context, quizID, questionID uuid.UUID, actor string) error {
	if _, err := s.liveQuiz(ctx, quizID); err != nil {
		return err
	}
	q, err := s.liveQuestion(ctx, quizID, questionID)
	if err != nil {
		return err
	}
	now := s.now()
	if err := s.store.RemoveQuestionRef(ctx, quizID, questionID, now); err != nil {
		s.logger.Error("unlink question failed", zap.Error(err), zap.String("question_id", questionID.String()))
		return storageErr("unlink question", err)
	}
	if err := q.MarkDeleted(actor, now); err != nil {
		return questionNotFound(questionID)
	}
	if err := s.store.UpdateQuestion(ctx, q); err != nil {
		s.logger.Warn("question unlinked but not deleted",
			zap.Error(err), zap.String("quiz_id", quizID.String()), zap.String("question_id", questionID.String()))
		return storageErr("delete question", err)
	}
	return nil
}

// ListQuestions returns one shuffled page of a quiz's live questions.
func (s *Service) ListQuestions(ctx context.Context, quizID uuid.UUID, page, pageSize int) (*Page, error) {
	return s.reader.ListQuestions(ctx, quizID, page, pageSize)
}

func (s *Service) liveQuiz(ctx context.Context, id uuid.UUID) (*models.Quiz, error) {
	quiz, err := s.store.GetQuiz(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, quizNotFound(id)
	}
	if err != nil {
		s.logger.Error("get quiz failed", zap.Error(err), zap.String("quiz_id", id.String()))
		return nil, storageErr("get quiz", err)
	}
	if !lifecycle.IsLive(quiz.Status) {
		return nil, quizNotFound(id)
	}
	return quiz, nil
}

// liveQuestion resolves a question only when it is live and owned by quizID.
func (s *Service) liveQuestion(ctx context.Context, quizID, questionID uuid.UUID) (*models.Question, error) {
	q, err := s.store.GetQuestion(ctx, questionID)
	if errors.Is(err, ErrNotFound) {
		return nil, questionNotFound(questionID)
	}
	if err != nil {
		s.logger.Error("get question failed", zap.Error(err), zap.String("question_id", questionID.String()))
		return nil, storageErr("get question", err)
	}
	if !lifecycle.IsLive(q.Status) || q.QuizID != quizID {
		return nil, questionNotFound(questionID)
	}
	return q, nil
}

func (s *Service) checkImage(img *ImageUpload) error {
	if img.Body == nil || img.Size == 0 {
		return invalid("image", "is required")
	}
	if !storage.ValidateImageType(img.ContentType, img.Filename) {
		return invalid("image", "must be a jpeg or png file")
	}
	if img.Size > s.limits.MaxImageBytes {
		return invalid("image", "exceeds %d bytes", s.limits.MaxImageBytes)
	}
	img.ContentType = storage.ImageContentType(img.ContentType, img.Filename)
	return nil
}

// normalize trims the input and checks it describes a valid question.
func (in QuestionInput) normalize() (string, []string, int, error) {
	text := strings.TrimSpace(in.QuestionText)
	if text == "" {
		return "", nil, 0, invalid("question_text", "is required")
	}
	if len(in.Options) < 2 {
		return "", nil, 0, invalid("options", "needs at least 2 choices, got %d", len(in.Options))
	}
	options := make([]string, len(in.Options))
	for i, o := range in.Options {
		options[i] = strings.TrimSpace(o)
		if options[i] == "" {
			return "", nil, 0, invalid("options", "choice %d is empty", i)
		}
	}
	if in.CorrectAnswer == nil {
		return "", nil, 0, invalid("correct_answer", "is required")
	}
	answer := *in.CorrectAnswer
	if answer < 0 || answer >= len(options) {
		return "", nil, 0, invalid("correct_answer", "must be between 0 and %d", len(options)-1)
	}
	return text, options, answer, nil
}
