package quizzes

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quiz-trove/backend/internal/middleware"
	"github.com/quiz-trove/backend/pkg/queue"
	"github.com/quiz-trove/backend/pkg/response"
	"github.com/quiz-trove/backend/pkg/sheet"
	"github.com/quiz-trove/backend/pkg/storage"
)

// DefaultMaxSheetBytes caps question sheet uploads when no limit is configured.
const DefaultMaxSheetBytes = 10 * 1024 * 1024

// ImportQueue hands sheet imports to the background worker.
type ImportQueue interface {
	EnqueueQuestionImport(ctx context.Context, jobID string, payload queue.QuestionImportPayload) (*queue.Job, error)
	GetStatus(ctx context.Context, jobID string) (*queue.JobStatus, error)
}

// SheetUploader stores uploaded sheets for the worker to fetch.
type SheetUploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64, publicRead bool) (string, error)
	ImportsBucket() string
}

// HandlerConfig wires the optional import pipeline. A nil Imports disables
// async imports; a nil Sheets sends the sheet inside the job.
type HandlerConfig struct {
	Imports       ImportQueue
	Sheets        SheetUploader
	MaxSheetBytes int64
}

// listQuestionsQuery is the query of GET /quizzes/:id/questions. Bounds are
// checked by the reader once the quiz resolves.
type listQuestionsQuery struct {
	Page  *int `form:"page"`
	Limit *int `form:"limit"`
}

// Handler handles quiz and question HTTP endpoints.
type Handler struct {
	svc    *Service
	cfg    HandlerConfig
	logger *zap.Logger
}

// NewHandler creates a quizzes handler.
func NewHandler(svc *Service, cfg HandlerConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSheetBytes <= 0 {
		cfg.MaxSheetBytes = DefaultMaxSheetBytes
	}
	useJSONFieldNames()
	return &Handler{svc: svc, cfg: cfg, logger: logger}
}

// Routes mounts the quiz API on r. write guards every mutating route.
func (h *Handler) Routes(r gin.IRouter, write ...gin.HandlerFunc) {
	g := r.Group("/quizzes")
	g.GET("", h.ListQuizzes)
	g.GET("/:id", h.GetQuiz)
	g.GET("/:id/questions", h.ListQuestions)
	g.GET("/:id/questions/imports/:jobId", h.ImportStatus)

	w := g.Group("", write...)
	w.POST("", h.CreateQuiz)
	w.PUT("/:id", h.UpdateQuiz)
	w.DELETE("/:id", h.DeleteQuiz)
	w.POST("/:id/questions", h.CreateQuestion)
	w.PUT("/:id/questions/:questionId", h.UpdateQuestion)
	w.DELETE("/:id/questions/:questionId", h.DeleteQuestion)
	w.POST("/:id/questions/upload", h.UploadQuestions)
	w.POST("/:id/questions/imports", h.StartImport)
}

// CreateQuiz handles POST /quizzes (multipart: title, description, image).
func (h *Handler) CreateQuiz(c *gin.Context) {
	img, closeImg, err := formImage(c)
	if err != nil {
		response.BadRequest(c, "invalid image upload")
		return
	}
	defer closeImg()

	quiz, err := h.svc.CreateQuiz(c.Request.Context(), QuizInput{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Image:       img,
	}, middleware.Actor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, quiz)
}

// ListQuizzes handles GET /quizzes?search=.
func (h *Handler) ListQuizzes(c *gin.Context) {
	list, err := h.svc.ListQuizzes(c.Request.Context(), c.Query("search"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, list)
}

// GetQuiz handles GET /quizzes/:id.
func (h *Handler) GetQuiz(c *gin.Context) {
	id, ok := pathID(c, "id", "invalid quiz id")
	if !ok {
		return
	}
	quiz, err := h.svc.GetQuiz(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, quiz)
}

// UpdateQuiz handles PUT /quizzes/:id (multipart, every field optional).
func (h *Handler) UpdateQuiz(c *gin.Context) {
	id, ok := pathID(c, "id", "invalid quiz id")
	if !ok {
		return
	}
	img, closeImg, err := formImage(c)
	if err != nil {
		response.BadRequest(c, "invalid image upload")
		return
	}
	defer closeImg()

	var in QuizUpdate
	if v, ok := c.GetPostForm("title"); ok {
		in.Title = &v
	}
	if v, ok := c.GetPostForm("description"); ok {
		in.Description = &v
	}
	in.Image = img

	quiz, err := h.svc.UpdateQuiz(c.Request.Context(), id, in, middleware.Actor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, quiz)
}

// DeleteQuiz handles DELETE /quizzes/:id.
func (h *Handler) DeleteQuiz(c *gin.Context) {
	id, ok := pathID(c, "id", "invalid quiz id")
	if !ok {
		return
	}
	if err := h.svc.DeleteQuiz(c.Request.Context(), id, middleware.Actor(c)); err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"id": id, "deleted": true})
}

// CreateQuestion handles POST /quizzes/:id/questions.
func (h *Handler) CreateQuestion(c *gin.Context) {
	quizID, ok := pathID(c, "id", "invalid quiz id")
	if !ok {
		return
	}
	var req QuestionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}
	q, err := h.svc.CreateQuestion(c.Request.Context(), quizID, req, middleware.Actor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, q)
}

// ListQuestions handles GET /quizzes/:id/questions?page=&limit=.
func (h *Handler) ListQuestions(c *gin.Context) {
	quizID, ok := pathID(c, "id", "invalid quiz id")
	if !ok {
		return
	}
	var q listQuestionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "page and limit must be numbers")
		return
	}
	page, limit := DefaultPage, h.svc.Reader().DefaultPageSize()
	if q.Page != nil {
		page = *q.Page
	}
	if q.Limit != nil {
		limit = *q.Limit
	}
	out, err := h.svc.ListQuestions(c.Request.Context(), quizID, page, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, out)
}

// UpdateQuestion handles PUT /quizzes/:id/questions/:questionId.
func (h *Handler) UpdateQuestion(c *gin.Context) {
	quizID, ok := pathID(c, "id", "invalid quiz id")
	if !ok {
		return
	}
	questionID, ok := pathID(c, "questionId", "invalid question id")
	if !ok {
		return
	}
	var req QuestionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}
	q, err := h.svc.UpdateQuestion(c.Request.Context(), quizID, questionID, req, middleware.Actor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, q)
}

// DeleteQuestion handles DELETE /quizzes/:id/questions/:questionId.
func (h *Handler) DeleteQuestion(c *gin.Context) {
	quizID, ok := pathID(c, "id", "invalid quiz id")
	if !ok {
		return
	}
	questionID, ok := pathID(c, "questionId", "invalid question id")
	if !ok {
		return
	}
	if err := h.svc.DeleteQuestion(c.Request.Context(), quizID, questionID, middleware.Actor(c)); err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"id": questionID, "deleted": true})
}

// UploadQuestions handles POST /quizzes/:id/questions/upload (form field excelFile).
// The sheet is imported before responding; 207 reports rows that failed.
func (h *Handler) UploadQuestions(c *gin.Context) {
	quizID, ok := pathID(c, "id", "invalid quiz id")
	if !ok {
		return
	}
	fh, ok := h.sheetFile(c)
	if !ok {
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "cannot read excelFile")
		return
	}
	defer f.Close()

	cells, err := sheet.Read(f, fh.Filename)
	if err != nil {
		response.BadRequest(c, "cannot parse excelFile: "+err.Error())
		return
	}
	res, err := h.svc.CreateQuestionsBulk(c.Request.Context(), quizID, ParseSheetRows(cells), middleware.Actor(c))
	if err != nil {
		if res == nil {
			h.writeError(c, err)
			return
		}
		response.MultiStatus(c, res, "import stopped: "+ErrStorage.Error())
		return
	}
	if len(res.Failed) > 0 {
		response.MultiStatus(c, res, "some rows were not imported")
		return
	}
	response.Created(c, res)
}

// StartImport handles POST /quizzes/:id/questions/imports. The sheet is
// queued for the worker and a job id is returned.
func (h *Handler) StartImport(c *gin.Context) {
	if h.cfg.Imports == nil {
		response.ServiceUnavailable(c, "background imports are disabled")
		return
	}
	quizID, ok := pathID(c, "id", "invalid quiz id")
	if !ok {
		return
	}
	if _, err := h.svc.GetQuiz(c.Request.Context(), quizID); err != nil {
		h.writeError(c, err)
		return
	}
	fh, ok := h.sheetFile(c)
	if !ok {
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "cannot read excelFile")
		return
	}
	defer f.Close()

	jobID := uuid.New().String()
	payload := queue.QuestionImportPayload{QuizID: quizID, Actor: middleware.Actor(c), Filename: fh.Filename}
	if h.cfg.Sheets != nil {
		payload.Bucket = h.cfg.Sheets.ImportsBucket()
		payload.Key = storage.ImportKey(quizID.String(), jobID, fh.Filename)
		if _, err := h.cfg.Sheets.Upload(c.Request.Context(), payload.Bucket, payload.Key,
			fh.Header.Get("Content-Type"), f, fh.Size, false); err != nil {
			h.logger.Error("store import sheet failed", zap.Error(err), zap.String("quiz_id", quizID.String()))
			response.Internal(c, "failed to store sheet")
			return
		}
	} else {
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, f); err != nil {
			response.BadRequest(c, "cannot read excelFile")
			return
		}
		payload.Content = buf.Bytes()
	}

	job, err := h.cfg.Imports.EnqueueQuestionImport(c.Request.Context(), jobID, payload)
	if err != nil {
		h.logger.Error("enqueue import failed", zap.Error(err), zap.String("quiz_id", quizID.String()))
		response.Internal(c, "failed to queue import")
		return
	}
	response.Accepted(c, gin.H{"job_id": job.ID, "state": queue.StateQueued})
}

// ImportStatus handles GET /quizzes/:id/questions/imports/:jobId.
func (h *Handler) ImportStatus(c *gin.Context) {
	if h.cfg.Imports == nil {
		response.ServiceUnavailable(c, "background imports are disabled")
		return
	}
	quizID, ok := pathID(c, "id", "invalid quiz id")
	if !ok {
		return
	}
	st, err := h.cfg.Imports.GetStatus(c.Request.Context(), c.Param("jobId"))
	if errors.Is(err, queue.ErrJobNotFound) || (err == nil && st.QuizID != quizID) {
		response.NotFound(c, "import job not found")
		return
	}
	if err != nil {
		h.logger.Error("get import status failed", zap.Error(err))
		response.Internal(c, "failed to read import status")
		return
	}
	response.OK(c, st)
}

func (h *Handler) sheetFile(c *gin.Context) (*multipart.FileHeader, bool) {
	fh, err := c.FormFile("excelFile")
	if err != nil {
		response.BadRequest(c, "excelFile is required")
		return nil, false
	}
	if !sheet.Supported(fh.Filename) {
		response.BadRequest(c, "excelFile must be .xlsx or .csv")
		return nil, false
	}
	if fh.Size > h.cfg.MaxSheetBytes {
		response.RequestTooLarge(c, "excelFile exceeds "+strconv.FormatInt(h.cfg.MaxSheetBytes, 10)+" bytes")
		return nil, false
	}
	return fh, true
}

// writeError maps service errors onto the response envelope. Storage details
// are logged, never returned.
func (h *Handler) writeError(c *gin.Context, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		response.BadRequest(c, ve.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrConflict):
		response.Conflict(c, "resource already exists")
	default:
		h.logger.Error("request failed", zap.Error(err), zap.String("path", c.FullPath()))
		response.Internal(c, "internal error")
	}
}

func pathID(c *gin.Context, param, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		response.BadRequest(c, msg)
		return uuid.Nil, false
	}
	return id, true
}

var jsonNamesOnce sync.Once

// useJSONFieldNames makes binding errors name fields as clients send them.
func useJSONFieldNames() {
	jsonNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "required" {
			return fe.Field() + ": is required"
		}
		return fe.Field() + ": failed " + fe.Tag() + " " + fe.Param()
	}
	return "invalid request body"
}

// formImage returns the optional "image" file. The returned func closes it.
func formImage(c *gin.Context) (*ImageUpload, func(), error) {
	fh, err := c.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, func() {}, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, func() {}, err
	}
	img := &ImageUpload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	}
	return img, func() { f.Close() }, nil
}
