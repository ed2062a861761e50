package quizzes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiz-trove/backend/internal/middleware"
	"github.com/quiz-trove/backend/pkg/queue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type fakeImports struct {
	payloads map[string]queue.QuestionImportPayload
}

func (f *fakeImports) EnqueueQuestionImport(_ context.Context, jobID string, p queue.QuestionImportPayload) (*queue.Job, error) {
	if f.payloads == nil {
		f.payloads = map[string]queue.QuestionImportPayload{}
	}
	f.payloads[jobID] = p
	return &queue.Job{ID: jobID, Type: queue.JobTypeQuestionImport}, nil
}

func (f *fakeImports) GetStatus(_ context.Context, jobID string) (*queue.JobStatus, error) {
	p, ok := f.payloads[jobID]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	return &queue.JobStatus{JobID: jobID, QuizID: p.QuizID, State: queue.StateQueued}, nil
}

type testAPI struct {
	svc    *Service
	store  *memStore
	router *gin.Engine
}

func newTestAPI(t *testing.T, cfg HandlerConfig) *testAPI {
	t.Helper()
	svc, store := newTestService(t)
	r := gin.New()
	asAdmin := func(c *gin.Context) {
		c.Set(middleware.ContextUsername, "alice")
		c.Set(middleware.ContextUserRole, "admin")
		c.Next()
	}
	NewHandler(svc, cfg, nil).Routes(r.Group("/api/v1"), asAdmin)
	return &testAPI{svc: svc, store: store, router: r}
}

func (a *testAPI) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, method, path string, fields map[string]string, fileField, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, filename)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandlerQuizLifecycle(t *testing.T) {
	api := newTestAPI(t, HandlerConfig{})

	w, env := api.do(t, multipartRequest(t, http.MethodPost, "/api/v1/quizzes",
		map[string]string{"title": "Capitals", "description": "Europe"}, "image", "cover.png", "png"))
	require.Equal(t, http.StatusCreated, w.Code, env.Error)
	var quiz struct {
		ID        uuid.UUID `json:"id"`
		Status    string    `json:"status"`
		CreatedBy string    `json:"created_by"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &quiz))
	assert.Equal(t, "CREATED", quiz.Status)
	assert.Equal(t, "alice", quiz.CreatedBy)
	base := "/api/v1/quizzes/" + quiz.ID.String()

	w, _ = api.do(t, httptest.NewRequest(http.MethodGet, base, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = api.do(t, multipartRequest(t, http.MethodPut, base, map[string]string{"title": "Rivers"}, "", "", ""))
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	assert.Contains(t, string(env.Data), `"title":"Rivers"`)

	w, _ = api.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/quizzes?search=riv", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = api.do(t, httptest.NewRequest(http.MethodDelete, base, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = api.do(t, httptest.NewRequest(http.MethodGet, base, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
}

func TestHandlerCreateQuizRequiresImage(t *testing.T) {
	api := newTestAPI(t, HandlerConfig{})
	w, env := api.do(t, multipartRequest(t, http.MethodPost, "/api/v1/quizzes", map[string]string{"title": "t"}, "", "", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error, "image")
}

func TestHandlerQuestions(t *testing.T) {
	api := newTestAPI(t, HandlerConfig{})
	quiz := mustQuiz(t, api.svc, "Q")
	base := "/api/v1/quizzes/" + quiz.ID.String() + "/questions"

	w, env := api.do(t, jsonRequest(http.MethodPost, base, map[string]interface{}{
		"question_text": "2+2?", "options": []string{"3", "4"}, "correct_answer": 1,
	}))
	require.Equal(t, http.StatusCreated, w.Code, env.Error)
	var q struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &q))

	w, env = api.do(t, jsonRequest(http.MethodPost, base, map[string]interface{}{
		"question_text": "2+2?", "options": []string{"3", "4"},
	}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error, "correct_answer")

	w, _ = api.do(t, jsonRequest(http.MethodPost, "/api/v1/quizzes/"+uuid.NewString()+"/questions", map[string]interface{}{
		"question_text": "2+2?", "options": []string{"3", "4"}, "correct_answer": 1,
	}))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = api.do(t, jsonRequest(http.MethodPost, "/api/v1/quizzes/not-a-uuid/questions", map[string]interface{}{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = api.do(t, httptest.NewRequest(http.MethodGet, base+"?page=1&limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var page Page
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 1, page.TotalCount)
	assert.Len(t, page.Questions, 1)

	w, _ = api.do(t, httptest.NewRequest(http.MethodGet, base+"?page=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = api.do(t, httptest.NewRequest(http.MethodGet, base+"?limit=1000", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = api.do(t, jsonRequest(http.MethodPut, base+"/"+q.ID.String(), map[string]interface{}{
		"question_text": "3+3?", "options": []string{"6", "7"}, "correct_answer": 0,
	}))
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	assert.Contains(t, string(env.Data), `"status":"UPDATED"`)

	w, _ = api.do(t, httptest.NewRequest(http.MethodDelete, base+"/"+q.ID.String(), nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = api.do(t, httptest.NewRequest(http.MethodDelete, base+"/"+q.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerQuestionBinding(t *testing.T) {
	api := newTestAPI(t, HandlerConfig{})
	quiz := mustQuiz(t, api.svc, "Q")
	base := "/api/v1/quizzes/" + quiz.ID.String() + "/questions"

	tests := []struct {
		name  string
		body  map[string]interface{}
		field string
	}{
		{"missing text", map[string]interface{}{"options": []string{"a", "b"}, "correct_answer": 0}, "question_text"},
		{"one option", map[string]interface{}{"question_text": "q", "options": []string{"a"}, "correct_answer": 0}, "options"},
		{"blank option", map[string]interface{}{"question_text": "q", "options": []string{"a", ""}, "correct_answer": 0}, "options"},
		{"negative answer", map[string]interface{}{"question_text": "q", "options": []string{"a", "b"}, "correct_answer": -1}, "correct_answer"},
		{"answer out of range", map[string]interface{}{"question_text": "q", "options": []string{"a", "b"}, "correct_answer": 2}, "correct_answer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := api.do(t, jsonRequest(http.MethodPost, base, tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, env.Error, tt.field)
		})
	}
	assert.Empty(t, api.store.questions)
}

func TestHandlerListQuestionsUnknownQuiz(t *testing.T) {
	api := newTestAPI(t, HandlerConfig{})
	w, _ := api.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/quizzes/"+uuid.NewString()+"/questions?page=0", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerStorageErrorIsOpaque(t *testing.T) {
	api := newTestAPI(t, HandlerConfig{})
	api.store.fail = failNth("ListLiveQuizzes", 1, errDown)

	w, env := api.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/quizzes", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, env.Error, errDown.Error())
}

func TestHandlerUploadQuestions(t *testing.T) {
	api := newTestAPI(t, HandlerConfig{})
	quiz := mustQuiz(t, api.svc, "Q")
	path := "/api/v1/quizzes/" + quiz.ID.String() + "/questions/upload"

	good := "question,options,answer\n2+2?,\"3,4\",1\n"
	w, env := api.do(t, multipartRequest(t, http.MethodPost, path, nil, "excelFile", "q.csv", good))
	require.Equal(t, http.StatusCreated, w.Code, env.Error)

	mixed := "2+2?,\"3,4\",1\nbroken,\"3,4\",9\n"
	w, env = api.do(t, multipartRequest(t, http.MethodPost, path, nil, "excelFile", "q.csv", mixed))
	require.Equal(t, http.StatusMultiStatus, w.Code)
	var res BulkResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Len(t, res.Created, 1)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 2, res.Failed[0].Row)

	w, _ = api.do(t, multipartRequest(t, http.MethodPost, path, nil, "excelFile", "q.pdf", good))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = api.do(t, multipartRequest(t, http.MethodPost, path, nil, "", "", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerUploadTooLarge(t *testing.T) {
	api := newTestAPI(t, HandlerConfig{MaxSheetBytes: 8})
	quiz := mustQuiz(t, api.svc, "Q")
	w, _ := api.do(t, multipartRequest(t, http.MethodPost, "/api/v1/quizzes/"+quiz.ID.String()+"/questions/upload",
		nil, "excelFile", "q.csv", strings.Repeat("x", 64)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestHandlerImports(t *testing.T) {
	imports := &fakeImports{}
	api := newTestAPI(t, HandlerConfig{Imports: imports})
	quiz := mustQuiz(t, api.svc, "Q")
	base := "/api/v1/quizzes/" + quiz.ID.String() + "/questions/imports"

	w, env := api.do(t, multipartRequest(t, http.MethodPost, base, nil, "excelFile", "q.csv", "2+2?,\"3,4\",1\n"))
	require.Equal(t, http.StatusAccepted, w.Code, env.Error)
	var started struct {
		JobID string `json:"job_id"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &started))
	assert.Equal(t, "queued", started.State)

	payload := imports.payloads[started.JobID]
	assert.Equal(t, quiz.ID, payload.QuizID)
	assert.Equal(t, "alice", payload.Actor)
	assert.Equal(t, "2+2?,\"3,4\",1\n", string(payload.Content))

	w, _ = api.do(t, httptest.NewRequest(http.MethodGet, base+"/"+started.JobID, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	other := mustQuiz(t, api.svc, "Other")
	w, _ = api.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/quizzes/"+other.ID.String()+"/questions/imports/"+started.JobID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = api.do(t, multipartRequest(t, http.MethodPost, "/api/v1/quizzes/"+uuid.NewString()+"/questions/imports", nil, "excelFile", "q.csv", "x"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerImportsDisabled(t *testing.T) {
	api := newTestAPI(t, HandlerConfig{})
	quiz := mustQuiz(t, api.svc, "Q")
	w, _ := api.do(t, multipartRequest(t, http.MethodPost, "/api/v1/quizzes/"+quiz.ID.String()+"/questions/imports", nil, "excelFile", "q.csv", "x"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
