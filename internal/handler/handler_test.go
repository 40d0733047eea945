package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"flashcard-server/internal/handler"
	"flashcard-server/internal/messaging"
	"flashcard-server/internal/mocks"
	"flashcard-server/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockStarter - локальный мок handler.GenerationStarter.
type mockStarter struct {
	mock.Mock
}

func (_m *mockStarter) StartGeneration(ctx context.Context, taskID uuid.UUID, selectedChapters []int) (*models.GenerationTask, error) {
	ret := _m.Called(ctx, taskID, selectedChapters)

	var r0 *models.GenerationTask
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.GenerationTask)
	}
	return r0, ret.Error(1)
}

type handlerMocks struct {
	tasks     *mocks.MockTaskRepository
	decks     *mocks.MockDeckRepository
	credits   *mocks.MockCreditRepository
	publisher *mocks.MockTaskPublisher
	store     *mocks.MockSourceStore
	starter   *mockStarter
}

func newTestRouter(t *testing.T) (*gin.Engine, *handlerMocks) {
	t.Helper()

	m := &handlerMocks{
		tasks:     mocks.NewMockTaskRepository(t),
		decks:     mocks.NewMockDeckRepository(t),
		credits:   mocks.NewMockCreditRepository(t),
		publisher: mocks.NewMockTaskPublisher(t),
		store:     mocks.NewMockSourceStore(t),
		starter:   &mockStarter{},
	}
	m.starter.Test(t)

	h := handler.NewTaskHandler(m.tasks, m.decks, m.credits, m.publisher, m.store, m.starter, zap.NewNop())
	r := gin.New()
	h.RegisterRoutes(r)
	return r, m
}

func performJSON(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateTask_TextGoesLegacy(t *testing.T) {
	r, m := newTestRouter(t)
	userID := uuid.New()

	m.tasks.On("Create", mock.Anything, mock.MatchedBy(func(task *models.GenerationTask) bool {
		return task.UserID == userID &&
			task.SourceType == models.SourceTypeText &&
			task.SourceContent == "Краткий конспект лекции" &&
			task.Status == models.TaskStatusPending
	})).Return(nil).Once()
	m.publisher.On("PublishGenerateTask", mock.Anything, mock.MatchedBy(func(p messaging.GenerateTaskPayload) bool {
		return p.Legacy && p.UserID == userID
	})).Return(nil).Once()

	w := performJSON(r, http.MethodPost, "/api/tasks", gin.H{
		"userId":     userID,
		"sourceType": "text",
		"content":    "Краткий конспект лекции",
	})

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp["status"])
	m.tasks.AssertExpectations(t)
	m.publisher.AssertExpectations(t)
}

func TestCreateTask_URLGoesAnalyze(t *testing.T) {
	r, m := newTestRouter(t)
	userID := uuid.New()

	m.tasks.On("Create", mock.Anything, mock.MatchedBy(func(task *models.GenerationTask) bool {
		return task.SourceType == models.SourceTypeURL && task.SourceURL == "https://example.com/doc"
	})).Return(nil).Once()
	m.publisher.On("PublishAnalyzeTask", mock.Anything, mock.MatchedBy(func(p messaging.AnalyzeTaskPayload) bool {
		return p.UserID == userID
	})).Return(nil).Once()

	w := performJSON(r, http.MethodPost, "/api/tasks", gin.H{
		"userId":     userID,
		"sourceType": "url",
		"url":        "https://example.com/doc",
	})

	require.Equal(t, http.StatusAccepted, w.Code)
	m.publisher.AssertExpectations(t)
}

func TestCreateTask_ValidationErrors(t *testing.T) {
	testCases := []struct {
		name string
		body gin.H
	}{
		{"missing user", gin.H{"sourceType": "text", "content": "x"}},
		{"unknown source type", gin.H{"userId": uuid.New(), "sourceType": "pdf"}},
		{"text without content", gin.H{"userId": uuid.New(), "sourceType": "text"}},
		{"url without url", gin.H{"userId": uuid.New(), "sourceType": "url"}},
		{"url with bad scheme", gin.H{"userId": uuid.New(), "sourceType": "url", "url": "ftp://example.com"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newTestRouter(t)
			w := performJSON(r, http.MethodPost, "/api/tasks", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCreateTask_PublishFailureMarksTaskFailed(t *testing.T) {
	r, m := newTestRouter(t)
	userID := uuid.New()

	m.tasks.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	m.publisher.On("PublishGenerateTask", mock.Anything, mock.Anything).
		Return(fmt.Errorf("broker is down")).Once()
	m.tasks.On("Fail", mock.Anything, mock.Anything, "failed to enqueue task").Return(nil).Once()

	w := performJSON(r, http.MethodPost, "/api/tasks", gin.H{
		"userId":     userID,
		"sourceType": "text",
		"content":    "текст",
	})

	require.Equal(t, http.StatusInternalServerError, w.Code)
	m.tasks.AssertExpectations(t)
}

func TestUploadTask(t *testing.T) {
	r, m := newTestRouter(t)
	userID := uuid.New()

	m.store.On("Put", mock.Anything, userID, "lecture.txt", []byte("file body")).
		Return(userID.String()+"/obj.txt", nil).Once()
	m.tasks.On("Create", mock.Anything, mock.MatchedBy(func(task *models.GenerationTask) bool {
		return task.SourceType == models.SourceTypeFile &&
			task.SourceContent == userID.String()+"/obj.txt" &&
			task.SourceFilename == "lecture.txt"
	})).Return(nil).Once()
	m.publisher.On("PublishAnalyzeTask", mock.Anything, mock.Anything).Return(nil).Once()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("userId", userID.String()))
	fw, err := mw.CreateFormFile("file", "lecture.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("file body"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	m.store.AssertExpectations(t)
	m.tasks.AssertExpectations(t)
}

func TestUploadTask_RejectsUnknownExtension(t *testing.T) {
	r, _ := newTestRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("userId", uuid.New().String()))
	fw, err := mw.CreateFormFile("file", "malware.exe")
	require.NoError(t, err)
	_, err = fw.Write([]byte("MZ"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTask(t *testing.T) {
	r, m := newTestRouter(t)
	taskID := uuid.New()

	task := &models.GenerationTask{
		ID:              taskID,
		UserID:          uuid.New(),
		Status:          models.TaskStatusGenerating,
		SourceType:      models.SourceTypeText,
		TotalChunks:     4,
		CompletedChunks: 1,
	}
	m.tasks.On("GetByID", mock.Anything, taskID).Return(task, nil).Once()

	w := performJSON(r, http.MethodGet, "/api/tasks/"+taskID.String(), nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "generating", resp["status"])
	assert.Equal(t, float64(25), resp["progress"])
	// Внутренние поля не должны утекать наружу.
	assert.NotContains(t, w.Body.String(), "documentText")
}

func TestGetTask_NotFound(t *testing.T) {
	r, m := newTestRouter(t)
	taskID := uuid.New()

	m.tasks.On("GetByID", mock.Anything, taskID).Return(nil, models.ErrTaskNotFound).Once()

	w := performJSON(r, http.MethodGet, "/api/tasks/"+taskID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTask_InvalidID(t *testing.T) {
	r, _ := newTestRouter(t)
	w := performJSON(r, http.MethodGet, "/api/tasks/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSelectChapters(t *testing.T) {
	r, m := newTestRouter(t)
	taskID := uuid.New()
	userID := uuid.New()

	task := &models.GenerationTask{
		ID:          taskID,
		UserID:      userID,
		Status:      models.TaskStatusGenerating,
		SourceType:  models.SourceTypeFile,
		TotalChunks: 7,
		CreditsCost: 2.34,
	}
	m.starter.On("StartGeneration", mock.Anything, taskID, []int{0, 2}).Return(task, nil).Once()
	m.publisher.On("PublishGenerateTask", mock.Anything, mock.MatchedBy(func(p messaging.GenerateTaskPayload) bool {
		return p.TaskID == taskID && p.UserID == userID && !p.Legacy
	})).Return(nil).Once()

	w := performJSON(r, http.MethodPost, "/api/tasks/"+taskID.String()+"/chapters", gin.H{
		"chapters": []int{0, 2},
	})

	require.Equal(t, http.StatusAccepted, w.Code)
	m.starter.AssertExpectations(t)
	m.publisher.AssertExpectations(t)
}

func TestSelectChapters_ErrorMapping(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"insufficient credits", models.ErrInsufficientCredits, http.StatusPaymentRequired},
		{"wrong status", models.ErrInvalidTransition, http.StatusConflict},
		{"unknown chapter", models.ErrInvalidInput, http.StatusBadRequest},
		{"no chapters", models.ErrChaptersNotSelected, http.StatusBadRequest},
		{"not found", models.ErrTaskNotFound, http.StatusNotFound},
		{"internal", fmt.Errorf("db exploded"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, m := newTestRouter(t)
			taskID := uuid.New()
			m.starter.On("StartGeneration", mock.Anything, taskID, []int{1}).Return(nil, tc.err).Once()

			w := performJSON(r, http.MethodPost, "/api/tasks/"+taskID.String()+"/chapters", gin.H{
				"chapters": []int{1},
			})
			assert.Equal(t, tc.wantCode, w.Code)
		})
	}
}

func TestGetDeck(t *testing.T) {
	r, m := newTestRouter(t)
	deckID := uuid.New()

	deck := &models.Deck{ID: deckID, UserID: uuid.New(), TaskID: uuid.New(), Title: "lecture.txt", CardCount: 2}
	cards := []models.Card{
		{ID: uuid.New(), DeckID: deckID, Front: "Q1", Back: "A1", Position: 0},
		{ID: uuid.New(), DeckID: deckID, Front: "Q2", Back: "A2", Position: 1},
	}
	m.decks.On("GetByID", mock.Anything, deckID).Return(deck, nil).Once()
	m.decks.On("GetCards", mock.Anything, deckID).Return(cards, nil).Once()

	w := performJSON(r, http.MethodGet, "/api/decks/"+deckID.String(), nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Title string `json:"title"`
		Cards []struct {
			Front    string `json:"front"`
			Position int    `json:"position"`
		} `json:"cards"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "lecture.txt", resp.Title)
	require.Len(t, resp.Cards, 2)
	assert.Equal(t, "Q1", resp.Cards[0].Front)
	assert.Equal(t, 1, resp.Cards[1].Position)
}

func TestGetDeck_NotFound(t *testing.T) {
	r, m := newTestRouter(t)
	deckID := uuid.New()
	m.decks.On("GetByID", mock.Anything, deckID).Return(nil, models.ErrDeckNotFound).Once()

	w := performJSON(r, http.MethodGet, "/api/decks/"+deckID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetBalance(t *testing.T) {
	r, m := newTestRouter(t)
	userID := uuid.New()
	m.credits.On("GetBalance", mock.Anything, userID).Return(12.5, nil).Once()

	w := performJSON(r, http.MethodGet, "/api/users/"+userID.String()+"/balance", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 12.5, resp["balance"])
}

func TestGetBalance_UserNotFound(t *testing.T) {
	r, m := newTestRouter(t)
	userID := uuid.New()
	m.credits.On("GetBalance", mock.Anything, userID).Return(0.0, models.ErrUserNotFound).Once()

	w := performJSON(r, http.MethodGet, "/api/users/"+userID.String()+"/balance", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTasks(t *testing.T) {
	r, m := newTestRouter(t)
	userID := uuid.New()
	tasks := []models.GenerationTask{
		{ID: uuid.New(), UserID: userID, Status: models.TaskStatusCompleted},
		{ID: uuid.New(), UserID: userID, Status: models.TaskStatusPending},
	}
	m.tasks.On("ListByUserID", mock.Anything, userID, 5).Return(tasks, nil).Once()

	w := performJSON(r, http.MethodGet, "/api/tasks?userId="+userID.String()+"&limit=5", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Tasks []taskListItem `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Tasks, 2)
	assert.Equal(t, "completed", resp.Tasks[0].Status)
	assert.Equal(t, 100, resp.Tasks[0].Progress)
}

type taskListItem struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)
	w := performJSON(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
