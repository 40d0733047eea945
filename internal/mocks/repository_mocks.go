package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"flashcard-server/internal/models"
	"flashcard-server/internal/repository"
)

// MockTaskRepository is a mock type for the repository.TaskRepository type
type MockTaskRepository struct {
	mock.Mock
}

func (_m *MockTaskRepository) Create(ctx context.Context, task *models.GenerationTask) error {
	ret := _m.Called(ctx, task)
	return ret.Error(0)
}

func (_m *MockTaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error) {
	ret := _m.Called(ctx, id)

	var r0 *models.GenerationTask
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.GenerationTask)
	}
	return r0, ret.Error(1)
}

func (_m *MockTaskRepository) ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]models.GenerationTask, error) {
	ret := _m.Called(ctx, userID, limit)

	var r0 []models.GenerationTask
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.GenerationTask)
	}
	return r0, ret.Error(1)
}

func (_m *MockTaskRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []models.TaskStatus, to models.TaskStatus) error {
	ret := _m.Called(ctx, id, from, to)
	return ret.Error(0)
}

func (_m *MockTaskRepository) SetOutline(ctx context.Context, id uuid.UUID, outline *models.DocumentOutline, indexingCost float64) error {
	ret := _m.Called(ctx, id, outline, indexingCost)
	return ret.Error(0)
}

func (_m *MockTaskRepository) SetGenerationPlan(ctx context.Context, id uuid.UUID, chapters []int, totalChunks int, creditsCost float64) error {
	ret := _m.Called(ctx, id, chapters, totalChunks, creditsCost)
	return ret.Error(0)
}

func (_m *MockTaskRepository) SetDocumentText(ctx context.Context, id uuid.UUID, text string) error {
	ret := _m.Called(ctx, id, text)
	return ret.Error(0)
}

func (_m *MockTaskRepository) IncrementCompletedChunks(ctx context.Context, id uuid.UUID) (int, error) {
	ret := _m.Called(ctx, id)
	return ret.Int(0), ret.Error(1)
}

func (_m *MockTaskRepository) Complete(ctx context.Context, id uuid.UUID, deckID uuid.UUID, cardCount int) error {
	ret := _m.Called(ctx, id, deckID, cardCount)
	return ret.Error(0)
}

func (_m *MockTaskRepository) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	ret := _m.Called(ctx, id, errorMessage)
	return ret.Error(0)
}

func (_m *MockTaskRepository) MarkStepDone(ctx context.Context, taskID uuid.UUID, stepName string) (bool, error) {
	ret := _m.Called(ctx, taskID, stepName)
	return ret.Bool(0), ret.Error(1)
}

func (_m *MockTaskRepository) IsStepDone(ctx context.Context, taskID uuid.UUID, stepName string) (bool, error) {
	ret := _m.Called(ctx, taskID, stepName)
	return ret.Bool(0), ret.Error(1)
}

// NewMockTaskRepository creates a new instance of MockTaskRepository.
func NewMockTaskRepository(t interface {
	mock.TestingT
	Helper()
}) *MockTaskRepository {
	m := &MockTaskRepository{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ repository.TaskRepository = (*MockTaskRepository)(nil)

// MockDeckRepository is a mock type for the repository.DeckRepository type
type MockDeckRepository struct {
	mock.Mock
}

func (_m *MockDeckRepository) CreateWithCards(ctx context.Context, deck *models.Deck, cards []models.Flashcard) error {
	ret := _m.Called(ctx, deck, cards)
	return ret.Error(0)
}

func (_m *MockDeckRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Deck, error) {
	ret := _m.Called(ctx, id)

	var r0 *models.Deck
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Deck)
	}
	return r0, ret.Error(1)
}

func (_m *MockDeckRepository) GetCards(ctx context.Context, deckID uuid.UUID) ([]models.Card, error) {
	ret := _m.Called(ctx, deckID)

	var r0 []models.Card
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.Card)
	}
	return r0, ret.Error(1)
}

// NewMockDeckRepository creates a new instance of MockDeckRepository.
func NewMockDeckRepository(t interface {
	mock.TestingT
	Helper()
}) *MockDeckRepository {
	m := &MockDeckRepository{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ repository.DeckRepository = (*MockDeckRepository)(nil)

// MockCreditRepository is a mock type for the repository.CreditRepository type
type MockCreditRepository struct {
	mock.Mock
}

func (_m *MockCreditRepository) GetBalance(ctx context.Context, userID uuid.UUID) (float64, error) {
	ret := _m.Called(ctx, userID)
	return ret.Get(0).(float64), ret.Error(1)
}

func (_m *MockCreditRepository) Debit(ctx context.Context, userID uuid.UUID, taskID uuid.UUID, phase string, amount float64) (bool, error) {
	ret := _m.Called(ctx, userID, taskID, phase, amount)
	return ret.Bool(0), ret.Error(1)
}

func (_m *MockCreditRepository) Credit(ctx context.Context, userID uuid.UUID, amount float64) error {
	ret := _m.Called(ctx, userID, amount)
	return ret.Error(0)
}

// NewMockCreditRepository creates a new instance of MockCreditRepository.
func NewMockCreditRepository(t interface {
	mock.TestingT
	Helper()
}) *MockCreditRepository {
	m := &MockCreditRepository{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ repository.CreditRepository = (*MockCreditRepository)(nil)

// MockProgressCounter is a mock type for the repository.ProgressCounter type
type MockProgressCounter struct {
	mock.Mock
}

func (_m *MockProgressCounter) Increment(ctx context.Context, taskID uuid.UUID) (int64, error) {
	ret := _m.Called(ctx, taskID)
	return ret.Get(0).(int64), ret.Error(1)
}

func (_m *MockProgressCounter) Get(ctx context.Context, taskID uuid.UUID) (int64, error) {
	ret := _m.Called(ctx, taskID)
	return ret.Get(0).(int64), ret.Error(1)
}

func (_m *MockProgressCounter) Reset(ctx context.Context, taskID uuid.UUID) error {
	ret := _m.Called(ctx, taskID)
	return ret.Error(0)
}

// NewMockProgressCounter creates a new instance of MockProgressCounter.
func NewMockProgressCounter(t interface {
	mock.TestingT
	Helper()
}) *MockProgressCounter {
	m := &MockProgressCounter{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ repository.ProgressCounter = (*MockProgressCounter)(nil)
