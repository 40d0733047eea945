package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"flashcard-server/internal/generation"
	"flashcard-server/internal/models"
)

// MockSourceResolver is a mock type for the tasks.SourceResolver type
type MockSourceResolver struct {
	mock.Mock
}

func (_m *MockSourceResolver) Resolve(ctx context.Context, task *models.GenerationTask) (string, error) {
	ret := _m.Called(ctx, task)
	return ret.String(0), ret.Error(1)
}

// NewMockSourceResolver creates a new instance of MockSourceResolver.
func NewMockSourceResolver(t interface {
	mock.TestingT
	Helper()
}) *MockSourceResolver {
	m := &MockSourceResolver{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

// MockOutlineBuilder is a mock type for the tasks.OutlineBuilder type
type MockOutlineBuilder struct {
	mock.Mock
}

func (_m *MockOutlineBuilder) Build(ctx context.Context, documentText string) (*models.DocumentOutline, error) {
	ret := _m.Called(ctx, documentText)

	var r0 *models.DocumentOutline
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.DocumentOutline)
	}
	return r0, ret.Error(1)
}

// NewMockOutlineBuilder creates a new instance of MockOutlineBuilder.
func NewMockOutlineBuilder(t interface {
	mock.TestingT
	Helper()
}) *MockOutlineBuilder {
	m := &MockOutlineBuilder{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

// MockCardGenerator is a mock type for the tasks.CardGenerator type
type MockCardGenerator struct {
	mock.Mock
}

func (_m *MockCardGenerator) PlanChunks(text string) []models.TextChunk {
	ret := _m.Called(text)

	var r0 []models.TextChunk
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.TextChunk)
	}
	return r0
}

func (_m *MockCardGenerator) Generate(ctx context.Context, chunks []models.TextChunk, onChunkDone func(ctx context.Context)) (generation.Result, error) {
	ret := _m.Called(ctx, chunks, onChunkDone)

	var r0 generation.Result
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(generation.Result)
	}
	return r0, ret.Error(1)
}

// NewMockCardGenerator creates a new instance of MockCardGenerator.
func NewMockCardGenerator(t interface {
	mock.TestingT
	Helper()
}) *MockCardGenerator {
	m := &MockCardGenerator{}
	m.Mock.Test(t)
	t.Helper()
	return m
}
