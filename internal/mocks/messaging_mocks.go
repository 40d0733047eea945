package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"flashcard-server/internal/messaging"
	"flashcard-server/internal/storage"
)

// MockTaskPublisher is a mock type for the messaging.TaskPublisher type
type MockTaskPublisher struct {
	mock.Mock
}

func (_m *MockTaskPublisher) PublishAnalyzeTask(ctx context.Context, payload messaging.AnalyzeTaskPayload) error {
	ret := _m.Called(ctx, payload)
	return ret.Error(0)
}

func (_m *MockTaskPublisher) PublishGenerateTask(ctx context.Context, payload messaging.GenerateTaskPayload) error {
	ret := _m.Called(ctx, payload)
	return ret.Error(0)
}

func (_m *MockTaskPublisher) Close() error {
	ret := _m.Called()
	return ret.Error(0)
}

// NewMockTaskPublisher creates a new instance of MockTaskPublisher.
func NewMockTaskPublisher(t interface {
	mock.TestingT
	Helper()
}) *MockTaskPublisher {
	m := &MockTaskPublisher{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ messaging.TaskPublisher = (*MockTaskPublisher)(nil)

// MockSourceStore is a mock type for the storage.SourceStore type
type MockSourceStore struct {
	mock.Mock
}

func (_m *MockSourceStore) Put(ctx context.Context, userID uuid.UUID, filename string, data []byte) (string, error) {
	ret := _m.Called(ctx, userID, filename, data)
	return ret.String(0), ret.Error(1)
}

func (_m *MockSourceStore) Get(ctx context.Context, objectName string) ([]byte, error) {
	ret := _m.Called(ctx, objectName)

	var r0 []byte
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]byte)
	}
	return r0, ret.Error(1)
}

// NewMockSourceStore creates a new instance of MockSourceStore.
func NewMockSourceStore(t interface {
	mock.TestingT
	Helper()
}) *MockSourceStore {
	m := &MockSourceStore{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ storage.SourceStore = (*MockSourceStore)(nil)
