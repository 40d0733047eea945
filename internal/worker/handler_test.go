package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flashcard-server/internal/messaging"
	"flashcard-server/internal/models"
)

// fakeAcknowledger фиксирует ack/nack для проверок.
type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

// mockCoordinator - мок координатора для процессоров.
type mockCoordinator struct {
	mock.Mock
}

func (m *mockCoordinator) Analyze(ctx context.Context, taskID uuid.UUID) error {
	return m.Called(ctx, taskID).Error(0)
}

func (m *mockCoordinator) RunGeneration(ctx context.Context, taskID uuid.UUID) error {
	return m.Called(ctx, taskID).Error(0)
}

func (m *mockCoordinator) RunLegacyGeneration(ctx context.Context, taskID uuid.UUID) error {
	return m.Called(ctx, taskID).Error(0)
}

func (m *mockCoordinator) FailTask(ctx context.Context, taskID uuid.UUID, message string) error {
	return m.Called(ctx, taskID, message).Error(0)
}

func delivery(t *testing.T, payload any) (amqp.Delivery, *fakeAcknowledger) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	ack := &fakeAcknowledger{}
	return amqp.Delivery{Acknowledger: ack, Body: body}, ack
}

func TestAnalyzeProcessor_Success(t *testing.T) {
	coordinator := &mockCoordinator{}
	taskID := uuid.New()
	coordinator.On("Analyze", mock.Anything, taskID).Return(nil)

	p := NewAnalyzeProcessor(coordinator, zap.NewNop())
	d, ack := delivery(t, messaging.AnalyzeTaskPayload{TaskID: taskID, UserID: uuid.New()})

	p.ProcessMessage(context.Background(), d)

	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
	coordinator.AssertExpectations(t)
}

func TestAnalyzeProcessor_PermanentErrorAcks(t *testing.T) {
	coordinator := &mockCoordinator{}
	taskID := uuid.New()
	coordinator.On("Analyze", mock.Anything, taskID).Return(models.ErrUnreadableSource)

	p := NewAnalyzeProcessor(coordinator, zap.NewNop())
	d, ack := delivery(t, messaging.AnalyzeTaskPayload{TaskID: taskID})

	p.ProcessMessage(context.Background(), d)

	// Постоянная ошибка: подтверждаем, чтобы не зациклить сообщение.
	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
}

func TestAnalyzeProcessor_TransientErrorRequeues(t *testing.T) {
	coordinator := &mockCoordinator{}
	taskID := uuid.New()
	coordinator.On("Analyze", mock.Anything, taskID).Return(errors.New("db connection lost"))

	p := NewAnalyzeProcessor(coordinator, zap.NewNop())
	d, ack := delivery(t, messaging.AnalyzeTaskPayload{TaskID: taskID})

	p.ProcessMessage(context.Background(), d)

	assert.True(t, ack.nacked)
	assert.True(t, ack.requeue)
	coordinator.AssertNotCalled(t, "FailTask")
}

func TestAnalyzeProcessor_TransientRetriesExhausted(t *testing.T) {
	coordinator := &mockCoordinator{}
	taskID := uuid.New()
	coordinator.On("Analyze", mock.Anything, taskID).Return(errors.New("db connection lost"))
	coordinator.On("FailTask", mock.Anything, taskID, mock.AnythingOfType("string")).Return(nil)

	p := NewAnalyzeProcessor(coordinator, zap.NewNop())
	d, ack := delivery(t, messaging.AnalyzeTaskPayload{TaskID: taskID})
	// Quorum-очередь уже доставляла сообщение дважды.
	d.Headers = amqp.Table{"x-delivery-count": int64(maxTransientRetries)}

	p.ProcessMessage(context.Background(), d)

	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
	coordinator.AssertExpectations(t)
}

func TestGenerateProcessor_TransientRetriesExhausted(t *testing.T) {
	coordinator := &mockCoordinator{}
	taskID := uuid.New()
	coordinator.On("RunGeneration", mock.Anything, taskID).Return(errors.New("redis timeout"))
	coordinator.On("FailTask", mock.Anything, taskID, mock.AnythingOfType("string")).Return(nil)

	p := NewGenerateProcessor(coordinator, zap.NewNop())
	d, ack := delivery(t, messaging.GenerateTaskPayload{TaskID: taskID})
	d.Headers = amqp.Table{"x-delivery-count": int64(maxTransientRetries)}

	p.ProcessMessage(context.Background(), d)

	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
	coordinator.AssertExpectations(t)
}

func TestAnalyzeProcessor_MalformedBodyRejected(t *testing.T) {
	coordinator := &mockCoordinator{}
	p := NewAnalyzeProcessor(coordinator, zap.NewNop())

	ack := &fakeAcknowledger{}
	d := amqp.Delivery{Acknowledger: ack, Body: []byte("не json")}

	p.ProcessMessage(context.Background(), d)

	assert.True(t, ack.nacked)
	assert.False(t, ack.requeue)
	coordinator.AssertNotCalled(t, "Analyze")
}

func TestGenerateProcessor_RoutesLegacy(t *testing.T) {
	coordinator := &mockCoordinator{}
	taskID := uuid.New()
	coordinator.On("RunLegacyGeneration", mock.Anything, taskID).Return(nil)

	p := NewGenerateProcessor(coordinator, zap.NewNop())
	d, ack := delivery(t, messaging.GenerateTaskPayload{TaskID: taskID, Legacy: true})

	p.ProcessMessage(context.Background(), d)

	assert.True(t, ack.acked)
	coordinator.AssertNotCalled(t, "RunGeneration")
	coordinator.AssertExpectations(t)
}

func TestGenerateProcessor_RoutesStandard(t *testing.T) {
	coordinator := &mockCoordinator{}
	taskID := uuid.New()
	coordinator.On("RunGeneration", mock.Anything, taskID).Return(nil)

	p := NewGenerateProcessor(coordinator, zap.NewNop())
	d, ack := delivery(t, messaging.GenerateTaskPayload{TaskID: taskID})

	p.ProcessMessage(context.Background(), d)

	assert.True(t, ack.acked)
	coordinator.AssertNotCalled(t, "RunLegacyGeneration")
}

func TestIsRequeueable(t *testing.T) {
	assert.False(t, isRequeueable(models.ErrInsufficientCredits))
	assert.False(t, isRequeueable(models.ErrUnreadableSource))
	assert.False(t, isRequeueable(models.ErrInvalidTransition))
	assert.True(t, isRequeueable(errors.New("temporary network error")))
}
