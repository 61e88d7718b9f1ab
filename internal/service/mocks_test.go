package service

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/mzielin/agent-bridge/internal/agents"
	"github.com/mzielin/agent-bridge/internal/domain"
)

// MockMappingRepository mocks the MappingRepository interface
type MockMappingRepository struct {
	mock.Mock
}

func (m *MockMappingRepository) Load() *domain.ThreadMappingStorage {
	args := m.Called()
	return args.Get(0).(*domain.ThreadMappingStorage)
}

func (m *MockMappingRepository) Save(root *domain.ThreadMappingStorage) error {
	args := m.Called(root)
	return args.Error(0)
}

func (m *MockMappingRepository) CleanupExpired(root *domain.ThreadMappingStorage) *domain.ThreadMappingStorage {
	args := m.Called(root)
	return args.Get(0).(*domain.ThreadMappingStorage)
}

func (m *MockMappingRepository) ShouldCleanup(root *domain.ThreadMappingStorage) bool {
	args := m.Called(root)
	return args.Bool(0)
}

func (m *MockMappingRepository) GenerateThreadID() string {
	args := m.Called()
	return args.String(0)
}

// MockKnownThreadsRepository mocks the KnownThreadsRepository interface
type MockKnownThreadsRepository struct {
	mock.Mock
}

func (m *MockKnownThreadsRepository) KnownThreads(userID string) ([]string, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockKnownThreadsRepository) AddKnownThread(userID, threadID string) error {
	args := m.Called(userID, threadID)
	return args.Error(0)
}

func (m *MockKnownThreadsRepository) RemoveKnownThread(userID, threadID string) error {
	args := m.Called(userID, threadID)
	return args.Error(0)
}

// MockAgentsAPI mocks the remote agents API
type MockAgentsAPI struct {
	mock.Mock
}

func (m *MockAgentsAPI) CreateThread(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func (m *MockAgentsAPI) ListThreads(ctx context.Context, token string) ([]agents.Thread, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]agents.Thread), args.Error(1)
}

func (m *MockAgentsAPI) GetThread(ctx context.Context, token, threadID string) (*agents.Thread, error) {
	args := m.Called(ctx, token, threadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*agents.Thread), args.Error(1)
}

func (m *MockAgentsAPI) DeleteThread(ctx context.Context, token, threadID string) error {
	args := m.Called(ctx, token, threadID)
	return args.Error(0)
}

func (m *MockAgentsAPI) AddMessage(ctx context.Context, token, threadID, role, content string) (*agents.Message, error) {
	args := m.Called(ctx, token, threadID, role, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*agents.Message), args.Error(1)
}

func (m *MockAgentsAPI) ListMessages(ctx context.Context, token, threadID string) ([]agents.Message, error) {
	args := m.Called(ctx, token, threadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]agents.Message), args.Error(1)
}

func (m *MockAgentsAPI) CreateRun(ctx context.Context, token, threadID, assistantID string) (*agents.Run, error) {
	args := m.Called(ctx, token, threadID, assistantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*agents.Run), args.Error(1)
}

func (m *MockAgentsAPI) GetRun(ctx context.Context, token, threadID, runID string) (*agents.Run, error) {
	args := m.Called(ctx, token, threadID, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*agents.Run), args.Error(1)
}

func (m *MockAgentsAPI) UploadFile(ctx context.Context, token, filename string, body io.Reader) (*agents.File, error) {
	args := m.Called(ctx, token, filename, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*agents.File), args.Error(1)
}

func (m *MockAgentsAPI) GetFile(ctx context.Context, token, fileID string) (*agents.File, error) {
	args := m.Called(ctx, token, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*agents.File), args.Error(1)
}

func (m *MockAgentsAPI) DeleteFile(ctx context.Context, token, fileID string) error {
	args := m.Called(ctx, token, fileID)
	return args.Error(0)
}

// MockStreamer mocks the event stream transport
type MockStreamer struct {
	mock.Mock
}

func (m *MockStreamer) StreamRun(ctx context.Context, token, threadID, assistantID string, h agents.StreamHandler) error {
	args := m.Called(ctx, token, threadID, assistantID, h)
	return args.Error(0)
}

// MockConversationCache mocks the ConversationCache interface
type MockConversationCache struct {
	mock.Mock
}

func (m *MockConversationCache) GetMetadata(ctx context.Context, threadID string) (*domain.ConversationMetadata, error) {
	args := m.Called(ctx, threadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConversationMetadata), args.Error(1)
}

func (m *MockConversationCache) SetMetadata(ctx context.Context, threadID string, meta *domain.ConversationMetadata) error {
	args := m.Called(ctx, threadID, meta)
	return args.Error(0)
}

func (m *MockConversationCache) InvalidateMetadata(ctx context.Context, threadID string) error {
	args := m.Called(ctx, threadID)
	return args.Error(0)
}

func (m *MockConversationCache) GetVerified(ctx context.Context, threadID string) (bool, bool, error) {
	args := m.Called(ctx, threadID)
	return args.Bool(0), args.Bool(1), args.Error(2)
}

func (m *MockConversationCache) SetVerified(ctx context.Context, threadID string, exists bool) error {
	args := m.Called(ctx, threadID, exists)
	return args.Error(0)
}

func (m *MockConversationCache) FlushAll(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// MockFileRepository mocks the FileRepository interface
type MockFileRepository struct {
	mock.Mock
}

func (m *MockFileRepository) Upsert(ctx context.Context, meta *domain.FileMetadata) error {
	args := m.Called(ctx, meta)
	return args.Error(0)
}

func (m *MockFileRepository) Delete(ctx context.Context, fileID string) error {
	args := m.Called(ctx, fileID)
	return args.Error(0)
}

func (m *MockFileRepository) ReplaceID(ctx context.Context, oldID, newID string) error {
	args := m.Called(ctx, oldID, newID)
	return args.Error(0)
}

func (m *MockFileRepository) ListByUser(ctx context.Context, userID string) ([]domain.FileMetadata, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.FileMetadata), args.Error(1)
}

func (m *MockFileRepository) ListByThread(ctx context.Context, userID, threadID string) ([]domain.FileMetadata, error) {
	args := m.Called(ctx, userID, threadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.FileMetadata), args.Error(1)
}

func (m *MockFileRepository) HasReadyFiles(ctx context.Context, userID, threadID string) (bool, error) {
	args := m.Called(ctx, userID, threadID)
	return args.Bool(0), args.Error(1)
}

// newTestSessionService wires a session service over empty storage with
// remote thread creation returning threadID
func newTestSessionService(threadID string) (*SessionService, *MockMappingRepository, *MockKnownThreadsRepository, *MockAgentsAPI) {
	mapping := new(MockMappingRepository)
	known := new(MockKnownThreadsRepository)
	api := new(MockAgentsAPI)

	mapping.On("Load").Return(&domain.ThreadMappingStorage{Version: domain.StorageVersion})
	mapping.On("ShouldCleanup", mock.Anything).Return(false)
	mapping.On("Save", mock.Anything).Return(nil)
	if threadID != "" {
		api.On("CreateThread", mock.Anything, mock.Anything).Return(threadID, nil)
	}

	return NewSessionService(mapping, known, api), mapping, known, api
}
