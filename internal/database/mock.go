package database

import (
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) AppendMessage(params AppendMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) ListRecentMessages(roomId string, limit int) ([]Message, error) {
	args := m.Called(roomId, limit)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) ListMessagesAfter(roomId string, afterSeq int64) ([]Message, error) {
	args := m.Called(roomId, afterSeq)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) UpdateMailboxEntry(ownerId, roomId string, fn MailboxTxFn) (*MailboxEntry, error) {
	args := m.Called(ownerId, roomId, fn)
	if entry, ok := args.Get(0).(*MailboxEntry); ok {
		return entry, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) ListMailboxEntries(ownerId string) ([]MailboxEntry, error) {
	args := m.Called(ownerId)
	if entries, ok := args.Get(0).([]MailboxEntry); ok {
		return entries, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) GetProfile(userId string) (Profile, error) {
	args := m.Called(userId)
	return args.Get(0).(Profile), args.Error(1)
}
func (m *MockChatRepository) UpsertProfile(p Profile) (Profile, error) {
	args := m.Called(p)
	return args.Get(0).(Profile), args.Error(1)
}

type MockChangeNotifier struct {
	mock.Mock
}

func (m *MockChangeNotifier) SubscribeRoom(roomId string) *ChangeSubscription {
	args := m.Called(roomId)
	return args.Get(0).(*ChangeSubscription)
}
func (m *MockChangeNotifier) SubscribeMailbox(ownerId string) *ChangeSubscription {
	args := m.Called(ownerId)
	return args.Get(0).(*ChangeSubscription)
}
