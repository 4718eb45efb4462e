package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-storechat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRepository) GetAccount(ctx context.Context, id int) (types.Account, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Account), args.Error(1)
}
func (m *MockRepository) GetAccountByEmail(ctx context.Context, email string) (types.Account, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(types.Account), args.Error(1)
}
func (m *MockRepository) GetStore(ctx context.Context, storeId int) (types.Store, error) {
	args := m.Called(ctx, storeId)
	return args.Get(0).(types.Store), args.Error(1)
}
func (m *MockRepository) StoreIdsForMerchant(ctx context.Context, merchantId int) ([]int, error) {
	args := m.Called(ctx, merchantId)
	if ids, ok := args.Get(0).([]int); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) GetChat(ctx context.Context, id int) (types.Chat, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Chat), args.Error(1)
}
func (m *MockRepository) CreateChat(ctx context.Context, customerId, storeId int) (types.Chat, bool, error) {
	args := m.Called(ctx, customerId, storeId)
	return args.Get(0).(types.Chat), args.Bool(1), args.Error(2)
}
func (m *MockRepository) CreateMessage(ctx context.Context, chatId, senderId int, content string) (types.Message, error) {
	args := m.Called(ctx, chatId, senderId, content)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockRepository) GetMessage(ctx context.Context, id uuid.UUID) (types.Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockRepository) UpdateMessageStatus(ctx context.Context, id uuid.UUID, status types.MessageStatus) (bool, error) {
	args := m.Called(ctx, id, status)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) MarkChatDelivered(ctx context.Context, chatId, readerId int) (int64, error) {
	args := m.Called(ctx, chatId, readerId)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockRepository) SetAccountPresence(ctx context.Context, accountId int, p types.Presence) error {
	args := m.Called(ctx, accountId, p)
	return args.Error(0)
}
func (m *MockRepository) SetStoresPresence(ctx context.Context, storeIds []int, p types.Presence) error {
	args := m.Called(ctx, storeIds, p)
	return args.Error(0)
}
func (m *MockRepository) ResetPresence(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRepository) CustomersOfStores(ctx context.Context, storeIds []int) ([]int, error) {
	args := m.Called(ctx, storeIds)
	if ids, ok := args.Get(0).([]int); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) MerchantsOfCustomer(ctx context.Context, customerId int) ([]int, error) {
	args := m.Called(ctx, customerId)
	if ids, ok := args.Get(0).([]int); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) StoreAnalytics(ctx context.Context, storeId int, from, to time.Time) (types.StoreAnalytics, error) {
	args := m.Called(ctx, storeId, from, to)
	return args.Get(0).(types.StoreAnalytics), args.Error(1)
}
