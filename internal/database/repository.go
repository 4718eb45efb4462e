package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-storechat/internal/types"
)

// AccountLookup resolves customers and merchants by id.
type AccountLookup interface {
	GetAccount(ctx context.Context, id int) (types.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (types.Account, error)
}

// StoreLookup answers store ownership questions in both directions.
type StoreLookup interface {
	GetStore(ctx context.Context, storeId int) (types.Store, error)
	StoreIdsForMerchant(ctx context.Context, merchantId int) ([]int, error)
}

type ChatStore interface {
	GetChat(ctx context.Context, id int) (types.Chat, error)
	// CreateChat returns the chat between the customer and the store,
	// creating it if needed. created reports whether a new row was inserted.
	CreateChat(ctx context.Context, customerId, storeId int) (chat types.Chat, created bool, err error)
	CreateMessage(ctx context.Context, chatId, senderId int, content string) (types.Message, error)
	GetMessage(ctx context.Context, id uuid.UUID) (types.Message, error)
	// UpdateMessageStatus moves the message to status if, and only if, it is
	// currently in one of the statuses allowed to precede it.
	UpdateMessageStatus(ctx context.Context, id uuid.UUID, status types.MessageStatus) (bool, error)
	// MarkChatDelivered moves every sent message of the chat not authored by
	// readerId to delivered and returns how many moved.
	MarkChatDelivered(ctx context.Context, chatId, readerId int) (int64, error)
}

type PresenceStore interface {
	SetAccountPresence(ctx context.Context, accountId int, p types.Presence) error
	SetStoresPresence(ctx context.Context, storeIds []int, p types.Presence) error
	ResetPresence(ctx context.Context) error
}

// AudienceStore computes who has a standing chat relationship with whom.
type AudienceStore interface {
	CustomersOfStores(ctx context.Context, storeIds []int) ([]int, error)
	MerchantsOfCustomer(ctx context.Context, customerId int) ([]int, error)
}

type AnalyticsStore interface {
	StoreAnalytics(ctx context.Context, storeId int, from, to time.Time) (types.StoreAnalytics, error)
}

type Repository interface {
	Ping(ctx context.Context) error
	AccountLookup
	StoreLookup
	ChatStore
	PresenceStore
	AudienceStore
	AnalyticsStore
}
