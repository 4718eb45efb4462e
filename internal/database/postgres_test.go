package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-storechat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture is one merchant with one store and one customer, removed on cleanup.
type fixture struct {
	merchantId int
	customerId int
	storeId    int
}

func testRepository(t *testing.T) *PgRepository {
	t.Helper()

	dsn := os.Getenv("STORECHAT_TEST_DSN")
	if dsn == "" {
		t.Skip("STORECHAT_TEST_DSN not set")
	}

	db, err := NewPgRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate())

	return db
}

func insertAccount(t *testing.T, db *PgRepository, role types.Role) int {
	t.Helper()

	var id int
	err := db.conn.QueryRow(
		"INSERT INTO accounts (name, email, password_hash, role) VALUES ($1, $2, $3, $4) RETURNING id",
		string(role),
		uuid.NewString()+"@example.com",
		"x",
		string(role),
	).Scan(&id)
	require.NoError(t, err)

	return id
}

func newFixture(t *testing.T, db *PgRepository) fixture {
	t.Helper()

	f := fixture{
		merchantId: insertAccount(t, db, types.RoleMerchant),
		customerId: insertAccount(t, db, types.RoleCustomer),
	}
	err := db.conn.QueryRow(
		"INSERT INTO stores (merchant_id, name) VALUES ($1, $2) RETURNING id",
		f.merchantId,
		"test store",
	).Scan(&f.storeId)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.conn.Exec("DELETE FROM chats WHERE store_id = $1", f.storeId)
		db.conn.Exec("DELETE FROM stores WHERE id = $1", f.storeId)
		db.conn.Exec("DELETE FROM accounts WHERE id = ANY($1)", int64Array([]int{f.merchantId, f.customerId}))
	})

	return f
}

func TestPgRepository_CreateChat(t *testing.T) {
	db := testRepository(t)
	f := newFixture(t, db)
	ctx := context.Background()

	chat, created, err := db.CreateChat(ctx, f.customerId, f.storeId)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, f.merchantId, chat.MerchantId)

	again, created, err := db.CreateChat(ctx, f.customerId, f.storeId)
	require.NoError(t, err)
	assert.False(t, created, "second create returns the existing chat")
	assert.Equal(t, chat.Id, again.Id)
}

func TestPgRepository_MarkChatDelivered(t *testing.T) {
	db := testRepository(t)
	f := newFixture(t, db)
	ctx := context.Background()

	chat, _, err := db.CreateChat(ctx, f.customerId, f.storeId)
	require.NoError(t, err)

	fromCustomer, err := db.CreateMessage(ctx, chat.Id, f.customerId, "hello")
	require.NoError(t, err)
	fromMerchant, err := db.CreateMessage(ctx, chat.Id, f.merchantId, "hi there")
	require.NoError(t, err)

	// the merchant reads the chat, so only the customer's message moves
	n, err := db.MarkChatDelivered(ctx, chat.Id, f.merchantId)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := db.GetMessage(ctx, fromCustomer.Id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDelivered, got.Status)

	got, err = db.GetMessage(ctx, fromMerchant.Id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSent, got.Status)

	n, err = db.MarkChatDelivered(ctx, chat.Id, f.merchantId)
	require.NoError(t, err)
	assert.Zero(t, n, "already delivered messages are not counted again")
}

func TestPgRepository_UpdateMessageStatus(t *testing.T) {
	db := testRepository(t)
	f := newFixture(t, db)
	ctx := context.Background()

	chat, _, err := db.CreateChat(ctx, f.customerId, f.storeId)
	require.NoError(t, err)
	msg, err := db.CreateMessage(ctx, chat.Id, f.customerId, "hello")
	require.NoError(t, err)

	moved, err := db.UpdateMessageStatus(ctx, msg.Id, types.StatusRead)
	require.NoError(t, err)
	assert.True(t, moved, "sent may skip straight to read")

	for _, st := range []types.MessageStatus{types.StatusDelivered, types.StatusRead, types.StatusSent} {
		moved, err := db.UpdateMessageStatus(ctx, msg.Id, st)
		require.NoError(t, err)
		assert.False(t, moved, "read must not move to %s", st)
	}

	got, err := db.GetMessage(ctx, msg.Id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRead, got.Status)

	moved, err = db.UpdateMessageStatus(ctx, uuid.New(), types.StatusDelivered)
	require.NoError(t, err)
	assert.False(t, moved, "unknown message")
}

func TestPgRepository_StoreAnalytics(t *testing.T) {
	db := testRepository(t)
	f := newFixture(t, db)
	ctx := context.Background()

	from := time.Now().Add(-time.Hour)

	chat, _, err := db.CreateChat(ctx, f.customerId, f.storeId)
	require.NoError(t, err)

	const customerMessages = 4
	var first types.Message
	for i := range customerMessages {
		msg, err := db.CreateMessage(ctx, chat.Id, f.customerId, "question")
		require.NoError(t, err)
		if i == 0 {
			first = msg
		}
	}
	_, err = db.CreateMessage(ctx, chat.Id, f.merchantId, "answer")
	require.NoError(t, err)

	moved, err := db.UpdateMessageStatus(ctx, first.Id, types.StatusRead)
	require.NoError(t, err)
	require.True(t, moved)

	to := time.Now().Add(time.Hour)
	res, err := db.StoreAnalytics(ctx, f.storeId, from, to)
	require.NoError(t, err)

	assert.Equal(t, f.storeId, res.StoreId)
	assert.Equal(t, 1, res.TotalChats)
	assert.Equal(t, 1, res.NewChats)
	assert.Equal(t, customerMessages+1, res.TotalMessages)
	assert.Equal(t, customerMessages-1, res.UnreadMessages, "merchant replies and read messages are not unread")

	t.Run("window before activity", func(t *testing.T) {
		res, err := db.StoreAnalytics(ctx, f.storeId, from.Add(-time.Hour), from)
		require.NoError(t, err)

		assert.Equal(t, 1, res.TotalChats)
		assert.Zero(t, res.NewChats)
		assert.Zero(t, res.TotalMessages)
		assert.Equal(t, customerMessages-1, res.UnreadMessages)
	})
}
