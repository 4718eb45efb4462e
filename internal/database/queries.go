package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/npezzotti/go-storechat/internal/types"
)

const (
	selectAccountQuery = "SELECT id, name, email, password_hash, role, created_at FROM accounts "
	selectChatQuery    = "SELECT c.id, c.customer_id, c.store_id, s.merchant_id, c.created_at " +
		"FROM chats c JOIN stores s ON s.id = c.store_id "
)

func scanAccount(row *sql.Row) (types.Account, error) {
	var (
		a    types.Account
		role string
	)
	err := row.Scan(
		&a.Id,
		&a.Name,
		&a.Email,
		&a.PasswordHash,
		&role,
		&a.CreatedAt,
	)
	a.Role = types.ParseRole(role)

	return a, err
}

func (db *PgRepository) GetAccount(ctx context.Context, id int) (types.Account, error) {
	a, err := scanAccount(db.conn.QueryRowContext(ctx, selectAccountQuery+"WHERE id = $1 LIMIT 1", id))
	if err != nil {
		return types.Account{}, fmt.Errorf("get account %d: %w", id, err)
	}
	return a, nil
}

func (db *PgRepository) GetAccountByEmail(ctx context.Context, email string) (types.Account, error) {
	a, err := scanAccount(db.conn.QueryRowContext(ctx, selectAccountQuery+"WHERE email = $1 LIMIT 1", email))
	if err != nil {
		return types.Account{}, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

func (db *PgRepository) GetStore(ctx context.Context, storeId int) (types.Store, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, merchant_id, name, created_at FROM stores WHERE id = $1 LIMIT 1",
		storeId,
	)

	var s types.Store
	if err := row.Scan(&s.Id, &s.MerchantId, &s.Name, &s.CreatedAt); err != nil {
		return types.Store{}, fmt.Errorf("get store %d: %w", storeId, err)
	}
	return s, nil
}

func (db *PgRepository) StoreIdsForMerchant(ctx context.Context, merchantId int) ([]int, error) {
	return db.queryIds(ctx, "SELECT id FROM stores WHERE merchant_id = $1 ORDER BY id", merchantId)
}

func (db *PgRepository) GetChat(ctx context.Context, id int) (types.Chat, error) {
	row := db.conn.QueryRowContext(ctx, selectChatQuery+"WHERE c.id = $1 LIMIT 1", id)

	var c types.Chat
	if err := row.Scan(&c.Id, &c.CustomerId, &c.StoreId, &c.MerchantId, &c.CreatedAt); err != nil {
		return types.Chat{}, fmt.Errorf("get chat %d: %w", id, err)
	}
	return c, nil
}

func (db *PgRepository) CreateChat(ctx context.Context, customerId, storeId int) (types.Chat, bool, error) {
	var id int
	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO chats (customer_id, store_id, created_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (customer_id, store_id) DO NOTHING RETURNING id",
		customerId,
		storeId,
		time.Now().UTC(),
	).Scan(&id)

	created := true
	if err == sql.ErrNoRows {
		created = false
		err = db.conn.QueryRowContext(ctx,
			"SELECT id FROM chats WHERE customer_id = $1 AND store_id = $2",
			customerId,
			storeId,
		).Scan(&id)
	}
	if err != nil {
		return types.Chat{}, false, fmt.Errorf("create chat: %w", err)
	}

	chat, err := db.GetChat(ctx, id)
	return chat, created, err
}

func (db *PgRepository) CreateMessage(ctx context.Context, chatId, senderId int, content string) (types.Message, error) {
	msg := types.Message{
		Id:       uuid.New(),
		ChatId:   chatId,
		SenderId: senderId,
		Content:  content,
		Status:   types.StatusSent,
	}

	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (id, chat_id, sender_id, content, status) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING created_at",
		msg.Id,
		msg.ChatId,
		msg.SenderId,
		msg.Content,
		msg.Status,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return types.Message{}, fmt.Errorf("create message: %w", err)
	}

	return msg, nil
}

func (db *PgRepository) GetMessage(ctx context.Context, id uuid.UUID) (types.Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, chat_id, sender_id, content, status, created_at FROM messages WHERE id = $1",
		id,
	)

	var (
		msg    types.Message
		status string
	)
	if err := row.Scan(&msg.Id, &msg.ChatId, &msg.SenderId, &msg.Content, &status, &msg.CreatedAt); err != nil {
		return types.Message{}, fmt.Errorf("get message %s: %w", id, err)
	}

	st, err := types.ParseMessageStatus(status)
	if err != nil {
		return types.Message{}, fmt.Errorf("get message %s: %w", id, err)
	}
	msg.Status = st

	return msg, nil
}

func (db *PgRepository) UpdateMessageStatus(ctx context.Context, id uuid.UUID, status types.MessageStatus) (bool, error) {
	from := statusStrings(types.Predecessors(status))
	if len(from) == 0 {
		return false, nil
	}

	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET status = $2 WHERE id = $1 AND status = ANY($3)",
		id,
		status,
		pq.Array(from),
	)
	if err != nil {
		return false, fmt.Errorf("update message status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update message status: %w", err)
	}

	return n > 0, nil
}

func (db *PgRepository) MarkChatDelivered(ctx context.Context, chatId, readerId int) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET status = $3 WHERE chat_id = $1 AND sender_id <> $2 AND status = ANY($4)",
		chatId,
		readerId,
		types.StatusDelivered,
		pq.Array(statusStrings(types.Predecessors(types.StatusDelivered))),
	)
	if err != nil {
		return 0, fmt.Errorf("mark chat delivered: %w", err)
	}

	return res.RowsAffected()
}

func (db *PgRepository) SetAccountPresence(ctx context.Context, accountId int, p types.Presence) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE accounts SET is_online = $2, last_seen = $3 WHERE id = $1",
		accountId,
		p.IsOnline,
		p.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("set account presence: %w", err)
	}
	return nil
}

func (db *PgRepository) SetStoresPresence(ctx context.Context, storeIds []int, p types.Presence) error {
	if len(storeIds) == 0 {
		return nil
	}

	_, err := db.conn.ExecContext(ctx,
		"UPDATE stores SET is_online = $2, last_seen = $3 WHERE id = ANY($1)",
		int64Array(storeIds),
		p.IsOnline,
		p.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("set stores presence: %w", err)
	}
	return nil
}

func (db *PgRepository) ResetPresence(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, "UPDATE accounts SET is_online = FALSE, last_seen = $1 WHERE is_online", now); err != nil {
		return fmt.Errorf("reset account presence: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "UPDATE stores SET is_online = FALSE, last_seen = $1 WHERE is_online", now); err != nil {
		return fmt.Errorf("reset store presence: %w", err)
	}

	return tx.Commit()
}

func (db *PgRepository) CustomersOfStores(ctx context.Context, storeIds []int) ([]int, error) {
	if len(storeIds) == 0 {
		return nil, nil
	}

	return db.queryIds(ctx,
		"SELECT DISTINCT customer_id FROM chats WHERE store_id = ANY($1) ORDER BY customer_id",
		int64Array(storeIds),
	)
}

func (db *PgRepository) MerchantsOfCustomer(ctx context.Context, customerId int) ([]int, error) {
	return db.queryIds(ctx,
		"SELECT DISTINCT s.merchant_id FROM chats c JOIN stores s ON s.id = c.store_id "+
			"WHERE c.customer_id = $1 ORDER BY s.merchant_id",
		customerId,
	)
}

func (db *PgRepository) StoreAnalytics(ctx context.Context, storeId int, from, to time.Time) (types.StoreAnalytics, error) {
	query := `
		SELECT
			(SELECT count(*) FROM chats WHERE store_id = $1),
			(SELECT count(*) FROM chats WHERE store_id = $1 AND created_at >= $2 AND created_at < $3),
			(SELECT count(*) FROM messages m JOIN chats c ON c.id = m.chat_id
				WHERE c.store_id = $1 AND m.created_at >= $2 AND m.created_at < $3),
			(SELECT count(*) FROM messages m JOIN chats c ON c.id = m.chat_id
				WHERE c.store_id = $1 AND m.sender_id = c.customer_id AND m.status <> 'read')
`

	res := types.StoreAnalytics{
		StoreId: storeId,
		From:    from,
		To:      to,
	}
	err := db.conn.QueryRowContext(ctx, query, storeId, from, to).Scan(
		&res.TotalChats,
		&res.NewChats,
		&res.TotalMessages,
		&res.UnreadMessages,
	)
	if err != nil {
		return types.StoreAnalytics{}, fmt.Errorf("store analytics: %w", err)
	}

	return res, nil
}

func (db *PgRepository) queryIds(ctx context.Context, query string, args ...any) ([]int, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int, 0)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

func int64Array(ids []int) pq.Int64Array {
	arr := make(pq.Int64Array, len(ids))
	for i, id := range ids {
		arr[i] = int64(id)
	}
	return arr
}

func statusStrings(statuses []types.MessageStatus) []string {
	strs := make([]string, len(statuses))
	for i, s := range statuses {
		strs[i] = string(s)
	}
	return strs
}
