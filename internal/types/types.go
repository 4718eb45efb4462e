package types

import (
	"time"

	"github.com/google/uuid"
)

type Account struct {
	Id           int       `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
}

type Store struct {
	Id         int       `json:"id"`
	MerchantId int       `json:"merchantId"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"createdAt,omitempty"`
}

// Chat relates one customer to one store. MerchantId is the owner of the
// store at the time the chat was read.
type Chat struct {
	Id         int       `json:"id"`
	CustomerId int       `json:"customerId"`
	StoreId    int       `json:"storeId"`
	MerchantId int       `json:"merchantId"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Message struct {
	Id        uuid.UUID     `json:"id"`
	ChatId    int           `json:"chatId"`
	SenderId  int           `json:"senderId"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

type Presence struct {
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}

type StoreAnalytics struct {
	StoreId        int       `json:"storeId"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	TotalChats     int       `json:"totalChats"`
	NewChats       int       `json:"newChats"`
	TotalMessages  int       `json:"totalMessages"`
	UnreadMessages int       `json:"unreadMessages"`
}
