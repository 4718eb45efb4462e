package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-storechat/internal/database"
	"github.com/npezzotti/go-storechat/internal/errs"
	"github.com/npezzotti/go-storechat/internal/protocol"
	"github.com/npezzotti/go-storechat/internal/registry"
	"github.com/npezzotti/go-storechat/internal/stats"
	"github.com/npezzotti/go-storechat/internal/types"
)

type AudienceResolver interface {
	CustomersOf(ctx context.Context, merchantId int, storeIds []int) ([]int, error)
	MerchantsOf(ctx context.Context, customerId int) ([]int, error)
}

// Presence persists and announces online/offline transitions to the users
// that share a chat with the transitioning user.
type Presence struct {
	log      *log.Logger
	db       database.PresenceStore
	audience AudienceResolver
	registry *registry.Registry
	stats    stats.StatsProvider
	locks    *keyedMutex

	// users whose online state was last announced
	onlineMu sync.Mutex
	online   map[int]struct{}
}

func NewPresence(logger *log.Logger, db database.PresenceStore, audience AudienceResolver, reg *registry.Registry, su stats.StatsProvider) *Presence {
	return &Presence{
		log:      logger,
		db:       db,
		audience: audience,
		registry: reg,
		stats:    su,
		locks:    newKeyedMutex(),
		online:   make(map[int]struct{}),
	}
}

// Transition announces that conn's user went online or offline. It is a
// no-op when the registry no longer agrees with the requested state, so a
// late transition can never overwrite a newer one, and when the state was
// already announced.
func (p *Presence) Transition(ctx context.Context, conn registry.Connection, online bool) errs.Advisory {
	adv := errs.NewAdvisory("presence transition")

	unlock := p.locks.Lock(conn.UserId)
	defer unlock()

	if p.registry.IsOnline(conn.UserId) != online || !p.mark(conn.UserId, online) {
		return adv
	}

	if online {
		p.stats.Incr(stats.OnlineUsers)
	} else {
		p.stats.Decr(stats.OnlineUsers)
	}

	pres := types.Presence{IsOnline: online}
	if !online {
		now := time.Now().UTC()
		pres.LastSeen = &now
	}

	// persistence is best effort and never holds back the broadcast
	adv.Add(p.db.SetAccountPresence(ctx, conn.UserId, pres))
	if conn.Role == types.RoleMerchant && len(conn.StoreIds) > 0 {
		adv.Add(p.db.SetStoresPresence(ctx, conn.StoreIds, pres))
	}

	var (
		audience []int
		msg      *protocol.ServerMessage
		err      error
	)
	if conn.Role == types.RoleMerchant {
		audience, err = p.audience.CustomersOf(ctx, conn.UserId, conn.StoreIds)
		msg = protocol.Event(protocol.EventMerchantStatusUpdate, &protocol.MerchantStatusUpdate{
			MerchantId: conn.UserId,
			IsOnline:   online,
			StoreIds:   conn.StoreIds,
		})
	} else {
		audience, err = p.audience.MerchantsOf(ctx, conn.UserId)
		msg = protocol.Event(protocol.EventCustomerStatusUpdate, &protocol.CustomerStatusUpdate{
			CustomerId: conn.UserId,
			IsOnline:   online,
		})
	}
	if err != nil {
		adv.Add(err)
		return adv
	}

	for _, userId := range audience {
		if userId == conn.UserId {
			continue
		}
		for _, ep := range p.registry.EndpointsFor(userId) {
			ep.QueueMessage(msg)
		}
	}

	return adv
}

// mark records the announced state and reports whether it changed.
func (p *Presence) mark(userId int, online bool) bool {
	p.onlineMu.Lock()
	defer p.onlineMu.Unlock()

	_, was := p.online[userId]
	if was == online {
		return false
	}

	if online {
		p.online[userId] = struct{}{}
	} else {
		delete(p.online, userId)
	}
	return true
}
