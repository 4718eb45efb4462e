// Package audience resolves who has a standing relationship with a user
// through a persisted chat.
package audience

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/npezzotti/go-storechat/internal/database"
	"golang.org/x/sync/singleflight"
)

// loadTimeout bounds a shared database load, which outlives the caller that
// started it.
const loadTimeout = 5 * time.Second

type Resolver struct {
	log   *log.Logger
	db    database.AudienceStore
	cache Cache
	group singleflight.Group

	// genMu orders cache writes against invalidation. A load only writes
	// back if its key's generation is unchanged since the load began.
	genMu       sync.Mutex
	generations map[string]uint64
}

// NewResolver returns a Resolver. A nil cache makes every lookup hit the
// database.
func NewResolver(logger *log.Logger, db database.AudienceStore, cache Cache) *Resolver {
	return &Resolver{
		log:         logger,
		db:          db,
		cache:       cache,
		generations: make(map[string]uint64),
	}
}

func merchantKey(merchantId int) string {
	return "merchant:" + strconv.Itoa(merchantId)
}

func customerKey(customerId int) string {
	return "customer:" + strconv.Itoa(customerId)
}

// CustomersOf returns every distinct customer with a chat on any of the
// merchant's stores.
func (r *Resolver) CustomersOf(ctx context.Context, merchantId int, storeIds []int) ([]int, error) {
	if len(storeIds) == 0 {
		return nil, nil
	}

	return r.resolve(ctx, merchantKey(merchantId), func(ctx context.Context) ([]int, error) {
		return r.db.CustomersOfStores(ctx, storeIds)
	})
}

// MerchantsOf returns every distinct merchant owning a store the customer
// has a chat with.
func (r *Resolver) MerchantsOf(ctx context.Context, customerId int) ([]int, error) {
	return r.resolve(ctx, customerKey(customerId), func(ctx context.Context) ([]int, error) {
		return r.db.MerchantsOfCustomer(ctx, customerId)
	})
}

// Invalidate drops the cached audiences touched by a new chat between the
// customer and the merchant.
func (r *Resolver) Invalidate(ctx context.Context, customerId, merchantId int) error {
	if r.cache == nil {
		return nil
	}

	keys := []string{customerKey(customerId), merchantKey(merchantId)}

	r.genMu.Lock()
	for _, key := range keys {
		r.generations[key]++
		r.group.Forget(key)
	}
	r.genMu.Unlock()

	if err := r.cache.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate audience: %w", err)
	}

	return nil
}

func (r *Resolver) resolve(ctx context.Context, key string, load func(context.Context) ([]int, error)) ([]int, error) {
	if r.cache != nil {
		ids, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			r.log.Printf("audience cache: %v", err)
		} else if ok {
			return ids, nil
		}
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		gen := r.generation(key)

		// the load is shared by every waiter, so no single caller may cancel it
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		ids, err := load(loadCtx)
		if err != nil {
			return nil, err
		}

		if r.cache != nil {
			r.store(loadCtx, key, gen, ids)
		}

		return ids, nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve audience %s: %w", key, err)
	}

	return slices.Clone(v.([]int)), nil
}

func (r *Resolver) generation(key string) uint64 {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	return r.generations[key]
}

// store writes ids back unless key was invalidated after gen was read.
func (r *Resolver) store(ctx context.Context, key string, gen uint64, ids []int) {
	r.genMu.Lock()
	defer r.genMu.Unlock()

	if r.generations[key] != gen {
		return
	}
	if err := r.cache.Set(ctx, key, ids); err != nil {
		r.log.Printf("audience cache: %v", err)
	}
}
