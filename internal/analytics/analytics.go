// Package analytics computes read-only dashboard rollups for a store.
package analytics

import (
	"context"
	"log"
	"time"

	"github.com/npezzotti/go-storechat/internal/database"
	"github.com/npezzotti/go-storechat/internal/errs"
	"github.com/npezzotti/go-storechat/internal/types"
)

const DefaultWindow = 30 * 24 * time.Hour

type Aggregator struct {
	log *log.Logger
	db  database.AnalyticsStore
}

func NewAggregator(logger *log.Logger, db database.AnalyticsStore) *Aggregator {
	return &Aggregator{log: logger, db: db}
}

// StoreAnalytics returns the rollup for storeId over [from, to). On failure
// the counts are zero and the failure is reported as advisory.
func (a *Aggregator) StoreAnalytics(ctx context.Context, storeId int, from, to time.Time) (types.StoreAnalytics, errs.Advisory) {
	adv := errs.NewAdvisory("store analytics")
	zero := types.StoreAnalytics{StoreId: storeId, From: from, To: to}

	if !from.Before(to) {
		adv.Add(errs.E(errs.KindValidation, "store analytics", "empty window"))
		return zero, adv
	}

	res, err := a.db.StoreAnalytics(ctx, storeId, from, to)
	if err != nil {
		adv.Add(err)
		adv.Log(a.log)
		return zero, adv
	}

	res.StoreId, res.From, res.To = storeId, from, to
	return res, adv
}

// Window resolves an optional [from, to) pair, defaulting to the last
// DefaultWindow ending now.
func Window(from, to *time.Time, now time.Time) (time.Time, time.Time) {
	end := now.UTC()
	if to != nil {
		end = to.UTC()
	}
	start := end.Add(-DefaultWindow)
	if from != nil {
		start = from.UTC()
	}
	return start, end
}
