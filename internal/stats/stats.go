// Package stats publishes the chat layer's runtime counters through expvar.
//
// Every counter lives in the "storechat-stats" map and is served as JSON at
// GET /debug/vars, next to the process uptime in milliseconds.
package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

const (
	// ActiveConnections is the number of registered websocket connections.
	ActiveConnections = "ActiveConnections"
	// OnlineUsers counts users announced online by the presence broadcaster.
	OnlineUsers = "OnlineUsers"
	// MessagesSent counts messages persisted by the router.
	MessagesSent = "MessagesSent"
	// StatusTransitions counts delivered/read moves, batch or single.
	StatusTransitions = "StatusTransitions"

	mapName = "storechat-stats"
)

// StatsProvider is what the chat server needs from a counter sink.
type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	Add(name string, delta int64)
	RegisterMetric(name string)
	Run()
}

// StatsUpdater serialises counter updates through one goroutine. Updates sent
// after Stop are dropped, so late disconnects during shutdown are harmless.
type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *counterDelta
	done       chan struct{}
	stopOnce   sync.Once
}

type counterDelta struct {
	name  string
	delta int64
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	counters := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		counters[kv.Key] = value
	})

	json.NewEncoder(w).Encode(counters)
}

// NewStatsUpdater returns an updater bound to the process-wide storechat map
// and mounts GET /debug/vars on mux.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		updateChan: make(chan *counterDelta, 512),
		done:       make(chan struct{}),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))

	// expvar names are process-global
	if m, ok := expvar.Get(mapName).(*expvar.Map); ok {
		su.vars = m
	} else {
		su.vars = expvar.NewMap(mapName)
	}

	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))

	return su
}

func (su *StatsUpdater) apply() {
	for {
		select {
		case d := <-su.updateChan:
			counter, ok := su.vars.Get(d.name).(*expvar.Int)
			if !ok {
				panic("counter not registered: " + d.name)
			}
			counter.Add(d.delta)
		case <-su.done:
			return
		}
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.Add(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.Add(name, -1)
}

func (su *StatsUpdater) Add(name string, delta int64) {
	select {
	case <-su.done:
		return
	default:
	}

	select {
	case su.updateChan <- &counterDelta{name: name, delta: delta}:
	case <-su.done:
	}
}

// RegisterMetric creates (or resets) the counter name.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.apply()
}

// Stop ends the update goroutine. It is safe to call more than once and
// concurrently with Add.
func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() {
		close(su.done)
	})
}
