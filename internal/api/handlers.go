package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-storechat/internal/analytics"
	"github.com/npezzotti/go-storechat/internal/auth"
	"github.com/npezzotti/go-storechat/internal/types"
)

type CreateChatRequest struct {
	StoreId int `json:"storeId"`
}

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	OnlineUsers int    `json:"onlineUsers"`
}

func (s *App) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Printf("health check: %v", err)
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Connections: s.cs.Connections(),
		OnlineUsers: s.cs.OnlineUsers(),
	})
}

func (s *App) createChat(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if p.Role != types.RoleCustomer {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StoreId <= 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	store, err := s.db.GetStore(r.Context(), req.StoreId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chat, created, err := s.db.CreateChat(r.Context(), p.UserId, store.Id)
	if err != nil {
		s.log.Println("create chat:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if chat.MerchantId == 0 {
		chat.MerchantId = store.MerchantId
	}

	if created {
		if err := s.audience.Invalidate(r.Context(), chat.CustomerId, chat.MerchantId); err != nil {
			s.log.Println("invalidate audience:", err)
		}
	}

	s.cs.NotifyChatCreated(chat, created)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJson(w, status, chat)
}

func (s *App) storeAnalytics(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	storeId, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || storeId <= 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if p.Role != types.RoleMerchant || !slices.Contains(p.StoreIds, storeId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	from, err := timeParam(r, "from")
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	to, err := timeParam(r, "to")
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	start, end := analytics.Window(from, to, time.Now())
	if !start.Before(end) {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// failures are logged by the aggregator and reported as zero counts
	res, _ := s.aggregator.StoreAnalytics(r.Context(), storeId, start, end)

	s.writeJson(w, http.StatusOK, res)
}

// timeParam parses an optional RFC 3339 query parameter.
func timeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}

	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func (s *App) serveWs(w http.ResponseWriter, r *http.Request) {
	p, err := s.gate.Authenticate(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		s.log.Printf("reject websocket: %v", err)
		errResp := NewErrorFrom(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	s.cs.Connect(p, conn)
}
