package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-storechat/internal/database"
	"github.com/npezzotti/go-storechat/internal/errs"
	"github.com/npezzotti/go-storechat/internal/types"
)

const (
	DefaultTimeout = 5 * time.Second

	tokenCookieKey = "token"
	tokenQueryKey  = "token"
)

// Principal is an authenticated caller.
type Principal struct {
	UserId   int
	Name     string
	Role     types.Role
	StoreIds []int
}

type Gate struct {
	log      *log.Logger
	accounts database.AccountLookup
	stores   database.StoreLookup
	key      []byte
	timeout  time.Duration
}

func NewGate(logger *log.Logger, accounts database.AccountLookup, stores database.StoreLookup, signingKey []byte, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Gate{
		log:      logger,
		accounts: accounts,
		stores:   stores,
		key:      signingKey,
		timeout:  timeout,
	}
}

// Authenticate resolves a bearer token to a Principal. Every failure is an
// authentication error; nothing is registered for a rejected caller.
func (g *Gate) Authenticate(ctx context.Context, token string) (Principal, error) {
	const op = "authenticate"

	if token == "" {
		return Principal{}, errs.E(errs.KindAuthentication, op, "missing credential")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	claims, err := g.verifyToken(token)
	if err != nil {
		g.log.Printf("verify token: %v", err)
		msg := "invalid credential"
		if isExpired(err) {
			msg = "expired credential"
		}
		return Principal{}, &errs.Error{Kind: errs.KindAuthentication, Op: op, Msg: msg, Err: err}
	}

	cred, err := ParseCredential(claims)
	if err != nil {
		return Principal{}, &errs.Error{Kind: errs.KindAuthentication, Op: op, Msg: "invalid credential", Err: err}
	}

	id, err := Normalize(cred)
	if err != nil {
		return Principal{}, &errs.Error{Kind: errs.KindAuthentication, Op: op, Msg: "invalid credential", Err: err}
	}

	acct, err := g.accounts.GetAccount(ctx, id.UserId)
	if err != nil {
		return Principal{}, g.lookupFailure(ctx, op, "unknown account", err)
	}

	if acct.Role != id.Role {
		return Principal{}, errs.E(errs.KindAuthentication, op, "role mismatch")
	}

	p := Principal{
		UserId: acct.Id,
		Name:   acct.Name,
		Role:   acct.Role,
	}

	if p.Role == types.RoleMerchant {
		storeIds, err := g.stores.StoreIdsForMerchant(ctx, p.UserId)
		if err != nil {
			return Principal{}, g.lookupFailure(ctx, op, "store lookup failed", err)
		}
		p.StoreIds = storeIds
	}

	if err := ctx.Err(); err != nil {
		return Principal{}, &errs.Error{Kind: errs.KindAuthentication, Op: op, Msg: "authentication timed out", Err: err}
	}

	return p, nil
}

func (g *Gate) lookupFailure(ctx context.Context, op, msg string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		msg = "authentication timed out"
	default:
		g.log.Printf("%s: %v", op, err)
	}
	return &errs.Error{Kind: errs.KindAuthentication, Op: op, Msg: msg, Err: err}
}

func (g *Gate) verifyToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

func isExpired(err error) bool {
	var ve *jwt.ValidationError
	return errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0
}

// TokenFromRequest extracts the bearer credential from the Authorization
// header, the token query parameter or the token cookie, in that order.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}

	if token := r.URL.Query().Get(tokenQueryKey); token != "" {
		return token
	}

	if c, err := r.Cookie(tokenCookieKey); err == nil {
		return c.Value
	}

	return ""
}
