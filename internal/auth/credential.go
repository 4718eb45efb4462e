package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-storechat/internal/types"
)

var ErrUnrecognizedCredential = errors.New("unrecognized credential shape")

// Credential is one of the token shapes clients have been issued over time:
// UserToken, MerchantToken or LegacyToken.
type Credential interface {
	credential()
}

// UserToken is the current shape: {"sub": "42", "role": "merchant"}.
type UserToken struct {
	Subject int
	Role    string
}

// MerchantToken was issued by the merchant dashboard: {"merchantId": 7}.
type MerchantToken struct {
	MerchantId int
}

// LegacyToken covers the first generation of tokens, which carried the id
// under "user-id", "userId" or "id" and an optional "type"/"userType".
type LegacyToken struct {
	UserId int
	Type   string
}

func (UserToken) credential()     {}
func (MerchantToken) credential() {}
func (LegacyToken) credential()   {}

type Identity struct {
	UserId int
	Role   types.Role
}

const (
	subjectClaim    = "sub"
	roleClaim       = "role"
	merchantIdClaim = "merchantId"
	expClaim        = "exp"
	iatClaim        = "iat"
)

var (
	legacyIdClaims   = []string{"user-id", "userId", "id"}
	legacyTypeClaims = []string{"type", "userType"}
)

// ParseCredential classifies verified claims into a Credential.
func ParseCredential(claims jwt.MapClaims) (Credential, error) {
	if v, ok := claims[merchantIdClaim]; ok {
		id, ok := claimInt(v)
		if !ok {
			return nil, fmt.Errorf("%w: bad %s claim", ErrUnrecognizedCredential, merchantIdClaim)
		}
		return MerchantToken{MerchantId: id}, nil
	}

	if v, ok := claims[subjectClaim]; ok {
		id, ok := claimInt(v)
		if !ok {
			return nil, fmt.Errorf("%w: bad %s claim", ErrUnrecognizedCredential, subjectClaim)
		}
		role, _ := claims[roleClaim].(string)
		return UserToken{Subject: id, Role: role}, nil
	}

	for _, name := range legacyIdClaims {
		v, ok := claims[name]
		if !ok {
			continue
		}
		id, ok := claimInt(v)
		if !ok {
			return nil, fmt.Errorf("%w: bad %s claim", ErrUnrecognizedCredential, name)
		}

		var typ string
		for _, tname := range legacyTypeClaims {
			if s, ok := claims[tname].(string); ok {
				typ = s
				break
			}
		}
		return LegacyToken{UserId: id, Type: typ}, nil
	}

	return nil, ErrUnrecognizedCredential
}

// Normalize maps every credential shape to an Identity. Shapes that do not
// state a recognisable role resolve to a customer.
func Normalize(c Credential) (Identity, error) {
	switch cred := c.(type) {
	case UserToken:
		return Identity{UserId: cred.Subject, Role: types.ParseRole(cred.Role)}, nil
	case MerchantToken:
		return Identity{UserId: cred.MerchantId, Role: types.RoleMerchant}, nil
	case LegacyToken:
		return Identity{UserId: cred.UserId, Role: types.ParseRole(cred.Type)}, nil
	default:
		return Identity{}, fmt.Errorf("%w: %T", ErrUnrecognizedCredential, c)
	}
}

func claimInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n <= 0 || n != math.Trunc(n) || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil || i <= 0 || i > math.MaxInt32 {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil || i <= 0 {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
