package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-storechat/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const DefaultTokenExpiration = 24 * time.Hour

type Issuer struct {
	key []byte
}

func NewIssuer(signingKey []byte) *Issuer {
	return &Issuer{key: signingKey}
}

// Issue signs a current-format token for the account.
func (i *Issuer) Issue(acct types.Account, exp time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		subjectClaim: strconv.Itoa(acct.Id),
		roleClaim:    acct.Role.String(),
		iatClaim:     now.Unix(),
		expClaim:     now.Add(exp).Unix(),
	})

	return token.SignedString(i.key)
}

func HashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func VerifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
