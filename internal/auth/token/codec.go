package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"

	autherr "github.com/jslitzker/forgeboard/internal/auth"
	"github.com/jslitzker/forgeboard/internal/auth/models"
)

// Claims carries the denormalized identity fields inside an access token so
// downstream authorization can run without a user lookup. The jti registered
// claim is the session's revocation identifier.
type Claims struct {
	Username    string   `json:"username,omitempty"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	IsAdmin     bool     `json:"is_admin"`
	Permissions []string `json:"permissions,omitempty"`
	Refresh     bool     `json:"refresh,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies session tokens with a process-wide HMAC secret.
type Codec struct {
	secret []byte
}

func NewCodec(secret []byte) *Codec {
	return &Codec{secret: secret}
}

// Issue signs an access token for the user, valid for ttl, carrying the
// given jti.
func (c *Codec) Issue(user *models.User, jti string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username:    user.Username,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		IsAdmin:     user.IsAdmin,
		Permissions: user.Permissions(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   formatUserID(user.ID),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// IssueRefresh signs a refresh token: subject and jti only, no denormalized
// identity, marked so it cannot pass as an access token.
func (c *Codec) IssueRefresh(userID int64, jti string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Refresh: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   formatUserID(userID),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Verify checks signature, algorithm and expiry, reporting expiry distinctly
// from every other failure so clients can trigger a refresh.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, autherr.ErrTokenInvalid
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, autherr.ErrTokenExpired
		}
		return nil, autherr.ErrTokenInvalid
	}
	if !tok.Valid {
		return nil, autherr.ErrTokenInvalid
	}

	return claims, nil
}

// PeekJTI extracts the jti claim without verifying the signature. Used as a
// cheap existence pre-check before the expensive crypto verification; the
// session registry, not the signature, is the revocation source of truth.
func (c *Codec) PeekJTI(tokenString string) (string, error) {
	claims := &Claims{}
	_, _, err := jwt.NewParser().ParseUnverified(tokenString, claims)
	if err != nil || claims.ID == "" {
		return "", autherr.ErrTokenInvalid
	}
	return claims.ID, nil
}

// UserID parses the numeric subject out of verified claims.
func (cl *Claims) UserID() (int64, error) {
	return parseUserID(cl.Subject)
}

// NewJTI returns a fresh URL-safe revocation identifier (>=32 chars).
func NewJTI() (string, error) {
	return RandomToken(32)
}

// RandomToken returns a URL-safe random string built from n bytes of entropy.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
