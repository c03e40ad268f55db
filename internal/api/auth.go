package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer is the iss claim of access tokens.
const TokenIssuer = "liqrelay"

// Claims are the JWT claims of an access token. Subject is the caller address.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator issues and validates HS256 access tokens that bind a bearer
// to a caller address.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator. A zero ttl means 24h.
func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for caller.
func (a *Authenticator) Issue(caller common.Address) (string, error) {
	now := a.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   caller.Hex(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate parses tokenStr and returns the caller it was issued to.
func (a *Authenticator) Validate(tokenStr string) (common.Address, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return common.Address{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return common.Address{}, errors.New("invalid token")
	}
	if !common.IsHexAddress(claims.Subject) {
		return common.Address{}, fmt.Errorf("token subject %q is not an address", claims.Subject)
	}
	return common.HexToAddress(claims.Subject), nil
}

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(common.Address)
	return caller, ok
}

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context. Browsers cannot set headers on websocket
// upgrades, so an access_token query parameter is accepted as well.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("access_token")

		if header := r.Header.Get("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "Invalid Authorization header format (expected 'Bearer <token>')", false)
				return
			}
			tokenStr = parts[1]
		}
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "Missing Authorization header", false)
			return
		}

		caller, err := a.Validate(tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "Invalid or expired token", false)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}
