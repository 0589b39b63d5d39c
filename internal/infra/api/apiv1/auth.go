package apiv1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/infra/api"
	"subscription-lifecycle/internal/infra/logging"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what the identity collaborator vouches for on every request.
type Identity struct {
	UserID string
	Role   model.Role
	Email  string
	Name   string
}

type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens minted by the identity service.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Mint signs a token for id. Used by tooling and tests; production tokens
// come from the identity service.
func (a *Authenticator) Mint(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:  string(id.Role),
		Email: id.Email,
		Name:  id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Parse(tok string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !tkn.Valid {
		return nil, errors.New("invalid token")
	}
	role := model.Role(claims.Role)
	if claims.Subject == "" || !role.Valid() {
		return nil, errors.New("token missing subject or role")
	}
	return &Identity{UserID: claims.Subject, Role: role, Email: claims.Email, Name: claims.Name}, nil
}

type identityCtx struct{}

// Middleware rejects requests without a valid bearer token and stores the
// identity in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := api.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := a.Parse(tok)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), identityCtx{}, id)
		ctx = logging.WithUserID(ctx, id.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityCtx{}).(*Identity)
	return id, ok
}
