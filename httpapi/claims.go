package httpapi

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const ClaimsKey contextKey = "claims"

// AllDatabases in a token's database list grants access to every database.
const AllDatabases = "*"

// BatchClaims are the claims of a bearer token accepted by the batch API.
type BatchClaims struct {
	jwt.RegisteredClaims
	Databases []string `json:"dbs"`
}

// Allows reports whether the token may run batches against name.
func (c *BatchClaims) Allows(name string) bool {
	return slices.Contains(c.Databases, AllDatabases) || slices.Contains(c.Databases, name)
}

// ClaimsFromContext returns the claims stored by LoginRequired.
func ClaimsFromContext(ctx context.Context) (*BatchClaims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*BatchClaims)
	return claims, ok
}

// NewToken signs an HS256 token for subject that grants access to dbs
// until ttl has passed.
func NewToken(secret []byte, subject string, dbs []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := BatchClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Databases: dbs,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// LoadJWTSecretKey reads the signing key at path, generating and storing a
// random 32 byte key if the file does not exist yet.
func LoadJWTSecretKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				return nil, fmt.Errorf("failed to generate random JWT secret key: %w", err)
			}
			if err := os.WriteFile(path, b, 0600); err != nil {
				return nil, fmt.Errorf("failed to write JWT secret key: %w", err)
			}
			return b, nil
		}
		return nil, fmt.Errorf("failed to read JWT secret key: %w", err)
	}
	return key, nil
}
