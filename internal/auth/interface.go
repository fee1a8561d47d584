package auth

import "github.com/rawcontext/engram-sub009/internal/domain/models"

// JWTVerifier validates bearer tokens issued by the session gateway.
type JWTVerifier interface {
	// VerifyToken validates a JWT and extracts its claims.
	// Returns domain.ErrUnauthorized for any invalid token.
	VerifyToken(tokenString string) (*models.Claims, error)

	// Close releases resources held by the verifier.
	Close() error
}
