package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer   = "mcp-shared-context-server"
	audience = "mcp-shared-context-server"
)

// Claims extends jwt.RegisteredClaims with the agent-identity fields the
// spec requires in every issued token, adapted from the teacher's
// CustomClaims (there built for an RSA-keyed service; here HMAC-signed
// from a single process-wide secret, since the spec calls for one
// environment-provided signing key rather than a generated keypair).
type Claims struct {
	jwt.RegisteredClaims
	AgentID     string   `json:"agent_id"`
	AgentType   string   `json:"agent_type"`
	Permissions []string `json:"permissions"`
}

// jwtService signs and verifies the JWTs wrapped inside each SecureToken.
type jwtService struct {
	secret []byte
}

func newJWTService(secret string) *jwtService {
	return &jwtService{secret: []byte(secret)}
}

func (s *jwtService) sign(agentID, agentType string, perms []Permission, ttl time.Duration) (string, string, error) {
	now := time.Now().UTC()
	jti := generateJTI()
	permStrs := make([]string, 0, len(perms))
	for _, p := range perms {
		permStrs = append(permStrs, string(p))
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
		AgentID:     agentID,
		AgentType:   agentType,
		Permissions: permStrs,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign token: %w", err)
	}
	return signed, jti, nil
}

func (s *jwtService) parse(signed string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithAudience(audience))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func generateJTI() string {
	return uuid.NewString()
}
