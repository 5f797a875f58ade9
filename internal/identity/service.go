package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shared-context/mcp-server/internal/apierr"
	"github.com/shared-context/mcp-server/internal/storage"
)

const tokenPrefix = "sctok_"

// Service issues, validates, refreshes, and revokes agent tokens. It
// owns the process-wide signing secret and AEAD key, both loaded once at
// startup; their absence is fatal (enforced by config.Load).
type Service struct {
	jwt      *jwtService
	envelope *envelope
	store    *tokenStore
}

// Config carries the secrets and backend Service needs.
type Config struct {
	SigningSecret string
	EncryptionKey []byte
	Backend       *storage.Backend
}

// New builds a Service. EncryptionKey must be exactly 32 bytes.
func New(cfg Config) (*Service, error) {
	env, err := newEnvelope(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	return &Service{
		jwt:      newJWTService(cfg.SigningSecret),
		envelope: env,
		store:    newTokenStore(cfg.Backend),
	}, nil
}

// IssuedToken is returned from Issue and Refresh.
type IssuedToken struct {
	TokenID        string
	PlaintextToken string
	ExpiresAt      time.Time
}

// Issue creates a new SecureToken for agentID and returns the opaque
// client-facing token.
func (s *Service) Issue(ctx context.Context, agentID, agentType string, perms []Permission, ttl time.Duration) (*IssuedToken, error) {
	if agentID == "" {
		return nil, apierr.New(apierr.ValidationError, "agent_id is required").WithDetail("agent_id", "required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	signed, jti, err := s.jwt.sign(agentID, agentType, perms, ttl)
	if err != nil {
		return nil, apierr.New(apierr.Internal, "failed to sign token").WithCause(err)
	}

	encrypted, err := s.envelope.seal(signed)
	if err != nil {
		return nil, apierr.New(apierr.Internal, "failed to encrypt token").WithCause(err)
	}

	now := storage.Now()
	expiresAt := now.Add(ttl)
	tokenID := jti

	if err := s.store.insert(ctx, tokenRow{
		TokenID:      tokenID,
		EncryptedJWT: encrypted,
		AgentID:      agentID,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
	}); err != nil {
		return nil, apierr.New(apierr.Internal, "failed to persist token").WithCause(err)
	}

	return &IssuedToken{
		TokenID:        tokenID,
		PlaintextToken: tokenPrefix + tokenID,
		ExpiresAt:      expiresAt,
	}, nil
}

// Validate resolves a client-presented token into an Identity, or a
// structured Unauthenticated error.
func (s *Service) Validate(ctx context.Context, clientToken string) (Identity, error) {
	tokenID, ok := parseClientToken(clientToken)
	if !ok {
		return Identity{}, apierr.New(apierr.Unauthenticated, "malformed token")
	}

	row, err := s.store.get(ctx, tokenID)
	if err != nil {
		return Identity{}, err
	}

	if storage.Now().After(row.ExpiresAt) {
		_ = s.store.delete(ctx, tokenID)
		return Identity{}, apierr.New(apierr.Unauthenticated, "token expired")
	}

	signed, err := s.envelope.open(row.EncryptedJWT)
	if err != nil {
		return Identity{}, apierr.New(apierr.Unauthenticated, "token could not be decrypted").WithCause(err)
	}

	claims, err := s.jwt.parse(signed)
	if err != nil {
		return Identity{}, apierr.New(apierr.Unauthenticated, "token signature invalid").WithCause(err)
	}

	return claimsToIdentity(claims), nil
}

// Refresh rotates a valid, refresh_token-capable token to a fresh one,
// atomically replacing the stored record so the old token fails
// validation the instant refresh completes.
func (s *Service) Refresh(ctx context.Context, clientToken string) (*IssuedToken, error) {
	tokenID, ok := parseClientToken(clientToken)
	if !ok {
		return nil, apierr.New(apierr.Unauthenticated, "malformed token")
	}

	row, err := s.store.get(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if storage.Now().After(row.ExpiresAt) {
		return nil, apierr.New(apierr.Unauthenticated, "token expired")
	}

	signed, err := s.envelope.open(row.EncryptedJWT)
	if err != nil {
		return nil, apierr.New(apierr.Unauthenticated, "token could not be decrypted").WithCause(err)
	}
	claims, err := s.jwt.parse(signed)
	if err != nil {
		return nil, apierr.New(apierr.Unauthenticated, "token signature invalid").WithCause(err)
	}

	id := claimsToIdentity(claims)
	if !id.Has(PermRefreshToken) {
		return nil, apierr.New(apierr.PermissionDenied, "token lacks refresh_token permission")
	}

	ttl := time.Until(row.ExpiresAt)
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	perms := make([]Permission, 0, len(claims.Permissions))
	for _, p := range claims.Permissions {
		perms = append(perms, Permission(p))
	}

	issued, err := s.Issue(ctx, id.AgentID, id.AgentType, perms, ttl)
	if err != nil {
		return nil, err
	}

	if err := s.store.delete(ctx, tokenID); err != nil {
		return nil, apierr.New(apierr.Internal, "failed to revoke previous token").WithCause(err)
	}

	return issued, nil
}

// Revoke deletes a token by its id; subsequent Validate calls fail.
func (s *Service) Revoke(ctx context.Context, tokenID string) error {
	return s.store.delete(ctx, tokenID)
}

// SweepExpired deletes every token row past expiry; called by the
// background cron job every 60s.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.sweepExpired(ctx)
}

func claimsToIdentity(claims *Claims) Identity {
	perms := make(map[Permission]bool, len(claims.Permissions))
	for _, p := range claims.Permissions {
		perms[Permission(p)] = true
	}
	return Identity{
		AgentID:     claims.AgentID,
		AgentType:   claims.AgentType,
		Permissions: perms,
	}
}

func parseClientToken(token string) (string, bool) {
	if !strings.HasPrefix(token, tokenPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(token, tokenPrefix)
	if len(id) == 0 {
		return "", false
	}
	return id, true
}

// GenerateSecret creates a cryptographically random secret suitable for
// JWT_SECRET_KEY, for the generate-keys CLI subcommand.
func GenerateSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
