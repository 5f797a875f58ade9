package identity

import (
	"context"
	"time"

	"github.com/shared-context/mcp-server/internal/apierr"
	"github.com/shared-context/mcp-server/internal/storage"
)

// tokenRow mirrors the secure_tokens table.
type tokenRow struct {
	TokenID      string    `db:"token_id"`
	EncryptedJWT string    `db:"encrypted_jwt"`
	AgentID      string    `db:"agent_id"`
	ExpiresAt    time.Time `db:"expires_at"`
	CreatedAt    time.Time `db:"created_at"`
}

type tokenStore struct {
	backend *storage.Backend
}

func newTokenStore(backend *storage.Backend) *tokenStore {
	return &tokenStore{backend: backend}
}

func (s *tokenStore) insert(ctx context.Context, row tokenRow) error {
	_, err := s.backend.Execute(ctx, `
		INSERT INTO secure_tokens (token_id, encrypted_jwt, agent_id, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		row.TokenID, row.EncryptedJWT, row.AgentID, row.ExpiresAt, row.CreatedAt)
	return err
}

func (s *tokenStore) get(ctx context.Context, tokenID string) (*tokenRow, error) {
	var row tokenRow
	err := s.backend.Get(ctx, &row, `
		SELECT token_id, encrypted_jwt, agent_id, expires_at, created_at
		FROM secure_tokens WHERE token_id = ?`, tokenID)
	if err != nil {
		if apiErr, ok := apierr.As(err); ok && apiErr.Code == apierr.NotFound {
			return nil, apierr.New(apierr.Unauthenticated, "unknown token")
		}
		return nil, err
	}
	return &row, nil
}

func (s *tokenStore) delete(ctx context.Context, tokenID string) error {
	_, err := s.backend.Execute(ctx, `DELETE FROM secure_tokens WHERE token_id = ?`, tokenID)
	return err
}

func (s *tokenStore) sweepExpired(ctx context.Context) (int64, error) {
	return s.backend.Execute(ctx, `DELETE FROM secure_tokens WHERE expires_at < ?`, storage.Now())
}
