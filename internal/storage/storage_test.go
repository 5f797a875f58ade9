package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shared-context/mcp-server/internal/apierr"
)

func TestExecuteAndQuery(t *testing.T) {
	backend := OpenTest(t)
	ctx := context.Background()

	affected, err := backend.Execute(ctx, `
		INSERT INTO sessions (id, purpose, created_by, created_at, updated_at, is_active, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"session_0000000000000001", "test purpose", "agent-a", Now(), Now(), true, "{}")
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	var purpose string
	err = backend.Get(ctx, &purpose, `SELECT purpose FROM sessions WHERE id = ?`, "session_0000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "test purpose", purpose)
}

func TestInsertReturnsAutoIncrementID(t *testing.T) {
	backend := OpenTest(t)
	ctx := context.Background()

	_, err := backend.Execute(ctx, `
		INSERT INTO sessions (id, purpose, created_by, created_at, updated_at, is_active, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"session_0000000000000002", "p", "agent-a", Now(), Now(), true, "{}")
	require.NoError(t, err)

	id, err := backend.Insert(ctx, `
		INSERT INTO messages (session_id, sender, content, visibility, message_type, metadata, timestamp, parent_message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		"session_0000000000000002", "agent-a", "hello", "public", "text", "{}", Now(), nil)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	id2, err := backend.Insert(ctx, `
		INSERT INTO messages (session_id, sender, content, visibility, message_type, metadata, timestamp, parent_message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		"session_0000000000000002", "agent-a", "world", "public", "text", "{}", Now(), nil)
	require.NoError(t, err)
	assert.Greater(t, id2, id, "successive inserts must get strictly increasing ids")
}

func TestTransactionRollsBackOnError(t *testing.T) {
	backend := OpenTest(t)
	ctx := context.Background()

	err := backend.Transaction(ctx, func(c Conn) error {
		_, execErr := c.ExecContext(ctx, backend.rebind(`
			INSERT INTO sessions (id, purpose, created_by, created_at, updated_at, is_active, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			"session_0000000000000003", "p", "agent-a", Now(), Now(), true, "{}")
		if execErr != nil {
			return execErr
		}
		return assert.AnError
	})
	require.Error(t, err)

	var count int
	require.NoError(t, backend.Get(ctx, &count, `SELECT COUNT(*) FROM sessions WHERE id = ?`, "session_0000000000000003"))
	assert.Equal(t, 0, count, "a rolled-back transaction must leave no trace")
}

func TestTransactionCommitsOnSuccess(t *testing.T) {
	backend := OpenTest(t)
	ctx := context.Background()

	err := backend.Transaction(ctx, func(c Conn) error {
		_, execErr := c.ExecContext(ctx, backend.rebind(`
			INSERT INTO sessions (id, purpose, created_by, created_at, updated_at, is_active, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			"session_0000000000000004", "p", "agent-a", Now(), Now(), true, "{}")
		return execErr
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, backend.Get(ctx, &count, `SELECT COUNT(*) FROM sessions WHERE id = ?`, "session_0000000000000004"))
	assert.Equal(t, 1, count)
}

func TestGetNotFoundTranslatesToApierr(t *testing.T) {
	backend := OpenTest(t)
	ctx := context.Background()

	var purpose string
	err := backend.Get(ctx, &purpose, `SELECT purpose FROM sessions WHERE id = ?`, "session_does_not_exist")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.NotFound, apiErr.Code)
}

func TestDriverReportsSQLite(t *testing.T) {
	backend := OpenTest(t)
	assert.Equal(t, DriverSQLite, backend.Driver())
}

func TestFormatAndParseTimeRoundtrip(t *testing.T) {
	now := Now()
	formatted := FormatTime(now)
	parsed, err := ParseTime(formatted)
	require.NoError(t, err)
	assert.WithinDuration(t, now, parsed, 0)
}
