package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/kvref/internal/cachestores"
	"github.com/zalando/go-keyring"
)

func TestDoctorCommandHealthy(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t, fmt.Sprintf(`version: 0
credential: local
credentials:
  local:
    type: cli
cache:
  store: shared
  prefix: "kv:"
  ttl: 30m
stores:
  shared:
    type: redis
    addr: %s
`, mr.Addr()))

	out, err := runCommand(t, NewDoctorCommand(cfg))
	require.NoError(t, err)
	assert.Contains(t, out, "credential local")
	assert.Contains(t, out, "(default)")
	assert.Contains(t, out, "cache shared")
	assert.Contains(t, out, `prefix "kv:", ttl 30m0s`)
	assert.Contains(t, out, "Summary: 2/2 checks passed")
}

func TestDoctorCommandCacheDisabled(t *testing.T) {
	cfg := testConfig(t, `version: 0
credential: local
credentials:
  local:
    type: cli
cache:
  enabled: false
`)

	out, err := runCommand(t, NewDoctorCommand(cfg))
	require.NoError(t, err)
	assert.Contains(t, out, "external cache disabled")
	assert.Contains(t, out, "Summary: 2/2 checks passed")
}

func TestDoctorCommandFailures(t *testing.T) {
	keyring.MockInit()
	cfg := testConfig(t, `version: 0
credential: local
credentials:
  local:
    type: cli
  app:
    type: client_secret
    tenant_id: 00000000-0000-0000-0000-000000000000
    client_id: 11111111-1111-1111-1111-111111111111
    keyring_service: kvref
cache:
  store: shared
stores:
  shared:
    type: redis
    addr: 127.0.0.1:1
    timeout_ms: 200
`)

	out, err := runCommand(t, NewDoctorCommand(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 check(s) failed")
	assert.Contains(t, out, "credential app")
	assert.Contains(t, out, "no keyring entry")
	assert.Contains(t, out, "Summary: 1/3 checks passed")
}

func TestDisplayHealthResults(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	displayHealthResults(&buf, []CheckResult{
		{Name: "credential a", Type: "cli", Status: statusHealthy, Message: "credential ready"},
		{Name: "cache", Type: "-", Status: statusSkipped, Message: "external cache disabled"},
		{Name: "https://v.vault.azure.net", Type: "vault", Status: statusError, Message: "forbidden"},
	})

	out := buf.String()
	assert.Contains(t, out, "✓ healthy")
	assert.Contains(t, out, "- skipped")
	assert.Contains(t, out, "✗ error")
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "first", describe(errors.New("first\nsecond")))
}

func TestMaintainStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := cachestores.NewSQLStoreFromDB(db, cachestores.DialectPostgres, "")
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM kvref_cache WHERE expiration > 0 AND expiration <= $1")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	note, err := maintainStore(ctx, store, false)
	require.NoError(t, err)
	assert.Empty(t, note)

	note, err = maintainStore(ctx, store, true)
	require.NoError(t, err)
	assert.Equal(t, ", purged 4 expired entries", note)
	assert.NoError(t, mock.ExpectationsWereMet())

	note, err = maintainStore(ctx, cachestores.NewMemoryStore(0), true)
	require.NoError(t, err)
	assert.Equal(t, ", nothing to purge", note)
}
