package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-contacts/internal/config"
	"github.com/tbourn/go-contacts/internal/domain"
	httpapi "github.com/tbourn/go-contacts/internal/http"
	"github.com/tbourn/go-contacts/internal/repo"
)

type noGenerator struct{}

func (noGenerator) Generate(context.Context, int) ([]domain.Contact, error) {
	return nil, fmt.Errorf("generator disabled in tests")
}

// startStore serves the real contacts API over an in-memory database.
func startStore(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := repo.OpenSQLite(fmt.Sprintf("file:clientdb_%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))

	r := gin.New()
	httpapi.RegisterRoutes(r, db, noGenerator{}, config.Config{
		APIBasePath:    "/",
		RateRPS:        1000,
		RateBurst:      1000,
		IdempotencyTTL: time.Hour,
		RandomMaxCount: 100,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func unreachableURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()
	return url
}

func setupEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_PRETTY", "false")
	t.Setenv("CONTACTS_PROBE_INTERVAL", "1s")
	t.Setenv("CONTACTS_DRAIN_DELAY", "0s")
	return filepath.Join(t.TempDir(), "state.db")
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(args, strings.NewReader(stdin), &out)
	return out.String(), err
}

var idPattern = regexp.MustCompile(`\[([^\]]+)\]`)

func createdID(t *testing.T, out string) string {
	t.Helper()
	m := idPattern.FindStringSubmatch(out)
	require.Len(t, m, 2, "no id in %q", out)
	return m[1]
}

func TestRun_OfflineAddThenSync(t *testing.T) {
	state := setupEnv(t)
	offline := unreachableURL(t)
	srv := startStore(t)

	out, err := runCLI(t, "", "-api", offline, "-state", state, "add", "-first", "Ada", "-last", "Lovelace", "-email", "ada@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "offline, will sync")
	assert.Contains(t, createdID(t, out), "local_")

	out, err = runCLI(t, "", "-api", offline, "-state", state, "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "CREATE")
	assert.Contains(t, out, "Ada Lovelace")

	out, err = runCLI(t, "", "-api", srv.URL, "-state", state, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 1, 0 still queued")

	out, err = runCLI(t, "", "-api", srv.URL, "-state", state, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ada@example.com")
	assert.NotContains(t, out, "pending")
	assert.NotContains(t, out, "local_")
}

func TestRun_SyncWhileOfflineKeepsQueue(t *testing.T) {
	state := setupEnv(t)
	offline := unreachableURL(t)

	_, err := runCLI(t, "", "-api", offline, "-state", state, "add", "-first", "Ada", "-email", "ada@example.com")
	require.NoError(t, err)

	_, err = runCLI(t, "", "-api", offline, "-state", state, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 changes stay queued")
}

func TestRun_ChangeWhileOnlineReplaysEarlierQueue(t *testing.T) {
	state := setupEnv(t)
	offline := unreachableURL(t)
	srv := startStore(t)

	out, err := runCLI(t, "", "-api", offline, "-state", state, "add", "-first", "Ada", "-email", "ada@example.com")
	require.NoError(t, err)
	local := createdID(t, out)

	out, err = runCLI(t, "", "-api", srv.URL, "-state", state, "fav", local)
	require.NoError(t, err)
	assert.Contains(t, out, "added to favorites")
	assert.NotContains(t, out, "offline")
	assert.NotContains(t, createdID(t, out), "local_")

	out, err = runCLI(t, "", "-api", srv.URL, "-state", state, "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing queued")
}

func TestRun_OnlineEditFavoriteAndRemove(t *testing.T) {
	state := setupEnv(t)
	srv := startStore(t)
	base := []string{"-api", srv.URL, "-state", state}

	out, err := runCLI(t, "", append(base, "add", "-first", "Grace", "-email", "grace@example.com")...)
	require.NoError(t, err)
	assert.NotContains(t, out, "offline")
	id := createdID(t, out)

	out, err = runCLI(t, "", append(base, "update", id, "-phone", "555-0100")...)
	require.NoError(t, err)
	assert.Contains(t, out, "updated Grace")

	out, err = runCLI(t, "", append(base, "fav", id)...)
	require.NoError(t, err)
	assert.Contains(t, out, "added to favorites")

	out, err = runCLI(t, "", append(base, "show", id)...)
	require.NoError(t, err)
	assert.Contains(t, out, "555-0100")
	assert.Contains(t, out, "favorite")

	out, err = runCLI(t, "n\n", append(base, "rm", id)...)
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")

	out, err = runCLI(t, "yes\n", append(base, "rm", id)...)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted "+id)

	out, err = runCLI(t, "", append(base, "list")...)
	require.NoError(t, err)
	assert.Contains(t, out, "no contacts")
}

func TestRun_RandomNeedsStore(t *testing.T) {
	state := setupEnv(t)
	_, err := runCLI(t, "", "-api", unreachableURL(t), "-state", state, "random", "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "online")
}

func TestRun_UsageErrors(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "")
	require.Error(t, err)
	assert.Contains(t, out, "usage:")

	out, err = runCLI(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)

	_, err = runCLI(t, "", "-state", filepath.Join(t.TempDir(), "s.db"), "-api", unreachableURL(t), "frobnicate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestJoinNonEmpty(t *testing.T) {
	assert.Equal(t, "Oslo, 0150", joinNonEmpty(", ", "Oslo", "", "0150"))
	assert.Equal(t, "", joinNonEmpty(", ", "", ""))
}
