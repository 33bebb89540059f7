package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/artshare/internal/config"
	"github.com/prn-tf/artshare/internal/lock"
	"github.com/prn-tf/artshare/internal/service"
)

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body += fmt.Sprintf("storage:\n  data_dir: %s\n", filepath.Join(dir, "images"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func register(t *testing.T, app *App, name string) string {
	t.Helper()
	u, err := app.Users.Register(context.Background(), service.RegisterInput{
		Username: name,
		Email:    name + "@example.com",
		Password: "password1",
	})
	require.NoError(t, err)
	return u.ID
}

func TestNew_Memory(t *testing.T) {
	cfg := loadConfig(t, "database:\n  driver: memory\n")
	app, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, "1", register(t, app, "alice"))
	assert.IsType(t, &lock.MemoryLocker{}, app.Locker)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	require.NoError(t, app.Close())
	assert.Error(t, app.Gateway.Ready(context.Background()))
}

func TestNew_SQLiteSurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "artshare.db")
	cfg := loadConfig(t, fmt.Sprintf("database:\n  driver: sqlite\n  path: %s\nmetrics:\n  enabled: false\n", dbPath))
	ctx := context.Background()

	app, err := New(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "1", register(t, app, "alice"))
	version, err := app.Store.Version(ctx)
	require.NoError(t, err)
	assert.Positive(t, version)
	require.NoError(t, app.Close())

	// The memory cache lost the id counters; reconciliation restores them.
	app, err = New(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer app.Close()

	alice, err := app.Users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "1", alice.ID)
	assert.Equal(t, "2", register(t, app, "bob"))
}

func TestNew_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadConfig(t, fmt.Sprintf(`
database:
  driver: memory
redis:
  enabled: true
  host: %s
  port: %s
cache:
  backend: redis
lock:
  backend: redis
`, mr.Host(), mr.Port()))

	app, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer app.Close()

	assert.IsType(t, &lock.RedisLocker{}, app.Locker)
	register(t, app, "alice")
	assert.NotEmpty(t, mr.Keys())
}

func TestNew_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadConfig(t, fmt.Sprintf(`
database:
  driver: memory
redis:
  enabled: true
  host: %s
  port: %s
cache:
  backend: redis
`, mr.Host(), mr.Port()))
	mr.Close()

	app, err := New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
	assert.Nil(t, app)
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)

	logPath := filepath.Join(t.TempDir(), "artshare.log")
	logger, err := NewLogger(config.LoggingConfig{Level: "info", Format: "json", Output: logPath})
	require.NoError(t, err)
	logger.Info().Msg("hello")
	logger.Debug().Msg("hidden")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.NotContains(t, string(data), "hidden")
}
