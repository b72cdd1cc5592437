package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/order"
	"storefront/internal/reconcile"
	"storefront/internal/store"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "storefront", cmd.Use)
	assert.Contains(t, cmd.Long, "Barion")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "migrate", "replay"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "", configFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestReplayFlags(t *testing.T) {
	cmd := NewRootCommand()
	replay, _, err := cmd.Find([]string{"replay"})
	require.NoError(t, err)

	limit := replay.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "0", limit.DefValue)
	require.NotNil(t, replay.Flags().Lookup("json"))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad", errors.New("x"))))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", WrapExitError(ExitCommandError, "bad", nil))))
}

func TestWriteReport(t *testing.T) {
	report := reconcile.ReplayReport{Attempted: 3, Succeeded: 2, Failed: 1}

	var text bytes.Buffer
	require.NoError(t, writeReport(&text, report, false))
	assert.Equal(t, "attempted: 3\nsucceeded: 2\nfailed:    1\n", text.String())

	var js bytes.Buffer
	require.NoError(t, writeReport(&js, report, true))
	assert.JSONEq(t, `{"attempted":3,"succeeded":2,"failed":1}`, js.String())
}

// isolate clears environment overrides and writes a config pointing at a
// throwaway SQLite database.
func isolate(t *testing.T, extra string) (configPath, dbPath string) {
	t.Helper()
	for _, k := range []string{
		"LISTEN_ADDR", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_DRIVER", "DATABASE_URL",
		"REDIS_ADDR", "REDIS_PASSWORD", "CASSANDRA_HOSTS", "CASSANDRA_KEYSPACE",
		"BARION_BASE_URL", "BARION_POS_KEY", "BARION_PAYEE",
		"PACKETA_API_KEY", "PACKETA_API_PASSWORD",
		"FOXPOST_USERNAME", "FOXPOST_PASSWORD", "FOXPOST_API_KEY",
		"RESEND_API_KEY", "RESEND_FROM", "PAYMENT_MODE",
		"BARION_CALLBACK_URL", "BARION_REDIRECT_URL", "CORS_ALLOWED_ORIGINS",
		"RATE_LIMIT_REQUESTS", "WEBHOOK_LOCK_TTL",
	} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "storefront.db")
	configPath = filepath.Join(dir, "storefront.yaml")
	body := fmt.Sprintf("log:\n  level: error\ndatabase:\n  driver: sqlite\n  url: %s\n%s", dbPath, extra)
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o600))
	return configPath, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateCreatesSchema(t *testing.T) {
	configPath, dbPath := isolate(t, "")

	_, err := execute(t, "migrate", "--config", configPath)
	require.NoError(t, err)
	_, err = execute(t, "migrate", "--config", configPath)
	require.NoError(t, err)

	s, err := store.Open(context.Background(), store.DriverSQLite, dbPath, store.Options{})
	require.NoError(t, err)
	defer s.Close()
	n, err := s.CountShipments(context.Background(), "none")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMigrateRejectsBadConfig(t *testing.T) {
	configPath, _ := isolate(t, "checkout:\n  payment_mode: cash\n")

	_, err := execute(t, "migrate", "--config", configPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayRequiresBarion(t *testing.T) {
	configPath, _ := isolate(t, "")

	_, err := execute(t, "replay", "--config", configPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "POS key")
}

func TestReplayReportsFailures(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"Errors":[{"ErrorCode":"InternalServerError"}]}`, http.StatusInternalServerError)
	}))
	defer gateway.Close()

	configPath, dbPath := isolate(t, fmt.Sprintf("barion:\n  pos_key: test-key\n  base_url: %s\n", gateway.URL))

	_, err := execute(t, "migrate", "--config", configPath)
	require.NoError(t, err)

	s, err := store.Open(context.Background(), store.DriverSQLite, dbPath, store.Options{})
	require.NoError(t, err)
	_, _, err = s.ClaimWebhookEvent(context.Background(), order.WebhookEvent{
		EventID:   reconcile.EventID("barion", "PAY123"),
		Provider:  "barion",
		EventType: reconcile.EventTypePaymentStatusChanged,
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	out, err := execute(t, "replay", "--config", configPath, "--json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.JSONEq(t, `{"attempted":1,"succeeded":0,"failed":1}`, out)
}

func TestReplayNothingPending(t *testing.T) {
	gateway := httptest.NewServer(http.NotFoundHandler())
	defer gateway.Close()
	configPath, _ := isolate(t, fmt.Sprintf("barion:\n  pos_key: test-key\n  base_url: %s\n", gateway.URL))

	out, err := execute(t, "replay", "--config", configPath)
	require.NoError(t, err)
	assert.Equal(t, "attempted: 0\nsucceeded: 0\nfailed:    0\n", out)
}
