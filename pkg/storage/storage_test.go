package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseKV runs the behaviour every backend must share.
func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, err := kv.Get(ctx, "analytics_events")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "analytics_events", []byte(`[{"id":"evt_1"}]`)))
	got, err := kv.Get(ctx, "analytics_events")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"evt_1"}]`, string(got))

	require.NoError(t, kv.Set(ctx, "analytics_events", []byte(`[]`)))
	got, err = kv.Get(ctx, "analytics_events")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got))

	require.NoError(t, kv.Delete(ctx, "analytics_events"))
	require.NoError(t, kv.Delete(ctx, "analytics_events"))
	_, err = kv.Get(ctx, "analytics_events")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, kv.Set(ctx, "", []byte("x")))
	assert.Error(t, kv.Set(ctx, "../escape", []byte("x")))
}

func TestMemoryKV(t *testing.T) {
	kv := NewMemoryKV()
	exerciseKV(t, kv)

	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, kv.Set(ctx, "k", buf))
	buf[0] = 'z'
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestFileSystemKV(t *testing.T) {
	root := filepath.Join(t.TempDir(), "profile")
	kv, err := NewFileSystemKV(root)
	require.NoError(t, err)
	exerciseKV(t, kv)

	require.NoError(t, kv.Set(context.Background(), "cookie-consent", []byte(`{"analytics":true}`)))
	data, err := os.ReadFile(filepath.Join(root, "cookie-consent.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"analytics":true}`, string(data))
	assert.Equal(t, root, kv.Root())
}

func TestFileSystemKV_CancelledContext(t *testing.T) {
	kv, err := NewFileSystemKV(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, kv.Set(ctx, "k", []byte("v")), context.Canceled)
}

func TestRedisKV(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Type = TypeRedis
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.RedisKeyPrefix = "agent-a:"

	kv, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer kv.Close()

	exerciseKV(t, kv)

	require.NoError(t, kv.Set(context.Background(), "cookie-consent", []byte("{}")))
	assert.True(t, mr.Exists("agent-a:cookie-consent"))
	require.NoError(t, kv.(HealthChecker).Ping(context.Background()))
}

func TestRedisKV_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisKV(context.Background(), Config{Type: TypeRedis, RedisURL: "redis://" + addr})
	assert.Error(t, err)
}

func TestSQLKV_SQLite(t *testing.T) {
	cfg := Config{Type: TypeSQLite, SQLDSN: ":memory:"}
	kv, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer kv.Close()

	exerciseKV(t, kv)
}

func TestSQLKV_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	kv := NewSQLKV(db, TypePostgres)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT entry_value FROM glimpse_kv WHERE entry_key = $1`)).
		WithArgs("analytics_sessions").
		WillReturnRows(sqlmock.NewRows([]string{"entry_value"}).AddRow([]byte(`[]`)))
	mock.ExpectExec(regexp.QuoteMeta(`VALUES ($1, $2, $3)`)).
		WithArgs("analytics_sessions", []byte(`[1]`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM glimpse_kv WHERE entry_key = $1`)).
		WithArgs("analytics_sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	got, err := kv.Get(ctx, "analytics_sessions")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got))
	require.NoError(t, kv.Set(ctx, "analytics_sessions", []byte(`[1]`)))
	require.NoError(t, kv.Delete(ctx, "analytics_sessions"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLKV_Errors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	kv := NewSQLKV(db, TypeSQLite)
	ctx := context.Background()

	mock.ExpectQuery("SELECT entry_value").WillReturnRows(sqlmock.NewRows([]string{"entry_value"}))
	_, err = kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectExec("INSERT INTO glimpse_kv").WillReturnError(errors.New("disk full"))
	err = kv.Set(ctx, "analytics_events", []byte(`[]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS glimpse_kv").WillReturnError(errors.New("read-only"))
	assert.Error(t, kv.Migrate(ctx))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Type: TypeMemory}, false},
		{"default", DefaultConfig(), false},
		{"filesystem without root", Config{Type: TypeFilesystem}, true},
		{"redis without url", Config{Type: TypeRedis}, true},
		{"postgres without dsn", Config{Type: TypePostgres}, true},
		{"unknown", Config{Type: "localStorage"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
