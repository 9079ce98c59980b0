package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/swasthya-ai/sahayak/config"
	"github.com/swasthya-ai/sahayak/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	store, err := NewStoreWithDB(db, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// --- LogInteraction ---

func TestStore_LogInteraction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := types.InteractionRecord{
		QueryID:     "q-1",
		SessionID:   "s-1",
		Identifier:  "919876543210",
		QueryText:   "बुखार का इलाज",
		AnswerText:  "answer text",
		Language:    types.LangHindi,
		Channel:     types.ChannelWhatsApp,
		AgentPath:   true,
		Emergency:   false,
		ReasonCodes: []string{"long_query", "has_history"},
		Elapsed:     0.42,
	}
	require.NoError(t, store.LogInteraction(ctx, rec))

	var row Interaction
	require.NoError(t, store.db.First(&row, "query_id = ?", "q-1").Error)
	assert.Equal(t, "s-1", row.SessionID)
	assert.Equal(t, "hi", row.Language)
	assert.Equal(t, "whatsapp", row.Channel)
	assert.True(t, row.AgentPath)
	assert.Equal(t, "long_query,has_history", row.ReasonCodes)
	assert.False(t, row.CreatedAt.IsZero(), "zero CreatedAt is filled on insert")
}

// --- RecentHistory ---

func TestStore_RecentHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, q := range []string{"first question", "second question", "third question"} {
		require.NoError(t, store.LogInteraction(ctx, types.InteractionRecord{
			QueryID:   "q",
			SessionID: "session-a",
			QueryText: q,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	// 其他会话的记录不应串入
	require.NoError(t, store.LogInteraction(ctx, types.InteractionRecord{
		SessionID: "session-b",
		QueryText: "unrelated",
		CreatedAt: base,
	}))

	history, err := store.RecentHistory(ctx, "session-a", 2)
	require.NoError(t, err)
	// 最近 2 条，按时间正序返回
	assert.Equal(t, []string{"second question", "third question"}, history)

	all, err := store.RecentHistory(ctx, "session-a", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"first question", "second question", "third question"}, all)
}

func TestStore_RecentHistoryEmptyArgs(t *testing.T) {
	store := newTestStore(t)

	history, err := store.RecentHistory(context.Background(), "", 5)
	require.NoError(t, err)
	assert.Nil(t, history)

	history, err = store.RecentHistory(context.Background(), "session-a", 0)
	require.NoError(t, err)
	assert.Nil(t, history)
}

// --- NearestFacilities ---

func TestStore_NearestFacilities(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	facilities := []Facility{
		{Name: "Khurda PHC", Kind: "phc", District: "Khurda", Address: "Block road", Phone: "06755-123456"},
		{Name: "Khurda CHC", Kind: "chc", District: "Khurda", Address: "Main road", Phone: "06755-654321"},
		{Name: "Cuttack DH", Kind: "district_hospital", District: "Cuttack", Address: "Hospital road", Phone: "0671-111222"},
	}
	require.NoError(t, store.db.Create(&facilities).Error)

	got, err := store.NearestFacilities(ctx, "Khurda", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, f := range got {
		assert.Equal(t, "Khurda", f.District)
	}

	// 未知地区不回落到其他地区的机构
	got, err = store.NearestFacilities(ctx, "Unknown", 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	// 地区为空时返回任意机构，limit 默认 3
	got, err = store.NearestFacilities(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

// --- Open ---

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mysql"}, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestOpen_SqliteFile(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         dir + "/test.db",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.LogInteraction(context.Background(), types.InteractionRecord{
		QueryID:   "q-file",
		QueryText: "persisted to disk",
	}))
}
