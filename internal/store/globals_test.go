package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/taskdog/internal/model"
)

func TestGlobalStore_ValuesKeepTheirTypes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Globals.Upsert(ctx, "NAME", "prod", false))
	require.NoError(t, st.Globals.Upsert(ctx, "RETRIES", float64(3), false))
	require.NoError(t, st.Globals.Upsert(ctx, "ENABLED", true, false))
	require.NoError(t, st.Globals.Upsert(ctx, "LIMITS", map[string]interface{}{"max": float64(5)}, false))
	require.NoError(t, st.Globals.Upsert(ctx, "TAGS", []interface{}{"a", "b"}, false))

	kv, err := st.Globals.KV(ctx)
	require.NoError(t, err)
	assert.Equal(t, "prod", kv["NAME"])
	assert.Equal(t, float64(3), kv["RETRIES"])
	assert.Equal(t, true, kv["ENABLED"])
	assert.Equal(t, map[string]interface{}{"max": float64(5)}, kv["LIMITS"])
	assert.Equal(t, []interface{}{"a", "b"}, kv["TAGS"])
}

func TestGlobalStore_UpsertOverwrites(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Globals.Upsert(ctx, "KEY", "v1", false))
	require.NoError(t, st.Globals.Upsert(ctx, "KEY", "v2", true))

	globals, err := st.Globals.All(ctx)
	require.NoError(t, err)
	require.Len(t, globals, 1)
	assert.Equal(t, "v2", globals[0].Value)
	assert.True(t, globals[0].Secret)
}

func TestGlobalStore_Replace(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Globals.Upsert(ctx, "OLD", "x", false))
	require.NoError(t, st.Globals.Replace(ctx, []model.GlobalVariable{
		{Key: "A", Value: "1"},
		{Key: "B", Value: float64(2), Secret: true},
	}))

	kv, err := st.Globals.KV(ctx)
	require.NoError(t, err)
	assert.Len(t, kv, 2)
	assert.NotContains(t, kv, "OLD")
	assert.Equal(t, "1", kv["A"])
}

func TestGlobalStore_Delete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Globals.Upsert(ctx, "KEY", "v", false))
	require.NoError(t, st.Globals.Delete(ctx, "KEY"))
	// Deleting an absent key is not an error.
	require.NoError(t, st.Globals.Delete(ctx, "KEY"))

	kv, err := st.Globals.KV(ctx)
	require.NoError(t, err)
	assert.Empty(t, kv)
}
