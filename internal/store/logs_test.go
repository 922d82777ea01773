package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/taskdog/internal/model"
)

func appendEntry(t *testing.T, st *Store, typ model.LogType, taskID *int64, createdAt time.Time) int64 {
	t.Helper()
	id, err := st.Logs.Append(context.Background(), &model.LogEntry{
		Type:      typ,
		Message:   "entry",
		TaskID:    taskID,
		CreatedAt: createdAt,
	})
	require.NoError(t, err)
	return id
}

func TestLogStore_AppendAndList(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	taskID := int64(3)
	scriptID := int64(5)
	details, _ := json.Marshal(map[string]int{"exit_code": 0})
	id, err := st.Logs.Append(ctx, &model.LogEntry{
		Type:      model.LogTypeSuccess,
		Message:   "Script completed",
		TaskID:    &taskID,
		ScriptID:  &scriptID,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	entries, err := st.Logs.List(ctx, LogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.LogTypeSuccess, entries[0].Type)
	require.NotNil(t, entries[0].TaskID)
	assert.Equal(t, taskID, *entries[0].TaskID)
	assert.JSONEq(t, `{"exit_code":0}`, string(entries[0].Details))
}

func TestLogStore_Filters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task1, task2 := int64(1), int64(2)
	appendEntry(t, st, model.LogTypeInfo, &task1, now)
	appendEntry(t, st, model.LogTypeError, &task1, now)
	appendEntry(t, st, model.LogTypeInfo, &task2, now)

	byTask, err := st.Logs.List(ctx, LogFilter{TaskID: &task1})
	require.NoError(t, err)
	assert.Len(t, byTask, 2)

	byType, err := st.Logs.List(ctx, LogFilter{Type: model.LogTypeError})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, task1, *byType[0].TaskID)

	limited, err := st.Logs.List(ctx, LogFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLogStore_NewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := appendEntry(t, st, model.LogTypeInfo, nil, now)
	second := appendEntry(t, st, model.LogTypeInfo, nil, now)

	entries, err := st.Logs.List(ctx, LogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second, entries[0].ID)
	assert.Equal(t, first, entries[1].ID)
}

func TestLogStore_DeleteBefore(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	appendEntry(t, st, model.LogTypeInfo, nil, now.AddDate(0, 0, -40))
	appendEntry(t, st, model.LogTypeInfo, nil, now.AddDate(0, 0, -10))
	appendEntry(t, st, model.LogTypeInfo, nil, now)

	deleted, err := st.Logs.DeleteBefore(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	entries, err := st.Logs.List(ctx, LogFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
