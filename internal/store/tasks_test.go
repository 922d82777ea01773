package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/taskdog/internal/model"
)

func TestTaskStore_CreateAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task, err := st.Tasks.Create(ctx, &model.Task{
		Name:           "nightly backup",
		ScriptIDs:      []int64{1, 2},
		CronExpression: "0 2 * * *",
		ScriptParams:   map[int64]model.Params{1: {"target": "/srv"}},
		Group:          "maintenance",
	})
	require.NoError(t, err)
	require.NotZero(t, task.ID)
	// Tasks default to inactive until explicitly started.
	assert.Equal(t, model.TaskStatusInactive, task.Status)

	loaded, err := st.Tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "nightly backup", loaded.Name)
	assert.Equal(t, []int64{1, 2}, loaded.ScriptIDs)
	assert.Equal(t, "0 2 * * *", loaded.CronExpression)
	assert.Equal(t, "maintenance", loaded.Group)
	require.Contains(t, loaded.ScriptParams, int64(1))
	assert.Equal(t, "/srv", loaded.ScriptParams[1]["target"])
	assert.Nil(t, loaded.LastRun)
}

func TestTaskStore_GetMissing(t *testing.T) {
	st := newTestStore(t)

	task, err := st.Tasks.Get(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestTaskStore_ListByStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Tasks.Create(ctx, &model.Task{Name: "a", CronExpression: "* * * * *", Status: model.TaskStatusActive})
	require.NoError(t, err)
	_, err = st.Tasks.Create(ctx, &model.Task{Name: "b", CronExpression: "* * * * *"})
	require.NoError(t, err)

	all, err := st.Tasks.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := st.Tasks.List(ctx, model.TaskStatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].Name)
}

func TestTaskStore_PatchLeavesOtherFieldsAlone(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task, err := st.Tasks.Create(ctx, &model.Task{
		Name:           "patchme",
		ScriptIDs:      []int64{7},
		CronExpression: "0 0 * * *",
		Group:          "g1",
	})
	require.NoError(t, err)

	status := model.TaskStatusActive
	lastRun := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.Tasks.Patch(ctx, task.ID, TaskPatch{Status: &status, LastRun: &lastRun}))

	loaded, err := st.Tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusActive, loaded.Status)
	require.NotNil(t, loaded.LastRun)
	assert.Equal(t, lastRun.Unix(), loaded.LastRun.Unix())

	// Untouched fields survive the partial update.
	assert.Equal(t, "patchme", loaded.Name)
	assert.Equal(t, []int64{7}, loaded.ScriptIDs)
	assert.Equal(t, "g1", loaded.Group)
}

func TestTaskStore_PatchMissing(t *testing.T) {
	st := newTestStore(t)

	name := "ghost"
	err := st.Tasks.Patch(context.Background(), 404, TaskPatch{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskStore_Delete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task, err := st.Tasks.Create(ctx, &model.Task{Name: "gone", CronExpression: "* * * * *"})
	require.NoError(t, err)

	require.NoError(t, st.Tasks.Delete(ctx, task.ID))
	loaded, err := st.Tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	assert.ErrorIs(t, st.Tasks.Delete(ctx, task.ID), ErrNotFound)
}
