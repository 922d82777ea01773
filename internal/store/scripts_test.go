package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/taskdog/internal/model"
)

func TestScriptStore_CRUD(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	script, err := st.Scripts.Create(ctx, &model.Script{
		Name:          "daily report",
		Description:   "renders the daily report",
		Language:      model.LanguagePython,
		FilePath:      "daily_report.py",
		DefaultParams: model.Params{"format": "pdf"},
		Group:         "reports",
	})
	require.NoError(t, err)
	require.NotZero(t, script.ID)

	loaded, err := st.Scripts.Get(ctx, script.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "daily report", loaded.Name)
	assert.Equal(t, model.LanguagePython, loaded.Language)
	assert.Equal(t, "pdf", loaded.DefaultParams["format"])
	assert.Equal(t, "reports", loaded.Group)

	loaded.Name = "weekly report"
	loaded.DefaultParams = model.Params{"format": "html"}
	require.NoError(t, st.Scripts.Update(ctx, loaded))

	updated, err := st.Scripts.Get(ctx, script.ID)
	require.NoError(t, err)
	assert.Equal(t, "weekly report", updated.Name)
	assert.Equal(t, "html", updated.DefaultParams["format"])

	scripts, err := st.Scripts.List(ctx)
	require.NoError(t, err)
	assert.Len(t, scripts, 1)

	require.NoError(t, st.Scripts.Delete(ctx, script.ID))
	gone, err := st.Scripts.Get(ctx, script.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestScriptStore_MissingRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	script, err := st.Scripts.Get(ctx, 404)
	require.NoError(t, err)
	assert.Nil(t, script)

	assert.ErrorIs(t, st.Scripts.Update(ctx, &model.Script{ID: 404, Name: "x", Language: model.LanguageShell, FilePath: "x.sh"}), ErrNotFound)
	assert.ErrorIs(t, st.Scripts.Delete(ctx, 404), ErrNotFound)
}
