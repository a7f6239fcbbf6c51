package core_test

import (
	"context"
	"forecastica/internal/core"
	"forecastica/internal/session"
	"forecastica/internal/testutil"
	"forecastica/pkg/api"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadedEditor(t *testing.T, server *testutil.FakeServer) (*core.Editor, *session.Session) {
	server.JSON(http.MethodGet, "/current-data", http.StatusOK, `{"data":{"a":{"0":1,"1":null},"b":{"0":"x","1":"y"},"c":{"0":2.5,"1":3}}}`)

	sess := session.New()
	sess.SetSourceFile(context.Background(), "data.csv")

	editor := core.NewEditor(newClient(server), sess, 100)
	require.NoError(t, editor.Load(context.Background()))
	return editor, sess
}

func TestEditorLoad(t *testing.T) {
	server := testutil.NewFakeServer(t)
	editor, _ := loadedEditor(t, server)

	view := editor.View()
	assert.Equal(t, []string{"a", "b", "c"}, view.Columns)
	assert.Equal(t, 2, view.RowCount)
	require.Len(t, view.Rows, 2)
	v, ok := view.Rows[1].Get("b")
	require.True(t, ok)
	assert.Equal(t, "y", v)

	assert.Equal(t, []core.NullCount{
		{Column: "a", Count: 1, Attention: true},
		{Column: "b", Count: 0},
		{Column: "c", Count: 0},
	}, view.NullCounts)
}

func TestEditorRowsFollowIndexOrder(t *testing.T) {
	server := testutil.NewFakeServer(t)
	// Twelve rows with sorted string keys and a gap where a row was dropped.
	server.JSON(http.MethodGet, "/current-data", http.StatusOK, `{"data":{"id":{
		"0":"r0","1":"r1","10":"r10","11":"r11","12":"r12","2":"r2","3":"r3","5":"r5","6":"r6","7":"r7","8":"r8","9":"r9"
	}}}`)

	sess := session.New()
	editor := core.NewEditor(newClient(server), sess, 3)
	require.NoError(t, editor.Load(context.Background()))

	view := editor.View()
	assert.Equal(t, 12, view.RowCount)
	require.Len(t, view.Rows, 3)
	for i, want := range []string{"r0", "r1", "r2"} {
		v, _ := view.Rows[i].Get("id")
		assert.Equal(t, want, v)
	}
}

func TestEditorToggle(t *testing.T) {
	server := testutil.NewFakeServer(t)
	editor, _ := loadedEditor(t, server)

	require.NoError(t, editor.Toggle("b"))
	require.NoError(t, editor.Toggle("a"))
	assert.Equal(t, []string{"a", "b"}, editor.Selected())

	require.NoError(t, editor.Toggle("b"))
	require.NoError(t, editor.Toggle("b"))
	assert.Equal(t, []string{"a", "b"}, editor.Selected())

	require.NoError(t, editor.Toggle("a"))
	require.NoError(t, editor.Toggle("b"))
	assert.Empty(t, editor.Selected())

	assert.ErrorIs(t, editor.Toggle("missing"), core.ErrUnknownColumn)
}

func TestEditorRemoveColumns(t *testing.T) {
	server := testutil.NewFakeServer(t)
	editor, sess := loadedEditor(t, server)
	server.JSON(http.MethodPost, "/remove-columns", http.StatusOK, `{"data":{"a":[1,null],"c":[2.5,3]},"processed_file":"data_processed.csv"}`)

	assert.False(t, editor.View().RemoveColumnsEnabled)
	assert.ErrorIs(t, editor.RemoveSelected(context.Background()), core.ErrEmptySelection)
	assert.Zero(t, server.CallCount("/remove-columns"))

	require.NoError(t, editor.Toggle("b"))
	assert.True(t, editor.View().RemoveColumnsEnabled)
	require.NoError(t, editor.RemoveSelected(context.Background()))

	var req api.RemoveColumnsRequest
	server.LastBody(t, "/remove-columns", &req)
	assert.Equal(t, api.RemoveColumnsRequest{Columns: []string{"b"}, Filename: "data.csv"}, req)

	view := editor.View()
	assert.Equal(t, []string{"a", "c"}, view.Columns)
	assert.Empty(t, view.Selected)
	assert.False(t, view.RemoveColumnsEnabled)
	assert.Equal(t, "Columns removed successfully", view.Message)
	assert.Equal(t, "data_processed.csv", sess.CurrentFile())
}

func TestEditorRemoveColumnsFailureKeepsData(t *testing.T) {
	server := testutil.NewFakeServer(t)
	editor, _ := loadedEditor(t, server)
	server.JSON(http.MethodPost, "/remove-columns", http.StatusBadRequest, `{"error":"Column 'b' not found"}`)

	require.NoError(t, editor.Toggle("b"))
	require.Error(t, editor.RemoveSelected(context.Background()))

	view := editor.View()
	assert.Equal(t, []string{"a", "b", "c"}, view.Columns)
	assert.Equal(t, []string{"b"}, view.Selected)
	assert.Equal(t, "Column 'b' not found", view.Message)
	assert.False(t, view.Busy)
}

func TestEditorNullActions(t *testing.T) {
	server := testutil.NewFakeServer(t)
	editor, _ := loadedEditor(t, server)
	server.JSON(http.MethodPost, "/handle-nulls", http.StatusOK, `{"data":{"a":[1,1],"b":["x","y"],"c":[2.5,3]},"message":"Nulls filled"}`)

	view := editor.View()
	assert.False(t, view.FillModeEnabled)
	assert.True(t, view.FillMeanEnabled)
	assert.True(t, view.RemoveRowsEnabled)

	assert.ErrorIs(t, editor.ApplyNullAction(context.Background(), api.NullFillMode), core.ErrEmptySelection)
	assert.Zero(t, server.CallCount("/handle-nulls"))

	require.NoError(t, editor.ApplyNullAction(context.Background(), api.NullFillMean))
	var req api.HandleNullsRequest
	server.LastBody(t, "/handle-nulls", &req)
	assert.Empty(t, req.Columns)
	assert.Equal(t, api.NullFillMean, req.Action)

	require.NoError(t, editor.Toggle("a"))
	require.NoError(t, editor.ApplyNullAction(context.Background(), api.NullFillMode))
	server.LastBody(t, "/handle-nulls", &req)
	assert.Equal(t, api.HandleNullsRequest{Columns: []string{"a"}, Action: api.NullFillMode, Filename: "data.csv"}, req)

	view = editor.View()
	assert.Equal(t, []string{"a"}, view.Selected)
	assert.Equal(t, "Nulls filled", view.Message)

	assert.Error(t, editor.ApplyNullAction(context.Background(), api.NullAction("median")))
}

func TestEditorLoadFailure(t *testing.T) {
	server := testutil.NewFakeServer(t)
	server.JSON(http.MethodGet, "/current-data", http.StatusBadRequest, `{"error":"No data available"}`)

	editor := core.NewEditor(newClient(server), session.New(), 100)
	require.Error(t, editor.Load(context.Background()))

	view := editor.View()
	assert.Equal(t, "No data available", view.Message)
	assert.Empty(t, view.Columns)
	assert.False(t, view.FillMeanEnabled)
}
