package listsync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionTypeWireNames(t *testing.T) {
	for action, name := range actionNames {
		b, err := json.Marshal(action)
		require.NoError(t, err)
		assert.Equal(t, `"`+name+`"`, string(b))

		parsed, err := ParseActionType(name)
		require.NoError(t, err)
		assert.Equal(t, action, parsed)
	}
}

func TestUnknownActionRejected(t *testing.T) {
	_, err := ParseActionType("explode")
	assert.Error(t, err)

	var out Outcome
	err = json.Unmarshal([]byte(`{"status":true,"action":"explode"}`), &out)
	assert.Error(t, err, "an undeclared action never decodes")

	err = json.Unmarshal([]byte(`{"status":true,"postActions":["runScript"]}`), &out)
	assert.Error(t, err, "an undeclared post action never decodes")
}

func TestViewAppendHidesPlaceholder(t *testing.T) {
	v := NewListView(0)
	assert.True(t, v.EmptyVisible(), "a fresh view shows the placeholder")

	err := v.Apply(&Outcome{Status: true, Action: ActionAppend, ElementID: "12", Content: "<row/>"}, "")
	require.NoError(t, err)

	assert.False(t, v.EmptyVisible())
	rows := v.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "12", rows[0].ID)
}

func TestViewReplace(t *testing.T) {
	v := NewListView(0)
	require.NoError(t, v.Apply(&Outcome{Status: true, Action: ActionAppend, ElementID: "12", Content: "old"}, ""))

	err := v.Apply(&Outcome{Status: true, Action: ActionReplace, Content: "new"}, "12")
	require.NoError(t, err)
	assert.Equal(t, "new", v.Rows()[0].Markup)

	err = v.Apply(&Outcome{Status: true, Action: ActionReplace, Content: "x"}, "99")
	assert.Error(t, err, "replacing a missing row is reported")
}

func TestViewRemoveLastRowRevealsPlaceholderAfterFade(t *testing.T) {
	fade := 20 * time.Millisecond
	v := NewListView(fade)
	require.NoError(t, v.Apply(&Outcome{Status: true, Action: ActionAppend, ElementID: "12"}, ""))

	require.NoError(t, v.Apply(&Outcome{Status: true, Action: ActionRemove}, "12"))

	assert.Empty(t, v.Rows())
	assert.False(t, v.EmptyVisible(), "placeholder waits for the fade transition")

	assert.Eventually(t, v.EmptyVisible, 500*time.Millisecond, 5*time.Millisecond)
}

func TestViewRemoveWithSiblingsKeepsPlaceholderHidden(t *testing.T) {
	v := NewListView(0)
	require.NoError(t, v.Apply(&Outcome{Status: true, Action: ActionAppend, ElementID: "1"}, ""))
	require.NoError(t, v.Apply(&Outcome{Status: true, Action: ActionAppend, ElementID: "2"}, ""))

	require.NoError(t, v.Apply(&Outcome{Status: true, Action: ActionRemove}, "1"))

	assert.False(t, v.EmptyVisible())
	require.Len(t, v.Rows(), 1)
	assert.Equal(t, "2", v.Rows()[0].ID)
}

func TestViewRedirectAndUpdatedSignal(t *testing.T) {
	v := NewListView(0)
	var seen []ActionType
	v.OnUpdated = func(a ActionType) { seen = append(seen, a) }

	require.NoError(t, v.Apply(&Outcome{Status: true, Action: ActionRedirect, Content: "/login"}, ""))
	require.NoError(t, v.Apply(&Outcome{Status: true, Action: ActionNothing}, ""))

	assert.Equal(t, "/login", v.Location())
	assert.Equal(t, []ActionType{ActionRedirect, ActionNothing}, seen)
}

func TestViewRejectsFailedOutcome(t *testing.T) {
	v := NewListView(0)
	err := v.Apply(&Outcome{Status: false, Content: "nope"}, "12")
	assert.Error(t, err)
}
