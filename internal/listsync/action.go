// Package listsync applies server-declared outcome descriptors to an
// in-memory list/grid view, mirroring the browser-side update protocol
// of the editorial UI: a mutating request returns an action descriptor
// and the client performs exactly the list mutation it denotes.
package listsync

import (
	"encoding/json"
	"fmt"
)

// ActionType is the closed set of list mutations a server outcome can
// request. Unknown values are rejected at decode time.
type ActionType int

const (
	ActionNothing ActionType = iota
	ActionAppend
	ActionReplace
	ActionRemove
	ActionRedirect
)

var actionNames = map[ActionType]string{
	ActionNothing:  "nothing",
	ActionAppend:   "append",
	ActionReplace:  "replace",
	ActionRemove:   "remove",
	ActionRedirect: "redirect",
}

// ParseActionType maps a wire string to its ActionType.
func ParseActionType(s string) (ActionType, error) {
	for t, name := range actionNames {
		if name == s {
			return t, nil
		}
	}
	return ActionNothing, fmt.Errorf("unknown action type %q", s)
}

func (t ActionType) String() string {
	if name, ok := actionNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ActionType(%d)", int(t))
}

// MarshalJSON encodes the action as its wire string.
func (t ActionType) MarshalJSON() ([]byte, error) {
	name, ok := actionNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown action type %d", int(t))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a wire string, rejecting unknown values.
func (t *ActionType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseActionType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// PostAction is the closed set of follow-up instructions a success
// outcome may carry. It replaces the legacy executable-script channel:
// the server can only name a declared behavior, never ship code.
type PostAction int

const (
	PostCloseModal PostAction = iota
	PostFocusElement
	PostRefreshGrid
)

var postActionNames = map[PostAction]string{
	PostCloseModal:   "closeModal",
	PostFocusElement: "focusElement",
	PostRefreshGrid:  "refreshGrid",
}

func (p PostAction) String() string {
	if name, ok := postActionNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PostAction(%d)", int(p))
}

// MarshalJSON encodes the post action as its wire string.
func (p PostAction) MarshalJSON() ([]byte, error) {
	name, ok := postActionNames[p]
	if !ok {
		return nil, fmt.Errorf("unknown post action %d", int(p))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a wire string, rejecting unknown values.
func (p *PostAction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for pa, name := range postActionNames {
		if name == s {
			*p = pa
			return nil
		}
	}
	return fmt.Errorf("unknown post action %q", s)
}
