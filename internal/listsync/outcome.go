package listsync

import (
	"encoding/json"
	"fmt"
	"io"
)

// Outcome is the server's structured instruction to the client about
// which list mutation to perform. On failure only Status and Content
// are meaningful; Content then carries human-readable error markup.
type Outcome struct {
	Status      bool         `json:"status"`
	Content     string       `json:"content"`
	Action      ActionType   `json:"action,omitempty"`
	ElementID   string       `json:"elementId,omitempty"`
	PostActions []PostAction `json:"postActions,omitempty"`
}

// DecodeOutcome reads a JSON outcome from r, rejecting unknown action
// or post-action values.
func DecodeOutcome(r io.Reader) (*Outcome, error) {
	var out Outcome
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode outcome: %w", err)
	}
	return &out, nil
}

// HasPostAction reports whether the outcome carries the given
// follow-up instruction.
func (o *Outcome) HasPostAction(p PostAction) bool {
	for _, pa := range o.PostActions {
		if pa == p {
			return true
		}
	}
	return false
}
