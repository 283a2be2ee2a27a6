package listsync

import (
	"fmt"
	"sync"
	"time"
)

// Row is one rendered item of a list or grid.
type Row struct {
	ID     string
	Markup string
}

// ListView models the on-screen list a client binding acts on: an
// ordered set of rows plus a bound "empty" placeholder that is shown
// when the last row disappears. All methods are safe for concurrent
// use; removal reveals the placeholder only after the configured fade
// delay, matching the visual transition of the original UI.
type ListView struct {
	mu           sync.Mutex
	rows         []Row
	emptyVisible bool
	fade         time.Duration
	location     string

	// OnUpdated is invoked after every applied outcome with the
	// action type that was dispatched.
	OnUpdated func(ActionType)
}

// NewListView creates an empty view; the placeholder starts visible.
func NewListView(fade time.Duration) *ListView {
	return &ListView{emptyVisible: true, fade: fade}
}

// Rows returns a snapshot of the current rows in display order.
func (v *ListView) Rows() []Row {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Row, len(v.rows))
	copy(out, v.rows)
	return out
}

// EmptyVisible reports whether the empty placeholder is shown.
func (v *ListView) EmptyVisible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.emptyVisible
}

// Location returns the target recorded by a redirect outcome, if any.
func (v *ListView) Location() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.location
}

// Apply performs the single mutation the outcome denotes against the
// target row and emits the updated signal. Failed outcomes must be
// handled by the caller before reaching Apply.
func (v *ListView) Apply(out *Outcome, targetID string) error {
	if !out.Status {
		return fmt.Errorf("cannot apply failed outcome")
	}

	v.mu.Lock()
	switch out.Action {
	case ActionAppend:
		id := out.ElementID
		if id == "" {
			id = targetID
		}
		v.rows = append(v.rows, Row{ID: id, Markup: out.Content})
		v.emptyVisible = false
	case ActionReplace:
		found := false
		for i := range v.rows {
			if v.rows[i].ID == targetID {
				v.rows[i].Markup = out.Content
				if out.ElementID != "" {
					v.rows[i].ID = out.ElementID
				}
				found = true
				break
			}
		}
		if !found {
			v.mu.Unlock()
			return fmt.Errorf("no row %q to replace", targetID)
		}
	case ActionRemove:
		idx := -1
		for i := range v.rows {
			if v.rows[i].ID == targetID {
				idx = i
				break
			}
		}
		if idx < 0 {
			v.mu.Unlock()
			return fmt.Errorf("no row %q to remove", targetID)
		}
		v.rows = append(v.rows[:idx], v.rows[idx+1:]...)
		if len(v.rows) == 0 {
			// Reveal the placeholder once the fade transition has
			// run, never synchronously with the removal.
			if v.fade > 0 {
				time.AfterFunc(v.fade, func() {
					v.mu.Lock()
					if len(v.rows) == 0 {
						v.emptyVisible = true
					}
					v.mu.Unlock()
				})
			} else {
				v.emptyVisible = true
			}
		}
	case ActionNothing:
		// No DOM change.
	case ActionRedirect:
		v.location = out.Content
	}
	updated := v.OnUpdated
	v.mu.Unlock()

	if updated != nil {
		updated(out.Action)
	}
	return nil
}
