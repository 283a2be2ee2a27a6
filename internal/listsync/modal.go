package listsync

import (
	"context"
	"net/url"
	"sync"
)

// FormField is one input of a modal form. Static fields survive the
// transient-field reset on close.
type FormField struct {
	Name     string
	Value    string
	Required bool
	Static   bool
}

// Modal models the dialog lifecycle companioning the sync protocol:
// open fetches a remote fragment, submit validates client-side and
// posts the form, close resets validation state and clears transient
// inputs. Each modal scopes its own validation state; nothing is
// shared process-wide.
type Modal struct {
	client    *Client
	fetchPath string

	mu          sync.Mutex
	open        bool
	content     string
	fields      []FormField
	fieldErrors map[string]string

	// OnSubmitSuccessful and OnSubmitFailed fire after a submission
	// round trip resolves; exactly one of them per attempt that
	// reached the server.
	OnSubmitSuccessful func()
	OnSubmitFailed     func()
}

// NewModal creates a modal that loads its fragment from fetchPath.
func NewModal(client *Client, fetchPath string, fields []FormField) *Modal {
	return &Modal{
		client:      client,
		fetchPath:   fetchPath,
		fields:      fields,
		fieldErrors: make(map[string]string),
	}
}

// Open fetches the remote fragment and populates the dialog; a failed
// outcome populates the dialog with the error markup instead.
func (m *Modal) Open(ctx context.Context) error {
	out, err := m.client.Fetch(ctx, "GET", m.fetchPath, nil)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.open = true
	m.content = out.Content
	m.mu.Unlock()
	return nil
}

// IsOpen reports whether the dialog is shown.
func (m *Modal) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Content returns the currently displayed fragment or error markup.
func (m *Modal) Content() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content
}

// SetField sets the value of a named form field.
func (m *Modal) SetField(name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.fields {
		if m.fields[i].Name == name {
			m.fields[i].Value = value
			return
		}
	}
	m.fields = append(m.fields, FormField{Name: name, Value: value})
}

// FieldErrors returns the current client-side validation errors by
// field name.
func (m *Modal) FieldErrors() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.fieldErrors))
	for k, v := range m.fieldErrors {
		out[k] = v
	}
	return out
}

// validate runs the client-side required-field check and records any
// errors. Returns true when the form may be posted.
func (m *Modal) validate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fieldErrors = make(map[string]string)
	for _, f := range m.fields {
		if f.Required && f.Value == "" {
			m.fieldErrors[f.Name] = "this field is required"
		}
	}
	return len(m.fieldErrors) == 0
}

// Submit validates the form client-side, posts it and applies the
// outcome contract through the given binding. An invalid form never
// reaches the server. A failed outcome re-renders the dialog with the
// returned error markup and fires the submit-failed signal.
func (m *Modal) Submit(ctx context.Context, b *Binding, submitPath string) error {
	if !m.validate() {
		return nil
	}

	form := url.Values{}
	m.mu.Lock()
	for _, f := range m.fields {
		form.Set(f.Name, f.Value)
	}
	m.mu.Unlock()

	out, err := m.client.Post(ctx, b, submitPath, form)
	if err != nil {
		if _, failed := err.(*OutcomeError); failed && out != nil {
			m.mu.Lock()
			m.content = out.Content
			m.mu.Unlock()
			if m.OnSubmitFailed != nil {
				m.OnSubmitFailed()
			}
			return nil
		}
		return err
	}

	if out.HasPostAction(PostCloseModal) {
		m.Close()
	}
	if m.OnSubmitSuccessful != nil {
		m.OnSubmitSuccessful()
	}
	return nil
}

// Close dismisses the dialog, resets validation state and clears all
// transient field values; static fields keep theirs.
func (m *Modal) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	m.fieldErrors = make(map[string]string)
	for i := range m.fields {
		if !m.fields[i].Static {
			m.fields[i].Value = ""
		}
	}
}
