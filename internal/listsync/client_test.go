package listsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcomeHandler(out Outcome) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func TestClientAppliesOutcomeToView(t *testing.T) {
	srv := httptest.NewServer(outcomeHandler(Outcome{
		Status: true, Content: "dataChanged:5", Action: ActionAppend, ElementID: "5",
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	view := NewListView(0)
	b := client.Bind("", view)

	out, err := client.Post(context.Background(), b, "/review-forms/update", nil)
	require.NoError(t, err)
	assert.True(t, out.Status)

	rows := view.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "5", rows[0].ID)
	assert.False(t, b.Busy(), "binding returns to idle after the round trip")
	assert.False(t, b.ThrobberVisible())
}

func TestClientFailedOutcome(t *testing.T) {
	srv := httptest.NewServer(outcomeHandler(Outcome{Status: false, Content: "review form is in use"}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	view := NewListView(0)
	b := client.Bind("3", view)

	out, err := client.Post(context.Background(), b, "/review-forms/delete", nil)

	var ferr *OutcomeError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "review form is in use", ferr.Content)
	require.NotNil(t, out)
	assert.False(t, out.Status)
	assert.Empty(t, view.Rows(), "a failed outcome never mutates the view")
}

func TestClientSignalOrdering(t *testing.T) {
	srv := httptest.NewServer(outcomeHandler(Outcome{Status: true, Action: ActionNothing}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	var events []string
	client.OnActionStart = func(target string) { events = append(events, "start:"+target) }
	client.OnActionStop = func(target string) { events = append(events, "stop:"+target) }

	b := client.Bind("7", NewListView(0))
	_, err := client.Get(context.Background(), b, "/review-forms")
	require.NoError(t, err)

	assert.Equal(t, []string{"start:7", "stop:7"}, events)
}

func TestClientDiscardsStaleResponse(t *testing.T) {
	inFlight := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(inFlight)
		<-release
		json.NewEncoder(w).Encode(Outcome{Status: true, Action: ActionRemove})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	view := NewListView(0)
	require.NoError(t, view.Apply(&Outcome{Status: true, Action: ActionAppend, ElementID: "3"}, ""))
	b := client.Bind("3", view)

	done := make(chan error, 1)
	go func() {
		_, err := client.Post(context.Background(), b, "/review-forms/delete", nil)
		done <- err
	}()

	// Rebinding while the request is in flight renews the generation
	// token; the response that eventually arrives must be dropped.
	<-inFlight
	b.Rebind("9")
	close(release)

	err := <-done
	require.ErrorIs(t, err, ErrStale)
	assert.Len(t, view.Rows(), 1, "stale remove never reaches the view")
	assert.False(t, b.Busy())
}

func TestModalRequiredFieldBlocksSubmit(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		json.NewEncoder(w).Encode(Outcome{Status: true})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	modal := NewModal(client, "/review-forms/create", []FormField{
		{Name: "title", Required: true},
	})
	b := client.Bind("", nil)

	require.NoError(t, modal.Submit(context.Background(), b, "/review-forms/update"))

	assert.Equal(t, int32(0), atomic.LoadInt32(&requests), "invalid form never reaches the server")
	assert.Equal(t, map[string]string{"title": "this field is required"}, modal.FieldErrors())

	modal.SetField("title", "Standard Review")
	require.NoError(t, modal.Submit(context.Background(), b, "/review-forms/update"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
	assert.Empty(t, modal.FieldErrors())
}

func TestModalFailedSubmissionRerenders(t *testing.T) {
	srv := httptest.NewServer(outcomeHandler(Outcome{Status: false, Content: "<div class=\"error\">title: required for locale en_US</div>"}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	modal := NewModal(client, "/review-forms/create", []FormField{{Name: "title"}})
	modal.SetField("title", "x")

	var failed, succeeded bool
	modal.OnSubmitFailed = func() { failed = true }
	modal.OnSubmitSuccessful = func() { succeeded = true }

	b := client.Bind("", nil)
	require.NoError(t, modal.Submit(context.Background(), b, "/review-forms/update"))

	assert.True(t, failed)
	assert.False(t, succeeded)
	assert.Contains(t, modal.Content(), "required for locale")
}

func TestModalLifecycle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/review-forms/create", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Outcome{Status: true, Content: "<form/>"})
	})
	mux.HandleFunc("/review-forms/update", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "Standard Review", r.PostFormValue("title"))
		json.NewEncoder(w).Encode(Outcome{
			Status: true, Action: ActionAppend, ElementID: "5",
			PostActions: []PostAction{PostCloseModal, PostRefreshGrid},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	modal := NewModal(client, "/review-forms/create", []FormField{
		{Name: "csrf", Value: "tok", Static: true},
		{Name: "title", Required: true},
	})

	require.NoError(t, modal.Open(context.Background()))
	assert.True(t, modal.IsOpen())
	assert.Equal(t, "<form/>", modal.Content())

	var succeeded bool
	modal.OnSubmitSuccessful = func() { succeeded = true }

	modal.SetField("title", "Standard Review")
	view := NewListView(0)
	b := client.Bind("", view)
	require.NoError(t, modal.Submit(context.Background(), b, "/review-forms/update"))

	assert.True(t, succeeded)
	assert.False(t, modal.IsOpen(), "close-modal post action dismisses the dialog")
	assert.Len(t, view.Rows(), 1)

	// Transient values reset on close; static fields survive.
	require.NoError(t, modal.Open(context.Background()))
	found := map[string]string{}
	for _, f := range modalFields(modal) {
		found[f.Name] = f.Value
	}
	assert.Equal(t, "tok", found["csrf"])
	assert.Equal(t, "", found["title"])
}

func modalFields(m *Modal) []FormField {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FormField, len(m.fields))
	copy(out, m.fields)
	return out
}

func TestFetchWithoutBinding(t *testing.T) {
	srv := httptest.NewServer(outcomeHandler(Outcome{Status: true, Content: "<fragment/>"}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	out, err := client.Fetch(context.Background(), http.MethodGet, "/review-forms/basics", nil)
	require.NoError(t, err)
	assert.Equal(t, "<fragment/>", out.Content)
}

func TestClientNetworkError(t *testing.T) {
	srv := httptest.NewServer(outcomeHandler(Outcome{Status: true}))
	srv.Close()

	client := NewClient(srv.URL, nil)
	b := client.Bind("", NewListView(0))
	_, err := client.Get(context.Background(), b, "/review-forms")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrStale))
	assert.False(t, b.Busy(), "binding recovers to idle on transport failure")
}
