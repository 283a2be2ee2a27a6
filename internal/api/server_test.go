package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpress/reviewforms/internal/config"
	"github.com/openpress/reviewforms/internal/database"
	"github.com/openpress/reviewforms/internal/listsync"
	"github.com/openpress/reviewforms/internal/registry"
)

type testServer struct {
	server    *Server
	contextID int64
	token     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	require.NoError(t, database.Migrate(ctx, db, "sqlite3"))

	contextID, err := registry.NewStore(db).CreateContext(ctx, "journal", "Test Journal", "en_US")
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Server.Port = 0
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.TokenTTLMinutes = 5
	cfg.Locale.Primary = "en_US"
	cfg.RateLimit.PerSecond = 1000
	cfg.RateLimit.Burst = 1000

	server := NewServer(cfg, db)

	token, err := server.Tokens().Issue(42, map[string]string{
		strconv.FormatInt(contextID, 10): "manager",
	})
	require.NoError(t, err)

	return &testServer{server: server, contextID: contextID, token: token}
}

func (ts *testServer) path(suffix string) string {
	return fmt.Sprintf("/api/v1/contexts/%d/%s", ts.contextID, suffix)
}

func (ts *testServer) do(t *testing.T, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Authorization", "Bearer "+ts.token)

	rec := httptest.NewRecorder()
	ts.server.Echo().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) outcome(t *testing.T, rec *httptest.ResponseRecorder) *listsync.Outcome {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out, err := listsync.DecodeOutcome(rec.Body)
	require.NoError(t, err)
	return out
}

func (ts *testServer) createForm(t *testing.T, title string) int64 {
	t.Helper()
	rec := ts.do(t, http.MethodPost, ts.path("review-forms/update"), url.Values{"title": {title}})
	out := ts.outcome(t, rec)
	require.True(t, out.Status, out.Content)
	id, err := strconv.ParseInt(out.ElementID, 10, 64)
	require.NoError(t, err)
	return id
}

func (ts *testServer) listForms(t *testing.T) []*registry.ReviewForm {
	t.Helper()
	rec := ts.do(t, http.MethodGet, ts.path("review-forms"), nil)
	out := ts.outcome(t, rec)
	require.True(t, out.Status)

	var forms []*registry.ReviewForm
	require.NoError(t, json.Unmarshal([]byte(out.Content), &forms))
	return forms
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, ts.path("review-forms"), nil)
	rec := httptest.NewRecorder()
	ts.server.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, ts.path("review-forms"), nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	ts.server.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestManagerRoleRequired(t *testing.T) {
	ts := newTestServer(t)

	// A reviewer token for the same context must not reach the grid.
	token, err := ts.server.Tokens().Issue(7, map[string]string{
		strconv.FormatInt(ts.contextID, 10): "reviewer",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, ts.path("review-forms"), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.server.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSiteAdminWildcard(t *testing.T) {
	ts := newTestServer(t)

	token, err := ts.server.Tokens().Issue(1, map[string]string{"*": "siteAdmin"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, ts.path("review-forms"), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.server.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownContextRejected(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/contexts/9999/review-forms", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAndListReviewForms(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, ts.path("review-forms/update"), url.Values{"title": {"Standard Review"}})
	out := ts.outcome(t, rec)
	require.True(t, out.Status)
	assert.Equal(t, listsync.ActionAppend, out.Action)
	assert.True(t, out.HasPostAction(listsync.PostCloseModal))
	assert.True(t, out.HasPostAction(listsync.PostRefreshGrid))
	assert.True(t, strings.HasPrefix(out.Content, "dataChanged:"), out.Content)

	forms := ts.listForms(t)
	require.Len(t, forms, 1)
	assert.Equal(t, "Standard Review", forms[0].Title.Get("en_US"))
	assert.Equal(t, int64(1), forms[0].Sequence)
	assert.False(t, forms[0].Active)
}

func TestCreateValidationFailure(t *testing.T) {
	ts := newTestServer(t)

	// A missing title fails validation but still travels as a
	// {status:false} envelope, not an HTTP error.
	rec := ts.do(t, http.MethodPost, ts.path("review-forms/update"), url.Values{"description": {"no title"}})
	out := ts.outcome(t, rec)
	assert.False(t, out.Status)
	assert.Contains(t, out.Content, "title")
}

func TestCopyReviewForm(t *testing.T) {
	ts := newTestServer(t)

	sourceID := ts.createForm(t, "Original")

	rec := ts.do(t, http.MethodPost, ts.path("review-forms/elements/create"), url.Values{
		"reviewFormId": {strconv.FormatInt(sourceID, 10)},
		"elementType":  {"textarea"},
	})
	out := ts.outcome(t, rec)
	require.True(t, out.Status, out.Content)

	rec = ts.do(t, http.MethodPost, ts.path("review-forms/activate"), url.Values{
		"reviewFormKey": {strconv.FormatInt(sourceID, 10)},
	})
	require.True(t, ts.outcome(t, rec).Status)

	rec = ts.do(t, http.MethodPost, ts.path("review-forms/copy"), url.Values{
		"rowId": {strconv.FormatInt(sourceID, 10)},
	})
	out = ts.outcome(t, rec)
	require.True(t, out.Status, out.Content)
	assert.Equal(t, listsync.ActionAppend, out.Action)

	forms := ts.listForms(t)
	require.Len(t, forms, 2)
	assert.True(t, forms[0].Active)
	assert.False(t, forms[1].Active, "copy arrives inactive")
	assert.Equal(t, "Original", forms[1].Title.Get("en_US"))
	assert.Equal(t, int64(2), forms[1].Sequence)

	rec = ts.do(t, http.MethodGet, ts.path("review-forms/elements")+"?reviewFormId="+out.ElementID, nil)
	elemOut := ts.outcome(t, rec)
	require.True(t, elemOut.Status)
	var elements []*registry.ReviewFormElement
	require.NoError(t, json.Unmarshal([]byte(elemOut.Content), &elements))
	assert.Len(t, elements, 1)
}

func TestActivateIdempotent(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createForm(t, "A")
	key := url.Values{"reviewFormKey": {strconv.FormatInt(id, 10)}}

	out := ts.outcome(t, ts.do(t, http.MethodPost, ts.path("review-forms/activate"), key))
	assert.True(t, out.Status)
	assert.Equal(t, listsync.ActionReplace, out.Action)

	out = ts.outcome(t, ts.do(t, http.MethodPost, ts.path("review-forms/activate"), key))
	assert.False(t, out.Status, "re-activating an active form reports no change")

	out = ts.outcome(t, ts.do(t, http.MethodPost, ts.path("review-forms/deactivate"), key))
	assert.True(t, out.Status)
}

func TestDeleteReviewForm(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createForm(t, "A")

	out := ts.outcome(t, ts.do(t, http.MethodPost, ts.path("review-forms/delete"), url.Values{
		"rowId": {strconv.FormatInt(id, 10)},
	}))
	require.True(t, out.Status, out.Content)
	assert.Equal(t, listsync.ActionRemove, out.Action)

	assert.Empty(t, ts.listForms(t))
}

func TestDeleteInUseForm(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createForm(t, "A")

	_, err := ts.server.registry.Store().CreateAssignment(context.Background(), ts.contextID, &id, true, true)
	require.NoError(t, err)

	out := ts.outcome(t, ts.do(t, http.MethodPost, ts.path("review-forms/delete"), url.Values{
		"rowId": {strconv.FormatInt(id, 10)},
	}))
	assert.False(t, out.Status)
	assert.Contains(t, out.Content, "in use")

	require.Len(t, ts.listForms(t), 1)
}

func TestSaveSequence(t *testing.T) {
	ts := newTestServer(t)

	ts.createForm(t, "A")
	ts.createForm(t, "B")
	idC := ts.createForm(t, "C")

	out := ts.outcome(t, ts.do(t, http.MethodPost, ts.path("review-forms/sequence"), url.Values{
		"rowId":       {strconv.FormatInt(idC, 10)},
		"newSequence": {"0"},
	}))
	require.True(t, out.Status, out.Content)
	assert.True(t, out.HasPostAction(listsync.PostRefreshGrid))

	forms := ts.listForms(t)
	require.Len(t, forms, 3)
	assert.Equal(t, "C", forms[0].Title.Get("en_US"))
	assert.Equal(t, int64(1), forms[0].Sequence)
	assert.Equal(t, "A", forms[1].Title.Get("en_US"))
}

func TestFetchRowAndBasics(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createForm(t, "A")

	out := ts.outcome(t, ts.do(t, http.MethodGet, ts.path("review-form")+"?rowId="+strconv.FormatInt(id, 10), nil))
	require.True(t, out.Status)
	var form registry.ReviewForm
	require.NoError(t, json.Unmarshal([]byte(out.Content), &form))
	assert.Equal(t, id, form.ID)

	out = ts.outcome(t, ts.do(t, http.MethodGet, ts.path("review-forms/basics")+"?reviewFormId="+strconv.FormatInt(id, 10), nil))
	require.True(t, out.Status)
	var basics map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out.Content), &basics))
	assert.Equal(t, true, basics["canEdit"])
}

func TestFetchRowMissingForm(t *testing.T) {
	ts := newTestServer(t)

	out := ts.outcome(t, ts.do(t, http.MethodGet, ts.path("review-form")+"?rowId=123", nil))
	assert.False(t, out.Status)
	assert.Contains(t, out.Content, "not found")
}

func TestElementEndpoints(t *testing.T) {
	ts := newTestServer(t)
	formID := ts.createForm(t, "A")
	formVar := strconv.FormatInt(formID, 10)

	out := ts.outcome(t, ts.do(t, http.MethodPost, ts.path("review-forms/elements/create"), url.Values{
		"reviewFormId": {formVar},
		"elementType":  {"radio_buttons"},
		"required":     {"true"},
	}))
	require.True(t, out.Status, out.Content)
	elementID := out.ElementID

	out = ts.outcome(t, ts.do(t, http.MethodPost, ts.path("review-forms/elements/create"), url.Values{
		"reviewFormId": {formVar},
		"elementType":  {"essay"},
	}))
	assert.False(t, out.Status, "unknown element type rejected")

	out = ts.outcome(t, ts.do(t, http.MethodPost, ts.path("review-forms/elements/update"), url.Values{
		"reviewFormId": {formVar},
		"elementId":    {elementID},
		"elementType":  {"dropdown"},
	}))
	require.True(t, out.Status, out.Content)

	out = ts.outcome(t, ts.do(t, http.MethodPost, ts.path("review-forms/elements/delete"), url.Values{
		"reviewFormId": {formVar},
		"elementId":    {elementID},
	}))
	require.True(t, out.Status, out.Content)
	assert.Equal(t, listsync.ActionRemove, out.Action)
}

func TestRenderFailureBecomesFailedOutcome(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	// Channels cannot be marshalled; the failure must surface as a
	// failed outcome rather than a success with empty content.
	require.NoError(t, successJSON(c, map[string]interface{}{"bad": make(chan int)}))

	out, err := listsync.DecodeOutcome(rec.Body)
	require.NoError(t, err)
	assert.False(t, out.Status)
	assert.NotEmpty(t, out.Content)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	ts.server.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
