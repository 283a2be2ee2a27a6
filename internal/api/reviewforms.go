package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/openpress/reviewforms/internal/api/auth"
	"github.com/openpress/reviewforms/internal/listsync"
	"github.com/openpress/reviewforms/internal/registry"
)

// ReviewFormHandler serves the review form grid operations. Every
// route is scoped to a resolved publishing context and guarded by the
// manager role policy.
type ReviewFormHandler struct {
	registry *registry.Registry
	validate *validator.Validate
}

// NewReviewFormHandler creates a new review form handler
func NewReviewFormHandler(reg *registry.Registry) *ReviewFormHandler {
	return &ReviewFormHandler{
		registry: reg,
		validate: validator.New(),
	}
}

// RegisterRoutes attaches the grid operations to a context-scoped
// route group.
func (h *ReviewFormHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/review-forms", h.FetchGrid)
	g.GET("/review-form", h.FetchRow)
	g.GET("/review-forms/create", h.CreateReviewForm)
	g.POST("/review-forms/update", h.UpdateReviewForm)
	g.GET("/review-forms/basics", h.ReviewFormBasics)
	g.GET("/review-forms/elements", h.ReviewFormElements)
	g.GET("/review-forms/preview", h.ReviewFormPreview)
	g.POST("/review-forms/copy", h.CopyReviewForm)
	g.POST("/review-forms/activate", h.ActivateReviewForm)
	g.POST("/review-forms/deactivate", h.DeactivateReviewForm)
	g.POST("/review-forms/delete", h.DeleteReviewForm)
	g.POST("/review-forms/sequence", h.SaveSequence)

	g.POST("/review-forms/elements/create", h.CreateElement)
	g.POST("/review-forms/elements/update", h.UpdateElement)
	g.POST("/review-forms/elements/delete", h.DeleteElement)
}

func contextID(c echo.Context) int64 {
	id, _ := c.Get("context_id").(int64)
	return id
}

func primaryLocale(c echo.Context) string {
	locale, _ := c.Get("primary_locale").(string)
	if locale == "" {
		locale = "en_US"
	}
	return locale
}

// userVar reads a request variable from the query string or the
// posted form, whichever carries it.
func userVar(c echo.Context, name string) string {
	if v := c.FormValue(name); v != "" {
		return v
	}
	return c.QueryParam(name)
}

func userVarID(c echo.Context, name string) (int64, error) {
	raw := userVar(c, name)
	if raw == "" {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid "+name)
	}
	return id, nil
}

// FetchGrid returns the rendered list of all review forms for the
// context, ascending by sequence.
func (h *ReviewFormHandler) FetchGrid(c echo.Context) error {
	forms, err := h.registry.List(c.Request().Context(), contextID(c))
	if err != nil {
		return c.JSON(http.StatusOK, failureFor(err))
	}
	return successJSON(c, forms)
}

// FetchRow returns the rendered fragment for a single grid row.
func (h *ReviewFormHandler) FetchRow(c echo.Context) error {
	id, err := userVarID(c, "rowId")
	if err != nil {
		return err
	}
	form, err := h.registry.Get(c.Request().Context(), contextID(c), id)
	if err != nil {
		return c.JSON(http.StatusOK, failureFor(err))
	}
	return successJSON(c, form)
}

// CreateReviewForm returns the fragment for an empty review form, to
// be posted back through UpdateReviewForm.
func (h *ReviewFormHandler) CreateReviewForm(c echo.Context) error {
	blank := registry.ReviewForm{
		ContextID:   contextID(c),
		Title:       registry.LocalizedString{},
		Description: registry.LocalizedString{},
	}
	return successJSON(c, &blank)
}

type reviewFormPayload struct {
	ReviewFormID int64             `json:"reviewFormId" form:"reviewFormId"`
	Title        map[string]string `json:"title"`
	Description  map[string]string `json:"description"`

	// Single-value fallbacks for form-encoded submissions; applied
	// to the context's primary locale.
	TitleText string `json:"-" form:"title"`
	DescText  string `json:"-" form:"description"`
}

func (p *reviewFormPayload) fields(locale string) registry.FormFields {
	title := registry.LocalizedString(p.Title)
	if title == nil && p.TitleText != "" {
		title = registry.LocalizedString{locale: p.TitleText}
	}
	description := registry.LocalizedString(p.Description)
	if description == nil && p.DescText != "" {
		description = registry.LocalizedString{locale: p.DescText}
	}
	return registry.FormFields{Title: title, Description: description}
}

// UpdateReviewForm creates or updates a review form; the two cases
// are discriminated by the presence of reviewFormId in the payload.
func (h *ReviewFormHandler) UpdateReviewForm(c echo.Context) error {
	var payload reviewFormPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	ctx := c.Request().Context()
	locale := primaryLocale(c)
	actor := auth.GetUserID(c)
	fields := payload.fields(locale)

	if payload.ReviewFormID == 0 {
		id, err := h.registry.Create(ctx, contextID(c), actor, locale, fields)
		if err != nil {
			return c.JSON(http.StatusOK, failureFor(err))
		}
		return c.JSON(http.StatusOK, dataChanged(id, listsync.ActionAppend, listsync.PostCloseModal, listsync.PostRefreshGrid))
	}

	if err := h.registry.Update(ctx, contextID(c), payload.ReviewFormID, actor, locale, fields); err != nil {
		return c.JSON(http.StatusOK, failureFor(err))
	}
	return c.JSON(http.StatusOK, dataChanged(payload.ReviewFormID, listsync.ActionReplace, listsync.PostCloseModal))
}

// ReviewFormBasics returns the title/description fragment of a form.
func (h *ReviewFormHandler) ReviewFormBasics(c echo.Context) error {
	id, err := userVarID(c, "reviewFormId")
	if err != nil {
		return err
	}
	form, err := h.registry.Get(c.Request().Context(), contextID(c), id)
	if err != nil {
		return c.JSON(http.StatusOK, failureFor(err))
	}
	basics := map[string]interface{}{
		"reviewFormId": form.ID,
		"title":        form.Title,
		"description":  form.Description,
		"canEdit":      !form.InUse(),
	}
	return successJSON(c, basics)
}

// ReviewFormElements returns the element list fragment of a form.
func (h *ReviewFormHandler) ReviewFormElements(c echo.Context) error {
	id, err := userVarID(c, "reviewFormId")
	if err != nil {
		return err
	}
	elements, err := h.registry.Elements(c.Request().Context(), contextID(c), id)
	if err != nil {
		return c.JSON(http.StatusOK, failureFor(err))
	}
	return successJSON(c, elements)
}

// ReviewFormPreview returns the full form fragment as a reviewer
// would see it.
func (h *ReviewFormHandler) ReviewFormPreview(c echo.Context) error {
	id, err := userVarID(c, "reviewFormId")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	form, err := h.registry.Get(ctx, contextID(c), id)
	if err != nil {
		return c.JSON(http.StatusOK, failureFor(err))
	}
	elements, err := h.registry.Elements(ctx, contextID(c), id)
	if err != nil {
		return c.JSON(http.StatusOK, failureFor(err))
	}
	preview := map[string]interface{}{
		"form":     form,
		"elements": elements,
	}
	return successJSON(c, preview)
}

// CopyReviewForm clones a form and all its elements.
func (h *ReviewFormHandler) CopyReviewForm(c echo.Context) error {
	id, err := userVarID(c, "rowId")
	if err != nil {
		return err
	}
	newID, err := h.registry.Copy(c.Request().Context(), contextID(c), id, auth.GetUserID(c))
	if err != nil {
		return c.JSON(http.StatusOK, failureFor(err))
	}
	return c.JSON(http.StatusOK, dataChanged(newID, listsync.ActionAppend, listsync.PostRefreshGrid))
}

func (h *ReviewFormHandler) setActive(c echo.Context, active bool) error {
	id, err := userVarID(c, "reviewFormKey")
	if err != nil {
		return err
	}
	changed, err := h.registry.SetActive(c.Request().Context(), contextID(c), id, auth.GetUserID(c), active)
	if err != nil {
		return c.JSON(http.StatusOK, failureFor(err))
	}
	if !changed {
		// Idempotent no-op: signal unchanged without re-persisting.
		return c.JSON(http.StatusOK, failure("review form already in requested state"))
	}
	return c.JSON(http.StatusOK, dataChanged(id, listsync.ActionReplace))
}

// ActivateReviewForm makes a form selectable for new review
// assignments. Idempotent.
func (h *ReviewFormHandler) ActivateReviewForm(c echo.Context) error {
	return h.setActive(c, true)
}

// DeactivateReviewForm withdraws a form from selection. Idempotent.
func (h *ReviewFormHandler) DeactivateReviewForm(c echo.Context) error {
	return h.setActive(c, false)
}

// DeleteReviewForm removes an unused form, conditional on zero usage
// counts.
func (h *ReviewFormHandler) DeleteReviewForm(c echo.Context) error {
	id, err := userVarID(c, "rowId")
	if err != nil {
		return err
	}
	if err := h.registry.Delete(c.Request().Context(), contextID(c), id, auth.GetUserID(c)); err != nil {
		return c.JSON(http.StatusOK, failureFor(err))
	}
	return c.JSON(http.StatusOK, dataChanged(id, listsync.ActionRemove))
}

type saveSequencePayload struct {
	RowID       int64 `json:"rowId" form:"rowId" validate:"required,min=1"`
	NewSequence int64 `json:"newSequence" form:"newSequence" validate:"min=0"`
}

// SaveSequence persists a drag-reorder result.
func (h *ReviewFormHandler) SaveSequence(c echo.Context) error {
	var payload saveSequencePayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(&payload); err != nil {
		return c.JSON(http.StatusOK, failure("invalid sequence payload"))
	}

	if err := h.registry.Reorder(c.Request().Context(), contextID(c), payload.RowID, auth.GetUserID(c), payload.NewSequence); err != nil {
		return c.JSON(http.StatusOK, failureFor(err))
	}
	return c.JSON(http.StatusOK, dataChanged(payload.RowID, listsync.ActionNothing, listsync.PostRefreshGrid))
}

type elementPayload struct {
	ReviewFormID int64           `json:"reviewFormId" form:"reviewFormId" validate:"required,min=1"`
	ElementID    int64           `json:"elementId" form:"elementId"`
	ElementType  string          `json:"elementType" form:"elementType"`
	Required     *bool           `json:"required" form:"required"`
	Settings     json.RawMessage `json:"settings"`
}

// CreateElement appends a new element to a form.
func (h *ReviewFormHandler) CreateElement(c echo.Context) error {
	var payload elementPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(&payload); err != nil {
		return c.JSON(http.StatusOK, failure("invalid element payload"))
	}

	fields := registry.ElementFields{
		Type:     registry.ElementType(payload.ElementType),
		Required: payload.Required,
		Settings: payload.Settings,
	}
	id, err := h.registry.CreateElement(c.Request().Context(), contextID(c), payload.ReviewFormID, auth.GetUserID(c), fields)
	if err != nil {
		return c.JSON(http.StatusOK, failureFor(err))
	}
	return c.JSON(http.StatusOK, dataChanged(id, listsync.ActionAppend, listsync.PostCloseModal))
}

// UpdateElement applies a partial update to an element.
func (h *ReviewFormHandler) UpdateElement(c echo.Context) error {
	var payload elementPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(&payload); err != nil || payload.ElementID <= 0 {
		return c.JSON(http.StatusOK, failure("invalid element payload"))
	}

	fields := registry.ElementFields{
		Type:     registry.ElementType(payload.ElementType),
		Required: payload.Required,
		Settings: payload.Settings,
	}
	err := h.registry.UpdateElement(c.Request().Context(), contextID(c), payload.ReviewFormID, payload.ElementID, auth.GetUserID(c), fields)
	if err != nil {
		return c.JSON(http.StatusOK, failureFor(err))
	}
	return c.JSON(http.StatusOK, dataChanged(payload.ElementID, listsync.ActionReplace, listsync.PostCloseModal))
}

// DeleteElement removes an element from a form.
func (h *ReviewFormHandler) DeleteElement(c echo.Context) error {
	formID, err := userVarID(c, "reviewFormId")
	if err != nil {
		return err
	}
	id, err := userVarID(c, "elementId")
	if err != nil {
		return err
	}
	if err := h.registry.DeleteElement(c.Request().Context(), contextID(c), formID, id, auth.GetUserID(c)); err != nil {
		return c.JSON(http.StatusOK, failureFor(err))
	}
	return c.JSON(http.StatusOK, dataChanged(id, listsync.ActionRemove))
}
