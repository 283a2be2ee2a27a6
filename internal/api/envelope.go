package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/openpress/reviewforms/internal/listsync"
	"github.com/openpress/reviewforms/internal/registry"
)

// The response envelope of every grid operation is a listsync.Outcome:
// {status, content} plus the declared action and post-actions. Error
// categories collapse to {status:false, content:<human readable>} —
// no structured error code crosses the wire.

func success(content string) listsync.Outcome {
	return listsync.Outcome{Status: true, Content: content}
}

func failure(content string) listsync.Outcome {
	return listsync.Outcome{Status: false, Content: content}
}

// successJSON renders v as the content of a success envelope. A
// marshal failure travels as a failed outcome, never as a success
// with empty content.
func successJSON(c echo.Context, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return c.JSON(http.StatusOK, failureFor(fmt.Errorf("failed to render content: %w", err)))
	}
	return c.JSON(http.StatusOK, success(string(b)))
}

// dataChanged builds the success envelope for a mutation, carrying a
// data-changed event token keyed by the affected id.
func dataChanged(id int64, action listsync.ActionType, post ...listsync.PostAction) listsync.Outcome {
	return listsync.Outcome{
		Status:      true,
		Content:     fmt.Sprintf("dataChanged:%d", id),
		Action:      action,
		ElementID:   fmt.Sprintf("%d", id),
		PostActions: post,
	}
}

// failureFor maps a registry error to the flat failure envelope,
// logging anything that is not part of the expected taxonomy.
func failureFor(err error) listsync.Outcome {
	var validationErr *registry.ValidationError
	var notFoundErr *registry.NotFoundError
	var conflictErr *registry.ConflictError

	switch {
	case errors.As(err, &validationErr):
		return failure(validationErr.Error())
	case errors.As(err, &notFoundErr):
		return failure(notFoundErr.Error())
	case errors.As(err, &conflictErr):
		return failure(conflictErr.Error())
	default:
		log.Error().Err(err).Msg("grid operation failed")
		return failure("an unexpected error occurred")
	}
}
