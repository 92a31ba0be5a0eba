package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NewNotFoundError("Story", 1), http.StatusNotFound},
		{"validation", NewValidationError("bad"), http.StatusBadRequest},
		{"unauthorized", NewUnauthorizedError("no"), http.StatusUnauthorized},
		{"forbidden", NewForbiddenError("no"), http.StatusForbidden},
		{"gone", NewGoneError("Story", 1), http.StatusGone},
		{"conflict", NewConflictError("dup"), http.StatusConflict},
		{"internal", NewInternalError(errors.New("boom")), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("ctx: %w", NewGoneError("Story", 2)), http.StatusGone},
		{"plain", errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestIsCode(t *testing.T) {
	assert.True(t, IsCode(NewGoneError("Story", 1), CodeGone))
	assert.False(t, IsCode(NewGoneError("Story", 1), CodeNotFound))
	assert.False(t, IsCode(errors.New("x"), CodeGone))
}

func TestRespondWithAppError(t *testing.T) {
	app := fiber.New()
	app.Get("/gone", func(c *fiber.Ctx) error {
		return RespondWithAppError(c, NewGoneError("Story", 9))
	})
	app.Get("/internal", func(c *fiber.Ctx) error {
		return RespondWithAppError(c, NewInternalError(errors.New("db down")))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/gone", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	var out ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.False(t, out.Success)
	assert.Equal(t, CodeGone, out.Code)
	assert.Equal(t, "Story with ID 9 has expired", out.Error)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/internal", nil))
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	out = ErrorResponse{}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, CodeInternal, out.Code)
	assert.Empty(t, out.Details)
}
