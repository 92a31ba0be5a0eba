package server

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHumanizeParam(t *testing.T) {
	assert.Equal(t, "ID", humanizeParam("id"))
	assert.Equal(t, "user ID", humanizeParam("userId"))
	assert.Equal(t, "story owner ID", humanizeParam("storyOwnerId"))
	assert.Equal(t, "slug", humanizeParam("slug"))
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken("abc"))
	assert.Empty(t, bearerToken(""))
}

func TestParsePagination(t *testing.T) {
	app := fiber.New()
	var got Pagination
	app.Get("/", func(c *fiber.Ctx) error {
		got = parsePagination(c, 20)
		return nil
	})

	cases := []struct {
		query string
		want  Pagination
	}{
		{"", Pagination{Limit: 20}},
		{"?limit=5&offset=10", Pagination{Limit: 5, Offset: 10}},
		{"?limit=500", Pagination{Limit: maxPaginationLimit}},
		{"?limit=-1&offset=-3", Pagination{Limit: 20}},
	}
	for _, tc := range cases {
		_, err := app.Test(httptest.NewRequest("GET", "/"+tc.query, nil))
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.query)
	}
}
