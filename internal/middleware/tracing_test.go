package middleware

import (
	"net/http/httptest"
	"testing"

	"sokoni/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingMiddleware_RouteTemplateSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := observability.Tracer
	observability.Tracer = tp.Tracer("test")
	t.Cleanup(func() { observability.Tracer = prev })

	app := fiber.New()
	app.Use(TracingMiddleware())
	app.Get("/health/live", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/api/stories/:id", func(c *fiber.Ctx) error {
		assert.NotEmpty(t, c.Locals("traceID"))
		return c.SendStatus(fiber.StatusOK)
	})
	app.Delete("/api/stories/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusInternalServerError)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/stories/17", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))
	_, err = app.Test(httptest.NewRequest("DELETE", "/api/stories/18", nil))
	require.NoError(t, err)
	_, err = app.Test(httptest.NewRequest("GET", "/health/live", nil))
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2, "probe paths are not traced")
	assert.Equal(t, "GET /api/stories/:id", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, "DELETE /api/stories/:id", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
