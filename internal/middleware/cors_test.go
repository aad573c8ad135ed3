package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		handler echo.HandlerFunc
		want    int
	}{
		{
			name: "success",
			handler: func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			},
			want: http.StatusOK,
		},
		{
			name: "handler writes error",
			handler: func(c echo.Context) error {
				return c.JSON(http.StatusBadRequest, map[string]any{"success": false})
			},
			want: http.StatusBadRequest,
		},
		{
			name: "handler returns error",
			handler: func(c echo.Context) error {
				return errors.New("boom")
			},
			want: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.Use(CORS())
			e.GET("/api/proxy", tt.handler)

			req := httptest.NewRequest(http.MethodGet, "/api/proxy", http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q, want *", v)
			}
			if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, HEAD, OPTIONS" {
				t.Errorf("Access-Control-Allow-Methods = %q", v)
			}
			if v := rec.Header().Get("Access-Control-Allow-Headers"); v != "*" {
				t.Errorf("Access-Control-Allow-Headers = %q, want *", v)
			}
		})
	}
}
