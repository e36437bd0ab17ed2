package middleware

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"amayadori/pkg/auth"
)

func newAuthApp(t *testing.T) (*fiber.App, *auth.AnonymousAuth) {
	t.Helper()
	anonAuth, err := auth.NewAnonymousAuth("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewAnonymousAuth: %v", err)
	}

	app := fiber.New()
	app.Use(AuthMiddleware(anonAuth))
	app.All("/whoami", func(c *fiber.Ctx) error {
		return c.SendString(UserID(c))
	})
	return app, anonAuth
}

func TestAuthMiddlewareHeaderToken(t *testing.T) {
	app, anonAuth := newAuthApp(t)
	uid, token, _ := anonAuth.Issue()

	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := make([]byte, 256)
	n, _ := resp.Body.Read(body)
	if got := string(body[:n]); got != uid {
		t.Errorf("uid = %q, want %q", got, uid)
	}
}

func TestAuthMiddlewareQueryToken(t *testing.T) {
	app, anonAuth := newAuthApp(t)
	_, token, _ := anonAuth.Issue()

	req := httptest.NewRequest("GET", "/whoami?token="+url.QueryEscape(token), nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200 via query token", resp.StatusCode)
	}
}

func TestAuthMiddlewareFormToken(t *testing.T) {
	app, anonAuth := newAuthApp(t)
	_, token, _ := anonAuth.Issue()

	form := url.Values{"token": {token}}
	req := httptest.NewRequest("POST", "/whoami", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200 via form token", resp.StatusCode)
	}
}

func TestAuthMiddlewareRejects(t *testing.T) {
	app, _ := newAuthApp(t)

	tests := []struct {
		name   string
		header string
	}{
		{"no token", ""},
		{"garbage token", "Bearer not-a-jwt"},
		{"wrong scheme", "Basic abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != fiber.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}
