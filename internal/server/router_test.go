package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/contactbook-hq/contactbook-backend/internal/handlers"
	"github.com/contactbook-hq/contactbook-backend/internal/logger"
	"github.com/contactbook-hq/contactbook-backend/internal/middleware"
	"github.com/contactbook-hq/contactbook-backend/internal/repos"
	"github.com/contactbook-hq/contactbook-backend/internal/services"
	"github.com/contactbook-hq/contactbook-backend/internal/types"
)

type testStack struct {
	router *gin.Engine
	db     *gorm.DB
}

// newTestStack wires the full request path (router, middleware, services,
// repos) over an in-memory sqlite database, with mail captured in memory.
func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&types.User{}, &types.UserToken{}, &types.Contact{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	log := logger.NewNop()
	userRepo := repos.NewUserRepo(gdb, log)
	userTokenRepo := repos.NewUserTokenRepo(gdb, log)
	contactRepo := repos.NewContactRepo(gdb, log)

	authService := services.NewAuthService(
		gdb, log, userRepo, userTokenRepo, dropMailer{},
		"test-secret", "http://localhost:8080",
		time.Hour, 24*time.Hour,
	)
	contactService := services.NewContactService(gdb, log, contactRepo, nil)

	router := NewRouter(RouterConfig{
		AuthHandler:    handlers.NewAuthHandler(authService),
		UserHandler:    handlers.NewUserHandler(authService),
		ContactHandler: handlers.NewContactHandler(contactService),
		AuthMiddleware: middleware.NewAuthMiddleware(log, authService),
	})
	return &testStack{router: router, db: gdb}
}

type dropMailer struct{}

func (dropMailer) Send(_ context.Context, _, _, _, _ string) error { return nil }

func (ts *testStack) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

// signupAndLogin registers a user, confirms them directly in the database,
// and returns a live access token.
func (ts *testStack) signupAndLogin(t *testing.T, email string) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/auth/signup", "", gin.H{
		"username": "tester",
		"email":    email,
		"password": "s3cret",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: want 201, got %d: %s", w.Code, w.Body.String())
	}
	if err := ts.db.Model(&types.User{}).Where("email = ?", email).Update("confirmed", true).Error; err != nil {
		t.Fatalf("confirm user: %v", err)
	}
	w = ts.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": email, "password": "s3cret"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: want 200, got %d: %s", w.Code, w.Body.String())
	}
	token, _ := decode(t, w)["access_token"].(string)
	if token == "" {
		t.Fatal("login response missing access_token")
	}
	return token
}

func TestSignupLoginOverHTTP(t *testing.T) {
	ts := newTestStack(t)

	w := ts.do(t, http.MethodPost, "/api/auth/signup", "", gin.H{
		"username": "ada",
		"email":    "ada@example.com",
		"password": "s3cret",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: want 201, got %d: %s", w.Code, w.Body.String())
	}

	// Same email again is a conflict.
	w = ts.do(t, http.MethodPost, "/api/auth/signup", "", gin.H{
		"username": "ada2",
		"email":    "ada@example.com",
		"password": "s3cret",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate signup: want 409, got %d", w.Code)
	}

	// Unconfirmed login is rejected.
	w = ts.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "ada@example.com", "password": "s3cret"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unconfirmed login: want 401, got %d", w.Code)
	}

	if err := ts.db.Model(&types.User{}).Where("email = ?", "ada@example.com").Update("confirmed", true).Error; err != nil {
		t.Fatalf("confirm user: %v", err)
	}
	w = ts.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "ada@example.com", "password": "s3cret"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: want 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["token_type"] != "bearer" {
		t.Fatalf("token_type: %v", resp["token_type"])
	}
	if resp["access_token"] == "" || resp["refresh_token"] == "" {
		t.Fatalf("missing tokens in %v", resp)
	}
}

func TestContactRoutesRequireAuth(t *testing.T) {
	ts := newTestStack(t)

	if w := ts.do(t, http.MethodGet, "/api/contacts", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: want 401, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/api/contacts", "not-a-jwt", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: want 401, got %d", w.Code)
	}
}

func TestContactLifecycleOverHTTP(t *testing.T) {
	ts := newTestStack(t)
	token := ts.signupAndLogin(t, "owner@example.com")

	w := ts.do(t, http.MethodPost, "/api/contacts", token, gin.H{
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"email":      "ada@example.com",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: want 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode(t, w)["contact"].(map[string]any)
	id := created["id"].(string)
	if id == "" {
		t.Fatal("created contact has no id")
	}

	w = ts.do(t, http.MethodGet, "/api/contacts/"+id, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: want 200, got %d", w.Code)
	}

	w = ts.do(t, http.MethodPatch, "/api/contacts/"+id, token, gin.H{"phone": "+1 555 0100"})
	if w.Code != http.StatusOK {
		t.Fatalf("update: want 200, got %d: %s", w.Code, w.Body.String())
	}
	updated := decode(t, w)["contact"].(map[string]any)
	if updated["phone"] != "+1 555 0100" {
		t.Fatalf("phone not updated: %v", updated["phone"])
	}
	if updated["email"] != "ada@example.com" {
		t.Fatalf("untouched email changed: %v", updated["email"])
	}

	w = ts.do(t, http.MethodGet, "/api/contacts?limit=10&offset=0", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: want 200, got %d", w.Code)
	}
	listed := decode(t, w)
	if contacts := listed["contacts"].([]any); len(contacts) != 1 {
		t.Fatalf("list: want 1 contact, got %d", len(contacts))
	}
	if total := listed["total"].(float64); total != 1 {
		t.Fatalf("list total: want 1, got %v", total)
	}

	w = ts.do(t, http.MethodDelete, "/api/contacts/"+id, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: want 200, got %d", w.Code)
	}
	if w = ts.do(t, http.MethodGet, "/api/contacts/"+id, token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: want 404, got %d", w.Code)
	}
	if w = ts.do(t, http.MethodDelete, "/api/contacts/"+id, token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("second delete: want 404, got %d", w.Code)
	}
}

func TestContactErrorStatusesOverHTTP(t *testing.T) {
	ts := newTestStack(t)
	token := ts.signupAndLogin(t, "owner@example.com")

	// No contact method at all.
	w := ts.do(t, http.MethodPost, "/api/contacts", token, gin.H{"first_name": "Ada"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid create: want 400, got %d", w.Code)
	}
	if code := decode(t, w)["error"].(map[string]any)["code"]; code != "validation_error" {
		t.Fatalf("error code: %v", code)
	}

	w = ts.do(t, http.MethodPost, "/api/contacts", token, gin.H{"first_name": "Ada", "email": "dup@example.com"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: want 201, got %d", w.Code)
	}
	w = ts.do(t, http.MethodPost, "/api/contacts", token, gin.H{"first_name": "Eva", "email": "dup@example.com"})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate create: want 409, got %d", w.Code)
	}
	if code := decode(t, w)["error"].(map[string]any)["code"]; code != "conflict" {
		t.Fatalf("error code: %v", code)
	}

	if w = ts.do(t, http.MethodGet, "/api/contacts/not-a-uuid", token, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: want 400, got %d", w.Code)
	}
}

func TestContactOwnershipOverHTTP(t *testing.T) {
	ts := newTestStack(t)
	ownerToken := ts.signupAndLogin(t, "owner@example.com")
	otherToken := ts.signupAndLogin(t, "other@example.com")

	w := ts.do(t, http.MethodPost, "/api/contacts", ownerToken, gin.H{
		"first_name": "Ada",
		"email":      "ada@example.com",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: want 201, got %d", w.Code)
	}
	id := decode(t, w)["contact"].(map[string]any)["id"].(string)

	// Another user sees not-found, not forbidden.
	if w = ts.do(t, http.MethodGet, "/api/contacts/"+id, otherToken, nil); w.Code != http.StatusNotFound {
		t.Fatalf("cross-user get: want 404, got %d", w.Code)
	}
	if w = ts.do(t, http.MethodDelete, "/api/contacts/"+id, otherToken, nil); w.Code != http.StatusNotFound {
		t.Fatalf("cross-user delete: want 404, got %d", w.Code)
	}
	if w = ts.do(t, http.MethodGet, "/api/contacts/"+id, ownerToken, nil); w.Code != http.StatusOK {
		t.Fatalf("owner get after cross-user attempts: want 200, got %d", w.Code)
	}
}

func TestSearchAndBirthdayRoutes(t *testing.T) {
	ts := newTestStack(t)
	token := ts.signupAndLogin(t, "owner@example.com")

	birthday := time.Now().UTC().AddDate(-30, 0, 3).Format(time.RFC3339)
	w := ts.do(t, http.MethodPost, "/api/contacts", token, gin.H{
		"first_name": "Grace",
		"last_name":  "Hopper",
		"email":      "grace@example.com",
		"birthday":   birthday,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: want 201, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/api/contacts/search?first_name=gra", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search: want 200, got %d", w.Code)
	}
	if contacts := decode(t, w)["contacts"].([]any); len(contacts) != 1 {
		t.Fatalf("search: want 1 hit, got %d", len(contacts))
	}

	// No filter at all is a validation error, not an empty result.
	if w = ts.do(t, http.MethodGet, "/api/contacts/search", token, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("empty search: want 400, got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/contacts/birthdays?days=7", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("birthdays: want 200, got %d", w.Code)
	}
	if contacts := decode(t, w)["contacts"].([]any); len(contacts) != 1 {
		t.Fatalf("birthdays: want 1 hit, got %d", len(contacts))
	}
}

func TestLogoutAndCurrentUserOverHTTP(t *testing.T) {
	ts := newTestStack(t)
	token := ts.signupAndLogin(t, "owner@example.com")

	w := ts.do(t, http.MethodGet, "/api/users/current", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("current user: want 200, got %d", w.Code)
	}
	user := decode(t, w)["user"].(map[string]any)
	if user["email"] != "owner@example.com" {
		t.Fatalf("current user email: %v", user["email"])
	}
	if _, leaked := user["password"]; leaked {
		t.Fatal("password hash leaked in response")
	}

	if w = ts.do(t, http.MethodPost, "/api/auth/logout", token, nil); w.Code != http.StatusOK {
		t.Fatalf("logout: want 200, got %d", w.Code)
	}
}
