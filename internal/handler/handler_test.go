package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/certifier/internal/exam"
	appI18n "github.com/pavelanni/certifier/internal/i18n"
	"github.com/pavelanni/certifier/internal/model"
	"github.com/pavelanni/certifier/internal/store"
)

const testDefinition = `{
  "code": "GO-PRO",
  "name": "Go Professional",
  "level": "professional",
  "passing_score": 70,
  "max_attempts": 2,
  "duration_minutes": 30,
  "validity_months": 12,
  "sections": [
    {"name": "Language", "question_count": 1, "weight": 50},
    {"name": "Tooling", "question_count": 1, "weight": 50}
  ],
  "questions": [
    {"section": "Language", "type": "single_choice", "prompt": "Which keyword starts a goroutine?",
     "options": ["async", "go"], "correct_answers": ["go"], "points": 1},
    {"section": "Tooling", "type": "true_false", "prompt": "go vet is part of the standard toolchain.",
     "correct_answers": ["true"], "points": 1, "explanation": "It ships with Go."}
  ]
}`

type testEnv struct {
	router http.Handler
	store  *store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	h := New(st, exam.New(st), Config{CORSOrigins: []string{"https://app.example.com"}})
	env := &testEnv{router: h.Router(), store: st}
	env.createUser(t, "admin", "admin-secret", model.UserRoleAdmin)
	env.createUser(t, "alice", "alice-secret", model.UserRoleCandidate)
	return env
}

func (e *testEnv) createUser(t *testing.T, username, password string, role model.UserRole) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	_, err = e.store.CreateUser(context.Background(), model.User{
		Username: username, DisplayName: "Dr. " + username, PasswordHash: string(hash), Role: role, Active: true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
}

// client carries cookies and the CSRF token between requests.
type client struct {
	t       *testing.T
	router  http.Handler
	cookies map[string]*http.Cookie
	csrf    string
	lang    string
}

func (e *testEnv) client(t *testing.T) *client {
	return &client{t: t, router: e.router, cookies: map[string]*http.Cookie{}}
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.csrf != "" {
		req.Header.Set(csrfHeaderName, c.csrf)
	}
	if c.lang != "" {
		req.Header.Set("Accept-Language", c.lang)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)

	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}
	return rec
}

func (c *client) login(username, password string) {
	c.t.Helper()
	rec := c.do(http.MethodPost, "/api/login", map[string]string{"username": username, "password": password})
	if rec.Code != http.StatusOK {
		c.t.Fatalf("login %s: status %d: %s", username, rec.Code, rec.Body)
	}
	var resp struct {
		CSRFToken string `json:"csrf_token"`
	}
	decode(c.t, rec, &resp)
	if resp.CSRFToken == "" {
		c.t.Fatal("login returned no CSRF token")
	}
	c.csrf = resp.CSRFToken
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	decode(t, rec, &resp)
	return resp.Error
}

func (e *testEnv) importDefinition(t *testing.T) model.Certification {
	t.Helper()
	admin := e.client(t)
	admin.login("admin", "admin-secret")
	rec := admin.do(http.MethodPost, "/api/admin/certifications?source=go_pro.json", testDefinition)
	if rec.Code != http.StatusCreated {
		t.Fatalf("import: status %d: %s", rec.Code, rec.Body)
	}
	var resp importResponse
	decode(t, rec, &resp)
	return resp.Certification
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	rec := c.do(http.MethodPost, "/api/login", map[string]string{"username": "alice", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "invalid_credentials" {
		t.Errorf("expected invalid_credentials, got %d: %s", rec.Code, rec.Body)
	}

	rec = c.do(http.MethodGet, "/api/certifications", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 before login, got %d", rec.Code)
	}

	c.login("alice", "alice-secret")
	rec = c.do(http.MethodGet, "/api/certifications", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 after login, got %d: %s", rec.Code, rec.Body)
	}

	rec = c.do(http.MethodPost, "/api/logout", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: status %d", rec.Code)
	}
	rec = c.do(http.MethodGet, "/api/certifications", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestCSRF(t *testing.T) {
	env := newTestEnv(t)
	cert := env.importDefinition(t)
	c := env.client(t)
	c.login("alice", "alice-secret")

	token := c.csrf
	c.csrf = ""
	rec := c.do(http.MethodPost, "/api/certifications/"+itoa(cert.ID)+"/attempts", nil)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "csrf" {
		t.Errorf("expected csrf rejection, got %d: %s", rec.Code, rec.Body)
	}

	c.csrf = "forged"
	rec = c.do(http.MethodPost, "/api/certifications/"+itoa(cert.ID)+"/attempts", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected forged token rejection, got %d", rec.Code)
	}

	c.csrf = token
	rec = c.do(http.MethodPost, "/api/certifications/"+itoa(cert.ID)+"/attempts", nil)
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201 with token, got %d: %s", rec.Code, rec.Body)
	}
}

func TestExamFlow(t *testing.T) {
	env := newTestEnv(t)
	cert := env.importDefinition(t)
	c := env.client(t)
	c.login("alice", "alice-secret")

	// Questions are served without answer keys.
	rec := c.do(http.MethodGet, "/api/certifications/"+itoa(cert.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get certification: %d: %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "correct_answers") || strings.Contains(rec.Body.String(), "ships with Go") {
		t.Errorf("certification view leaks answer keys: %s", rec.Body)
	}
	var view model.CertificationView
	decode(t, rec, &view)
	if len(view.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(view.Questions))
	}

	rec = c.do(http.MethodPost, "/api/certifications/"+itoa(cert.ID)+"/attempts", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start attempt: %d: %s", rec.Code, rec.Body)
	}
	var attempt model.Attempt
	decode(t, rec, &attempt)

	rec = c.do(http.MethodPost, "/api/certifications/"+itoa(cert.ID)+"/attempts", nil)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "attempt_already_active" {
		t.Errorf("expected attempt_already_active, got %d: %s", rec.Code, rec.Body)
	}

	answers := map[int64]model.AnswerEntry{
		view.Questions[0].ID: {Answer: model.TextAnswer(model.QuestionSingleChoice, "go")},
	}
	rec = c.do(http.MethodPut, "/api/attempts/"+itoa(attempt.ID)+"/progress", exam.ProgressUpdate{
		CurrentIndex: 1, Answers: answers,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("save progress: %d: %s", rec.Code, rec.Body)
	}
	var saved model.Attempt
	decode(t, rec, &saved)
	if saved.CurrentQuestionIndex != 1 || len(saved.Answers) != 1 {
		t.Errorf("unexpected saved attempt: %+v", saved)
	}

	rec = c.do(http.MethodGet, "/api/attempts/"+itoa(attempt.ID)+"/result", nil)
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "result_not_found" {
		t.Errorf("expected result_not_found, got %d: %s", rec.Code, rec.Body)
	}

	answers[view.Questions[1].ID] = model.AnswerEntry{Answer: model.TextAnswer(model.QuestionTrueFalse, "True")}
	rec = c.do(http.MethodPost, "/api/attempts/"+itoa(attempt.ID)+"/submit", map[string]any{"answers": answers})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: %d: %s", rec.Code, rec.Body)
	}
	var out model.Outcome
	decode(t, rec, &out)
	if !out.Result.Passed || out.Result.TotalScore != 100 || out.Certificate == nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	rec = c.do(http.MethodPost, "/api/attempts/"+itoa(attempt.ID)+"/submit", nil)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "already_submitted" {
		t.Errorf("expected already_submitted, got %d: %s", rec.Code, rec.Body)
	}

	rec = c.do(http.MethodGet, "/api/attempts/"+itoa(attempt.ID)+"/result", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get result: %d: %s", rec.Code, rec.Body)
	}

	rec = c.do(http.MethodGet, "/api/certificates", nil)
	var certs []model.CertificateView
	decode(t, rec, &certs)
	if len(certs) != 1 || certs[0].Status != model.CertificateValid {
		t.Errorf("unexpected certificates: %+v", certs)
	}

	// Public verification needs no login.
	anon := env.client(t)
	code := out.Certificate.VerificationCode
	rec = anon.do(http.MethodGet, "/api/verify/"+strings.ToLower(code), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: %d: %s", rec.Code, rec.Body)
	}
	var v model.Verification
	decode(t, rec, &v)
	if v.HolderName != "Dr. alice" || v.CertificateNumber != out.Certificate.CertificateNumber {
		t.Errorf("unexpected verification: %+v", v)
	}

	rec = anon.do(http.MethodGet, "/verify/"+out.Certificate.CertificateNumber, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Dr. alice") {
		t.Errorf("verify page: %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("unexpected content type %q", ct)
	}

	rec = c.do(http.MethodPost, "/api/certificates/"+itoa(out.Certificate.ID)+"/visibility", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle visibility: %d: %s", rec.Code, rec.Body)
	}
	rec = anon.do(http.MethodGet, "/verify/"+code, nil)
	if strings.Contains(rec.Body.String(), "Dr. alice") || !strings.Contains(rec.Body.String(), "Not disclosed by the holder") {
		t.Errorf("private certificate page discloses holder: %s", rec.Body)
	}
}

func TestVerifyNotFound(t *testing.T) {
	env := newTestEnv(t)
	anon := env.client(t)

	rec := anon.do(http.MethodGet, "/api/verify/ZZZZ-ZZZZ-ZZZZ", nil)
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "certificate_not_found" {
		t.Errorf("expected certificate_not_found, got %d: %s", rec.Code, rec.Body)
	}

	rec = anon.do(http.MethodGet, "/verify/%3Cscript%3E", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 page, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "<script>") {
		t.Errorf("page does not escape the code: %s", rec.Body)
	}

	anon.lang = "ru"
	rec = anon.do(http.MethodGet, "/api/verify/ZZZZ-ZZZZ-ZZZZ", nil)
	var resp errorResponse
	decode(t, rec, &resp)
	if resp.Message != "Сертификат не найден." {
		t.Errorf("expected Russian message, got %q", resp.Message)
	}
}

func TestAttemptOwnership(t *testing.T) {
	env := newTestEnv(t)
	cert := env.importDefinition(t)
	env.createUser(t, "bob", "bob-secret", model.UserRoleCandidate)

	alice := env.client(t)
	alice.login("alice", "alice-secret")
	rec := alice.do(http.MethodPost, "/api/certifications/"+itoa(cert.ID)+"/attempts", nil)
	var attempt model.Attempt
	decode(t, rec, &attempt)

	bob := env.client(t)
	bob.login("bob", "bob-secret")
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/attempts/" + itoa(attempt.ID)},
		{http.MethodPost, "/api/attempts/" + itoa(attempt.ID) + "/submit"},
		{http.MethodPost, "/api/attempts/" + itoa(attempt.ID) + "/abandon"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := bob.do(tc.method, tc.path, nil)
			if rec.Code != http.StatusNotFound || errorCode(t, rec) != "attempt_not_found" {
				t.Errorf("expected attempt_not_found, got %d: %s", rec.Code, rec.Body)
			}
		})
	}

	rec = alice.do(http.MethodPost, "/api/attempts/"+itoa(attempt.ID)+"/abandon", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("abandon: %d: %s", rec.Code, rec.Body)
	}
	rec = alice.do(http.MethodPut, "/api/attempts/"+itoa(attempt.ID)+"/progress", exam.ProgressUpdate{})
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "attempt_not_active" {
		t.Errorf("expected attempt_not_active, got %d: %s", rec.Code, rec.Body)
	}

	rec = alice.do(http.MethodGet, "/api/attempts/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestAdmin(t *testing.T) {
	env := newTestEnv(t)

	candidate := env.client(t)
	candidate.login("alice", "alice-secret")
	rec := candidate.do(http.MethodPost, "/api/admin/users", map[string]string{"username": "eve", "password": "password1"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for candidate, got %d", rec.Code)
	}

	admin := env.client(t)
	admin.login("admin", "admin-secret")

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"valid", map[string]string{"username": "carol", "password": "password1"}, http.StatusCreated, ""},
		{"taken", map[string]string{"username": "carol", "password": "password1"}, http.StatusConflict, "username_taken"},
		{"short password", map[string]string{"username": "dave", "password": "short"}, http.StatusUnprocessableEntity, "validation_failed"},
		{"bad role", map[string]string{"username": "erin", "password": "password1", "role": "root"}, http.StatusUnprocessableEntity, "validation_failed"},
		{"unknown field", map[string]string{"username": "frank", "password": "password1", "email": "x"}, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := admin.do(http.MethodPost, "/api/admin/users", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
			if tt.code != "" && errorCode(t, rec) != tt.code {
				t.Errorf("error %q, want %q", errorCode(t, rec), tt.code)
			}
		})
	}

	rec = admin.do(http.MethodPost, "/api/admin/certifications", `{"code": "X"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for invalid definition, got %d: %s", rec.Code, rec.Body)
	}
	var verr errorResponse
	decode(t, rec, &verr)
	if len(verr.Fields) == 0 {
		t.Error("expected field errors")
	}

	rec = admin.do(http.MethodPost, "/api/admin/certifications", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed definition, got %d", rec.Code)
	}

	rec = admin.do(http.MethodPost, "/api/admin/certifications?source=go_pro.json", testDefinition)
	if rec.Code != http.StatusCreated {
		t.Fatalf("import: %d: %s", rec.Code, rec.Body)
	}
	rec = admin.do(http.MethodPost, "/api/admin/certifications?source=go_pro.json", testDefinition)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for unchanged re-import, got %d", rec.Code)
	}

	rec = admin.do(http.MethodGet, "/api/admin/users", nil)
	var users []model.User
	decode(t, rec, &users)
	if len(users) != 3 {
		t.Errorf("expected 3 users, got %d", len(users))
	}
	if strings.Contains(rec.Body.String(), "$2a$") {
		t.Error("user list leaks password hashes")
	}

	rec = admin.do(http.MethodGet, "/api/admin/export", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("export: %d: %s", rec.Code, rec.Body)
	}
}

func TestDeactivateUser(t *testing.T) {
	env := newTestEnv(t)

	alice := env.client(t)
	alice.login("alice", "alice-secret")
	admin := env.client(t)
	admin.login("admin", "admin-secret")

	u, err := env.store.GetUserByUsername(context.Background(), "alice")
	if err != nil || u == nil {
		t.Fatalf("GetUserByUsername: %+v, %v", u, err)
	}
	rec := admin.do(http.MethodPost, "/api/admin/users/"+itoa(u.ID)+"/active", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate: %d: %s", rec.Code, rec.Body)
	}
	var got model.User
	decode(t, rec, &got)
	if got.Active {
		t.Error("expected alice to be inactive")
	}

	if rec := alice.do(http.MethodGet, "/api/certifications", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected revoked session to get 401, got %d", rec.Code)
	}

	if rec := admin.do(http.MethodPost, "/api/admin/users/9999/active", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown user, got %d", rec.Code)
	}
}

func TestVerifyPageDaysRemaining(t *testing.T) {
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	ctx := appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer("en"))
	// Far from the wall clock on purpose: the page must trust DaysRemaining.
	expires := time.Date(2040, 1, 1, 0, 0, 0, 0, time.UTC)
	v := model.Verification{
		CertificateNumber: "GO-PRO-2039-000001",
		VerificationCode:  "ABCD-EFGH-JKMN",
		CertificationName: "Go Professional",
		IssuedAt:          expires.AddDate(-1, 0, 0),
		ExpiresAt:         &expires,
		Status:            model.CertificateExpiringSoon,
		DaysRemaining:     3,
	}
	var buf bytes.Buffer
	if err := verifyPage(v).Render(ctx, &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "Expires in 3 days") {
		t.Errorf("expected days remaining in page, got %s", buf.String())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		ok     bool
		code   string
		status int
	}{
		{"username taken", fmt.Errorf("user %q: %w", "bob", store.ErrUsernameTaken), true, "username_taken", http.StatusConflict},
		{"other duplicate", fmt.Errorf("insert certificate: %w", store.ErrDuplicate), false, "", 0},
		{"already submitted", fmt.Errorf("attempt 1: %w: %w", exam.ErrAlreadySubmitted, exam.ErrAttemptNotActive), true, "already_submitted", http.StatusConflict},
		{"expired", exam.ErrAttemptExpired, true, "attempt_expired", http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := classify(tt.err)
			if ok != tt.ok {
				t.Fatalf("classify ok = %v, want %v", ok, tt.ok)
			}
			if e.code != tt.code || e.status != tt.status {
				t.Errorf("classify = %s/%d, want %s/%d", e.code, e.status, tt.code, tt.status)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q", got)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
