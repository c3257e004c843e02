package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func doLogin(t *testing.T, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"username":"` + username + `","password":"` + password + `"}`
	r := httptest.NewRequest("POST", "/auth/login", strings.NewReader(body))
	w := httptest.NewRecorder()
	handleLogin(w, r)
	return w
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == "hg_session" {
			return c
		}
	}
	return nil
}

func TestLoginSuccessSetsSession(t *testing.T) {
	setupTestDB(t)

	w := doLogin(t, "admin", "changeme")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var u UserInfo
	decodeData(t, w.Body, &u)
	if u.Username != "admin" || u.Role != "admin" {
		t.Errorf("unexpected user info: %+v", u)
	}
	c := sessionCookie(w)
	if c == nil || c.Value == "" {
		t.Fatalf("expected hg_session cookie")
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM sessions WHERE token = ?", c.Value).Scan(&count)
	if count != 1 {
		t.Errorf("expected session row for token")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	setupTestDB(t)

	w := doLogin(t, "admin", "wrongpassword")
	if w.Code != 401 {
		t.Errorf("expected 401, got %d", w.Code)
	}

	var attempts int
	db.QueryRow("SELECT failed_login_attempts FROM users WHERE username = 'admin'").Scan(&attempts)
	if attempts != 1 {
		t.Errorf("expected 1 failed attempt recorded, got %d", attempts)
	}
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	setupTestDB(t)

	for i := 0; i < 10; i++ {
		doLogin(t, "technician", "wrongpassword")
	}
	w := doLogin(t, "technician", "changeme")
	if w.Code != 423 {
		t.Errorf("expected 423 locked, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLoginClearsFailureCountOnSuccess(t *testing.T) {
	setupTestDB(t)

	doLogin(t, "admin", "wrongpassword")
	doLogin(t, "admin", "wrongpassword")
	w := doLogin(t, "admin", "changeme")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var attempts int
	db.QueryRow("SELECT failed_login_attempts FROM users WHERE username = 'admin'").Scan(&attempts)
	if attempts != 0 {
		t.Errorf("expected cleared attempts, got %d", attempts)
	}
}

func TestLoginDeactivatedUser(t *testing.T) {
	setupTestDB(t)
	db.Exec("UPDATE users SET active = 0 WHERE username = 'viewer'")

	w := doLogin(t, "viewer", "changeme")
	if w.Code != 403 {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestLogoutDeletesSession(t *testing.T) {
	setupTestDB(t)

	w := doLogin(t, "admin", "changeme")
	c := sessionCookie(w)
	if c == nil {
		t.Fatalf("no session cookie")
	}

	r := httptest.NewRequest("POST", "/auth/logout", nil)
	r.AddCookie(c)
	w2 := httptest.NewRecorder()
	handleLogout(w2, r)
	if w2.Code != 200 {
		t.Fatalf("logout: status %d", w2.Code)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM sessions WHERE token = ?", c.Value).Scan(&count)
	if count != 0 {
		t.Errorf("expected session deleted")
	}
}

func TestMeWithValidSession(t *testing.T) {
	setupTestDB(t)

	w := doLogin(t, "admin", "changeme")
	c := sessionCookie(w)

	r := httptest.NewRequest("GET", "/auth/me", nil)
	r.AddCookie(c)
	w2 := httptest.NewRecorder()
	handleMe(w2, r)
	if w2.Code != 200 {
		t.Fatalf("me: status %d", w2.Code)
	}
	var u UserInfo
	decodeData(t, w2.Body, &u)
	if u.Username != "admin" {
		t.Errorf("expected admin, got %s", u.Username)
	}
}

func TestMeWithoutSession(t *testing.T) {
	setupTestDB(t)

	r := httptest.NewRequest("GET", "/auth/me", nil)
	w := httptest.NewRecorder()
	handleMe(w, r)
	if w.Code != 401 {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestRequireAuthMiddleware(t *testing.T) {
	setupTestDB(t)

	handler := requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	// API path with no session is rejected
	r := httptest.NewRequest("GET", "/api/v1/devices", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != 401 {
		t.Errorf("expected 401 without session, got %d", w.Code)
	}

	// Valid session passes through
	lw := doLogin(t, "admin", "changeme")
	c := sessionCookie(lw)
	r2 := httptest.NewRequest("GET", "/api/v1/devices", nil)
	r2.AddCookie(c)
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, r2)
	if w2.Code != 200 {
		t.Errorf("expected 200 with session, got %d", w2.Code)
	}
}

func TestRequireRBAC(t *testing.T) {
	setupTestDB(t)

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	})
	chain := requireAuth(requireRBAC(okHandler))

	login := func(user string) *http.Cookie {
		w := doLogin(t, user, "changeme")
		return sessionCookie(w)
	}

	cases := []struct {
		user   string
		method string
		path   string
		want   int
	}{
		{"viewer", "GET", "/api/v1/devices", 200},
		{"viewer", "POST", "/api/v1/devices", 403},
		{"technician", "POST", "/api/v1/interventions", 200},
		{"technician", "PUT", "/api/v1/policy", 403},
		{"technician", "POST", "/api/v1/users", 403},
		{"admin", "PUT", "/api/v1/policy", 200},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(tc.method, tc.path, strings.NewReader("{}"))
		r.AddCookie(login(tc.user))
		w := httptest.NewRecorder()
		chain.ServeHTTP(w, r)
		if w.Code != tc.want {
			t.Errorf("%s %s as %s: expected %d, got %d", tc.method, tc.path, tc.user, tc.want, w.Code)
		}
	}
}

func TestChangePassword(t *testing.T) {
	setupTestDB(t)

	w := doLogin(t, "admin", "changeme")
	c := sessionCookie(w)

	var userID int
	db.QueryRow("SELECT id FROM users WHERE username = 'admin'").Scan(&userID)

	chain := requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleChangePassword(w, r)
	}))

	body := `{"current_password":"changeme","new_password":"Str0ng-Passw0rd!"}`
	r := httptest.NewRequest("PUT", "/auth/password", strings.NewReader(body))
	r.AddCookie(c)
	w2 := httptest.NewRecorder()
	chain.ServeHTTP(w2, r)
	if w2.Code != 200 {
		t.Fatalf("change password: status %d: %s", w2.Code, w2.Body.String())
	}

	if lw := doLogin(t, "admin", "changeme"); lw.Code != 401 {
		t.Errorf("old password should be rejected, got %d", lw.Code)
	}
	if lw := doLogin(t, "admin", "Str0ng-Passw0rd!"); lw.Code != 200 {
		t.Errorf("new password should work, got %d", lw.Code)
	}
}
