package main

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"net/http"
	"time"

	"healthgear/internal/auth"
)

type UserInfo struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Email       string `json:"email"`
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func handleLogin(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, err.Error(), 400)
		return
	}

	locked, err := auth.IsLocked(db, req.Username)
	if err == nil && locked {
		jsonErr(w, "Account temporarily locked due to repeated failed logins", 423)
		return
	}

	var userID, active int
	var hash, displayName, role, email string
	err = db.QueryRow(`SELECT id, password_hash, COALESCE(display_name,''), role, COALESCE(email,''), active
		FROM users WHERE username = ?`, req.Username).Scan(&userID, &hash, &displayName, &role, &email, &active)
	if err == sql.ErrNoRows || (err == nil && !auth.CheckPassword(hash, req.Password)) {
		auth.RecordFailedLogin(db, req.Username)
		jsonErr(w, "Invalid username or password", 401)
		return
	}
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if active == 0 {
		jsonErr(w, "Account deactivated", 403)
		return
	}

	auth.ClearFailedLogins(db, req.Username)

	token, err := newSessionToken()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	expiry := time.Now().Add(24 * time.Hour)
	_, err = db.Exec("INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)",
		token, userID, expiry.Format("2006-01-02 15:04:05"))
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	db.Exec("UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE id = ?", userID)

	http.SetCookie(w, &http.Cookie{
		Name:     "hg_session",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiry,
	})

	logAudit(req.Username, AuditActionLogin, "auth", req.Username, "User logged in")
	jsonResp(w, UserInfo{ID: userID, Username: req.Username, DisplayName: displayName, Role: role, Email: email})
}

func handleLogout(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if cookie, err := r.Cookie("hg_session"); err == nil {
		var username string
		db.QueryRow(`SELECT u.username FROM sessions s JOIN users u ON s.user_id = u.id WHERE s.token = ?`,
			cookie.Value).Scan(&username)
		db.Exec("DELETE FROM sessions WHERE token = ?", cookie.Value)
		if username != "" {
			logAudit(username, AuditActionLogout, "auth", username, "User logged out")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "hg_session",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	jsonResp(w, map[string]string{"status": "logged out"})
}

func handleMe(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	cookie, err := r.Cookie("hg_session")
	if err != nil {
		jsonErr(w, "Unauthorized", 401)
		return
	}
	var u UserInfo
	err = db.QueryRow(`SELECT u.id, u.username, COALESCE(u.display_name,''), u.role, COALESCE(u.email,'')
		FROM sessions s JOIN users u ON s.user_id = u.id
		WHERE s.token = ? AND s.expires_at > CURRENT_TIMESTAMP`, cookie.Value).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.Email)
	if err != nil {
		jsonErr(w, "Unauthorized", 401)
		return
	}
	jsonResp(w, u)
}

func handleChangePassword(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	userID, ok := r.Context().Value(ctxUserID).(int)
	if !ok {
		jsonErr(w, "Unauthorized", 401)
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, err.Error(), 400)
		return
	}

	var hash, username string
	if err := db.QueryRow("SELECT password_hash, username FROM users WHERE id = ?", userID).Scan(&hash, &username); err != nil {
		jsonErr(w, "Unauthorized", 401)
		return
	}
	if !auth.CheckPassword(hash, req.CurrentPassword) {
		jsonErr(w, "Current password is incorrect", 403)
		return
	}
	if err := auth.ValidatePasswordStrength(req.NewPassword); err != nil {
		jsonErr(w, err.Error(), 400)
		return
	}
	newHash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if _, err := db.Exec("UPDATE users SET password_hash = ? WHERE id = ?", newHash, userID); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	// Invalidate every other session for this account
	if cookie, err := r.Cookie("hg_session"); err == nil {
		db.Exec("DELETE FROM sessions WHERE user_id = ? AND token != ?", userID, cookie.Value)
	}

	logAudit(username, AuditActionUpdate, "users", username, "Changed own password")
	jsonResp(w, map[string]string{"status": "password changed"})
}
