package main

import (
	"net/http"

	"healthgear/internal/auth"
)

type User struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Email       string `json:"email"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	LastLogin   string `json:"last_login"`
}

func handleListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query(`SELECT id, username, COALESCE(display_name,''), role, COALESCE(email,''),
		active, created_at, COALESCE(last_login,'') FROM users ORDER BY username`)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	items := []User{}
	for rows.Next() {
		var u User
		var active int
		rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.Email, &active, &u.CreatedAt, &u.LastLogin)
		u.Active = active == 1
		items = append(items, u)
	}
	jsonResp(w, items)
}

func handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
		Role        string `json:"role"`
		Email       string `json:"email"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, err.Error(), 400)
		return
	}
	if req.Role == "" {
		req.Role = "technician"
	}

	ve := &ValidationErrors{}
	requireField(ve, "username", req.Username)
	validateEnum(ve, "role", req.Role, []string{"admin", "technician", "readonly"})
	validateEmail(ve, "email", req.Email)
	if ve.HasErrors() {
		jsonErr(w, ve.Error(), 400)
		return
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		jsonErr(w, err.Error(), 400)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	res, err := db.Exec(`INSERT INTO users (username, password_hash, display_name, role, email) VALUES (?, ?, ?, ?, ?)`,
		req.Username, hash, req.DisplayName, req.Role, req.Email)
	if err != nil {
		jsonErr(w, "username already exists", 409)
		return
	}
	id, _ := res.LastInsertId()

	logAudit(getUsername(r), AuditActionCreate, "users", req.Username, "Created user with role "+req.Role)
	jsonResp(w, map[string]interface{}{"id": id, "username": req.Username, "role": req.Role})
}

func handleUpdateUser(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		DisplayName string `json:"display_name"`
		Role        string `json:"role"`
		Email       string `json:"email"`
		Active      *bool  `json:"active"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, err.Error(), 400)
		return
	}

	ve := &ValidationErrors{}
	validateEnum(ve, "role", req.Role, []string{"admin", "technician", "readonly"})
	validateEmail(ve, "email", req.Email)
	if ve.HasErrors() {
		jsonErr(w, ve.Error(), 400)
		return
	}

	active := 1
	if req.Active != nil && !*req.Active {
		active = 0
	}
	res, err := db.Exec(`UPDATE users SET display_name = ?, role = ?, email = ?, active = ? WHERE id = ?`,
		req.DisplayName, req.Role, req.Email, active, id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		jsonErr(w, "user not found", 404)
		return
	}
	// Deactivation kills live sessions immediately
	if active == 0 {
		db.Exec("DELETE FROM sessions WHERE user_id = ?", id)
	}

	logAudit(getUsername(r), AuditActionUpdate, "users", id, "Updated user")
	jsonResp(w, map[string]string{"status": "updated"})
}

// handleResetPassword lets an admin issue a generated temporary password.
func handleResetPassword(w http.ResponseWriter, r *http.Request, id string) {
	var username string
	if err := db.QueryRow("SELECT username FROM users WHERE id = ?", id).Scan(&username); err != nil {
		jsonErr(w, "user not found", 404)
		return
	}

	temp, err := auth.GenerateTempPassword(12)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	hash, err := auth.HashPassword(temp)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if _, err := db.Exec(`UPDATE users SET password_hash = ?, failed_login_attempts = 0, locked_until = NULL
		WHERE id = ?`, hash, id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	db.Exec("DELETE FROM sessions WHERE user_id = ?", id)

	logAudit(getUsername(r), AuditActionUpdate, "users", username, "Reset password")
	jsonResp(w, map[string]string{"temporary_password": temp})
}
