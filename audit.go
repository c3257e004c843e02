package main

import (
	"log"
	"net/http"
	"strconv"
	"strings"
)

// Audit action constants.
const (
	AuditActionCreate = "create"
	AuditActionUpdate = "update"
	AuditActionDelete = "delete"
	AuditActionExport = "export"
	AuditActionImport = "import"
	AuditActionLogin  = "login"
	AuditActionLogout = "logout"
)

type AuditEntry struct {
	ID        int    `json:"id"`
	UserID    int    `json:"user_id"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	Module    string `json:"module"`
	RecordID  string `json:"record_id"`
	Summary   string `json:"summary"`
	CreatedAt string `json:"created_at"`
}

func logAudit(username, action, module, recordID, summary string) {
	_, err := db.Exec(`INSERT INTO audit_log (username, action, module, record_id, summary) VALUES (?, ?, ?, ?, ?)`,
		username, action, module, recordID, summary)
	if err != nil {
		log.Printf("audit log write failed: %v", err)
		return
	}
	broadcastChange("audit", recordID, action)
}

// getUsername resolves the username for the authenticated request, falling
// back to "system" for unauthenticated callers (tests, background jobs).
func getUsername(r *http.Request) string {
	userID, ok := r.Context().Value(ctxUserID).(int)
	if !ok {
		return "system"
	}
	var username string
	if err := db.QueryRow("SELECT username FROM users WHERE id = ?", userID).Scan(&username); err != nil {
		return "system"
	}
	return username
}

func handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}

	var args []interface{}
	var conditions []string
	if module := r.URL.Query().Get("module"); module != "" {
		conditions = append(conditions, "module = ?")
		args = append(args, module)
	}
	if user := r.URL.Query().Get("user"); user != "" {
		conditions = append(conditions, "username = ?")
		args = append(args, user)
	}
	if search := r.URL.Query().Get("search"); search != "" {
		conditions = append(conditions, "(summary LIKE ? OR action LIKE ? OR record_id LIKE ?)")
		s := "%" + search + "%"
		args = append(args, s, s, s)
	}
	if from := r.URL.Query().Get("from"); from != "" {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, from)
	}
	if to := r.URL.Query().Get("to"); to != "" {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, to+" 23:59:59")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	db.QueryRow("SELECT COUNT(*) FROM audit_log"+whereClause, args...).Scan(&total)

	offset := (page - 1) * limit
	query := `SELECT id, COALESCE(user_id, 0), COALESCE(username,'system'), action, module, record_id,
		COALESCE(summary,''), created_at
		FROM audit_log` + whereClause + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	queryArgs := append(args, limit, offset)

	rows, err := db.Query(query, queryArgs...)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	items := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		rows.Scan(&e.ID, &e.UserID, &e.Username, &e.Action, &e.Module, &e.RecordID, &e.Summary, &e.CreatedAt)
		items = append(items, e)
	}
	jsonRespMeta(w, items, total, page, limit)
}
