package main

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"healthgear/internal/maintenance"
)

type Notification struct {
	ID        int     `json:"id"`
	Type      string  `json:"type"`
	Severity  string  `json:"severity"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	RecordID  string  `json:"record_id"`
	Module    string  `json:"module"`
	ReadAt    *string `json:"read_at"`
	CreatedAt string  `json:"created_at"`
}

func handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	query := `SELECT id, type, COALESCE(severity,'info'), title, COALESCE(message,''),
		COALESCE(record_id,''), COALESCE(module,''), read_at, created_at FROM notifications`
	if r.URL.Query().Get("unread") == "1" {
		query += " WHERE read_at IS NULL"
	}
	query += " ORDER BY created_at DESC LIMIT ?"

	rows, err := db.Query(query, limit)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	items := []Notification{}
	for rows.Next() {
		var n Notification
		var readAt sql.NullString
		rows.Scan(&n.ID, &n.Type, &n.Severity, &n.Title, &n.Message, &n.RecordID, &n.Module, &readAt, &n.CreatedAt)
		n.ReadAt = sp(readAt)
		items = append(items, n)
	}
	jsonResp(w, items)
}

func handleMarkNotificationRead(w http.ResponseWriter, r *http.Request, id string) {
	res, err := db.Exec("UPDATE notifications SET read_at = CURRENT_TIMESTAMP WHERE id = ? AND read_at IS NULL", id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		jsonErr(w, "notification not found or already read", 404)
		return
	}
	broadcastChange("notifications", id, "update")
	jsonResp(w, map[string]string{"status": "read"})
}

type obligationCheck struct {
	kind  maintenance.Kind
	label string
	due   sql.NullString
}

// generateDueDateNotifications raises one unread notification per device and
// obligation that is currently overdue or due soon. Runs from the background
// loop; duplicates are suppressed while the previous alert stays unread.
func generateDueDateNotifications() {
	rows, err := db.Query(`SELECT id, description, device_class,
		next_maintenance_due, next_electrical_test_due, next_physical_inspection_due
		FROM devices WHERE status = 'active'`)
	if err != nil {
		log.Printf("notification scan failed: %v", err)
		return
	}
	defer rows.Close()

	today := time.Now()
	for rows.Next() {
		var id, description, classStr string
		var nextMaint, nextElec, nextInsp sql.NullString
		if err := rows.Scan(&id, &description, &classStr, &nextMaint, &nextElec, &nextInsp); err != nil {
			continue
		}
		class := maintenance.Class(classStr)

		checks := []obligationCheck{
			{maintenance.KindMaintenance, "Periodic maintenance", nextMaint},
			{maintenance.KindElectricalTest, "Electrical safety test", nextElec},
			{maintenance.KindPhysicalInspection, "Physical inspection", nextInsp},
		}
		for _, c := range checks {
			urgency := maintenance.Classify(storedDue(class, c.kind, c.due), today)
			switch urgency {
			case maintenance.UrgencyOverdue:
				raiseNotification(string(c.kind)+"_overdue", "critical", id,
					fmt.Sprintf("%s overdue: %s", c.label, id),
					fmt.Sprintf("%s for %s (%s) is overdue (due %s).", c.label, id, description, ns(c.due)))
			case maintenance.UrgencyDueSoon:
				raiseNotification(string(c.kind)+"_due_soon", "warning", id,
					fmt.Sprintf("%s due soon: %s", c.label, id),
					fmt.Sprintf("%s for %s (%s) falls due on %s.", c.label, id, description, ns(c.due)))
			}
		}
	}
}

func raiseNotification(ntype, severity, recordID, title, message string) {
	var exists int
	db.QueryRow("SELECT COUNT(*) FROM notifications WHERE type = ? AND record_id = ? AND read_at IS NULL",
		ntype, recordID).Scan(&exists)
	if exists > 0 {
		return
	}
	res, err := db.Exec(`INSERT INTO notifications (type, severity, title, message, record_id, module)
		VALUES (?, ?, ?, ?, ?, 'devices')`, ntype, severity, title, message, recordID)
	if err != nil {
		log.Printf("notification insert failed: %v", err)
		return
	}
	id, _ := res.LastInsertId()
	broadcastChange("notifications", id, "create")
}

// emailUnsentNotifications forwards critical notifications to the configured
// notify address. Each notification is attempted once; delivery outcome lands
// in email_log.
func emailUnsentNotifications() {
	c, err := getEmailConfig()
	if err != nil {
		return
	}
	notifyTo := c.NotifyAddress
	if notifyTo == "" {
		notifyTo = facilityEmail
	}
	if notifyTo == "" {
		return
	}

	rows, err := db.Query(`SELECT id, type, title, COALESCE(message,'') FROM notifications
		WHERE emailed = 0 AND severity = 'critical' ORDER BY id LIMIT 50`)
	if err != nil {
		log.Printf("notification email scan failed: %v", err)
		return
	}
	defer rows.Close()

	type pending struct {
		id             int
		ntype          string
		title, message string
	}
	var batch []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.ntype, &p.title, &p.message); err == nil {
			batch = append(batch, p)
		}
	}
	rows.Close()

	for _, p := range batch {
		if err := sendEmailWithEvent(notifyTo, "[HealthGear] "+p.title, p.message, p.ntype); err != nil {
			log.Printf("notification email failed: %v", err)
		}
		db.Exec("UPDATE notifications SET emailed = 1 WHERE id = ?", p.id)
	}
}
