package main

import (
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
)

func TestGenerateDueDateNotifications(t *testing.T) {
	setupTestDB(t)

	// Commissioned far in the past: maintenance and electrical test overdue
	overdueDev := createTestDevice(t, "generic", "2020-01-01", "2020-01-15", nil)
	// Fresh device: nothing due
	createTestDevice(t, "generic", "2099-01-01", "2099-01-15", nil)

	generateDueDateNotifications()

	r := httptest.NewRequest("GET", "/api/v1/notifications?unread=1", nil)
	w := httptest.NewRecorder()
	handleListNotifications(w, r)
	var items []Notification
	decodeData(t, w.Body, &items)

	if len(items) != 2 {
		t.Fatalf("expected 2 notifications (maintenance + electrical), got %d: %+v", len(items), items)
	}
	for _, n := range items {
		if n.RecordID != overdueDev.ID {
			t.Errorf("notification for wrong device: %+v", n)
		}
		if n.Severity != "critical" {
			t.Errorf("overdue notifications should be critical, got %s", n.Severity)
		}
	}

	// A second run must not duplicate unread alerts
	generateDueDateNotifications()
	w2 := httptest.NewRecorder()
	handleListNotifications(w2, httptest.NewRequest("GET", "/api/v1/notifications?unread=1", nil))
	var again []Notification
	decodeData(t, w2.Body, &again)
	if len(again) != 2 {
		t.Errorf("expected notifications deduplicated, got %d", len(again))
	}
}

func TestNotificationForUnknownDueDate(t *testing.T) {
	setupTestDB(t)

	// Radiological device with no first inspection: undeterminable deadline
	d := createTestDevice(t, "radiological", "2099-01-01", "2099-01-15", nil)
	generateDueDateNotifications()

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE record_id = ? AND type = 'physical_inspection_overdue'`,
		d.ID).Scan(&count)
	if count != 1 {
		t.Errorf("expected overdue alert for unknown inspection deadline, got %d", count)
	}
}

func TestMarkNotificationRead(t *testing.T) {
	setupTestDB(t)

	createTestDevice(t, "generic", "2020-01-01", "2020-01-15", nil)
	generateDueDateNotifications()

	var id int
	db.QueryRow("SELECT id FROM notifications LIMIT 1").Scan(&id)
	if id == 0 {
		t.Fatalf("no notification generated")
	}

	r := httptest.NewRequest("POST", "/api/v1/notifications/1/read", nil)
	w := httptest.NewRecorder()
	handleMarkNotificationRead(w, r, "1")
	if w.Code != 200 {
		t.Fatalf("mark read: status %d", w.Code)
	}

	// Second mark is a 404
	w2 := httptest.NewRecorder()
	handleMarkNotificationRead(w2, r, "1")
	if w2.Code != 404 {
		t.Errorf("expected 404 for already-read notification, got %d", w2.Code)
	}
}

func TestEmailUnsentNotifications(t *testing.T) {
	setupTestDB(t)

	var sent []string
	oldSend := SMTPSendFunc
	SMTPSendFunc = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, string(msg))
		return nil
	}
	defer func() { SMTPSendFunc = oldSend }()

	db.Exec(`UPDATE email_config SET smtp_host = 'smtp.example.org', from_address = 'hg@example.org',
		notify_address = 'engineering@example.org', enabled = 1 WHERE id = 1`)

	createTestDevice(t, "generic", "2020-01-01", "2020-01-15", nil)
	generateDueDateNotifications()
	emailUnsentNotifications()

	if len(sent) != 2 {
		t.Fatalf("expected 2 notification emails, got %d", len(sent))
	}
	if !strings.Contains(sent[0], "engineering@example.org") {
		t.Errorf("email not addressed to notify address: %s", sent[0])
	}

	// All attempted notifications are marked, so a rerun sends nothing
	sent = nil
	emailUnsentNotifications()
	if len(sent) != 0 {
		t.Errorf("expected no resends, got %d", len(sent))
	}

	var logged int
	db.QueryRow("SELECT COUNT(*) FROM email_log WHERE status = 'sent'").Scan(&logged)
	if logged != 2 {
		t.Errorf("expected 2 email log rows, got %d", logged)
	}
}

func TestTestEmailEndpoint(t *testing.T) {
	setupTestDB(t)

	var sent int
	oldSend := SMTPSendFunc
	SMTPSendFunc = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sent++
		return nil
	}
	defer func() { SMTPSendFunc = oldSend }()

	db.Exec("UPDATE email_config SET smtp_host = 'smtp.example.org', from_address = 'hg@example.org', enabled = 1 WHERE id = 1")

	r := httptest.NewRequest("POST", "/api/v1/email/test", strings.NewReader(`{"to":"someone@example.org"}`))
	w := httptest.NewRecorder()
	handleTestEmail(w, r)
	if w.Code != 200 {
		t.Fatalf("test email: status %d: %s", w.Code, w.Body.String())
	}
	if sent != 1 {
		t.Errorf("expected 1 email sent, got %d", sent)
	}
}

func TestEmailConfigMasksPassword(t *testing.T) {
	setupTestDB(t)

	body := `{"smtp_host":"smtp.example.org","smtp_port":587,"smtp_user":"hg","smtp_password":"sekrit-pass","from_address":"hg@example.org","enabled":1}`
	r := httptest.NewRequest("PUT", "/api/v1/email/config", strings.NewReader(body))
	w := httptest.NewRecorder()
	handleUpdateEmailConfig(w, r)
	if w.Code != 200 {
		t.Fatalf("update config: status %d: %s", w.Code, w.Body.String())
	}

	r2 := httptest.NewRequest("GET", "/api/v1/email/config", nil)
	w2 := httptest.NewRecorder()
	handleGetEmailConfig(w2, r2)
	var c EmailConfig
	decodeData(t, w2.Body, &c)
	if c.SMTPPassword != "****" {
		t.Errorf("password must be masked, got %q", c.SMTPPassword)
	}

	// Sending masked password back must preserve the stored secret
	body2 := `{"smtp_host":"smtp.example.org","smtp_port":587,"smtp_user":"hg","smtp_password":"****","from_address":"hg@example.org","enabled":1}`
	r3 := httptest.NewRequest("PUT", "/api/v1/email/config", strings.NewReader(body2))
	w3 := httptest.NewRecorder()
	handleUpdateEmailConfig(w3, r3)

	var stored string
	db.QueryRow("SELECT smtp_password FROM email_config WHERE id = 1").Scan(&stored)
	if stored != "sekrit-pass" {
		t.Errorf("stored password clobbered: %q", stored)
	}
}
