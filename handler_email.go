package main

import (
	"fmt"
	"net/http"
	"net/smtp"
	"time"
)

// SMTPSendFunc is the function used to send emails. Override in tests.
var SMTPSendFunc = smtp.SendMail

type EmailConfig struct {
	ID            int    `json:"id"`
	SMTPHost      string `json:"smtp_host"`
	SMTPPort      int    `json:"smtp_port"`
	SMTPUser      string `json:"smtp_user"`
	SMTPPassword  string `json:"smtp_password"`
	FromAddress   string `json:"from_address"`
	FromName      string `json:"from_name"`
	NotifyAddress string `json:"notify_address"`
	Enabled       int    `json:"enabled"`
}

type EmailLogEntry struct {
	ID        int    `json:"id"`
	To        string `json:"to_address"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	EventType string `json:"event_type"`
	Status    string `json:"status"`
	Error     string `json:"error"`
	SentAt    string `json:"sent_at"`
}

const emailConfigQuery = `SELECT id, COALESCE(smtp_host,''), COALESCE(smtp_port,587), COALESCE(smtp_user,''),
	COALESCE(smtp_password,''), COALESCE(from_address,''), COALESCE(from_name,'HealthGear'),
	COALESCE(notify_address,''), enabled FROM email_config WHERE id=1`

func handleGetEmailConfig(w http.ResponseWriter, r *http.Request) {
	var c EmailConfig
	err := db.QueryRow(emailConfigQuery).Scan(&c.ID, &c.SMTPHost, &c.SMTPPort, &c.SMTPUser,
		&c.SMTPPassword, &c.FromAddress, &c.FromName, &c.NotifyAddress, &c.Enabled)
	if err != nil {
		jsonResp(w, EmailConfig{ID: 1, SMTPPort: 587, FromName: "HealthGear"})
		return
	}
	if c.SMTPPassword != "" {
		c.SMTPPassword = "****"
	}
	jsonResp(w, c)
}

func handleUpdateEmailConfig(w http.ResponseWriter, r *http.Request) {
	var c EmailConfig
	if err := decodeBody(r, &c); err != nil {
		jsonErr(w, "invalid body", 400)
		return
	}

	if c.SMTPPassword == "****" {
		var existing string
		db.QueryRow("SELECT COALESCE(smtp_password,'') FROM email_config WHERE id=1").Scan(&existing)
		c.SMTPPassword = existing
	}
	if c.SMTPPort <= 0 {
		c.SMTPPort = 587
	}

	ve := &ValidationErrors{}
	validateEmail(ve, "from_address", c.FromAddress)
	validateEmail(ve, "notify_address", c.NotifyAddress)
	if ve.HasErrors() {
		jsonErr(w, ve.Error(), 400)
		return
	}

	_, err := db.Exec(`INSERT OR REPLACE INTO email_config
		(id, smtp_host, smtp_port, smtp_user, smtp_password, from_address, from_name, notify_address, enabled)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.SMTPHost, c.SMTPPort, c.SMTPUser, c.SMTPPassword, c.FromAddress, c.FromName, c.NotifyAddress, c.Enabled)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	logAudit(getUsername(r), AuditActionUpdate, "email_config", "1", "Updated email configuration")
	c.ID = 1
	if c.SMTPPassword != "" {
		c.SMTPPassword = "****"
	}
	jsonResp(w, c)
}

func handleTestEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To string `json:"to"`
	}
	if err := decodeBody(r, &body); err != nil {
		jsonErr(w, "invalid request body", 400)
		return
	}
	if body.To == "" {
		jsonErr(w, "to address required", 400)
		return
	}

	logAudit(getUsername(r), "test_email", "email_config", "1", "Test email to "+body.To)

	if err := sendEmail(body.To, "HealthGear Test Email",
		"This is a test email from HealthGear. If you received this, email notifications are configured correctly."); err != nil {
		jsonErr(w, "send failed: "+err.Error(), 500)
		return
	}
	jsonResp(w, map[string]string{"status": "sent", "to": body.To})
}

func handleListEmailLog(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query(`SELECT id, to_address, subject, COALESCE(body,''), COALESCE(event_type,''),
		status, COALESCE(error,''), sent_at FROM email_log ORDER BY sent_at DESC LIMIT 100`)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	items := []EmailLogEntry{}
	for rows.Next() {
		var e EmailLogEntry
		rows.Scan(&e.ID, &e.To, &e.Subject, &e.Body, &e.EventType, &e.Status, &e.Error, &e.SentAt)
		items = append(items, e)
	}
	jsonResp(w, items)
}

func getEmailConfig() (*EmailConfig, error) {
	var c EmailConfig
	err := db.QueryRow(emailConfigQuery).Scan(&c.ID, &c.SMTPHost, &c.SMTPPort, &c.SMTPUser,
		&c.SMTPPassword, &c.FromAddress, &c.FromName, &c.NotifyAddress, &c.Enabled)
	if err != nil {
		return nil, err
	}
	if c.Enabled == 0 || c.SMTPHost == "" {
		return nil, fmt.Errorf("email not configured or disabled")
	}
	return &c, nil
}

func sendEmailWithEvent(to, subject, body, eventType string) error {
	c, err := getEmailConfig()
	if err != nil {
		return err
	}

	from := c.FromAddress
	if from == "" {
		from = c.SMTPUser
	}

	msg := fmt.Sprintf("From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		c.FromName, from, to, subject, body)

	addr := fmt.Sprintf("%s:%d", c.SMTPHost, c.SMTPPort)
	var auth smtp.Auth
	if c.SMTPUser != "" {
		auth = smtp.PlainAuth("", c.SMTPUser, c.SMTPPassword, c.SMTPHost)
	}

	sendErr := SMTPSendFunc(addr, auth, from, []string{to}, []byte(msg))

	status := "sent"
	errStr := ""
	if sendErr != nil {
		status = "failed"
		errStr = sendErr.Error()
	}
	db.Exec("INSERT INTO email_log (to_address, subject, body, event_type, status, error, sent_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		to, subject, body, eventType, status, errStr, time.Now().Format("2006-01-02 15:04:05"))

	return sendErr
}

func sendEmail(to, subject, body string) error {
	return sendEmailWithEvent(to, subject, body, "")
}
