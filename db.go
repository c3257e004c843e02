package main

import (
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var db *sql.DB

func initDB(path string) error {
	// Close previous connection if any (prevents goroutine leaks in tests)
	if db != nil {
		db.Close()
	}
	var err error
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err = sql.Open("sqlite", path+sep+"_journal_mode=WAL&_busy_timeout=10000&_foreign_keys=1")
	if err != nil {
		return err
	}

	// SQLite handles 1 writer + multiple readers with WAL mode
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	// Explicitly set pragmas (some drivers don't parse connection string params)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		return fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	return runMigrations()
}

func runMigrations() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			brand TEXT DEFAULT '',
			model TEXT DEFAULT '',
			serial_number TEXT DEFAULT '',
			ward TEXT DEFAULT '',
			device_class TEXT NOT NULL DEFAULT 'generic' CHECK(device_class IN ('generic','radiological','mammographic')),
			status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active','decommissioned')),
			commissioning_date DATE NOT NULL,
			first_electrical_test DATE NOT NULL,
			first_physical_inspection DATE,
			decommissioned_at DATE,
			next_maintenance_due DATE,
			next_electrical_test_due DATE,
			next_physical_inspection_due DATE,
			notes TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS interventions (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			kind TEXT NOT NULL CHECK(kind IN ('maintenance','electrical_test','physical_inspection')),
			date DATE NOT NULL,
			category TEXT CHECK(category IN ('preventive','corrective')),
			passed INTEGER,
			performer TEXT DEFAULT '',
			notes TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS interval_policy (
			id INTEGER PRIMARY KEY DEFAULT 1,
			maintenance_months INTEGER NOT NULL DEFAULT 12 CHECK(maintenance_months > 0),
			electrical_test_months INTEGER NOT NULL DEFAULT 24 CHECK(electrical_test_months > 0),
			physical_inspection_months INTEGER NOT NULL DEFAULT 12 CHECK(physical_inspection_months > 0),
			mammography_inspection_months INTEGER NOT NULL DEFAULT 6 CHECK(mammography_inspection_months > 0),
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			display_name TEXT,
			role TEXT DEFAULT 'technician' CHECK(role IN ('admin','technician','readonly')),
			email TEXT DEFAULT '',
			active INTEGER DEFAULT 1,
			failed_login_attempts INTEGER DEFAULT 0,
			locked_until DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_login DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER,
			username TEXT DEFAULT 'system',
			action TEXT NOT NULL,
			module TEXT NOT NULL,
			record_id TEXT NOT NULL,
			summary TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS attachments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			module TEXT NOT NULL,
			record_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			original_name TEXT NOT NULL,
			size_bytes INTEGER,
			mime_type TEXT,
			uploaded_by TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			severity TEXT DEFAULT 'info',
			title TEXT NOT NULL,
			message TEXT,
			record_id TEXT,
			module TEXT,
			emailed INTEGER DEFAULT 0,
			read_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS email_config (
			id INTEGER PRIMARY KEY DEFAULT 1,
			smtp_host TEXT,
			smtp_port INTEGER DEFAULT 587,
			smtp_user TEXT,
			smtp_password TEXT,
			from_address TEXT,
			from_name TEXT DEFAULT 'HealthGear',
			notify_address TEXT DEFAULT '',
			enabled INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS email_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			to_address TEXT NOT NULL,
			subject TEXT NOT NULL,
			body TEXT,
			event_type TEXT DEFAULT '',
			status TEXT NOT NULL DEFAULT 'sent',
			error TEXT,
			sent_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, t := range tables {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("migration error: %w\nSQL: %s", err, t)
		}
	}

	// Add columns to existing tables if missing
	alterStmts := []string{
		"ALTER TABLE users ADD COLUMN failed_login_attempts INTEGER DEFAULT 0",
		"ALTER TABLE users ADD COLUMN locked_until DATETIME",
		"ALTER TABLE users ADD COLUMN email TEXT DEFAULT ''",
		"ALTER TABLE devices ADD COLUMN notes TEXT DEFAULT ''",
		"ALTER TABLE email_config ADD COLUMN notify_address TEXT DEFAULT ''",
	}
	for _, s := range alterStmts {
		db.Exec(s) // ignore errors (column already exists)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_devices_status ON devices(status)",
		"CREATE INDEX IF NOT EXISTS idx_devices_ward ON devices(ward)",
		"CREATE INDEX IF NOT EXISTS idx_devices_class ON devices(device_class)",
		"CREATE INDEX IF NOT EXISTS idx_devices_next_maintenance ON devices(next_maintenance_due)",
		"CREATE INDEX IF NOT EXISTS idx_devices_next_electrical ON devices(next_electrical_test_due)",
		"CREATE INDEX IF NOT EXISTS idx_devices_next_inspection ON devices(next_physical_inspection_due)",
		"CREATE INDEX IF NOT EXISTS idx_interventions_device_id ON interventions(device_id)",
		"CREATE INDEX IF NOT EXISTS idx_interventions_date ON interventions(date)",
		"CREATE INDEX IF NOT EXISTS idx_interventions_kind ON interventions(kind)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_audit_log_module ON audit_log(module)",
		"CREATE INDEX IF NOT EXISTS idx_audit_log_record_id ON audit_log(record_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_attachments_module_record ON attachments(module, record_id)",
		"CREATE INDEX IF NOT EXISTS idx_notifications_read_at ON notifications(read_at)",
		"CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_email_log_sent_at ON email_log(sent_at)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("index creation: %w\nSQL: %s", err, idx)
		}
	}

	return nil
}

func seedDB() {
	// Always ensure admin user exists
	var userCount int
	db.QueryRow("SELECT COUNT(*) FROM users WHERE username = 'admin'").Scan(&userCount)
	if userCount == 0 {
		hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("Failed to hash admin password: %v", err)
		} else {
			db.Exec("INSERT INTO users (username, password_hash, display_name, role) VALUES (?, ?, ?, ?)",
				"admin", string(hash), "Administrator", "admin")
		}
	}

	// Seed technician user
	var techCount int
	db.QueryRow("SELECT COUNT(*) FROM users WHERE username = 'technician'").Scan(&techCount)
	if techCount == 0 {
		hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
		if err == nil {
			db.Exec("INSERT INTO users (username, password_hash, display_name, role, active) VALUES (?, ?, ?, ?, 1)",
				"technician", string(hash), "Technician", "technician")
		}
	}
	// Seed viewer user
	var viewCount int
	db.QueryRow("SELECT COUNT(*) FROM users WHERE username = 'viewer'").Scan(&viewCount)
	if viewCount == 0 {
		hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
		if err == nil {
			db.Exec("INSERT INTO users (username, password_hash, display_name, role, active) VALUES (?, ?, ?, ?, 1)",
				"viewer", string(hash), "Viewer", "readonly")
		}
	}

	// Seed interval policy singleton
	var policyCount int
	db.QueryRow("SELECT COUNT(*) FROM interval_policy").Scan(&policyCount)
	if policyCount == 0 {
		db.Exec("INSERT INTO interval_policy (id) VALUES (1)")
	}

	// Seed email config
	var emailCount int
	db.QueryRow("SELECT COUNT(*) FROM email_config").Scan(&emailCount)
	if emailCount == 0 {
		db.Exec("INSERT INTO email_config (id, enabled) VALUES (1, 0)")
	}
}

// ID generation helpers
func nextID(prefix string, table string, digits int) string {
	year := time.Now().Format("2006")
	pattern := prefix + "-" + year + "-%"
	var maxID sql.NullString
	db.QueryRow("SELECT id FROM "+table+" WHERE id LIKE ? ORDER BY id DESC LIMIT 1", pattern).Scan(&maxID)

	next := 1
	if maxID.Valid {
		parts := strings.Split(maxID.String, "-")
		if len(parts) >= 3 {
			if n, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
				next = n + 1
			}
		}
	}
	return fmt.Sprintf("%s-%s-%0*d", prefix, year, digits, next)
}

// null-friendly scan helpers
func ns(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}

func sp(s sql.NullString) *string {
	if s.Valid {
		return &s.String
	}
	return nil
}
