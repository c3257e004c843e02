package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

var facilityName string
var facilityEmail string
var uploadsDir string

// APIResponse is the standard JSON envelope for all API responses.
type APIResponse struct {
	Data interface{} `json:"data"`
	Meta *Meta       `json:"meta,omitempty"`
}

// Meta carries pagination metadata.
type Meta struct {
	Total int `json:"total,omitempty"`
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

func main() {
	port := flag.Int("port", 9000, "HTTP port")
	dbPath := flag.String("db", "healthgear.db", "SQLite database path")
	configPath := flag.String("config", "", "Optional YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal("Config load failed: ", err)
	}
	if cfg.Port != 0 && *port == 9000 {
		*port = cfg.Port
	}
	if cfg.DBPath != "" && *dbPath == "healthgear.db" {
		*dbPath = cfg.DBPath
	}
	facilityName = cfg.Facility.Name
	facilityEmail = cfg.Facility.Email
	uploadsDir = cfg.UploadsDir

	if err := initDB(*dbPath); err != nil {
		log.Fatal("DB init failed:", err)
	}
	seedDB()

	// Background notification generator (run once after short delay, then every 5 min)
	go func() {
		time.Sleep(5 * time.Second)
		generateDueDateNotifications()
		emailUnsentNotifications()
		for {
			time.Sleep(5 * time.Minute)
			generateDueDateNotifications()
			emailUnsentNotifications()
		}
	}()

	mux := http.NewServeMux()

	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "static/index.html")
	})

	// Attachment file serving
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		filename := strings.TrimPrefix(r.URL.Path, "/files/")
		if filename == "" {
			http.NotFound(w, r)
			return
		}
		handleServeFile(w, r, filename)
	})

	// Live dashboard updates
	mux.HandleFunc("/ws", handleWebSocket)

	// Auth routes
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			handleLogin(w, r)
		} else {
			http.Error(w, "Method not allowed", 405)
		}
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			handleLogout(w, r)
		} else {
			http.Error(w, "Method not allowed", 405)
		}
	})
	mux.HandleFunc("/auth/me", handleMe)
	mux.HandleFunc("/auth/password", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "PUT" {
			handleChangePassword(w, r)
		} else {
			http.Error(w, "Method not allowed", 405)
		}
	})

	// API routes - simple path-switch router
	mux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/")
		path = strings.TrimSuffix(path, "/")
		parts := strings.Split(path, "/")

		switch {
		// Dashboard
		case path == "dashboard" && r.Method == "GET":
			handleDashboard(w, r)

		// Devices
		case parts[0] == "devices" && len(parts) == 2 && parts[1] == "export" && r.Method == "GET":
			handleExportDevices(w, r)
		case parts[0] == "devices" && len(parts) == 2 && parts[1] == "import" && r.Method == "POST":
			handleImportDevices(w, r)
		case parts[0] == "devices" && len(parts) == 1 && r.Method == "GET":
			handleListDevices(w, r)
		case parts[0] == "devices" && len(parts) == 1 && r.Method == "POST":
			handleCreateDevice(w, r)
		case parts[0] == "devices" && len(parts) == 2 && r.Method == "GET":
			handleGetDevice(w, r, parts[1])
		case parts[0] == "devices" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateDevice(w, r, parts[1])
		case parts[0] == "devices" && len(parts) == 2 && r.Method == "DELETE":
			handleDeleteDevice(w, r, parts[1])
		case parts[0] == "devices" && len(parts) == 3 && parts[2] == "decommission" && r.Method == "POST":
			handleDecommissionDevice(w, r, parts[1])
		case parts[0] == "devices" && len(parts) == 3 && parts[2] == "reactivate" && r.Method == "POST":
			handleReactivateDevice(w, r, parts[1])
		case parts[0] == "devices" && len(parts) == 3 && parts[2] == "interventions" && r.Method == "GET":
			handleListDeviceInterventions(w, r, parts[1])
		case parts[0] == "devices" && len(parts) == 3 && parts[2] == "sheet" && r.Method == "GET":
			handleDeviceSheet(w, r, parts[1])

		// Interventions
		case parts[0] == "interventions" && len(parts) == 1 && r.Method == "POST":
			handleCreateIntervention(w, r)
		case parts[0] == "interventions" && len(parts) == 2 && r.Method == "GET":
			handleGetIntervention(w, r, parts[1])
		case parts[0] == "interventions" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateIntervention(w, r, parts[1])
		case parts[0] == "interventions" && len(parts) == 2 && r.Method == "DELETE":
			handleDeleteIntervention(w, r, parts[1])

		// Interval policy
		case path == "policy" && r.Method == "GET":
			handleGetPolicy(w, r)
		case path == "policy" && r.Method == "PUT":
			handleUpdatePolicy(w, r)

		// Users
		case parts[0] == "users" && len(parts) == 1 && r.Method == "GET":
			handleListUsers(w, r)
		case parts[0] == "users" && len(parts) == 1 && r.Method == "POST":
			handleCreateUser(w, r)
		case parts[0] == "users" && len(parts) == 2 && r.Method == "PUT":
			handleUpdateUser(w, r, parts[1])
		case parts[0] == "users" && len(parts) == 3 && parts[2] == "password" && r.Method == "PUT":
			handleResetPassword(w, r, parts[1])

		// Attachments
		case parts[0] == "attachments" && len(parts) == 1 && r.Method == "POST":
			handleUploadAttachment(w, r)
		case parts[0] == "attachments" && len(parts) == 1 && r.Method == "GET":
			handleListAttachments(w, r)
		case parts[0] == "attachments" && len(parts) == 2 && r.Method == "DELETE":
			handleDeleteAttachment(w, r, parts[1])

		// Email
		case parts[0] == "email" && len(parts) == 2 && parts[1] == "config" && r.Method == "GET":
			handleGetEmailConfig(w, r)
		case parts[0] == "email" && len(parts) == 2 && parts[1] == "config" && r.Method == "PUT":
			handleUpdateEmailConfig(w, r)
		case parts[0] == "email" && len(parts) == 2 && parts[1] == "test" && r.Method == "POST":
			handleTestEmail(w, r)
		case parts[0] == "email-log" && len(parts) == 1 && r.Method == "GET":
			handleListEmailLog(w, r)

		// Reports
		case parts[0] == "reports" && len(parts) == 2 && parts[1] == "register" && r.Method == "GET":
			handleReportRegister(w, r)
		case parts[0] == "reports" && len(parts) == 2 && parts[1] == "compliance" && r.Method == "GET":
			handleReportCompliance(w, r)

		// Notifications
		case parts[0] == "notifications" && len(parts) == 1 && r.Method == "GET":
			handleListNotifications(w, r)
		case parts[0] == "notifications" && len(parts) == 3 && parts[2] == "read" && r.Method == "POST":
			handleMarkNotificationRead(w, r, parts[1])

		// Audit
		case parts[0] == "audit" && len(parts) == 1 && r.Method == "GET":
			handleAuditLog(w, r)

		default:
			json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
		}
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("HealthGear server starting on http://localhost%s", addr)
	log.Fatal(http.ListenAndServe(addr, logging(requireAuth(requireRBAC(mux)))))
}

func jsonResp(w http.ResponseWriter, data interface{}) {
	json.NewEncoder(w).Encode(APIResponse{Data: data})
}

func jsonRespMeta(w http.ResponseWriter, data interface{}, total, page, limit int) {
	json.NewEncoder(w).Encode(APIResponse{Data: data, Meta: &Meta{Total: total, Page: page, Limit: limit}})
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
