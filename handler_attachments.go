package main

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Attachment is a file linked to a device or intervention record (service
// reports, test certificates, manuals).
type Attachment struct {
	ID           int    `json:"id"`
	Module       string `json:"module"`
	RecordID     string `json:"record_id"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	SizeBytes    int64  `json:"size_bytes"`
	MimeType     string `json:"mime_type"`
	UploadedBy   string `json:"uploaded_by"`
	CreatedAt    string `json:"created_at"`
}

const maxUploadBytes = 25 << 20 // 25 MB

func handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		jsonErr(w, "invalid multipart form: "+err.Error(), 400)
		return
	}
	module := r.FormValue("module")
	recordID := r.FormValue("record_id")

	ve := &ValidationErrors{}
	requireField(ve, "module", module)
	requireField(ve, "record_id", recordID)
	validateEnum(ve, "module", module, []string{"devices", "interventions"})
	if ve.HasErrors() {
		jsonErr(w, ve.Error(), 400)
		return
	}

	table := module
	validateForeignKey(ve, "record_id", table, recordID)
	if ve.HasErrors() {
		jsonErr(w, ve.Error(), 404)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonErr(w, "missing file field", 400)
		return
	}
	defer file.Close()

	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	suffix := make([]byte, 8)
	rand.Read(suffix)
	storedName := fmt.Sprintf("%d_%s%s", time.Now().UnixNano(), hex.EncodeToString(suffix),
		strings.ToLower(filepath.Ext(header.Filename)))

	dst, err := os.Create(filepath.Join(uploadsDir, storedName))
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	size, err := io.Copy(dst, file)
	dst.Close()
	if err != nil {
		os.Remove(filepath.Join(uploadsDir, storedName))
		jsonErr(w, err.Error(), 500)
		return
	}

	username := getUsername(r)
	res, err := db.Exec(`INSERT INTO attachments (module, record_id, filename, original_name, size_bytes, mime_type, uploaded_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		module, recordID, storedName, header.Filename, size, header.Header.Get("Content-Type"), username)
	if err != nil {
		os.Remove(filepath.Join(uploadsDir, storedName))
		jsonErr(w, err.Error(), 500)
		return
	}
	id, _ := res.LastInsertId()

	logAudit(username, AuditActionCreate, "attachments", fmt.Sprint(id), "Uploaded "+header.Filename+" to "+module+"/"+recordID)
	broadcastChange("attachments", id, "create")
	jsonResp(w, Attachment{
		ID: int(id), Module: module, RecordID: recordID,
		Filename: storedName, OriginalName: header.Filename,
		SizeBytes: size, MimeType: header.Header.Get("Content-Type"), UploadedBy: username,
	})
}

func handleListAttachments(w http.ResponseWriter, r *http.Request) {
	module := r.URL.Query().Get("module")
	recordID := r.URL.Query().Get("record_id")
	if module == "" || recordID == "" {
		jsonErr(w, "module and record_id query params are required", 400)
		return
	}

	rows, err := db.Query(`SELECT id, module, record_id, filename, original_name, COALESCE(size_bytes,0),
		COALESCE(mime_type,''), COALESCE(uploaded_by,''), created_at
		FROM attachments WHERE module = ? AND record_id = ? ORDER BY created_at DESC`, module, recordID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	items := []Attachment{}
	for rows.Next() {
		var a Attachment
		rows.Scan(&a.ID, &a.Module, &a.RecordID, &a.Filename, &a.OriginalName,
			&a.SizeBytes, &a.MimeType, &a.UploadedBy, &a.CreatedAt)
		items = append(items, a)
	}
	jsonResp(w, items)
}

func handleServeFile(w http.ResponseWriter, r *http.Request, filename string) {
	// Only serve names registered in the attachments table; never raw paths.
	var originalName, mimeType string
	err := db.QueryRow("SELECT original_name, COALESCE(mime_type,'') FROM attachments WHERE filename = ?",
		filepath.Base(filename)).Scan(&originalName, &mimeType)
	if err == sql.ErrNoRows {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if mimeType != "" {
		w.Header().Set("Content-Type", mimeType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=\"%s\"", originalName))
	http.ServeFile(w, r, filepath.Join(uploadsDir, filepath.Base(filename)))
}

func handleDeleteAttachment(w http.ResponseWriter, r *http.Request, id string) {
	var filename string
	err := db.QueryRow("SELECT filename FROM attachments WHERE id = ?", id).Scan(&filename)
	if err == sql.ErrNoRows {
		jsonErr(w, "attachment not found", 404)
		return
	}
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	if _, err := db.Exec("DELETE FROM attachments WHERE id = ?", id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	os.Remove(filepath.Join(uploadsDir, filename))

	logAudit(getUsername(r), AuditActionDelete, "attachments", id, "Deleted attachment "+filename)
	broadcastChange("attachments", id, "delete")
	jsonResp(w, map[string]string{"status": "deleted"})
}
