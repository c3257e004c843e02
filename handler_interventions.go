package main

import (
	"database/sql"
	"net/http"

	"healthgear/internal/maintenance"
)

// Intervention is the API representation of one recorded maintenance event.
// Category applies to maintenance only; Passed to electrical tests and
// physical inspections only.
type Intervention struct {
	ID        string  `json:"id"`
	DeviceID  string  `json:"device_id"`
	Kind      string  `json:"kind"`
	Date      string  `json:"date"`
	Category  *string `json:"category"`
	Passed    *bool   `json:"passed"`
	Performer string  `json:"performer"`
	Notes     string  `json:"notes"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

const interventionColumns = `id, device_id, kind, date, category, passed, COALESCE(performer,''), COALESCE(notes,''), created_at, updated_at`

func scanIntervention(rows interface{ Scan(...interface{}) error }) (Intervention, error) {
	var iv Intervention
	var category sql.NullString
	var passed sql.NullInt64
	err := rows.Scan(&iv.ID, &iv.DeviceID, &iv.Kind, &iv.Date, &category, &passed,
		&iv.Performer, &iv.Notes, &iv.CreatedAt, &iv.UpdatedAt)
	if err != nil {
		return iv, err
	}
	iv.Category = sp(category)
	if passed.Valid {
		b := passed.Int64 != 0
		iv.Passed = &b
	}
	return iv, nil
}

type interventionRequest struct {
	DeviceID  string  `json:"device_id"`
	Kind      string  `json:"kind"`
	Date      string  `json:"date"`
	Category  *string `json:"category"`
	Passed    *bool   `json:"passed"`
	Performer string  `json:"performer"`
	Notes     string  `json:"notes"`
}

func (req *interventionRequest) validate() *ValidationErrors {
	ve := &ValidationErrors{}
	requireField(ve, "device_id", req.DeviceID)
	requireField(ve, "kind", req.Kind)
	requireField(ve, "date", req.Date)
	validateEnum(ve, "kind", req.Kind, []string{"maintenance", "electrical_test", "physical_inspection"})
	validateDate(ve, "date", req.Date)
	validateForeignKey(ve, "device_id", "devices", req.DeviceID)

	switch maintenance.Kind(req.Kind) {
	case maintenance.KindMaintenance:
		if req.Category == nil {
			ve.Add("category", "is required for maintenance")
		} else {
			validateEnum(ve, "category", *req.Category, []string{"preventive", "corrective"})
		}
		if req.Passed != nil {
			ve.Add("passed", "does not apply to maintenance")
		}
	case maintenance.KindElectricalTest, maintenance.KindPhysicalInspection:
		if req.Passed == nil {
			ve.Add("passed", "is required for tests and inspections")
		}
		if req.Category != nil {
			ve.Add("category", "applies to maintenance only")
		}
	}
	return ve
}

func handleListDeviceInterventions(w http.ResponseWriter, r *http.Request, deviceID string) {
	var exists int
	db.QueryRow("SELECT COUNT(*) FROM devices WHERE id = ?", deviceID).Scan(&exists)
	if exists == 0 {
		jsonErr(w, "device not found", 404)
		return
	}

	query := "SELECT " + interventionColumns + " FROM interventions WHERE device_id = ?"
	args := []interface{}{deviceID}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY date DESC, id DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	items := []Intervention{}
	for rows.Next() {
		iv, err := scanIntervention(rows)
		if err != nil {
			jsonErr(w, err.Error(), 500)
			return
		}
		items = append(items, iv)
	}
	jsonResp(w, items)
}

func handleGetIntervention(w http.ResponseWriter, r *http.Request, id string) {
	row := db.QueryRow("SELECT "+interventionColumns+" FROM interventions WHERE id = ?", id)
	iv, err := scanIntervention(row)
	if err == sql.ErrNoRows {
		jsonErr(w, "intervention not found", 404)
		return
	}
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	jsonResp(w, iv)
}

func handleCreateIntervention(w http.ResponseWriter, r *http.Request) {
	var req interventionRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, err.Error(), 400)
		return
	}
	if ve := req.validate(); ve.HasErrors() {
		jsonErr(w, ve.Error(), 400)
		return
	}

	id := nextID("INT", "interventions", 3)
	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO interventions (id, device_id, kind, date, category, passed, performer, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, req.DeviceID, req.Kind, req.Date, categoryValue(req.Category), passedValue(req.Passed),
		req.Performer, req.Notes)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := recomputeDeviceSchedule(tx, req.DeviceID); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionCreate, "interventions", id, "Recorded "+req.Kind+" on "+req.DeviceID)
	broadcastChange("interventions", id, "create")
	broadcastChange("devices", req.DeviceID, "update")
	handleGetIntervention(w, r, id)
}

func handleUpdateIntervention(w http.ResponseWriter, r *http.Request, id string) {
	var oldDeviceID string
	err := db.QueryRow("SELECT device_id FROM interventions WHERE id = ?", id).Scan(&oldDeviceID)
	if err == sql.ErrNoRows {
		jsonErr(w, "intervention not found", 404)
		return
	}
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	var req interventionRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, err.Error(), 400)
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = oldDeviceID
	}
	if ve := req.validate(); ve.HasErrors() {
		jsonErr(w, ve.Error(), 400)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	_, err = tx.Exec(`UPDATE interventions SET device_id = ?, kind = ?, date = ?, category = ?, passed = ?,
		performer = ?, notes = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		req.DeviceID, req.Kind, req.Date, categoryValue(req.Category), passedValue(req.Passed),
		req.Performer, req.Notes, id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	// When the event moves between devices both schedules change.
	if err := recomputeDeviceSchedule(tx, req.DeviceID); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if oldDeviceID != req.DeviceID {
		if err := recomputeDeviceSchedule(tx, oldDeviceID); err != nil {
			jsonErr(w, err.Error(), 500)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionUpdate, "interventions", id, "Updated "+req.Kind+" on "+req.DeviceID)
	broadcastChange("interventions", id, "update")
	broadcastChange("devices", req.DeviceID, "update")
	handleGetIntervention(w, r, id)
}

func handleDeleteIntervention(w http.ResponseWriter, r *http.Request, id string) {
	var deviceID string
	err := db.QueryRow("SELECT device_id FROM interventions WHERE id = ?", id).Scan(&deviceID)
	if err == sql.ErrNoRows {
		jsonErr(w, "intervention not found", 404)
		return
	}
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM interventions WHERE id = ?", id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	// The schedule must fall back to the installation-era reference when the
	// deleted event was the one holding the clock.
	if err := recomputeDeviceSchedule(tx, deviceID); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionDelete, "interventions", id, "Deleted intervention on "+deviceID)
	broadcastChange("interventions", id, "delete")
	broadcastChange("devices", deviceID, "update")
	jsonResp(w, map[string]string{"status": "deleted"})
}

func categoryValue(c *string) interface{} {
	if c == nil || *c == "" {
		return nil
	}
	return *c
}

func passedValue(p *bool) interface{} {
	if p == nil {
		return nil
	}
	if *p {
		return 1
	}
	return 0
}
