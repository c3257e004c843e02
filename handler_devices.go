package main

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"healthgear/internal/maintenance"
)

// Device is the API representation of one piece of equipment. The three
// next_*_due fields are derived columns, rewritten by the engine on every
// intervention mutation; urgency fields are classified at read time.
type Device struct {
	ID                        string  `json:"id"`
	Description               string  `json:"description"`
	Brand                     string  `json:"brand"`
	Model                     string  `json:"model"`
	SerialNumber              string  `json:"serial_number"`
	Ward                      string  `json:"ward"`
	DeviceClass               string  `json:"device_class"`
	Status                    string  `json:"status"`
	CommissioningDate         string  `json:"commissioning_date"`
	FirstElectricalTest       string  `json:"first_electrical_test"`
	FirstPhysicalInspection   *string `json:"first_physical_inspection"`
	DecommissionedAt          *string `json:"decommissioned_at"`
	NextMaintenanceDue        *string `json:"next_maintenance_due"`
	NextElectricalTestDue     *string `json:"next_electrical_test_due"`
	NextPhysicalInspectionDue *string `json:"next_physical_inspection_due"`
	MaintenanceUrgency        string  `json:"maintenance_urgency"`
	ElectricalTestUrgency     string  `json:"electrical_test_urgency"`
	PhysicalInspectionUrgency string  `json:"physical_inspection_urgency"`
	Notes                     string  `json:"notes"`
	CreatedAt                 string  `json:"created_at"`
	UpdatedAt                 string  `json:"updated_at"`
}

const deviceColumns = `id, description, brand, model, serial_number, ward, device_class, status,
	commissioning_date, first_electrical_test, first_physical_inspection, decommissioned_at,
	next_maintenance_due, next_electrical_test_due, next_physical_inspection_due,
	COALESCE(notes,''), created_at, updated_at`

func scanDevice(rows interface{ Scan(...interface{}) error }, today time.Time) (Device, error) {
	var d Device
	var firstInspection, decommissionedAt, nextMaint, nextElec, nextInsp sql.NullString
	err := rows.Scan(&d.ID, &d.Description, &d.Brand, &d.Model, &d.SerialNumber, &d.Ward,
		&d.DeviceClass, &d.Status, &d.CommissioningDate, &d.FirstElectricalTest,
		&firstInspection, &decommissionedAt, &nextMaint, &nextElec, &nextInsp,
		&d.Notes, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return d, err
	}
	d.FirstPhysicalInspection = sp(firstInspection)
	d.DecommissionedAt = sp(decommissionedAt)
	d.NextMaintenanceDue = sp(nextMaint)
	d.NextElectricalTestDue = sp(nextElec)
	d.NextPhysicalInspectionDue = sp(nextInsp)

	class := maintenance.Class(d.DeviceClass)
	d.MaintenanceUrgency = urgencyFor(class, maintenance.KindMaintenance, nextMaint, today)
	d.ElectricalTestUrgency = urgencyFor(class, maintenance.KindElectricalTest, nextElec, today)
	d.PhysicalInspectionUrgency = urgencyFor(class, maintenance.KindPhysicalInspection, nextInsp, today)
	return d, nil
}

type deviceRequest struct {
	Description             string  `json:"description"`
	Brand                   string  `json:"brand"`
	Model                   string  `json:"model"`
	SerialNumber            string  `json:"serial_number"`
	Ward                    string  `json:"ward"`
	DeviceClass             string  `json:"device_class"`
	CommissioningDate       string  `json:"commissioning_date"`
	FirstElectricalTest     string  `json:"first_electrical_test"`
	FirstPhysicalInspection *string `json:"first_physical_inspection"`
	Notes                   string  `json:"notes"`
}

func (req *deviceRequest) validate() *ValidationErrors {
	ve := &ValidationErrors{}
	requireField(ve, "description", req.Description)
	requireField(ve, "commissioning_date", req.CommissioningDate)
	requireField(ve, "first_electrical_test", req.FirstElectricalTest)
	validateEnum(ve, "device_class", req.DeviceClass, []string{"generic", "radiological", "mammographic"})
	validateDate(ve, "commissioning_date", req.CommissioningDate)
	validateDate(ve, "first_electrical_test", req.FirstElectricalTest)
	if req.FirstPhysicalInspection != nil {
		validateDate(ve, "first_physical_inspection", *req.FirstPhysicalInspection)
	}
	return ve
}

func handleListDevices(w http.ResponseWriter, r *http.Request) {
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
	if search := r.URL.Query().Get("search"); search != "" {
		conditions = append(conditions, "(id LIKE ? OR description LIKE ? OR brand LIKE ? OR model LIKE ? OR serial_number LIKE ?)")
		s := "%" + search + "%"
		args = append(args, s, s, s, s, s)
	}
	if class := r.URL.Query().Get("class"); class != "" {
		conditions = append(conditions, "device_class = ?")
		args = append(args, class)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, status)
	}
	if ward := r.URL.Query().Get("ward"); ward != "" {
		conditions = append(conditions, "ward = ?")
		args = append(args, ward)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	today := time.Now()
	due := r.URL.Query().Get("due")

	// Urgency filtering happens after classification, so paginate in SQL only
	// when no due filter is requested.
	query := "SELECT " + deviceColumns + " FROM devices" + whereClause + " ORDER BY id"
	if due == "" {
		var total int
		db.QueryRow("SELECT COUNT(*) FROM devices"+whereClause, args...).Scan(&total)
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, (page-1)*limit)

		rows, err := db.Query(query, args...)
		if err != nil {
			jsonErr(w, err.Error(), 500)
			return
		}
		defer rows.Close()

		items := []Device{}
		for rows.Next() {
			d, err := scanDevice(rows, today)
			if err != nil {
				jsonErr(w, err.Error(), 500)
				return
			}
			items = append(items, d)
		}
		jsonRespMeta(w, items, total, page, limit)
		return
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	matched := []Device{}
	for rows.Next() {
		d, err := scanDevice(rows, today)
		if err != nil {
			jsonErr(w, err.Error(), 500)
			return
		}
		if d.MaintenanceUrgency == due || d.ElectricalTestUrgency == due || d.PhysicalInspectionUrgency == due {
			matched = append(matched, d)
		}
	}
	total := len(matched)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	jsonRespMeta(w, matched[start:end], total, page, limit)
}

func handleGetDevice(w http.ResponseWriter, r *http.Request, id string) {
	row := db.QueryRow("SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
	d, err := scanDevice(row, time.Now())
	if err == sql.ErrNoRows {
		jsonErr(w, "device not found", 404)
		return
	}
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	jsonResp(w, d)
}

func handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, err.Error(), 400)
		return
	}
	if req.DeviceClass == "" {
		req.DeviceClass = "generic"
	}
	if ve := req.validate(); ve.HasErrors() {
		jsonErr(w, ve.Error(), 400)
		return
	}

	id := nextID("HG", "devices", 3)
	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	var firstInspection interface{}
	if req.FirstPhysicalInspection != nil && *req.FirstPhysicalInspection != "" {
		firstInspection = *req.FirstPhysicalInspection
	}
	_, err = tx.Exec(`INSERT INTO devices (id, description, brand, model, serial_number, ward, device_class,
		commissioning_date, first_electrical_test, first_physical_inspection, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, req.Description, req.Brand, req.Model, req.SerialNumber, req.Ward, req.DeviceClass,
		req.CommissioningDate, req.FirstElectricalTest, firstInspection, req.Notes)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := recomputeDeviceSchedule(tx, id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionCreate, "devices", id, "Registered device: "+req.Description)
	broadcastChange("devices", id, "create")
	handleGetDevice(w, r, id)
}

func handleUpdateDevice(w http.ResponseWriter, r *http.Request, id string) {
	var status string
	err := db.QueryRow("SELECT status FROM devices WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		jsonErr(w, "device not found", 404)
		return
	}
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if status == "decommissioned" {
		jsonErr(w, "device is decommissioned; reactivate before editing", 409)
		return
	}

	var req deviceRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, err.Error(), 400)
		return
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

	var firstInspection interface{}
	if req.FirstPhysicalInspection != nil && *req.FirstPhysicalInspection != "" {
		firstInspection = *req.FirstPhysicalInspection
	}
	_, err = tx.Exec(`UPDATE devices SET description = ?, brand = ?, model = ?, serial_number = ?, ward = ?,
		device_class = ?, commissioning_date = ?, first_electrical_test = ?, first_physical_inspection = ?,
		notes = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		req.Description, req.Brand, req.Model, req.SerialNumber, req.Ward, req.DeviceClass,
		req.CommissioningDate, req.FirstElectricalTest, firstInspection, req.Notes, id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := recomputeDeviceSchedule(tx, id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionUpdate, "devices", id, "Updated device: "+req.Description)
	broadcastChange("devices", id, "update")
	handleGetDevice(w, r, id)
}

func handleDeleteDevice(w http.ResponseWriter, r *http.Request, id string) {
	res, err := db.Exec("DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		jsonErr(w, "device not found", 404)
		return
	}
	logAudit(getUsername(r), AuditActionDelete, "devices", id, "Deleted device")
	broadcastChange("devices", id, "delete")
	jsonResp(w, map[string]string{"status": "deleted"})
}

func handleDecommissionDevice(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Date string `json:"date"`
	}
	decodeBody(r, &req) // body optional
	if req.Date == "" {
		req.Date = time.Now().Format("2006-01-02")
	}
	ve := &ValidationErrors{}
	validateDate(ve, "date", req.Date)
	if ve.HasErrors() {
		jsonErr(w, ve.Error(), 400)
		return
	}

	res, err := db.Exec(`UPDATE devices SET status = 'decommissioned', decommissioned_at = ?,
		updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = 'active'`, req.Date, id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		jsonErr(w, "device not found or already decommissioned", 404)
		return
	}
	logAudit(getUsername(r), AuditActionUpdate, "devices", id, "Decommissioned device")
	broadcastChange("devices", id, "update")
	handleGetDevice(w, r, id)
}

func handleReactivateDevice(w http.ResponseWriter, r *http.Request, id string) {
	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE devices SET status = 'active', decommissioned_at = NULL,
		updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = 'decommissioned'`, id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		jsonErr(w, "device not found or not decommissioned", 404)
		return
	}
	if err := recomputeDeviceSchedule(tx, id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	logAudit(getUsername(r), AuditActionUpdate, "devices", id, "Reactivated device")
	broadcastChange("devices", id, "update")
	handleGetDevice(w, r, id)
}

var deviceExportHeader = []string{
	"ID", "Description", "Brand", "Model", "Serial Number", "Ward", "Class", "Status",
	"Commissioning Date", "First Electrical Test", "First Physical Inspection",
	"Next Maintenance", "Next Electrical Test", "Next Physical Inspection",
	"Maintenance Urgency", "Electrical Urgency", "Inspection Urgency",
}

func deviceExportRow(d Device) []string {
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	return []string{
		d.ID, d.Description, d.Brand, d.Model, d.SerialNumber, d.Ward, d.DeviceClass, d.Status,
		d.CommissioningDate, d.FirstElectricalTest, deref(d.FirstPhysicalInspection),
		deref(d.NextMaintenanceDue), deref(d.NextElectricalTestDue), deref(d.NextPhysicalInspectionDue),
		d.MaintenanceUrgency, d.ElectricalTestUrgency, d.PhysicalInspectionUrgency,
	}
}

func handleExportDevices(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query("SELECT " + deviceColumns + " FROM devices ORDER BY id")
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	today := time.Now()
	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows, today)
		if err != nil {
			jsonErr(w, err.Error(), 500)
			return
		}
		devices = append(devices, d)
	}

	logAudit(getUsername(r), AuditActionExport, "devices", "all", fmt.Sprintf("Exported %d devices", len(devices)))

	if r.URL.Query().Get("format") == "xlsx" {
		exportDevicesExcel(w, devices)
		return
	}

	filename := fmt.Sprintf("devices_%s.csv", today.Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))

	writer := csv.NewWriter(w)
	defer writer.Flush()
	writer.Write(deviceExportHeader)
	for _, d := range devices {
		writer.Write(deviceExportRow(d))
	}
}

func exportDevicesExcel(w http.ResponseWriter, devices []Device) {
	f := excelize.NewFile()
	sheet := "Devices"
	f.SetSheetName("Sheet1", sheet)

	for col, h := range deviceExportHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	for i, d := range devices {
		for col, v := range deviceExportRow(d) {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	filename := fmt.Sprintf("devices_%s.xlsx", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	f.Write(w)
}

// handleImportDevices bulk-creates devices from an uploaded CSV with the
// columns: description, brand, model, serial_number, ward, device_class,
// commissioning_date, first_electrical_test, first_physical_inspection.
func handleImportDevices(w http.ResponseWriter, r *http.Request) {
	var reader io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			jsonErr(w, "missing file field", 400)
			return
		}
		defer file.Close()
		reader = file
	}

	records, err := csv.NewReader(reader).ReadAll()
	if err != nil {
		jsonErr(w, "invalid CSV: "+err.Error(), 400)
		return
	}
	if len(records) < 2 {
		jsonErr(w, "CSV must contain a header row and at least one device", 400)
		return
	}

	created := 0
	importErrors := []string{}
	for i, rec := range records[1:] {
		if len(rec) < 8 {
			importErrors = append(importErrors, fmt.Sprintf("row %d: expected at least 8 columns", i+2))
			continue
		}
		req := deviceRequest{
			Description:         strings.TrimSpace(rec[0]),
			Brand:               strings.TrimSpace(rec[1]),
			Model:               strings.TrimSpace(rec[2]),
			SerialNumber:        strings.TrimSpace(rec[3]),
			Ward:                strings.TrimSpace(rec[4]),
			DeviceClass:         strings.TrimSpace(rec[5]),
			CommissioningDate:   strings.TrimSpace(rec[6]),
			FirstElectricalTest: strings.TrimSpace(rec[7]),
		}
		if len(rec) > 8 && strings.TrimSpace(rec[8]) != "" {
			v := strings.TrimSpace(rec[8])
			req.FirstPhysicalInspection = &v
		}
		if req.DeviceClass == "" {
			req.DeviceClass = "generic"
		}
		if ve := req.validate(); ve.HasErrors() {
			importErrors = append(importErrors, fmt.Sprintf("row %d: %s", i+2, ve.Error()))
			continue
		}

		id := nextID("HG", "devices", 3)
		tx, err := db.Begin()
		if err != nil {
			jsonErr(w, err.Error(), 500)
			return
		}
		var firstInspection interface{}
		if req.FirstPhysicalInspection != nil {
			firstInspection = *req.FirstPhysicalInspection
		}
		_, err = tx.Exec(`INSERT INTO devices (id, description, brand, model, serial_number, ward, device_class,
			commissioning_date, first_electrical_test, first_physical_inspection)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, req.Description, req.Brand, req.Model, req.SerialNumber, req.Ward, req.DeviceClass,
			req.CommissioningDate, req.FirstElectricalTest, firstInspection)
		if err == nil {
			err = recomputeDeviceSchedule(tx, id)
		}
		if err != nil {
			tx.Rollback()
			importErrors = append(importErrors, fmt.Sprintf("row %d: %v", i+2, err))
			continue
		}
		if err := tx.Commit(); err != nil {
			importErrors = append(importErrors, fmt.Sprintf("row %d: %v", i+2, err))
			continue
		}
		created++
	}

	logAudit(getUsername(r), AuditActionImport, "devices", "bulk", fmt.Sprintf("Imported %d devices", created))
	broadcastChange("devices", "bulk", "create")
	jsonResp(w, map[string]interface{}{
		"created": created,
		"errors":  importErrors,
	})
}
