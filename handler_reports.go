package main

import (
	"database/sql"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"healthgear/internal/maintenance"
)

// handleReportRegister produces the equipment register workbook: one row per
// device with its full schedule and urgency classification.
func handleReportRegister(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query("SELECT " + deviceColumns + " FROM devices ORDER BY ward, id")
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

	f := excelize.NewFile()
	sheet := "Equipment Register"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDDDDD"}, Pattern: 1},
	})

	f.SetCellValue(sheet, "A1", facilityName+" - Equipment Register")
	f.SetCellValue(sheet, "A2", "Generated "+today.Format("2006-01-02"))

	headerRow := 4
	for col, h := range deviceExportHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, headerRow)
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}
	for i, d := range devices {
		for col, v := range deviceExportRow(d) {
			cell, _ := excelize.CoordinatesToCellName(col+1, headerRow+1+i)
			f.SetCellValue(sheet, cell, v)
		}
	}

	logAudit(getUsername(r), AuditActionExport, "reports", "register", fmt.Sprintf("Equipment register, %d devices", len(devices)))

	filename := fmt.Sprintf("equipment_register_%s.xlsx", today.Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	f.Write(w)
}

type complianceLine struct {
	DeviceID    string `json:"device_id"`
	Description string `json:"description"`
	Ward        string `json:"ward"`
	Obligation  string `json:"obligation"`
	DueDate     string `json:"due_date"`
	Urgency     string `json:"urgency"`
}

// handleReportCompliance lists every overdue or due-soon obligation across
// active devices, with summary counts. format=xlsx downloads a workbook.
func handleReportCompliance(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query(`SELECT id, description, ward, device_class,
		next_maintenance_due, next_electrical_test_due, next_physical_inspection_due
		FROM devices WHERE status = 'active' ORDER BY ward, id`)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	today := time.Now()
	lines := []complianceLine{}
	overdue, dueSoon := 0, 0

	for rows.Next() {
		var id, description, ward, classStr string
		var nextMaint, nextElec, nextInsp sql.NullString
		if err := rows.Scan(&id, &description, &ward, &classStr, &nextMaint, &nextElec, &nextInsp); err != nil {
			continue
		}
		class := maintenance.Class(classStr)

		checks := []obligationCheck{
			{maintenance.KindMaintenance, "Periodic maintenance", nextMaint},
			{maintenance.KindElectricalTest, "Electrical safety test", nextElec},
			{maintenance.KindPhysicalInspection, "Physical inspection", nextInsp},
		}
		for _, c := range checks {
			u := maintenance.Classify(storedDue(class, c.kind, c.due), today)
			if u != maintenance.UrgencyOverdue && u != maintenance.UrgencyDueSoon {
				continue
			}
			if u == maintenance.UrgencyOverdue {
				overdue++
			} else {
				dueSoon++
			}
			lines = append(lines, complianceLine{
				DeviceID: id, Description: description, Ward: ward,
				Obligation: c.label, DueDate: ns(c.due), Urgency: string(u),
			})
		}
	}

	logAudit(getUsername(r), AuditActionExport, "reports", "compliance", fmt.Sprintf("%d findings", len(lines)))

	if r.URL.Query().Get("format") == "xlsx" {
		f := excelize.NewFile()
		sheet := "Compliance"
		f.SetSheetName("Sheet1", sheet)
		f.SetCellValue(sheet, "A1", facilityName+" - Compliance Report")
		f.SetCellValue(sheet, "A2", "Generated "+today.Format("2006-01-02"))
		header := []string{"Device", "Description", "Ward", "Obligation", "Due Date", "Urgency"}
		for col, h := range header {
			cell, _ := excelize.CoordinatesToCellName(col+1, 4)
			f.SetCellValue(sheet, cell, h)
		}
		for i, l := range lines {
			vals := []string{l.DeviceID, l.Description, l.Ward, l.Obligation, l.DueDate, l.Urgency}
			for col, v := range vals {
				cell, _ := excelize.CoordinatesToCellName(col+1, 5+i)
				f.SetCellValue(sheet, cell, v)
			}
		}
		filename := fmt.Sprintf("compliance_%s.xlsx", today.Format("2006-01-02"))
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
		f.Write(w)
		return
	}

	jsonResp(w, map[string]interface{}{
		"generated":     today.Format("2006-01-02"),
		"overdue_count": overdue,
		"due_soon":      dueSoon,
		"findings":      lines,
	})
}

// handleDeviceSheet renders a printable device record: identity, schedule and
// intervention history as a self-contained HTML page.
func handleDeviceSheet(w http.ResponseWriter, r *http.Request, id string) {
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

	ivRows, err := db.Query("SELECT "+interventionColumns+" FROM interventions WHERE device_id = ? ORDER BY date DESC, id DESC", id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer ivRows.Close()
	var history []Intervention
	for ivRows.Next() {
		if iv, err := scanIntervention(ivRows); err == nil {
			history = append(history, iv)
		}
	}

	esc := html.EscapeString
	deref := func(p *string) string {
		if p == nil {
			return "-"
		}
		return *p
	}

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>Device Sheet ` + esc(d.ID) + `</title><style>
body{font-family:Arial,sans-serif;margin:40px;color:#222}
h1{font-size:20px;border-bottom:2px solid #333;padding-bottom:8px}
h2{font-size:15px;margin-top:28px}
table{border-collapse:collapse;width:100%;margin-top:8px}
th,td{border:1px solid #999;padding:6px 10px;text-align:left;font-size:12px}
th{background:#eee}
.meta{color:#666;font-size:11px;margin-top:4px}
.overdue{color:#b00020;font-weight:bold}
.due_soon{color:#b86e00;font-weight:bold}
@media print{body{margin:10mm}}
</style></head><body>`)

	b.WriteString("<h1>" + esc(facilityName) + " - Device Sheet " + esc(d.ID) + "</h1>")
	b.WriteString(`<div class="meta">Generated ` + time.Now().Format("2006-01-02 15:04") + `</div>`)

	b.WriteString("<h2>Identity</h2><table>")
	identity := [][2]string{
		{"Description", d.Description}, {"Brand", d.Brand}, {"Model", d.Model},
		{"Serial Number", d.SerialNumber}, {"Ward", d.Ward}, {"Class", d.DeviceClass},
		{"Status", d.Status}, {"Commissioning Date", d.CommissioningDate},
		{"First Electrical Test", d.FirstElectricalTest},
		{"First Physical Inspection", deref(d.FirstPhysicalInspection)},
	}
	for _, kv := range identity {
		b.WriteString("<tr><th>" + esc(kv[0]) + "</th><td>" + esc(kv[1]) + "</td></tr>")
	}
	b.WriteString("</table>")

	b.WriteString("<h2>Schedule</h2><table><tr><th>Obligation</th><th>Next Due</th><th>Urgency</th></tr>")
	schedule := []struct{ label, due, urgency string }{
		{"Periodic maintenance", deref(d.NextMaintenanceDue), d.MaintenanceUrgency},
		{"Electrical safety test", deref(d.NextElectricalTestDue), d.ElectricalTestUrgency},
		{"Physical inspection", deref(d.NextPhysicalInspectionDue), d.PhysicalInspectionUrgency},
	}
	for _, s := range schedule {
		b.WriteString(fmt.Sprintf(`<tr><td>%s</td><td>%s</td><td class="%s">%s</td></tr>`,
			esc(s.label), esc(s.due), esc(s.urgency), esc(s.urgency)))
	}
	b.WriteString("</table>")

	b.WriteString("<h2>Intervention History</h2><table><tr><th>ID</th><th>Date</th><th>Kind</th><th>Category</th><th>Outcome</th><th>Performer</th><th>Notes</th></tr>")
	for _, iv := range history {
		outcome := "-"
		if iv.Passed != nil {
			if *iv.Passed {
				outcome = "passed"
			} else {
				outcome = "failed"
			}
		}
		b.WriteString(fmt.Sprintf("<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>",
			esc(iv.ID), esc(iv.Date), esc(iv.Kind), esc(deref(iv.Category)), esc(outcome), esc(iv.Performer), esc(iv.Notes)))
	}
	if len(history) == 0 {
		b.WriteString(`<tr><td colspan="7">No interventions recorded</td></tr>`)
	}
	b.WriteString("</table></body></html>")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(b.String()))
}
