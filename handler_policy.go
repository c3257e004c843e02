package main

import (
	"net/http"

	"healthgear/internal/maintenance"
)

func handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := loadPolicy(db)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	jsonResp(w, p)
}

// handleUpdatePolicy replaces the facility-wide interval policy and rederives
// the schedule of every active device under the new intervals, all in one
// transaction.
func handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var p maintenance.Policy
	if err := decodeBody(r, &p); err != nil {
		jsonErr(w, err.Error(), 400)
		return
	}
	if err := p.Validate(); err != nil {
		jsonErr(w, err.Error(), 400)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	_, err = tx.Exec(`UPDATE interval_policy SET maintenance_months = ?, electrical_test_months = ?,
		physical_inspection_months = ?, mammography_inspection_months = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1`,
		p.MaintenanceMonths, p.ElectricalTestMonths, p.PhysicalInspectionMonths, p.MammographyInspectionMonths)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := recomputeAllActive(tx); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(getUsername(r), AuditActionUpdate, "policy", "1", "Updated interval policy")
	broadcastChange("policy", 1, "update")
	broadcastChange("devices", "all", "update")
	jsonResp(w, p)
}
