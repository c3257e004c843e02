package main

import (
	"database/sql"
	"net/http"
	"time"

	"healthgear/internal/maintenance"
)

type urgencyCounts struct {
	Overdue       int `json:"overdue"`
	DueSoon       int `json:"due_soon"`
	Ok            int `json:"ok"`
	NotApplicable int `json:"not_applicable"`
}

func (c *urgencyCounts) add(u maintenance.Urgency) {
	switch u {
	case maintenance.UrgencyOverdue:
		c.Overdue++
	case maintenance.UrgencyDueSoon:
		c.DueSoon++
	case maintenance.UrgencyOk:
		c.Ok++
	case maintenance.UrgencyNotApplicable:
		c.NotApplicable++
	}
}

func handleDashboard(w http.ResponseWriter, r *http.Request) {
	var totalActive, totalDecommissioned int
	db.QueryRow("SELECT COUNT(*) FROM devices WHERE status = 'active'").Scan(&totalActive)
	db.QueryRow("SELECT COUNT(*) FROM devices WHERE status = 'decommissioned'").Scan(&totalDecommissioned)

	rows, err := db.Query(`SELECT device_class, ward,
		next_maintenance_due, next_electrical_test_due, next_physical_inspection_due
		FROM devices WHERE status = 'active'`)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	today := time.Now()
	var maint, elec, insp urgencyCounts
	byClass := map[string]int{}
	attentionByWard := map[string]int{}

	for rows.Next() {
		var classStr, ward string
		var nextMaint, nextElec, nextInsp sql.NullString
		if err := rows.Scan(&classStr, &ward, &nextMaint, &nextElec, &nextInsp); err != nil {
			continue
		}
		class := maintenance.Class(classStr)
		byClass[classStr]++

		um := maintenance.Classify(storedDue(class, maintenance.KindMaintenance, nextMaint), today)
		ue := maintenance.Classify(storedDue(class, maintenance.KindElectricalTest, nextElec), today)
		ui := maintenance.Classify(storedDue(class, maintenance.KindPhysicalInspection, nextInsp), today)
		maint.add(um)
		elec.add(ue)
		insp.add(ui)

		if um == maintenance.UrgencyOverdue || ue == maintenance.UrgencyOverdue || ui == maintenance.UrgencyOverdue {
			if ward == "" {
				ward = "(unassigned)"
			}
			attentionByWard[ward]++
		}
	}

	recent := []Intervention{}
	ivRows, err := db.Query("SELECT " + interventionColumns + " FROM interventions ORDER BY date DESC, id DESC LIMIT 10")
	if err == nil {
		defer ivRows.Close()
		for ivRows.Next() {
			if iv, err := scanIntervention(ivRows); err == nil {
				recent = append(recent, iv)
			}
		}
	}

	var unread int
	db.QueryRow("SELECT COUNT(*) FROM notifications WHERE read_at IS NULL").Scan(&unread)

	jsonResp(w, map[string]interface{}{
		"active_devices":         totalActive,
		"decommissioned_devices": totalDecommissioned,
		"maintenance":            maint,
		"electrical_test":        elec,
		"physical_inspection":    insp,
		"devices_by_class":       byClass,
		"overdue_by_ward":        attentionByWard,
		"recent_interventions":   recent,
		"unread_notifications":   unread,
	})
}
