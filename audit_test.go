package main

import (
	"net/http/httptest"
	"testing"
)

func TestMutationsAreAudited(t *testing.T) {
	setupTestDB(t)

	d := createTestDevice(t, "generic", "2023-01-01", "2023-01-15", nil)
	iv := recordIntervention(t, d.ID, "maintenance", "2024-06-01", strPtr("preventive"), nil)

	r := httptest.NewRequest("DELETE", "/api/v1/interventions/"+iv.ID, nil)
	w := httptest.NewRecorder()
	handleDeleteIntervention(w, r, iv.ID)

	var count int
	db.QueryRow("SELECT COUNT(*) FROM audit_log WHERE module = 'devices' AND action = 'create'").Scan(&count)
	if count != 1 {
		t.Errorf("expected device create audited, got %d rows", count)
	}
	db.QueryRow("SELECT COUNT(*) FROM audit_log WHERE module = 'interventions' AND action = 'delete'").Scan(&count)
	if count != 1 {
		t.Errorf("expected intervention delete audited, got %d rows", count)
	}
}

func TestAuditLogFilters(t *testing.T) {
	setupTestDB(t)

	d := createTestDevice(t, "generic", "2023-01-01", "2023-01-15", nil)
	recordIntervention(t, d.ID, "maintenance", "2024-06-01", strPtr("preventive"), nil)

	r := httptest.NewRequest("GET", "/api/v1/audit?module=interventions", nil)
	w := httptest.NewRecorder()
	handleAuditLog(w, r)
	if w.Code != 200 {
		t.Fatalf("audit list: status %d", w.Code)
	}
	var items []AuditEntry
	decodeData(t, w.Body, &items)
	if len(items) != 1 {
		t.Fatalf("expected 1 intervention audit entry, got %d", len(items))
	}
	if items[0].Module != "interventions" || items[0].Username != "system" {
		t.Errorf("unexpected entry: %+v", items[0])
	}
}
