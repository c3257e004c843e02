package main

import (
	"net/http/httptest"
	"testing"
)

type dashboardData struct {
	ActiveDevices         int            `json:"active_devices"`
	DecommissionedDevices int            `json:"decommissioned_devices"`
	Maintenance           urgencyCounts  `json:"maintenance"`
	ElectricalTest        urgencyCounts  `json:"electrical_test"`
	PhysicalInspection    urgencyCounts  `json:"physical_inspection"`
	DevicesByClass        map[string]int `json:"devices_by_class"`
	OverdueByWard         map[string]int `json:"overdue_by_ward"`
	UnreadNotifications   int            `json:"unread_notifications"`
}

func TestDashboardCounts(t *testing.T) {
	setupTestDB(t)

	// One fully overdue, one healthy, one decommissioned
	createTestDevice(t, "radiological", "2020-01-01", "2020-01-15", strPtr("2020-02-01"))
	createTestDevice(t, "generic", "2099-01-01", "2099-01-15", nil)
	dec := createTestDevice(t, "generic", "2020-01-01", "2020-01-15", nil)
	rd := httptest.NewRequest("POST", "/api/v1/devices/"+dec.ID+"/decommission", nil)
	wd := httptest.NewRecorder()
	handleDecommissionDevice(wd, rd, dec.ID)

	r := httptest.NewRequest("GET", "/api/v1/dashboard", nil)
	w := httptest.NewRecorder()
	handleDashboard(w, r)
	if w.Code != 200 {
		t.Fatalf("dashboard: status %d", w.Code)
	}

	var d dashboardData
	decodeData(t, w.Body, &d)

	if d.ActiveDevices != 2 {
		t.Errorf("expected 2 active devices, got %d", d.ActiveDevices)
	}
	if d.DecommissionedDevices != 1 {
		t.Errorf("expected 1 decommissioned device, got %d", d.DecommissionedDevices)
	}
	if d.Maintenance.Overdue != 1 || d.Maintenance.Ok != 1 {
		t.Errorf("maintenance counts wrong: %+v", d.Maintenance)
	}
	if d.PhysicalInspection.NotApplicable != 1 || d.PhysicalInspection.Overdue != 1 {
		t.Errorf("inspection counts wrong: %+v", d.PhysicalInspection)
	}
	if d.DevicesByClass["radiological"] != 1 || d.DevicesByClass["generic"] != 1 {
		t.Errorf("class counts wrong: %+v", d.DevicesByClass)
	}
	if d.OverdueByWard["Cardiology"] != 1 {
		t.Errorf("ward counts wrong: %+v", d.OverdueByWard)
	}
}

func TestDashboardRecentInterventions(t *testing.T) {
	setupTestDB(t)

	dev := createTestDevice(t, "generic", "2023-01-01", "2023-01-15", nil)
	recordIntervention(t, dev.ID, "maintenance", "2024-06-01", strPtr("preventive"), nil)

	r := httptest.NewRequest("GET", "/api/v1/dashboard", nil)
	w := httptest.NewRecorder()
	handleDashboard(w, r)

	var d struct {
		RecentInterventions []Intervention `json:"recent_interventions"`
	}
	decodeData(t, w.Body, &d)
	if len(d.RecentInterventions) != 1 {
		t.Fatalf("expected 1 recent intervention, got %d", len(d.RecentInterventions))
	}
	if d.RecentInterventions[0].DeviceID != dev.ID {
		t.Errorf("unexpected intervention: %+v", d.RecentInterventions[0])
	}
}
