package main

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCreateDeviceComputesInitialSchedule(t *testing.T) {
	setupTestDB(t)

	d := createTestDevice(t, "radiological", "2023-01-01", "2023-01-15", strPtr("2023-02-01"))
	if !strings.HasPrefix(d.ID, "HG-") {
		t.Errorf("expected HG- prefixed id, got %s", d.ID)
	}
	wantDue(t, d.NextMaintenanceDue, "2024-01-01")
	wantDue(t, d.NextElectricalTestDue, "2025-01-15")
	wantDue(t, d.NextPhysicalInspectionDue, "2024-02-01")
}

func TestCreateGenericDeviceHasNoInspectionDue(t *testing.T) {
	setupTestDB(t)

	d := createTestDevice(t, "generic", "2023-01-01", "2023-01-15", nil)
	if d.NextPhysicalInspectionDue != nil {
		t.Errorf("generic device should have no inspection due date, got %s", *d.NextPhysicalInspectionDue)
	}
	if d.PhysicalInspectionUrgency != "not_applicable" {
		t.Errorf("expected not_applicable, got %s", d.PhysicalInspectionUrgency)
	}
}

func TestCreateRadiologicalWithoutFirstInspectionIsUnknown(t *testing.T) {
	setupTestDB(t)

	d := createTestDevice(t, "radiological", "2023-01-01", "2023-01-15", nil)
	if d.NextPhysicalInspectionDue != nil {
		t.Errorf("expected null inspection due, got %s", *d.NextPhysicalInspectionDue)
	}
	// Undetermined deadlines surface as overdue, never as fine
	if d.PhysicalInspectionUrgency != "overdue" {
		t.Errorf("expected overdue for unknown due date, got %s", d.PhysicalInspectionUrgency)
	}
}

func TestCreateDeviceValidation(t *testing.T) {
	setupTestDB(t)

	cases := []struct {
		name string
		req  deviceRequest
	}{
		{"missing description", deviceRequest{DeviceClass: "generic", CommissioningDate: "2023-01-01", FirstElectricalTest: "2023-01-15"}},
		{"bad class", deviceRequest{Description: "x", DeviceClass: "radiogeno", CommissioningDate: "2023-01-01", FirstElectricalTest: "2023-01-15"}},
		{"bad date", deviceRequest{Description: "x", DeviceClass: "generic", CommissioningDate: "01/01/2023", FirstElectricalTest: "2023-01-15"}},
		{"missing electrical test", deviceRequest{Description: "x", DeviceClass: "generic", CommissioningDate: "2023-01-01"}},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("POST", "/api/v1/devices", jsonBody(t, tc.req))
		w := httptest.NewRecorder()
		handleCreateDevice(w, r)
		if w.Code != 400 {
			t.Errorf("%s: expected 400, got %d: %s", tc.name, w.Code, w.Body.String())
		}
	}
}

func TestUpdateDeviceClassChangesInspectionObligation(t *testing.T) {
	setupTestDB(t)

	d := createTestDevice(t, "generic", "2023-01-01", "2023-01-15", nil)

	req := deviceRequest{
		Description:             d.Description,
		Ward:                    d.Ward,
		DeviceClass:             "mammographic",
		CommissioningDate:       "2023-01-01",
		FirstElectricalTest:     "2023-01-15",
		FirstPhysicalInspection: strPtr("2023-02-01"),
	}
	r := httptest.NewRequest("PUT", "/api/v1/devices/"+d.ID, jsonBody(t, req))
	w := httptest.NewRecorder()
	handleUpdateDevice(w, r, d.ID)
	if w.Code != 200 {
		t.Fatalf("update: status %d: %s", w.Code, w.Body.String())
	}

	got := getTestDevice(t, d.ID)
	// Mammographic inspections run on the 6 month cycle
	wantDue(t, got.NextPhysicalInspectionDue, "2023-08-01")
}

func TestDecommissionFreezesSchedule(t *testing.T) {
	setupTestDB(t)

	d := createTestDevice(t, "radiological", "2023-01-01", "2023-01-15", strPtr("2023-02-01"))

	r := httptest.NewRequest("POST", "/api/v1/devices/"+d.ID+"/decommission", jsonBody(t, map[string]string{"date": "2024-06-30"}))
	w := httptest.NewRecorder()
	handleDecommissionDevice(w, r, d.ID)
	if w.Code != 200 {
		t.Fatalf("decommission: status %d: %s", w.Code, w.Body.String())
	}

	// A passed inspection on a decommissioned device must not move the clock
	recordIntervention(t, d.ID, "physical_inspection", "2024-07-15", nil, boolPtr(true))

	got := getTestDevice(t, d.ID)
	if got.Status != "decommissioned" {
		t.Fatalf("expected decommissioned, got %s", got.Status)
	}
	wantDue(t, got.NextPhysicalInspectionDue, "2024-02-01")

	// Reactivation recomputes, now picking up the inspection
	r2 := httptest.NewRequest("POST", "/api/v1/devices/"+d.ID+"/reactivate", nil)
	w2 := httptest.NewRecorder()
	handleReactivateDevice(w2, r2, d.ID)
	if w2.Code != 200 {
		t.Fatalf("reactivate: status %d: %s", w2.Code, w2.Body.String())
	}
	got = getTestDevice(t, d.ID)
	wantDue(t, got.NextPhysicalInspectionDue, "2025-07-15")
}

func TestUpdateDecommissionedDeviceRejected(t *testing.T) {
	setupTestDB(t)

	d := createTestDevice(t, "generic", "2023-01-01", "2023-01-15", nil)
	r := httptest.NewRequest("POST", "/api/v1/devices/"+d.ID+"/decommission", nil)
	w := httptest.NewRecorder()
	handleDecommissionDevice(w, r, d.ID)
	if w.Code != 200 {
		t.Fatalf("decommission: status %d", w.Code)
	}

	req := deviceRequest{Description: "edited", DeviceClass: "generic", CommissioningDate: "2023-01-01", FirstElectricalTest: "2023-01-15"}
	r2 := httptest.NewRequest("PUT", "/api/v1/devices/"+d.ID, jsonBody(t, req))
	w2 := httptest.NewRecorder()
	handleUpdateDevice(w2, r2, d.ID)
	if w2.Code != 409 {
		t.Errorf("expected 409 for editing decommissioned device, got %d", w2.Code)
	}
}

func TestListDevicesFilters(t *testing.T) {
	setupTestDB(t)

	createTestDevice(t, "generic", "2023-01-01", "2023-01-15", nil)
	createTestDevice(t, "radiological", "2023-01-01", "2023-01-15", strPtr("2023-02-01"))
	createTestDevice(t, "mammographic", "2023-01-01", "2023-01-15", strPtr("2023-02-01"))

	r := httptest.NewRequest("GET", "/api/v1/devices?class=radiological", nil)
	w := httptest.NewRecorder()
	handleListDevices(w, r)
	if w.Code != 200 {
		t.Fatalf("list: status %d", w.Code)
	}
	var items []Device
	decodeData(t, w.Body, &items)
	if len(items) != 1 {
		t.Fatalf("expected 1 radiological device, got %d", len(items))
	}
	if items[0].DeviceClass != "radiological" {
		t.Errorf("expected radiological, got %s", items[0].DeviceClass)
	}
}

func TestListDevicesDueFilter(t *testing.T) {
	setupTestDB(t)

	// Both reference dates are years in the past, so everything is overdue
	createTestDevice(t, "generic", "2020-01-01", "2020-01-15", nil)
	createTestDevice(t, "generic", "2020-03-01", "2020-03-15", nil)

	r := httptest.NewRequest("GET", "/api/v1/devices?due=overdue", nil)
	w := httptest.NewRecorder()
	handleListDevices(w, r)
	var items []Device
	decodeData(t, w.Body, &items)
	if len(items) != 2 {
		t.Fatalf("expected 2 overdue devices, got %d", len(items))
	}

	r2 := httptest.NewRequest("GET", "/api/v1/devices?due=due_soon", nil)
	w2 := httptest.NewRecorder()
	handleListDevices(w2, r2)
	var soon []Device
	decodeData(t, w2.Body, &soon)
	if len(soon) != 0 {
		t.Errorf("expected no due_soon devices, got %d", len(soon))
	}
}

func TestDeleteDeviceCascadesInterventions(t *testing.T) {
	setupTestDB(t)

	d := createTestDevice(t, "generic", "2023-01-01", "2023-01-15", nil)
	iv := recordIntervention(t, d.ID, "maintenance", "2023-06-01", strPtr("preventive"), nil)

	r := httptest.NewRequest("DELETE", "/api/v1/devices/"+d.ID, nil)
	w := httptest.NewRecorder()
	handleDeleteDevice(w, r, d.ID)
	if w.Code != 200 {
		t.Fatalf("delete: status %d", w.Code)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM interventions WHERE id = ?", iv.ID).Scan(&count)
	if count != 0 {
		t.Errorf("expected intervention to cascade-delete with device")
	}
}

func TestExportDevicesCSV(t *testing.T) {
	setupTestDB(t)
	createTestDevice(t, "generic", "2023-01-01", "2023-01-15", nil)

	r := httptest.NewRequest("GET", "/api/v1/devices/export", nil)
	w := httptest.NewRecorder()
	handleExportDevices(w, r)
	if w.Code != 200 {
		t.Fatalf("export: status %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("expected text/csv, got %s", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Commissioning Date") {
		t.Errorf("CSV missing header row: %s", body)
	}
	if !strings.Contains(body, "HG-") {
		t.Errorf("CSV missing device row: %s", body)
	}
}

func TestImportDevicesCSV(t *testing.T) {
	setupTestDB(t)

	csvData := "description,brand,model,serial,ward,class,commissioning,first_electrical,first_inspection\n" +
		"Infusion pump,Braun,X1,SN1,ICU,generic,2023-01-01,2023-01-15,\n" +
		"CT scanner,Siemens,Go,SN2,Radiology,radiological,2023-01-01,2023-01-15,2023-02-01\n" +
		"Broken row,,,,,,not-a-date,,\n"

	r := httptest.NewRequest("POST", "/api/v1/devices/import", strings.NewReader(csvData))
	w := httptest.NewRecorder()
	handleImportDevices(w, r)
	if w.Code != 200 {
		t.Fatalf("import: status %d: %s", w.Code, w.Body.String())
	}

	var result struct {
		Created int      `json:"created"`
		Errors  []string `json:"errors"`
	}
	decodeData(t, w.Body, &result)
	if result.Created != 2 {
		t.Errorf("expected 2 created, got %d", result.Created)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 row error, got %v", result.Errors)
	}

	// Imported devices get schedules computed like any other create
	var due string
	db.QueryRow("SELECT next_physical_inspection_due FROM devices WHERE description = 'CT scanner'").Scan(&due)
	if due != "2024-02-01" {
		t.Errorf("expected imported CT scanner inspection due 2024-02-01, got %s", due)
	}
}
