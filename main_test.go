package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

var testDBCounter int64

// setupTestDB points the global db at a fresh in-memory database. Shared
// cache keeps the database visible across pooled connections.
func setupTestDB(t *testing.T) {
	t.Helper()
	n := atomic.AddInt64(&testDBCounter, 1)
	if err := initDB(fmt.Sprintf("file:hgtest%d?mode=memory&cache=shared", n)); err != nil {
		t.Fatalf("initDB: %v", err)
	}
	seedDB()
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	return buf
}

func decodeData(t *testing.T, body *bytes.Buffer, out interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (body: %s)", err, body.String())
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("decode data: %v (body: %s)", err, body.String())
	}
}

func createTestDevice(t *testing.T, class, commissioning, firstElectrical string, firstInspection *string) Device {
	t.Helper()
	req := deviceRequest{
		Description:             "Test " + class + " device",
		Ward:                    "Cardiology",
		DeviceClass:             class,
		CommissioningDate:       commissioning,
		FirstElectricalTest:     firstElectrical,
		FirstPhysicalInspection: firstInspection,
	}
	r := httptest.NewRequest("POST", "/api/v1/devices", jsonBody(t, req))
	w := httptest.NewRecorder()
	handleCreateDevice(w, r)
	if w.Code != 200 {
		t.Fatalf("create device: status %d: %s", w.Code, w.Body.String())
	}
	var d Device
	decodeData(t, w.Body, &d)
	return d
}

func getTestDevice(t *testing.T, id string) Device {
	t.Helper()
	r := httptest.NewRequest("GET", "/api/v1/devices/"+id, nil)
	w := httptest.NewRecorder()
	handleGetDevice(w, r, id)
	if w.Code != 200 {
		t.Fatalf("get device %s: status %d: %s", id, w.Code, w.Body.String())
	}
	var d Device
	decodeData(t, w.Body, &d)
	return d
}

func recordIntervention(t *testing.T, deviceID, kind, date string, category *string, passed *bool) Intervention {
	t.Helper()
	req := interventionRequest{
		DeviceID: deviceID,
		Kind:     kind,
		Date:     date,
		Category: category,
		Passed:   passed,
	}
	r := httptest.NewRequest("POST", "/api/v1/interventions", jsonBody(t, req))
	w := httptest.NewRecorder()
	handleCreateIntervention(w, r)
	if w.Code != 200 {
		t.Fatalf("create intervention: status %d: %s", w.Code, w.Body.String())
	}
	var iv Intervention
	decodeData(t, w.Body, &iv)
	return iv
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func wantDue(t *testing.T, got *string, want string) {
	t.Helper()
	if got == nil {
		t.Fatalf("expected due date %s, got null", want)
	}
	if *got != want {
		t.Errorf("expected due date %s, got %s", want, *got)
	}
}
