package main

import (
	"database/sql"
	"fmt"
	"time"

	"healthgear/internal/maintenance"
)

// dbtx covers both *sql.DB and *sql.Tx so recomputation can run inside the
// same transaction as the mutation that triggered it.
type dbtx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

func loadPolicy(q dbtx) (maintenance.Policy, error) {
	p := maintenance.DefaultPolicy()
	err := q.QueryRow(`SELECT maintenance_months, electrical_test_months, physical_inspection_months, mammography_inspection_months
		FROM interval_policy WHERE id = 1`).Scan(
		&p.MaintenanceMonths, &p.ElectricalTestMonths, &p.PhysicalInspectionMonths, &p.MammographyInspectionMonths)
	if err == sql.ErrNoRows {
		return maintenance.DefaultPolicy(), nil
	}
	return p, err
}

// recomputeDeviceSchedule rederives the three due dates of one device and
// writes them back. Decommissioned devices are left untouched, frozen at
// whatever they showed when taken out of service.
func recomputeDeviceSchedule(q dbtx, deviceID string) error {
	var classStr, status, commissioning, firstElectrical string
	var firstInspection sql.NullString
	err := q.QueryRow(`SELECT device_class, status, commissioning_date, first_electrical_test, first_physical_inspection
		FROM devices WHERE id = ?`, deviceID).Scan(&classStr, &status, &commissioning, &firstElectrical, &firstInspection)
	if err != nil {
		return fmt.Errorf("load device %s: %w", deviceID, err)
	}
	if status == "decommissioned" {
		return nil
	}

	class, err := maintenance.ParseClass(classStr)
	if err != nil {
		return err
	}
	dev := maintenance.Device{Class: class}
	if t, err := parseDate(commissioning); err == nil {
		dev.CommissioningDate = t
	}
	if t, err := parseDate(firstElectrical); err == nil {
		dev.FirstElectricalTest = t
	}
	if firstInspection.Valid && firstInspection.String != "" {
		if t, err := parseDate(firstInspection.String); err == nil {
			dev.FirstPhysicalInspection = &t
		}
	}

	history, err := loadInterventions(q, deviceID)
	if err != nil {
		return err
	}
	policy, err := loadPolicy(q)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	sched := maintenance.Compute(policy, dev, history)
	_, err = q.Exec(`UPDATE devices SET next_maintenance_due = ?, next_electrical_test_due = ?, next_physical_inspection_due = ?,
		updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		dueValue(sched.Maintenance), dueValue(sched.ElectricalTest), dueValue(sched.PhysicalInspection), deviceID)
	if err != nil {
		return fmt.Errorf("store schedule for %s: %w", deviceID, err)
	}
	return nil
}

// recomputeAllActive rederives due dates for every active device. Runs after
// an interval policy change.
func recomputeAllActive(q dbtx) error {
	rows, err := q.Query("SELECT id FROM devices WHERE status = 'active'")
	if err != nil {
		return err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range ids {
		if err := recomputeDeviceSchedule(q, id); err != nil {
			return err
		}
	}
	return nil
}

func loadInterventions(q dbtx, deviceID string) ([]maintenance.Intervention, error) {
	rows, err := q.Query("SELECT kind, date, category, passed FROM interventions WHERE device_id = ?", deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []maintenance.Intervention
	for rows.Next() {
		var kindStr, dateStr string
		var category sql.NullString
		var passed sql.NullInt64
		if err := rows.Scan(&kindStr, &dateStr, &category, &passed); err != nil {
			return nil, err
		}
		kind, err := maintenance.ParseKind(kindStr)
		if err != nil {
			return nil, err
		}
		iv := maintenance.Intervention{Kind: kind}
		if t, err := parseDate(dateStr); err == nil {
			iv.Date = t
		}
		if category.Valid {
			c := maintenance.Category(category.String)
			iv.Category = &c
		}
		if passed.Valid {
			b := passed.Int64 != 0
			iv.Passed = &b
		}
		history = append(history, iv)
	}
	return history, rows.Err()
}

// dueValue maps a computed due date onto the nullable DATE column. Unknown
// and not-applicable both store as NULL; reads disambiguate via device class.
func dueValue(d maintenance.DueDate) interface{} {
	if t, ok := d.Time(); ok {
		return t.Format("2006-01-02")
	}
	return nil
}

// storedDue rebuilds the engine's view of a persisted due date column.
func storedDue(class maintenance.Class, kind maintenance.Kind, v sql.NullString) maintenance.DueDate {
	if kind == maintenance.KindPhysicalInspection && !class.RequiresPhysicalInspection() {
		return maintenance.DueDate{State: maintenance.DueNotApplicable}
	}
	if !v.Valid || v.String == "" {
		return maintenance.DueDate{State: maintenance.DueUnknown}
	}
	t, err := parseDate(v.String)
	if err != nil {
		return maintenance.DueDate{State: maintenance.DueUnknown}
	}
	return maintenance.DueOn(t)
}

// urgencyFor classifies one persisted due date column against today.
func urgencyFor(class maintenance.Class, kind maintenance.Kind, v sql.NullString, today time.Time) string {
	return string(maintenance.Classify(storedDue(class, kind, v), today))
}
