// Package maintenance implements the due-date engine for biomedical equipment:
// given the interval policy, the installation-era facts of a device and its
// intervention history, it derives when each maintenance obligation next falls
// due and how urgent it is. Everything in this package is pure computation;
// loading and persisting the inputs is the caller's job.
package maintenance

import (
	"fmt"
	"time"
)

// Class identifies the regulatory category of a device. Only radiological and
// mammographic equipment carries a physical (radiation-safety) inspection
// obligation; mammographic units are inspected on a shorter cycle.
type Class string

const (
	ClassGeneric      Class = "generic"
	ClassRadiological Class = "radiological"
	ClassMammographic Class = "mammographic"
)

// ParseClass converts a stored class string into a Class.
func ParseClass(s string) (Class, error) {
	switch Class(s) {
	case ClassGeneric, ClassRadiological, ClassMammographic:
		return Class(s), nil
	}
	return "", fmt.Errorf("unknown device class %q", s)
}

// RequiresPhysicalInspection reports whether devices of this class carry a
// physical inspection obligation at all.
func (c Class) RequiresPhysicalInspection() bool {
	return c == ClassRadiological || c == ClassMammographic
}

// Kind is the type of a recorded intervention.
type Kind string

const (
	KindMaintenance        Kind = "maintenance"
	KindElectricalTest     Kind = "electrical_test"
	KindPhysicalInspection Kind = "physical_inspection"
)

// ParseKind converts a stored kind string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMaintenance, KindElectricalTest, KindPhysicalInspection:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown intervention kind %q", s)
}

// Category distinguishes scheduled from unscheduled maintenance. Only
// preventive maintenance resets the periodic maintenance clock.
type Category string

const (
	CategoryPreventive Category = "preventive"
	CategoryCorrective Category = "corrective"
)

// Policy holds the configurable months between obligations. There is one
// policy per installation; administrators may change it, after which every
// active device is recomputed.
type Policy struct {
	MaintenanceMonths           int `json:"maintenance_months"`
	ElectricalTestMonths        int `json:"electrical_test_months"`
	PhysicalInspectionMonths    int `json:"physical_inspection_months"`
	MammographyInspectionMonths int `json:"mammography_inspection_months"`
}

// DefaultPolicy returns the policy used when none has been configured.
func DefaultPolicy() Policy {
	return Policy{
		MaintenanceMonths:           12,
		ElectricalTestMonths:        24,
		PhysicalInspectionMonths:    12,
		MammographyInspectionMonths: 6,
	}
}

// Validate rejects any non-positive interval. Invalid policies must never
// reach Compute; callers validate at construction/update time.
func (p Policy) Validate() error {
	if p.MaintenanceMonths <= 0 {
		return fmt.Errorf("maintenance interval must be positive, got %d", p.MaintenanceMonths)
	}
	if p.ElectricalTestMonths <= 0 {
		return fmt.Errorf("electrical test interval must be positive, got %d", p.ElectricalTestMonths)
	}
	if p.PhysicalInspectionMonths <= 0 {
		return fmt.Errorf("physical inspection interval must be positive, got %d", p.PhysicalInspectionMonths)
	}
	if p.MammographyInspectionMonths <= 0 {
		return fmt.Errorf("mammography inspection interval must be positive, got %d", p.MammographyInspectionMonths)
	}
	return nil
}

// inspectionMonths picks the physical inspection interval for a class.
func (p Policy) inspectionMonths(c Class) int {
	if c == ClassMammographic {
		return p.MammographyInspectionMonths
	}
	return p.PhysicalInspectionMonths
}

// Device is the read-only snapshot of the device facts the engine needs.
// FirstPhysicalInspection may be nil even for radiological devices (not yet
// inspected); Decommissioned devices are never recomputed by callers.
type Device struct {
	Class                   Class
	CommissioningDate       time.Time
	FirstElectricalTest     time.Time
	FirstPhysicalInspection *time.Time
	Decommissioned          bool
}

// Intervention is one recorded maintenance event. Passed is meaningful only
// for electrical tests and physical inspections; Category only for
// maintenance. Callers populate exactly the field that applies.
type Intervention struct {
	Kind     Kind
	Date     time.Time
	Passed   *bool
	Category *Category
}

// resetsClock reports whether this intervention resets the due-date clock of
// the given kind: preventive maintenance for the maintenance clock, a passed
// test/inspection for the other two. Corrective repairs and failed checks
// leave the equipment as due as it was.
func (iv Intervention) resetsClock(kind Kind) bool {
	if iv.Kind != kind {
		return false
	}
	switch kind {
	case KindMaintenance:
		return iv.Category != nil && *iv.Category == CategoryPreventive
	case KindElectricalTest, KindPhysicalInspection:
		return iv.Passed != nil && *iv.Passed
	}
	return false
}

// DueState tells how to read a DueDate.
type DueState string

const (
	// DueScheduled means Date holds the computed due date.
	DueScheduled DueState = "scheduled"
	// DueUnknown means a mandatory reference date was missing; the due date
	// cannot be determined. Distinct from NotApplicable.
	DueUnknown DueState = "unknown"
	// DueNotApplicable means the obligation does not exist for this device
	// class.
	DueNotApplicable DueState = "not_applicable"
)

// DueDate is one computed obligation deadline.
type DueDate struct {
	State DueState
	Date  time.Time
}

// DueOn builds a scheduled due date.
func DueOn(t time.Time) DueDate { return DueDate{State: DueScheduled, Date: t} }

// Time returns the due date and true when the date is scheduled.
func (d DueDate) Time() (time.Time, bool) {
	return d.Date, d.State == DueScheduled
}

// Schedule holds the three derived due dates written back onto the device
// record after every intervention mutation.
type Schedule struct {
	Maintenance        DueDate
	ElectricalTest     DueDate
	PhysicalInspection DueDate
}

// Compute derives the full schedule for one device. It is a pure function of
// its inputs: calling it twice with the same policy, snapshot and history
// yields the same schedule, and the order of the history slice is irrelevant.
// Each of the three dates is derived independently; a missing reference for
// one never blocks the others.
//
// The empty-history case needs no special handling: with no qualifying
// intervention each clock falls back to the device's installation-era field,
// which is also what makes delete-then-recompute reset cleanly.
func Compute(p Policy, dev Device, history []Intervention) Schedule {
	return Schedule{
		Maintenance:        nextDue(KindMaintenance, p.MaintenanceMonths, dev.CommissioningDate, history),
		ElectricalTest:     nextDue(KindElectricalTest, p.ElectricalTestMonths, dev.FirstElectricalTest, history),
		PhysicalInspection: nextInspectionDue(p, dev, history),
	}
}

// nextDue computes one clock: the most recent clock-resetting intervention of
// kind, else the fallback reference date, plus months. A zero fallback with
// no history yields DueUnknown rather than an error.
func nextDue(kind Kind, months int, fallback time.Time, history []Intervention) DueDate {
	ref, ok := latestReset(kind, history)
	if !ok {
		if fallback.IsZero() {
			return DueDate{State: DueUnknown}
		}
		ref = fallback
	}
	return DueOn(AddMonths(ref, months))
}

func nextInspectionDue(p Policy, dev Device, history []Intervention) DueDate {
	if !dev.Class.RequiresPhysicalInspection() {
		return DueDate{State: DueNotApplicable}
	}
	months := p.inspectionMonths(dev.Class)
	ref, ok := latestReset(KindPhysicalInspection, history)
	if !ok {
		if dev.FirstPhysicalInspection == nil || dev.FirstPhysicalInspection.IsZero() {
			return DueDate{State: DueUnknown}
		}
		ref = *dev.FirstPhysicalInspection
	}
	return DueOn(AddMonths(ref, months))
}

// latestReset finds the most recent intervention that resets the clock of
// kind, regardless of slice order.
func latestReset(kind Kind, history []Intervention) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, iv := range history {
		if !iv.resetsClock(kind) {
			continue
		}
		if !found || iv.Date.After(latest) {
			latest = iv.Date
			found = true
		}
	}
	return latest, found
}

// AddMonths advances a date by n calendar months using Go's normalization
// rules (Jan 31 + 1 month = Mar 2/3). All call sites add months through here
// so every clock normalizes the same way.
func AddMonths(t time.Time, n int) time.Time {
	return t.AddDate(0, n, 0)
}
