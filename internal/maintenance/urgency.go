package maintenance

import "time"

// Urgency classifies a due date relative to today. It drives dashboard
// badges, report coloring and the notification generator; nothing outside
// this package reimplements the thresholds.
type Urgency string

const (
	UrgencyOverdue       Urgency = "overdue"
	UrgencyDueSoon       Urgency = "due_soon"
	UrgencyOk            Urgency = "ok"
	UrgencyNotApplicable Urgency = "not_applicable"
)

// DueSoonWindowMonths is the look-ahead window for flagging an upcoming
// obligation before it becomes overdue.
const DueSoonWindowMonths = 2

// Classify maps one due date and "today" to an urgency. An unknown due date
// classifies as overdue: equipment whose mandatory deadline cannot be
// determined is a compliance red flag, not a healthy state. That is distinct
// from a not-applicable obligation, which stays out of every alert.
func Classify(due DueDate, today time.Time) Urgency {
	switch due.State {
	case DueNotApplicable:
		return UrgencyNotApplicable
	case DueUnknown:
		return UrgencyOverdue
	}
	return ClassifyDate(due.Date, today)
}

// ClassifyDate classifies a known due date. Split out for callers that read
// an already-persisted date back from storage.
func ClassifyDate(due, today time.Time) Urgency {
	if due.Before(today) {
		return UrgencyOverdue
	}
	if due.Before(AddMonths(today, DueSoonWindowMonths)) {
		return UrgencyDueSoon
	}
	return UrgencyOk
}
