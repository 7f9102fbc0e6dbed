package model

import "time"

// ReminderSchedule is a persisted "fire this reminder at fireAt" row.
//
// Sent is monotonic: once true it never reverts. Rows that fail mid-dispatch
// simply stay unsent and are retried on the next sweep.
type ReminderSchedule struct {
	ID          string
	SubjectID   string
	SubjectKind ItemKind
	Kind        string // e.g. "lead"
	FireAt      time.Time
	Sent        bool
	CreatedAt   time.Time
}

// Notification is the delivered record handed to the notification sink.
type Notification struct {
	ID        string
	Recipient string
	Title     string
	Body      string
	Category  string
	RelatedID string
	CreatedAt time.Time
}
