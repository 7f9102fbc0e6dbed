// Package reminder computes reminder fire times and dispatches due reminders.
//
// A ReminderSchedule moves Pending -> Sent, and that transition is terminal.
// There is no Failed state: a row that fails mid-dispatch stays Pending and
// is picked up again by the next sweep. Delivery therefore has at-least-once
// intent; the notification pipeline's dedup window absorbs the duplicate a
// crash between "deliver" and "mark sent" can produce.
package reminder
