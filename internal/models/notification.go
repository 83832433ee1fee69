package models

// Urgency is the urgency level of a notification.
type Urgency string

// Urgency levels, as understood by notify-send.
const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyCritical Urgency = "critical"
)

// Notification is a lifecycle message about a backup run.
type Notification struct {
	Summary string
	Body    string
	Urgency Urgency
}
