package models

// RetainAlways keeps every snapshot of a period.
const RetainAlways = -1

// RotationPeriods lists the periods of a rotation scheme from shortest to
// longest.
var RotationPeriods = []string{"minutely", "hourly", "daily", "weekly", "monthly", "yearly"}

// RotationScheme maps a period name to the number of snapshots to retain
// for that period.
type RotationScheme map[string]int

// DefaultRotationScheme returns the rotation scheme used when none is
// configured.
func DefaultRotationScheme() RotationScheme {
	return RotationScheme{
		"hourly":  24,
		"daily":   7,
		"weekly":  4,
		"monthly": RetainAlways,
	}
}
