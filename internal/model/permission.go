package model

// Permission represents a string code for a specific system action.
// Admin tokens carry them; this service only checks the ones below.
type Permission string

const (
	// PermissionExamsRead allows viewing exams and their attempt progress.
	PermissionExamsRead Permission = "exams:read"

	// PermissionExamsMonitor allows following live attempt events and forcing expiry.
	PermissionExamsMonitor Permission = "exams:monitor"

	// PermissionSystemRead allows viewing process and queue metrics.
	PermissionSystemRead Permission = "system:read"
)
