package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionExamsMonitor allows watching the live session feed of an exam.
	PermissionExamsMonitor Permission = "exams:monitor"

	// PermissionExamsRead allows viewing graded results of any student.
	PermissionExamsRead Permission = "exams:read"

	// PermissionExamsPublish allows refreshing the cached definition and key of an exam.
	PermissionExamsPublish Permission = "exams:publish"
)
