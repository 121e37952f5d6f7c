package models

type AuditSessionStatus string

const (
	AuditSessionStatusPending   AuditSessionStatus = "PENDING"
	AuditSessionStatusActive    AuditSessionStatus = "ACTIVE"
	AuditSessionStatusCompleted AuditSessionStatus = "COMPLETED"
	AuditSessionStatusCancelled AuditSessionStatus = "CANCELLED"
)

// IsTerminal reports whether no further lifecycle transition is allowed.
func (s AuditSessionStatus) IsTerminal() bool {
	return s == AuditSessionStatusCompleted || s == AuditSessionStatusCancelled
}

type AuditAssetStatus string

const (
	AuditAssetStatusPending    AuditAssetStatus = "PENDING"
	AuditAssetStatusFound      AuditAssetStatus = "FOUND"
	AuditAssetStatusMissing    AuditAssetStatus = "MISSING"
	AuditAssetStatusUnexpected AuditAssetStatus = "UNEXPECTED"
)

type AuditNoteType string

const (
	AuditNoteTypeUpdate  AuditNoteType = "UPDATE"
	AuditNoteTypeComment AuditNoteType = "COMMENT"
)

type AuditAssignmentRole string

const (
	AuditAssignmentRoleLead AuditAssignmentRole = "LEAD"
	AuditAssignmentRoleBase AuditAssignmentRole = "BASE"
)

type ReminderJobStatus string

const (
	ReminderJobStatusPending    ReminderJobStatus = "PENDING"
	ReminderJobStatusProcessing ReminderJobStatus = "PROCESSING"
	ReminderJobStatusSent       ReminderJobStatus = "SENT"
	ReminderJobStatusFailed     ReminderJobStatus = "FAILED"
	ReminderJobStatusDead       ReminderJobStatus = "DEAD"
)

// AuditReminderEvent is the closed set of scheduled reminder stages.
// Adding a stage requires a handler in the scheduler's dispatch switch.
type AuditReminderEvent string

const (
	ReminderEvent24h     AuditReminderEvent = "REMINDER_24H"
	ReminderEvent4h      AuditReminderEvent = "REMINDER_4H"
	ReminderEvent1h      AuditReminderEvent = "REMINDER_1H"
	ReminderEventOverdue AuditReminderEvent = "OVERDUE_NOTICE"
)

func (e AuditReminderEvent) IsValid() bool {
	switch e {
	case ReminderEvent24h, ReminderEvent4h, ReminderEvent1h, ReminderEventOverdue:
		return true
	}
	return false
}
