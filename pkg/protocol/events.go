package protocol

// WebSocket event names pushed from server to client.
const (
	EventHealth   = "health"
	EventShutdown = "shutdown"

	// Security pipeline events.
	EventSecurityBlocked  = "security.blocked"
	EventSecurityFlagged  = "security.flagged"
	EventSecretsDetected  = "security.secrets.detected"
	EventApprovalRequest  = "approval.requested"
	EventApprovalResolved = "approval.resolved"

	// Sandbox lifecycle events.
	EventSandboxCreated    = "sandbox.created"
	EventSandboxHibernated = "sandbox.hibernated"
	EventSandboxTerminated = "sandbox.terminated"

	// Cron events (payload.type carries the subtype below).
	EventCron = "cron"
)

// Cron event subtypes (in payload.type).
const (
	CronEventStarted   = "run.started"
	CronEventCompleted = "run.completed"
	CronEventFailed    = "run.failed"
	CronEventRetrying  = "run.retrying"
)
