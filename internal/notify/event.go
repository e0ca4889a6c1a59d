package notify

// EventKind is the closed set of host events the companion reacts to.
type EventKind int

const (
	Unknown EventKind = iota
	SessionBusy
	SessionIdle
	PermissionAsked
	SessionDeleted
)

// ParseKind maps a host event type to its kind.
func ParseKind(eventType string) EventKind {
	switch eventType {
	case "session.busy":
		return SessionBusy
	case "session.idle":
		return SessionIdle
	case "permission.asked", "permission.updated":
		return PermissionAsked
	case "session.deleted":
		return SessionDeleted
	default:
		return Unknown
	}
}

func (k EventKind) String() string {
	switch k {
	case SessionBusy:
		return "session-busy"
	case SessionIdle:
		return "session-idle"
	case PermissionAsked:
		return "permission-asked"
	case SessionDeleted:
		return "session-deleted"
	default:
		return "unknown"
	}
}
