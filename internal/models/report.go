package models

// ReportKind distinguishes structured moderation reports from free-form lines.
type ReportKind int

const (
	ReportDiagnostic ReportKind = iota
	ReportStructured
)

// ReportRecord is one queued line after parsing.
type ReportRecord struct {
	Line    string
	Kind    ReportKind
	Account string
	// Malformed is set for structured lines whose account span could not be isolated.
	Malformed bool
}

// HasAccount reports whether a private notice should follow the broadcast.
func (r ReportRecord) HasAccount() bool {
	return r.Kind == ReportStructured && r.Account != ""
}

// SessionState tracks the chat connection lifecycle.
type SessionState int

const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionAwaitingJoinAck
	SessionJoined
)

func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "Disconnected"
	case SessionConnecting:
		return "Connecting"
	case SessionAwaitingJoinAck:
		return "AwaitingJoinAck"
	case SessionJoined:
		return "Joined"
	default:
		return "Unknown"
	}
}
