package sync

import "fmt"

// OptionError reports invalid configuration at construction time. Always
// fatal: NewServer returns it instead of building a half-usable server.
type OptionError struct {
	Note string
}

func (self *OptionError) Error() string {
	return fmt.Sprintf("option error: %s", self.Note)
}

// FatalError wraps a startup failure (port bind, TLS load, missing
// control secret) with the short kind string used in spec.md's error
// taxonomy so callers can map it to a process exit code.
type FatalError struct {
	Kind string
	Note string
	Err  error
}

func (self *FatalError) Error() string {
	if self.Err != nil {
		return fmt.Sprintf("fatal error (%s): %s: %s", self.Kind, self.Note, self.Err)
	}
	return fmt.Sprintf("fatal error (%s): %s", self.Kind, self.Note)
}

func (self *FatalError) Unwrap() error {
	return self.Err
}

// Fatal error kinds.
const (
	KindAddrInUse          = "EADDRINUSE"
	KindAccessDenied       = "EACCES"
	KindNoControlSecret    = "LOGUX_NO_CONTROL_SECRET"
	KindUnknownOption      = "LOGUX_UNKNOWN_OPTION"
)

// ProtocolError is a wire-level violation reported by (or about) a sync
// peer. The connection is always closed after one of these.
type ProtocolError struct {
	Kind string
	Note string
}

func (self *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (%s): %s", self.Kind, self.Note)
}

// Protocol error kinds, matching the sync peer contract in spec.md §6.
const (
	KindWrongFormat      = "wrong-format"
	KindWrongSubprotocol = "wrong-subprotocol"
	KindWrongCredentials = "wrong-credentials"
	KindTimeout          = "timeout"
	KindBruteforce       = "bruteforce"
	KindUnknownMessage   = "unknown-message"
)

// Undo reasons, frozen per spec.md's open question about reason strings.
const (
	UndoReasonError       = "error"
	UndoReasonDenied      = "denied"
	UndoReasonUnknownType = "unknownType"
	UndoReasonWrongChannel = "wrongChannel"
)
