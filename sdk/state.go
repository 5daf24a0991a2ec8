package voice

import "strings"

// VoiceState is the session-wide conversation state. Exactly one value is
// active at a time and only the Session mutates it.
type VoiceState string

const (
	StateIdle         VoiceState = "idle"
	StateListening    VoiceState = "listening"
	StateThinking     VoiceState = "thinking"
	StateSpeaking     VoiceState = "speaking"
	StateError        VoiceState = "error"
	StateReconnecting VoiceState = "reconnecting"
)

// ParseVoiceState maps a wire state string onto a VoiceState. Unrecognized
// values are returned as-is with ok=false so callers can drop them.
func ParseVoiceState(s string) (VoiceState, bool) {
	switch VoiceState(strings.TrimSpace(s)) {
	case StateIdle:
		return StateIdle, true
	case StateListening:
		return StateListening, true
	case StateThinking:
		return StateThinking, true
	case StateSpeaking:
		return StateSpeaking, true
	case StateError:
		return StateError, true
	case StateReconnecting:
		return StateReconnecting, true
	default:
		return VoiceState(s), false
	}
}

// ConnectionState tracks the reconnect budget. Mutated only by the
// Session's reconnection logic; Attempts never exceeds MaxAttempts.
type ConnectionState struct {
	Attempts    uint
	MaxAttempts uint
	LastError   string
}
