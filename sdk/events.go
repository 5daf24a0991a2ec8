package voice

import "github.com/codervipul775/voice-agent/pkg/protocol"

// Event is emitted on Session.Events() for observers (UI, logging).
// Emission is best-effort: a slow consumer never blocks the read loop.
type Event interface {
	eventType() string
}

// StateEvent reports a VoiceState transition.
type StateEvent struct {
	State VoiceState
}

func (StateEvent) eventType() string { return "state" }

// CaptionEvent reports an appended or updated caption.
type CaptionEvent struct {
	Caption Caption
}

func (CaptionEvent) eventType() string { return "caption" }

// InterimEvent reports the live word-by-word transcript buffer.
type InterimEvent struct {
	Text string
}

func (InterimEvent) eventType() string { return "interim" }

// MetricsEvent passes through server audio-quality metrics.
type MetricsEvent struct {
	Metrics protocol.AudioMetrics
}

func (MetricsEvent) eventType() string { return "audio_metrics" }

// VADEvent passes through the server endpointing snapshot.
type VADEvent struct {
	Status protocol.VADStatus
}

func (VADEvent) eventType() string { return "vad_status" }

// NoticeSeverity classifies advisory notices surfaced to the user.
type NoticeSeverity string

const (
	NoticeInfo    NoticeSeverity = "info"
	NoticeWarning NoticeSeverity = "warning"
	NoticeFatal   NoticeSeverity = "fatal"
)

// NoticeEvent is an advisory notification: reconnects, recoverable server
// errors, and the terminal retry-budget failure.
type NoticeEvent struct {
	Severity NoticeSeverity
	Message  string
}

func (NoticeEvent) eventType() string { return "notice" }
