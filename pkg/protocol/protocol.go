// Package protocol defines the wire messages exchanged with the voice
// backend over the session websocket.
//
// Client -> server traffic is raw binary frames carrying encoded audio,
// plus a single structured control message (Interrupt). Server -> client
// traffic is JSON frames tagged by "type"; most payloads sit under a
// "data" envelope.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Server message type tags.
const (
	TypeStateChange       = "state_change"
	TypeTranscriptUpdate  = "transcript_update"
	TypeInterimTranscript = "interim_transcript"
	TypeAudio             = "audio"
	TypeAudioMetrics      = "audio_metrics"
	TypeVADStatus         = "vad_status"
	TypeInterruptAck      = "interrupt_ack"
	TypeError             = "error"
)

// Message is a decoded server frame.
type Message interface {
	messageType() string
}

// StateChange sets the session voice state directly.
type StateChange struct {
	State string
}

func (StateChange) messageType() string { return TypeStateChange }

// TranscriptUpdate carries one transcript entry, interim or final.
type TranscriptUpdate struct {
	ID        string
	Speaker   string
	Text      string
	Timestamp float64 // seconds since epoch
	IsFinal   bool
}

func (TranscriptUpdate) messageType() string { return TypeTranscriptUpdate }

// InterimTranscript updates the live word-by-word buffer, not the caption log.
type InterimTranscript struct {
	ID   string
	Text string
}

func (InterimTranscript) messageType() string { return TypeInterimTranscript }

// Audio carries one synthesized speech payload, already base64-decoded.
type Audio struct {
	Payload []byte
}

func (Audio) messageType() string { return TypeAudio }

// AudioMetrics is a quality snapshot for the last processed utterance.
type AudioMetrics struct {
	RMS          float64 `json:"rms"`
	Peak         float64 `json:"peak"`
	SNRDB        float64 `json:"snr_db"`
	QualityScore float64 `json:"quality_score"`
	QualityLabel string  `json:"quality_label"`
	DurationMS   float64 `json:"duration_ms"`
}

func (AudioMetrics) messageType() string { return TypeAudioMetrics }

// VADStatus is the server-side endpointing snapshot.
type VADStatus struct {
	IsSpeech    bool `json:"is_speech"`
	SpeechEnded bool `json:"speech_ended"`
}

func (VADStatus) messageType() string { return TypeVADStatus }

// InterruptAck acknowledges a barge-in interrupt.
type InterruptAck struct {
	Message string
}

func (InterruptAck) messageType() string { return TypeInterruptAck }

// ServerError is a server-reported logical error. Always recoverable.
type ServerError struct {
	Message string
}

func (ServerError) messageType() string { return TypeError }

// Unknown preserves frames with an unrecognized type tag.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (u Unknown) messageType() string { return u.Type }

// Interrupt is the only structured client -> server control message.
type Interrupt struct {
	Type string `json:"type"`
}

// NewInterrupt builds the barge-in control frame.
func NewInterrupt() Interrupt {
	return Interrupt{Type: "interrupt"}
}

// Decode parses a raw server frame into a typed Message. Unrecognized
// type tags decode to Unknown rather than failing; malformed JSON or a
// missing tag is an error the caller is expected to drop and log.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("frame missing type")
	}

	switch typ {
	case TypeStateChange:
		var frame struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode state_change: %w", err)
		}
		return StateChange{State: strings.TrimSpace(frame.State)}, nil
	case TypeTranscriptUpdate:
		var frame struct {
			Data struct {
				ID        string  `json:"id"`
				Speaker   string  `json:"speaker"`
				Text      string  `json:"text"`
				Timestamp float64 `json:"timestamp"`
				IsFinal   bool    `json:"is_final"`
			} `json:"data"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode transcript_update: %w", err)
		}
		return TranscriptUpdate{
			ID:        frame.Data.ID,
			Speaker:   frame.Data.Speaker,
			Text:      frame.Data.Text,
			Timestamp: frame.Data.Timestamp,
			IsFinal:   frame.Data.IsFinal,
		}, nil
	case TypeInterimTranscript:
		var frame struct {
			Data struct {
				ID   string `json:"id"`
				Text string `json:"text"`
			} `json:"data"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode interim_transcript: %w", err)
		}
		return InterimTranscript{ID: frame.Data.ID, Text: frame.Data.Text}, nil
	case TypeAudio:
		var frame struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode audio: %w", err)
		}
		payload, err := base64.StdEncoding.DecodeString(frame.Data)
		if err != nil {
			return nil, fmt.Errorf("decode audio payload: %w", err)
		}
		return Audio{Payload: payload}, nil
	case TypeAudioMetrics:
		var frame struct {
			Data AudioMetrics `json:"data"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode audio_metrics: %w", err)
		}
		return frame.Data, nil
	case TypeVADStatus:
		var frame struct {
			Data VADStatus `json:"data"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode vad_status: %w", err)
		}
		return frame.Data, nil
	case TypeInterruptAck:
		var frame struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode interrupt_ack: %w", err)
		}
		return InterruptAck{Message: frame.Message}, nil
	case TypeError:
		var frame struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode error frame: %w", err)
		}
		return ServerError{Message: frame.Message}, nil
	default:
		return Unknown{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
