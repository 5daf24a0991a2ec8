package voice

import (
	"testing"
)

func TestCaptionLog_NonFinalRunCollapses(t *testing.T) {
	log := NewCaptionLog()

	log.Merge(Caption{ID: "a", Speaker: SpeakerUser, Text: "hel"})
	log.Merge(Caption{ID: "a", Speaker: SpeakerUser, Text: "hello"})
	merged := log.Merge(Caption{ID: "a", Speaker: SpeakerUser, Text: "hello world", IsFinal: true})

	if got := log.Len(); got != 1 {
		t.Fatalf("len = %d after one speaker run, want 1", got)
	}
	if merged.Text != "hello world" || !merged.IsFinal {
		t.Fatalf("merged = %+v, want final %q", merged, "hello world")
	}
}

func TestCaptionLog_FinalCaptionIsImmutable(t *testing.T) {
	log := NewCaptionLog()

	log.Merge(Caption{ID: "a", Speaker: SpeakerUser, Text: "done", IsFinal: true})
	log.Merge(Caption{ID: "b", Speaker: SpeakerUser, Text: "next"})

	caps := log.Snapshot()
	if len(caps) != 2 {
		t.Fatalf("len = %d, want 2: final tail must not be replaced", len(caps))
	}
	if caps[0].Text != "done" {
		t.Fatalf("final caption mutated to %q", caps[0].Text)
	}
}

func TestCaptionLog_SpeakerChangeStartsNewEntry(t *testing.T) {
	log := NewCaptionLog()

	log.Merge(Caption{ID: "u", Speaker: SpeakerUser, Text: "question"})
	log.Merge(Caption{ID: "a", Speaker: SpeakerAssistant, Text: "ans"})
	log.Merge(Caption{ID: "a", Speaker: SpeakerAssistant, Text: "answer", IsFinal: true})

	caps := log.Snapshot()
	if len(caps) != 2 {
		t.Fatalf("len = %d, want 2 (one entry per speaker run)", len(caps))
	}
	if caps[0].Speaker != SpeakerUser || caps[1].Speaker != SpeakerAssistant {
		t.Fatalf("speaker order = %v %v", caps[0].Speaker, caps[1].Speaker)
	}
	if caps[1].Text != "answer" {
		t.Fatalf("assistant caption = %q, want %q", caps[1].Text, "answer")
	}
}

func TestCaptionLog_EmptyIDGetsGenerated(t *testing.T) {
	log := NewCaptionLog()
	c := log.Merge(Caption{Speaker: SpeakerAssistant, Text: "hi", IsFinal: true})
	if c.ID == "" {
		t.Fatalf("merged caption has no id")
	}
}

func TestCaptionLog_SnapshotIsACopy(t *testing.T) {
	log := NewCaptionLog()
	log.Merge(Caption{ID: "a", Speaker: SpeakerUser, Text: "original", IsFinal: true})

	caps := log.Snapshot()
	caps[0].Text = "mutated"

	if got := log.Snapshot()[0].Text; got != "original" {
		t.Fatalf("snapshot mutation leaked into the log: %q", got)
	}
}
