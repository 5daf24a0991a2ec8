package voice

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWAV_RoundTrip(t *testing.T) {
	pcm := pcmFrame(1234, 320)
	data := EncodeWAV(pcm, 16000, 1)

	if len(data) != 44+len(pcm) {
		t.Fatalf("encoded size = %d, want %d", len(data), 44+len(pcm))
	}

	got, rate, channels, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 16000 || channels != 1 {
		t.Fatalf("format = %dHz/%dch, want 16000/1", rate, channels)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("pcm mismatch after round trip")
	}
}

func TestWAV_DecodeRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":         nil,
		"not riff":      []byte("this is not audio data at all."),
		"truncated":     EncodeWAV(pcmFrame(1, 100), 16000, 1)[:30],
		"riff only":     []byte("RIFF\x00\x00\x00\x00WAVE"),
		"data sans fmt": append([]byte("RIFF\x10\x00\x00\x00WAVEdata"), []byte{4, 0, 0, 0, 1, 2, 3, 4}...),
	}
	for name, data := range cases {
		if _, _, _, err := DecodeWAV(data); err == nil {
			t.Fatalf("%s: DecodeWAV accepted invalid input", name)
		}
	}
}

func TestWAV_DecodeSkipsForeignChunks(t *testing.T) {
	pcm := pcmFrame(7, 10)
	data := EncodeWAV(pcm, 24000, 1)

	// Splice an unknown odd-length chunk between fmt and data; the decoder
	// must skip it with word alignment.
	extra := make([]byte, 8+5+1)
	copy(extra[0:4], "LIST")
	binary.LittleEndian.PutUint32(extra[4:8], 5)
	spliced := append(append(append([]byte{}, data[:36]...), extra...), data[36:]...)
	binary.LittleEndian.PutUint32(spliced[4:8], uint32(len(spliced)-8))

	got, rate, _, err := DecodeWAV(spliced)
	if err != nil {
		t.Fatalf("DecodeWAV with extra chunk: %v", err)
	}
	if rate != 24000 || !bytes.Equal(got, pcm) {
		t.Fatalf("decoded wrong payload through foreign chunk")
	}
}

func TestWAV_DecodeRejectsUnsupportedFormat(t *testing.T) {
	data := EncodeWAV(pcmFrame(1, 10), 16000, 1)
	binary.LittleEndian.PutUint16(data[20:22], 3) // IEEE float
	if _, _, _, err := DecodeWAV(data); err == nil {
		t.Fatalf("DecodeWAV accepted non-PCM format")
	}
}
