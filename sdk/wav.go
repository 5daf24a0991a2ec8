package voice

import (
	"encoding/binary"
	"fmt"
)

// Capture segments cross the wire as WAV-framed PCM16 so that every
// chunk is a self-contained, independently decodable unit (decoders need
// complete headers; segments never share a stream).

const wavHeaderSize = 44

// EncodeWAV wraps raw PCM16LE samples in a minimal RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRateHz, channels int) []byte {
	byteRate := sampleRateHz * channels * 2
	blockAlign := channels * 2

	out := make([]byte, wavHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRateHz))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16) // bits per sample
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out
}

// DecodeWAV extracts PCM16LE samples and format from a RIFF/WAVE payload.
func DecodeWAV(data []byte) (pcm []byte, sampleRateHz, channels int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("not a RIFF/WAVE payload")
	}

	var haveFmt bool
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkLen > len(data) {
			return nil, 0, 0, fmt.Errorf("truncated %q chunk", chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, 0, 0, fmt.Errorf("fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format != 1 || bits != 16 {
				return nil, 0, 0, fmt.Errorf("unsupported wav format %d/%d-bit", format, bits)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRateHz = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, 0, fmt.Errorf("data chunk before fmt")
			}
			return data[body : body+chunkLen], sampleRateHz, channels, nil
		}

		// Chunks are word-aligned.
		pos = body + chunkLen + chunkLen%2
	}
	return nil, 0, 0, fmt.Errorf("missing data chunk")
}
