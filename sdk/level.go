package voice

import (
	"encoding/binary"
	"math"
	"sync"
)

// pcmRMS computes the root-mean-square level of a PCM16LE buffer,
// normalized to [0, 1].
func pcmRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// LevelMeter tracks a smoothed audio level over recent frames for UI
// feedback. Push is called from the capture loop; Level from anywhere.
type LevelMeter struct {
	mu        sync.Mutex
	smoothing float64
	level     float64
}

// NewLevelMeter returns a meter with the given exponential smoothing
// factor in (0, 1]; higher reacts faster.
func NewLevelMeter(smoothing float64) *LevelMeter {
	if smoothing <= 0 || smoothing > 1 {
		smoothing = 0.3
	}
	return &LevelMeter{smoothing: smoothing}
}

// Push folds one PCM frame into the smoothed level.
func (m *LevelMeter) Push(pcm []byte) {
	rms := pcmRMS(pcm)
	m.mu.Lock()
	m.level = m.level*(1-m.smoothing) + rms*m.smoothing
	m.mu.Unlock()
}

// Level reports the current smoothed level.
func (m *LevelMeter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Reset zeroes the reported level.
func (m *LevelMeter) Reset() {
	m.mu.Lock()
	m.level = 0
	m.mu.Unlock()
}
