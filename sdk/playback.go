package voice

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// PlaybackQueue serializes playback of server-sent audio payloads with a
// hard interrupt capability. Payloads play in strict FIFO order, one at a
// time; Stop discards everything enqueued before it, including the item
// currently in flight.
type PlaybackQueue struct {
	sink   PlaybackSink
	logger *zap.Logger

	mu      sync.Mutex
	queue   [][]byte
	playing bool
	stopped bool
	cancel  context.CancelFunc // in-flight playback, nil when idle
}

// NewPlaybackQueue returns an idle queue feeding the given sink.
func NewPlaybackQueue(sink PlaybackSink, logger *zap.Logger) *PlaybackQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlaybackQueue{sink: sink, logger: logger}
}

// Enqueue appends a payload and starts processing if idle. New audio
// arriving implicitly clears a previous Stop.
func (q *PlaybackQueue) Enqueue(payload []byte) {
	q.mu.Lock()
	q.stopped = false
	q.queue = append(q.queue, payload)
	start := !q.playing
	if start {
		q.playing = true
	}
	q.mu.Unlock()

	if start {
		go q.process()
	}
}

// process is the single queue worker. At most one decode/play is in
// flight; the worker exits when the queue drains or a Stop lands.
func (q *PlaybackQueue) process() {
	for {
		q.mu.Lock()
		if q.stopped || len(q.queue) == 0 {
			q.playing = false
			q.mu.Unlock()
			return
		}
		item := q.queue[0]
		q.queue = q.queue[1:]
		ctx, cancel := context.WithCancel(context.Background())
		q.cancel = cancel
		q.mu.Unlock()

		pcm, sampleRate, channels, err := DecodeWAV(item)
		if err != nil {
			q.logger.Warn("playback decode failed, skipping item", zap.Error(err))
			q.clearCancel(cancel)
			continue
		}

		// A Stop may have landed during decode; the pre-stop item must not play.
		q.mu.Lock()
		if q.stopped {
			q.cancel = nil
			q.mu.Unlock()
			cancel()
			continue
		}
		q.mu.Unlock()

		if err := q.sink.Play(ctx, pcm, sampleRate, channels); err != nil && ctx.Err() == nil {
			q.logger.Warn("playback failed, skipping item", zap.Error(err))
		}
		q.clearCancel(cancel)
	}
}

func (q *PlaybackQueue) clearCancel(cancel context.CancelFunc) {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel = nil
	}
	q.mu.Unlock()
	cancel()
}

// Stop sets the stopped flag, kills any in-flight playback and discards
// the pending queue. After Stop returns, nothing enqueued before it will
// play; items enqueued afterwards play normally.
func (q *PlaybackQueue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.queue = nil
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Playing reports whether a payload is being decoded or played.
func (q *PlaybackQueue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Pending reports the number of queued payloads not yet started.
func (q *PlaybackQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}
