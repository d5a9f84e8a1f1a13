package voice

import (
	"github.com/ariavoice/aria/internal/domain/models"
)

// frameQueueCapacity bounds the mailbox between the capture path and the
// session task. At 20 ms a frame this holds about 2.5 s of audio.
const frameQueueCapacity = 128

// frameQueue is a bounded frame mailbox. Push never blocks: when the queue
// is full the oldest frames give way, so the freshest audio always gets
// through and a stalled consumer costs history, not liveness.
type frameQueue struct {
	ch chan models.AudioFrame
}

func newFrameQueue(capacity int) *frameQueue {
	if capacity <= 0 {
		capacity = frameQueueCapacity
	}
	return &frameQueue{ch: make(chan models.AudioFrame, capacity)}
}

// Push enqueues a frame, evicting the oldest entries when full. It reports
// how many frames were dropped to make room.
func (q *frameQueue) Push(frame models.AudioFrame) int {
	dropped := 0
	for {
		select {
		case q.ch <- frame:
			return dropped
		default:
		}
		select {
		case <-q.ch:
			dropped++
		default:
			// Consumer drained between the two selects; retry the send.
		}
	}
}

// C is the receive side, owned by the session task.
func (q *frameQueue) C() <-chan models.AudioFrame { return q.ch }

func (q *frameQueue) Len() int { return len(q.ch) }
