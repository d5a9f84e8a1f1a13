package voice

import (
	"testing"

	"github.com/ariavoice/aria/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taggedFrame(tag int) models.AudioFrame {
	return models.NewAudioFrame([]int16{int16(tag)}, models.DefaultSampleRate)
}

func TestNewFrameQueue(t *testing.T) {
	t.Run("with custom capacity", func(t *testing.T) {
		q := newFrameQueue(4)
		require.NotNil(t, q)
		assert.Equal(t, 4, cap(q.ch))
		assert.Equal(t, 0, q.Len())
	})

	t.Run("with zero capacity uses default", func(t *testing.T) {
		q := newFrameQueue(0)
		require.NotNil(t, q)
		assert.Equal(t, frameQueueCapacity, cap(q.ch), "should use the default capacity")
	})

	t.Run("with negative capacity uses default", func(t *testing.T) {
		q := newFrameQueue(-10)
		require.NotNil(t, q)
		assert.Equal(t, frameQueueCapacity, cap(q.ch), "should use the default capacity")
	})
}

func TestFrameQueue_Push(t *testing.T) {
	t.Run("push and drain in order", func(t *testing.T) {
		q := newFrameQueue(4)

		for i := 0; i < 3; i++ {
			assert.Equal(t, 0, q.Push(taggedFrame(i)), "queue with room should not drop")
		}
		require.Equal(t, 3, q.Len())

		for want := 0; want < 3; want++ {
			frame := <-q.C()
			assert.Equal(t, want, int(frame.PCM[0]))
		}
	})

	t.Run("overflow drops the oldest frames", func(t *testing.T) {
		q := newFrameQueue(4)

		dropped := 0
		for i := 0; i < 6; i++ {
			dropped += q.Push(taggedFrame(i))
		}
		assert.Equal(t, 2, dropped)
		require.Equal(t, 4, q.Len())

		// The two oldest frames gave way; 2 through 5 survive in order.
		for want := 2; want < 6; want++ {
			frame := <-q.C()
			assert.Equal(t, want, int(frame.PCM[0]), "freshest audio should survive an overflow")
		}
	})
}
