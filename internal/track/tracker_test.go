package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupIdempotence(t *testing.T) {
	tr := New(30*time.Second, time.Hour)
	now := time.Now().UTC()

	assert.True(t, tr.ShouldProcess("o1", now))
	tr.MarkProcessed("o1")

	assert.False(t, tr.ShouldProcess("o1", now), "second delivery must be rejected")
	assert.Equal(t, 1, tr.Count())
}

func TestWatermarkFiltering(t *testing.T) {
	tr := New(30*time.Second, time.Hour)

	old := time.Now().UTC().Add(-5 * time.Minute)
	assert.False(t, tr.ShouldProcess("historic", old),
		"events before the watermark are replay, regardless of orderId novelty")

	fresh := time.Now().UTC()
	assert.True(t, tr.ShouldProcess("historic", fresh))
}

func TestWatermarkBufferToleratesSkew(t *testing.T) {
	tr := New(30*time.Second, time.Hour)

	// An event timestamped slightly in the past (within the skew buffer)
	// must still process.
	skewed := time.Now().UTC().Add(-10 * time.Second)
	assert.True(t, tr.ShouldProcess("skewed", skewed))
}

func TestCleanupEvictsByAge(t *testing.T) {
	tr := New(30*time.Second, 50*time.Millisecond)
	now := time.Now().UTC()

	tr.MarkProcessed("old")
	time.Sleep(80 * time.Millisecond)
	tr.MarkProcessed("new")

	tr.Cleanup()

	assert.Equal(t, 1, tr.Count())
	assert.True(t, tr.ShouldProcess("old", now.Add(time.Second)),
		"evicted entry may process again after the retention window")
	assert.False(t, tr.ShouldProcess("new", now.Add(time.Second)))
}
