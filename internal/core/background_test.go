package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackgroundGoNeverBlocks(t *testing.T) {
	b := newBackground(1, 1)
	t.Cleanup(b.Close)

	started := make(chan struct{})
	release := make(chan struct{})
	var ran atomic.Int32
	require.True(t, b.Go("slow", func(context.Context) error {
		close(started)
		<-release
		ran.Add(1)
		return nil
	}))
	<-started

	require.True(t, b.Go("queued", func(context.Context) error {
		ran.Add(1)
		return nil
	}))

	begin := time.Now()
	queued := b.Go("overflow", func(context.Context) error {
		ran.Add(1)
		return nil
	})
	assert.False(t, queued)
	assert.Less(t, time.Since(begin), 100*time.Millisecond)

	close(release)
	b.Wait()
	assert.Equal(t, int32(2), ran.Load())
}

func TestBackgroundSurvivesFailures(t *testing.T) {
	b := NewBackground(2)

	var ran atomic.Int32
	b.Go("fails", func(context.Context) error { return errors.New("boom") })
	b.Go("panics", func(context.Context) error { panic("boom") })
	b.Go("ok", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		ran.Add(1)
		return nil
	})
	b.Wait()
	assert.Equal(t, int32(1), ran.Load())

	b.Close()
	assert.False(t, b.Go("late", func(context.Context) error { return nil }))
	b.Close()
}
