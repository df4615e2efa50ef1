package execution

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultContextBuilder(t *testing.T) {
	request, err := http.NewRequest(http.MethodPost, "/", nil)
	require.NoError(t, err)

	ctx, err := DefaultContextBuilder(context.Background(), request)
	require.NoError(t, err)

	t.Run("should expose the inbound request", func(t *testing.T) {
		assert.Same(t, request, RequestFromContext(ctx))
	})

	t.Run("should expose a background task collector", func(t *testing.T) {
		assert.NotNil(t, BackgroundFromContext(ctx))
	})

	t.Run("should return nothing for a bare context", func(t *testing.T) {
		assert.Nil(t, RequestFromContext(context.Background()))
		assert.Nil(t, BackgroundFromContext(context.Background()))
	})
}

func TestBackgroundTasks(t *testing.T) {
	t.Run("should run queued tasks in order and clear the queue", func(t *testing.T) {
		background := &BackgroundTasks{}
		var order []int

		background.Add(func(ctx context.Context) { order = append(order, 1) })
		background.Add(func(ctx context.Context) { order = append(order, 2) })
		require.Equal(t, 2, background.Len())

		background.Run(context.Background())
		assert.Equal(t, []int{1, 2}, order)
		assert.Equal(t, 0, background.Len())
	})

	t.Run("should be a no-op when empty", func(t *testing.T) {
		background := &BackgroundTasks{}
		background.Run(context.Background())
		assert.Equal(t, 0, background.Len())
	})
}
