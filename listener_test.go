package realtime_test

import (
	"context"
	"testing"

	"github.com/autom8ter/realtime"
	"github.com/stretchr/testify/assert"
)

func TestListenerRegistry(t *testing.T) {
	ctx := context.Background()
	t.Run("notify in registration order", func(t *testing.T) {
		l := realtime.NewListenerRegistry(nil)
		var calls []int
		for i := 0; i < 3; i++ {
			i := i
			l.Listen("db:change", func(ctx context.Context, topic string, payload any) {
				assert.Equal(t, "db:change", topic)
				assert.Equal(t, "payload", payload)
				calls = append(calls, i)
			})
		}
		l.Listen("db:insert", func(ctx context.Context, topic string, payload any) {
			t.Fatal("unexpected topic")
		})
		l.Notify(ctx, "db:change", "payload")
		assert.Equal(t, []int{0, 1, 2}, calls)
	})
	t.Run("remove one", func(t *testing.T) {
		l := realtime.NewListenerRegistry(nil)
		var calls []string
		first := l.Listen("db:change", func(ctx context.Context, topic string, payload any) {
			calls = append(calls, "first")
		})
		l.Listen("db:change", func(ctx context.Context, topic string, payload any) {
			calls = append(calls, "second")
		})
		l.RemoveListener("db:change", first)
		l.Notify(ctx, "db:change", nil)
		assert.Equal(t, []string{"second"}, calls)
	})
	t.Run("remove all on topic", func(t *testing.T) {
		l := realtime.NewListenerRegistry(nil)
		l.Listen("db:change", func(ctx context.Context, topic string, payload any) {
			t.Fatal("removed listener called")
		})
		l.Listen("db:insert", func(ctx context.Context, topic string, payload any) {})
		l.RemoveListener("db:change")
		l.Notify(ctx, "db:change", nil)
		assert.Equal(t, map[string]int{"db:insert": 1}, l.Topics())
	})
	t.Run("remove all listeners", func(t *testing.T) {
		l := realtime.NewListenerRegistry(nil)
		l.Listen("db:change", func(ctx context.Context, topic string, payload any) {})
		l.Listen("db:insert", func(ctx context.Context, topic string, payload any) {})
		l.RemoveAllListeners()
		assert.Empty(t, l.Topics())
	})
	t.Run("empty topics are deleted", func(t *testing.T) {
		l := realtime.NewListenerRegistry(nil)
		id := l.Listen("db:change", func(ctx context.Context, topic string, payload any) {})
		l.RemoveListener("db:change", id)
		assert.Empty(t, l.Topics())
	})
	t.Run("remove during notify", func(t *testing.T) {
		l := realtime.NewListenerRegistry(nil)
		var (
			calls  int
			second realtime.ListenerID
		)
		l.Listen("db:change", func(ctx context.Context, topic string, payload any) {
			calls++
			l.RemoveListener("db:change", second)
		})
		second = l.Listen("db:change", func(ctx context.Context, topic string, payload any) {
			calls++
		})
		l.Notify(ctx, "db:change", nil)
		assert.Equal(t, 2, calls, "the notified list is captured before the first call")
		l.Notify(ctx, "db:change", nil)
		assert.Equal(t, 3, calls)
	})
	t.Run("panicking listener", func(t *testing.T) {
		l := realtime.NewListenerRegistry(realtime.NewNopLogger())
		var called bool
		l.Listen("db:change", func(ctx context.Context, topic string, payload any) {
			panic("boom")
		})
		l.Listen("db:change", func(ctx context.Context, topic string, payload any) {
			called = true
		})
		assert.NotPanics(t, func() {
			l.Notify(ctx, "db:change", nil)
		})
		assert.True(t, called)
	})
}
