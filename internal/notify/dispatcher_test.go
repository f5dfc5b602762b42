package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
)

type stubNotifier struct {
	mu       sync.Mutex
	sent     []string
	failures int
}

func (n *stubNotifier) Send(_ context.Context, to, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failures > 0 {
		n.failures--
		return errors.New("smtp unavailable")
	}
	n.sent = append(n.sent, to+"|"+subject)
	return nil
}

func (n *stubNotifier) delivered() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	copy(out, n.sent)
	return out
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	notifier := &stubNotifier{}
	d := NewDispatcher(notifier, 8)

	d.Enqueue("a@example.com", "first", "<p>hi</p>")
	d.Enqueue("b@example.com", "second", "<p>hi</p>")
	d.Close()

	assert.Equal(t, []string{"a@example.com|first", "b@example.com|second"}, notifier.delivered())
}

func TestDispatcher_RetriesOnceThenSucceeds(t *testing.T) {
	notifier := &stubNotifier{failures: 1}
	d := NewDispatcher(notifier, 8)
	d.retryDelay = time.Millisecond

	d.Enqueue("a@example.com", "hello", "<p>hi</p>")
	d.Close()

	assert.Equal(t, []string{"a@example.com|hello"}, notifier.delivered())
}

func TestDispatcher_DropsAfterRetryFailure(t *testing.T) {
	notifier := &stubNotifier{failures: 2}
	d := NewDispatcher(notifier, 8)
	d.retryDelay = time.Millisecond

	d.Enqueue("a@example.com", "hello", "<p>hi</p>")
	d.Enqueue("b@example.com", "next", "<p>hi</p>")
	d.Close()

	// The failed message is dropped; later messages still go out.
	assert.Equal(t, []string{"b@example.com|next"}, notifier.delivered())
}

func TestDispatcher_CloseIsIdempotent(t *testing.T) {
	d := NewDispatcher(&stubNotifier{}, 1)
	d.Close()
	assert.NotPanics(t, func() { d.Close() })
}

func TestMemoryNoticeGuard(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base

	guard := NewMemoryNoticeGuard(5 * time.Minute)
	guard.now = func() time.Time { return current }

	orderID := uuid.Must(uuid.NewV4())

	assert.True(t, guard.FirstNotice(context.Background(), orderID))
	assert.False(t, guard.FirstNotice(context.Background(), orderID), "second notice within the window is suppressed")

	otherID := uuid.Must(uuid.NewV4())
	assert.True(t, guard.FirstNotice(context.Background(), otherID), "other orders are not affected")

	current = base.Add(6 * time.Minute)
	assert.True(t, guard.FirstNotice(context.Background(), orderID), "the window has passed, notice again")
}

func TestCancelNoticeKeyFormat(t *testing.T) {
	orderID := uuid.Must(uuid.FromString("550e8400-e29b-41d4-a716-446655440001"))

	key := fmt.Sprintf(cancelNoticeKey, orderID)
	assert.Equal(t, "notice:cancel:550e8400-e29b-41d4-a716-446655440001", key)
}
