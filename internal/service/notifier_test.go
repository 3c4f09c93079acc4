package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
)

type mockInbox struct {
	mu      sync.Mutex
	created []*models.Notification
}

func (m *mockInbox) Create(_ context.Context, notification *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, notification)
	return nil
}

func (m *mockInbox) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created)
}

func TestQueuedNotifierDeliversInBackground(t *testing.T) {
	inbox := &mockInbox{}
	notifier := NewQueuedNotifier(inbox, nil)
	notifier.Start(context.Background())
	defer notifier.Stop()

	notifier.Send(context.Background(), "acct-1", "Request update", "your request moved forward")

	require.Eventually(t, func() bool {
		return inbox.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	inbox.mu.Lock()
	defer inbox.mu.Unlock()
	require.Equal(t, "acct-1", inbox.created[0].RecipientID)
}

func TestQueuedNotifierFallsBackWhenNotStarted(t *testing.T) {
	inbox := &mockInbox{}
	notifier := NewQueuedNotifier(inbox, nil)

	notifier.Send(context.Background(), "acct-1", "Request update", "delivered inline")

	require.Equal(t, 1, inbox.count())
}

func TestNotifierSkipsEmptyRecipient(t *testing.T) {
	inbox := &mockInbox{}
	notifier := NewStoreNotifier(inbox, nil)

	notifier.Send(context.Background(), "", "Request update", "nobody to tell")

	require.Equal(t, 0, inbox.count())
}
