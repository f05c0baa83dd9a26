package messaging

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixmart-dev/fixmart/internal/apperr"
	"github.com/fixmart-dev/fixmart/internal/identity"
	"github.com/fixmart-dev/fixmart/internal/models"
	"github.com/fixmart-dev/fixmart/internal/tasks"
	"github.com/fixmart-dev/fixmart/internal/testutil"
)

func newTestService(t *testing.T) (*Service, *testutil.Enqueuer) {
	t.Helper()
	db := testutil.NewDB(t)
	for _, id := range []string{"alice", "bob", "carol"} {
		testutil.SeedUser(t, db, &identity.Identity{ID: id})
	}
	enqueuer := &testutil.Enqueuer{}
	return NewService(db, enqueuer, zerolog.Nop()), enqueuer
}

func TestStartConversation_IdempotentPerPair(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.StartConversation(ctx, "bob", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", first.ParticipantA)
	assert.Equal(t, "bob", first.ParticipantB)

	again, err := svc.StartConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	product := &models.Product{OwnerID: "alice", Title: "Kindle", PriceCents: 4000, Condition: "fair"}
	require.NoError(t, svc.db.Create(product).Error)

	aboutProduct, err := svc.StartConversation(ctx, "bob", "alice", product.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, aboutProduct.ID)

	_, err = svc.StartConversation(ctx, "bob", "bob", "")
	testutil.RequireKind(t, err, apperr.KindValidationFailed)

	_, err = svc.StartConversation(ctx, "bob", "nobody", "")
	testutil.RequireKind(t, err, apperr.KindNotFound)

	_, err = svc.StartConversation(ctx, "bob", "alice", "missing")
	testutil.RequireKind(t, err, apperr.KindNotFound)
}

func TestSend_EnqueuesNotification(t *testing.T) {
	svc, enqueuer := newTestService(t)
	ctx := context.Background()

	conversation, err := svc.StartConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)

	_, err = svc.Send(ctx, conversation.ID, "alice", "   ")
	testutil.RequireKind(t, err, apperr.KindValidationFailed)

	message, err := svc.Send(ctx, conversation.ID, "alice", " Is it still available? ")
	require.NoError(t, err)
	assert.Equal(t, "Is it still available?", message.Body)
	assert.Equal(t, []string{tasks.TypeMessageNotify}, enqueuer.Types())

	payload, err := tasks.ParsePayload[tasks.MessagePayload](enqueuer.Tasks[0])
	require.NoError(t, err)
	assert.Equal(t, message.ID, payload.MessageID)

	loaded, err := svc.GetConversation(ctx, conversation.ID)
	require.NoError(t, err)
	assert.NotNil(t, loaded.LastMessageAt)
}

func TestMessagesAndUnreadCounts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conversation, err := svc.StartConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)

	first, err := svc.Send(ctx, conversation.ID, "alice", "hi")
	require.NoError(t, err)
	_, err = svc.Send(ctx, conversation.ID, "alice", "still there?")
	require.NoError(t, err)
	_, err = svc.Send(ctx, conversation.ID, "bob", "yes")
	require.NoError(t, err)

	messages, err := svc.ListMessages(ctx, conversation.ID, "")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, first.ID, messages[0].ID)

	newer, err := svc.ListMessages(ctx, conversation.ID, first.ID)
	require.NoError(t, err)
	assert.Len(t, newer, 2)

	summaries, err := svc.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(2), summaries[0].UnreadCount)

	marked, err := svc.MarkRead(ctx, conversation.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	summaries, err = svc.ListConversations(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, summaries[0].UnreadCount)

	none, err := svc.ListConversations(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNotifyMessage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conversation, err := svc.StartConversation(ctx, "alice", "bob", "")
	require.NoError(t, err)
	message, err := svc.Send(ctx, conversation.ID, "alice", strings.Repeat("a", 200))
	require.NoError(t, err)

	require.NoError(t, svc.NotifyMessage(ctx, message.ID))
	require.NoError(t, svc.NotifyMessage(ctx, "missing"))

	notifications, err := svc.ListNotifications(ctx, "bob", true)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, models.NotificationMessage, notifications[0].Kind)
	assert.Equal(t, message.ID, notifications[0].SubjectID)
	assert.Len(t, []rune(notifications[0].Body), maxPreviewRunes)

	read, err := svc.MarkNotificationRead(ctx, notifications[0].ID)
	require.NoError(t, err)
	assert.NotNil(t, read.ReadAt)

	unread, err := svc.ListNotifications(ctx, "bob", true)
	require.NoError(t, err)
	assert.Empty(t, unread)

	all, err := svc.ListNotifications(ctx, "bob", false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Already-read messages are not announced
	_, err = svc.MarkRead(ctx, conversation.ID, "bob")
	require.NoError(t, err)
	require.NoError(t, svc.NotifyMessage(ctx, message.ID))
	all, err = svc.ListNotifications(ctx, "bob", false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = svc.MarkNotificationRead(ctx, "missing")
	testutil.RequireKind(t, err, apperr.KindNotFound)
}
