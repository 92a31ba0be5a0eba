package service

import (
	"context"
	"strings"
	"testing"

	"sokoni/internal/models"
	"sokoni/internal/notifications"
	"sokoni/internal/repository"
	"sokoni/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type messageEnv struct {
	db     *gorm.DB
	svc    *MessageService
	notify *notificationsMock
	pub    *publisherMock
}

func newMessageEnv(t *testing.T) *messageEnv {
	t.Helper()
	db := testutil.NewTestDB(t)
	notify := &notificationsMock{}
	pub := &publisherMock{}
	svc := NewMessageService(repository.NewMessageRepository(db), repository.NewUserRepository(db), notify, pub).
		WithClock(newFakeClock(t0).Now)
	svc.dispatch = syncDispatch
	return &messageEnv{db: db, svc: svc, notify: notify, pub: pub}
}

func TestMessageService_SendDeliversLiveAndStored(t *testing.T) {
	env := newMessageEnv(t)
	ctx := context.Background()
	buyer := testutil.CreateUser(t, env.db, models.RoleCustomer)
	shop := testutil.CreateUser(t, env.db, models.RoleRetailer)

	env.pub.On("PublishUserEvent", mock.Anything, shop.ID, mock.MatchedBy(func(ev notifications.Event) bool {
		m, ok := ev.Payload.(*models.Message)
		return ev.Type == "message" && ok && m.Content == "Is the honey raw?"
	})).Return(nil).Once()
	env.notify.On("Notify", mock.Anything, mock.MatchedBy(func(n *models.Notification) bool {
		return n.RecipientID == shop.ID && n.Type == models.NotificationMessage &&
			n.Title == "New message from "+buyer.Name && n.Message == "Is the honey raw?"
	})).Return(nil).Once()

	msg, err := env.svc.Send(ctx, SendMessageInput{SenderID: buyer.ID, ReceiverID: shop.ID, Content: "  Is the honey raw?  "})
	require.NoError(t, err)
	assert.Equal(t, models.MessageText, msg.Type)
	assert.True(t, t0.Equal(msg.CreatedAt), "messages are stamped by the service clock")
	require.NotNil(t, msg.Sender)
	assert.Equal(t, buyer.ID, msg.Sender.ID)
	env.pub.AssertExpectations(t)
	env.notify.AssertExpectations(t)

	env.pub.On("PublishUserEvent", mock.Anything, buyer.ID, mock.Anything).Return(nil).Once()
	env.notify.On("Notify", mock.Anything, mock.MatchedBy(func(n *models.Notification) bool {
		return n.RecipientID == buyer.ID
	})).Return(nil).Once()
	reply, err := env.svc.Send(ctx, SendMessageInput{SenderID: shop.ID, ConversationID: msg.ConversationID, Content: "Straight from Baringo"})
	require.NoError(t, err)
	assert.Equal(t, msg.ConversationID, reply.ConversationID)

	convs, err := env.svc.ListConversations(ctx, buyer.ID, 20, 0)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "Straight from Baringo", convs[0].LastMessage)
	assert.Equal(t, int64(1), convs[0].UnreadCount)
	assert.Len(t, convs[0].Participants, 2)
}

func TestMessageService_SendRejections(t *testing.T) {
	env := newMessageEnv(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, env.db, models.RoleCustomer)
	b := testutil.CreateUser(t, env.db, models.RoleRetailer)
	c := testutil.CreateUser(t, env.db, models.RoleCustomer)

	cases := []struct {
		name string
		in   SendMessageInput
		code string
	}{
		{"empty", SendMessageInput{SenderID: a.ID, ReceiverID: b.ID, Content: "   "}, models.CodeValidation},
		{"too long", SendMessageInput{SenderID: a.ID, ReceiverID: b.ID, Content: strings.Repeat("a", models.MaxMessageLength+1)}, models.CodeValidation},
		{"bad type", SendMessageInput{SenderID: a.ID, ReceiverID: b.ID, Content: "hi", Type: "sticker"}, models.CodeValidation},
		{"attachment without url", SendMessageInput{SenderID: a.ID, ReceiverID: b.ID, Content: "see", Attachments: models.Attachments{{Name: "x.pdf"}}}, models.CodeValidation},
		{"no target", SendMessageInput{SenderID: a.ID, Content: "hi"}, models.CodeValidation},
		{"self", SendMessageInput{SenderID: a.ID, ReceiverID: a.ID, Content: "hi"}, models.CodeValidation},
		{"unknown receiver", SendMessageInput{SenderID: a.ID, ReceiverID: 9999, Content: "hi"}, models.CodeNotFound},
		{"unknown conversation", SendMessageInput{SenderID: a.ID, ConversationID: 9999, Content: "hi"}, models.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Send(ctx, tc.in)
			assert.True(t, models.IsCode(err, tc.code), "got %v", err)
		})
	}

	env.pub.On("PublishUserEvent", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	env.notify.On("Notify", mock.Anything, mock.Anything).Return(nil)
	msg, err := env.svc.Send(ctx, SendMessageInput{SenderID: a.ID, ReceiverID: b.ID, Content: "private"})
	require.NoError(t, err)

	_, err = env.svc.Send(ctx, SendMessageInput{SenderID: c.ID, ConversationID: msg.ConversationID, Content: "let me in"})
	assert.True(t, models.IsCode(err, models.CodeForbidden))
	_, _, err = env.svc.GetConversation(ctx, c.ID, msg.ConversationID, 50, 0)
	assert.True(t, models.IsCode(err, models.CodeForbidden))
	assert.True(t, models.IsCode(env.svc.MarkRead(ctx, c.ID, msg.ID), models.CodeForbidden))
}

func TestMessageService_ReadReceipts(t *testing.T) {
	env := newMessageEnv(t)
	ctx := context.Background()
	a := testutil.CreateUser(t, env.db, models.RoleCustomer)
	b := testutil.CreateUser(t, env.db, models.RoleRetailer)

	env.pub.On("PublishUserEvent", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	env.notify.On("Notify", mock.Anything, mock.Anything).Return(nil)

	first, err := env.svc.Send(ctx, SendMessageInput{SenderID: a.ID, ReceiverID: b.ID, Content: "one"})
	require.NoError(t, err)
	_, err = env.svc.Send(ctx, SendMessageInput{SenderID: a.ID, ReceiverID: b.ID, Content: "two"})
	require.NoError(t, err)

	require.NoError(t, env.svc.MarkRead(ctx, a.ID, first.ID), "reading your own message is a no-op")
	require.NoError(t, env.svc.MarkRead(ctx, b.ID, first.ID))

	conv, msgs, err := env.svc.GetConversation(ctx, b.ID, first.ConversationID, 50, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), conv.UnreadCount)
	require.Len(t, msgs[0].ReadBy, 1)
	assert.Equal(t, b.ID, msgs[0].ReadBy[0].UserID)

	n, err := env.svc.MarkConversationRead(ctx, b.ID, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.True(t, models.IsCode(env.svc.MarkRead(ctx, b.ID, 9999), models.CodeNotFound))
}

func TestPreviewText(t *testing.T) {
	assert.Equal(t, "short", previewText("short"))
	long := strings.Repeat("ñ", messagePreviewRunes+5)
	got := previewText(long)
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.Equal(t, messagePreviewRunes+1, len([]rune(got)))
}
