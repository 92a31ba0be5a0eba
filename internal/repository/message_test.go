package repository

import (
	"context"
	"testing"
	"time"

	"sokoni/internal/models"
	"sokoni/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRepository_ConversationIsUniquePerPair(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	a := testutil.CreateUser(t, db, models.RoleCustomer)
	b := testutil.CreateUser(t, db, models.RoleRetailer)

	c1, err := repo.FindOrCreateConversation(ctx, b.ID, a.ID)
	require.NoError(t, err)
	c2, err := repo.FindOrCreateConversation(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)
	assert.True(t, c1.HasParticipant(a.ID) && c1.HasParticipant(b.ID))
	assert.Equal(t, b.ID, c1.OtherParticipant(a.ID))
	require.Len(t, c1.Participants, 2)

	got, err := repo.GetConversation(ctx, c1.ID)
	require.NoError(t, err)
	assert.Len(t, got.Participants, 2)

	_, err = repo.GetConversation(ctx, 999)
	assert.True(t, models.IsCode(err, models.CodeNotFound))
}

func TestMessageRepository_ThreadUnreadAndReceipts(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	buyer := testutil.CreateUser(t, db, models.RoleCustomer)
	shop := testutil.CreateUser(t, db, models.RoleRetailer)
	other := testutil.CreateUser(t, db, models.RoleRetailer)

	conv, err := repo.FindOrCreateConversation(ctx, buyer.ID, shop.ID)
	require.NoError(t, err)
	quiet, err := repo.FindOrCreateConversation(ctx, buyer.ID, other.ID)
	require.NoError(t, err)

	send := func(from uint, body string, at time.Time) *models.Message {
		m := &models.Message{ConversationID: conv.ID, SenderID: from, Content: body, Type: models.MessageText, CreatedAt: at}
		require.NoError(t, repo.CreateMessage(ctx, m))
		return m
	}
	m1 := send(buyer.ID, "Habari, is the shuka in stock?", now)
	m2 := send(shop.ID, "Yes, three left", now.Add(time.Minute))
	m3 := send(shop.ID, "Red and blue", now.Add(2*time.Minute))

	err = repo.CreateMessage(ctx, &models.Message{ConversationID: 4242, SenderID: buyer.ID, Content: "lost", CreatedAt: now})
	assert.True(t, models.IsCode(err, models.CodeNotFound), "a message needs an existing conversation")

	var refreshed models.Conversation
	require.NoError(t, db.First(&refreshed, conv.ID).Error)
	assert.Equal(t, "Red and blue", refreshed.LastMessage)

	convs, err := repo.ListConversations(ctx, buyer.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, conv.ID, convs[0].ID, "active conversations sort first")
	assert.Equal(t, quiet.ID, convs[1].ID)

	counts, err := repo.UnreadCounts(ctx, buyer.ID, []uint{conv.ID, quiet.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[conv.ID])
	assert.Zero(t, counts[quiet.ID])

	msgs, err := repo.ListMessages(ctx, conv.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, m2.ID, msgs[0].ID, "the newest page is returned oldest first")
	assert.Equal(t, m3.ID, msgs[1].ID)
	require.NotNil(t, msgs[0].Sender)
	assert.Equal(t, shop.Name, msgs[0].Sender.Name)

	fresh, err := repo.MarkRead(ctx, m2.ID, buyer.ID, now)
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, err = repo.MarkRead(ctx, m2.ID, buyer.ID, now)
	require.NoError(t, err)
	assert.False(t, fresh, "receipts are recorded once")

	n, err := repo.MarkConversationRead(ctx, conv.ID, buyer.ID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	counts, err = repo.UnreadCounts(ctx, buyer.ID, []uint{conv.ID})
	require.NoError(t, err)
	assert.Zero(t, counts[conv.ID])

	counts, err = repo.UnreadCounts(ctx, shop.ID, []uint{conv.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[conv.ID], "the shop has not read the buyer's first message")

	require.NoError(t, db.Model(&models.Message{}).Where("id = ?", m1.ID).Update("is_deleted", true).Error)
	_, err = repo.GetMessage(ctx, m1.ID)
	assert.True(t, models.IsCode(err, models.CodeNotFound))
	counts, err = repo.UnreadCounts(ctx, shop.ID, []uint{conv.ID})
	require.NoError(t, err)
	assert.Zero(t, counts[conv.ID], "deleted messages are not unread")
}
