package server

import (
	"net/http"
	"testing"
	"time"

	"sokoni/internal/models"
	"sokoni/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEndpoints(t *testing.T) {
	ts := newTestServer(t)
	buyer := testutil.CreateUser(t, ts.db, models.RoleCustomer)
	shop := testutil.CreateUser(t, ts.db, models.RoleRetailer)
	stranger := testutil.CreateUser(t, ts.db, models.RoleCustomer)
	require.NoError(t, ts.db.Model(buyer).Update("phone", "+255700000010").Error)

	buyerTok := ts.tokenFor(t, buyer)
	shopTok := ts.tokenFor(t, shop)
	strangerTok := ts.tokenFor(t, stranger)

	status, body := ts.doJSON(t, http.MethodPost, "/api/messages/send", map[string]interface{}{
		"receiverId": shop.ID,
		"content":    "Do you deliver to Moshi?",
	}, buyerTok)
	require.Equal(t, http.StatusCreated, status, body)
	data := body["data"].(map[string]interface{})
	convID := uint(data["conversationId"].(float64))
	msgID := uint(data["id"].(float64))
	sender := data["sender"].(map[string]interface{})
	assert.Equal(t, buyer.Name, sender["name"])
	assert.NotContains(t, sender, "phone")

	assert.Eventually(t, func() bool {
		return ts.notificationCount(t, shop.ID, models.NotificationMessage) == 1
	}, 2*time.Second, 20*time.Millisecond, "the recipient gets a message notification")

	status, body = ts.doJSON(t, http.MethodPost, "/api/messages/send", map[string]interface{}{
		"conversationId": convID,
		"content":        "Yes, Thursdays",
	}, shopTok)
	require.Equal(t, http.StatusCreated, status, body)

	status, convs := ts.getList(t, "/api/messages/conversations", shopTok)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, convs, 1)
	assert.Equal(t, float64(1), convs[0]["unreadCount"])
	assert.Equal(t, "Yes, Thursdays", convs[0]["lastMessage"])
	assert.Len(t, convs[0]["participants"], 2)

	status, body = ts.doJSON(t, http.MethodGet, idPath("/api/messages/conversations/", convID, ""), nil, buyerTok)
	require.Equal(t, http.StatusOK, status)
	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "Do you deliver to Moshi?", msgs[0].(map[string]interface{})["content"])

	status, _ = ts.doJSON(t, http.MethodPatch, idPath("/api/messages/", msgID, "/read"), nil, shopTok)
	require.Equal(t, http.StatusOK, status)
	status, convs = ts.getList(t, "/api/messages/conversations", shopTok)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), convs[0]["unreadCount"])

	status, body = ts.doJSON(t, http.MethodPatch, idPath("/api/messages/conversations/", convID, "/read"), nil, buyerTok)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["count"])

	status, _ = ts.doJSON(t, http.MethodGet, idPath("/api/messages/conversations/", convID, ""), nil, strangerTok)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = ts.doJSON(t, http.MethodPost, "/api/messages/send", map[string]interface{}{
		"conversationId": convID, "content": "hello?",
	}, strangerTok)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = ts.doJSON(t, http.MethodPatch, idPath("/api/messages/", msgID, "/read"), nil, strangerTok)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = ts.doJSON(t, http.MethodPost, "/api/messages/send", map[string]interface{}{"content": "to nobody"}, buyerTok)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "conversationId or receiverId is required")

	status, _ = ts.doJSON(t, http.MethodGet, "/api/messages/conversations", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}
