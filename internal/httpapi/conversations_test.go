package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/gatewayd/internal/gwtypes"
)

func createConversation(t *testing.T, api *testAPI) gwtypes.Conversation {
	t.Helper()
	resp := postJSON(t, api.url+"/api/v1/conversations", map[string]any{"model": "echo", "system_prompt": "be terse"})
	var conv gwtypes.Conversation
	decodeJSON(t, resp, &conv)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return conv
}

func TestCreateConversationReturns201(t *testing.T) {
	api := newTestAPI(t)
	conv := createConversation(t, api)
	assert.NotEmpty(t, conv.ConversationID)
	assert.Equal(t, "echo", conv.Model)
}

func TestGetConversationReturnsCreated(t *testing.T) {
	api := newTestAPI(t)
	conv := createConversation(t, api)

	resp, err := http.Get(api.url + "/api/v1/conversations/" + conv.ConversationID)
	require.NoError(t, err)
	var got gwtypes.Conversation
	decodeJSON(t, resp, &got)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, conv.ConversationID, got.ConversationID)
}

func TestGetConversationMissingReturns404(t *testing.T) {
	api := newTestAPI(t)
	resp, err := http.Get(api.url + "/api/v1/conversations/does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteConversationRemovesIt(t *testing.T) {
	api := newTestAPI(t)
	conv := createConversation(t, api)

	req, _ := http.NewRequest(http.MethodDelete, api.url+"/api/v1/conversations/"+conv.ConversationID, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	getResp, err := http.Get(api.url + "/api/v1/conversations/" + conv.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestAppendAndListConversationMessages(t *testing.T) {
	api := newTestAPI(t)
	conv := createConversation(t, api)

	resp := postJSON(t, api.url+"/api/v1/conversations/"+conv.ConversationID+"/messages", gwtypes.Message{
		Role:    gwtypes.RoleUser,
		Content: "hello there",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	listResp, err := http.Get(api.url + "/api/v1/conversations/" + conv.ConversationID + "/messages")
	require.NoError(t, err)
	var msgs []gwtypes.Message
	decodeJSON(t, listResp, &msgs)

	// system prompt seeds the first message, the appended user message is second.
	require.Len(t, msgs, 2)
	assert.Equal(t, gwtypes.RoleUser, msgs[1].Role)
	assert.Equal(t, "hello there", msgs[1].Content)
}

func TestDeleteConversationMessagesClearsHistory(t *testing.T) {
	api := newTestAPI(t)
	conv := createConversation(t, api)

	req, _ := http.NewRequest(http.MethodDelete, api.url+"/api/v1/conversations/"+conv.ConversationID+"/messages", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	listResp, err := http.Get(api.url + "/api/v1/conversations/" + conv.ConversationID + "/messages")
	require.NoError(t, err)
	var msgs []gwtypes.Message
	decodeJSON(t, listResp, &msgs)
	assert.Empty(t, msgs)
}
