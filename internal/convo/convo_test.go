package convo

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/stretchr/testify/assert"

	"github.com/steveyegge/gatewayd/internal/gwerrors"
	"github.com/steveyegge/gatewayd/internal/gwtypes"
)

func newTestConvoStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, WithNamespace("test"))
}

func TestCreateWithSystemPromptSeedsFirstMessage(t *testing.T) {
	s := newTestConvoStore(t)
	ctx := context.Background()

	conv, err := s.Create(ctx, "claude-3-opus", "you are terse", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.MessageCount)

	msgs, err := s.Messages(ctx, conv.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, gwtypes.RoleSystem, msgs[0].Role)
	assert.Equal(t, "you are terse", msgs[0].Content)
}

func TestAppendMessageBumpsCountAndOrder(t *testing.T) {
	s := newTestConvoStore(t)
	ctx := context.Background()

	conv, err := s.Create(ctx, "echo", "", nil)
	require.NoError(t, err)

	require.NoError(t, s.AppendMessage(ctx, conv.ConversationID, gwtypes.Message{Role: gwtypes.RoleUser, Content: "hello"}))
	require.NoError(t, s.AppendMessage(ctx, conv.ConversationID, gwtypes.Message{Role: gwtypes.RoleAssistant, Content: "hi there"}))

	got, err := s.Get(ctx, conv.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)

	msgs, err := s.Messages(ctx, conv.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "hi there", msgs[1].Content)
}

func TestAppendMessageToMissingConversationFails(t *testing.T) {
	s := newTestConvoStore(t)
	err := s.AppendMessage(context.Background(), "nope", gwtypes.Message{Role: gwtypes.RoleUser, Content: "x"})
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeNotFound, gwerrors.CodeOf(err))
}

func TestMessagesRespectsLimit(t *testing.T) {
	s := newTestConvoStore(t)
	ctx := context.Background()

	conv, err := s.Create(ctx, "echo", "", nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendMessage(ctx, conv.ConversationID, gwtypes.Message{Role: gwtypes.RoleUser, Content: "m"}))
	}

	msgs, err := s.Messages(ctx, conv.ConversationID, 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestMessageCapTrimsOldest(t *testing.T) {
	s := newTestConvoStore(t)
	s.messageCap = 3
	ctx := context.Background()

	conv, err := s.Create(ctx, "echo", "", nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendMessage(ctx, conv.ConversationID, gwtypes.Message{Role: gwtypes.RoleUser, Content: string(rune('a' + i))}))
	}

	msgs, err := s.Messages(ctx, conv.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "c", msgs[0].Content)
	assert.Equal(t, "e", msgs[2].Content)
}

func TestDeleteRemovesConversationAndMessages(t *testing.T) {
	s := newTestConvoStore(t)
	ctx := context.Background()

	conv, err := s.Create(ctx, "echo", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, conv.ConversationID))

	got, err := s.Get(ctx, conv.ConversationID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteMessagesClearsCountButKeepsConversation(t *testing.T) {
	s := newTestConvoStore(t)
	ctx := context.Background()

	conv, err := s.Create(ctx, "echo", "seed", nil)
	require.NoError(t, err)
	require.Equal(t, 1, conv.MessageCount)

	require.NoError(t, s.DeleteMessages(ctx, conv.ConversationID))

	got, err := s.Get(ctx, conv.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0, got.MessageCount)

	msgs, err := s.Messages(ctx, conv.ConversationID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
