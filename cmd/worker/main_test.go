package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/woolychat/internal/chat"
)

type fakeRepo struct {
	calls []uint64
	err   error
}

func (f *fakeRepo) ResyncConversation(_ context.Context, id uint64) (*chat.Conversation, error) {
	f.calls = append(f.calls, id)
	if f.err != nil {
		return nil, f.err
	}
	return &chat.Conversation{ID: id, MessageCount: 2, Title: "Hi"}, nil
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent([]byte(`{"event_id":"01H","type":"turn.persisted","conversation_id":7}`))
	require.NoError(t, err)
	require.EqualValues(t, 7, ev.ConversationID)

	_, err = decodeEvent([]byte(`{`))
	require.ErrorIs(t, err, errBadEvent)

	_, err = decodeEvent([]byte(`{"type":"other","conversation_id":7}`))
	require.ErrorIs(t, err, errBadEvent)

	_, err = decodeEvent([]byte(`{"type":"turn.persisted"}`))
	require.ErrorIs(t, err, errBadEvent)
}

func TestHandleEvent(t *testing.T) {
	ctx := context.Background()
	ev := chat.TurnEvent{EventID: "e1", Type: chat.EventTurnPersisted, ConversationID: 3}

	repo := &fakeRepo{}
	require.NoError(t, handleEvent(ctx, repo, ev))
	require.Equal(t, []uint64{3}, repo.calls)

	gone := &fakeRepo{err: chat.ErrConversationNotFound}
	require.NoError(t, handleEvent(ctx, gone, ev))

	broken := &fakeRepo{err: errors.New("db down")}
	require.Error(t, handleEvent(ctx, broken, ev))
}
