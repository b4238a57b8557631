package core

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movt.app/backend/internal/identity"
	"movt.app/backend/internal/realtime"
	"movt.app/backend/internal/store"
	"movt.app/backend/internal/utils"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type chatFixture struct {
	svc    *ChatService
	store  *store.SQLStore
	tasks  *Background
	events *recordingPublisher
	alice  int64
	bob    int64
	carol  int64
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	s := newTestStore(t)
	cipher, err := utils.NewMessageCipher("test-secret")
	require.NoError(t, err)
	tasks := NewBackground(2)
	t.Cleanup(tasks.Close)
	events := &recordingPublisher{}
	bridge := identity.NewBridge(s, nil, identity.NewMemoryCache(0))
	return &chatFixture{
		svc:    NewChatService(s, bridge, cipher, events, tasks),
		store:  s,
		tasks:  tasks,
		events: events,
		alice:  mustUser(t, s, "alice@example.com", "Alice"),
		bob:    mustUser(t, s, "bob@example.com", "Bob"),
		carol:  mustUser(t, s, "carol@example.com", "Carol"),
	}
}

func strPtr(s string) *string { return &s }

func TestCreateOrGetThreadIsIdempotent(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateOrGetThread(ctx, f.alice, f.bob)
	require.NoError(t, err)
	again, err := f.svc.CreateOrGetThread(ctx, f.alice, f.bob)
	require.NoError(t, err)
	reversed, err := f.svc.CreateOrGetThread(ctx, f.bob, f.alice)
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.ID, reversed.ID)
	assert.Zero(t, first.UnreadCountP1)
	assert.Nil(t, first.LastMessage)

	threads, err := f.store.ListThreadsFor(ctx, first.Participant1)
	require.NoError(t, err)
	assert.Len(t, threads, 1)
}

func TestCreateOrGetThreadConcurrent(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	ids := make([]string, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := f.alice, f.bob
			if i%2 == 1 {
				a, b = b, a
			}
			thread, err := f.svc.CreateOrGetThread(ctx, a, b)
			if assert.NoError(t, err) {
				ids[i] = thread.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestCreateOrGetThreadErrors(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrGetThread(ctx, f.alice, 0)
	requireKind(t, err, KindMissingField)
	_, err = f.svc.CreateOrGetThread(ctx, f.alice, f.alice)
	requireKind(t, err, KindInvalidInput)
	_, err = f.svc.CreateOrGetThread(ctx, f.alice, 9999)
	requireKind(t, err, KindIdentityNotFound)
}

func TestUnreadAccounting(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	thread, err := f.svc.CreateOrGetThread(ctx, f.alice, f.bob)
	require.NoError(t, err)

	for _, text := range []string{"oi", "tudo bem?", "treino amanhã"} {
		_, err := f.svc.SendMessage(ctx, thread.ID, f.alice, strPtr(text), nil)
		require.NoError(t, err)
	}

	forBob, err := f.svc.ListThreads(ctx, f.bob)
	require.NoError(t, err)
	require.Len(t, forBob, 1)
	assert.Equal(t, 3, forBob[0].UnreadCount)
	assert.Equal(t, "Alice", forBob[0].ParticipantName)
	assert.Equal(t, "treino amanhã", *forBob[0].LastMessage)

	forAlice, err := f.svc.ListThreads(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, 0, forAlice[0].UnreadCount)
	assert.Equal(t, "Bob", forAlice[0].ParticipantName)

	require.NoError(t, f.svc.MarkRead(ctx, thread.ID, f.bob))
	forBob, err = f.svc.ListThreads(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, 0, forBob[0].UnreadCount)

	messages, err := f.svc.GetMessages(ctx, thread.ID, f.bob, 0, 0)
	require.NoError(t, err)
	for _, m := range messages {
		assert.True(t, m.IsRead)
	}

	f.tasks.Wait()
	assert.ElementsMatch(t, []string{
		realtime.EventMessageSent, realtime.EventMessageSent, realtime.EventMessageSent, realtime.EventThreadRead,
	}, f.events.types())
}

func TestMessagesAreEncryptedAtRest(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	thread, err := f.svc.CreateOrGetThread(ctx, f.alice, f.bob)
	require.NoError(t, err)

	sent, err := f.svc.SendMessage(ctx, thread.ID, f.alice, strPtr("segredo"), nil)
	require.NoError(t, err)
	assert.Equal(t, "segredo", *sent.Text)

	raw, err := f.store.GetMessage(ctx, sent.ID)
	require.NoError(t, err)
	require.NotNil(t, raw.Text)
	assert.NotEqual(t, "segredo", *raw.Text)
	assert.Len(t, strings.Split(*raw.Text, ":"), 2)

	rawThread, err := f.store.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "segredo", *rawThread.LastMessage)

	messages, err := f.svc.GetMessages(ctx, thread.ID, f.bob, 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "segredo", *messages[0].Text)
}

func TestSendMessageValidation(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	thread, err := f.svc.CreateOrGetThread(ctx, f.alice, f.bob)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, thread.ID, f.alice, strPtr("   "), nil)
	requireKind(t, err, KindEmptyMessage)
	_, err = f.svc.SendMessage(ctx, thread.ID, f.carol, strPtr("hi"), nil)
	requireKind(t, err, KindForbidden)
	_, err = f.svc.SendMessage(ctx, "00000000-0000-4000-8000-000000000000", f.alice, strPtr("hi"), nil)
	requireKind(t, err, KindNotFound)

	img, err := f.svc.SendMessage(ctx, thread.ID, f.alice, nil, strPtr("https://cdn.example.com/a.jpg"))
	require.NoError(t, err)
	assert.Nil(t, img.Text)

	threads, err := f.svc.ListThreads(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, "Imagem", *threads[0].LastMessage)

	_, err = f.svc.GetMessages(ctx, thread.ID, f.carol, 10, 0)
	requireKind(t, err, KindForbidden)
	_, err = f.svc.GetMessages(ctx, thread.ID, f.alice, -1, 0)
	requireKind(t, err, KindInvalidInput)
}

func TestDeleteMessageGarbageCollectsThread(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	// single message: deleting it removes the thread
	thread, err := f.svc.CreateOrGetThread(ctx, f.alice, f.bob)
	require.NoError(t, err)
	only, err := f.svc.SendMessage(ctx, thread.ID, f.alice, strPtr("só uma"), nil)
	require.NoError(t, err)

	_, err = f.svc.DeleteMessage(ctx, only.ID, f.bob)
	requireKind(t, err, KindForbidden)

	removal, err := f.svc.DeleteMessage(ctx, only.ID, f.alice)
	require.NoError(t, err)
	assert.True(t, removal.ThreadDeleted)
	gone, err := f.store.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	_, err = f.svc.DeleteMessage(ctx, only.ID, f.alice)
	requireKind(t, err, KindNotFound)

	// two messages: deleting the newer restores the older preview
	thread, err = f.svc.CreateOrGetThread(ctx, f.alice, f.bob)
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, thread.ID, f.alice, strPtr("primeira"), nil)
	require.NoError(t, err)
	newer, err := f.svc.SendMessage(ctx, thread.ID, f.bob, strPtr("segunda"), nil)
	require.NoError(t, err)

	removal, err = f.svc.DeleteMessage(ctx, newer.ID, f.bob)
	require.NoError(t, err)
	assert.False(t, removal.ThreadDeleted)
	require.NotNil(t, removal.Thread)
	assert.Equal(t, "primeira", *removal.Thread.LastMessage)

	threads, err := f.svc.ListThreads(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "primeira", *threads[0].LastMessage)
	aliceUUID, err := identity.NewBridge(f.store, nil, nil).ResolveExternalUUID(ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, aliceUUID, *threads[0].LastSenderID)
}

// racingDeleteStore removes the message just before the service's own
// delete runs, as a concurrent request would.
type racingDeleteStore struct {
	*store.SQLStore
}

func (s racingDeleteStore) DeleteMessage(ctx context.Context, id string, preview func(*store.Message) string) (*store.MessageRemoval, error) {
	if _, err := s.SQLStore.DeleteMessage(ctx, id, preview); err != nil {
		return nil, err
	}
	return s.SQLStore.DeleteMessage(ctx, id, preview)
}

func TestDeleteMessageLosingRaceIsNotFound(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	thread, err := f.svc.CreateOrGetThread(ctx, f.alice, f.bob)
	require.NoError(t, err)
	msg, err := f.svc.SendMessage(ctx, thread.ID, f.alice, strPtr("oi"), nil)
	require.NoError(t, err)

	cipher, err := utils.NewMessageCipher("test-secret")
	require.NoError(t, err)
	svc := NewChatService(racingDeleteStore{f.store}, identity.NewBridge(f.store, nil, nil), cipher, f.events, f.tasks)

	_, err = svc.DeleteMessage(ctx, msg.ID, f.alice)
	requireKind(t, err, KindNotFound)
}

func TestDeleteThread(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	thread, err := f.svc.CreateOrGetThread(ctx, f.alice, f.bob)
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, thread.ID, f.alice, strPtr("oi"), nil)
	require.NoError(t, err)

	requireKind(t, f.svc.DeleteThread(ctx, thread.ID, f.carol), KindForbidden)
	require.NoError(t, f.svc.DeleteThread(ctx, thread.ID, f.bob))

	threads, err := f.svc.ListThreads(ctx, f.alice)
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestListThreadsPlaceholderName(t *testing.T) {
	assert.Equal(t, "User 5a1f3", placeholderName("5a1f3c2b-7d4e-4f60-9a8b-1c2d3e4f5a6b"))
	assert.Equal(t, "User ab", placeholderName("ab"))
}
