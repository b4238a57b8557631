package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"movt.app/backend/internal/realtime"
	"movt.app/backend/internal/store"
	"movt.app/backend/internal/utils"
)

const (
	imagePreview        = "Imagem"
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

// ChatStore is the persistence the messaging manager depends on.
type ChatStore interface {
	Ping(ctx context.Context) error
	FindThreadByPair(ctx context.Context, a, b string) (*store.ChatThread, error)
	CreateThread(ctx context.Context, participant1, participant2 string) (*store.ChatThread, error)
	GetThread(ctx context.Context, id string) (*store.ChatThread, error)
	ListThreadsFor(ctx context.Context, participant string) ([]store.ChatThread, error)
	DeleteThread(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, msg *store.Message, preview string) (*store.ChatThread, error)
	ListMessages(ctx context.Context, chatID string, limit, offset int) ([]store.Message, error)
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	DeleteMessage(ctx context.Context, id string, preview func(*store.Message) string) (*store.MessageRemoval, error)
	MarkRead(ctx context.Context, threadID, reader string) error
	GetUsersByExternalUUIDs(ctx context.Context, uuids []string) (map[string]*store.User, error)
}

// IdentityResolver maps local user ids to external identities.
type IdentityResolver interface {
	ResolveExternalUUID(ctx context.Context, localUserID int64) (string, error)
}

type ChatService struct {
	store      ChatStore
	identities IdentityResolver
	cipher     *utils.MessageCipher
	events     realtime.Publisher
	tasks      *Background
}

func NewChatService(s ChatStore, identities IdentityResolver, cipher *utils.MessageCipher, events realtime.Publisher, tasks *Background) *ChatService {
	if events == nil {
		events = realtime.Nop{}
	}
	if tasks == nil {
		tasks = NewBackground(1)
	}
	return &ChatService{store: s, identities: identities, cipher: cipher, events: events, tasks: tasks}
}

// ThreadSummary is a thread as seen by one of its participants.
type ThreadSummary struct {
	store.ChatThread
	UnreadCount       int     `json:"unread_count"`
	ParticipantID     string  `json:"participant_id"`
	ParticipantName   string  `json:"participant_name"`
	ParticipantAvatar *string `json:"participant_avatar"`
}

// CreateOrGetThread returns the thread between the two users, creating it on
// first contact. Either argument order yields the same thread.
func (s *ChatService) CreateOrGetThread(ctx context.Context, requesterID, otherID int64) (*store.ChatThread, error) {
	if otherID == 0 {
		return nil, missingField("participant2_id")
	}
	if otherID < 0 || otherID == requesterID {
		return nil, invalidInput("invalid chat participant")
	}
	if err := s.store.Ping(ctx); err != nil {
		return nil, &Error{Kind: KindUpstream, Message: ErrUpstream.Message, Err: err}
	}

	var me, other string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		me, err = s.resolve(gctx, requesterID)
		return err
	})
	g.Go(func() (err error) {
		other, err = s.resolve(gctx, otherID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	thread, err := s.store.FindThreadByPair(ctx, me, other)
	if err != nil {
		return nil, storeError("failed to look up chat", err)
	}
	if thread != nil {
		return s.reveal(thread), nil
	}

	thread, err = s.store.CreateThread(ctx, me, other)
	if errors.Is(err, store.ErrConflict) {
		// the other participant opened the chat at the same time
		thread, err = s.store.FindThreadByPair(ctx, me, other)
	}
	if err != nil {
		return nil, storeError("failed to create chat", err)
	}
	if thread == nil {
		return nil, &Error{Kind: KindInternal, Message: "chat vanished after creation conflict"}
	}
	log.Printf("Chat %s opened between users %d and %d", thread.ID, requesterID, otherID)
	return s.reveal(thread), nil
}

// ListThreads returns the caller's threads, most recent first, with the
// caller's unread count and the other participant's profile.
func (s *ChatService) ListThreads(ctx context.Context, requesterID int64) ([]ThreadSummary, error) {
	if err := s.store.Ping(ctx); err != nil {
		return nil, &Error{Kind: KindUpstream, Message: ErrUpstream.Message, Err: err}
	}
	me, err := s.resolve(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	threads, err := s.store.ListThreadsFor(ctx, me)
	if err != nil {
		return nil, storeError("failed to list chats", err)
	}

	others := make([]string, 0, len(threads))
	for i := range threads {
		others = append(others, threads[i].Other(me))
	}
	profiles, err := s.store.GetUsersByExternalUUIDs(ctx, others)
	if err != nil {
		// names are cosmetic; fall back to placeholders
		log.Printf("Failed to load chat participant profiles: %v", err)
		profiles = map[string]*store.User{}
	}

	out := make([]ThreadSummary, 0, len(threads))
	for i := range threads {
		t := s.reveal(&threads[i])
		otherID := t.Other(me)
		summary := ThreadSummary{
			ChatThread:      *t,
			UnreadCount:     t.UnreadFor(me),
			ParticipantID:   otherID,
			ParticipantName: placeholderName(otherID),
		}
		if u := profiles[otherID]; u != nil {
			if u.Name != "" {
				summary.ParticipantName = u.Name
			}
			summary.ParticipantAvatar = u.AvatarURL
		}
		out = append(out, summary)
	}
	return out, nil
}

func placeholderName(id string) string {
	if len(id) > 5 {
		id = id[:5]
	}
	return "User " + id
}

// SendMessage appends a message to the thread. The text is encrypted before
// it is stored; the returned message carries the plaintext.
func (s *ChatService) SendMessage(ctx context.Context, threadID string, senderID int64, text, imageURL *string) (*store.Message, error) {
	text, imageURL = nonBlank(text), nonBlank(imageURL)
	if text == nil && imageURL == nil {
		return nil, ErrEmptyMessage
	}
	me, thread, err := s.participant(ctx, threadID, senderID)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{ChatID: thread.ID, SenderID: me, ImageURL: imageURL}
	preview := imagePreview
	if text != nil {
		sealed, err := s.cipher.Encrypt(*text)
		if err != nil {
			return nil, &Error{Kind: KindInternal, Message: "failed to encrypt message", Err: err}
		}
		msg.Text = &sealed
		preview = *text
	}

	if _, err := s.store.AppendMessage(ctx, msg, s.sealPreview(preview)); err != nil {
		return nil, storeError("failed to store message", err)
	}
	s.publish(realtime.Event{Type: realtime.EventMessageSent, ThreadID: thread.ID, MessageID: msg.ID, ActorID: me})

	out := *msg
	out.Text = text
	return &out, nil
}

// GetMessages returns a page of the thread, newest first, with text decrypted.
func (s *ChatService) GetMessages(ctx context.Context, threadID string, requesterID int64, limit, offset int) ([]store.Message, error) {
	if limit < 0 || offset < 0 {
		return nil, invalidInput("limit and offset must not be negative")
	}
	if limit == 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	_, thread, err := s.participant(ctx, threadID, requesterID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, thread.ID, limit, offset)
	if err != nil {
		return nil, storeError("failed to load messages", err)
	}
	for i := range messages {
		if messages[i].Text != nil {
			plain := s.cipher.Decrypt(*messages[i].Text)
			messages[i].Text = &plain
		}
	}
	return messages, nil
}

// MarkRead clears the caller's unread counter and flags the other
// participant's messages as read.
func (s *ChatService) MarkRead(ctx context.Context, threadID string, requesterID int64) error {
	me, thread, err := s.participant(ctx, threadID, requesterID)
	if err != nil {
		return err
	}
	if err := s.store.MarkRead(ctx, thread.ID, me); err != nil {
		return storeError("failed to mark chat as read", err)
	}
	s.publish(realtime.Event{Type: realtime.EventThreadRead, ThreadID: thread.ID, ActorID: me})
	return nil
}

// DeleteMessage removes one of the caller's own messages. Removing the last
// message of a thread removes the thread.
func (s *ChatService) DeleteMessage(ctx context.Context, messageID string, requesterID int64) (*store.MessageRemoval, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeError("failed to load message", err)
	}
	if msg == nil {
		return nil, newError(KindNotFound, "message not found", nil)
	}
	me, err := s.resolve(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != me {
		return nil, newError(KindForbidden, "only the sender can delete this message", nil)
	}

	removal, err := s.store.DeleteMessage(ctx, messageID, func(latest *store.Message) string {
		return s.sealPreview(s.previewOf(latest))
	})
	if err != nil {
		return nil, storeError("failed to delete message", err)
	}
	if removal == nil {
		return nil, newError(KindNotFound, "message not found", nil)
	}
	if removal.ThreadDeleted {
		log.Printf("Chat %s removed after its last message was deleted", msg.ChatID)
		s.publish(realtime.Event{Type: realtime.EventThreadDeleted, ThreadID: msg.ChatID, ActorID: me})
	} else {
		removal.Thread = s.reveal(removal.Thread)
		s.publish(realtime.Event{Type: realtime.EventMessageDeleted, ThreadID: msg.ChatID, MessageID: messageID, ActorID: me})
	}
	return removal, nil
}

// DeleteThread removes a whole thread. Either participant may do so.
func (s *ChatService) DeleteThread(ctx context.Context, threadID string, requesterID int64) error {
	me, thread, err := s.participant(ctx, threadID, requesterID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteThread(ctx, thread.ID); err != nil {
		return storeError("failed to delete chat", err)
	}
	s.publish(realtime.Event{Type: realtime.EventThreadDeleted, ThreadID: thread.ID, ActorID: me})
	return nil
}

// resolve maps a local user to its external identity, failing with
// IdentityNotFound when no identity can be established.
func (s *ChatService) resolve(ctx context.Context, userID int64) (string, error) {
	id, err := s.identities.ResolveExternalUUID(ctx, userID)
	if err != nil {
		return "", storeError("failed to resolve user identity", err)
	}
	if id == "" {
		return "", newError(KindIdentityNotFound, ErrIdentityNotFound.Message, map[string]any{"userId": userID})
	}
	return id, nil
}

// participant loads the thread and checks that userID takes part in it.
func (s *ChatService) participant(ctx context.Context, threadID string, userID int64) (string, *store.ChatThread, error) {
	if strings.TrimSpace(threadID) == "" {
		return "", nil, missingField("id")
	}
	me, err := s.resolve(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return "", nil, storeError("failed to load chat", err)
	}
	if thread == nil {
		return "", nil, newError(KindNotFound, "chat not found", nil)
	}
	if !thread.HasParticipant(me) {
		return "", nil, newError(KindForbidden, "you are not a participant of this chat", nil)
	}
	return me, thread, nil
}

func (s *ChatService) previewOf(m *store.Message) string {
	if m.Text == nil || *m.Text == "" {
		return imagePreview
	}
	return s.cipher.Decrypt(*m.Text)
}

// sealPreview encrypts a thread preview for storage. On failure the
// plaintext is stored, which Decrypt passes through unchanged.
func (s *ChatService) sealPreview(preview string) string {
	sealed, err := s.cipher.Encrypt(preview)
	if err != nil {
		log.Printf("Warning: failed to encrypt chat preview: %v", err)
		return preview
	}
	return sealed
}

// reveal returns a copy of t with its preview decrypted.
func (s *ChatService) reveal(t *store.ChatThread) *store.ChatThread {
	if t == nil {
		return nil
	}
	out := *t
	if t.LastMessage != nil {
		plain := s.cipher.Decrypt(*t.LastMessage)
		out.LastMessage = &plain
	}
	return &out
}

func (s *ChatService) publish(ev realtime.Event) {
	s.tasks.Go(fmt.Sprintf("publish %s on %s", ev.Type, ev.ThreadID), func(ctx context.Context) error {
		return s.events.Publish(ctx, ev)
	})
}

func nonBlank(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
