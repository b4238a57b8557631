package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const threadColumns = "id, participant1_id, participant2_id, last_message, last_timestamp, unread_count_p1, unread_count_p2, last_sender_id, created_at"
const messageColumns = "id, chat_id, sender_id, text, image_url, created_at, is_read"

// canonicalPair orders an unordered participant pair so that (a, b) and
// (b, a) map to the same unique key.
func canonicalPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

func scanThread(row interface{ Scan(...any) error }) (*ChatThread, error) {
	var t ChatThread
	var last, sender sql.NullString
	var lastTS sql.NullTime
	if err := row.Scan(&t.ID, &t.Participant1, &t.Participant2, &last, &lastTS, &t.UnreadCountP1, &t.UnreadCountP2, &sender, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.LastMessage = stringPtr(last)
	t.LastTimestamp = timePtr(lastTS)
	t.LastSenderID = stringPtr(sender)
	return &t, nil
}

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var text, image sql.NullString
	if err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &text, &image, &m.CreatedAt, &m.IsRead); err != nil {
		return nil, err
	}
	m.Text = stringPtr(text)
	m.ImageURL = stringPtr(image)
	return &m, nil
}

// FindThreadByPair returns the thread between a and b in either order, or nil.
func (s *SQLStore) FindThreadByPair(ctx context.Context, a, b string) (*ChatThread, error) {
	low, high := canonicalPair(a, b)
	t, err := scanThread(s.db.QueryRowContext(ctx, s.rebind("SELECT "+threadColumns+" FROM chat_threads WHERE pair_low = ? AND pair_high = ?"), low, high))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find chat thread: %w", err)
	}
	return t, nil
}

// CreateThread inserts a thread with zeroed counters. If the pair already has
// a thread the error wraps ErrConflict.
func (s *SQLStore) CreateThread(ctx context.Context, participant1, participant2 string) (*ChatThread, error) {
	low, high := canonicalPair(participant1, participant2)
	t := &ChatThread{
		ID:           uuid.NewString(),
		Participant1: participant1,
		Participant2: participant2,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO chat_threads
		(id, participant1_id, participant2_id, pair_low, pair_high, unread_count_p1, unread_count_p2, created_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?)`),
		t.ID, t.Participant1, t.Participant2, low, high, t.CreatedAt)
	if err != nil {
		return nil, wrap("failed to insert chat thread", err)
	}
	return t, nil
}

func (s *SQLStore) GetThread(ctx context.Context, id string) (*ChatThread, error) {
	return s.getThread(ctx, s.db, id)
}

func (s *SQLStore) getThread(ctx context.Context, q querier, id string) (*ChatThread, error) {
	t, err := scanThread(q.QueryRowContext(ctx, s.rebind("SELECT "+threadColumns+" FROM chat_threads WHERE id = ?"), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get chat thread: %w", err)
	}
	return t, nil
}

// ListThreadsFor returns every thread with participant as either member,
// most recently active first.
func (s *SQLStore) ListThreadsFor(ctx context.Context, participant string) ([]ChatThread, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT "+threadColumns+` FROM chat_threads
		WHERE participant1_id = ? OR participant2_id = ?
		ORDER BY COALESCE(last_timestamp, created_at) DESC`), participant, participant)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat threads: %w", err)
	}
	defer rows.Close()
	threads := []ChatThread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat thread row: %w", err)
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}

// DeleteThread removes a thread and all of its messages.
func (s *SQLStore) DeleteThread(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.deleteThread(ctx, tx, id)
	})
}

func (s *SQLStore) deleteThread(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM chat_messages WHERE chat_id = ?"), id); err != nil {
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM chat_threads WHERE id = ?"), id); err != nil {
		return fmt.Errorf("failed to delete chat thread: %w", err)
	}
	return nil
}

// AppendMessage stores msg and, in the same transaction, bumps the counter
// owned by the sender's position and replaces the thread preview. It returns
// the updated thread.
func (s *SQLStore) AppendMessage(ctx context.Context, msg *Message, preview string) (*ChatThread, error) {
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()
	msg.IsRead = false

	var thread *ChatThread
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind("INSERT INTO chat_messages ("+messageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)"),
			msg.ID, msg.ChatID, msg.SenderID, nullableString(msg.Text), nullableString(msg.ImageURL), msg.CreatedAt, msg.IsRead)
		if err != nil {
			return wrap("failed to insert chat message", err)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE chat_threads SET
			unread_count_p1 = CASE WHEN participant1_id = ? THEN unread_count_p1 + 1 ELSE unread_count_p1 END,
			unread_count_p2 = CASE WHEN participant2_id = ? THEN unread_count_p2 + 1 ELSE unread_count_p2 END,
			last_message = ?, last_timestamp = ?, last_sender_id = ?
			WHERE id = ?`),
			msg.SenderID, msg.SenderID, preview, msg.CreatedAt, msg.SenderID, msg.ChatID)
		if err != nil {
			return fmt.Errorf("failed to update chat thread: %w", err)
		}
		thread, err = s.getThread(ctx, tx, msg.ChatID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return thread, nil
}

// ListMessages returns a page of the thread's messages, newest first.
func (s *SQLStore) ListMessages(ctx context.Context, chatID string, limit, offset int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT "+messageColumns+" FROM chat_messages WHERE chat_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?"),
		chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	messages := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func (s *SQLStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, s.rebind("SELECT "+messageColumns+" FROM chat_messages WHERE id = ?"), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

// MessageRemoval describes what happened to a thread after one of its
// messages was deleted.
type MessageRemoval struct {
	ThreadDeleted bool
	Thread        *ChatThread // refreshed thread, nil when deleted
}

// DeleteMessage removes a message. If the thread has no messages left it is
// deleted too; otherwise its preview is rebuilt from the newest remaining
// message, rendered by preview. It returns nil if the message no longer
// exists.
func (s *SQLStore) DeleteMessage(ctx context.Context, id string, preview func(*Message) string) (*MessageRemoval, error) {
	var out MessageRemoval
	gone := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var chatID string
		err := tx.QueryRowContext(ctx, s.rebind("SELECT chat_id FROM chat_messages WHERE id = ?"), id).Scan(&chatID)
		if errors.Is(err, sql.ErrNoRows) {
			gone = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to find message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM chat_messages WHERE id = ?"), id); err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}

		latest, err := scanMessage(tx.QueryRowContext(ctx, s.rebind("SELECT "+messageColumns+" FROM chat_messages WHERE chat_id = ? ORDER BY created_at DESC LIMIT 1"), chatID))
		if errors.Is(err, sql.ErrNoRows) {
			out.ThreadDeleted = true
			return s.deleteThread(ctx, tx, chatID)
		}
		if err != nil {
			return fmt.Errorf("failed to find latest message: %w", err)
		}

		_, err = tx.ExecContext(ctx, s.rebind("UPDATE chat_threads SET last_message = ?, last_timestamp = ?, last_sender_id = ? WHERE id = ?"),
			preview(latest), latest.CreatedAt, latest.SenderID, chatID)
		if err != nil {
			return fmt.Errorf("failed to refresh thread preview: %w", err)
		}
		out.Thread, err = s.getThread(ctx, tx, chatID)
		return err
	})
	if err != nil || gone {
		return nil, err
	}
	return &out, nil
}

// MarkRead zeroes the counter of messages waiting for reader and flags every
// message sent by the other participant as read.
func (s *SQLStore) MarkRead(ctx context.Context, threadID, reader string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`UPDATE chat_threads SET
			unread_count_p2 = CASE WHEN participant1_id = ? THEN 0 ELSE unread_count_p2 END,
			unread_count_p1 = CASE WHEN participant2_id = ? THEN 0 ELSE unread_count_p1 END
			WHERE id = ?`), reader, reader, threadID)
		if err != nil {
			return fmt.Errorf("failed to reset unread counter: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.rebind("UPDATE chat_messages SET is_read = TRUE WHERE chat_id = ? AND sender_id <> ?"), threadID, reader)
		if err != nil {
			return fmt.Errorf("failed to mark messages read: %w", err)
		}
		return nil
	})
}
