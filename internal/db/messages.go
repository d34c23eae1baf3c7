package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"guildchat/internal/models"
	"guildchat/internal/snowflake"
)

const (
	// HistoryDefaultLimit applies when the client sends no limit.
	HistoryDefaultLimit = 50
	// HistoryMaxLimit caps a single page to bound query cost and
	// response size.
	HistoryMaxLimit = 100
)

// clampHistoryLimit normalizes a requested page size.
func clampHistoryLimit(limit int) int {
	if limit <= 0 {
		return HistoryDefaultLimit
	}
	if limit > HistoryMaxLimit {
		return HistoryMaxLimit
	}
	return limit
}

// historyQuery builds the keyset pagination query. Both id bounds are
// exclusive; a zero bound means unbounded on that side. Order is always
// descending by id (ids are time-sorted, so most recent first).
func historyQuery(channelID, after, before snowflake.ID, limit int) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT m.id, m.channel_id, m.user_id, m.content,
		u.id, u.username, u.display_name,
		COALESCE(
			(SELECT json_agg(
				json_build_object(
					'id', a.id::text,
					'message_id', a.message_id::text,
					'filename', a.filename,
					'content_type', a.content_type
				) ORDER BY a.id
			) FROM attachments a WHERE a.message_id = m.id),
			'[]'::json
		) AS attachments
	FROM messages m
	LEFT JOIN users u ON u.id = m.user_id
	WHERE m.channel_id = $1`)

	args := []any{int64(channelID)}
	if after != 0 {
		args = append(args, int64(after))
		fmt.Fprintf(&sb, " AND m.id > $%d", len(args))
	}
	if before != 0 {
		args = append(args, int64(before))
		fmt.Fprintf(&sb, " AND m.id < $%d", len(args))
	}
	args = append(args, clampHistoryLimit(limit))
	fmt.Fprintf(&sb, " ORDER BY m.id DESC LIMIT $%d", len(args))

	return sb.String(), args
}

// FetchMessages is the history reader: one keyset page of a channel's
// messages joined with author summaries (nullable when the user record is
// gone) and attachment summaries (possibly empty).
func (d *DB) FetchMessages(ctx context.Context, channelID, after, before snowflake.ID, limit int) ([]models.Message, error) {
	query, args := historyQuery(channelID, after, before, limit)
	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			id, chID       int64
			userID         *int64
			content        string
			authorID       *int64
			authorName     *string
			displayName    *string
			attachmentJSON []byte
		)
		if err := rows.Scan(&id, &chID, &userID, &content, &authorID, &authorName, &displayName, &attachmentJSON); err != nil {
			return nil, err
		}

		msg := models.Message{
			ID:          snowflake.ID(id),
			ChannelID:   snowflake.ID(chID),
			Content:     content,
			Attachments: []models.Attachment{},
		}
		if userID != nil {
			msg.UserID = snowflake.ID(*userID)
		}
		if authorID != nil && authorName != nil {
			author := models.User{ID: snowflake.ID(*authorID), Username: *authorName}
			if displayName != nil {
				author.DisplayName = *displayName
			}
			msg.Author = &author
		}
		if len(attachmentJSON) > 0 {
			if err := json.Unmarshal(attachmentJSON, &msg.Attachments); err != nil {
				return nil, fmt.Errorf("decode attachments for message %d: %w", id, err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// InsertMessage persists a message; the caller publishes MESSAGE_CREATE
// only after this commits.
func (d *DB) InsertMessage(ctx context.Context, msg models.Message) error {
	_, err := d.Pool.Exec(ctx,
		`INSERT INTO messages (id, channel_id, user_id, content) VALUES ($1, $2, $3, $4)`,
		int64(msg.ID), int64(msg.ChannelID), int64(msg.UserID), msg.Content)
	return err
}

// InsertAttachment records attachment metadata; the payload bytes are in
// the object store under StorageKey.
func (d *DB) InsertAttachment(ctx context.Context, att models.Attachment) error {
	_, err := d.Pool.Exec(ctx,
		`INSERT INTO attachments (id, message_id, filename, content_type, storage_key)
		 VALUES ($1, $2, $3, $4, $5)`,
		int64(att.ID), int64(att.MessageID), att.Filename, att.ContentType, att.StorageKey)
	return err
}

func (d *DB) GetAttachment(ctx context.Context, attachmentID snowflake.ID) (models.Attachment, error) {
	var att models.Attachment
	var id, messageID int64
	err := d.Pool.QueryRow(ctx,
		`SELECT id, message_id, filename, content_type, storage_key FROM attachments WHERE id = $1`,
		int64(attachmentID)).Scan(&id, &messageID, &att.Filename, &att.ContentType, &att.StorageKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Attachment{}, ErrNotFound
	}
	if err != nil {
		return models.Attachment{}, err
	}
	att.ID = snowflake.ID(id)
	att.MessageID = snowflake.ID(messageID)
	return att, nil
}

func (d *DB) GetMessage(ctx context.Context, messageID snowflake.ID) (models.Message, error) {
	var id, channelID int64
	var userID *int64
	var content string
	err := d.Pool.QueryRow(ctx,
		`SELECT id, channel_id, user_id, content FROM messages WHERE id = $1`,
		int64(messageID)).Scan(&id, &channelID, &userID, &content)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Message{}, ErrNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	msg := models.Message{ID: snowflake.ID(id), ChannelID: snowflake.ID(channelID), Content: content}
	if userID != nil {
		msg.UserID = snowflake.ID(*userID)
	}
	return msg, nil
}
