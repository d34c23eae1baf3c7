package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"guildchat/internal/db"
	"guildchat/internal/gateway"
	"guildchat/internal/models"
	"guildchat/internal/snowflake"
	"guildchat/internal/storage"
)

const maxMessageContent = 4000

// channelMember resolves the channel and checks the caller belongs to its
// guild. It writes the error response itself on failure.
func (s *Server) channelMember(c *gin.Context, channelID, userID snowflake.ID) (models.Channel, bool) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	ch, err := s.db.GetChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			apiError(c, http.StatusNotFound, "not_found", "channel does not exist")
		} else {
			s.log.Error("channel_lookup_failed", "channel_id", channelID.String(), "error", err)
			apiError(c, http.StatusInternalServerError, "internal", "could not resolve channel")
		}
		return models.Channel{}, false
	}
	ok, err := s.db.IsMember(ctx, ch.GuildID, userID)
	if err != nil {
		s.log.Error("membership_lookup_failed", "guild_id", ch.GuildID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not resolve membership")
		return models.Channel{}, false
	}
	if !ok {
		apiError(c, http.StatusForbidden, "not_member", "you are not a member of this guild")
		return models.Channel{}, false
	}
	return ch, true
}

// queryID parses an optional snowflake query parameter, returning zero when
// absent.
func queryID(c *gin.Context, name string) (snowflake.ID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	id, err := snowflake.Parse(raw)
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid_id", name+" must be a snowflake id")
		return 0, false
	}
	return id, true
}

func (s *Server) fetchMessages(c *gin.Context) {
	userID := currentUser(c)
	channelID, ok := pathID(c, "channel_id")
	if !ok {
		return
	}
	if _, ok := s.channelMember(c, channelID, userID); !ok {
		return
	}

	after, ok := queryID(c, "after")
	if !ok {
		return
	}
	before, ok := queryID(c, "before")
	if !ok {
		return
	}
	limit := db.HistoryDefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			apiError(c, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		limit = n
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	msgs, err := s.db.FetchMessages(ctx, channelID, after, before, limit)
	if err != nil {
		s.log.Error("history_fetch_failed", "channel_id", channelID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not fetch messages")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

type createMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) createMessage(c *gin.Context) {
	userID := currentUser(c)
	channelID, ok := pathID(c, "channel_id")
	if !ok {
		return
	}

	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "invalid_body", "malformed request body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		apiError(c, http.StatusBadRequest, "empty_message", "message content is required")
		return
	}
	if len(content) > maxMessageContent {
		apiError(c, http.StatusBadRequest, "message_too_long", "message content exceeds the maximum length")
		return
	}

	ch, ok := s.channelMember(c, channelID, userID)
	if !ok {
		return
	}

	id, err := s.node.Generate()
	if err != nil {
		s.log.Error("id_generation_failed", "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "id generation unavailable")
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	msg := models.Message{ID: id, ChannelID: channelID, UserID: userID, Content: content}
	if err := s.db.InsertMessage(ctx, msg); err != nil {
		s.log.Error("message_insert_failed", "channel_id", channelID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not store message")
		return
	}
	if author, err := s.db.GetUser(ctx, userID); err == nil {
		msg.Author = &author
	}

	// Fan out only after the row is committed so history never lags the
	// stream.
	s.hub.Publish(ch.GuildID, gateway.MessageCreateEvent(msg))

	c.JSON(http.StatusCreated, msg)
}

func (s *Server) uploadAttachment(c *gin.Context) {
	userID := currentUser(c)
	channelID, ok := pathID(c, "channel_id")
	if !ok {
		return
	}
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}

	if _, ok := s.channelMember(c, channelID, userID); !ok {
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	msg, err := s.db.GetMessage(ctx, messageID)
	if err != nil {
		apiError(c, http.StatusNotFound, "not_found", "message does not exist")
		return
	}
	if msg.ChannelID != channelID {
		apiError(c, http.StatusNotFound, "not_found", "message does not exist")
		return
	}
	if msg.UserID != userID {
		apiError(c, http.StatusForbidden, "not_author", "only the author can attach files")
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid_upload", "multipart file field is required")
		return
	}
	defer file.Close()

	data, err := storage.ReadLimited(file)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			apiError(c, http.StatusRequestEntityTooLarge, "attachment_too_large", "attachment exceeds the size limit")
			return
		}
		apiError(c, http.StatusBadRequest, "invalid_upload", "could not read upload")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id, err := s.node.Generate()
	if err != nil {
		s.log.Error("id_generation_failed", "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "id generation unavailable")
		return
	}

	key := storage.AttachmentKey(messageID.String(), id.String())
	if err := s.storage.Put(ctx, key, contentType, data); err != nil {
		switch {
		case errors.Is(err, storage.ErrTooLarge):
			apiError(c, http.StatusRequestEntityTooLarge, "attachment_too_large", "attachment exceeds the size limit")
		case errors.Is(err, storage.ErrEmpty):
			apiError(c, http.StatusBadRequest, "empty_upload", "attachment payload is empty")
		default:
			s.log.Error("attachment_store_failed", "message_id", messageID.String(), "error", err)
			apiError(c, http.StatusInternalServerError, "internal", "could not store attachment")
		}
		return
	}

	att := models.Attachment{
		ID:          id,
		MessageID:   messageID,
		Filename:    header.Filename,
		ContentType: contentType,
		StorageKey:  key,
	}
	if err := s.db.InsertAttachment(ctx, att); err != nil {
		s.log.Error("attachment_insert_failed", "message_id", messageID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not store attachment")
		return
	}

	c.JSON(http.StatusCreated, att)
}

func (s *Server) downloadAttachment(c *gin.Context) {
	userID := currentUser(c)
	attachmentID, ok := pathID(c, "attachment_id")
	if !ok {
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	att, err := s.db.GetAttachment(ctx, attachmentID)
	if err != nil {
		apiError(c, http.StatusNotFound, "not_found", "attachment does not exist")
		return
	}
	msg, err := s.db.GetMessage(ctx, att.MessageID)
	if err != nil {
		apiError(c, http.StatusNotFound, "not_found", "attachment does not exist")
		return
	}
	if _, ok := s.channelMember(c, msg.ChannelID, userID); !ok {
		return
	}

	data, contentType, err := s.storage.Get(ctx, att.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNoObject) {
			apiError(c, http.StatusNotFound, "not_found", "attachment payload is missing")
			return
		}
		s.log.Error("attachment_fetch_failed", "attachment_id", attachmentID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not fetch attachment")
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+att.Filename+`"`)
	c.Data(http.StatusOK, contentType, data)
}
