package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"guildchat/internal/db"
	"guildchat/internal/gateway"
	"guildchat/internal/models"
)

type createGuildRequest struct {
	Name string `json:"name"`
}

func (s *Server) createGuild(c *gin.Context) {
	userID := currentUser(c)

	var req createGuildRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		apiError(c, http.StatusBadRequest, "invalid_body", "guild name is required")
		return
	}

	id, err := s.node.Generate()
	if err != nil {
		s.log.Error("id_generation_failed", "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "id generation unavailable")
		return
	}
	guild := models.Guild{ID: id, Name: req.Name, OwnerID: userID}

	ctx, cancel := s.ctx(c)
	defer cancel()
	if err := s.db.CreateGuild(ctx, guild); err != nil {
		s.log.Error("guild_create_failed", "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not create guild")
		return
	}

	// The owner's gateway sessions are not yet subscribed to the new guild,
	// so there is nobody to fan MEMBER_CREATE out to. The owner learns about
	// the guild from this response, or from GUILD_CREATE on the next connect.
	c.JSON(http.StatusCreated, guild)
}

func (s *Server) deleteGuild(c *gin.Context) {
	userID := currentUser(c)
	guildID, ok := pathID(c, "guild_id")
	if !ok {
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	guild, err := s.db.GetGuild(ctx, guildID)
	if err != nil {
		apiError(c, http.StatusNotFound, "not_found", "guild does not exist")
		return
	}
	if guild.OwnerID != userID {
		apiError(c, http.StatusForbidden, "not_owner", "only the owner can delete a guild")
		return
	}

	if err := s.db.DeleteGuild(ctx, guildID); err != nil {
		s.log.Error("guild_delete_failed", "guild_id", guildID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not delete guild")
		return
	}

	s.hub.Publish(guildID, gateway.GuildRemoveEvent(guild))

	c.Status(http.StatusNoContent)
}

func (s *Server) joinGuild(c *gin.Context) {
	userID := currentUser(c)
	guildID, ok := pathID(c, "guild_id")
	if !ok {
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	if _, err := s.db.GetGuild(ctx, guildID); err != nil {
		apiError(c, http.StatusNotFound, "not_found", "guild does not exist")
		return
	}
	member, err := s.db.AddMember(ctx, guildID, userID)
	if err != nil {
		s.log.Error("member_add_failed", "guild_id", guildID.String(), "user_id", userID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not join guild")
		return
	}

	s.hub.Publish(guildID, gateway.MemberCreateEvent(member))

	c.JSON(http.StatusOK, member)
}

func (s *Server) leaveGuild(c *gin.Context) {
	userID := currentUser(c)
	guildID, ok := pathID(c, "guild_id")
	if !ok {
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	guild, err := s.db.GetGuild(ctx, guildID)
	if err != nil {
		apiError(c, http.StatusNotFound, "not_found", "guild does not exist")
		return
	}
	if guild.OwnerID == userID {
		apiError(c, http.StatusConflict, "owner_cannot_leave", "the owner must delete the guild instead")
		return
	}
	user, err := s.db.GetUser(ctx, userID)
	if err != nil {
		apiError(c, http.StatusNotFound, "not_found", "user no longer exists")
		return
	}

	if err := s.db.RemoveMember(ctx, guildID, userID); err != nil {
		s.log.Error("member_remove_failed", "guild_id", guildID.String(), "user_id", userID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not leave guild")
		return
	}

	s.hub.Publish(guildID, gateway.MemberRemoveEvent(models.Member{GuildID: guildID, User: user}))

	c.Status(http.StatusNoContent)
}

type createChannelRequest struct {
	Name string `json:"name"`
}

func (s *Server) createChannel(c *gin.Context) {
	userID := currentUser(c)
	guildID, ok := pathID(c, "guild_id")
	if !ok {
		return
	}

	var req createChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		apiError(c, http.StatusBadRequest, "invalid_body", "channel name is required")
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	if ok, err := s.db.IsMember(ctx, guildID, userID); err != nil || !ok {
		apiError(c, http.StatusForbidden, "not_member", "you are not a member of this guild")
		return
	}

	id, err := s.node.Generate()
	if err != nil {
		s.log.Error("id_generation_failed", "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "id generation unavailable")
		return
	}
	ch := models.Channel{ID: id, GuildID: guildID, Name: req.Name}

	if err := s.db.CreateChannel(ctx, ch); err != nil {
		s.log.Error("channel_create_failed", "guild_id", guildID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not create channel")
		return
	}

	s.hub.Publish(guildID, gateway.ChannelCreateEvent(ch))

	c.JSON(http.StatusCreated, ch)
}

func (s *Server) deleteChannel(c *gin.Context) {
	userID := currentUser(c)
	channelID, ok := pathID(c, "channel_id")
	if !ok {
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	ch, err := s.db.GetChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			apiError(c, http.StatusNotFound, "not_found", "channel does not exist")
			return
		}
		s.log.Error("channel_lookup_failed", "channel_id", channelID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not delete channel")
		return
	}
	guild, err := s.db.GetGuild(ctx, ch.GuildID)
	if err != nil {
		apiError(c, http.StatusNotFound, "not_found", "guild does not exist")
		return
	}
	if guild.OwnerID != userID {
		apiError(c, http.StatusForbidden, "not_owner", "only the owner can delete a channel")
		return
	}

	if err := s.db.DeleteChannel(ctx, channelID); err != nil {
		s.log.Error("channel_delete_failed", "channel_id", channelID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not delete channel")
		return
	}

	s.hub.Publish(ch.GuildID, gateway.ChannelRemoveEvent(ch))

	c.Status(http.StatusNoContent)
}
