package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"guildchat/internal/auth"
	"guildchat/internal/db"
	"guildchat/internal/gateway"
	"guildchat/internal/models"
)

type createUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

func (s *Server) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "invalid_body", "malformed request body")
		return
	}
	if err := models.ValidateUsername(req.Username); err != nil {
		apiError(c, http.StatusBadRequest, "invalid_username", "username must be alphanumeric segments separated by single . or _")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		apiError(c, http.StatusBadRequest, "weak_password", err.Error())
		return
	}

	id, err := s.node.Generate()
	if err != nil {
		s.log.Error("id_generation_failed", "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "id generation unavailable")
		return
	}

	user := models.User{ID: id, Username: req.Username, DisplayName: req.DisplayName}

	ctx, cancel := s.ctx(c)
	defer cancel()
	if err := s.db.CreateUser(ctx, user, hash); err != nil {
		if errors.Is(err, db.ErrUsernameTaken) {
			apiError(c, http.StatusConflict, "username_taken", "username already in use")
			return
		}
		s.log.Error("user_create_failed", "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not create user")
		return
	}

	c.JSON(http.StatusCreated, user)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "invalid_body", "malformed request body")
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	user, err := s.db.GetUserByUsername(ctx, req.Username)
	if err != nil {
		apiError(c, http.StatusUnauthorized, "bad_credentials", "unknown username or wrong password")
		return
	}
	cred, err := s.db.GetCredential(ctx, user.ID)
	if err != nil || !cred.IsValid || !auth.CheckPassword(cred.PasswordHash, req.Password) {
		apiError(c, http.StatusUnauthorized, "bad_credentials", "unknown username or wrong password")
		return
	}

	token, err := s.issuer.Issue(user.ID)
	if err != nil {
		s.log.Error("token_issue_failed", "user_id", user.ID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not issue token")
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func (s *Server) getSelf(c *gin.Context) {
	userID := currentUser(c)

	ctx, cancel := s.ctx(c)
	defer cancel()

	user, err := s.db.GetUser(ctx, userID)
	if err != nil {
		apiError(c, http.StatusNotFound, "not_found", "user no longer exists")
		return
	}
	if s.redis != nil {
		if p, err := s.redis.GetPresence(ctx, userID); err == nil {
			user.Presence = p
		}
	}
	c.JSON(http.StatusOK, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// changePassword rotates the hash and advances last_changed, revoking all
// tokens issued before this instant, including the one used for this call.
func (s *Server) changePassword(c *gin.Context) {
	userID := currentUser(c)

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "invalid_body", "malformed request body")
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	cred, err := s.db.GetCredential(ctx, userID)
	if err != nil || !auth.CheckPassword(cred.PasswordHash, req.CurrentPassword) {
		apiError(c, http.StatusUnauthorized, "bad_credentials", "current password does not match")
		return
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		apiError(c, http.StatusBadRequest, "weak_password", err.Error())
		return
	}
	if err := s.db.UpdatePassword(ctx, userID, hash); err != nil {
		s.log.Error("password_update_failed", "user_id", userID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not update password")
		return
	}

	// Live gateway sessions were authenticated with a now-stale token.
	s.hub.CloseUser(userID, gateway.ReasonAuthFailed)

	token, err := s.issuer.Issue(userID)
	if err != nil {
		s.log.Error("token_issue_failed", "user_id", userID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not issue token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

type updatePresenceRequest struct {
	Presence models.Presence `json:"presence"`
}

// updatePresence lets a user set their own presence (IDLE, BUSY, ...); the
// change is stored for REST reads and fans out as PRESENCE_UPDATE to every
// guild the user belongs to.
func (s *Server) updatePresence(c *gin.Context) {
	userID := currentUser(c)

	var req updatePresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "invalid_body", "malformed request body")
		return
	}
	if !req.Presence.Valid() {
		apiError(c, http.StatusBadRequest, "invalid_presence", "presence must be one of ONLINE, IDLE, BUSY, OFFLINE")
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	if s.redis != nil {
		if err := s.redis.SetPresence(ctx, userID, req.Presence); err != nil {
			s.log.Error("presence_store_failed", "user_id", userID.String(), "error", err)
			apiError(c, http.StatusInternalServerError, "internal", "could not store presence")
			return
		}
	}

	guildIDs, err := s.db.GuildIDs(ctx, userID)
	if err != nil {
		s.log.Error("membership_lookup_failed", "user_id", userID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not fan out presence")
		return
	}
	for _, gid := range guildIDs {
		s.hub.Publish(gid, gateway.PresenceUpdateEvent(userID, gid, req.Presence))
	}

	c.JSON(http.StatusOK, gin.H{"presence": req.Presence})
}

// deleteSelf removes the user; messages and the credential cascade away in
// the database, and any live gateway session is force-closed.
func (s *Server) deleteSelf(c *gin.Context) {
	userID := currentUser(c)

	ctx, cancel := s.ctx(c)
	defer cancel()

	guilds, err := s.db.GuildsOf(ctx, userID)
	if err != nil {
		s.log.Error("membership_lookup_failed", "user_id", userID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not delete user")
		return
	}
	user, err := s.db.GetUser(ctx, userID)
	if err != nil {
		apiError(c, http.StatusNotFound, "not_found", "user no longer exists")
		return
	}

	if err := s.db.DeleteUser(ctx, userID); err != nil {
		s.log.Error("user_delete_failed", "user_id", userID.String(), "error", err)
		apiError(c, http.StatusInternalServerError, "internal", "could not delete user")
		return
	}

	// Post-commit: drop live sessions, then tell each guild the member is
	// gone.
	s.hub.CloseUser(userID, gateway.ReasonUserRemoved)
	for _, g := range guilds {
		s.hub.Publish(g.ID, gateway.MemberRemoveEvent(models.Member{GuildID: g.ID, User: user}))
	}

	c.Status(http.StatusNoContent)
}
