package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"guildchat/internal/auth"
	"guildchat/internal/config"
	"guildchat/internal/db"
	"guildchat/internal/gateway"
	"guildchat/internal/redis"
	"guildchat/internal/security"
	"guildchat/internal/snowflake"
	"guildchat/internal/storage"
)

type Server struct {
	log     *slog.Logger
	db      *db.DB
	redis   *redis.Client
	storage storage.Client
	hub     *gateway.Hub
	gate    *auth.Gate
	issuer  *auth.Issuer
	node    *snowflake.Node
	cfg     config.Config
	router  *gin.Engine
	limiter *security.LimiterStore
}

func NewServer(
	log *slog.Logger,
	dbConn *db.DB,
	redisClient *redis.Client,
	store storage.Client,
	hub *gateway.Hub,
	gate *auth.Gate,
	issuer *auth.Issuer,
	node *snowflake.Node,
	cfg config.Config,
) *Server {
	s := &Server{
		log:     log,
		db:      dbConn,
		redis:   redisClient,
		storage: store,
		hub:     hub,
		gate:    gate,
		issuer:  issuer,
		node:    node,
		cfg:     cfg,
		router:  gin.New(),
		limiter: security.NewLimiterStore(20, 40, 10*time.Minute), // 20 req/s, burst 40
	}

	gin.SetMode(gin.ReleaseMode)
	r := s.router
	r.Use(gin.Recovery())
	r.Use(s.corsMiddleware())
	r.Use(s.loggingMiddleware())

	r.GET("/healthz", s.health)
	r.GET("/gateway", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})

	v1 := r.Group("/api/v1")
	{
		// Unauthenticated routes throttle by client IP; authed routes run
		// the limiter after auth so the bucket keys on the user id.
		public := v1.Group("")
		public.Use(s.rateLimitMiddleware())
		{
			public.POST("/users", s.createUser)
			public.POST("/auth/login", s.login)
		}

		authed := v1.Group("")
		authed.Use(s.authMiddleware(), s.rateLimitMiddleware())
		{
			authed.GET("/users/@me", s.getSelf)
			authed.PATCH("/users/@me/password", s.changePassword)
			authed.PATCH("/users/@me/presence", s.updatePresence)
			authed.DELETE("/users/@me", s.deleteSelf)

			authed.POST("/guilds", s.createGuild)
			authed.DELETE("/guilds/:guild_id", s.deleteGuild)
			authed.POST("/guilds/:guild_id/members", s.joinGuild)
			authed.DELETE("/guilds/:guild_id/members/@me", s.leaveGuild)
			authed.POST("/guilds/:guild_id/channels", s.createChannel)
			authed.DELETE("/channels/:channel_id", s.deleteChannel)

			authed.GET("/channels/:channel_id/messages", s.fetchMessages)
			authed.POST("/channels/:channel_id/messages", s.createMessage)
			authed.POST("/channels/:channel_id/messages/:message_id/attachments", s.uploadAttachment)
			authed.GET("/attachments/:attachment_id", s.downloadAttachment)
		}
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 10*time.Second)
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	dbOK := s.db.Pool.Ping(ctx) == nil
	redisOK := s.redis == nil || s.redis.Ping(ctx) == nil

	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"database": dbOK,
		"redis":    redisOK,
	})
}
