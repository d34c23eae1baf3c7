package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"guildchat/internal/models"
	"guildchat/internal/snowflake"
)

// Presence entries expire on their own so a crashed process does not leave
// users pinned ONLINE forever; live sessions refresh via reconnect churn.
const presenceTTL = 12 * time.Hour

func presenceKey(userID snowflake.ID) string {
	return fmt.Sprintf("presence:%s", userID.String())
}

// SetPresence records the user's current presence; the gateway hub calls
// this on identify and final disconnect.
func (c *Client) SetPresence(ctx context.Context, userID snowflake.ID, p models.Presence) error {
	return c.rdb.Set(ctx, presenceKey(userID), string(p), presenceTTL).Err()
}

// GetPresence reports the stored presence, defaulting to OFFLINE when no
// entry exists.
func (c *Client) GetPresence(ctx context.Context, userID snowflake.ID) (models.Presence, error) {
	v, err := c.rdb.Get(ctx, presenceKey(userID)).Result()
	if err == redis.Nil {
		return models.PresenceOffline, nil
	}
	if err != nil {
		return models.PresenceOffline, err
	}
	p := models.Presence(v)
	if !p.Valid() {
		return models.PresenceOffline, nil
	}
	return p, nil
}
