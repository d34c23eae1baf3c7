package db

import (
	"context"

	"guildchat/internal/gateway"
	"guildchat/internal/models"
	"guildchat/internal/snowflake"
)

// The gateway reads its READY / GUILD_CREATE state through these methods
// at identify time; *DB satisfies gateway.SnapshotSource.

func (d *DB) UserSnapshot(ctx context.Context, userID snowflake.ID) (models.User, error) {
	return d.GetUser(ctx, userID)
}

func (d *DB) GuildIDs(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error) {
	rows, err := d.Pool.Query(ctx,
		`SELECT guild_id FROM members WHERE user_id = $1 ORDER BY guild_id`,
		int64(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]snowflake.ID, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, snowflake.ID(id))
	}
	return ids, rows.Err()
}

func (d *DB) GuildSnapshot(ctx context.Context, guildID snowflake.ID) (gateway.GuildSnapshot, error) {
	guild, err := d.GetGuild(ctx, guildID)
	if err != nil {
		return gateway.GuildSnapshot{}, err
	}
	channels, err := d.ChannelsOf(ctx, guildID)
	if err != nil {
		return gateway.GuildSnapshot{}, err
	}
	members, err := d.MembersOf(ctx, guildID)
	if err != nil {
		return gateway.GuildSnapshot{}, err
	}
	return gateway.GuildSnapshot{Guild: guild, Channels: channels, Members: members}, nil
}
