package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"guildchat/internal/models"
	"guildchat/internal/snowflake"
)

// CreateGuild inserts the guild and makes the owner its first member in one
// transaction.
func (d *DB) CreateGuild(ctx context.Context, guild models.Guild) error {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO guilds (id, name, owner_id) VALUES ($1, $2, $3)`,
		int64(guild.ID), guild.Name, int64(guild.OwnerID))
	if err != nil {
		return fmt.Errorf("insert guild: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO members (guild_id, user_id) VALUES ($1, $2)`,
		int64(guild.ID), int64(guild.OwnerID))
	if err != nil {
		return fmt.Errorf("insert owner member: %w", err)
	}

	return tx.Commit(ctx)
}

func (d *DB) GetGuild(ctx context.Context, guildID snowflake.ID) (models.Guild, error) {
	var id, ownerID int64
	var name string
	err := d.Pool.QueryRow(ctx,
		`SELECT id, name, owner_id FROM guilds WHERE id = $1`,
		int64(guildID)).Scan(&id, &name, &ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Guild{}, ErrNotFound
	}
	if err != nil {
		return models.Guild{}, err
	}
	return models.Guild{ID: snowflake.ID(id), Name: name, OwnerID: snowflake.ID(ownerID)}, nil
}

// DeleteGuild removes the guild; channels, members and messages cascade.
func (d *DB) DeleteGuild(ctx context.Context, guildID snowflake.ID) error {
	tag, err := d.Pool.Exec(ctx, `DELETE FROM guilds WHERE id = $1`, int64(guildID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DB) CreateChannel(ctx context.Context, ch models.Channel) error {
	_, err := d.Pool.Exec(ctx,
		`INSERT INTO channels (id, guild_id, name) VALUES ($1, $2, $3)`,
		int64(ch.ID), int64(ch.GuildID), ch.Name)
	return err
}

func (d *DB) GetChannel(ctx context.Context, channelID snowflake.ID) (models.Channel, error) {
	var id, guildID int64
	var name string
	err := d.Pool.QueryRow(ctx,
		`SELECT id, guild_id, name FROM channels WHERE id = $1`,
		int64(channelID)).Scan(&id, &guildID, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Channel{}, ErrNotFound
	}
	if err != nil {
		return models.Channel{}, err
	}
	return models.Channel{ID: snowflake.ID(id), GuildID: snowflake.ID(guildID), Name: name}, nil
}

func (d *DB) DeleteChannel(ctx context.Context, channelID snowflake.ID) error {
	tag, err := d.Pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, int64(channelID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DB) ChannelsOf(ctx context.Context, guildID snowflake.ID) ([]models.Channel, error) {
	rows, err := d.Pool.Query(ctx,
		`SELECT id, guild_id, name FROM channels WHERE guild_id = $1 ORDER BY id`,
		int64(guildID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := make([]models.Channel, 0)
	for rows.Next() {
		var id, gid int64
		var name string
		if err := rows.Scan(&id, &gid, &name); err != nil {
			return nil, err
		}
		channels = append(channels, models.Channel{ID: snowflake.ID(id), GuildID: snowflake.ID(gid), Name: name})
	}
	return channels, rows.Err()
}

// AddMember records a guild join.
func (d *DB) AddMember(ctx context.Context, guildID, userID snowflake.ID) (models.Member, error) {
	var joinedAt time.Time
	err := d.Pool.QueryRow(ctx,
		`INSERT INTO members (guild_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (guild_id, user_id) DO UPDATE SET joined_at = members.joined_at
		 RETURNING joined_at`,
		int64(guildID), int64(userID)).Scan(&joinedAt)
	if err != nil {
		return models.Member{}, err
	}
	user, err := d.GetUser(ctx, userID)
	if err != nil {
		return models.Member{}, err
	}
	return models.Member{GuildID: guildID, User: user, JoinedAt: joinedAt}, nil
}

func (d *DB) RemoveMember(ctx context.Context, guildID, userID snowflake.ID) error {
	tag, err := d.Pool.Exec(ctx,
		`DELETE FROM members WHERE guild_id = $1 AND user_id = $2`,
		int64(guildID), int64(userID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsMember backs the "is member of guild" checks on the write path.
func (d *DB) IsMember(ctx context.Context, guildID, userID snowflake.ID) (bool, error) {
	var exists bool
	err := d.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM members WHERE guild_id = $1 AND user_id = $2)`,
		int64(guildID), int64(userID)).Scan(&exists)
	return exists, err
}

func (d *DB) MembersOf(ctx context.Context, guildID snowflake.ID) ([]models.Member, error) {
	rows, err := d.Pool.Query(ctx,
		`SELECT m.user_id, m.joined_at, u.username, u.display_name
		 FROM members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.guild_id = $1
		 ORDER BY m.user_id`,
		int64(guildID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]models.Member, 0)
	for rows.Next() {
		var (
			userID      int64
			joinedAt    time.Time
			username    string
			displayName *string
		)
		if err := rows.Scan(&userID, &joinedAt, &username, &displayName); err != nil {
			return nil, err
		}
		u := models.User{ID: snowflake.ID(userID), Username: username}
		if displayName != nil {
			u.DisplayName = *displayName
		}
		members = append(members, models.Member{GuildID: guildID, User: u, JoinedAt: joinedAt})
	}
	return members, rows.Err()
}

// GuildsOf returns the guilds a user belongs to, for READY.
func (d *DB) GuildsOf(ctx context.Context, userID snowflake.ID) ([]models.Guild, error) {
	rows, err := d.Pool.Query(ctx,
		`SELECT g.id, g.name, g.owner_id
		 FROM guilds g
		 JOIN members m ON m.guild_id = g.id
		 WHERE m.user_id = $1
		 ORDER BY g.id`,
		int64(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	guilds := make([]models.Guild, 0)
	for rows.Next() {
		var id, ownerID int64
		var name string
		if err := rows.Scan(&id, &name, &ownerID); err != nil {
			return nil, err
		}
		guilds = append(guilds, models.Guild{ID: snowflake.ID(id), Name: name, OwnerID: snowflake.ID(ownerID)})
	}
	return guilds, rows.Err()
}
