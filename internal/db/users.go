package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"guildchat/internal/models"
	"guildchat/internal/snowflake"
)

// ErrUsernameTaken maps the unique constraint on users.username.
var ErrUsernameTaken = errors.New("db: username already taken")

// CreateUser inserts the user row and its secret in one transaction: a
// credential always has exactly one owning user.
func (d *DB) CreateUser(ctx context.Context, user models.User, passwordHash string) error {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, username, display_name) VALUES ($1, $2, NULLIF($3, ''))`,
		int64(user.ID), user.Username, user.DisplayName)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrUsernameTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO secrets (user_id, password) VALUES ($1, $2)`,
		int64(user.ID), passwordHash)
	if err != nil {
		return fmt.Errorf("insert secret: %w", err)
	}

	return tx.Commit(ctx)
}

func (d *DB) GetUser(ctx context.Context, userID snowflake.ID) (models.User, error) {
	var (
		id          int64
		username    string
		displayName *string
	)
	err := d.Pool.QueryRow(ctx,
		`SELECT id, username, display_name FROM users WHERE id = $1`,
		int64(userID)).Scan(&id, &username, &displayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	u := models.User{ID: snowflake.ID(id), Username: username}
	if displayName != nil {
		u.DisplayName = *displayName
	}
	return u, nil
}

// GetUserByUsername resolves login requests.
func (d *DB) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	var (
		id          int64
		displayName *string
	)
	err := d.Pool.QueryRow(ctx,
		`SELECT id, display_name FROM users WHERE username = $1`,
		username).Scan(&id, &displayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	u := models.User{ID: snowflake.ID(id), Username: username}
	if displayName != nil {
		u.DisplayName = *displayName
	}
	return u, nil
}

// GetCredential is the lookup behind the gateway's credential gate.
func (d *DB) GetCredential(ctx context.Context, userID snowflake.ID) (models.Credential, error) {
	var cred models.Credential
	var id int64
	err := d.Pool.QueryRow(ctx,
		`SELECT user_id, password, is_valid, last_changed FROM secrets WHERE user_id = $1`,
		int64(userID)).Scan(&id, &cred.PasswordHash, &cred.IsValid, &cred.LastChanged)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Credential{}, ErrNotFound
	}
	if err != nil {
		return models.Credential{}, err
	}
	cred.UserID = snowflake.ID(id)
	return cred, nil
}

// UpdatePassword stores the new hash and advances last_changed, which
// invalidates every token issued before this instant without keeping a
// blacklist.
func (d *DB) UpdatePassword(ctx context.Context, userID snowflake.ID, passwordHash string) error {
	tag, err := d.Pool.Exec(ctx,
		`UPDATE secrets SET password = $2, last_changed = now() WHERE user_id = $1`,
		int64(userID), passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes the user row; the secret, memberships and messages go
// with it via cascade. The caller is responsible for force-closing any live
// gateway sessions bound to this user.
func (d *DB) DeleteUser(ctx context.Context, userID snowflake.ID) error {
	tag, err := d.Pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, int64(userID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
