package models

import (
	"errors"
	"regexp"
	"time"

	"guildchat/internal/snowflake"
)

// Presence is a user's availability, carried only in snapshot contexts
// (READY, GUILD_CREATE member lists) and PRESENCE_UPDATE events.
type Presence string

const (
	PresenceOnline  Presence = "ONLINE"
	PresenceIdle    Presence = "IDLE"
	PresenceBusy    Presence = "BUSY"
	PresenceOffline Presence = "OFFLINE"
)

// Valid reports whether p is one of the defined presence states.
func (p Presence) Valid() bool {
	switch p {
	case PresenceOnline, PresenceIdle, PresenceBusy, PresenceOffline:
		return true
	}
	return false
}

// Usernames are alphanumeric segments separated by single '.' or '_',
// with no leading or trailing separator.
var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9]+(?:[._][a-zA-Z0-9]+)*$`)

const (
	usernameMinLen = 2
	usernameMaxLen = 32
)

var ErrInvalidUsername = errors.New("invalid username")

// ValidateUsername enforces the username pattern and length bounds.
func ValidateUsername(name string) error {
	if len(name) < usernameMinLen || len(name) > usernameMaxLen {
		return ErrInvalidUsername
	}
	if !usernameRe.MatchString(name) {
		return ErrInvalidUsername
	}
	return nil
}

type User struct {
	ID          snowflake.ID `json:"id"`
	Username    string       `json:"username"`
	DisplayName string       `json:"display_name,omitempty"`
	Presence    Presence     `json:"presence,omitempty"`
}

// EffectiveDisplayName falls back to the username when no display name is set.
func (u User) EffectiveDisplayName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Credential is the server-side auth state for one user. Tokens issued
// before LastChanged, or while IsValid is false, are rejected.
type Credential struct {
	UserID       snowflake.ID
	PasswordHash string
	IsValid      bool
	LastChanged  time.Time
}

type Guild struct {
	ID      snowflake.ID `json:"id"`
	Name    string       `json:"name"`
	OwnerID snowflake.ID `json:"owner_id"`
}

type Channel struct {
	ID      snowflake.ID `json:"id"`
	GuildID snowflake.ID `json:"guild_id"`
	Name    string       `json:"name"`
}

// Member joins a User to a Guild. It carries the user snapshot fields so
// GUILD_CREATE member lists need no second lookup.
type Member struct {
	GuildID  snowflake.ID `json:"guild_id"`
	User     User         `json:"user"`
	JoinedAt time.Time    `json:"joined_at"`
}

type Message struct {
	ID          snowflake.ID `json:"id"`
	ChannelID   snowflake.ID `json:"channel_id"`
	UserID      snowflake.ID `json:"user_id"`
	Content     string       `json:"content"`
	Author      *User        `json:"author"`
	Attachments []Attachment `json:"attachments"`
}

// Attachment metadata; the payload bytes live in the object store under
// StorageKey and are never embedded.
type Attachment struct {
	ID          snowflake.ID `json:"id"`
	MessageID   snowflake.ID `json:"message_id"`
	Filename    string       `json:"filename"`
	ContentType string       `json:"content_type"`
	StorageKey  string       `json:"-"`
}
