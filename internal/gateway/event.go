package gateway

import (
	"encoding/json"

	"guildchat/internal/models"
	"guildchat/internal/snowflake"
)

// EventType enumerates every event the server can put on the wire. The set
// is closed: payload constructors below are the only way to build events,
// so every dispatch site deals with a known shape.
type EventType string

const (
	EventReady          EventType = "READY"
	EventGuildCreate    EventType = "GUILD_CREATE"
	EventGuildRemove    EventType = "GUILD_REMOVE"
	EventChannelCreate  EventType = "CHANNEL_CREATE"
	EventChannelRemove  EventType = "CHANNEL_REMOVE"
	EventMemberCreate   EventType = "MEMBER_CREATE"
	EventMemberRemove   EventType = "MEMBER_REMOVE"
	EventMessageCreate  EventType = "MESSAGE_CREATE"
	EventPresenceUpdate EventType = "PRESENCE_UPDATE"
	EventInvalidSession EventType = "INVALID_SESSION"

	// EventIdentify is the only client-to-server event.
	EventIdentify EventType = "IDENTIFY"
)

// Event is the server-to-client envelope.
type Event struct {
	Type EventType `json:"event"`
	Data any       `json:"data"`
}

// ReadyPayload is sent once per successful handshake, before any
// GUILD_CREATE snapshot.
type ReadyPayload struct {
	User   models.User    `json:"user"`
	Guilds []models.Guild `json:"guilds"`
}

// GuildSnapshot is the full view of one guild sent as GUILD_CREATE. The
// snapshot establishes every entity later incremental events refer to.
type GuildSnapshot struct {
	Guild    models.Guild     `json:"guild"`
	Channels []models.Channel `json:"channels"`
	Members  []models.Member  `json:"members"`
}

// PresencePayload is broadcast to one guild when a member's presence moves.
type PresencePayload struct {
	UserID   snowflake.ID    `json:"user_id"`
	GuildID  snowflake.ID    `json:"guild_id"`
	Presence models.Presence `json:"presence"`
}

func ReadyEvent(user models.User, guilds []models.Guild) Event {
	if guilds == nil {
		guilds = []models.Guild{}
	}
	return Event{Type: EventReady, Data: ReadyPayload{User: user, Guilds: guilds}}
}

func GuildCreateEvent(snap GuildSnapshot) Event {
	return Event{Type: EventGuildCreate, Data: snap}
}

func GuildRemoveEvent(guild models.Guild) Event {
	return Event{Type: EventGuildRemove, Data: guild}
}

func ChannelCreateEvent(ch models.Channel) Event {
	return Event{Type: EventChannelCreate, Data: ch}
}

func ChannelRemoveEvent(ch models.Channel) Event {
	return Event{Type: EventChannelRemove, Data: ch}
}

func MemberCreateEvent(m models.Member) Event {
	return Event{Type: EventMemberCreate, Data: m}
}

func MemberRemoveEvent(m models.Member) Event {
	return Event{Type: EventMemberRemove, Data: m}
}

func MessageCreateEvent(msg models.Message) Event {
	return Event{Type: EventMessageCreate, Data: msg}
}

func PresenceUpdateEvent(userID, guildID snowflake.ID, p models.Presence) Event {
	return Event{Type: EventPresenceUpdate, Data: PresencePayload{UserID: userID, GuildID: guildID, Presence: p}}
}

func InvalidSessionEvent(reason string) Event {
	return Event{Type: EventInvalidSession, Data: reason}
}

// clientMessage is the client-to-server envelope. IDENTIFY is the only
// accepted inbound event.
type clientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type identifyPayload struct {
	Token string `json:"token"`
}
