package domain

// Message is the engine's view of an inbound chat message. The gateway
// adapter builds one per event; the engine never touches the session.
type Message struct {
	ID            string
	GuildID       string
	ChannelID     string
	AuthorID      string
	AuthorName    string
	Content       string
	MemberRoleIDs []string
	IsFromBot     bool
}

// OutboundReply is one payload the coordinator asks the gateway adapter
// to deliver back to the originating channel.
type OutboundReply struct {
	ChannelID string
	Text      string
}
