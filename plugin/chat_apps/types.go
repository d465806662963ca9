// Package chat_apps provides the messaging gateway types used to reach
// caregivers on chat platforms. Supported platforms: Telegram.
package chat_apps

import (
	"fmt"
	"strings"
	"time"
)

// MessageType represents the type of message.
type MessageType int

const (
	MessageTypeText MessageType = iota
	MessageTypeAudio
	MessageTypeCard
)

// String returns the string representation of MessageType.
func (m MessageType) String() string {
	switch m {
	case MessageTypeText:
		return "text"
	case MessageTypeAudio:
		return "audio"
	case MessageTypeCard:
		return "card"
	default:
		return "unknown"
	}
}

// Platform represents a supported chat platform.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformWeb      Platform = "web"
)

// IsValid checks if the platform is valid.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformTelegram, PlatformWeb:
		return true
	default:
		return false
	}
}

// ParsePlatform maps a contact channel name to a Platform. Empty names default to Telegram.
func ParsePlatform(s string) (Platform, bool) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return PlatformTelegram, true
	}
	return p, p.IsValid()
}

// IncomingMessage represents a message from a chat platform.
type IncomingMessage struct {
	Platform       Platform          // Source platform
	PlatformUserID string            // Platform-specific user ID
	PlatformChatID string            // Platform-specific chat ID
	Type           MessageType       // Message type
	Content        string            // Text content
	IsGroup        bool              // Sent in a group chat
	SenderName     string            // Display name of the sender
	Metadata       map[string]string // Additional platform-specific metadata
	Timestamp      time.Time         // Message timestamp
}

// OutgoingMessage represents a message to send to a chat platform.
type OutgoingMessage struct {
	PlatformChatID string      // Destination chat ID
	Type           MessageType // Message type
	Content        string      // Text content
	Card           *Card       // Structured payload for MessageTypeCard
	ParseMode      string      // Markdown/HTML parsing mode (optional)
}

// Card is a structured payload. Platforms without native cards render it as text.
type Card struct {
	Kind   string      `json:"kind"`
	Title  string      `json:"title"`
	Fields []CardField `json:"fields,omitempty"`
	Footer string      `json:"footer,omitempty"`
}

// CardField is one labelled line of a card.
type CardField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Text renders the card as plain text.
func (c *Card) Text() string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(c.Title)
	for _, f := range c.Fields {
		fmt.Fprintf(&b, "\n%s: %s", f.Label, f.Value)
	}
	if c.Footer != "" {
		b.WriteString("\n\n")
		b.WriteString(c.Footer)
	}
	return b.String()
}

// Body returns the text a platform should display for the message.
func (m *OutgoingMessage) Body() string {
	if m.Type == MessageTypeCard && m.Card != nil {
		if m.Content != "" {
			return m.Content + "\n\n" + m.Card.Text()
		}
		return m.Card.Text()
	}
	return m.Content
}
