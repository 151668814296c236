// Package notify abstracts the chat system used for incident communications.
package notify

import "context"

// Message is a chat message addressed to a channel.
type Message struct {
	// Target is a channel reference or channel name.
	Target string
	Title  string
	Text   string
	// Color paints the message accent where the chat system supports it.
	Color string
}

// Gateway delivers incident communications to the chat system. A message
// reference identifies a delivered message so timeline entries can link
// back to it.
type Gateway interface {
	// Post delivers a message and returns its reference.
	Post(ctx context.Context, msg Message) (ref string, err error)
	// PostEphemeral delivers a message visible only to one user.
	PostEphemeral(ctx context.Context, target, user, text string) error
	// CreateChannel creates a dedicated channel and returns its
	// reference and permalink.
	CreateChannel(ctx context.Context, name string) (ref, link string, err error)
}

// Nop is a gateway that silently drops everything. It stands in when no
// chat system is configured.
type Nop struct{}

// Post implements Gateway.
func (Nop) Post(context.Context, Message) (string, error) { return "", nil }

// PostEphemeral implements Gateway.
func (Nop) PostEphemeral(context.Context, string, string, string) error { return nil }

// CreateChannel implements Gateway.
func (Nop) CreateChannel(context.Context, string) (string, string, error) { return "", "", nil }
