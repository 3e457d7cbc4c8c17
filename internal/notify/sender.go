// Package notify sends the pipeline's transactional email.
package notify

import (
	"context"
	"errors"
)

type Message struct {
	To      string
	Subject string
	Body    string
	// Key, when set, makes the send idempotent through IdempotentSender.
	Key string
}

// Sender delivers one message. Every error it returns is transient;
// callers reject messages without a recipient before sending.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// ErrNoRecipient means the address is empty. It will not fix itself.
var ErrNoRecipient = errors.New("message has no recipient")

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, m Message) error

func (f SenderFunc) Send(ctx context.Context, m Message) error { return f(ctx, m) }
