// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

// Package mail delivers verification messages over SMTP.
package mail

import (
	"context"
)

// Message is a single outgoing email with a plain text body and an
// optional HTML alternative.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Dispatcher sends messages synchronously. Send returns only after the
// relay accepted or rejected the message.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}
