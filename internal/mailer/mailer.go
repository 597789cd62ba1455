// Package mailer defines the outbound-email capability boundary. The
// email transport itself is a collaborator (spec §1 Non-goals); only
// the digest-sending contract is specified here.
package mailer

import (
	"context"
	"fmt"
	"io"
)

// Message is a rendered, ready-to-send digest email.
type Message struct {
	ToEmail  string
	Subject  string
	HTMLBody string
	TextBody string
}

// Mailer is the capability interface the DigestWorker sends through.
// Digest emails are never sent if the mailer is unconfigured
// (spec §7 user-visible behavior).
type Mailer interface {
	IsConfigured() bool
	Send(ctx context.Context, msg Message) error
}

// NoopMailer is always unconfigured; it is the safe default when no
// transport has been wired, matching spec §7's "never sent if
// unconfigured" contract without special-casing nil checks at call
// sites.
type NoopMailer struct{}

func (NoopMailer) IsConfigured() bool { return false }
func (NoopMailer) Send(ctx context.Context, msg Message) error { return nil }

// StdoutMailer writes the rendered message to w instead of sending
// it, for the CLI's "digest test-send" debug command (spec §6
// supplemented feature). Unlike NoopMailer it always reports
// configured, since printing is itself the intended delivery.
type StdoutMailer struct {
	W io.Writer
}

func (StdoutMailer) IsConfigured() bool { return true }

func (m StdoutMailer) Send(ctx context.Context, msg Message) error {
	_, err := fmt.Fprintf(m.W, "To: %s\nSubject: %s\n\n%s\n", msg.ToEmail, msg.Subject, msg.TextBody)
	return err
}
