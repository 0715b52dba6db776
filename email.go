package authkit

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
)

// EmailSender lets applications plug in their own delivery.
type EmailSender interface {
	SendVerificationEmail(ctx context.Context, to, verificationLink string) error
	SendPasswordResetEmail(ctx context.Context, to, resetLink string) error
}

// ConsoleEmailSender logs messages instead of sending them. For development.
type ConsoleEmailSender struct {
	Logger *slog.Logger
}

func (c *ConsoleEmailSender) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *ConsoleEmailSender) SendVerificationEmail(ctx context.Context, to, verificationLink string) error {
	c.logger().InfoContext(ctx, "email: verify your email address", "to", to, "link", verificationLink)
	return nil
}

func (c *ConsoleEmailSender) SendPasswordResetEmail(ctx context.Context, to, resetLink string) error {
	c.logger().InfoContext(ctx, "email: reset your password", "to", to, "link", resetLink)
	return nil
}

// withToken appends token as the "token" query parameter of link.
func withToken(link, token string) string {
	sep := "?"
	if strings.Contains(link, "?") {
		sep = "&"
	}
	return link + sep + "token=" + url.QueryEscape(token)
}

// VerificationSender adapts an EmailSender to
// EmailVerificationConfig.SendVerification. linkBase is the page that
// receives the token, typically {BaseURL}/auth/verify-email.
func VerificationSender(sender EmailSender, linkBase string) func(ctx context.Context, msg VerificationMessage) error {
	return func(ctx context.Context, msg VerificationMessage) error {
		return sender.SendVerificationEmail(ctx, msg.User.Email, withToken(linkBase, msg.Token))
	}
}
