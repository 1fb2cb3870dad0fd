package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

// SMTPSink delivers messages through an authenticated SMTP relay.
type SMTPSink struct {
	host     string
	port     int
	username string
	password string
	sender   string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSink creates a sink for the given relay. sender is the From
// address.
func NewSMTPSink(host string, port int, username, password, sender string) *SMTPSink {
	return &SMTPSink{
		host:     host,
		port:     port,
		username: username,
		password: password,
		sender:   sender,
		send:     smtp.SendMail,
	}
}

// Send implements Sink.
func (s *SMTPSink) Send(ctx context.Context, msg Message) error {
	_ = ctx
	recipients := append(addresses(msg.To), addresses(msg.CC)...)
	if len(recipients) == 0 {
		return apperr.New(apperr.InvalidArgument, "the message has no recipients")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.sender)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(addresses(msg.To), ", "))
	if len(msg.CC) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(addresses(msg.CC), ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	if err := s.send(addr, auth, s.sender, recipients, []byte(b.String())); err != nil {
		return apperr.Wrap(apperr.Unavailable, err, "delivering mail through %s failed", s.host)
	}
	return nil
}

func addresses(users []resources.UserEmail) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Email)
	}
	return out
}
