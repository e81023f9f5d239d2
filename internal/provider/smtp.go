// internal/provider/smtp.go
package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"notification-engine/internal/tenantconfig"

	"github.com/google/uuid"
)

// SMTPEmail delivers email over SMTP with STARTTLS and PLAIN auth when the
// server offers them.
type SMTPEmail struct {
	dialer    *net.Dialer
	tlsConfig func(host string) *tls.Config
}

func NewSMTPEmail() *SMTPEmail {
	return &SMTPEmail{
		dialer:    &net.Dialer{Timeout: 10 * time.Second},
		tlsConfig: func(host string) *tls.Config { return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12} },
	}
}

func (p *SMTPEmail) Send(ctx context.Context, cfg tenantconfig.ProviderConfig, msg Message) Result {
	host := cfg.Credentials.Host
	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Credentials.Port))

	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Transient("smtp dial %s: %v", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return classifySMTPError("greeting", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(p.tlsConfig(host)); err != nil {
			return classifySMTPError("starttls", err)
		}
	}
	if cfg.Credentials.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", cfg.Credentials.Username, cfg.Credentials.Password, host)); err != nil {
				return classifySMTPError("auth", err)
			}
		}
	}

	if err := c.Mail(cfg.FromAddress); err != nil {
		return classifySMTPError("mail from", err)
	}
	if err := c.Rcpt(msg.Recipient); err != nil {
		return classifySMTPError("rcpt to", err)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), host)
	w, err := c.Data()
	if err != nil {
		return classifySMTPError("data", err)
	}
	if _, err := w.Write(buildMIME(cfg, msg, messageID)); err != nil {
		return classifySMTPError("write body", err)
	}
	if err := w.Close(); err != nil {
		return classifySMTPError("end data", err)
	}
	_ = c.Quit()

	return Delivered(messageID)
}

// classifySMTPError treats 5xx replies as permanent and everything else
// (4xx replies, broken connections, TLS failures) as transient.
func classifySMTPError(stage string, err error) Result {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 500 {
			return Permanent("smtp %s: %d %s", stage, protoErr.Code, protoErr.Msg)
		}
		return Transient("smtp %s: %d %s", stage, protoErr.Code, protoErr.Msg)
	}
	if res, ok := classifyNetError(err); ok {
		return res
	}
	if strings.Contains(err.Error(), "unencrypted connection") {
		return Permanent("smtp %s: %v", stage, err)
	}
	return Transient("smtp %s: %v", stage, err)
}

func buildMIME(cfg tenantconfig.ProviderConfig, msg Message, messageID string) []byte {
	from := mail.Address{Name: cfg.FromName, Address: cfg.FromAddress}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", msg.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}
