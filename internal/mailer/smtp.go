package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rebel-tools/groupsync/internal/appconfig"
)

// Well known services, by the names accepted in botEmail.service.
var smtpServices = map[string]struct {
	host string
	port int
}{
	"gmail":   {"smtp.gmail.com", 587},
	"outlook": {"smtp-mail.outlook.com", 587},
	"hotmail": {"smtp-mail.outlook.com", 587},
	"yahoo":   {"smtp.mail.yahoo.com", 587},
}

func smtpFactory(cfg appconfig.BotEmailConfig) (TransportFactory, error) {
	host, port := cfg.Host, cfg.Port
	if host == "" {
		svc, ok := smtpServices[strings.ToLower(cfg.Service)]
		if !ok {
			return nil, fmt.Errorf("unknown email service %q, set botEmail.host", cfg.Service)
		}
		host = svc.host
		if port == 0 {
			port = svc.port
		}
	}
	if port == 0 {
		port = 587
	}

	return func(_ context.Context, password string) (Transport, error) {
		return &smtpTransport{
			host: host,
			addr: net.JoinHostPort(host, strconv.Itoa(port)),
			auth: smtp.PlainAuth("", cfg.Address, password, host),
		}, nil
	}, nil
}

type smtpTransport struct {
	host string
	addr string
	auth smtp.Auth
}

func (t *smtpTransport) dial(ctx context.Context) (*smtp.Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, err
	}

	c, err := smtp.NewClient(conn, t.host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: t.host}); err != nil {
			c.Close()
			return nil, err
		}
	}

	if err := c.Auth(t.auth); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (t *smtpTransport) Verify(ctx context.Context) error {
	c, err := t.dial(ctx)
	if err != nil {
		return err
	}
	return c.Quit()
}

func (t *smtpTransport) Send(ctx context.Context, msg Message) error {
	c, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Mail(msg.From); err != nil {
		return err
	}
	for _, rcpt := range envelope(msg) {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("recipient %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(buildMessage(msg, time.Now())); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// envelope lists every recipient of msg, BCC included.
func envelope(msg Message) []string {
	rcpts := make([]string, 0, len(msg.To)+len(msg.CC)+len(msg.BCC))
	rcpts = append(rcpts, msg.To...)
	rcpts = append(rcpts, msg.CC...)
	rcpts = append(rcpts, msg.BCC...)
	return rcpts
}

// buildMessage renders the RFC 5322 headers and body. BCC is left out.
func buildMessage(msg Message, date time.Time) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "From: <%s>\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	if len(msg.CC) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(msg.CC, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")

	contentType := "text/plain"
	if msg.HTML {
		contentType = "text/html"
	}
	fmt.Fprintf(&b, "Content-Type: %s; charset=UTF-8\r\n", contentType)
	b.WriteString("\r\n")

	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n"))
	return b.Bytes()
}
