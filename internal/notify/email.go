package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"stockalert/internal/config"
)

// EmailNotifier sends notifications through an SMTP relay. Port 465 uses
// implicit TLS; other ports upgrade with STARTTLS when the server offers it.
type EmailNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       string
	enabled  bool

	tlsConfig *tls.Config
}

// NewEmailNotifier creates a new EmailNotifier.
func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{
		host:      cfg.SMTPHost,
		port:      cfg.SMTPPort,
		username:  cfg.Username,
		password:  cfg.Password,
		from:      cfg.From,
		to:        cfg.To,
		enabled:   cfg.Enabled && cfg.SMTPHost != "" && cfg.From != "" && cfg.To != "",
		tlsConfig: &tls.Config{ServerName: cfg.SMTPHost},
	}
}

// Name returns the name of the notifier.
func (e *EmailNotifier) Name() string {
	return "email"
}

// IsEnabled returns whether the notifier is enabled.
func (e *EmailNotifier) IsEnabled() bool {
	return e.enabled
}

// Send mails the notification. The whole SMTP exchange is bounded by the
// context deadline.
func (e *EmailNotifier) Send(ctx context.Context, n Notification) error {
	if !e.enabled {
		return nil
	}

	conn, err := e.dial(ctx)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", e.host, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, e.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer client.Close()

	if e.port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(e.tlsConfig); err != nil {
				return fmt.Errorf("smtp STARTTLS: %w", err)
			}
		}
	}
	if e.username != "" && e.password != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", e.username, e.password, e.host)); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("smtp MAIL: %w", err)
	}
	if err := client.Rcpt(e.to); err != nil {
		return fmt.Errorf("smtp RCPT: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(emailMessage(e.from, e.to, n)); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end of data: %w", err)
	}
	return client.Quit()
}

func (e *EmailNotifier) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(e.host, strconv.Itoa(e.port))
	if e.port == 465 {
		d := &tls.Dialer{Config: e.tlsConfig}
		return d.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// emailMessage renders a plain-text RFC 5322 message. Header values are
// flattened to one line so a title cannot inject headers.
func emailMessage(from, to string, n Notification) []byte {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	oneLine := strings.NewReplacer("\r", " ", "\n", " ")

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", oneLine.Replace(n.Title))
	fmt.Fprintf(&b, "Date: %s\r\n", ts.Format(time.RFC1123Z))
	if n.ID != "" {
		fmt.Fprintf(&b, "Message-ID: <%s@stockalert>\r\n", n.ID)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(n.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
