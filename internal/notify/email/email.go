// Package email sends price alerts over SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	mail "github.com/wneessen/go-mail"

	"github.com/JakeFAU/realtime-price-tracker/internal/notify"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

const defaultTimeout = 10 * time.Second

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
	// Timeout bounds a whole delivery when the caller's context has no
	// earlier deadline.
	Timeout time.Duration
}

// Notifier implements tracker.Notifier for the email channel.
type Notifier struct {
	cfg    Config
	dialer net.Dialer
	now    func() time.Time
}

// New validates cfg. STARTTLS is used when the server offers it.
func New(cfg Config) (*Notifier, error) {
	if cfg.Host == "" || cfg.Sender == "" {
		return nil, errors.New("notify.email requires host and sender")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Notifier{cfg: cfg, now: time.Now}, nil
}

// SendPriceAlert implements tracker.Notifier. The SMTP connection never
// outlives ctx.
func (n *Notifier) SendPriceAlert(ctx context.Context, intent tracker.NotificationIntent) error {
	to := intent.Recipient.Address
	if strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("invalid recipient address %q", to)
	}
	msg, err := n.message(to, intent)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()
	client, err := n.client(ctx)
	if err != nil {
		return err
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp send: %w", ctxErr)
		}
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (n *Notifier) message(to string, intent tracker.NotificationIntent) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(n.cfg.Sender); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", n.cfg.Sender, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient address %q: %w", to, err)
	}
	msg.Subject(notify.Subject(intent))
	msg.SetDateWithValue(n.now().UTC())
	msg.SetBodyString(mail.TypeTextPlain, notify.Body(intent))
	return msg, nil
}

func (n *Notifier) client(ctx context.Context) (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithTimeout(n.cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithDialContextFunc(func(dialCtx context.Context, network, addr string) (net.Conn, error) {
			return n.dial(ctx, dialCtx, network, addr)
		}),
	}
	if n.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password),
		)
	}
	client, err := mail.NewClient(n.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return client, nil
}

// dial opens the connection with every read and write bounded by the send
// deadline, and closes it as soon as sendCtx ends.
func (n *Notifier) dial(sendCtx, dialCtx context.Context, network, addr string) (net.Conn, error) {
	conn, err := n.dialer.DialContext(dialCtx, network, addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := sendCtx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	stop := context.AfterFunc(sendCtx, func() { _ = conn.Close() })
	return &boundConn{Conn: conn, stop: stop}, nil
}

type boundConn struct {
	net.Conn
	stop func() bool
}

func (c *boundConn) Close() error {
	c.stop()
	return c.Conn.Close()
}
