package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// ErrConnectionLost marks a send that failed because the shared connection
// broke, as opposed to the server rejecting one recipient.
var ErrConnectionLost = errors.New("mail connection lost")

// Message is a single personalised email.
type Message struct {
	To              string
	Subject         string
	HTML            string
	Text            string
	ListUnsubscribe string
}

// Connection is an open session with the mail server, reused for a batch.
type Connection interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Transport opens connections.
type Transport interface {
	Connect(ctx context.Context) (Connection, error)
}

// SMTPConfig holds mail provider settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// TLSMode is one of "starttls" (default), "tls" or "none".
	TLSMode   string
	HelloName string
	Timeout   time.Duration
}

// SMTPTransport keeps one smtp.Client open per Connect call.
type SMTPTransport struct {
	cfg  SMTPConfig
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSMTPTransport creates a Transport for cfg.
func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	return &SMTPTransport{cfg: cfg, dial: dialer.DialContext}
}

// Connect dials, negotiates TLS and authenticates.
func (t *SMTPTransport) Connect(ctx context.Context) (Connection, error) {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	conn, err := t.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	raw := conn
	// 握手、STARTTLS、AUTH 共用一个截止时间
	armDeadline(ctx, raw, t.cfg.Timeout)

	tlsConfig := &tls.Config{ServerName: t.cfg.Host, MinVersion: tls.VersionTLS12}
	mode := strings.ToLower(strings.TrimSpace(t.cfg.TLSMode))
	if mode == "tls" {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}

	fail := func(step string, err error) (Connection, error) {
		client.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	if name := strings.TrimSpace(t.cfg.HelloName); name != "" {
		if err := client.Hello(name); err != nil {
			return fail("smtp hello", err)
		}
	}
	if mode == "" || mode == "starttls" {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fail("smtp starttls", err)
			}
		}
	}
	if t.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)); err != nil {
				return fail("smtp auth", err)
			}
		}
	}

	from := t.cfg.From
	if from == "" {
		from = t.cfg.Username
	}
	return &smtpConnection{
		client:   client,
		raw:      raw,
		timeout:  t.cfg.Timeout,
		from:     from,
		fromName: t.cfg.FromName,
	}, nil
}

// armDeadline bounds the next exchange by timeout, or by ctx's deadline when
// that comes first. The raw conn is used so the bound also holds under TLS.
func armDeadline(ctx context.Context, conn net.Conn, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)
}

type smtpConnection struct {
	client   *smtp.Client
	raw      net.Conn
	timeout  time.Duration
	from     string
	fromName string
	// broken 为 true 时连接已不可用，Close 不再发送 QUIT
	broken bool
}

func (c *smtpConnection) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := buildMIME(c.from, c.fromName, msg)
	if err != nil {
		return err
	}

	if c.broken {
		return ErrConnectionLost
	}

	armDeadline(ctx, c.raw, c.timeout)
	if err := c.transact(msg.To, body); err != nil {
		var protoErr *textproto.Error
		if errors.As(err, &protoErr) {
			// 服务器拒绝了该收件人，连接仍可用，重置会话继续下一个。
			if resetErr := c.client.Reset(); resetErr != nil {
				c.broken = true
				return fmt.Errorf("%w: %v", ErrConnectionLost, resetErr)
			}
			return err
		}
		// 超时、断开等 I/O 错误：会话状态未知，整条连接作废
		c.broken = true
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

func (c *smtpConnection) transact(to string, body []byte) error {
	if err := c.client.Mail(c.from); err != nil {
		return err
	}
	if err := c.client.Rcpt(to); err != nil {
		return err
	}
	w, err := c.client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (c *smtpConnection) Close() error {
	if c.broken {
		return c.client.Close()
	}
	c.raw.SetDeadline(time.Now().Add(c.timeout))
	if err := c.client.Quit(); err != nil {
		c.client.Close()
		return err
	}
	return nil
}
