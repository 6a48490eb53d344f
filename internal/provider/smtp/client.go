package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	gomailsmtp "github.com/wneessen/go-mail/smtp"
)

// Client is the SMTP conversation a Sender drives. Each Sender call uses a
// fresh Client and always finishes with Disconnect.
type Client interface {
	Connect(ctx context.Context, host string, port int, implicitTLS bool) error
	// DisableMechanism removes an authentication mechanism from the ones
	// the client may negotiate.
	DisableMechanism(name string)
	Authenticate(ctx context.Context, username, password string) error
	Send(ctx context.Context, m *mail.Msg) error
	// Disconnect ends the session. With quiet set, a failing QUIT is
	// ignored and only the connection close error is reported.
	Disconnect(quiet bool) error
}

// dialTimeout bounds connection setup when the context has no deadline.
const dialTimeout = 30 * time.Second

// supportedMechanisms lists the mechanisms mailClient can perform, in
// order of preference.
var supportedMechanisms = []string{"PLAIN", "LOGIN"}

// mailClient implements Client on top of the go-mail smtp package.
type mailClient struct {
	host      string
	tlsMode   TLSMode
	tlsConfig *tls.Config
	disabled  map[string]bool

	conn   net.Conn
	client *gomailsmtp.Client
	stop   func() bool
}

func newMailClient(opts Options) Client {
	return &mailClient{
		host:    opts.Host,
		tlsMode: opts.TLSMode,
		tlsConfig: &tls.Config{
			ServerName:         opts.Host,
			InsecureSkipVerify: opts.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
		disabled: make(map[string]bool),
	}
}

func (c *mailClient) Connect(ctx context.Context, host string, port int, implicitTLS bool) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: dialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if implicitTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: c.tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// The smtp client has no context support; closing the connection
	// unblocks whatever call is in flight when ctx is cancelled.
	c.stop = context.AfterFunc(ctx, func() { conn.Close() })
	c.conn = conn
	c.host = host

	client, err := gomailsmtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	c.client = client

	if err := client.Hello("localhost"); err != nil {
		return err
	}

	if implicitTLS || c.tlsMode == TLSNone {
		return nil
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(c.tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	return nil
}

func (c *mailClient) DisableMechanism(name string) {
	c.disabled[strings.ToUpper(name)] = true
}

// Authenticate refuses to send credentials over a plaintext connection to
// a remote host unless TLS was switched off explicitly.
func (c *mailClient) Authenticate(_ context.Context, username, password string) error {
	if c.client == nil {
		return errors.New("not connected")
	}

	ok, params := c.client.Extension("AUTH")
	if !ok {
		return errors.New("server does not support AUTH")
	}

	mech, err := c.selectMechanism(strings.Fields(strings.ToUpper(params)))
	if err != nil {
		return err
	}

	allowPlaintext := c.tlsMode == TLSNone
	var auth gomailsmtp.Auth
	switch mech {
	case "PLAIN":
		auth = gomailsmtp.PlainAuth("", username, password, c.host, allowPlaintext)
	case "LOGIN":
		auth = gomailsmtp.LoginAuth(username, password, c.host, allowPlaintext)
	}
	return c.client.Auth(auth)
}

// selectMechanism picks the first supported mechanism the server offers
// that has not been disabled.
func (c *mailClient) selectMechanism(offered []string) (string, error) {
	available := make(map[string]bool, len(offered))
	for _, m := range offered {
		if !c.disabled[m] {
			available[m] = true
		}
	}
	for _, m := range supportedMechanisms {
		if available[m] {
			return m, nil
		}
	}
	return "", fmt.Errorf("no usable authentication mechanism in %v", offered)
}

func (c *mailClient) Send(_ context.Context, m *mail.Msg) error {
	if c.client == nil {
		return errors.New("not connected")
	}

	from, err := m.GetSender(false)
	if err != nil {
		return err
	}
	rcpts, err := m.GetRecipients()
	if err != nil {
		return err
	}

	if err := c.client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := c.client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := c.client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := m.WriteTo(w); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	return w.Close()
}

func (c *mailClient) Disconnect(quiet bool) error {
	if c.stop != nil {
		c.stop()
	}
	if c.client == nil {
		if c.conn != nil {
			return c.conn.Close()
		}
		return nil
	}

	quitErr := c.client.Quit()
	// A successful QUIT already closed the connection.
	_ = c.client.Close()
	if quiet {
		return nil
	}
	return quitErr
}
