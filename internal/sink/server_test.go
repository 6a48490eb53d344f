package sink

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	gomailsmtp "github.com/wneessen/go-mail/smtp"

	sinktls "github.com/shineum/mailkit/internal/tls"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// startServer runs a sink on a free loopback port until the test ends.
func startServer(t *testing.T, cfg Config, h Handler) *Server {
	t.Helper()

	cfg.Logger = quietLogger
	srv := New(cfg, h)
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv
}

type rawClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dialRaw(t *testing.T, addr string) *rawClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	c := &rawClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
	if greeting := c.readLine(); !strings.HasPrefix(greeting, "220 ") {
		t.Fatalf("greeting: got %q, want prefix '220 '", greeting)
	}
	return c
}

func (c *rawClient) readLine() string {
	c.t.Helper()
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("failed to read line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

// cmd sends line and returns the last line of the reply.
func (c *rawClient) cmd(line string) string {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\r\n")); err != nil {
		c.t.Fatalf("failed to write command: %v", err)
	}
	for {
		reply := c.readLine()
		if len(reply) < 4 || reply[3] != '-' {
			return reply
		}
	}
}

func TestServer_EHLOAdvertisesExtensions(t *testing.T) {
	t.Parallel()

	tlsCfg, err := sinktls.ServerConfig("", "")
	if err != nil {
		t.Fatalf("tls config: %v", err)
	}
	srv := startServer(t, Config{Hostname: "sink.test", Username: "u", Password: "p", TLSConfig: tlsCfg}, &Recorder{})
	c := dialRaw(t, srv.Addr())

	if _, err := c.conn.Write([]byte("EHLO client.test\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var lines []string
	for {
		line := c.readLine()
		lines = append(lines, line)
		if line[3] == ' ' {
			break
		}
	}

	joined := strings.Join(lines, "\n")
	for _, want := range []string{"sink.test", "STARTTLS", "AUTH PLAIN LOGIN", "SIZE"} {
		if !strings.Contains(joined, want) {
			t.Errorf("EHLO reply missing %q:\n%s", want, joined)
		}
	}
}

func TestServer_CommandOrdering(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Config{}, &Recorder{})
	c := dialRaw(t, srv.Addr())

	tests := []struct {
		cmd  string
		want string
	}{
		{cmd: "MAIL FROM:<a@x.com>", want: "503"},
		{cmd: "EHLO", want: "501"},
		{cmd: "EHLO client.test", want: "250"},
		{cmd: "RCPT TO:<b@x.com>", want: "503"},
		{cmd: "DATA", want: "503"},
		{cmd: "MAIL TO:<a@x.com>", want: "501"},
		{cmd: "MAIL FROM:<a@x.com>", want: "250"},
		{cmd: "MAIL FROM:<a@x.com>", want: "503"},
		{cmd: "RCPT TO:<>", want: "501"},
		{cmd: "RCPT TO:<b@x.com>", want: "250"},
		{cmd: "RSET", want: "250"},
		{cmd: "RCPT TO:<b@x.com>", want: "503"},
		{cmd: "AUTH PLAIN", want: "503"},
		{cmd: "STARTTLS", want: "454"},
		{cmd: "NOOP", want: "250"},
		{cmd: "BOGUS", want: "500"},
		{cmd: "QUIT", want: "221"},
	}

	for _, tt := range tests {
		if got := c.cmd(tt.cmd); !strings.HasPrefix(got, tt.want) {
			t.Errorf("%s: got %q, want prefix %q", tt.cmd, got, tt.want)
		}
	}
}

func TestServer_RequiresAuthentication(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Config{Username: "user", Password: "pass"}, &Recorder{})
	c := dialRaw(t, srv.Addr())

	c.cmd("EHLO client.test")
	if got := c.cmd("MAIL FROM:<a@x.com>"); !strings.HasPrefix(got, "530") {
		t.Errorf("MAIL before AUTH: got %q, want 530", got)
	}
	if got := c.cmd("AUTH PLAIN " + b64("\x00user\x00wrong")); !strings.HasPrefix(got, "535") {
		t.Errorf("AUTH with wrong password: got %q, want 535", got)
	}
	if got := c.cmd("AUTH CRAM-MD5"); !strings.HasPrefix(got, "504") {
		t.Errorf("AUTH CRAM-MD5: got %q, want 504", got)
	}

	if got := c.cmd("AUTH LOGIN"); got != "334 VXNlcm5hbWU6" {
		t.Fatalf("AUTH LOGIN: got %q, want username challenge", got)
	}
	if got := c.cmd(b64("user")); got != "334 UGFzc3dvcmQ6" {
		t.Fatalf("username: got %q, want password challenge", got)
	}
	if got := c.cmd(b64("pass")); !strings.HasPrefix(got, "235") {
		t.Fatalf("password: got %q, want 235", got)
	}
	if got := c.cmd("MAIL FROM:<a@x.com>"); !strings.HasPrefix(got, "250") {
		t.Errorf("MAIL after AUTH: got %q, want 250", got)
	}
}

func TestServer_DeliversEnvelope(t *testing.T) {
	t.Parallel()

	rec := &Recorder{}
	srv := startServer(t, Config{Username: "user", Password: "pass"}, rec)

	body := "Subject: hi\r\n\r\n.leading dot\r\nbody\r\n"
	auth := gomailsmtp.PlainAuth("", "user", "pass", "127.0.0.1", false)
	err := gomailsmtp.SendMail(srv.Addr(), auth, "from@x.com", []string{"a@x.com", "b@x.com"}, []byte(body))
	if err != nil {
		t.Fatalf("SendMail: %v", err)
	}

	envs := rec.Envelopes()
	if len(envs) != 1 {
		t.Fatalf("envelopes: got %d, want 1", len(envs))
	}
	env := envs[0]
	if env.MailFrom != "from@x.com" {
		t.Errorf("MailFrom: got %q, want %q", env.MailFrom, "from@x.com")
	}
	if len(env.RcptTo) != 2 {
		t.Errorf("RcptTo: got %v, want 2 recipients", env.RcptTo)
	}
	if env.User != "user" {
		t.Errorf("User: got %q, want %q", env.User, "user")
	}
	if string(env.Data) != "Subject: hi\n\n.leading dot\nbody\n" {
		t.Errorf("Data: got %q", env.Data)
	}
}

func TestServer_STARTTLS(t *testing.T) {
	t.Parallel()

	tlsCfg, err := sinktls.ServerConfig("", "")
	if err != nil {
		t.Fatalf("tls config: %v", err)
	}
	pool, err := sinktls.Pool(tlsCfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}

	rec := &Recorder{}
	srv := startServer(t, Config{TLSConfig: tlsCfg}, rec)

	client, err := gomailsmtp.Dial(srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: "localhost", RootCAs: pool}); err != nil {
		t.Fatalf("StartTLS: %v", err)
	}
	if err := client.Mail("from@x.com"); err != nil {
		t.Fatalf("Mail: %v", err)
	}
	if err := client.Rcpt("to@x.com"); err != nil {
		t.Fatalf("Rcpt: %v", err)
	}
	w, err := client.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	_, _ = w.Write([]byte("Subject: tls\r\n\r\nsecret\r\n"))
	if err := w.Close(); err != nil {
		t.Fatalf("close data: %v", err)
	}
	_ = client.Quit()

	envs := rec.Envelopes()
	if len(envs) != 1 || !envs[0].TLS {
		t.Fatalf("expected one envelope received over TLS, got %+v", envs)
	}
}

func TestServer_MessageTooLarge(t *testing.T) {
	t.Parallel()

	rec := &Recorder{}
	srv := startServer(t, Config{MaxMessageSize: 16}, rec)
	c := dialRaw(t, srv.Addr())

	c.cmd("EHLO client.test")
	c.cmd("MAIL FROM:<a@x.com>")
	c.cmd("RCPT TO:<b@x.com>")
	if got := c.cmd("DATA"); !strings.HasPrefix(got, "354") {
		t.Fatalf("DATA: got %q, want 354", got)
	}
	got := c.cmd(strings.Repeat("x", 64) + "\r\n.")
	if !strings.HasPrefix(got, "552") {
		t.Errorf("oversized message: got %q, want 552", got)
	}
	if got := c.cmd("NOOP"); !strings.HasPrefix(got, "250") {
		t.Errorf("NOOP after oversized message: got %q, want 250", got)
	}
	if n := len(rec.Envelopes()); n != 0 {
		t.Errorf("envelopes: got %d, want 0", n)
	}
}

func TestServer_HandlerErrorIsTemporary(t *testing.T) {
	t.Parallel()

	h := HandlerFunc(func(context.Context, *Envelope) error { return errors.New("downstream unavailable") })
	srv := startServer(t, Config{}, h)

	err := gomailsmtp.SendMail(srv.Addr(), nil, "from@x.com", []string{"to@x.com"}, []byte("Subject: x\r\n\r\nbody\r\n"))
	if err == nil {
		t.Fatal("expected error from SendMail, got nil")
	}
	if !strings.Contains(err.Error(), "451") {
		t.Errorf("error: got %v, want 451", err)
	}
}

func TestServer_ServeBeforeListen(t *testing.T) {
	t.Parallel()

	srv := New(Config{Logger: quietLogger}, &Recorder{})
	if err := srv.Serve(context.Background()); err == nil {
		t.Error("expected error from Serve without Listen, got nil")
	}
	if srv.Addr() != "" {
		t.Errorf("Addr: got %q, want empty", srv.Addr())
	}
}

func TestPathArg(t *testing.T) {
	t.Parallel()

	tests := []struct {
		arg    string
		prefix string
		want   string
		ok     bool
	}{
		{arg: "FROM:<a@x.com>", prefix: "FROM:", want: "a@x.com", ok: true},
		{arg: "from: <a@x.com> SIZE=100", prefix: "FROM:", want: "a@x.com", ok: true},
		{arg: "FROM:<>", prefix: "FROM:", want: "", ok: true},
		{arg: "FROM:a@x.com", prefix: "FROM:", want: "a@x.com", ok: true},
		{arg: "FROM:<a@x.com", prefix: "FROM:", ok: false},
		{arg: "TO:<a@x.com>", prefix: "FROM:", ok: false},
	}

	for _, tt := range tests {
		got, ok := pathArg(tt.arg, tt.prefix)
		if got != tt.want || ok != tt.ok {
			t.Errorf("pathArg(%q): got (%q, %v), want (%q, %v)", tt.arg, got, ok, tt.want, tt.ok)
		}
	}
}
