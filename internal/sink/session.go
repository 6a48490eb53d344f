package sink

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"time"
)

type sessionState int

const (
	stateConnected sessionState = iota
	stateGreeted
	stateMail
	stateRcpt
)

// idleTimeout closes a session that sends nothing for this long.
const idleTimeout = 60 * time.Second

type session struct {
	srv  *Server
	conn net.Conn
	text *textproto.Conn

	state     sessionState
	tlsActive bool
	user      string

	mailFrom string
	rcptTo   []string
}

func newSession(conn net.Conn, srv *Server) *session {
	return &session{
		srv:  srv,
		conn: conn,
		text: textproto.NewConn(conn),
	}
}

func (s *session) serve(ctx context.Context) {
	defer s.conn.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Now())
	})
	defer stop()

	s.reply(220, "%s ESMTP mailkit sink", s.srv.cfg.Hostname)

	for {
		if ctx.Err() != nil {
			s.reply(421, "Service shutting down")
			return
		}
		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}

		line, err := s.text.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.srv.logger.Debug("sink connection read error", "error", err)
			}
			return
		}
		if line == "" {
			continue
		}

		verb, arg, _ := strings.Cut(line, " ")
		if s.dispatch(ctx, strings.ToUpper(verb), strings.TrimSpace(arg)) {
			return
		}
	}
}

// dispatch runs one command and reports whether the session is over.
func (s *session) dispatch(ctx context.Context, verb, arg string) bool {
	switch verb {
	case "EHLO", "HELO":
		s.hello(verb, arg)
	case "STARTTLS":
		return s.startTLS()
	case "AUTH":
		s.authenticate(arg)
	case "MAIL":
		s.mail(arg)
	case "RCPT":
		s.rcpt(arg)
	case "DATA":
		return s.data(ctx)
	case "RSET":
		s.reset()
		s.reply(250, "OK")
	case "NOOP":
		s.reply(250, "OK")
	case "QUIT":
		s.reply(221, "Bye")
		return true
	default:
		s.reply(500, "Unrecognized command")
	}
	return false
}

func (s *session) hello(verb, arg string) {
	if arg == "" {
		s.reply(501, "Syntax: %s hostname", verb)
		return
	}
	s.reset()
	s.state = stateGreeted

	if verb == "HELO" {
		s.reply(250, "%s Hello %s", s.srv.cfg.Hostname, arg)
		return
	}

	lines := []string{fmt.Sprintf("%s Hello %s", s.srv.cfg.Hostname, arg)}
	if s.srv.cfg.TLSConfig != nil && !s.tlsActive {
		lines = append(lines, "STARTTLS")
	}
	if s.srv.auth.Enabled() {
		lines = append(lines, "AUTH PLAIN LOGIN")
	}
	lines = append(lines, fmt.Sprintf("SIZE %d", s.srv.cfg.MaxMessageSize), "8BITMIME")
	s.replyLines(250, lines)
}

// startTLS upgrades the connection. A failed handshake ends the session.
func (s *session) startTLS() bool {
	if s.srv.cfg.TLSConfig == nil {
		s.reply(454, "TLS not available")
		return false
	}
	if s.tlsActive {
		s.reply(454, "TLS already active")
		return false
	}

	s.reply(220, "Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.srv.cfg.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.srv.logger.Error("TLS handshake failed", "error", err)
		return true
	}

	s.conn = tlsConn
	s.text = textproto.NewConn(tlsConn)
	s.tlsActive = true
	s.user = ""
	s.reset()
	s.state = stateConnected
	return false
}

func (s *session) authenticate(arg string) {
	switch {
	case s.state < stateGreeted:
		s.reply(503, "Send EHLO/HELO first")
		return
	case !s.srv.auth.Enabled():
		s.reply(503, "AUTH not available")
		return
	case s.user != "":
		s.reply(503, "Already authenticated")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")

	var (
		user string
		err  error
	)
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		if initial == "" {
			if initial, err = s.challenge(""); err != nil {
				return
			}
		}
		if initial == "*" {
			s.reply(501, "Authentication cancelled")
			return
		}
		user, err = s.srv.auth.VerifyPlain(initial)
	case "LOGIN":
		encodedUser, cerr := s.challenge("VXNlcm5hbWU6")
		if cerr != nil || encodedUser == "*" {
			s.reply(501, "Authentication cancelled")
			return
		}
		encodedPass, cerr := s.challenge("UGFzc3dvcmQ6")
		if cerr != nil || encodedPass == "*" {
			s.reply(501, "Authentication cancelled")
			return
		}
		user, err = s.srv.auth.VerifyLogin(encodedUser, encodedPass)
	default:
		s.reply(504, "Unrecognized authentication type")
		return
	}

	if err != nil {
		s.srv.logger.Warn("sink authentication failed", "mechanism", mechanism, "error", err)
		s.reply(535, "Authentication failed")
		return
	}
	s.user = user
	s.reply(235, "Authentication successful")
}

// challenge sends a 334 continuation and returns the client's answer.
func (s *session) challenge(prompt string) (string, error) {
	if prompt == "" {
		s.reply(334, "")
	} else {
		s.reply(334, "%s", prompt)
	}
	line, err := s.text.ReadLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (s *session) mail(arg string) {
	if s.state < stateGreeted {
		s.reply(503, "Send EHLO/HELO first")
		return
	}
	if s.srv.auth.Enabled() && s.user == "" {
		s.reply(530, "Authentication required")
		return
	}
	if s.state >= stateMail {
		s.reply(503, "Nested MAIL command")
		return
	}

	addr, ok := pathArg(arg, "FROM:")
	if !ok {
		s.reply(501, "Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMail
	s.reply(250, "OK")
}

func (s *session) rcpt(arg string) {
	if s.state < stateMail {
		s.reply(503, "Send MAIL FROM first")
		return
	}

	addr, ok := pathArg(arg, "TO:")
	if !ok || addr == "" {
		s.reply(501, "Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcpt
	s.reply(250, "OK")
}

// data reads the message body and hands the envelope to the handler. It
// reports whether the session must end because the stream is unusable.
func (s *session) data(ctx context.Context) bool {
	if s.state < stateRcpt {
		s.reply(503, "Send RCPT TO first")
		return false
	}

	s.reply(354, "Start mail input; end with <CRLF>.<CRLF>")

	limit := s.srv.cfg.MaxMessageSize
	dr := s.text.DotReader()
	body, err := io.ReadAll(io.LimitReader(dr, limit+1))
	if err != nil {
		s.srv.logger.Error("error reading DATA", "error", err)
		return true
	}
	defer s.reset()

	if int64(len(body)) > limit {
		// Drain the rest so the connection stays in sync.
		if _, err := io.Copy(io.Discard, dr); err != nil {
			return true
		}
		s.reply(552, "Message exceeds fixed maximum message size")
		return false
	}

	env := &Envelope{
		MailFrom: s.mailFrom,
		RcptTo:   append([]string(nil), s.rcptTo...),
		Data:     body,
		User:     s.user,
		TLS:      s.tlsActive,
		Received: time.Now(),
	}

	if err := s.srv.handler.HandleEnvelope(ctx, env); err != nil {
		s.srv.logger.Error("sink handler failed",
			"mail_from", env.MailFrom,
			"recipients", len(env.RcptTo),
			"error", err,
		)
		s.reply(451, "Temporary failure, please try again later")
		return false
	}

	s.reply(250, "OK message accepted")
	return false
}

// reset clears the current transaction, keeping greeting and auth.
func (s *session) reset() {
	s.mailFrom = ""
	s.rcptTo = nil
	if s.state > stateGreeted {
		s.state = stateGreeted
	}
}

func (s *session) reply(code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if err := s.text.PrintfLine("%d %s", code, msg); err != nil {
		s.srv.logger.Debug("failed to write to client", "error", err)
	}
}

func (s *session) replyLines(code int, lines []string) {
	w := bufio.NewWriter(s.conn)
	for i, line := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		fmt.Fprintf(w, "%d%s%s\r\n", code, sep, line)
	}
	if err := w.Flush(); err != nil {
		s.srv.logger.Debug("failed to write to client", "error", err)
	}
}

// pathArg extracts the address from "FROM:<addr> PARAMS" style arguments.
// The null reverse path "<>" yields an empty address.
func pathArg(arg, prefix string) (string, bool) {
	if len(arg) < len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return "", false
	}
	rest := strings.TrimSpace(arg[len(prefix):])

	if strings.HasPrefix(rest, "<") {
		end := strings.IndexByte(rest, '>')
		if end < 0 {
			return "", false
		}
		return rest[1:end], true
	}

	addr, _, _ := strings.Cut(rest, " ")
	return addr, addr != ""
}
