package main

import (
	"fmt"
	"io"
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shineum/mailkit/internal/email"
)

// sendFlags are the options of the send command.
type sendFlags struct {
	provider string
	to       []string
	cc       []string
	bcc      []string
	subject  string
	body     string
	bodyFile string
	html     bool
	attach   []string
	inline   []string
}

func newSendCmd(a *app) *cobra.Command {
	var f sendFlags

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message through the configured provider",
		Example: `  mailkit send --to bob@example.com --subject Hi --body "Hello"
  mailkit send --provider smtp --to "Bob <bob@example.com>" --html --body-file mail.html \
    --inline logo=./logo.png --attach report.pdf`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := f.message(cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			s, err := a.sender(ctx, f.provider)
			if err != nil {
				return err
			}

			resp := s.SendAndReturn(ctx, msg)
			if !resp.OK() {
				return fmt.Errorf("send failed: %s", resp.FailedReason)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent via %s id=%s\n", s.Name(), resp.ID)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.provider, "provider", "", "provider to use: smtp, mandrill, ses, graph or stdout (default from configuration)")
	flags.StringArrayVar(&f.to, "to", nil, "To recipient, repeatable; accepts \"Name <addr>\"")
	flags.StringArrayVar(&f.cc, "cc", nil, "Cc recipient, repeatable")
	flags.StringArrayVar(&f.bcc, "bcc", nil, "Bcc recipient, repeatable")
	flags.StringVar(&f.subject, "subject", "", "message subject")
	flags.StringVar(&f.body, "body", "", "message body")
	flags.StringVar(&f.bodyFile, "body-file", "", "read the body from a file, - for stdin")
	flags.BoolVar(&f.html, "html", false, "treat the body as HTML")
	flags.StringArrayVar(&f.attach, "attach", nil, "attach a file, repeatable")
	flags.StringArrayVar(&f.inline, "inline", nil, "embed a file as cid=path for <img src=\"cid:...\">, repeatable")
	_ = cmd.MarkFlagRequired("to")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")

	return cmd
}

// message builds the message described by the flags. stdin is read when
// the body file is "-".
func (f *sendFlags) message(stdin io.Reader) (*email.Message, error) {
	msg := &email.Message{Subject: f.subject, Content: f.body, IsHTML: f.html}

	var err error
	if msg.To, err = parseAddresses(f.to); err != nil {
		return nil, err
	}
	if msg.Cc, err = parseAddresses(f.cc); err != nil {
		return nil, err
	}
	if msg.Bcc, err = parseAddresses(f.bcc); err != nil {
		return nil, err
	}

	switch f.bodyFile {
	case "":
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read body from stdin: %w", err)
		}
		msg.Content = string(data)
	default:
		data, err := os.ReadFile(f.bodyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read body file: %w", err)
		}
		msg.Content = string(data)
	}

	for _, path := range f.attach {
		msg.Attachments = append(msg.Attachments, email.FileAttachment(filepath.Base(path), path))
	}
	for _, arg := range f.inline {
		cid, path, ok := strings.Cut(arg, "=")
		if !ok || cid == "" || path == "" {
			return nil, fmt.Errorf("%w: inline %q must be cid=path", email.ErrValidation, arg)
		}
		msg.LinkedResources = append(msg.LinkedResources,
			email.FileAttachment(filepath.Base(path), path).Inline(cid))
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// parseAddresses parses each value as an RFC 5322 mailbox.
// parseAddresses parses one mailbox per flag value.
func parseAddresses(values []string) ([]email.Address, error) {
	var out []email.Address
	for _, v := range values {
		addr, err := parseMailbox(v)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid address %q: %v", email.ErrValidation, v, err)
		}
		out = append(out, email.NewAddress(addr.Address, addr.Name))
	}
	return out, nil
}

// parseMailbox accepts RFC 5322 mailboxes and, as typed on a command line,
// "Name <addr>" whose unquoted name contains specials such as a comma.
func parseMailbox(v string) (*mail.Address, error) {
	addr, err := mail.ParseAddress(v)
	if err == nil {
		return addr, nil
	}
	i := strings.LastIndex(v, "<")
	if i <= 0 || !strings.HasSuffix(strings.TrimSpace(v), ">") {
		return nil, err
	}
	bare, perr := mail.ParseAddress(strings.TrimSpace(v[i:]))
	if perr != nil {
		return nil, err
	}
	bare.Name = strings.TrimSpace(v[:i])
	return bare, nil
}
