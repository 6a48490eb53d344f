// Package ses implements a Sender that delivers mail through the AWS SES v2
// API.
package ses

import (
	"context"
	"fmt"
	"log/slog"
	netmail "net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/samber/lo"

	"github.com/shineum/mailkit/internal/email"
	"github.com/shineum/mailkit/internal/provider"
	smtpprovider "github.com/shineum/mailkit/internal/provider/smtp"
)

// Options configures an SES Sender. Without static keys the default AWS
// credential chain is used.
type Options struct {
	Region          string        `validate:"required"`
	From            email.Address `validate:"required"`
	AccessKeyID     string
	SecretAccessKey string
	// ConfigurationSet is passed through to SES when set.
	ConfigurationSet string
}

// LogValue implements slog.LogValuer and leaves the secret key out.
func (o Options) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("region", o.Region),
		slog.String("from", o.From.String()),
		slog.Bool("static_credentials", o.AccessKeyID != ""),
		slog.String("configuration_set", o.ConfigurationSet),
	)
}

// SendEmailAPI is the SES v2 SendEmail operation, satisfied by
// *sesv2.Client.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Sender delivers messages with one SendEmail call each.
type Sender struct {
	opts     Options
	client   SendEmailAPI
	observer provider.Observer
}

// Option customizes a Sender.
type Option func(*Sender)

// WithObserver sets the observer that receives lifecycle events.
func WithObserver(obs provider.Observer) Option {
	return func(s *Sender) { s.observer = obs }
}

// WithClient replaces the SES client, used for testing.
func WithClient(client SendEmailAPI) Option {
	return func(s *Sender) { s.client = client }
}

// New creates an SES Sender. The AWS configuration is only loaded when no
// client was supplied with WithClient.
func New(ctx context.Context, opts Options, fns ...Option) (*Sender, error) {
	if err := email.ValidateStruct(opts); err != nil {
		return nil, err
	}

	s := &Sender{opts: opts, observer: provider.Nop}
	for _, fn := range fns {
		fn(s)
	}
	if s.client != nil {
		return s, nil
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	s.client = sesv2.NewFromConfig(awsCfg)
	return s, nil
}

// Name returns the provider name.
func (s *Sender) Name() string {
	return "ses"
}

// Send delivers msg and returns translation and API failures.
func (s *Sender) Send(ctx context.Context, msg *email.Message) error {
	t := provider.Track(ctx, s.observer, s.Name(), msg)

	id, err := s.deliver(ctx, msg)
	if err != nil {
		t.Failed(ctx, err)
		return err
	}
	t.Sent(ctx, id)
	return nil
}

// SendAndReturn delivers msg and reports any failure in the response. The
// response id is the SES message id.
func (s *Sender) SendAndReturn(ctx context.Context, msg *email.Message) *email.Response {
	t := provider.Track(ctx, s.observer, s.Name(), msg)

	id, err := s.deliver(ctx, msg)
	if err != nil {
		t.Failed(ctx, err)
		return email.FailedWithError(err)
	}
	t.Sent(ctx, id)
	return email.Sent(id)
}

func (s *Sender) deliver(ctx context.Context, msg *email.Message) (string, error) {
	input, err := s.buildInput(msg)
	if err != nil {
		return "", err
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", email.TransportError("send", err)
	}
	return aws.ToString(out.MessageId), nil
}

// buildInput uses the simple content form for messages without files and
// a raw MIME message otherwise. Recipients always travel in Destination so
// that Bcc is delivered without appearing in the headers.
func (s *Sender) buildInput(msg *email.Message) (*sesv2.SendEmailInput, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatAddress(s.opts.From)),
		Destination: &types.Destination{
			ToAddresses:  addresses(msg.To),
			CcAddresses:  addresses(msg.Cc),
			BccAddresses: addresses(msg.Bcc),
		},
	}
	if s.opts.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(s.opts.ConfigurationSet)
	}

	if len(msg.Attachments) == 0 && len(msg.LinkedResources) == 0 {
		input.Content = &types.EmailContent{Simple: simpleMessage(msg)}
		return input, nil
	}

	raw, _, err := smtpprovider.RenderBytes(msg, s.opts.From)
	if err != nil {
		return nil, err
	}
	input.Content = &types.EmailContent{Raw: &types.RawMessage{Data: raw}}
	return input, nil
}

func simpleMessage(msg *email.Message) *types.Message {
	content := &types.Content{
		Data:    aws.String(msg.Content),
		Charset: aws.String("UTF-8"),
	}
	body := &types.Body{}
	if msg.IsHTML {
		body.Html = content
	} else {
		body.Text = content
	}
	return &types.Message{
		Subject: &types.Content{
			Data:    aws.String(msg.Subject),
			Charset: aws.String("UTF-8"),
		},
		Body: body,
	}
}

func addresses(addrs []email.Address) []string {
	return lo.Map(addrs, func(a email.Address, _ int) string { return formatAddress(a) })
}

// formatAddress renders a for the SES address fields, quoting or RFC 2047
// encoding the display name as needed.
func formatAddress(a email.Address) string {
	if a.DisplayName == "" {
		return a.Address
	}
	return (&netmail.Address{Name: a.DisplayName, Address: a.Address}).String()
}
