package mailer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rebel-tools/groupsync/internal/appconfig"
	"github.com/rs/zerolog"
)

const (
	ServiceSES = "ses"

	defaultPromptAttempts = 3
)

// ErrAuthentication is returned once every credential attempt was refused.
var ErrAuthentication = errors.New("unable to connect to email service")

// CarbonCopy lists extra recipients. BCC addresses never appear in headers.
type CarbonCopy struct {
	CC  []string
	BCC []string
}

// Sender is the notification surface used by groups. Failures are returned
// for the caller to log; a failed send never aborts a run.
type Sender interface {
	SendBasic(ctx context.Context, to []string, subject, body string, isHTML bool) error
	SendWithCC(ctx context.Context, to []string, subject, body string, cc CarbonCopy, isHTML bool) error
}

// Message is a single outbound email as handed to a Transport.
type Message struct {
	From    string
	To      []string
	CC      []string
	BCC     []string
	Subject string
	Body    string
	HTML    bool
}

// Transport delivers messages for one authenticated account.
type Transport interface {
	Verify(ctx context.Context) error
	Send(ctx context.Context, msg Message) error
}

// TransportFactory builds a transport from a password. Transports without a
// password ignore the argument.
type TransportFactory func(ctx context.Context, password string) (Transport, error)

// PasswordPrompt asks the operator for the password of address.
type PasswordPrompt func(ctx context.Context, address string) (string, error)

// Mailer sends notifications from the bot account. The transport is opened
// on first use and shared by every later send.
type Mailer struct {
	From    string
	Service string

	newTransport   TransportFactory
	needsPassword  bool
	prompt         PasswordPrompt
	promptAttempts int

	mu        sync.Mutex
	transport Transport
}

// Option customises a Mailer.
type Option func(*Mailer)

// WithPrompt replaces the terminal password prompt.
func WithPrompt(p PasswordPrompt) Option {
	return func(m *Mailer) { m.prompt = p }
}

// WithTransportFactory replaces the transport selected from the configuration.
func WithTransportFactory(f TransportFactory, needsPassword bool) Option {
	return func(m *Mailer) {
		m.newTransport = f
		m.needsPassword = needsPassword
	}
}

// New builds a mailer for the configured bot account. Nothing is dialled
// until Init or the first send.
func New(cfg appconfig.BotEmailConfig, opts ...Option) (*Mailer, error) {
	m := &Mailer{
		From:           cfg.Address,
		Service:        cfg.Service,
		prompt:         TerminalPrompt,
		promptAttempts: defaultPromptAttempts,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.newTransport == nil {
		switch cfg.Service {
		case ServiceSES:
			m.newTransport = sesFactory(cfg)
		default:
			factory, err := smtpFactory(cfg)
			if err != nil {
				return nil, err
			}
			m.newTransport = factory
			m.needsPassword = true
		}
	}

	return m, nil
}

// Init opens and verifies the transport, prompting for a password when the
// transport needs one.
func (m *Mailer) Init(ctx context.Context) error {
	_, err := m.getTransport(ctx)
	return err
}

func (m *Mailer) getTransport(ctx context.Context) (Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transport != nil {
		return m.transport, nil
	}

	logger := zerolog.Ctx(ctx).With().Str("service", m.Service).Str("address", m.From).Logger()

	for attempt := 1; attempt <= m.promptAttempts; attempt++ {
		var password string
		if m.needsPassword {
			p, err := m.prompt(ctx, m.From)
			if err != nil {
				return nil, fmt.Errorf("failed to read password: %w", err)
			}
			password = p
		}

		t, err := m.newTransport(ctx, password)
		if err == nil {
			err = t.Verify(ctx)
		}
		if err != nil {
			logger.Error().Err(err).Int("attempt", attempt).Msg("Authentication unsuccessful")
			continue
		}

		logger.Info().Msg("Connection success")
		m.transport = t
		return t, nil
	}

	return nil, fmt.Errorf("%w %s", ErrAuthentication, m.Service)
}

func (m *Mailer) SendBasic(ctx context.Context, to []string, subject, body string, isHTML bool) error {
	return m.SendWithCC(ctx, to, subject, body, CarbonCopy{}, isHTML)
}

func (m *Mailer) SendWithCC(ctx context.Context, to []string, subject, body string, cc CarbonCopy, isHTML bool) error {
	t, err := m.getTransport(ctx)
	if err != nil {
		return err
	}

	msg := Message{
		From:    m.From,
		To:      to,
		CC:      cc.CC,
		BCC:     cc.BCC,
		Subject: subject,
		Body:    body,
		HTML:    isHTML,
	}
	if err := t.Send(ctx, msg); err != nil {
		return fmt.Errorf("could not send mail %q: %w", subject, err)
	}
	return nil
}
