// Package telegram implements transport.Client over MTProto using gotd.
package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"

	"vidrelay.app/relay/core/config"
	"vidrelay.app/relay/internal/transport"
)

var _ transport.Client = (*Client)(nil)

// CodePrompt returns the login code Telegram sent to the account.
type CodePrompt func(ctx context.Context, sent *tg.AuthSentCode) (string, error)

type Client struct {
	cfg        config.TelegramConfig
	codePrompt CodePrompt
	now        func() time.Time

	dispatcher tg.UpdateDispatcher

	mu     sync.RWMutex
	api    *tg.Client
	peers  *peers.Manager
	sender *message.Sender
	subs   []subscription
	cancel context.CancelFunc
	err    error

	done     chan struct{}
	doneOnce sync.Once
}

type Option func(*Client)

// WithCodePrompt replaces the terminal prompt used during first login.
func WithCodePrompt(p CodePrompt) Option {
	return func(c *Client) {
		c.codePrompt = p
	}
}

func New(cfg config.TelegramConfig, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		codePrompt: terminalPrompt(os.Stdin, os.Stdout),
		now:        time.Now,
		dispatcher: tg.NewUpdateDispatcher(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dispatcher.OnNewChannelMessage(func(ctx context.Context, _ tg.Entities, u *tg.UpdateNewChannelMessage) error {
		c.dispatch(ctx, u.Message)
		return nil
	})
	c.dispatcher.OnNewMessage(func(ctx context.Context, _ tg.Entities, u *tg.UpdateNewMessage) error {
		c.dispatch(ctx, u.Message)
		return nil
	})
	return c
}

// Connect starts the MTProto connection and authenticates. The connection
// lives until Close, independently of ctx, so that a forward started before
// shutdown can still complete.
func (c *Client) Connect(ctx context.Context) error {
	storage, err := c.sessionStorage(ctx)
	if err != nil {
		return &transport.AuthError{Err: err}
	}

	gaps := updates.New(updates.Config{
		Handler:          c.dispatcher,
		OnChannelTooLong: c.channelTooLong,
	})
	client := telegram.NewClient(c.cfg.APIID, c.cfg.APIHash, telegram.Options{
		SessionStorage: storage,
		UpdateHandler:  gapObserver{client: c, next: gaps},
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	ready := make(chan error, 1)
	go func() {
		err := client.Run(runCtx, func(ctx context.Context) error {
			if err := c.authenticate(ctx, client); err != nil {
				return err
			}

			self, err := client.Self(ctx)
			if err != nil {
				return fmt.Errorf("fetching own account: %w", err)
			}

			api := client.API()
			c.mu.Lock()
			c.api = api
			c.peers = peers.Options{}.Build(api)
			c.sender = message.NewSender(api)
			c.mu.Unlock()

			// Blocks until ctx ends, fetching missed updates after every reconnect.
			return gaps.Run(ctx, api, self.ID, updates.AuthOptions{
				OnStart: func(context.Context) {
					ready <- nil
				},
			})
		})

		if errors.Is(err, context.Canceled) && runCtx.Err() != nil {
			err = nil
		}
		c.finish(err)
		select {
		case ready <- errOrClosed(err):
		default:
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			return &transport.AuthError{Err: err}
		}
		return nil
	case <-ctx.Done():
		cancel()
		<-c.done
		return &transport.AuthError{Err: ctx.Err()}
	}
}

func errOrClosed(err error) error {
	if err == nil {
		return errors.New("connection closed before authentication completed")
	}
	return err
}

func (c *Client) authenticate(ctx context.Context, client *telegram.Client) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("checking session: %w", err)
	}
	if status.Authorized {
		slog.InfoContext(ctx, "using existing telegram session")
		return nil
	}
	if c.cfg.Phone == "" {
		return transport.ErrNotAuthorized
	}

	slog.InfoContext(ctx, "session not authorized, starting phone login")
	flow := auth.NewFlow(authenticator{
		phone:    c.cfg.Phone,
		password: c.cfg.TwoFAPassword,
		prompt:   c.codePrompt,
	}, auth.SendCodeOptions{})

	if err := client.Auth().IfNecessary(ctx, flow); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

// sessionStorage prefers an in-memory copy of SESSION_STRING and falls back
// to the session file, which gotd creates on first login.
func (c *Client) sessionStorage(ctx context.Context) (telegram.SessionStorage, error) {
	if c.cfg.SessionString == "" {
		return &session.FileStorage{Path: c.cfg.SessionFile()}, nil
	}

	data, err := session.TelethonSession(c.cfg.SessionString)
	if err != nil {
		return nil, fmt.Errorf("decoding SESSION_STRING: %w", err)
	}

	storage := new(session.StorageMemory)
	loader := session.Loader{Storage: storage}
	if err := loader.Save(ctx, data); err != nil {
		return nil, fmt.Errorf("loading SESSION_STRING: %w", err)
	}
	return storage, nil
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Close ends the connection and waits for the client goroutine to exit.
func (c *Client) Close() error {
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-c.done
	return nil
}

func (c *Client) finish(err error) {
	c.mu.Lock()
	c.err = err
	c.api = nil
	c.mu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Client) client() (*tg.Client, *peers.Manager, *message.Sender, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.api == nil {
		return nil, nil, nil, transport.ErrNotConnected
	}
	return c.api, c.peers, c.sender, nil
}

type authenticator struct {
	phone    string
	password string
	prompt   CodePrompt
}

func (a authenticator) Phone(context.Context) (string, error) {
	return a.phone, nil
}

func (a authenticator) Password(context.Context) (string, error) {
	if a.password == "" {
		return "", transport.ErrSecondFactorRequired
	}
	return a.password, nil
}

func (a authenticator) Code(ctx context.Context, sent *tg.AuthSentCode) (string, error) {
	return a.prompt(ctx, sent)
}

func (authenticator) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	return &auth.SignUpRequired{TermsOfService: tos}
}

func (authenticator) SignUp(context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("account does not exist, sign up is not supported")
}

type promptLine struct {
	line string
	err  error
}

// terminalPrompt reads the code from in. A read abandoned by ctx keeps
// running and its line answers the next prompt.
func terminalPrompt(in io.Reader, out io.Writer) CodePrompt {
	reader := bufio.NewReader(in)
	var pending chan promptLine
	return func(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
		fmt.Fprint(out, "Enter the code Telegram sent you: ")
		if pending == nil {
			pending = make(chan promptLine, 1)
			go func(ch chan<- promptLine) {
				line, err := reader.ReadString('\n')
				ch <- promptLine{line: line, err: err}
			}(pending)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("reading login code: %w", ctx.Err())
		case res := <-pending:
			pending = nil
			if res.err != nil && res.line == "" {
				return "", fmt.Errorf("reading login code: %w", res.err)
			}
			return strings.TrimSpace(res.line), nil
		}
	}
}
