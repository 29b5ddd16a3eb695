// Package chatsession is the Chat-Session Manager: a single authenticated
// MTProto session shared by every monitored conversation, driven through an
// externally-triggered auth state machine (setPhoneNumber/checkCode/
// checkPassword/resendCode) rather than gotd/td's blocking auth.Flow, since
// each auth step in this pipeline arrives as its own HTTP request.
package chatsession

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"receipt-pipeline/server/internal/config"
	"receipt-pipeline/server/internal/errors"
	"receipt-pipeline/server/internal/models"
)

// AuthState is the externally-visible state of the auth state machine,
// mirroring TDLib's authorizationState* names where gotd/td has a direct
// equivalent. gotd/td has no wait_tdlib_parameters/wait_encryption_key
// analogue (it handles that internally), so the machine starts at
// StateWaitPhoneNumber.
type AuthState string

const (
	StateWaitPhoneNumber AuthState = "wait_phone_number"
	StateWaitCode        AuthState = "wait_code"
	StateWaitPassword    AuthState = "wait_password"
	StateReady           AuthState = "ready"
	StateClosed          AuthState = "closed"
)

// MessageHandler receives one captured message; registered by the Capture
// Layer and invoked in its own goroutine so it never blocks the update
// dispatcher.
type MessageHandler func(ctx context.Context, msg IncomingMessage)

// IncomingMessage is the Chat-Session Manager's platform-agnostic view of a
// new message, handed to the Capture Layer.
type IncomingMessage struct {
	ChatID      int64
	MessageID   int
	Text        string
	Date        time.Time
	HasDocument   bool
	DocumentID    int64
	AccessHash    int64
	FileReference []byte
	MimeType      string
	ChatKind    models.ChatKind
	ChatTitle   string
}

// Client wraps a gotd/td telegram.Client with the auth state machine and
// update dispatch this pipeline needs.
type Client struct {
	tg       *telegram.Client
	api      *tg.Client
	log      *zap.Logger
	cfg      config.TelegramConfig
	authMu   sync.Mutex
	state    atomic.Value // AuthState
	sentCode *tg.AuthSentCode

	handlersMu sync.RWMutex
	handlers   []MessageHandler

	ready     chan struct{}
	readyOnce sync.Once

	// channelHash caches access hashes for channels/supergroups seen via
	// live updates or history fetches; MTProto requires the access hash to
	// address a channel peer and there is no "look it up by id alone" call.
	channelHash sync.Map // int64 channel id -> int64 access hash
}

func (c *Client) rememberEntities(entities tg.Entities) {
	for id, ch := range entities.Channels {
		c.channelHash.Store(id, ch.AccessHash)
	}
}

func NewClient(cfg config.TelegramConfig, log *zap.Logger) *Client {
	c := &Client{
		cfg:   cfg,
		log:   log,
		ready: make(chan struct{}),
	}
	c.state.Store(StateWaitPhoneNumber)

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(c.handleNewMessage)
	dispatcher.OnNewChannelMessage(c.handleNewChannelMessage)

	storage := &session.FileStorage{Path: cfg.SessionDir + "/session.json"}

	opts := telegram.Options{
		Logger:         log.WithOptions(zap.IncreaseLevel(zap.WarnLevel)),
		SessionStorage: storage,
		UpdateHandler:  dispatcher,
	}

	c.tg = telegram.NewClient(cfg.APIID, cfg.APIHash, opts)
	return c
}

// Run is the dedicated goroutine driving the MTProto connection; it blocks
// until ctx is cancelled. Auth steps are driven externally via SetPhoneNumber
// et al. while this is running — client.Run's callback only checks whether a
// session already exists and otherwise waits for those calls to arrive.
func (c *Client) Run(ctx context.Context) error {
	return c.tg.Run(ctx, func(ctx context.Context) error {
		c.api = c.tg.API()

		status, err := c.tg.Auth().Status(ctx)
		if err != nil {
			return errors.New(errors.TransportUnavailable, "auth status check failed: "+err.Error())
		}

		if status.Authorized {
			c.state.Store(StateReady)
			c.closeReadyOnce()
		}

		c.log.Info("chat session connected", zap.Bool("authorized", status.Authorized))
		<-ctx.Done()
		c.state.Store(StateClosed)
		return nil
	})
}

func (c *Client) State() AuthState {
	return c.state.Load().(AuthState)
}

// Ready blocks until the session reaches StateReady or ctx is cancelled.
func (c *Client) Ready(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetPhoneNumber begins (or restarts) the login flow by sending a code to
// phone. Maps to POST /auth/phone.
func (c *Client) SetPhoneNumber(ctx context.Context, phone string) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	sentCode, err := c.tg.Auth().SendCode(ctx, phone, telegram.SendCodeOptions{})
	if err != nil {
		return errors.New(errors.AuthStepInvalid, "failed to send login code: "+err.Error())
	}

	code, ok := sentCode.(*tg.AuthSentCode)
	if !ok {
		return errors.New(errors.AuthStepInvalid, "unexpected sent-code response")
	}

	c.sentCode = code
	c.state.Store(StateWaitCode)
	return nil
}

// CheckCode submits the login code received out of band. Maps to
// POST /auth/code.
func (c *Client) CheckCode(ctx context.Context, phone, code string) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if c.sentCode == nil {
		return errors.New(errors.AuthStepInvalid, "no code was sent for this session")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := c.tg.Auth().SignIn(ctx, phone, code, c.sentCode.PhoneCodeHash)
	if err != nil {
		if isPasswordRequired(err) {
			c.state.Store(StateWaitPassword)
			return nil
		}
		return errors.New(errors.AuthStepInvalid, "invalid login code: "+err.Error())
	}

	c.state.Store(StateReady)
	c.closeReadyOnce()
	return nil
}

// CheckPassword submits the 2FA cloud password. Maps to POST /auth/password.
func (c *Client) CheckPassword(ctx context.Context, password string) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if c.State() != StateWaitPassword {
		return errors.New(errors.AuthStepInvalid, "no password step pending")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := c.tg.Auth().Password(ctx, password); err != nil {
		return errors.New(errors.AuthStepInvalid, "invalid 2FA password: "+err.Error())
	}

	c.state.Store(StateReady)
	c.closeReadyOnce()
	return nil
}

// ResendCode re-sends the login code for the phone number already submitted.
// Maps to POST /auth/resend.
func (c *Client) ResendCode(ctx context.Context, phone string) error {
	return c.SetPhoneNumber(ctx, phone)
}

// Logout tears down the session and returns the state machine to its start.
func (c *Client) Logout(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := c.tg.Auth().Logout(ctx); err != nil {
		return errors.New(errors.AuthStepInvalid, "logout failed: "+err.Error())
	}

	c.state.Store(StateWaitPhoneNumber)
	return nil
}

func (c *Client) closeReadyOnce() {
	c.readyOnce.Do(func() {
		close(c.ready)
	})
}

func isPasswordRequired(err error) bool {
	return strings.Contains(err.Error(), "SESSION_PASSWORD_NEEDED")
}

// OnMessage registers a handler invoked for every live-pushed message; the
// Capture Layer uses this to feed the Work Queue.
func (c *Client) OnMessage(h MessageHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Client) dispatch(ctx context.Context, msg IncomingMessage) {
	c.handlersMu.RLock()
	handlers := append([]MessageHandler(nil), c.handlers...)
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		go h(ctx, msg)
	}
}

func (c *Client) handleNewMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok {
		return nil
	}
	return c.emit(ctx, msg, e)
}

func (c *Client) handleNewChannelMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok {
		return nil
	}
	return c.emit(ctx, msg, e)
}

func (c *Client) emit(ctx context.Context, msg *tg.Message, entities tg.Entities) error {
	c.rememberEntities(entities)
	chatID, kind, title := resolvePeer(msg.PeerID, entities)

	im := IncomingMessage{
		ChatID:    chatID,
		MessageID: msg.ID,
		Text:      msg.Message,
		Date:      time.Unix(int64(msg.Date), 0),
		ChatKind:  kind,
		ChatTitle: title,
	}

	if doc, ok := documentFromMedia(msg.Media); ok {
		im.HasDocument = true
		im.DocumentID = doc.ID
		im.AccessHash = doc.AccessHash
		im.FileReference = doc.FileReference
		im.MimeType = doc.MimeType
	}

	c.dispatch(ctx, im)
	return nil
}

func resolvePeer(p tg.PeerClass, entities tg.Entities) (int64, models.ChatKind, string) {
	switch t := p.(type) {
	case *tg.PeerChannel:
		if ch, ok := entities.Channels[t.ChannelID]; ok {
			kind := models.ChatKindChannel
			if ch.Megagroup {
				kind = models.ChatKindSupergroup
			}
			return t.ChannelID, kind, ch.Title
		}
		return t.ChannelID, models.ChatKindChannel, ""
	case *tg.PeerChat:
		if ch, ok := entities.Chats[t.ChatID]; ok {
			return t.ChatID, models.ChatKindGroup, ch.Title
		}
		return t.ChatID, models.ChatKindGroup, ""
	case *tg.PeerUser:
		if u, ok := entities.Users[t.UserID]; ok {
			title := u.FirstName
			kind := models.ChatKindUser
			if u.Bot {
				kind = models.ChatKindBot
			}
			return t.UserID, kind, title
		}
		return t.UserID, models.ChatKindUser, ""
	}
	return 0, models.ChatKindUser, ""
}

func documentFromMedia(media tg.MessageMediaClass) (*tg.Document, bool) {
	md, ok := media.(*tg.MessageMediaDocument)
	if !ok {
		return nil, false
	}
	doc, ok := md.Document.(*tg.Document)
	if !ok {
		return nil, false
	}
	return doc, true
}

// API exposes the raw tg.Client for components (history fetch, download)
// that need direct MTProto calls beyond what this wrapper covers.
func (c *Client) API() *tg.Client {
	return c.api
}
