// Package slack is a channel that talks to one Slack channel over Socket
// Mode. Every worker joins with its own bot token and posts as itself; task
// sessions map to Slack threads.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/workforce-oss/workforce-sub002/internal/cache"
	"github.com/workforce-oss/workforce-sub002/internal/channel"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/pkg/slogx"
)

const (
	Subtype = "slack-channel"

	// VarChannelID names the variable holding the Slack channel id.
	VarChannelID = "channel_id"
	// VarAppToken names the variable holding the app level token used for
	// Socket Mode.
	VarAppToken = "app_token"

	maxRetries = 3
)

// Client is the part of the Slack web API a worker posts through.
type Client interface {
	AuthTestContext(ctx context.Context) (*slackapi.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
}

// Socket is the part of the Socket Mode client the event pump needs.
type Socket interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...any)
}

type realSocket struct {
	client *socketmode.Client
}

func (r *realSocket) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocket) EventsChan() chan socketmode.Event   { return r.client.Events }
func (r *realSocket) Ack(req socketmode.Request, payload ...any) {
	r.client.Ack(req, payload...)
}

// Option customizes a Channel.
type Option func(*Channel)

// WithAppToken sets the app level token used when the config carries none.
func WithAppToken(token string) Option {
	return func(c *Channel) {
		if c.appToken == "" {
			c.appToken = token
		}
	}
}

// WithClientFactory replaces the function that builds a worker web client
// from its bot token.
func WithClientFactory(fn func(token string) Client) Option {
	return func(c *Channel) { c.newClient = fn }
}

// WithSocket replaces the Socket Mode connection.
func WithSocket(s Socket) Option {
	return func(c *Channel) { c.socket = s }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Channel) { c.log = log }
}

type Channel struct {
	*channel.Base

	slackChannel string
	appToken     string
	newClient    func(token string) Client
	socket       Socket
	log          *slog.Logger

	mu      sync.Mutex
	clients map[string]Client
	// buffers holds the text posted so far for messages still streaming.
	buffers map[string]string

	startOnce sync.Once
	cancel    context.CancelFunc
}

func New(cfg objects.Config, options ...Option) (*Channel, error) {
	c := &Channel{
		Base:         channel.NewBase(cfg),
		slackChannel: cfg.StringVar(VarChannelID, ""),
		appToken:     cfg.StringVar(VarAppToken, ""),
		newClient:    func(token string) Client { return slackapi.New(token) },
		clients:      make(map[string]Client),
		buffers:      make(map[string]string),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default().With(slogx.LoggerName("workforce.channel.slack"), slogx.ObjectID(cfg.ID))
	}

	var errs []error
	if c.slackChannel == "" {
		errs = append(errs, fmt.Errorf("variable %s is required", VarChannelID))
	}
	if c.socket == nil && c.appToken == "" {
		errs = append(errs, fmt.Errorf("variable %s is required", VarAppToken))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("slack channel %s: %w", cfg.ID, err)
	}
	if c.socket == nil {
		api := slackapi.New("", slackapi.OptionAppLevelToken(c.appToken))
		c.socket = &realSocket{client: socketmode.New(api)}
	}
	return c, nil
}

// InitializeDataCache sets up the shared state and starts listening. Events
// need the thread mappings, so the socket is not opened before this.
func (c *Channel) InitializeDataCache(ctx context.Context, backend *cache.Backend) error {
	if err := c.Base.InitializeDataCache(ctx, backend); err != nil {
		return err
	}
	c.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()
		go c.run(runCtx)
		go c.pump(runCtx)
	})
	return nil
}

func (c *Channel) run(ctx context.Context) {
	err := c.socket.RunContext(ctx)
	if err != nil && ctx.Err() == nil {
		c.log.ErrorContext(ctx, "socket mode stopped", slogx.Error(err))
		c.ReportError(fmt.Errorf("slack channel %s: socket mode: %w", c.Config().ID, err))
	}
}

func (c *Channel) pump(ctx context.Context) {
	events := c.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.handleSocketEvent(ctx, evt)
		}
	}
}

func (c *Channel) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		api, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			c.socket.Ack(*evt.Request)
		}
		if api.Type != slackevents.CallbackEvent {
			return
		}
		// app_mention duplicates the message event for the same post.
		if msg, ok := api.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			c.handleMessage(ctx, msg)
		}
	case socketmode.EventTypeConnected:
		c.log.InfoContext(ctx, "connected to socket mode")
	case socketmode.EventTypeConnectionError:
		c.log.WarnContext(ctx, "socket mode connection error", slog.Any("data", evt.Data))
	case socketmode.EventTypeDisconnect:
		c.log.InfoContext(ctx, "socket mode disconnect requested")
	}
}

func (c *Channel) handleMessage(ctx context.Context, msg *slackevents.MessageEvent) {
	if msg.Channel != c.slackChannel {
		return
	}
	// Edits, joins and other subtypes are not conversation turns.
	if msg.SubType != "" {
		return
	}
	if msg.Username == "" && msg.BotID != "" {
		return
	}
	data := c.Data()
	if data == nil {
		return
	}

	thread := msg.ThreadTimeStamp
	if thread == "" {
		thread = msg.TimeStamp
	}
	session, _, err := data.SessionID(ctx, thread)
	if err != nil {
		c.log.ErrorContext(ctx, "lookup thread session", slogx.Error(err))
		return
	}

	sender := msg.User
	if msg.Username != "" {
		if worker, ok, err := data.UsernameWorkers.Get(ctx, msg.Username); err == nil && ok {
			sender = worker
		}
	}
	user := msg.User
	if user == "" {
		user = msg.BotID
	}

	ev := channel.MessageEvent{
		ChannelID:       c.Config().ID,
		SenderID:        sender,
		Users:           []string{user},
		MessageID:       msg.TimeStamp,
		Message:         removeMention(msg.Text),
		TaskExecutionID: session,
		ChannelMessageData: map[string]any{
			"thread_ts": msg.ThreadTimeStamp,
			"ts":        msg.TimeStamp,
			"threadId":  thread,
		},
		Timestamp: strfmt.DateTime(parseSlackTimestamp(msg.TimeStamp)),
	}
	if err := c.Emit(ctx, ev); err != nil {
		c.log.DebugContext(ctx, "drop inbound message", slogx.Error(err))
	}
}

// Join authenticates the worker's bot token and remembers who it posts as.
func (c *Channel) Join(ctx context.Context, workerID, token, username, _ string) error {
	data := c.Data()
	if data == nil {
		return fmt.Errorf("slack channel %s: data cache not initialized", c.Config().ID)
	}
	client := c.newClient(strings.TrimSuffix(token, "|"))
	var auth *slackapi.AuthTestResponse
	err := retryOnRateLimit(ctx, func() error {
		var err error
		auth, err = client.AuthTestContext(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("slack channel %s: join %s: %w", c.Config().ID, workerID, err)
	}
	if auth == nil || auth.UserID == "" {
		return fmt.Errorf("slack channel %s: join %s: token has no bot user", c.Config().ID, workerID)
	}

	if err := data.WorkerUserIDs.Set(ctx, workerID, auth.UserID); err != nil {
		return err
	}
	if err := data.UserWorkerIDs.Set(ctx, auth.UserID, workerID); err != nil {
		return err
	}
	if username != "" {
		if err := data.UsernameWorkers.Set(ctx, username, workerID); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.clients[workerID] = client
	c.mu.Unlock()
	return nil
}

func (c *Channel) Leave(ctx context.Context, workerID string) error {
	c.mu.Lock()
	delete(c.clients, workerID)
	c.mu.Unlock()

	data := c.Data()
	if data == nil {
		return nil
	}
	user, ok, err := data.WorkerUserIDs.Get(ctx, workerID)
	if err != nil || !ok {
		return err
	}
	return errors.Join(
		data.UserWorkerIDs.Delete(ctx, user),
		data.WorkerUserIDs.Delete(ctx, workerID),
	)
}

// EstablishSession binds the task execution to the thread of the message
// that started it. A task execution that already has a thread keeps it.
func (c *Channel) EstablishSession(ctx context.Context, taskExecutionID string, originalMessageData map[string]string) error {
	data := c.Data()
	if data == nil {
		return fmt.Errorf("slack channel %s: data cache not initialized", c.Config().ID)
	}
	if _, ok, err := data.SessionThreads.Get(ctx, taskExecutionID); err != nil || ok {
		return err
	}
	if _, ok, err := data.ThreadSessions.Get(ctx, taskExecutionID); err != nil || ok {
		return err
	}

	var thread string
	for _, key := range []string{"thread_ts", "ts", "threadId"} {
		if thread = originalMessageData[key]; thread != "" {
			break
		}
	}
	if thread == "" {
		return fmt.Errorf("slack channel %s: no thread in message data for %s", c.Config().ID, taskExecutionID)
	}
	return data.MapThread(ctx, taskExecutionID, thread)
}

// Message posts req as its worker. Partial messages sharing a message id
// are accumulated into one Slack post that is edited in place; the final
// message overwrites it with the complete text.
func (c *Channel) Message(ctx context.Context, req channel.MessageRequest) error {
	data := c.Data()
	if data == nil {
		return fmt.Errorf("slack channel %s: data cache not initialized", c.Config().ID)
	}
	c.mu.Lock()
	client, ok := c.clients[req.WorkerID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("slack channel %s: worker %s has not joined", c.Config().ID, req.WorkerID)
	}

	thread, _, err := data.ThreadID(ctx, req.TaskExecutionID)
	if err != nil {
		return err
	}
	posted, hasPost, err := data.MessageImplIDs.Get(ctx, req.MessageID)
	if err != nil {
		return err
	}

	if req.Final {
		defer c.forget(ctx, data, req.MessageID)
		if req.Message == "" {
			return nil
		}
		if hasPost {
			c.setBuffer(req.MessageID, req.Message)
			return c.update(ctx, client, posted, req.Message)
		}
		return c.post(ctx, client, data, req, thread)
	}

	if req.Message == "" {
		return nil
	}
	if hasPost {
		return c.update(ctx, client, posted, c.appendBuffer(req.MessageID, req.Message))
	}
	c.setBuffer(req.MessageID, req.Message)
	return c.post(ctx, client, data, req, thread)
}

func (c *Channel) post(ctx context.Context, client Client, data *channel.DataCache, req channel.MessageRequest, thread string) error {
	options := []slackapi.MsgOption{slackapi.MsgOptionText(formatMessage(req.Message), false)}
	if thread != "" {
		options = append(options, slackapi.MsgOptionTS(thread))
	}
	if req.Username != "" {
		options = append(options, slackapi.MsgOptionUsername(req.Username))
	}

	var ts string
	err := retryOnRateLimit(ctx, func() error {
		var err error
		_, ts, err = client.PostMessageContext(ctx, c.slackChannel, options...)
		return err
	})
	if err != nil {
		return fmt.Errorf("slack channel %s: post message: %w", c.Config().ID, err)
	}
	if thread == "" && req.TaskExecutionID != "" {
		if err := data.MapThread(ctx, req.TaskExecutionID, ts); err != nil {
			return err
		}
	}
	if req.MessageID != "" && !req.Final {
		return data.MessageImplIDs.Set(ctx, req.MessageID, ts)
	}
	return nil
}

func (c *Channel) update(ctx context.Context, client Client, ts, text string) error {
	err := retryOnRateLimit(ctx, func() error {
		_, _, _, err := client.UpdateMessageContext(ctx, c.slackChannel, ts, slackapi.MsgOptionText(formatMessage(text), false))
		return err
	})
	if err != nil {
		return fmt.Errorf("slack channel %s: update message: %w", c.Config().ID, err)
	}
	return nil
}

func (c *Channel) setBuffer(messageID, text string) {
	c.mu.Lock()
	c.buffers[messageID] = text
	c.mu.Unlock()
}

func (c *Channel) appendBuffer(messageID, text string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffers[messageID] += text
	return c.buffers[messageID]
}

func (c *Channel) forget(ctx context.Context, data *channel.DataCache, messageID string) {
	c.mu.Lock()
	delete(c.buffers, messageID)
	c.mu.Unlock()
	if err := data.MessageImplIDs.Delete(ctx, messageID); err != nil {
		c.log.WarnContext(ctx, "forget message", slog.String("message_id", messageID), slogx.Error(err))
	}
}

func (c *Channel) Destroy(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.clients = make(map[string]Client)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return c.Base.Destroy(ctx)
}

var (
	mentionPattern = regexp.MustCompile(`<@[^>]*>`)
	markdownLink   = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	rawLink        = regexp.MustCompile(`(^|[^<|])(https?://[^\s>]+)`)
)

func removeMention(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

// formatMessage rewrites markdown links and bare urls into Slack mrkdwn
// links. A bare url is labelled with the last two labels of its host.
func formatMessage(text string) string {
	text = markdownLink.ReplaceAllString(text, "<$2|$1>")
	return rawLink.ReplaceAllStringFunc(text, func(match string) string {
		parts := rawLink.FindStringSubmatch(match)
		return parts[1] + "<" + parts[2] + "|" + linkLabel(parts[2]) + ">"
	})
}

func linkLabel(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return "Click Here"
	}
	labels := strings.Split(u.Hostname(), ".")
	if len(labels) < 2 {
		return u.Hostname()
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// retryOnRateLimit calls fn and retries on Slack rate limit errors, waiting
// the duration Slack asks for.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// parseSlackTimestamp converts a Slack timestamp such as
// "1234567890.123456" to a time.
func parseSlackTimestamp(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var usec int64
	if frac != "" {
		usec, _ = strconv.ParseInt((frac + "000000")[:6], 10, 64)
	}
	return time.Unix(s, usec*int64(time.Microsecond)).UTC()
}
