// Package eventsub subscribes to Twitch EventSub over websocket transport
// and delivers validated events as per-subscription streams. Sessions are
// shared between streams that use the same credentials and survive both
// server-directed reconnects and dropped connections.
package eventsub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bjoelf/twitch-adapter/twitch"
	"github.com/bjoelf/twitch-adapter/twitch/helix"
)

// streamQueueSize bounds how many undelivered notifications a stream may
// hold before the session's processor backpressures the socket.
const streamQueueSize = 64

// Client creates and manages event streams. One websocket session is kept
// per credential identity, shared by all of that identity's streams.
type Client struct {
	helix    *helix.Client
	provider helix.TokenProvider
	wsURL    string
	dialer   *websocket.Dialer
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionHandle
}

type sessionHandle struct {
	sess *session
	refs int
}

// Option configures a Client.
type Option func(*Client)

// WithDialer substitutes the websocket dialer, used by tests to reach mock
// servers.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient builds an EventSub client on top of an authenticated Helix
// client. wsURL is the websocket endpoint events are received on.
func NewClient(helixClient *helix.Client, provider helix.TokenProvider, wsURL string, opts ...Option) (*Client, error) {
	if helixClient == nil || provider == nil {
		return nil, fmt.Errorf("%w: eventsub needs a helix client and a token provider", twitch.ErrConfig)
	}
	if wsURL == "" {
		return nil, fmt.Errorf("%w: eventsub needs a websocket URL", twitch.ErrConfig)
	}
	c := &Client{
		helix:    helixClient,
		provider: provider,
		wsURL:    wsURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		logger:   zerolog.Nop(),
		sessions: make(map[string]*sessionHandle),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Event is one delivered, schema-validated notification.
type Event struct {
	Type           string
	Version        string
	SubscriptionID string
	MessageID      string
	Timestamp      string
	Raw            json.RawMessage
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v any) error { return json.Unmarshal(e.Raw, v) }

// Stream is one live subscription. Events are read with Recv; Close tears
// the subscription down and, when it was the last one on its session,
// closes the websocket too.
type Stream struct {
	def       *Definition
	condition map[string]string
	client    *Client
	sess      *session

	queue      chan Notification
	closed     chan struct{}
	signalOnce sync.Once // closes closed
	closeOnce  sync.Once // runs teardown

	mu      sync.Mutex
	subID   string
	termErr error
}

// Subscribe checks the event kind against the catalog, ensures the session
// socket exists, and creates the subscription. The returned stream is live
// immediately.
func (c *Client) Subscribe(ctx context.Context, typ, version string, condition map[string]string) (*Stream, error) {
	def, err := Lookup(typ, version)
	if err != nil {
		return nil, err
	}
	req, ok := def.Accepts(c.provider.Kind())
	if !ok {
		return nil, fmt.Errorf("%w: %s does not accept %s tokens", twitch.ErrAuthUnsupported, def.Key(), c.provider.Kind())
	}
	if c.provider.Kind() == twitch.TokenUser && req != nil && !req.Satisfies(c.provider.Scopes()) {
		return nil, fmt.Errorf("%w: %s requires %s", twitch.ErrScopeMissing, def.Key(), req)
	}
	if err := c.validateCondition(def, condition); err != nil {
		return nil, err
	}

	handle, err := c.acquireSession(ctx)
	if err != nil {
		return nil, err
	}

	subID, err := c.createSubscription(ctx, def, condition, handle.sess.sessionID())
	if err != nil {
		c.releaseSession(handle)
		return nil, err
	}

	st := &Stream{
		def:       def,
		condition: condition,
		client:    c,
		sess:      handle.sess,
		queue:     make(chan Notification, streamQueueSize),
		closed:    make(chan struct{}),
		subID:     subID,
	}
	if !handle.sess.register(subID, st) {
		c.releaseSession(handle)
		return nil, fmt.Errorf("%w: session terminated during subscribe", twitch.ErrTransport)
	}
	return st, nil
}

func (c *Client) validateCondition(def *Definition, condition map[string]string) error {
	m := make(map[string]any, len(condition))
	for k, v := range condition {
		m[k] = v
	}
	if err := twitch.ValidateValue(def.ConditionSchema, m); err != nil {
		return fmt.Errorf("%w: condition for %s: %v", twitch.ErrBadRequest, def.Key(), err)
	}
	return nil
}

// acquireSession returns the caller's session, dialing it on first use.
func (c *Client) acquireSession(ctx context.Context) (*sessionHandle, error) {
	key := helix.BucketKey(c.provider.ClientID(), c.provider.UserID())

	c.mu.Lock()
	defer c.mu.Unlock()

	if handle, ok := c.sessions[key]; ok {
		select {
		case <-handle.sess.ctx.Done():
			// the session gave up (redial budget spent); its streams are
			// already terminated, so drop the handle and dial fresh
			delete(c.sessions, key)
		default:
			handle.refs++
			return handle, nil
		}
	}
	sess := newSession(key, c.wsURL, c, c.logger)
	if err := sess.connect(ctx); err != nil {
		return nil, err
	}
	handle := &sessionHandle{sess: sess, refs: 1}
	c.sessions[key] = handle
	return handle, nil
}

func (c *Client) releaseSession(handle *sessionHandle) {
	c.mu.Lock()
	handle.refs--
	last := handle.refs <= 0
	if last {
		delete(c.sessions, handle.sess.key)
	}
	c.mu.Unlock()
	if last {
		handle.sess.stop()
	}
}

// handleFor resolves a session back to its handle. A dead session whose key
// has been taken over by a replacement resolves to nil.
func (c *Client) handleFor(sess *session) *sessionHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.sessions[sess.key]; ok && h.sess == sess {
		return h
	}
	return nil
}

// createSubscription registers one subscription over Helix for the given
// websocket session.
func (c *Client) createSubscription(ctx context.Context, def *Definition, condition map[string]string, sessionID string) (string, error) {
	body := map[string]any{
		"type":      def.Type,
		"version":   def.Version,
		"condition": condition,
		"transport": map[string]string{
			"method":     "websocket",
			"session_id": sessionID,
		},
	}
	res, err := c.helix.Do(ctx, helix.CreateEventSubSubscription, c.provider, nil, body)
	if err != nil {
		return "", err
	}
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := res.Decode(&resp); err != nil || len(resp.Data) == 0 {
		return "", fmt.Errorf("%w: create subscription response carried no id", twitch.ErrProtocol)
	}
	return resp.Data[0].ID, nil
}

func (c *Client) deleteSubscription(ctx context.Context, subID string) error {
	q := url.Values{}
	q.Set("id", subID)
	_, err := c.helix.Do(ctx, helix.DeleteEventSubSubscription, c.provider, q, nil)
	return err
}

// Recv blocks until the next event, the stream terminates, or ctx ends.
// The event payload is validated against the catalog schema on delivery;
// a payload that no longer matches is a protocol error.
func (s *Stream) Recv(ctx context.Context) (*Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case n := <-s.queue:
		return s.eventOf(n)
	case <-s.closed:
		// drain anything queued before termination
		select {
		case n := <-s.queue:
			return s.eventOf(n)
		default:
		}
		s.mu.Lock()
		err := s.termErr
		s.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("%w: stream closed", twitch.ErrStreamClosed)
		}
		return nil, err
	}
}

func (s *Stream) eventOf(n Notification) (*Event, error) {
	if err := twitch.ValidateJSON(s.def.EventSchema, n.Event); err != nil {
		err = fmt.Errorf("event %s for %s: %w", n.Metadata.MessageID, s.def.Key(), err)
		// a payload that stopped matching its schema poisons the stream;
		// terminate before unregistering so a processor blocked on this
		// stream's full queue unblocks first
		s.terminate(err)
		s.sess.unregister(s.SubscriptionID())
		return nil, err
	}
	return &Event{
		Type:           n.Subscription.Type,
		Version:        n.Subscription.Version,
		SubscriptionID: n.Subscription.ID,
		MessageID:      n.Metadata.MessageID,
		Timestamp:      n.Metadata.MessageTimestamp,
		Raw:            n.Event,
	}, nil
}

// SubscriptionID returns the server-assigned id, which changes when the
// session is rebuilt after a dropped connection.
func (s *Stream) SubscriptionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subID
}

func (s *Stream) setSubscriptionID(id string) {
	s.mu.Lock()
	s.subID = id
	s.mu.Unlock()
}

// Close unsubscribes. The server-side subscription is deleted best-effort;
// the last stream on a session also closes the websocket.
func (s *Stream) Close() error {
	s.signalOnce.Do(func() { close(s.closed) })
	s.closeOnce.Do(func() {
		subID := s.SubscriptionID()
		remaining := s.sess.unregister(subID)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.client.deleteSubscription(ctx, subID); err != nil {
			s.client.logger.Debug().Err(err).Str("subscription_id", subID).Msg("best-effort unsubscribe failed")
		}

		if handle := s.client.handleFor(s.sess); handle != nil {
			s.client.releaseSession(handle)
		} else if remaining == 0 {
			s.sess.stop()
		}
	})
	return nil
}

// terminate is called by the session when the server revokes the
// subscription or the connection is permanently lost.
func (s *Stream) terminate(err error) {
	s.mu.Lock()
	if s.termErr == nil {
		s.termErr = err
	}
	s.mu.Unlock()
	s.signalOnce.Do(func() { close(s.closed) })
}
