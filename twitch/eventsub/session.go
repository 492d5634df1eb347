package eventsub

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bjoelf/twitch-adapter/twitch"
)

const (
	// welcomeWait bounds how long a fresh socket may stay silent before the
	// welcome message arrives.
	welcomeWait = 30 * time.Second

	// keepaliveSlack is added on top of 1.5x the advertised keepalive
	// interval before the watchdog declares the socket dead.
	keepaliveSlack = 2 * time.Second

	maxRedialAttempts = 10
	redialBaseDelay   = 2 * time.Second
	redialMaxDelay    = 2 * time.Minute
)

// session owns one logical EventSub websocket session: a sequence of
// physical sockets joined by server-directed handoffs and watchdog redials.
// All session state after connect is owned by the run goroutine.
type session struct {
	key    string
	url    string
	client *Client
	logger zerolog.Logger

	conn      *websocket.Conn
	id        string
	keepalive time.Duration
	seen      *seenSet
	streams   map[string]*Stream // by subscription id

	frames chan frame
	ctx    context.Context
	cancel context.CancelFunc

	attach  chan attachReq
	detach  chan detachReq
	stopped chan struct{}
}

type frame struct {
	data []byte
	err  error
}

type attachReq struct {
	subID  string
	stream *Stream
	done   chan struct{}
}

type detachReq struct {
	subID string
	last  chan int // replies with the number of remaining streams
}

func newSession(key, url string, client *Client, logger zerolog.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		key:     key,
		url:     url,
		client:  client,
		logger:  logger.With().Str("session_key", key).Logger(),
		seen:    newSeenSet(),
		streams: make(map[string]*Stream),
		ctx:     ctx,
		cancel:  cancel,
		attach:  make(chan attachReq),
		detach:  make(chan detachReq),
		stopped: make(chan struct{}),
	}
}

// connect dials the initial socket, waits for the welcome and starts the
// run goroutine. Must be called exactly once.
func (s *session) connect(ctx context.Context) error {
	conn, welcome, err := s.dial(ctx, s.url)
	if err != nil {
		return err
	}
	s.conn = conn
	s.id = welcome.Session.ID
	s.keepalive = welcome.Session.KeepaliveTimeout
	s.frames = s.startReader(conn)

	s.logger.Debug().Str("session_id", s.id).Dur("keepalive", s.keepalive).Msg("eventsub session established")
	go s.run()
	return nil
}

// sessionID is only safe to call before run starts or from the run
// goroutine; Client reads it right after connect and inside callbacks.
func (s *session) sessionID() string { return s.id }

func (s *session) stop() {
	s.cancel()
	<-s.stopped
}

// register hands a stream to the run goroutine. Returns false once the
// session has terminated.
func (s *session) register(subID string, st *Stream) bool {
	req := attachReq{subID: subID, stream: st, done: make(chan struct{})}
	select {
	case s.attach <- req:
		<-req.done
		return true
	case <-s.ctx.Done():
		return false
	}
}

// unregister removes a stream and reports how many remain. A session that
// has already terminated reports zero remaining.
func (s *session) unregister(subID string) int {
	req := detachReq{subID: subID, last: make(chan int, 1)}
	select {
	case s.detach <- req:
		return <-req.last
	case <-s.ctx.Done():
		return 0
	}
}

// dial opens one physical socket and consumes its welcome message.
func (s *session) dial(ctx context.Context, url string) (*websocket.Conn, *Welcome, error) {
	dialer := s.client.dialer
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, nil, fmt.Errorf("%w: websocket handshake failed with status %d", twitch.ErrTransport, resp.StatusCode)
		}
		return nil, nil, fmt.Errorf("%w: dial %s: %v", twitch.ErrTransport, url, err)
	}

	wait := welcomeWait
	if s.keepalive > wait {
		wait = s.keepalive
	}
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: %v", twitch.ErrTransport, err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: no welcome before deadline: %v", twitch.ErrTransport, err)
	}
	msg, err := ParseMessage(data)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	welcome, ok := msg.(Welcome)
	if !ok {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: expected session_welcome, got %q", twitch.ErrProtocol, msg.Meta().MessageType)
	}
	conn.SetReadDeadline(time.Time{})
	return conn, &welcome, nil
}

// startReader spawns the per-socket reader goroutine. It only reads; all
// handling happens in run. The channel closes after the error frame.
func (s *session) startReader(conn *websocket.Conn) chan frame {
	frames := make(chan frame, 8)
	go func() {
		defer close(frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case frames <- frame{err: err}:
				case <-s.ctx.Done():
				}
				return
			}
			select {
			case frames <- frame{data: data}:
			case <-s.ctx.Done():
				return
			}
		}
	}()
	return frames
}

// run is the processor goroutine: it owns the seen-set, the stream
// registry and the current socket, and drives handoffs and redials.
func (s *session) run() {
	defer close(s.stopped)
	defer func() {
		if s.conn != nil {
			s.conn.Close()
		}
	}()

	watchdog := time.NewTimer(s.watchdogInterval())
	defer watchdog.Stop()

	// redial or a handoff can outlast the watchdog interval; an unconsumed
	// fire must be drained before Reset or the next select redials again
	rearm := func() {
		if !watchdog.Stop() {
			select {
			case <-watchdog.C:
			default:
			}
		}
		watchdog.Reset(s.watchdogInterval())
	}

	for {
		select {
		case <-s.ctx.Done():
			s.terminateAll(fmt.Errorf("%w: session closed", twitch.ErrStreamClosed))
			s.closeGracefully()
			return

		case req := <-s.attach:
			s.streams[req.subID] = req.stream
			close(req.done)

		case req := <-s.detach:
			delete(s.streams, req.subID)
			req.last <- len(s.streams)

		case f, ok := <-s.frames:
			if !ok || f.err != nil {
				if f.err != nil {
					s.logger.Warn().Err(f.err).Msg("websocket read failed, redialing")
				}
				if !s.redial() {
					return
				}
				rearm()
				continue
			}
			if !s.handleFrame(f.data) {
				if !s.redial() {
					return
				}
			}
			rearm()

		case <-watchdog.C:
			s.logger.Warn().Dur("keepalive", s.keepalive).Msg("keepalive watchdog expired, redialing")
			if !s.redial() {
				return
			}
			watchdog.Reset(s.watchdogInterval())
		}
	}
}

// watchdogInterval is how long the socket may stay silent. Keepalives count
// as traffic, so 1.5 intervals plus slack tolerates one lost keepalive.
func (s *session) watchdogInterval() time.Duration {
	if s.keepalive <= 0 {
		return welcomeWait
	}
	return s.keepalive*3/2 + keepaliveSlack
}

// handleFrame processes one message. It returns false when the session must
// move to a new socket and the current one is already gone.
func (s *session) handleFrame(data []byte) bool {
	msg, err := ParseMessage(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("discarding malformed websocket message")
		return true
	}
	if s.seen.Observe(msg.Meta().MessageID) {
		s.logger.Debug().Str("message_id", msg.Meta().MessageID).Msg("duplicate message dropped")
		return true
	}

	switch m := msg.(type) {
	case Keepalive:
		// traffic alone resets the watchdog

	case Notification:
		s.deliver(m)

	case Reconnect:
		return s.handoff(m.Session.ReconnectURL)

	case Revocation:
		st, ok := s.streams[m.Subscription.ID]
		if !ok {
			s.logger.Debug().Str("subscription_id", m.Subscription.ID).Msg("revocation for unknown subscription")
			return true
		}
		delete(s.streams, m.Subscription.ID)
		st.terminate(&twitch.RevokedError{Reason: m.Subscription.Status})

	case Welcome:
		s.logger.Warn().Msg("unexpected welcome on established session")
	}
	return true
}

// deliver queues a notification on its stream. A full queue blocks the
// processor so the socket backpressures instead of dropping events.
func (s *session) deliver(n Notification) {
	st, ok := s.streams[n.Subscription.ID]
	if !ok {
		s.logger.Debug().
			Str("subscription_id", n.Subscription.ID).
			Str("type", n.Subscription.Type).
			Msg("notification for unknown subscription dropped")
		return
	}
	select {
	case st.queue <- n:
		return
	default:
		s.logger.Warn().
			Str("subscription_id", n.Subscription.ID).
			Msg("stream queue full, notification delivery blocking")
	}
	select {
	case st.queue <- n:
	case <-st.closed:
	case <-s.ctx.Done():
	}
}

// handoff performs a server-directed reconnect: the new socket must deliver
// its welcome before the old one is abandoned, and subscriptions carry over
// without resubscribing. Failure falls back to an ungraceful redial.
func (s *session) handoff(url string) bool {
	s.logger.Debug().Str("url", url).Msg("server requested reconnect, starting handoff")

	conn, welcome, err := s.dial(s.ctx, url)
	if err != nil {
		s.logger.Warn().Err(err).Msg("handoff dial failed, falling back to redial")
		return false
	}

	oldFrames := s.frames
	s.closeGracefully()
	s.drainHandoff(oldFrames)
	s.conn = conn
	s.id = welcome.Session.ID
	if welcome.Session.KeepaliveTimeout > 0 {
		s.keepalive = welcome.Session.KeepaliveTimeout
	}
	s.frames = s.startReader(conn)
	s.logger.Debug().Str("session_id", s.id).Msg("handoff complete")
	return true
}

// drainHandoff consumes whatever the old socket produced between the
// reconnect message and its close, so events sent only on the old connection
// are not lost. Closing the socket ends the reader, which closes the channel.
func (s *session) drainHandoff(frames chan frame) {
	for f := range frames {
		if f.err != nil {
			continue
		}
		msg, err := ParseMessage(f.data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("discarding malformed websocket message")
			continue
		}
		if s.seen.Observe(msg.Meta().MessageID) {
			continue
		}
		switch m := msg.(type) {
		case Notification:
			s.deliver(m)
		case Revocation:
			if st, ok := s.streams[m.Subscription.ID]; ok {
				delete(s.streams, m.Subscription.ID)
				st.terminate(&twitch.RevokedError{Reason: m.Subscription.Status})
			}
		}
	}
}

// redial rebuilds the session from scratch: new socket, new session id,
// every subscription recreated. Returns false once the attempt budget is
// spent, at which point all streams are terminated.
func (s *session) redial() bool {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}

	delay := redialBaseDelay
	for attempt := 1; attempt <= maxRedialAttempts; attempt++ {
		select {
		case <-s.ctx.Done():
			s.terminateAll(fmt.Errorf("%w: session closed", twitch.ErrStreamClosed))
			return false
		case <-time.After(delay):
		}
		if delay *= 2; delay > redialMaxDelay {
			delay = redialMaxDelay
		}

		conn, welcome, err := s.dial(s.ctx, s.url)
		if err != nil {
			s.logger.Warn().Int("attempt", attempt).Err(err).Msg("redial failed")
			continue
		}

		s.conn = conn
		s.id = welcome.Session.ID
		if welcome.Session.KeepaliveTimeout > 0 {
			s.keepalive = welcome.Session.KeepaliveTimeout
		}
		s.frames = s.startReader(conn)

		if err := s.resubscribeAll(); err != nil {
			s.logger.Warn().Int("attempt", attempt).Err(err).Msg("resubscription after redial failed")
			s.conn.Close()
			s.conn = nil
			continue
		}
		s.logger.Info().Int("attempt", attempt).Str("session_id", s.id).Msg("session reestablished")
		return true
	}

	s.logger.Error().Int("attempts", maxRedialAttempts).Msg("redial budget exhausted, terminating streams")
	s.terminateAll(fmt.Errorf("%w: connection lost and could not be reestablished", twitch.ErrTransport))
	s.cancel()
	return false
}

// resubscribeAll recreates every registered subscription against the new
// session id. Subscription ids change; the registry is rekeyed in place.
func (s *session) resubscribeAll() error {
	old := s.streams
	s.streams = make(map[string]*Stream, len(old))
	for oldID, st := range old {
		newID, err := s.client.createSubscription(s.ctx, st.def, st.condition, s.id)
		if err != nil {
			// put survivors back so a later attempt can retry them all
			for id, str := range s.streams {
				old[id] = str
			}
			s.streams = old
			return fmt.Errorf("recreate %s: %w", st.def.Key(), err)
		}
		delete(old, oldID)
		st.setSubscriptionID(newID)
		s.streams[newID] = st
	}
	return nil
}

func (s *session) terminateAll(err error) {
	for id, st := range s.streams {
		delete(s.streams, id)
		st.terminate(err)
	}
}

// closeGracefully sends a close frame before dropping the socket.
func (s *session) closeGracefully() {
	if s.conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	s.conn.Close()
	s.conn = nil
}
