package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/johnrirwin/avatarguard/internal/logging"
	"github.com/johnrirwin/avatarguard/internal/models"
	"github.com/johnrirwin/avatarguard/internal/reportqueue"
)

var (
	// ErrNotJoined is returned by Deliver outside the Joined state.
	ErrNotJoined = fmt.Errorf("%w: session has not joined the report channel", reportqueue.ErrNotReady)
	// ErrNoConnection is returned when writing with no open connection.
	ErrNoConnection = errors.New("no open connection")
	// errPingTimeout closes a connection the server stopped answering on.
	errPingTimeout = errors.New("ping timeout")
	// errJoinTimeout closes a connection whose JOIN was never confirmed.
	errJoinTimeout = errors.New("join not confirmed")
	// errJoinRefused closes a connection the server refused to let into the channel.
	errJoinRefused = errors.New("join refused")
)

// DefaultNotice is sent privately to an account after its report is broadcast.
const DefaultNotice = "You have been reported to the operators. Do not try to upload this kind of picture again or you will be permanently banned."

// maxTextBytes keeps PRIVMSG/NOTICE lines under the 512-byte IRC limit once
// the server prepends our source.
const maxTextBytes = 400

// Config describes the session identity and timing.
type Config struct {
	Nickname string
	Username string
	Realname string
	Password string
	Channel  string

	NoticeText  string
	NoticeDelay time.Duration

	// PingInterval is the idle time before the client pings the server. Twice
	// this with no inbound traffic drops the connection.
	PingInterval time.Duration

	// JoinTimeout bounds the wait for the server to confirm our JOIN before
	// the connection is dropped and redialled.
	JoinTimeout time.Duration

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Username == "" {
		c.Username = c.Nickname
	}
	if c.Realname == "" {
		c.Realname = c.Nickname
	}
	if c.NoticeText == "" {
		c.NoticeText = DefaultNotice
	}
	if c.NoticeDelay < 0 {
		c.NoticeDelay = 0
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 2 * time.Minute
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 30 * time.Second
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = 5 * time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 5 * time.Minute
	}
	return c
}

// Manager owns the single long-lived chat connection.
type Manager struct {
	cfg       Config
	transport Transport
	logger    *logging.Logger

	mu     sync.Mutex
	state  models.SessionState
	conn   Conn
	nick   string
	joined chan struct{}
	// joinedThisConn records whether the current connection ever reached Joined.
	joinedThisConn bool
	dropConn       context.CancelCauseFunc
	joinTimer      *time.Timer

	writeMu  sync.Mutex
	lastRead atomic.Int64
}

// NewManager creates a disconnected session.
func NewManager(cfg Config, transport Transport, logger *logging.Logger) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:       cfg,
		transport: transport,
		logger:    logger.With(logging.WithField("component", "session")),
		state:     models.SessionDisconnected,
		nick:      cfg.Nickname,
		joined:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready reports whether reports can be delivered now.
func (m *Manager) Ready() bool {
	return m.State() == models.SessionJoined
}

// Nick returns the nickname currently registered or being registered.
func (m *Manager) Nick() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nick
}

// WaitJoined blocks until the session is Joined or ctx ends.
func (m *Manager) WaitJoined(ctx context.Context) error {
	m.mu.Lock()
	ch := m.joined
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run connects and keeps reconnecting until ctx is cancelled. Transport
// failures are logged and retried with exponential backoff; Run only returns
// on cancellation.
func (m *Manager) Run(ctx context.Context) error {
	retry := newBackoff(m.cfg.ReconnectInitial, m.cfg.ReconnectMax)

	for {
		if ctx.Err() != nil {
			return nil
		}

		joined, err := m.runConnection(ctx)
		m.disconnect()

		if ctx.Err() != nil {
			m.logger.Info("Session stopped")
			return nil
		}
		if joined {
			retry.Reset()
		}

		delay := retry.Delay()
		fields := map[string]interface{}{"retryIn": delay.String()}
		if err != nil {
			fields["error"] = err.Error()
		}
		m.logger.Warn("Connection lost, reconnecting", logging.WithFields(fields))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("Session stopped")
			return nil
		case <-timer.C:
		}
	}
}

// runConnection dials, registers and runs the read loop until the connection ends.
func (m *Manager) runConnection(ctx context.Context) (bool, error) {
	m.setState(models.SessionConnecting)

	conn, err := m.transport.Dial(ctx)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	m.conn = conn
	m.nick = m.cfg.Nickname
	m.joinedThisConn = false
	m.mu.Unlock()
	m.touch()

	connCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	m.mu.Lock()
	m.dropConn = cancel
	m.mu.Unlock()

	go func() {
		<-connCtx.Done()
		conn.Close()
	}()
	go m.keepalive(connCtx, cancel)

	m.logger.Info("Connected, registering", logging.WithField("nick", m.cfg.Nickname))
	if err := m.register(); err != nil {
		return false, fmt.Errorf("register: %w", err)
	}

	for {
		line, err := conn.ReadLine()
		if err != nil {
			if cause := context.Cause(connCtx); cause != nil && !errors.Is(cause, context.Canceled) {
				err = cause
			}
			return m.sawJoin(), err
		}
		m.touch()

		ev, err := ParseEvent(line)
		if err != nil {
			m.logger.Debug("Ignoring unparsable line", logging.WithFields(map[string]interface{}{
				"line":  line,
				"error": err.Error(),
			}))
			continue
		}
		m.Handle(ev)
	}
}

func (m *Manager) register() error {
	if m.cfg.Password != "" {
		if err := m.send("PASS", m.cfg.Password); err != nil {
			return err
		}
	}
	if err := m.send("NICK", m.cfg.Nickname); err != nil {
		return err
	}
	return m.send("USER", m.cfg.Username, "0", "*", m.cfg.Realname)
}

// keepalive pings an idle server and cancels the connection when it stays silent.
func (m *Manager) keepalive(ctx context.Context, cancel context.CancelCauseFunc) {
	interval := m.cfg.PingInterval
	tick := interval / 2
	if tick <= 0 {
		tick = interval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, m.lastRead.Load()))
			switch {
			case idle >= 2*interval:
				m.logger.Warn("Server stopped responding", logging.WithField("idle", idle.String()))
				cancel(errPingTimeout)
				return
			case idle >= interval:
				if err := m.send("PING", "keepalive"); err != nil {
					m.logger.Debug("Keepalive ping failed", logging.WithField("error", err.Error()))
				}
			}
		}
	}
}

// Handle advances the state machine for one inbound event.
func (m *Manager) Handle(ev Event) {
	switch ev.Kind {
	case EventWelcome:
		if m.State() != models.SessionConnecting {
			m.logger.Debug("Ignoring welcome outside Connecting", logging.WithField("state", m.State().String()))
			return
		}
		if ev.Subject != "" && ev.Subject != "*" {
			m.mu.Lock()
			m.nick = ev.Subject
			m.mu.Unlock()
		}
		m.logger.Info("Connected to IRC server", logging.WithField("nick", m.Nick()))
		m.setState(models.SessionAwaitingJoinAck)
		m.join()

	case EventNickInUse:
		if m.State() != models.SessionConnecting {
			return
		}
		m.mu.Lock()
		m.nick += "_"
		nick := m.nick
		m.mu.Unlock()
		m.logger.Warn("Nickname in use, retrying", logging.WithField("nick", nick))
		if err := m.send("NICK", nick); err != nil {
			m.logger.Error("Failed to send nick", logging.WithField("error", err.Error()))
		}

	case EventJoin:
		if !sameName(ev.Source, m.Nick()) || !sameName(ev.Target, m.cfg.Channel) {
			return
		}
		if m.State() != models.SessionAwaitingJoinAck {
			return
		}
		m.stopJoinTimer()
		m.setState(models.SessionJoined)
		m.logger.Info("Successfully joined channel", logging.WithField("channel", m.cfg.Channel))

	case EventKick:
		if !sameName(ev.Subject, m.Nick()) || !sameName(ev.Target, m.cfg.Channel) {
			return
		}
		m.logger.Warn("Kicked from channel, rejoining", logging.WithFields(map[string]interface{}{
			"by":     ev.Source,
			"reason": ev.Text,
		}))
		m.setState(models.SessionAwaitingJoinAck)
		m.join()

	case EventJoinRefused:
		if !sameName(ev.Target, m.cfg.Channel) || m.State() != models.SessionAwaitingJoinAck {
			return
		}
		m.logger.Warn("Server refused channel join, reconnecting", logging.WithFields(map[string]interface{}{
			"channel": ev.Target,
			"reason":  ev.Text,
		}))
		m.drop(errJoinRefused)

	case EventPing:
		m.logger.Debug("Received ping from server")
		if err := m.send("PONG", ev.Text); err != nil {
			m.logger.Error("Failed to answer ping", logging.WithField("error", err.Error()))
		}

	case EventPrivmsg:
		m.handleMessage(ev)

	case EventError:
		m.logger.Warn("Server error", logging.WithField("reason", ev.Text))

	default:
		m.logger.Debug("Unhandled event", logging.WithField("command", ev.Command))
	}
}

// join sends JOIN and drops the connection if no confirmation arrives within
// JoinTimeout.
func (m *Manager) join() {
	m.logger.Info("Joining channel", logging.WithField("channel", m.cfg.Channel))
	if err := m.send("JOIN", m.cfg.Channel); err != nil {
		m.logger.Error("Failed to send join", logging.WithField("error", err.Error()))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.joinTimer != nil {
		m.joinTimer.Stop()
	}
	conn, cancel := m.conn, m.dropConn
	if cancel == nil {
		return
	}
	m.joinTimer = time.AfterFunc(m.cfg.JoinTimeout, func() {
		m.mu.Lock()
		pending := m.conn == conn && m.state == models.SessionAwaitingJoinAck
		m.mu.Unlock()
		if !pending {
			return
		}
		m.logger.Warn("Channel join not confirmed, reconnecting", logging.WithFields(map[string]interface{}{
			"channel": m.cfg.Channel,
			"timeout": m.cfg.JoinTimeout.String(),
		}))
		cancel(errJoinTimeout)
	})
}

func (m *Manager) stopJoinTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.joinTimer != nil {
		m.joinTimer.Stop()
		m.joinTimer = nil
	}
}

// drop ends the current connection; Run redials after backoff.
func (m *Manager) drop(cause error) {
	m.mu.Lock()
	cancel := m.dropConn
	m.mu.Unlock()
	if cancel != nil {
		cancel(cause)
	}
}

// handleMessage answers commands. The report channel is never interpreted so
// the bot cannot react to its own broadcasts.
func (m *Manager) handleMessage(ev Event) {
	if sameName(ev.Target, m.cfg.Channel) {
		return
	}

	text := strings.TrimSpace(ev.Text)
	if !strings.HasPrefix(text, "!ping") {
		return
	}

	replyTo := ev.Target
	if !isChannel(replyTo) {
		replyTo = ev.Source
	}
	if replyTo == "" {
		return
	}
	if err := m.send("PRIVMSG", replyTo, "pong"); err != nil {
		m.logger.Warn("Failed to answer command", logging.WithField("error", err.Error()))
	}
}

// Deliver broadcasts record to the report channel and, for reports with an
// account, follows up with a private notice after NoticeDelay. It never writes
// outside the Joined state.
func (m *Manager) Deliver(ctx context.Context, record models.ReportRecord) error {
	if !m.Ready() {
		m.logger.Warn("Bot is not connected to IRC channel, report left queued", logging.WithField("state", m.State().String()))
		return ErrNotJoined
	}

	m.logger.Info("Sending report", logging.WithFields(map[string]interface{}{
		"channel": m.cfg.Channel,
		"message": record.Line,
	}))
	if err := m.send("PRIVMSG", m.cfg.Channel, truncate(record.Line)); err != nil {
		return fmt.Errorf("send report: %w", err)
	}

	if !record.HasAccount() {
		return nil
	}

	if m.cfg.NoticeDelay > 0 {
		timer := time.NewTimer(m.cfg.NoticeDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	m.logger.Info("Sending notice", logging.WithField("account", record.Account))
	if err := m.send("NOTICE", record.Account, truncate(m.cfg.NoticeText)); err != nil {
		return fmt.Errorf("send notice to %s: %w", record.Account, err)
	}
	return nil
}

func (m *Manager) send(command string, params ...string) error {
	msg := ircmsg.MakeMessage(nil, "", command, params...)
	line, err := msg.Line()
	if err != nil {
		return fmt.Errorf("encode %s: %w", command, err)
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNoConnection
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteLine(strings.TrimRight(line, "\r\n"))
}

func (m *Manager) setState(next models.SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state
	if prev == next {
		return
	}
	m.state = next

	switch {
	case next == models.SessionJoined:
		m.joinedThisConn = true
		close(m.joined)
	case prev == models.SessionJoined:
		m.joined = make(chan struct{})
	}

	m.logger.Debug("Session state changed", logging.WithFields(map[string]interface{}{
		"from": prev.String(),
		"to":   next.String(),
	}))
}

func (m *Manager) disconnect() {
	m.stopJoinTimer()

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.dropConn = nil
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.setState(models.SessionDisconnected)
}

func (m *Manager) sawJoin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joinedThisConn
}

func (m *Manager) touch() {
	m.lastRead.Store(time.Now().UnixNano())
}

func truncate(text string) string {
	text = strings.NewReplacer("\r", " ", "\n", " ").Replace(text)
	if len(text) <= maxTextBytes {
		return text
	}
	cut := maxTextBytes
	for cut > 0 && !utf8RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

var _ reportqueue.Deliverer = (*Manager)(nil)
