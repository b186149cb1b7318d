package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/scholarsync/realtime/internal/auth"
)

// Manager owns the logical connection to the realtime endpoint.
type Manager interface {
	// Start launches the manager loop. It does not dial; call Connect.
	Start(ctx context.Context) error

	// Stop disconnects and shuts the loop down.
	Stop(ctx context.Context) error

	// Connect requests a connection. Without a credential it is a
	// silent no-op; while connected or connecting it does nothing.
	Connect()

	// Disconnect tears the connection down and disables auto-reconnect
	// until the next Connect. Safe to call repeatedly.
	Disconnect()

	// Send marshals v as JSON and writes it when connected. Failures
	// are logged and the message dropped; Send never reports them.
	Send(v any)

	// AddConsumer registers a synchronous consumer for every decoded
	// inbound message. Register consumers before Start.
	AddConsumer(fn Consumer)

	// State returns the current connection state.
	State() State

	// Epoch returns the current connection epoch. It increments on
	// every successful connect.
	Epoch() uint64

	// Stats returns current manager statistics.
	Stats() ManagerStats
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State               State
	Epoch               uint64
	MessagesIn          int64
	MessagesSent        int64
	PingsSent           int64
	SendsDropped        int64
	DecodeErrors        int64
	ReconnectsScheduled int64
}

// clientFactory builds the transport for each connection attempt.
type clientFactory func(cfg ClientConfig, logger *slog.Logger) Client

type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdDisconnect
	cmdSend
)

type command struct {
	kind cmdKind
	data []byte
}

// dialResult is the outcome of one dial attempt.
type dialResult struct {
	gen    uint64
	client Client
	err    error
}

// manager implements the Manager interface. All connection state is
// mutated by the single run goroutine; commands arrive over a channel.
type manager struct {
	cfg     ManagerConfig
	tokens  auth.TokenSource
	factory clientFactory
	logger  *slog.Logger

	cmds     chan command
	dialDone chan dialResult

	// Loop-owned state. Only the run goroutine touches these.
	client      Client
	dialing     bool
	pendingDial bool
	gen         uint64
	attempt     int
	autoRetry   bool
	dialCancel  context.CancelFunc
	keepalive   *time.Ticker
	retryTimer  *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Shared snapshot for accessors.
	mu           sync.RWMutex
	state        State
	epoch        uint64
	consumers    []Consumer
	msgsIn       int64
	msgsSent     int64
	pings        int64
	sendsDropped int64
	decodeErrs   int64
	reconnects   int64
}

// NewManager creates a new Connection Manager. The credential is read
// from tokens at each dial, so signing in after construction works.
func NewManager(cfg ManagerConfig, tokens auth.TokenSource, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultManagerConfig()
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.FrameBufferSize <= 0 {
		cfg.FrameBufferSize = def.FrameBufferSize
	}

	return &manager{
		cfg:      cfg,
		tokens:   tokens,
		factory:  NewClient,
		logger:   logger,
		cmds:     make(chan command, 64),
		dialDone: make(chan dialResult, 1),
		state:    StateDisconnected,
	}
}

// Start launches the manager loop.
func (m *manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run()

	m.logger.Info("connection manager started", "url", m.cfg.WSURL)
	return nil
}

// Stop gracefully shuts down.
func (m *manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping connection manager")

	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("connection manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("connection manager stop timed out")
		return ctx.Err()
	}
}

// Connect requests a connection.
func (m *manager) Connect() {
	m.post(command{kind: cmdConnect})
}

// Disconnect requests a deterministic teardown.
func (m *manager) Disconnect() {
	m.post(command{kind: cmdDisconnect})
}

// Send marshals v and writes it when connected.
func (m *manager) Send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("dropping outbound message, marshal failed", "err", err)
		m.countDrop()
		return
	}
	m.post(command{kind: cmdSend, data: data})
}

func (m *manager) post(cmd command) {
	select {
	case m.cmds <- cmd:
	default:
		m.logger.Warn("command buffer full, dropping command")
		if cmd.kind == cmdSend {
			m.countDrop()
		}
	}
}

// AddConsumer registers a synchronous consumer.
func (m *manager) AddConsumer(fn Consumer) {
	m.mu.Lock()
	m.consumers = append(m.consumers, fn)
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Epoch returns the current connection epoch.
func (m *manager) Epoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		State:               m.state,
		Epoch:               m.epoch,
		MessagesIn:          m.msgsIn,
		MessagesSent:        m.msgsSent,
		PingsSent:           m.pings,
		SendsDropped:        m.sendsDropped,
		DecodeErrors:        m.decodeErrs,
		ReconnectsScheduled: m.reconnects,
	}
}

// run is the manager loop. Serializing every transition through one
// goroutine is what keeps delivery in order within an epoch and keeps
// old-epoch frames from leaking past a reconnect.
func (m *manager) run() {
	defer m.wg.Done()
	defer m.teardownFinal()

	for {
		// Nil channels silence the cases that do not apply right now.
		var frames <-chan TimestampedFrame
		var errs <-chan error
		if m.client != nil {
			frames = m.client.Frames()
			errs = m.client.Errors()
		}
		var keepC <-chan time.Time
		if m.keepalive != nil {
			keepC = m.keepalive.C
		}
		var retryC <-chan time.Time
		if m.retryTimer != nil {
			retryC = m.retryTimer.C
		}

		select {
		case <-m.ctx.Done():
			return
		case cmd := <-m.cmds:
			m.handleCommand(cmd)
		case res := <-m.dialDone:
			m.handleDialResult(res)
		case frame, ok := <-frames:
			if !ok {
				m.handleTransportError(errors.New("frame channel closed"))
				continue
			}
			m.handleFrame(frame)
		case err := <-errs:
			m.handleTransportError(err)
		case <-keepC:
			m.sendKeepalive()
		case <-retryC:
			m.handleRetryTimer()
		}
	}
}

func (m *manager) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdConnect:
		m.handleConnect()
	case cmdDisconnect:
		m.handleDisconnect()
	case cmdSend:
		m.handleSend(cmd.data)
	}
}

// handleConnect begins a dial unless one is unnecessary or impossible.
func (m *manager) handleConnect() {
	m.autoRetry = true

	st := m.State()
	if st == StateConnected || st == StateConnecting {
		m.logger.Debug("connect ignored", "state", st)
		return
	}
	if m.tokens.Token() == "" {
		// Not signed in yet. Expected, stay quiet.
		m.logger.Debug("connect skipped, no credential")
		return
	}
	if st == StateReconnectPending {
		// A manual connect beats the scheduled retry.
		m.stopRetryTimer()
	}
	m.startDial()
}

// handleDisconnect tears everything down and invalidates any in-flight
// dial and scheduled retry so nothing fires afterwards.
func (m *manager) handleDisconnect() {
	m.autoRetry = false
	m.pendingDial = false
	m.gen++
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.stopRetryTimer()
	m.stopKeepalive()
	m.closeTransport()
	m.setState(StateDisconnected)
	m.logger.Info("disconnected")
}

func (m *manager) handleSend(data []byte) {
	if m.State() != StateConnected || m.client == nil {
		m.logger.Warn("dropping outbound message, not connected")
		m.countDrop()
		return
	}
	if err := m.client.Send(data); err != nil {
		m.logger.Warn("send failed", "err", err)
		m.countDrop()
		return
	}
	m.mu.Lock()
	m.msgsSent++
	m.mu.Unlock()
}

// startDial launches a single dial attempt. At most one dial runs at a
// time; a dial requested while a superseded one is still resolving is
// deferred until that result arrives.
func (m *manager) startDial() {
	m.setState(StateConnecting)
	if m.dialing {
		m.pendingDial = true
		return
	}
	m.dialing = true

	gen := m.gen
	cfg := ClientConfig{
		URL:              m.cfg.WSURL,
		Token:            m.tokens.Token(),
		HandshakeTimeout: m.cfg.DialTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.FrameBufferSize,
	}

	dialCtx, cancel := context.WithCancel(m.ctx)
	m.dialCancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		cli := m.factory(cfg, m.logger)
		err := cli.Connect(dialCtx)
		if err != nil {
			cli = nil
		}

		select {
		case m.dialDone <- dialResult{gen: gen, client: cli, err: err}:
		case <-m.ctx.Done():
			if cli != nil {
				cli.Close()
			}
		}
	}()
}

func (m *manager) handleDialResult(res dialResult) {
	if res.gen != m.gen {
		// A disconnect superseded this attempt.
		if res.client != nil {
			res.client.Close()
		}
		m.dialing = false
		if m.pendingDial {
			m.pendingDial = false
			m.startDial()
		}
		return
	}

	m.dialing = false
	m.dialCancel = nil

	if res.err != nil {
		m.logger.Warn("connect failed", "err", res.err)
		if m.autoRetry {
			m.scheduleRetry()
		} else {
			m.setState(StateDisconnected)
		}
		return
	}

	m.client = res.client
	m.attempt = 0
	m.startKeepalive()

	m.mu.Lock()
	m.epoch++
	m.state = StateConnected
	epoch := m.epoch
	m.mu.Unlock()

	m.logger.Info("connected", "epoch", epoch)
}

// handleTransportError reacts to a dead transport: tear it down and,
// when auto-reconnect is on, schedule the next attempt.
func (m *manager) handleTransportError(err error) {
	m.logger.Warn("transport error", "err", err)
	m.stopKeepalive()
	m.closeTransport()
	if m.autoRetry {
		m.scheduleRetry()
	} else {
		m.setState(StateDisconnected)
	}
}

// handleFrame decodes one inbound frame and fans it out. Malformed
// frames are dropped; the connection stays up.
func (m *manager) handleFrame(frame TimestampedFrame) {
	m.mu.Lock()
	m.msgsIn++
	m.mu.Unlock()

	var env envelope
	if err := json.Unmarshal(frame.Data, &env); err != nil || env.Type == "" {
		m.logger.Warn("dropping malformed frame", "err", err, "len", len(frame.Data))
		m.mu.Lock()
		m.decodeErrs++
		m.mu.Unlock()
		return
	}

	msg := Message{
		Type:       env.Type,
		Raw:        json.RawMessage(frame.Data),
		Epoch:      m.Epoch(),
		ReceivedAt: frame.ReceivedAt,
	}

	m.mu.RLock()
	consumers := m.consumers
	m.mu.RUnlock()

	for _, fn := range consumers {
		fn(msg)
	}
}

// scheduleRetry arms the backoff timer for the next attempt. The
// attempt counter increments after the delay is computed, so the Nth
// retry waits base*2^(N-1) capped at the max.
func (m *manager) scheduleRetry() {
	delay := backoffDelay(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay, m.attempt)
	m.attempt++
	m.retryTimer = time.NewTimer(delay)

	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()

	m.setState(StateReconnectPending)
	m.logger.Info("reconnect scheduled", "delay", delay, "attempt", m.attempt)
}

// handleRetryTimer fires a scheduled reconnect. The flag check happens
// here, at fire time, so a disconnect that raced the timer still wins.
func (m *manager) handleRetryTimer() {
	m.retryTimer = nil
	if !m.autoRetry || m.State() != StateReconnectPending {
		m.logger.Debug("stale reconnect timer ignored")
		return
	}
	if m.tokens.Token() == "" {
		// Signed out while waiting. Nothing to retry with.
		m.logger.Debug("reconnect skipped, no credential")
		m.setState(StateDisconnected)
		return
	}
	m.logger.Info("attempting reconnect", "attempt", m.attempt)
	m.startDial()
}

// backoffDelay returns the capped exponential wait for the given
// zero-based attempt number.
func backoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (m *manager) startKeepalive() {
	m.keepalive = time.NewTicker(m.cfg.KeepaliveInterval)
}

func (m *manager) stopKeepalive() {
	if m.keepalive != nil {
		m.keepalive.Stop()
		m.keepalive = nil
	}
}

// sendKeepalive pushes the application-level ping frame.
func (m *manager) sendKeepalive() {
	if m.State() != StateConnected || m.client == nil {
		return
	}
	if err := m.client.Send(keepaliveFrame); err != nil {
		m.logger.Warn("keepalive send failed", "err", err)
		return
	}
	m.mu.Lock()
	m.pings++
	m.mu.Unlock()
}

func (m *manager) stopRetryTimer() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *manager) closeTransport() {
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
}

func (m *manager) teardownFinal() {
	m.autoRetry = false
	m.pendingDial = false
	m.gen++
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.stopRetryTimer()
	m.stopKeepalive()
	m.closeTransport()
	m.setState(StateDisconnected)
}

func (m *manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()

	if prev != s {
		m.logger.Debug("state change", "from", prev, "to", s)
	}
}

func (m *manager) countDrop() {
	m.mu.Lock()
	m.sendsDropped++
	m.mu.Unlock()
}
