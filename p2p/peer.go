// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

const (
	// maxKnownInventory is the maximum number of items to keep in the
	// per-peer known inventory cache.
	maxKnownInventory = 1000

	// negotiateTimeout is the duration of inactivity before we time out a
	// peer that has not completed the initial version negotiation.
	negotiateTimeout = 60 * time.Second

	// idleTimeout is the duration of inactivity on the receive side, and
	// the longest a single write may stall, before we time out a peer.
	idleTimeout = 90 * time.Minute

	// pingInterval is the interval of time to wait in between sending
	// ping messages.
	pingInterval = 2 * time.Minute

	// pongTimeout is how long to wait for the echo of a ping nonce
	// before the connection is considered dead.
	pongTimeout = 5 * time.Minute

	// askForRetryDelay is the minimum spacing between repeated requests
	// for the same inventory.
	askForRetryDelay = 2 * time.Minute

	// outputBufferSize is the number of elements the output channels use.
	outputBufferSize = 50
)

// peerState tracks the message state machine of a connection: any
// non-version message before the version message scores one misbehavior
// point, and normal traffic starts only after the verack.
type peerState int32

const (
	peerStateFresh peerState = iota
	peerStateVersionReceived
	peerStateHandshaken
)

// askForEntry schedules a single inventory request.
type askForEntry struct {
	inv *wire.InvVect
	due time.Time
}

// outMsg is the element of the peer output queue.
type outMsg struct {
	msg      wire.Message
	doneChan chan struct{}
}

// Peer holds the state shared between the connection manager and the message
// handlers for one remote node.
type Peer struct {
	server *Server
	conn   net.Conn
	logger zerolog.Logger

	addr       string
	na         *wire.NetAddress
	inbound    bool
	persistent bool

	// These fields are set at version negotiation and never change
	// afterwards.
	protocolVersion uint32
	services        wire.ServiceFlag
	userAgent       string
	startingHeight  int32

	state     int32 // atomic peerState
	connected int32 // atomic
	quit      chan struct{}

	// versionNonce is the nonce we sent in our version message; receiving
	// it back in a peer's version message means we connected to
	// ourselves.
	versionNonce uint64

	statMtx       sync.RWMutex
	timeConnected time.Time
	lastSend      time.Time
	lastRecv      time.Time
	lastPingNonce uint64
	lastPingTime  time.Time
	lastPingRTT   time.Duration

	// knownInventory is the recently advertised or received inventory,
	// bounding re-relay.
	knownInventory *mruInventorySet

	// Queued inventory to announce on the next trickle tick, guarded by
	// invMtx (the per-peer inventory lock).
	invMtx       sync.Mutex
	invSendQueue []*wire.InvVect

	// Pending inventory requests ordered by due time, guarded by
	// askForMtx (the per-peer request lock).
	askForMtx sync.Mutex
	askFor    []askForEntry

	// getblocks flood control, one request per five seconds.
	getBlocksMtx  sync.Mutex
	lastGetBlocks time.Time

	// continueHash is the block hash of the last inventory pushed in
	// response to a getblocks message; when the peer requests it we send
	// a fresh inventory of our tip to trigger the next getblocks.
	continueHash *chainhash.Hash

	outputQueue chan outMsg

	banScore int32

	wg sync.WaitGroup
}

// newPeer returns a peer over the given established connection.
func newPeer(s *Server, conn net.Conn, inbound, persistent bool) *Peer {
	addr := conn.RemoteAddr().String()
	p := &Peer{
		server:         s,
		conn:           conn,
		logger:         s.logger.With().Str("peer", addr).Logger(),
		addr:           addr,
		inbound:        inbound,
		persistent:     persistent,
		protocolVersion: wire.ProtocolVersion,
		quit:           make(chan struct{}),
		knownInventory: newMruInventorySet(maxKnownInventory),
		outputQueue:    make(chan outMsg, outputBufferSize),
		timeConnected:  time.Now(),
	}
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		p.na = wire.NewNetAddress(tcpAddr, 0)
	}
	return p
}

// String returns the peer's address and directionality as a human-readable
// string.
func (p *Peer) String() string {
	direction := "outbound"
	if p.inbound {
		direction = "inbound"
	}
	return fmt.Sprintf("%s (%s)", p.addr, direction)
}

// Addr returns the peer address.
func (p *Peer) Addr() string { return p.addr }

// Inbound reports whether the peer is inbound.
func (p *Peer) Inbound() bool { return p.inbound }

// StartingHeight returns the height the peer reported during negotiation.
func (p *Peer) StartingHeight() int32 {
	p.statMtx.RLock()
	defer p.statMtx.RUnlock()
	return p.startingHeight
}

// LastPingRTT returns the round-trip time measured by the last completed
// ping exchange.
func (p *Peer) LastPingRTT() time.Duration {
	p.statMtx.RLock()
	defer p.statMtx.RUnlock()
	return p.lastPingRTT
}

// peerState returns the current handshake state.
func (p *Peer) peerState() peerState {
	return peerState(atomic.LoadInt32(&p.state))
}

// setPeerState advances the handshake state machine.
func (p *Peer) setPeerState(st peerState) {
	atomic.StoreInt32(&p.state, int32(st))
}

// Connected reports whether the peer is currently connected.
func (p *Peer) Connected() bool {
	return atomic.LoadInt32(&p.connected) != 0
}

// Disconnect closes the connection and signals all handlers to exit.  It is
// safe to call multiple times.
func (p *Peer) Disconnect() {
	if !atomic.CompareAndSwapInt32(&p.connected, 1, 0) {
		return
	}
	close(p.quit)
	p.conn.Close()
}

// start launches the peer input, output, and ping handlers.  Outbound peers
// send their version message immediately.
func (p *Peer) start() {
	atomic.StoreInt32(&p.connected, 1)

	p.wg.Add(3)
	go p.inHandler()
	go p.outHandler()
	go p.pingHandler()

	if !p.inbound {
		p.pushVersion()
	}
}

// WaitForShutdown blocks until the peer handlers have finished.
func (p *Peer) WaitForShutdown() {
	p.wg.Wait()
}

// pushVersion sends our version message to the peer.
func (p *Peer) pushVersion() {
	theirNA := p.na
	if theirNA == nil {
		theirNA = wire.NewNetAddressIPPort(net.IPv4zero, 0, 0)
	}
	ourNA := p.server.externalAddress()

	nonce, _ := wire.RandomUint64()
	p.versionNonce = nonce
	p.server.registerVersionNonce(nonce)

	msg := wire.NewMsgVersion(ourNA, theirNA, nonce,
		p.server.chain.BestSnapshot().Height)
	msg.Services = wire.SFNodeNetwork
	p.QueueMessage(msg, nil)

	p.logger.Debug().
		Int32("height", msg.LastBlock).
		Msgf("sent version message: version %d", msg.ProtocolVersion)
}

// QueueMessage adds the passed message to the peer send queue.  The done
// channel, when non-nil, is closed once the message has been sent or the
// peer disconnected.
func (p *Peer) QueueMessage(msg wire.Message, doneChan chan struct{}) {
	if !p.Connected() {
		if doneChan != nil {
			close(doneChan)
		}
		return
	}
	select {
	case p.outputQueue <- outMsg{msg: msg, doneChan: doneChan}:
	case <-p.quit:
		if doneChan != nil {
			close(doneChan)
		}
	}
}

// AddKnownInventory marks the passed inventory as known to the peer so it
// will not be re-advertised.
func (p *Peer) AddKnownInventory(iv *wire.InvVect) {
	p.knownInventory.Add(iv)
}

// PushInventory queues the passed inventory for announcement on the next
// trickle tick unless the peer is already known to have it.  Block
// inventory bypasses the trickle and announces immediately.
func (p *Peer) PushInventory(iv *wire.InvVect) {
	if p.knownInventory.Exists(iv) {
		return
	}

	if iv.Type == wire.InvTypeBlock {
		inv := wire.NewMsgInv()
		inv.AddInvVect(iv)
		p.AddKnownInventory(iv)
		p.QueueMessage(inv, nil)
		return
	}

	p.invMtx.Lock()
	p.invSendQueue = append(p.invSendQueue, iv)
	p.invMtx.Unlock()
}

// flushInventory sends the queued announcements, bounding each message to
// the protocol maximum.  Called from the server trickle loop.
func (p *Peer) flushInventory() {
	p.invMtx.Lock()
	queue := p.invSendQueue
	p.invSendQueue = nil
	p.invMtx.Unlock()

	if len(queue) == 0 {
		return
	}

	inv := wire.NewMsgInvSizeHint(uint(len(queue)))
	for _, iv := range queue {
		if p.knownInventory.Exists(iv) {
			continue
		}
		inv.AddInvVect(iv)
		p.AddKnownInventory(iv)
		if len(inv.InvList) >= wire.MaxInvPerMsg-1 {
			p.QueueMessage(inv, nil)
			inv = wire.NewMsgInv()
		}
	}
	if len(inv.InvList) > 0 {
		p.QueueMessage(inv, nil)
	}
}

// AskFor schedules a request for the passed inventory, deduplicated across
// all peers: the same item is requested from the network at most once per
// two minutes, with later peers queued behind earlier ones.
func (p *Peer) AskFor(iv *wire.InvVect) {
	due := p.server.nextRequestTime(iv)

	p.askForMtx.Lock()
	p.askFor = append(p.askFor, askForEntry{inv: iv, due: due})
	sort.Slice(p.askFor, func(i, j int) bool {
		return p.askFor[i].due.Before(p.askFor[j].due)
	})
	p.askForMtx.Unlock()
}

// flushAskFor sends getdata messages for every request that has come due.
// Called from the server trickle loop.
func (p *Peer) flushAskFor(now time.Time) {
	p.askForMtx.Lock()
	var due []askForEntry
	for len(p.askFor) > 0 && !p.askFor[0].due.After(now) {
		due = append(due, p.askFor[0])
		p.askFor = p.askFor[1:]
	}
	p.askForMtx.Unlock()

	if len(due) == 0 {
		return
	}

	gd := wire.NewMsgGetDataSizeHint(uint(len(due)))
	for _, entry := range due {
		// Skip items that arrived while queued.
		if p.server.haveInventory(entry.inv) {
			continue
		}
		gd.AddInvVect(entry.inv)
		if len(gd.InvList) >= wire.MaxInvPerMsg-1 {
			p.QueueMessage(gd, nil)
			gd = wire.NewMsgGetData()
		}
	}
	if len(gd.InvList) > 0 {
		p.QueueMessage(gd, nil)
	}
}

// PushGetBlocks sends a getblocks message anchored at the given locator.
// Every call queues a new message; a request identical to the previous one
// is sent again.
func (p *Peer) PushGetBlocks(locator []*chainhash.Hash, stopHash *chainhash.Hash) error {
	msg := wire.NewMsgGetBlocks(stopHash)
	for _, hash := range locator {
		if err := msg.AddBlockLocatorHash(hash); err != nil {
			return err
		}
	}
	p.QueueMessage(msg, nil)
	return nil
}

// checkGetBlocksRate enforces the one-request-per-five-seconds flood limit
// of the getblocks and getheaders handlers.
func (p *Peer) checkGetBlocksRate() bool {
	p.getBlocksMtx.Lock()
	defer p.getBlocksMtx.Unlock()

	now := time.Now()
	if now.Sub(p.lastGetBlocks) < 5*time.Second {
		return false
	}
	p.lastGetBlocks = now
	return true
}

// inHandler reads and dispatches messages until the connection dies.  The
// read deadline doubles as the negotiation and quiet-receive timeout.
func (p *Peer) inHandler() {
	defer p.wg.Done()

	for {
		timeout := idleTimeout
		if p.peerState() != peerStateHandshaken {
			timeout = negotiateTimeout
		}
		p.conn.SetReadDeadline(time.Now().Add(timeout))

		msg, _, err := wire.ReadMessage(p.conn, p.protocolVersion,
			p.server.chainParams.Net)
		if err != nil {
			// Log and score malformed messages from live peers;
			// read errors on a dying connection are benign.
			if p.Connected() {
				if _, ok := err.(*wire.MessageError); ok {
					p.logger.Debug().Err(err).Msg("invalid message")
					p.server.Misbehaving(p, 1, "malformed message")
					continue
				}
				p.logger.Debug().Err(err).Msg("read error, disconnecting")
			}
			break
		}

		p.statMtx.Lock()
		p.lastRecv = time.Now()
		p.statMtx.Unlock()

		if err := p.server.handleMessage(p, msg); err != nil {
			p.logger.Info().Err(err).Msgf("rejected %s message", msg.Command())
		}

		if !p.Connected() {
			break
		}
	}

	p.Disconnect()
	p.server.donePeer(p)
}

// outHandler writes queued messages to the connection.
func (p *Peer) outHandler() {
	defer p.wg.Done()

out:
	for {
		select {
		case m := <-p.outputQueue:
			// A write that cannot complete within the idle timeout
			// means the peer stopped reading.
			p.conn.SetWriteDeadline(time.Now().Add(idleTimeout))
			err := wire.WriteMessage(p.conn, m.msg, p.protocolVersion,
				p.server.chainParams.Net)
			if m.doneChan != nil {
				close(m.doneChan)
			}
			if err != nil {
				p.logger.Debug().Err(err).Msg("write error, disconnecting")
				p.Disconnect()
				break out
			}

			p.statMtx.Lock()
			p.lastSend = time.Now()
			p.statMtx.Unlock()

		case <-p.quit:
			break out
		}
	}

	// Drain the queue so senders blocked on it unblock.
	for {
		select {
		case m := <-p.outputQueue:
			if m.doneChan != nil {
				close(m.doneChan)
			}
		default:
			return
		}
	}
}

// pingHandler periodically pings the peer and enforces the pong timeout.
func (p *Peer) pingHandler() {
	defer p.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

out:
	for {
		select {
		case <-ticker.C:
			if p.peerState() != peerStateHandshaken {
				continue
			}

			p.statMtx.Lock()
			outstanding := p.lastPingNonce
			pingAge := time.Since(p.lastPingTime)
			p.statMtx.Unlock()

			// A ping that has gone unanswered for too long means the
			// link is dead.
			if outstanding != 0 && pingAge > pongTimeout {
				p.logger.Info().Msg("ping timeout, disconnecting")
				p.Disconnect()
				break out
			}

			nonce, err := wire.RandomUint64()
			if err != nil {
				continue
			}
			p.statMtx.Lock()
			p.lastPingNonce = nonce
			p.lastPingTime = time.Now()
			p.statMtx.Unlock()
			p.QueueMessage(wire.NewMsgPing(nonce), nil)

		case <-p.quit:
			break out
		}
	}
}

// handlePong records the round-trip time of a matching ping exchange.
func (p *Peer) handlePong(msg *wire.MsgPong) {
	p.statMtx.Lock()
	if p.lastPingNonce != 0 && msg.Nonce == p.lastPingNonce {
		p.lastPingRTT = time.Since(p.lastPingTime)
		p.lastPingNonce = 0
	}
	p.statMtx.Unlock()
}
