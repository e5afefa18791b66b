// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package p2p implements the peer-to-peer engine: the connection manager,
// per-peer send/receive handling, the message state machine, inventory
// exchange, misbehavior scoring and banning.
package p2p

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/go-socks/socks"
	"github.com/rs/zerolog"

	"gitlab.com/phoenix-network/phoenixd/blockchain"
	"gitlab.com/phoenix-network/phoenixd/chaincfg"
	"gitlab.com/phoenix-network/phoenixd/mempool"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

const (
	// defaultTargetOutbound is the default number of outbound connections
	// to maintain; it also sizes the outbound dial semaphore.
	defaultTargetOutbound = 32

	// defaultBanThreshold is the misbehavior score at which a peer is
	// banned.
	defaultBanThreshold = 100

	// defaultBanDuration is how long a misbehaving peer stays banned.
	defaultBanDuration = 24 * time.Hour

	// trickleInterval is the cadence of the queued inventory and request
	// flushing loop; one peer per tick receives its batched transaction
	// announcements.
	trickleInterval = time.Second

	// relayCacheTimeout is how long relayed transactions stay answerable
	// from the relay cache.
	relayCacheTimeout = 15 * time.Minute

	// maxBlockInvAhead is how far beyond our tip a block may claim to be
	// before it is discarded as unverifiable.
	maxBlockInvAhead = 5000

	// maxGetBlocksInv is the number of inventory vectors pushed in
	// response to one getblocks message.
	maxGetBlocksInv = 1000

	// maxSentNonces bounds the self-connection nonce cache.
	maxSentNonces = 50
)

// Config holds the peer engine configuration.
type Config struct {
	// ChainParams identifies the network.
	ChainParams *chaincfg.Params

	// Chain is the consensus engine blocks are dispatched into.
	Chain *blockchain.BlockChain

	// TxPool is the memory pool transactions are dispatched into.
	TxPool *mempool.TxPool

	// TimeSource collects peer time samples.
	TimeSource blockchain.MedianTimeSource

	// Listeners are the local addresses to accept connections on.
	Listeners []string

	// ConnectPeers are operator-specified peers maintained persistently.
	ConnectPeers []string

	// Proxy optionally routes outbound connections through a SOCKS5
	// proxy of the form host:port.
	Proxy string

	// ExternalIP optionally fixes the address advertised to peers.
	ExternalIP *wire.NetAddress

	// MaxPeers caps the total connection count.
	MaxPeers int

	// TargetOutbound is the number of outbound connections to maintain.
	TargetOutbound int

	// BanThreshold and BanDuration configure misbehavior banning.
	BanThreshold uint32
	BanDuration  time.Duration

	// Logger is the peer engine logging unit.
	Logger zerolog.Logger
}

// relayEntry pairs a cached relay transaction with its expiry.
type relayEntry struct {
	tx     *phxutil.Tx
	expiry time.Time
}

// Server is the connection manager: it owns the peer set, the listener and
// dial loops, the trickle loop, and the message dispatch.
type Server struct {
	cfg         Config
	chainParams *chaincfg.Params
	chain       *blockchain.BlockChain
	txPool      *mempool.TxPool
	logger      zerolog.Logger

	started  int32
	shutdown int32
	quit     chan struct{}
	wg       sync.WaitGroup

	listeners []net.Listener

	peersMtx    sync.RWMutex
	peers       map[*Peer]struct{}
	banned      map[string]time.Time
	trickleNext int

	// outboundSem is the counting semaphore bounding concurrent outbound
	// dials and connections.
	outboundSem chan struct{}

	// sentNonces holds recently sent version nonces for self-connection
	// detection.
	nonceMtx   sync.Mutex
	sentNonces []uint64

	// knownAddresses is the lightweight address table fed by addr
	// messages.
	addrMtx        sync.RWMutex
	knownAddresses map[string]*wire.NetAddress
	externalAddr   *wire.NetAddress

	// alreadyAskedFor spaces repeated requests for one inventory.
	requestMtx      sync.Mutex
	alreadyAskedFor map[wire.InvVect]time.Time

	// relayCache answers getdata for recently relayed transactions that
	// have already left the pool.
	relayMtx   sync.Mutex
	relayCache map[wire.InvVect]relayEntry

	// seen alerts, deduplicated by payload hash.
	alertMtx sync.Mutex
	alerts   map[chainhash.Hash]*wire.MsgAlert
}

// NewServer builds a peer engine around the given chain and pool.
func NewServer(cfg *Config) *Server {
	targetOutbound := cfg.TargetOutbound
	if targetOutbound <= 0 {
		targetOutbound = defaultTargetOutbound
	}
	if cfg.BanThreshold == 0 {
		cfg.BanThreshold = defaultBanThreshold
	}
	if cfg.BanDuration == 0 {
		cfg.BanDuration = defaultBanDuration
	}

	s := &Server{
		cfg:             *cfg,
		chainParams:     cfg.ChainParams,
		chain:           cfg.Chain,
		txPool:          cfg.TxPool,
		logger:          cfg.Logger,
		quit:            make(chan struct{}),
		peers:           make(map[*Peer]struct{}),
		banned:          make(map[string]time.Time),
		outboundSem:     make(chan struct{}, targetOutbound),
		knownAddresses:  make(map[string]*wire.NetAddress),
		alreadyAskedFor: make(map[wire.InvVect]time.Time),
		relayCache:      make(map[wire.InvVect]relayEntry),
		alerts:          make(map[chainhash.Hash]*wire.MsgAlert),
		externalAddr:    cfg.ExternalIP,
	}
	return s
}

// Start begins listening, dialing, and the maintenance loops.
func (s *Server) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return nil
	}

	for _, addr := range s.cfg.Listeners {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		s.listeners = append(s.listeners, listener)
		s.wg.Add(1)
		go s.listenHandler(listener)
	}

	s.wg.Add(2)
	go s.outboundHandler()
	go s.trickleHandler()

	if len(s.cfg.ConnectPeers) > 0 {
		s.wg.Add(1)
		go s.addedConnectionsHandler()
	}

	s.logger.Info().Int("listeners", len(s.listeners)).Msg("peer engine started")
	return nil
}

// Stop disconnects every peer and shuts the loops down.
func (s *Server) Stop() {
	if !atomic.CompareAndSwapInt32(&s.shutdown, 0, 1) {
		return
	}
	close(s.quit)
	for _, listener := range s.listeners {
		listener.Close()
	}

	s.peersMtx.Lock()
	for p := range s.peers {
		p.Disconnect()
	}
	s.peersMtx.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("peer engine stopped")
}

// ConnectedCount returns the number of live peers.
func (s *Server) ConnectedCount() int32 {
	s.peersMtx.RLock()
	defer s.peersMtx.RUnlock()
	return int32(len(s.peers))
}

// externalAddress returns the address advertised in version messages.
func (s *Server) externalAddress() *wire.NetAddress {
	s.addrMtx.RLock()
	defer s.addrMtx.RUnlock()
	if s.externalAddr != nil {
		return s.externalAddr
	}
	return wire.NewNetAddressIPPort(net.IPv4zero, 0, wire.SFNodeNetwork)
}

// registerVersionNonce remembers a nonce we sent so a loopback connection
// can be recognized when it comes back in a version message.
func (s *Server) registerVersionNonce(nonce uint64) {
	s.nonceMtx.Lock()
	s.sentNonces = append(s.sentNonces, nonce)
	if len(s.sentNonces) > maxSentNonces {
		s.sentNonces = s.sentNonces[1:]
	}
	s.nonceMtx.Unlock()
}

// isOwnVersionNonce reports whether the nonce came from ourselves.
func (s *Server) isOwnVersionNonce(nonce uint64) bool {
	s.nonceMtx.Lock()
	defer s.nonceMtx.Unlock()
	for _, n := range s.sentNonces {
		if n == nonce {
			return true
		}
	}
	return false
}

// isBanned reports whether the host of the given address is banned, lazily
// expiring stale entries.
func (s *Server) isBanned(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	s.peersMtx.Lock()
	defer s.peersMtx.Unlock()
	until, ok := s.banned[host]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(s.banned, host)
		return false
	}
	return true
}

// Misbehaving raises the peer's misbehavior score and bans it once the
// threshold is reached.
func (s *Server) Misbehaving(p *Peer, score uint16, reason string) {
	if score == 0 {
		return
	}

	total := atomic.AddInt32(&p.banScore, int32(score))
	s.logger.Debug().
		Str("peer", p.addr).
		Int32("score", total).
		Str("reason", reason).
		Msg("misbehaving peer")

	if uint32(total) >= s.cfg.BanThreshold {
		host, _, err := net.SplitHostPort(p.addr)
		if err != nil {
			host = p.addr
		}
		s.peersMtx.Lock()
		s.banned[host] = time.Now().Add(s.cfg.BanDuration)
		s.peersMtx.Unlock()

		s.logger.Warn().Str("peer", p.addr).Msg("banning misbehaving peer")
		p.Disconnect()
	}
}

// listenHandler accepts inbound connections.
func (s *Server) listenHandler(listener net.Listener) {
	defer s.wg.Done()

	for atomic.LoadInt32(&s.shutdown) == 0 {
		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.shutdown) == 0 {
				s.logger.Debug().Err(err).Msg("accept failed")
			}
			continue
		}
		if s.isBanned(conn.RemoteAddr().String()) {
			conn.Close()
			continue
		}
		if s.cfg.MaxPeers > 0 && int(s.ConnectedCount()) >= s.cfg.MaxPeers {
			conn.Close()
			continue
		}
		s.addPeer(newPeer(s, conn, true, false))
	}
}

// dial opens a TCP connection, optionally through the configured SOCKS5
// proxy.
func (s *Server) dial(addr string) (net.Conn, error) {
	if s.cfg.Proxy != "" {
		proxy := &socks.Proxy{Addr: s.cfg.Proxy}
		return proxy.Dial("tcp", addr)
	}
	return net.DialTimeout("tcp", addr, 30*time.Second)
}

// outboundHandler keeps the outbound connection count at the target,
// bounded by the outbound semaphore.
func (s *Server) outboundHandler() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			target := cap(s.outboundSem)
			if s.outboundCount() >= target {
				continue
			}
			addr := s.pickAddress()
			if addr == "" {
				continue
			}

			select {
			case s.outboundSem <- struct{}{}:
			default:
				continue
			}
			go func(addr string) {
				defer func() { <-s.outboundSem }()
				s.connectTo(addr, false)
			}(addr)

		case <-s.quit:
			return
		}
	}
}

// addedConnectionsHandler maintains the operator-specified peers.
func (s *Server) addedConnectionsHandler() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		for _, addr := range s.cfg.ConnectPeers {
			if s.havePeerAddr(addr) || s.isBanned(addr) {
				continue
			}
			s.connectTo(addr, true)
		}

		select {
		case <-ticker.C:
		case <-s.quit:
			return
		}
	}
}

// connectTo dials and registers an outbound peer.
func (s *Server) connectTo(addr string, persistent bool) {
	conn, err := s.dial(addr)
	if err != nil {
		s.logger.Debug().Err(err).Str("addr", addr).Msg("dial failed")
		return
	}
	s.addPeer(newPeer(s, conn, false, persistent))
}

// addPeer registers and starts a peer.
func (s *Server) addPeer(p *Peer) {
	s.peersMtx.Lock()
	s.peers[p] = struct{}{}
	s.peersMtx.Unlock()

	s.logger.Info().Str("peer", p.String()).Msg("new peer")
	p.start()
}

// donePeer unregisters a finished peer.
func (s *Server) donePeer(p *Peer) {
	s.peersMtx.Lock()
	delete(s.peers, p)
	s.peersMtx.Unlock()
	s.logger.Info().Str("peer", p.String()).Msg("peer done")
}

// outboundCount returns the number of live outbound peers.
func (s *Server) outboundCount() int {
	s.peersMtx.RLock()
	defer s.peersMtx.RUnlock()
	count := 0
	for p := range s.peers {
		if !p.inbound {
			count++
		}
	}
	return count
}

// havePeerAddr reports whether a live peer uses the given address.
func (s *Server) havePeerAddr(addr string) bool {
	s.peersMtx.RLock()
	defer s.peersMtx.RUnlock()
	for p := range s.peers {
		if p.addr == addr {
			return true
		}
	}
	return false
}

// pickAddress selects a known address that is neither connected nor banned.
func (s *Server) pickAddress() string {
	s.addrMtx.RLock()
	defer s.addrMtx.RUnlock()
	for key := range s.knownAddresses {
		if !s.havePeerAddr(key) && !s.isBanned(key) {
			return key
		}
	}
	return ""
}

// forEachPeer runs fn over a snapshot of the live peers.
func (s *Server) forEachPeer(fn func(p *Peer)) {
	s.peersMtx.RLock()
	peers := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.peersMtx.RUnlock()

	for _, p := range peers {
		fn(p)
	}
}

// trickleHandler periodically flushes due inventory requests for every peer
// and the queued announcements of one rotating trickle peer.
func (s *Server) trickleHandler() {
	defer s.wg.Done()

	ticker := time.NewTicker(trickleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()

			s.peersMtx.Lock()
			peers := make([]*Peer, 0, len(s.peers))
			for p := range s.peers {
				peers = append(peers, p)
			}
			trickleIdx := -1
			if len(peers) > 0 {
				trickleIdx = s.trickleNext % len(peers)
				s.trickleNext++
			}
			s.peersMtx.Unlock()

			for i, p := range peers {
				if p.peerState() != peerStateHandshaken {
					continue
				}
				p.flushAskFor(now)
				if i == trickleIdx {
					p.flushInventory()
				}
			}

			s.expireRelayCache(now)

		case <-s.quit:
			return
		}
	}
}

// nextRequestTime computes when a request for the given inventory may be
// issued: immediately when never asked for, otherwise spaced behind the
// previous request.
func (s *Server) nextRequestTime(iv *wire.InvVect) time.Time {
	s.requestMtx.Lock()
	defer s.requestMtx.Unlock()

	now := time.Now()
	last, ok := s.alreadyAskedFor[*iv]
	var due time.Time
	if !ok || now.Sub(last) > askForRetryDelay {
		due = now
	} else {
		due = last.Add(askForRetryDelay)
	}
	s.alreadyAskedFor[*iv] = due

	// Bound the table; stale entries serve no purpose.
	if len(s.alreadyAskedFor) > 4*wire.MaxInvPerMsg {
		for key, when := range s.alreadyAskedFor {
			if now.Sub(when) > askForRetryDelay {
				delete(s.alreadyAskedFor, key)
			}
		}
	}
	return due
}

// haveInventory reports whether the advertised inventory is already known
// locally.
func (s *Server) haveInventory(iv *wire.InvVect) bool {
	switch iv.Type {
	case wire.InvTypeBlock:
		return s.chain.HaveBlock(&iv.Hash)
	case wire.InvTypeTx:
		if s.txPool.HaveTransaction(&iv.Hash) {
			return true
		}
		mined, err := s.chain.HaveTxIndexEntry(&iv.Hash)
		return err == nil && mined
	}
	return true
}

// expireRelayCache drops relay cache entries past their timeout.
func (s *Server) expireRelayCache(now time.Time) {
	s.relayMtx.Lock()
	for iv, entry := range s.relayCache {
		if now.After(entry.expiry) {
			delete(s.relayCache, iv)
		}
	}
	s.relayMtx.Unlock()
}

// RelayTransactions announces the passed transactions to every peer that
// does not already know them and parks them in the relay cache.
func (s *Server) RelayTransactions(txns []*phxutil.Tx) {
	now := time.Now()
	for _, tx := range txns {
		iv := wire.NewInvVect(wire.InvTypeTx, tx.Hash())

		s.relayMtx.Lock()
		s.relayCache[*iv] = relayEntry{tx: tx, expiry: now.Add(relayCacheTimeout)}
		s.relayMtx.Unlock()

		s.forEachPeer(func(p *Peer) {
			p.PushInventory(iv)
		})
	}
}

// RelayBlockInventory announces a newly connected block to peers whose
// reported height is close enough to the tip to make use of it.
func (s *Server) RelayBlockInventory(hash *chainhash.Hash, height int32) {
	iv := wire.NewInvVect(wire.InvTypeBlock, hash)
	blockEstimate := int32(0)
	if cp := s.chain.LatestCheckpoint(); cp != nil {
		blockEstimate = cp.Height
	}
	s.forEachPeer(func(p *Peer) {
		limit := blockEstimate
		if sh := p.StartingHeight(); sh > 0 {
			limit = sh - 2000
		}
		if height > limit {
			p.PushInventory(iv)
		}
	})
}

// BroadcastMessage queues the message to every handshaken peer except the
// listed ones.
func (s *Server) BroadcastMessage(msg wire.Message, except ...*Peer) {
	s.forEachPeer(func(p *Peer) {
		for _, e := range except {
			if e == p {
				return
			}
		}
		if p.peerState() == peerStateHandshaken {
			p.QueueMessage(msg, nil)
		}
	})
}
