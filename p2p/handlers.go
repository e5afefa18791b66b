// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/aead/siphash"

	"gitlab.com/phoenix-network/phoenixd/blockchain"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/txscript"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// peerBlockSource adapts a peer to the chain's gap-fill request interface.
type peerBlockSource struct {
	peer *Peer
}

// PushGetBlocks implements blockchain.BlockSource.
func (src peerBlockSource) PushGetBlocks(locator blockchain.BlockLocator,
	stopHash *chainhash.Hash) error {
	return src.peer.PushGetBlocks(locator, stopHash)
}

// RequestBlock implements blockchain.BlockSource.
func (src peerBlockSource) RequestBlock(hash *chainhash.Hash) {
	src.peer.AskFor(wire.NewInvVect(wire.InvTypeBlock, hash))
}

// handleMessage runs the message state machine and dispatches to the typed
// handlers.  A returned error has already been applied to the peer's
// misbehavior score.
func (s *Server) handleMessage(p *Peer, msg wire.Message) error {
	// Until the version message arrives, nothing else is acceptable.
	if p.peerState() == peerStateFresh {
		if _, ok := msg.(*wire.MsgVersion); !ok {
			s.Misbehaving(p, 1, "message before version")
			return fmt.Errorf("received %s before version", msg.Command())
		}
	}

	switch m := msg.(type) {
	case *wire.MsgVersion:
		return s.onVersion(p, m)
	case *wire.MsgVerAck:
		return s.onVerAck(p, m)
	case *wire.MsgAddr:
		return s.onAddr(p, m)
	case *wire.MsgGetAddr:
		return s.onGetAddr(p, m)
	case *wire.MsgInv:
		return s.onInv(p, m)
	case *wire.MsgGetData:
		return s.onGetData(p, m)
	case *wire.MsgGetBlocks:
		return s.onGetBlocks(p, m)
	case *wire.MsgGetHeaders:
		return s.onGetHeaders(p, m)
	case *wire.MsgTx:
		return s.onTx(p, m)
	case *wire.MsgBlock:
		return s.onBlock(p, m)
	case *wire.MsgMemPool:
		return s.onMemPool(p, m)
	case *wire.MsgPing:
		p.QueueMessage(wire.NewMsgPong(m.Nonce), nil)
		return nil
	case *wire.MsgPong:
		p.handlePong(m)
		return nil
	case *wire.MsgAlert:
		return s.onAlert(p, m)
	case *wire.MsgCheckpoint:
		return s.onCheckpoint(p, m)
	default:
		// The codec rejects unknown commands, so only headers
		// messages reach this point; they have no handler.
		s.logger.Debug().Msgf("ignoring unhandled %s message", msg.Command())
		return nil
	}
}

// onVersion negotiates with a connecting peer: duplicate versions score,
// out-of-range protocol versions disconnect, our own nonce means a
// self-connection.  On success we record the peer metadata, learn our
// external address, acknowledge, and seed the block download when the peer
// claims more height than us.
func (s *Server) onVersion(p *Peer, msg *wire.MsgVersion) error {
	if p.peerState() != peerStateFresh {
		s.Misbehaving(p, 1, "duplicate version message")
		return fmt.Errorf("duplicate version message")
	}

	// Detect self connections via the echo of our own nonce.
	if s.isOwnVersionNonce(msg.Nonce) {
		s.logger.Debug().Str("peer", p.addr).Msg("disconnecting self connection")
		p.Disconnect()
		return nil
	}

	// Versions outside the acceptable window indicate an incompatible
	// peer.
	pver := uint32(msg.ProtocolVersion)
	if pver < wire.MinAcceptableProtocolVersion ||
		pver > wire.MaxAcceptableProtocolVersion {

		s.logger.Debug().Str("peer", p.addr).Uint32("version", pver).
			Msg("disconnecting peer with unacceptable protocol version")
		p.Disconnect()
		return nil
	}

	p.statMtx.Lock()
	if pver < p.protocolVersion {
		p.protocolVersion = pver
	}
	p.services = msg.Services
	p.userAgent = msg.UserAgent
	p.startingHeight = msg.LastBlock
	p.statMtx.Unlock()

	// The address the peer sees us as is our best guess at our external
	// address.
	if !p.inbound && msg.AddrYou.IP != nil {
		s.addrMtx.Lock()
		if s.cfg.ExternalIP == nil {
			addrMe := msg.AddrYou
			addrMe.Services = wire.SFNodeNetwork
			s.externalAddr = &addrMe
		}
		s.addrMtx.Unlock()
	}

	// Feed the network-adjusted clock.
	s.cfg.TimeSource.AddTimeSample(p.addr, msg.Timestamp)

	p.setPeerState(peerStateVersionReceived)

	// An inbound peer learns our version only now.
	if p.inbound {
		p.pushVersion()
	}
	p.QueueMessage(wire.NewMsgVerAck(), nil)

	if !p.inbound {
		// Advertise our address and ask for theirs.
		if ext := s.externalAddress(); ext.IP != nil && !ext.IP.IsUnspecified() {
			addrMsg := wire.NewMsgAddr()
			addrMsg.AddAddress(ext)
			p.QueueMessage(addrMsg, nil)
		}
		p.QueueMessage(wire.NewMsgGetAddr(), nil)
	}

	// Seed the block download when the peer claims more height.
	best := s.chain.BestSnapshot()
	if msg.LastBlock > best.Height {
		locator := s.chain.LatestBlockLocator()
		p.PushGetBlocks(locator, &chainhash.ZeroHash)
	}

	// Relay all known alerts and the current sync checkpoint to the
	// fresh peer.
	s.alertMtx.Lock()
	for _, alert := range s.alerts {
		p.QueueMessage(alert, nil)
	}
	s.alertMtx.Unlock()
	if cp := s.chain.CurrentSyncCheckpoint(); cp != nil {
		p.QueueMessage(cp, nil)
	}

	s.logger.Info().
		Str("peer", p.String()).
		Uint32("version", pver).
		Int32("height", msg.LastBlock).
		Str("agent", msg.UserAgent).
		Msg("peer negotiated")
	return nil
}

// onVerAck completes the handshake.
func (s *Server) onVerAck(p *Peer, _ *wire.MsgVerAck) error {
	if p.peerState() != peerStateVersionReceived {
		s.Misbehaving(p, 1, "verack out of order")
		return fmt.Errorf("verack out of order")
	}
	p.setPeerState(peerStateHandshaken)
	return nil
}

// onAddr stores the advertised addresses and relays a freshly learned
// subset to one or two peers chosen deterministically for the day.
func (s *Server) onAddr(p *Peer, msg *wire.MsgAddr) error {
	if len(msg.AddrList) > wire.MaxAddrPerMsg {
		s.Misbehaving(p, 20, "oversized addr message")
		return fmt.Errorf("addr message with %d entries", len(msg.AddrList))
	}

	now := time.Now()
	for _, na := range msg.AddrList {
		if na.IP == nil || na.IP.IsUnspecified() {
			continue
		}

		s.addrMtx.Lock()
		_, known := s.knownAddresses[na.Key()]
		s.knownAddresses[na.Key()] = na
		s.addrMtx.Unlock()

		// Relay addresses that are new to us and plausibly fresh.
		if !known && len(msg.AddrList) <= 10 &&
			now.Sub(na.Timestamp) < 10*time.Minute {
			s.relayAddress(p, na)
		}
	}
	return nil
}

// relayAddress forwards the address to one or two peers selected by a
// deterministic per-day hash, so the same relay targets persist for 24
// hours and the address spreads without flooding.
func (s *Server) relayAddress(from *Peer, na *wire.NetAddress) {
	var key [16]byte
	day := time.Now().Unix() / (24 * 60 * 60)
	binary.LittleEndian.PutUint64(key[:8], uint64(day))
	copy(key[8:], s.chainParams.Net.String())

	type ranked struct {
		peer *Peer
		hash uint64
	}
	var candidates []ranked
	s.forEachPeer(func(p *Peer) {
		if p == from || p.peerState() != peerStateHandshaken {
			return
		}
		data := append([]byte(na.Key()), p.addr...)
		candidates = append(candidates, ranked{peer: p, hash: siphash.Sum64(data, &key)})
	})
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].hash < candidates[j].hash
	})

	relayCount := 1
	if na.IP.To4() != nil {
		relayCount = 2
	}
	for i := 0; i < relayCount && i < len(candidates); i++ {
		addrMsg := wire.NewMsgAddr()
		addrMsg.AddAddress(na)
		candidates[i].peer.QueueMessage(addrMsg, nil)
	}
}

// onGetAddr answers with a bounded selection of known addresses.
func (s *Server) onGetAddr(p *Peer, _ *wire.MsgGetAddr) error {
	addrMsg := wire.NewMsgAddr()

	s.addrMtx.RLock()
	for _, na := range s.knownAddresses {
		if len(addrMsg.AddrList) >= wire.MaxAddrPerMsg {
			break
		}
		addrMsg.AddAddress(na)
	}
	s.addrMtx.RUnlock()

	if len(addrMsg.AddrList) > 0 {
		p.QueueMessage(addrMsg, nil)
	}
	return nil
}

// onInv schedules requests for unknown inventory.  A terminal block entry
// we already hold as an orphan triggers a getblocks for the gap back to the
// main chain.
func (s *Server) onInv(p *Peer, msg *wire.MsgInv) error {
	if len(msg.InvList) > wire.MaxInvPerMsg {
		s.Misbehaving(p, 20, "oversized inv message")
		return fmt.Errorf("inv message with %d entries", len(msg.InvList))
	}

	for i, iv := range msg.InvList {
		switch iv.Type {
		case wire.InvTypeBlock, wire.InvTypeTx:
		default:
			continue
		}

		p.AddKnownInventory(iv)
		have := s.haveInventory(iv)
		if !have {
			p.AskFor(iv)
		}

		if iv.Type == wire.InvTypeBlock && i == len(msg.InvList)-1 &&
			s.chain.IsKnownOrphan(&iv.Hash) {
			// The announced block is the tip of an orphan chain; ask
			// for the intervening blocks.
			orphanRoot := s.chain.GetOrphanRoot(&iv.Hash)
			locator := s.chain.LatestBlockLocator()
			p.PushGetBlocks(locator, orphanRoot)
			continue
		}

		// The final block in the announcement is the peer's tip; when
		// we already have it, ask for what follows.
		if iv.Type == wire.InvTypeBlock && i == len(msg.InvList)-1 && have {
			locator := s.chain.BlockLocatorFromHash(&iv.Hash)
			p.PushGetBlocks(locator, &chainhash.ZeroHash)
		}
	}
	return nil
}

// onGetData answers block requests from disk and transaction requests from
// the memory pool or the relay cache.
func (s *Server) onGetData(p *Peer, msg *wire.MsgGetData) error {
	if len(msg.InvList) > wire.MaxInvPerMsg {
		s.Misbehaving(p, 20, "oversized getdata message")
		return fmt.Errorf("getdata message with %d entries", len(msg.InvList))
	}

	for _, iv := range msg.InvList {
		switch iv.Type {
		case wire.InvTypeBlock:
			block, err := s.chain.BlockByHash(&iv.Hash)
			if err != nil {
				s.logger.Debug().Str("hash", iv.Hash.String()).
					Msg("getdata for unknown block")
				continue
			}
			p.QueueMessage(block.MsgBlock(), nil)

			// A request for the continuation sentinel means the peer
			// finished digesting the previous getblocks batch; announce
			// our tip to trigger the next one.
			if p.continueHash != nil && p.continueHash.IsEqual(&iv.Hash) {
				best := s.chain.BestSnapshot()
				inv := wire.NewMsgInv()
				inv.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &best.Hash))
				p.QueueMessage(inv, nil)
				p.continueHash = nil
			}

		case wire.InvTypeTx:
			s.relayMtx.Lock()
			entry, inRelay := s.relayCache[*iv]
			s.relayMtx.Unlock()

			var tx *phxutil.Tx
			if inRelay {
				tx = entry.tx
			} else if poolTx, err := s.txPool.FetchTransaction(&iv.Hash); err == nil {
				tx = poolTx
			}
			if tx == nil {
				s.logger.Debug().Str("hash", iv.Hash.String()).
					Msg("getdata for unknown transaction")
				continue
			}
			p.QueueMessage(tx.MsgTx(), nil)
		}
	}
	return nil
}

// onGetBlocks locates the fork point from the caller's locator and pushes
// the following main-chain inventory, bounded per message and rate-limited
// per peer.
func (s *Server) onGetBlocks(p *Peer, msg *wire.MsgGetBlocks) error {
	if !p.checkGetBlocksRate() {
		s.logger.Debug().Str("peer", p.addr).Msg("getblocks flood limited")
		return nil
	}

	hashes := s.chain.LocateBlocks(blockchain.BlockLocator(msg.BlockLocatorHashes),
		&msg.HashStop, maxGetBlocksInv)
	if len(hashes) == 0 {
		return nil
	}

	inv := wire.NewMsgInvSizeHint(uint(len(hashes)))
	for i := range hashes {
		inv.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &hashes[i]))
	}

	// When the answer is truncated, remember the final hash so the
	// follow-up getdata for it triggers the next batch.
	if len(hashes) >= maxGetBlocksInv {
		continueHash := hashes[len(hashes)-1]
		p.continueHash = &continueHash
	}
	p.QueueMessage(inv, nil)
	return nil
}

// onGetHeaders is the headers-first variant of onGetBlocks.
func (s *Server) onGetHeaders(p *Peer, msg *wire.MsgGetHeaders) error {
	if !p.checkGetBlocksRate() {
		s.logger.Debug().Str("peer", p.addr).Msg("getheaders flood limited")
		return nil
	}

	headers := s.chain.LocateHeaders(blockchain.BlockLocator(msg.BlockLocatorHashes),
		&msg.HashStop, wire.MaxBlockHeadersPerMsg)

	headersMsg := wire.NewMsgHeaders()
	for i := range headers {
		headersMsg.AddBlockHeader(&headers[i])
	}
	p.QueueMessage(headersMsg, nil)
	return nil
}

// onTx runs mempool admission and relays the accepted transactions,
// including any queued orphans the new arrival connected.
func (s *Server) onTx(p *Peer, msg *wire.MsgTx) error {
	tx := phxutil.NewTx(msg)
	p.AddKnownInventory(wire.NewInvVect(wire.InvTypeTx, tx.Hash()))

	accepted, err := s.txPool.ProcessTransaction(tx)
	if err != nil {
		if score := blockchain.ErrToDoS(err); score > 0 {
			s.Misbehaving(p, score, "invalid transaction")
		}
		return err
	}

	s.RelayTransactions(accepted)
	return nil
}

// blockSelfDeclaredHeight extracts the height committed in the coinbase
// unlocking script, zero when absent.
func blockSelfDeclaredHeight(msgBlock *wire.MsgBlock) int32 {
	if len(msgBlock.Transactions) == 0 {
		return 0
	}
	coinbase := msgBlock.Transactions[0]
	if !coinbase.IsCoinBase() {
		return 0
	}
	pushes := txscript.PushedData(coinbase.TxIn[0].SignatureScript)
	if len(pushes) == 0 || len(pushes[0]) == 0 || len(pushes[0]) > 4 {
		return 0
	}
	// Little-endian sign-magnitude: only the most significant byte
	// carries the sign bit.
	push := pushes[0]
	var height int32
	for i := len(push) - 1; i >= 0; i-- {
		b := push[i]
		if i == len(push)-1 {
			b &= 0x7f
		}
		height = height<<8 | int32(b)
	}
	return height
}

// onBlock feeds a received block into the chain through the same ingress
// the miner uses.  Blocks claiming to be unverifiably far ahead of our tip
// are discarded.
func (s *Server) onBlock(p *Peer, msg *wire.MsgBlock) error {
	block := phxutil.NewBlock(msg)
	iv := wire.NewInvVect(wire.InvTypeBlock, block.Hash())
	p.AddKnownInventory(iv)

	// A block too far past our tip cannot be verified against anything we
	// hold; drop it rather than cache an unbounded orphan chain.
	best := s.chain.BestSnapshot()
	if declared := blockSelfDeclaredHeight(msg); declared > best.Height+maxBlockInvAhead {
		s.logger.Debug().
			Int32("declared", declared).
			Int32("tip", best.Height).
			Msg("discarding block too far ahead")
		return nil
	}

	_, _, err := s.chain.ProcessBlock(block, peerBlockSource{peer: p},
		blockchain.BFNone)
	if err != nil {
		if score := blockchain.ErrToDoS(err); score > 0 {
			s.Misbehaving(p, score, "invalid block")
		}
		return err
	}
	return nil
}

// onMemPool answers with the inventory of the whole transaction pool.
func (s *Server) onMemPool(p *Peer, _ *wire.MsgMemPool) error {
	hashes := s.txPool.TxHashes()
	inv := wire.NewMsgInvSizeHint(uint(len(hashes)))
	for _, hash := range hashes {
		iv := wire.NewInvVect(wire.InvTypeTx, hash)
		inv.AddInvVect(iv)
		if len(inv.InvList) >= wire.MaxInvPerMsg-1 {
			break
		}
	}
	if len(inv.InvList) > 0 {
		p.QueueMessage(inv, nil)
	}
	return nil
}

// onAlert verifies, dedupes, stores, and relays a network alert.
func (s *Server) onAlert(p *Peer, msg *wire.MsgAlert) error {
	if err := s.chain.VerifyAlertSignature(msg); err != nil {
		s.Misbehaving(p, 10, "bad alert signature")
		return err
	}

	key := chainhash.DoubleHashH(msg.SerializedPayload)
	s.alertMtx.Lock()
	if _, seen := s.alerts[key]; seen {
		s.alertMtx.Unlock()
		return nil
	}
	if msg.Payload != nil &&
		time.Now().Unix() < msg.Payload.Expiration {
		s.alerts[key] = msg
	}
	s.alertMtx.Unlock()

	if msg.Payload != nil {
		s.logger.Warn().
			Int32("id", msg.Payload.ID).
			Str("status", msg.Payload.StatusBar).
			Msg("network alert")
	}

	s.BroadcastMessage(msg, p)
	return nil
}

// onCheckpoint verifies and applies a signed sync checkpoint, relaying it on
// success.  Application may reorganize the chain onto the pinned branch.
func (s *Server) onCheckpoint(p *Peer, msg *wire.MsgCheckpoint) error {
	relay, err := s.chain.ProcessSyncCheckpoint(msg)
	if err != nil {
		if score := blockchain.ErrToDoS(err); score > 0 {
			s.Misbehaving(p, score, "bad sync checkpoint")
		}
		return err
	}
	if relay {
		s.BroadcastMessage(msg, p)
	}

	// A parked checkpoint needs its block; ask the sender.
	if pending := s.chain.PendingSyncCheckpointBlock(); pending != nil {
		p.AskFor(wire.NewInvVect(wire.InvTypeBlock, pending))
	}
	return nil
}

// NotificationHandler returns the chain notification callback that wires
// block events into the peer engine and the memory pool: connected blocks
// shrink the pool and relay to near-tip peers, disconnected blocks
// resurrect their transactions.
func NotificationHandler(s *Server) blockchain.NotificationCallback {
	return func(n *blockchain.Notification) {
		block, ok := n.Data.(*phxutil.Block)
		if !ok {
			return
		}

		switch n.Type {
		case blockchain.NTBlockConnected:
			s.txPool.OnBlockConnected(block)

		case blockchain.NTBlockDisconnected:
			s.txPool.OnBlockDisconnected(block)

		case blockchain.NTBlockAccepted:
			// Relay the new tip; peers too far behind are catching up
			// through getblocks anyway.
			best := s.chain.BestSnapshot()
			if best.Hash.IsEqual(block.Hash()) {
				s.RelayBlockInventory(block.Hash(), block.Height())
			}
		}
	}
}
