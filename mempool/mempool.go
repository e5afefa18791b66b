// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mempool provides the set of candidate unconfirmed transactions:
// per-outpoint conflict detection, fee policy, a decaying free-relay rate
// limiter, and a capped orphan transaction pool.
package mempool

import (
	"crypto/rand"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gitlab.com/phoenix-network/phoenixd/blockchain"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

const (
	// maxStandardLockTime is the highest lock-time a relayed transaction
	// may carry.  Values beyond 2^31 seconds would read as negative
	// numbers to very old clients.
	maxStandardLockTime = int64(math.MaxInt32)
)

// Config is a descriptor containing the memory pool configuration.
type Config struct {
	// Chain is the block chain the pool validates against.
	Chain *blockchain.BlockChain

	// RelayNonStd defines whether non-standard transactions are accepted
	// and relayed.
	RelayNonStd bool

	// FreeTxRelayLimit defines the given amount in thousands of bytes
	// per minute that free transactions may be relayed at.
	FreeTxRelayLimit float64

	// MaxOrphanTxs is the maximum number of orphan transactions that are
	// kept in the orphan pool.
	MaxOrphanTxs int

	// IsOurs optionally reports whether the transaction was created by
	// the local wallet; such transactions bypass the free-relay rate
	// limiter.
	IsOurs func(*phxutil.Tx) bool

	// Logger is the mempool logging unit.
	Logger zerolog.Logger
}

// TxDesc is a descriptor containing a transaction in the pool along with
// additional metadata.
type TxDesc struct {
	// Tx is the transaction associated with the entry.
	Tx *phxutil.Tx

	// Added is the time when the entry was added to the pool.
	Added time.Time

	// Fee is the total fee the transaction pays.
	Fee int64
}

// TxPool is used as a source of transactions that need to be mined into
// blocks and relayed to other peers.  It is safe for concurrent access.
type TxPool struct {
	cfg Config

	mtx      sync.RWMutex
	pool     map[chainhash.Hash]*TxDesc
	outpoints map[wire.OutPoint]*phxutil.Tx

	orphans       map[chainhash.Hash]*phxutil.Tx
	orphansByPrev map[chainhash.Hash]map[chainhash.Hash]*phxutil.Tx

	// lastUpdated and updateCounter advance on every pool mutation; the
	// miner watches the counter to decide when a template went stale.
	lastUpdated   time.Time
	updateCounter uint64

	// Free-relay limiter: an exponentially decaying byte counter.
	freeRelayMtx   sync.Mutex
	freeRelayCount float64
	freeRelayLast  int64
}

// New returns a new memory pool for validating and storing standalone
// transactions until they are mined into a block.
func New(cfg *Config) *TxPool {
	return &TxPool{
		cfg:           *cfg,
		pool:          make(map[chainhash.Hash]*TxDesc),
		outpoints:     make(map[wire.OutPoint]*phxutil.Tx),
		orphans:       make(map[chainhash.Hash]*phxutil.Tx),
		orphansByPrev: make(map[chainhash.Hash]map[chainhash.Hash]*phxutil.Tx),
		lastUpdated:   time.Now(),
	}
}

// Ensure the pool satisfies the chain's transaction source contract.
var _ blockchain.PoolTxSource = (*TxPool)(nil)

// FetchPoolTx returns the pool transaction with the given hash, nil when the
// pool does not contain it.  It implements blockchain.PoolTxSource.
//
// This function is safe for concurrent access.
func (mp *TxPool) FetchPoolTx(hash *chainhash.Hash) *phxutil.Tx {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return mp.fetchPoolTxLocked(hash)
}

// fetchPoolTxLocked is the lock-free pool lookup used while the pool lock is
// already held.
func (mp *TxPool) fetchPoolTxLocked(hash *chainhash.Hash) *phxutil.Tx {
	if desc, ok := mp.pool[*hash]; ok {
		return desc.Tx
	}
	return nil
}

// HaveTransaction returns whether the passed transaction already exists in
// the main pool or in the orphan pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) HaveTransaction(hash *chainhash.Hash) bool {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return mp.haveTransaction(hash)
}

func (mp *TxPool) haveTransaction(hash *chainhash.Hash) bool {
	_, inPool := mp.pool[*hash]
	_, inOrphans := mp.orphans[*hash]
	return inPool || inOrphans
}

// IsTransactionInPool returns whether the passed transaction exists in the
// main pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) IsTransactionInPool(hash *chainhash.Hash) bool {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	_, exists := mp.pool[*hash]
	return exists
}

// FetchTransaction returns the requested transaction from the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) FetchTransaction(hash *chainhash.Hash) (*phxutil.Tx, error) {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	if desc, ok := mp.pool[*hash]; ok {
		return desc.Tx, nil
	}
	return nil, fmt.Errorf("transaction is not in the pool")
}

// TxDescs returns a slice of descriptors for all the transactions in the
// pool.  The descriptors are treated as immutable.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxDescs() []*TxDesc {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	descs := make([]*TxDesc, 0, len(mp.pool))
	for _, desc := range mp.pool {
		descs = append(descs, desc)
	}
	return descs
}

// TxHashes returns the hashes of all of the transactions in the memory pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxHashes() []*chainhash.Hash {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	hashes := make([]*chainhash.Hash, 0, len(mp.pool))
	for hash := range mp.pool {
		hashCopy := hash
		hashes = append(hashes, &hashCopy)
	}
	return hashes
}

// Count returns the number of transactions in the main pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Count() int {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return len(mp.pool)
}

// UpdateCounter returns the monotonic pool mutation counter.
//
// This function is safe for concurrent access.
func (mp *TxPool) UpdateCounter() uint64 {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return mp.updateCounter
}

// LastUpdated returns the last time a transaction was added to or removed
// from the main pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) LastUpdated() time.Time {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return mp.lastUpdated
}

// addTransaction inserts the transaction into the main pool.  The pool lock
// must be held.
func (mp *TxPool) addTransaction(tx *phxutil.Tx, fee int64) {
	mp.pool[*tx.Hash()] = &TxDesc{
		Tx:    tx,
		Added: time.Now(),
		Fee:   fee,
	}
	for _, txIn := range tx.MsgTx().TxIn {
		mp.outpoints[txIn.PreviousOutPoint] = tx
	}
	mp.updateCounter++
	mp.lastUpdated = time.Now()
}

// removeTransaction removes the transaction, and optionally everything that
// spends its outputs, from the pool.  The pool lock must be held.
func (mp *TxPool) removeTransaction(tx *phxutil.Tx, removeRedeemers bool) {
	txHash := tx.Hash()

	if removeRedeemers {
		// Remove any transactions which rely on this one.
		for i := uint32(0); i < uint32(len(tx.MsgTx().TxOut)); i++ {
			prevOut := wire.OutPoint{Hash: *txHash, Index: i}
			if txRedeemer, exists := mp.outpoints[prevOut]; exists {
				mp.removeTransaction(txRedeemer, true)
			}
		}
	}

	if desc, exists := mp.pool[*txHash]; exists {
		for _, txIn := range desc.Tx.MsgTx().TxIn {
			delete(mp.outpoints, txIn.PreviousOutPoint)
		}
		delete(mp.pool, *txHash)
		mp.updateCounter++
		mp.lastUpdated = time.Now()
	}
}

// RemoveTransaction removes the passed transaction from the memory pool,
// optionally removing any transactions that redeem its outputs.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveTransaction(tx *phxutil.Tx, removeRedeemers bool) {
	mp.mtx.Lock()
	mp.removeTransaction(tx, removeRedeemers)
	mp.mtx.Unlock()
}

// RemoveDoubleSpends removes all transactions which spend outputs spent by
// the passed transaction from the memory pool.  Removing those transactions
// then removes any transactions which depend on them, recursively.  This is
// necessary when a block is connected to the main chain because the block may
// contain transactions which were previously unknown to the memory pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveDoubleSpends(tx *phxutil.Tx) {
	mp.mtx.Lock()
	for _, txIn := range tx.MsgTx().TxIn {
		if txRedeemer, ok := mp.outpoints[txIn.PreviousOutPoint]; ok {
			if !txRedeemer.Hash().IsEqual(tx.Hash()) {
				mp.removeTransaction(txRedeemer, true)
			}
		}
	}
	mp.mtx.Unlock()
}

// limitFreeRelay applies the exponentially decaying free transaction rate
// limiter and reports whether the transaction of the given size may relay
// for free.  The counter decays with a ~10 minute window; the configured
// limit is in thousand-bytes per minute.
func (mp *TxPool) limitFreeRelay(size int) error {
	mp.freeRelayMtx.Lock()
	defer mp.freeRelayMtx.Unlock()

	now := time.Now().Unix()

	// Decay the counter by the time elapsed since the last free
	// transaction.
	mp.freeRelayCount *= math.Pow(1.0-1.0/600.0, float64(now-mp.freeRelayLast))
	mp.freeRelayLast = now

	limit := mp.cfg.FreeTxRelayLimit * 10 * 1000
	if mp.freeRelayCount > limit {
		return fmt.Errorf("free transaction rejected by rate limiter")
	}
	oldCount := mp.freeRelayCount
	mp.freeRelayCount += float64(size)
	mp.cfg.Logger.Debug().
		Float64("before", oldCount).
		Float64("after", mp.freeRelayCount).
		Msg("rate limit")
	return nil
}

// MaybeAcceptTransaction runs the full admission pipeline of a loose
// transaction.  The missingInputs return is set when the transaction's
// inputs reference unknown transactions; the caller may promote it to the
// orphan pool.  Replacement of conflicting pool entries is permanently
// disabled.
//
// This function is safe for concurrent access.  The chain state lock is
// acquired first; the pool lock always nests inside it.
func (mp *TxPool) MaybeAcceptTransaction(tx *phxutil.Tx, isNew bool) (bool, error) {
	mp.cfg.Chain.StateLock()
	defer mp.cfg.Chain.StateUnlock()
	mp.mtx.Lock()
	defer mp.mtx.Unlock()
	return mp.maybeAcceptTransaction(tx, isNew)
}

// maybeAcceptTransaction is the locked implementation of
// MaybeAcceptTransaction.  The boolean return reports missing inputs.
func (mp *TxPool) maybeAcceptTransaction(tx *phxutil.Tx, isNew bool) (bool, error) {
	txHash := tx.Hash()
	msgTx := tx.MsgTx()

	if err := blockchain.CheckTransaction(tx); err != nil {
		return false, err
	}

	// A standalone transaction must not be a coinbase transaction.
	if msgTx.IsCoinBase() {
		return false, blockchainDoS(100, "transaction %v is an individual coinbase", txHash)
	}

	// Don't accept lock times beyond what old clients can represent.
	if int64(msgTx.LockTime) > maxStandardLockTime {
		return false, fmt.Errorf("transaction %v has a lock time beyond range", txHash)
	}

	// Don't accept non-standard transactions on the main network.
	if !mp.cfg.RelayNonStd {
		if err := checkTransactionStandard(tx); err != nil {
			return false, fmt.Errorf("transaction %v is not standard: %v", txHash, err)
		}
	}

	// The transaction must not already exist in the pool or in the
	// transaction index.  This applies to orphan resubmissions too.
	if mp.haveTransaction(txHash) {
		return false, fmt.Errorf("already have transaction %v", txHash)
	}
	mined, err := mp.cfg.Chain.HaveTxIndexEntry(txHash)
	if err != nil {
		return false, err
	}
	if mined {
		return false, fmt.Errorf("transaction %v is already mined", txHash)
	}

	// The transaction may not use any of the same outputs as other
	// transactions already in the pool.  Replacement is disabled, so this
	// is an unconditional rejection and deliberately not a misbehavior.
	for _, txIn := range msgTx.TxIn {
		if _, exists := mp.outpoints[txIn.PreviousOutPoint]; exists {
			return false, fmt.Errorf("output %v already spent by a pool "+
				"transaction", txIn.PreviousOutPoint)
		}
	}

	// Fetch all of the transactions referenced by the inputs, signalling
	// an orphan when some are missing.  Invalid references (an output
	// index past the end of the previous transaction) reject outright.
	// The pool lock is already held, so the lookup goes through the
	// lock-free view.
	inputs, missing, _, err := mp.cfg.Chain.FetchMempoolInputs(tx, mp.fetchPoolTxLocked)
	if missing {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	// Don't accept transactions redeeming non-standard scripts on the
	// main network.
	if !mp.cfg.RelayNonStd {
		if err := checkInputsStandard(tx, inputs); err != nil {
			return false, fmt.Errorf("transaction %v input is not standard: %v",
				txHash, err)
		}
	}

	// The fee must cover the relay minimum.
	serializedSize := msgTx.SerializeSize()
	var totalIn int64
	for _, txIn := range msgTx.TxIn {
		prevOut := txIn.PreviousOutPoint
		totalIn += inputs[prevOut.Hash].Tx.MsgTx().TxOut[prevOut.Index].Value
	}
	var totalOut int64
	for _, txOut := range msgTx.TxOut {
		totalOut += txOut.Value
	}
	fee := totalIn - totalOut

	minFee := GetMinFee(msgTx, serializedSize, true, FeeModeRelay)
	if fee < minFee {
		return false, fmt.Errorf("transaction %v has %d fees which is under "+
			"the required amount of %d", txHash, fee, minFee)
	}

	// Continuously rate-limit free transactions.  This mitigates
	// penny-flooding: sending thousands of free transactions just to be
	// annoying or to make others' transactions take longer to confirm.
	if isNew && fee < MinRelayTxFee {
		ours := mp.cfg.IsOurs != nil && mp.cfg.IsOurs(tx)
		if !ours {
			if err := mp.limitFreeRelay(serializedSize); err != nil {
				return false, err
			}
		}
	}

	// Verify the inputs connect, including signature checks, against a
	// private change set.  This is done last to help prevent CPU
	// exhaustion attacks.
	if _, err := mp.cfg.Chain.CheckConnectInputs(tx, inputs); err != nil {
		return false, err
	}

	mp.addTransaction(tx, fee)

	mp.cfg.Logger.Debug().
		Str("tx", txHash.String()).
		Int("poolSize", len(mp.pool)).
		Msg("accepted transaction")

	return false, nil
}

// ProcessTransaction is the ingress used by the peer engine: it runs the
// admission pipeline and, on success, attempts to connect any queued orphan
// transactions rooted at the accepted one.  The returned slice holds every
// transaction accepted into the pool, the processed one first, so the caller
// can relay them.  When the transaction's inputs are missing it is added to
// the orphan pool and an empty slice returns with no error.
//
// This function is safe for concurrent access.  The chain state lock is
// acquired first; the pool lock always nests inside it.
func (mp *TxPool) ProcessTransaction(tx *phxutil.Tx) ([]*phxutil.Tx, error) {
	mp.cfg.Chain.StateLock()
	defer mp.cfg.Chain.StateUnlock()
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	missing, err := mp.maybeAcceptTransaction(tx, true)
	if err != nil {
		return nil, err
	}
	if missing {
		mp.addOrphan(tx)
		return nil, nil
	}

	accepted := []*phxutil.Tx{tx}
	accepted = append(accepted, mp.processOrphans(tx)...)
	return accepted, nil
}

// processOrphans attempts to connect every orphan that depends on an output
// of the passed transaction, cascading through newly accepted ones.  The
// pool lock must be held.
func (mp *TxPool) processOrphans(acceptedTx *phxutil.Tx) []*phxutil.Tx {
	var acceptedTxns []*phxutil.Tx

	processList := []*phxutil.Tx{acceptedTx}
	for len(processList) > 0 {
		processItem := processList[0]
		processList[0] = nil
		processList = processList[1:]

		dependents, exists := mp.orphansByPrev[*processItem.Hash()]
		if !exists {
			continue
		}

		for _, orphan := range dependents {
			mp.removeOrphan(orphan.Hash())
			missing, err := mp.maybeAcceptTransaction(orphan, true)
			if err != nil || missing {
				// Still an orphan with a different missing parent, or
				// invalid; either way it has been removed from the
				// orphan pool and is dropped when invalid.
				if missing {
					mp.addOrphan(orphan)
				}
				continue
			}
			acceptedTxns = append(acceptedTxns, orphan)
			processList = append(processList, orphan)
		}
	}

	return acceptedTxns
}

// addOrphan inserts the transaction into the orphan pool, evicting a
// uniformly random orphan when the cap is exceeded.  The pool lock must be
// held.
func (mp *TxPool) addOrphan(tx *phxutil.Tx) {
	maxOrphans := mp.cfg.MaxOrphanTxs
	if maxOrphans <= 0 {
		maxOrphans = blockchain.MaxOrphanTransactions
	}

	for len(mp.orphans)+1 > maxOrphans {
		mp.evictRandomOrphan()
	}

	mp.orphans[*tx.Hash()] = tx
	for _, txIn := range tx.MsgTx().TxIn {
		prevHash := txIn.PreviousOutPoint.Hash
		if mp.orphansByPrev[prevHash] == nil {
			mp.orphansByPrev[prevHash] = make(map[chainhash.Hash]*phxutil.Tx)
		}
		mp.orphansByPrev[prevHash][*tx.Hash()] = tx
	}

	mp.cfg.Logger.Debug().
		Str("tx", tx.Hash().String()).
		Int("orphans", len(mp.orphans)).
		Msg("stored orphan transaction")
}

// removeOrphan removes the orphan with the given hash, when present.  The
// pool lock must be held.
func (mp *TxPool) removeOrphan(hash *chainhash.Hash) {
	tx, exists := mp.orphans[*hash]
	if !exists {
		return
	}
	for _, txIn := range tx.MsgTx().TxIn {
		dependents, ok := mp.orphansByPrev[txIn.PreviousOutPoint.Hash]
		if ok {
			delete(dependents, *hash)
			if len(dependents) == 0 {
				delete(mp.orphansByPrev, txIn.PreviousOutPoint.Hash)
			}
		}
	}
	delete(mp.orphans, *hash)
}

// evictRandomOrphan removes an orphan selected uniformly at random by id.
// The pool lock must be held.
func (mp *TxPool) evictRandomOrphan() {
	// Pick the first orphan at or after a random hash; wrap to the first
	// entry when the draw lands beyond every id.
	var randHash chainhash.Hash
	if _, err := rand.Read(randHash[:]); err != nil {
		// Fall back to whatever iteration order produces.
		for hash := range mp.orphans {
			mp.removeOrphan(&hash)
			return
		}
		return
	}

	var victim *chainhash.Hash
	var lowest *chainhash.Hash
	for hash := range mp.orphans {
		hashCopy := hash
		if lowest == nil || lessHash(&hashCopy, lowest) {
			lowest = &hashCopy
		}
		if !lessHash(&hashCopy, &randHash) &&
			(victim == nil || lessHash(&hashCopy, victim)) {
			victim = &hashCopy
		}
	}
	if victim == nil {
		victim = lowest
	}
	if victim != nil {
		mp.removeOrphan(victim)
	}
}

// lessHash compares two hashes as big-endian integers.
func lessHash(a, b *chainhash.Hash) bool {
	for i := chainhash.HashSize - 1; i >= 0; i-- {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// OnBlockConnected removes the block's transactions, and any pool entries
// now in conflict with them, from the pool.  It is invoked synchronously by
// the chain's connected notification so observers see the tip change and the
// pool delta atomically.
func (mp *TxPool) OnBlockConnected(block *phxutil.Block) {
	for _, tx := range block.Transactions() {
		mp.RemoveTransaction(tx, false)
		mp.RemoveDoubleSpends(tx)
	}
}

// OnBlockDisconnected resurrects the block's non-coinbase transactions into
// the pool.  Transactions that now conflict with the connected branch fail
// admission quietly.  It is invoked by the chain's disconnected notification
// with the chain state lock already held.
func (mp *TxPool) OnBlockDisconnected(block *phxutil.Block) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	for _, tx := range block.Transactions() {
		if tx.MsgTx().IsCoinBase() {
			continue
		}
		if _, err := mp.maybeAcceptTransaction(tx, false); err != nil {
			mp.cfg.Logger.Debug().
				Str("tx", tx.Hash().String()).
				Err(err).
				Msg("disconnected transaction not resurrected")
		}
	}
}

// blockchainDoS builds a scored error in the blockchain package's taxonomy.
func blockchainDoS(score uint16, format string, args ...interface{}) error {
	return blockchain.RuleError{
		ErrorCode:   blockchain.ErrBadTxInput,
		Description: fmt.Sprintf(format, args...),
		DoSScore:    score,
	}
}
