// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mining builds candidate block templates from the memory pool and
// drives the CPU proof-of-work workers.
package mining

import (
	"bytes"
	"container/heap"
	"encoding/binary"
	"time"

	"github.com/rs/zerolog"

	"gitlab.com/phoenix-network/phoenixd/blockchain"
	"gitlab.com/phoenix-network/phoenixd/blockdb"
	"gitlab.com/phoenix-network/phoenixd/chaincfg"
	"gitlab.com/phoenix-network/phoenixd/mempool"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/txscript"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

const (
	// blockHeaderOverhead is the max number of bytes it takes to serialize
	// a block header and max possible transaction count.
	blockHeaderOverhead = wire.MaxBlockHeaderPayload + wire.MaxVarIntPayload

	// coinbaseFlags is added to the coinbase script of a generated block.
	coinbaseFlags = "/P2SH/phoenixd/"

	// defaultBlockPrioritySize is the number of bytes reserved for
	// high-priority transactions regardless of their fees.
	defaultBlockPrioritySize = 27000

	// minHighPriority is the priority at which the template builder cuts
	// over from priority ordering to fee ordering.  It corresponds to one
	// coin of day-old value in a 250-byte transaction.
	minHighPriority = float64(blockchain.BaseUnitsPerCoin) * 144.0 / 250.0
)

// txPrioItem houses a transaction along with extra information that allows
// the transaction to be prioritized and track dependencies on other
// transactions which have not been mined into a block yet.
type txPrioItem struct {
	tx       *phxutil.Tx
	fee      int64
	priority float64
	feePerKB float64

	// dependsOn holds a map of transaction hashes which this one depends
	// on.  It will only be set when the transaction references other
	// transactions in the source pool and hence must come after them in
	// a block.
	dependsOn map[chainhash.Hash]struct{}
}

// txPriorityQueueLessFunc describes a function that can be used as a compare
// function for a transaction priority queue (txPriorityQueue).
type txPriorityQueueLessFunc func(*txPriorityQueue, int, int) bool

// txPriorityQueue implements a priority queue of txPrioItem elements that
// supports an arbitrary compare function as defined by txPriorityQueueLessFunc.
type txPriorityQueue struct {
	lessFunc txPriorityQueueLessFunc
	items    []*txPrioItem
}

// Len returns the number of items in the priority queue.  It is part of the
// heap.Interface implementation.
func (pq *txPriorityQueue) Len() int {
	return len(pq.items)
}

// Less returns whether the item in the priority queue with index i should sort
// before the item with index j by deferring to the assigned less function.  It
// is part of the heap.Interface implementation.
func (pq *txPriorityQueue) Less(i, j int) bool {
	return pq.lessFunc(pq, i, j)
}

// Swap swaps the items at the passed indices in the priority queue.  It is
// part of the heap.Interface implementation.
func (pq *txPriorityQueue) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
}

// Push pushes the passed item onto the priority queue.  It is part of the
// heap.Interface implementation.
func (pq *txPriorityQueue) Push(x interface{}) {
	pq.items = append(pq.items, x.(*txPrioItem))
}

// Pop removes the highest priority item (according to Less) from the priority
// queue and returns it.  It is part of the heap.Interface implementation.
func (pq *txPriorityQueue) Pop() interface{} {
	n := len(pq.items)
	item := pq.items[n-1]
	pq.items[n-1] = nil
	pq.items = pq.items[0 : n-1]
	return item
}

// SetLessFunc sets the compare function for the priority queue to the
// provided function.  It also invokes heap.Init on the priority queue using
// the new function so it can immediately be used with heap.Push/Pop.
func (pq *txPriorityQueue) SetLessFunc(lessFunc txPriorityQueueLessFunc) {
	pq.lessFunc = lessFunc
	heap.Init(pq)
}

// txPQByPriority sorts a txPriorityQueue by transaction priority and then
// fees per kilobyte.
func txPQByPriority(pq *txPriorityQueue, i, j int) bool {
	// Using > here so that pop gives the highest priority item as opposed
	// to the lowest.  Sort by priority first, then fee.
	if pq.items[i].priority == pq.items[j].priority {
		return pq.items[i].feePerKB > pq.items[j].feePerKB
	}
	return pq.items[i].priority > pq.items[j].priority
}

// txPQByFee sorts a txPriorityQueue by fees per kilobyte and then transaction
// priority.
func txPQByFee(pq *txPriorityQueue, i, j int) bool {
	// Using > here so that pop gives the highest fee item as opposed
	// to the lowest.  Sort by fee first, then priority.
	if pq.items[i].feePerKB == pq.items[j].feePerKB {
		return pq.items[i].priority > pq.items[j].priority
	}
	return pq.items[i].feePerKB > pq.items[j].feePerKB
}

// newTxPriorityQueue returns a new transaction priority queue that reserves
// the passed amount of space for the elements.  The new priority queue uses
// the txPQByPriority compare function when sortedByFee is false, and
// txPQByFee otherwise.
func newTxPriorityQueue(reserve int, sortedByFee bool) *txPriorityQueue {
	pq := &txPriorityQueue{
		items: make([]*txPrioItem, 0, reserve),
	}
	if sortedByFee {
		pq.SetLessFunc(txPQByFee)
	} else {
		pq.SetLessFunc(txPQByPriority)
	}
	return pq
}

// BlockTemplate houses a block that has yet to be solved along with
// additional details about the fees and the number of signature operations
// for each transaction in the block.
type BlockTemplate struct {
	// Block is a block that is ready to be solved by miners.  Thus, it is
	// completely valid with the exception of satisfying the proof-of-work
	// requirement.
	Block *wire.MsgBlock

	// Fees is the total fees collected from the template transactions.
	Fees int64

	// Height is the height at which the block template connects to the
	// main chain.
	Height int32
}

// standardCoinbaseScript returns a standard script suitable for use as the
// signature script of the coinbase transaction of a new block: the required
// serialized block height, the extra nonce, and the builder flags.
func standardCoinbaseScript(nextBlockHeight int32, extraNonce uint64) []byte {
	script := txscript.NumberScript(int64(nextBlockHeight))

	var nonceBytes [8]byte
	binary.LittleEndian.PutUint64(nonceBytes[:], extraNonce)
	script = append(script, byte(len(nonceBytes)))
	script = append(script, nonceBytes[:]...)

	flags := []byte(coinbaseFlags)
	script = append(script, byte(len(flags)))
	script = append(script, flags...)
	return script
}

// createCoinbaseTx returns a coinbase transaction paying an appropriate
// subsidy based on the passed block height to the provided script.
func createCoinbaseTx(coinbaseScript []byte, nextBlockHeight int32,
	payToScript []byte, chainParams *chaincfg.Params) *phxutil.Tx {

	tx := wire.NewMsgTx()
	tx.AddTxIn(&wire.TxIn{
		// Coinbase transactions have no inputs, so previous outpoint is
		// zero hash and max index.
		PreviousOutPoint: *wire.NewOutPoint(&chainhash.Hash{},
			wire.MaxPrevOutIndex),
		SignatureScript: coinbaseScript,
		Sequence:        wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    blockchain.CalcBlockSubsidy(nextBlockHeight, chainParams),
		PkScript: payToScript,
	})
	return phxutil.NewTx(tx)
}

// NewBlockTemplate returns a new block template that is ready to be solved
// using the transactions from the passed transaction pool and a coinbase
// that pays to the passed script.
//
// The transactions are selected by priority (sum of input value times input
// age, divided by the serialized size) until the priority budget of the
// block is consumed or the priority drops below the free-relay threshold,
// then by fee per kilobyte.  Transactions whose in-pool parents have not
// entered the block yet wait on a dependency list and re-enqueue as their
// parents are included.  The finished template has run through the dry-run
// block connection so the coinbase pays exactly subsidy plus fees.
func NewBlockTemplate(chain *blockchain.BlockChain, txPool *mempool.TxPool,
	chainParams *chaincfg.Params, payToScript []byte,
	logger zerolog.Logger) (*BlockTemplate, error) {

	// Hold the chain state stable for the whole assembly.
	chain.StateLock()
	defer chain.StateUnlock()

	best := chain.BestSnapshot()
	nextBlockHeight := best.Height + 1

	// Create a standard coinbase transaction paying to the provided
	// script.  The extra nonce helps ensure the transaction is not a
	// duplicate (the real value is set by the solver).
	coinbaseScript := standardCoinbaseScript(nextBlockHeight, 0)
	coinbaseTx := createCoinbaseTx(coinbaseScript, nextBlockHeight,
		payToScript, chainParams)

	// Get the current source transactions and create a priority queue to
	// hold the transactions which are ready for inclusion into a block
	// along with some priority related and fee metadata.
	sourceTxns := txPool.TxDescs()
	sortedByFee := defaultBlockPrioritySize <= 0
	priorityQueue := newTxPriorityQueue(len(sourceTxns), sortedByFee)

	// dependers is used to track transactions which depend on another
	// transaction in the source pool.  This, in conjunction with the
	// dependsOn map kept with each dependent transaction, helps quickly
	// determine which dependent transactions are now eligible for
	// inclusion in the block once each transaction has been included.
	dependers := make(map[chainhash.Hash][]*txPrioItem)

	blockTime := best.MedianTime.Unix() + 1
	if now := time.Now().Unix(); now > blockTime {
		blockTime = now
	}

	for _, txDesc := range sourceTxns {
		tx := txDesc.Tx
		msgTx := tx.MsgTx()

		// A block can't have more than one coinbase or contain
		// non-finalized transactions.
		if msgTx.IsCoinBase() {
			continue
		}
		if !msgTx.IsFinal(nextBlockHeight, blockTime) {
			continue
		}

		prioItem := &txPrioItem{tx: tx, fee: txDesc.Fee}
		var totalIn int64
		missingPool := false
		for _, txIn := range msgTx.TxIn {
			prevOut := txIn.PreviousOutPoint

			// Input from another pool transaction: wait for the
			// dependency.
			if poolTx := txPool.FetchPoolTx(&prevOut.Hash); poolTx != nil {
				if prioItem.dependsOn == nil {
					prioItem.dependsOn = make(map[chainhash.Hash]struct{})
				}
				prioItem.dependsOn[prevOut.Hash] = struct{}{}
				dependers[prevOut.Hash] = append(dependers[prevOut.Hash], prioItem)
				totalIn += poolTx.MsgTx().TxOut[prevOut.Index].Value
				continue
			}

			// Input from the chain: accumulate value times age.
			entry, prevTx, ok, err := chain.FetchTxEntry(&prevOut.Hash)
			if err != nil || !ok || prevOut.Index >= uint32(len(prevTx.TxOut)) {
				missingPool = true
				break
			}
			value := prevTx.TxOut[prevOut.Index].Value
			totalIn += value

			depth, err := chain.TxIndexDepth(entry)
			if err != nil {
				missingPool = true
				break
			}
			prioItem.priority += float64(value) * float64(depth)
		}
		if missingPool {
			logger.Debug().Str("tx", tx.Hash().String()).
				Msg("skipping pool transaction with unresolved input")
			continue
		}

		// Priority is sum(valuein * age) / txsize.
		txSize := msgTx.SerializeSize()
		prioItem.priority /= float64(txSize)

		prioItem.feePerKB = float64(totalIn-outputValue(msgTx)) /
			(float64(txSize) / 1000.0)

		if prioItem.dependsOn == nil {
			heap.Push(priorityQueue, prioItem)
		}
	}

	// The starting block size is the size of the block header plus the max
	// possible transaction count size, plus the size of the coinbase
	// transaction.
	blockSize := uint32(blockHeaderOverhead + coinbaseTx.MsgTx().SerializeSize())
	blockSigOps := blockchain.CountSigOps(coinbaseTx)

	queued := make(blockchain.TxStore)
	blockTxns := make([]*phxutil.Tx, 0, len(sourceTxns)+1)
	blockTxns = append(blockTxns, coinbaseTx)
	var totalFees int64

	// Choose which transactions make it into the block.
	for priorityQueue.Len() > 0 {
		prioItem := heap.Pop(priorityQueue).(*txPrioItem)
		tx := prioItem.tx

		// Enforce maximum block size.
		txSize := uint32(tx.MsgTx().SerializeSize())
		if blockSize+txSize >= blockchain.MaxBlockSizeGen {
			continue
		}

		// Enforce legacy limits on sigops.
		txSigOps := blockchain.CountSigOps(tx)
		if blockSigOps+txSigOps >= blockchain.MaxBlockSigOps {
			continue
		}

		// Skip transactions paying less than the minimum fee per kB
		// once selection is ordered by fee.
		if sortedByFee && prioItem.feePerKB < float64(mempool.MinTxFee) {
			continue
		}

		// Prioritize by fee per kilobyte once the block is larger than
		// the priority size or there are no more high-priority
		// transactions.
		if !sortedByFee && (blockSize+txSize >= defaultBlockPrioritySize ||
			prioItem.priority < minHighPriority) {

			sortedByFee = true
			priorityQueue.SetLessFunc(txPQByFee)

			// Put the transaction back into the priority queue and
			// skip it so it is re-prioritized by fees.
			heap.Push(priorityQueue, prioItem)
			continue
		}

		// Connecting shouldn't fail due to dependencies on other memory
		// pool transactions because they are processed in dependency
		// order; any failure means the transaction is unusable.
		inputs, missing, err := chain.FetchMinerInputs(tx, queued)
		if err != nil || missing {
			continue
		}

		p2shSigOps, err := blockchain.CountP2SHSigOps(tx, false, inputs)
		if err != nil {
			continue
		}
		txSigOps += p2shSigOps
		if blockSigOps+txSigOps >= blockchain.MaxBlockSigOps {
			continue
		}

		fee, err := chain.ConnectMinerInputs(tx, inputs, queued)
		if err != nil {
			continue
		}
		queued[*tx.Hash()] = &blockchain.TxData{
			Tx:    tx,
			Entry: blockdb.NewTxIndexEntry(blockdb.MemPoolPos, len(tx.MsgTx().TxOut)),
		}

		// Add the transaction to the block, increment counters, and save
		// the fee.
		blockTxns = append(blockTxns, tx)
		blockSize += txSize
		blockSigOps += txSigOps
		totalFees += fee

		// Add transactions which depend on this one (and also do not
		// have any other unsatisfied dependencies) to the priority
		// queue.
		for _, item := range dependers[*tx.Hash()] {
			delete(item.dependsOn, *tx.Hash())
			if len(item.dependsOn) == 0 {
				heap.Push(priorityQueue, item)
			}
		}
	}

	// Now that the actual transactions have been selected, update the
	// coinbase value with the total fees.
	coinbaseTx.MsgTx().TxOut[0].Value =
		blockchain.CalcBlockSubsidy(nextBlockHeight, chainParams) + totalFees

	// Calculate the required difficulty for the block.
	ts := time.Unix(blockTime, 0)
	reqDifficulty, err := chain.CalcNextRequiredDifficultyLocked(ts)
	if err != nil {
		return nil, err
	}

	// Create a new block ready to be solved.  Generated blocks always
	// carry the current header version.
	merkleRoot := blockchain.CalcMerkleRoot(blockTxns)
	var msgBlock wire.MsgBlock
	msgBlock.Header = wire.BlockHeader{
		Version:    2,
		PrevBlock:  best.Hash,
		MerkleRoot: merkleRoot,
		Timestamp:  ts,
		Bits:       reqDifficulty,
	}
	for _, tx := range blockTxns {
		msgBlock.AddTransaction(tx.MsgTx())
	}

	// Finally, perform a full check on the created block against the chain
	// consensus rules to ensure it properly connects to the current best
	// chain with no issues.
	block := phxutil.NewBlock(&msgBlock)
	block.SetHeight(nextBlockHeight)
	if err := chain.CheckTemplateBlock(block); err != nil {
		return nil, err
	}

	logger.Debug().
		Int("txns", len(blockTxns)).
		Uint32("size", blockSize).
		Int64("fees", totalFees).
		Msg("created new block template")

	return &BlockTemplate{
		Block:  &msgBlock,
		Fees:   totalFees,
		Height: nextBlockHeight,
	}, nil
}

// outputValue sums the outputs of the transaction.
func outputValue(msgTx *wire.MsgTx) int64 {
	var total int64
	for _, txOut := range msgTx.TxOut {
		total += txOut.Value
	}
	return total
}

// UpdateExtraNonce updates the extra nonce in the coinbase script of the
// passed block and recalculates the merkle root.
func UpdateExtraNonce(msgBlock *wire.MsgBlock, blockHeight int32, extraNonce uint64) error {
	coinbaseScript := standardCoinbaseScript(blockHeight, extraNonce)
	if len(coinbaseScript) > blockchain.MaxCoinbaseScriptLen {
		return bytesTooLongError(len(coinbaseScript))
	}
	msgBlock.Transactions[0].TxIn[0].SignatureScript = coinbaseScript

	// Recalculate the merkle root with the updated extra nonce.
	block := phxutil.NewBlock(msgBlock)
	msgBlock.Header.MerkleRoot = blockchain.CalcMerkleRoot(block.Transactions())
	return nil
}

// bytesTooLongError reports an oversized coinbase script.
type bytesTooLongError int

func (e bytesTooLongError) Error() string {
	return "coinbase transaction script is too long"
}

// serializeHeader returns the 80-byte serialization of the header.
func serializeHeader(header *wire.BlockHeader) []byte {
	var buf bytes.Buffer
	_ = header.Serialize(&buf)
	return buf.Bytes()
}
