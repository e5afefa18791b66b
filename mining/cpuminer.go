// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gitlab.com/phoenix-network/phoenixd/blockchain"
	"gitlab.com/phoenix-network/phoenixd/chaincfg"
	"gitlab.com/phoenix-network/phoenixd/mempool"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/types/pow"
)

const (
	// maxNonce is the maximum value a nonce can be in a block header.
	maxNonce = ^uint32(0) // 2^32 - 1

	// maxExtraNonce is the maximum value an extra nonce used in a coinbase
	// transaction can be.
	maxExtraNonce = ^uint64(0) // 2^64 - 1

	// hashCheckInterval is the number of nonces tried between checks for
	// a stale template, a pool update, or a shutdown request.
	hashCheckInterval = 256

	// staleTemplateSecs is the number of seconds a template keeps being
	// mined against after the pool contents change.
	staleTemplateSecs = 60
)

// CPUMinerConfig is a descriptor containing the cpu miner configuration.
type CPUMinerConfig struct {
	// ChainParams identifies which chain parameters the cpu miner is
	// associated with.
	ChainParams *chaincfg.Params

	// Chain is the consensus engine templates build against and solved
	// blocks submit into.
	Chain *blockchain.BlockChain

	// TxPool is the source of template transactions.
	TxPool *mempool.TxPool

	// PayToScript is the locking script the coinbase of generated blocks
	// pays to.  It comes from a key reserved by the wallet.
	PayToScript []byte

	// NumWorkers is the number of solver goroutines.
	NumWorkers int

	// ProcessBlock defines the function to call with any solved blocks.
	// It typically must run the provided block through the same set of
	// rules and handling as any other block coming from the network.
	ProcessBlock func(*phxutil.Block, blockchain.BehaviorFlags) (bool, error)

	// ConnectedCount defines the function to use to obtain how many other
	// peers the node is connected to.  There is no point in mining when
	// not connected to any peers since there would be no one to send any
	// found blocks to.
	ConnectedCount func() int32

	// Logger is the miner logging unit.
	Logger zerolog.Logger
}

// CPUMiner provides facilities for solving blocks using the CPU in a
// concurrency-safe manner.  It consists of a set of worker goroutines which
// generate and solve blocks.
type CPUMiner struct {
	sync.Mutex
	cfg     CPUMinerConfig
	started bool
	wg      sync.WaitGroup
	quit    chan struct{}

	submitLock sync.Mutex
}

// NewCPUMiner returns a new instance of a CPU miner for the provided
// configuration.  Use Start to begin the mining process.
func NewCPUMiner(cfg *CPUMinerConfig) *CPUMiner {
	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	cfgCopy := *cfg
	cfgCopy.NumWorkers = numWorkers
	return &CPUMiner{cfg: cfgCopy}
}

// Start begins the mining workers.  Calling Start on an already started
// miner is a no-op.
func (m *CPUMiner) Start() {
	m.Lock()
	defer m.Unlock()

	if m.started {
		return
	}
	m.quit = make(chan struct{})
	for i := 0; i < m.cfg.NumWorkers; i++ {
		m.wg.Add(1)
		go m.generateBlocks(i)
	}
	m.started = true
	m.cfg.Logger.Info().Int("workers", m.cfg.NumWorkers).Msg("CPU miner started")
}

// Stop gracefully stops the mining workers.  Calling Stop on a stopped miner
// is a no-op.
func (m *CPUMiner) Stop() {
	m.Lock()
	defer m.Unlock()

	if !m.started {
		return
	}
	close(m.quit)
	m.wg.Wait()
	m.started = false
	m.cfg.Logger.Info().Msg("CPU miner stopped")
}

// submitBlock submits the passed block to the network after ensuring it
// passes all of the consensus validation rules.
func (m *CPUMiner) submitBlock(block *phxutil.Block) bool {
	m.submitLock.Lock()
	defer m.submitLock.Unlock()

	// Ensure the block is not stale since a new block could have shown up
	// while the solution was being found.
	msgBlock := block.MsgBlock()
	best := m.cfg.Chain.BestSnapshot()
	if !msgBlock.Header.PrevBlock.IsEqual(&best.Hash) {
		m.cfg.Logger.Debug().Msgf("block submitted via CPU miner with "+
			"previous block %s is stale", msgBlock.Header.PrevBlock)
		return false
	}

	// Process this block using the same rules as blocks coming from other
	// nodes.  This will in turn relay it to the network like normal.
	isMainChain, err := m.cfg.ProcessBlock(block, blockchain.BFNone)
	if err != nil {
		if !blockchain.IsRuleError(err) {
			m.cfg.Logger.Error().Err(err).Msg("unexpected error while " +
				"processing block submitted via CPU miner")
			return false
		}
		m.cfg.Logger.Debug().Err(err).Msg("block submitted via CPU miner rejected")
		return false
	}
	if !isMainChain {
		m.cfg.Logger.Debug().Msg("block submitted via CPU miner is not on the main chain")
		return false
	}

	coinbaseValue := msgBlock.Transactions[0].TxOut[0].Value
	m.cfg.Logger.Info().Msg(fmt.Sprintf(
		"block submitted via CPU miner accepted (hash %s, amount %d)",
		block.Hash(), coinbaseValue))
	return true
}

// solveBlock attempts to find some combination of a nonce and extra nonce
// which makes the passed block hash to a value less than the target
// difficulty; the header timestamp is left as the template set it.  Every 256 hashes it checks whether the tip or the
// pool contents changed, or a shutdown was requested, and gives up on the
// template accordingly.
func (m *CPUMiner) solveBlock(template *BlockTemplate, quit chan struct{}) bool {
	msgBlock := template.Block
	header := &msgBlock.Header
	targetDifficulty := pow.CompactToBig(header.Bits)

	hasherName := m.cfg.ChainParams.PreSwitchHasher
	if template.Height >= m.cfg.ChainParams.HasherSwitchHeight {
		hasherName = m.cfg.ChainParams.PostSwitchHasher
	}
	hasher, err := pow.GetHasher(hasherName)
	if err != nil {
		m.cfg.Logger.Error().Err(err).Msg("proof-of-work profile unavailable")
		return false
	}

	poolCounter := m.cfg.TxPool.UpdateCounter()
	started := time.Now()

	for extraNonce := uint64(0); extraNonce < maxExtraNonce; extraNonce++ {
		// Update the extra nonce in the coinbase and rebuild the merkle
		// root.
		if err := UpdateExtraNonce(msgBlock, template.Height, extraNonce); err != nil {
			m.cfg.Logger.Error().Err(err).Msg("failed to update extra nonce")
			return false
		}

		// The hot loop: only the hasher runs per attempt; the staleness
		// checks amortize over the check interval.
		for nonce := uint32(0); ; nonce++ {
			if nonce%hashCheckInterval == 0 {
				select {
				case <-quit:
					return false
				default:
				}

				// Give up on the template when the chain advanced.
				best := m.cfg.Chain.BestSnapshot()
				if !header.PrevBlock.IsEqual(&best.Hash) {
					return false
				}

				// Rebuild when the pool changed and the template has
				// been worked for a while.
				if m.cfg.TxPool.UpdateCounter() != poolCounter &&
					time.Since(started) > staleTemplateSecs*time.Second {
					return false
				}
			}

			header.Nonce = nonce
			powHash := hasher.PoWHash(serializeHeader(header))
			if pow.HashToBig((*[32]byte)(&powHash)).Cmp(targetDifficulty) <= 0 {
				return true
			}

			if nonce == maxNonce {
				break
			}
		}
	}

	return false
}

// generateBlocks is a worker that is controlled by the miner: it builds a
// template, perturbs the nonce space until the proof of work is satisfied,
// and submits the solved block through the normal block ingress.
func (m *CPUMiner) generateBlocks(workerID int) {
	defer m.wg.Done()

	m.cfg.Logger.Debug().Int("worker", workerID).Msg("miner worker started")

out:
	for {
		select {
		case <-m.quit:
			break out
		default:
		}

		// Wait until there is a connection to at least one other peer
		// and the chain is caught up.
		if m.cfg.ConnectedCount() == 0 || m.cfg.Chain.IsInitialBlockDownload() {
			time.Sleep(time.Second * 5)
			continue
		}

		// Create a new block template using the available transactions
		// in the memory pool as a source of transactions to potentially
		// include in the block.
		template, err := NewBlockTemplate(m.cfg.Chain, m.cfg.TxPool,
			m.cfg.ChainParams, m.cfg.PayToScript, m.cfg.Logger)
		if err != nil {
			m.cfg.Logger.Error().Err(err).Msg("failed to create new block template")
			time.Sleep(time.Second)
			continue
		}

		// Attempt to solve the block.  The function will exit early with
		// false when conditions that trigger a stale block, so a new
		// block template can be generated.
		if m.solveBlock(template, m.quit) {
			block := phxutil.NewBlock(template.Block)
			block.SetHeight(template.Height)
			m.submitBlock(block)
		}
	}

	m.cfg.Logger.Debug().Int("worker", workerID).Msg("miner worker done")
}
