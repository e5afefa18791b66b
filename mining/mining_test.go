// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"container/heap"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/phoenix-network/phoenixd/blockchain"
	"gitlab.com/phoenix-network/phoenixd/blockdb"
	"gitlab.com/phoenix-network/phoenixd/chaincfg"
	"gitlab.com/phoenix-network/phoenixd/mempool"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/txscript"
	"gitlab.com/phoenix-network/phoenixd/types/pow"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// newTemplateHarness builds a simulation-network chain and pool.
func newTemplateHarness(t *testing.T) (*blockchain.BlockChain, *mempool.TxPool) {
	t.Helper()

	store, err := blockdb.Open(t.TempDir(), wire.SimNet)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	chain, err := blockchain.New(&blockchain.Config{
		Store:          store,
		ChainParams:    &chaincfg.SimNetParams,
		TimeSource:     blockchain.NewMedianTime(zerolog.Nop()),
		ScriptVerifier: txscript.NopVerifier{},
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)

	pool := mempool.New(&mempool.Config{
		Chain:            chain,
		RelayNonStd:      true,
		FreeTxRelayLimit: 15,
		Logger:           zerolog.Nop(),
	})
	chain.SetTxPool(pool)
	return chain, pool
}

// TestTxPriorityQueue exercises both orderings of the priority queue.
func TestTxPriorityQueue(t *testing.T) {
	pq := newTxPriorityQueue(4, false)
	heap.Push(pq, &txPrioItem{priority: 1, feePerKB: 50})
	heap.Push(pq, &txPrioItem{priority: 10, feePerKB: 1})
	heap.Push(pq, &txPrioItem{priority: 5, feePerKB: 100})

	assert.Equal(t, float64(10), heap.Pop(pq).(*txPrioItem).priority)
	assert.Equal(t, float64(5), heap.Pop(pq).(*txPrioItem).priority)
	assert.Equal(t, float64(1), heap.Pop(pq).(*txPrioItem).priority)

	pq = newTxPriorityQueue(4, true)
	heap.Push(pq, &txPrioItem{priority: 1, feePerKB: 50})
	heap.Push(pq, &txPrioItem{priority: 10, feePerKB: 1})
	heap.Push(pq, &txPrioItem{priority: 5, feePerKB: 100})

	assert.Equal(t, float64(100), heap.Pop(pq).(*txPrioItem).feePerKB)
	assert.Equal(t, float64(50), heap.Pop(pq).(*txPrioItem).feePerKB)
	assert.Equal(t, float64(1), heap.Pop(pq).(*txPrioItem).feePerKB)
}

// TestStandardCoinbaseScript ensures the generated script leads with the
// serialized block height as the acceptance rules require.
func TestStandardCoinbaseScript(t *testing.T) {
	script := standardCoinbaseScript(154000, 7)
	expect := txscript.NumberScript(154000)
	require.True(t, len(script) > len(expect))
	assert.Equal(t, expect, script[:len(expect)])

	// Different extra nonces must alter the script.
	other := standardCoinbaseScript(154000, 8)
	assert.NotEqual(t, script, other)

	assert.LessOrEqual(t, len(script), blockchain.MaxCoinbaseScriptLen)
}

// TestNewBlockTemplateEmptyPool builds a template over an empty pool: a lone
// coinbase paying exactly the subsidy, valid against the dry-run connection.
func TestNewBlockTemplateEmptyPool(t *testing.T) {
	chain, pool := newTemplateHarness(t)

	template, err := NewBlockTemplate(chain, pool, &chaincfg.SimNetParams,
		[]byte{0x51}, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, template.Block.Transactions, 1)

	assert.Equal(t, int32(1), template.Height)
	assert.Equal(t, int64(0), template.Fees)
	assert.Equal(t,
		blockchain.CalcBlockSubsidy(1, &chaincfg.SimNetParams),
		template.Block.Transactions[0].TxOut[0].Value)

	best := chain.BestSnapshot()
	assert.Equal(t, best.Hash, template.Block.Header.PrevBlock)
	assert.Equal(t, chaincfg.SimNetParams.PowLimitBits, template.Block.Header.Bits)
}

// TestSolvedTemplateSubmits mines a template and feeds it back through the
// same ingress network blocks use.
func TestSolvedTemplateSubmits(t *testing.T) {
	chain, pool := newTemplateHarness(t)

	template, err := NewBlockTemplate(chain, pool, &chaincfg.SimNetParams,
		[]byte{0x51}, zerolog.Nop())
	require.NoError(t, err)

	// Set a fresh extra nonce and solve the relaxed simulation target.
	require.NoError(t, UpdateExtraNonce(template.Block, template.Height, 1))

	header := &template.Block.Header
	target := pow.CompactToBig(header.Bits)
	hasher := pow.SHA256dHasher{}
	for nonce := uint32(0); ; nonce++ {
		header.Nonce = nonce
		hash := header.PowHash(hasher)
		if pow.HashToBig((*[32]byte)(&hash)).Cmp(target) <= 0 {
			break
		}
	}

	block := phxutil.NewBlock(template.Block)
	block.SetHeight(template.Height)
	isMain, isOrphan, err := chain.ProcessBlock(block, nil, blockchain.BFNone)
	require.NoError(t, err)
	assert.True(t, isMain)
	assert.False(t, isOrphan)
	assert.Equal(t, int32(1), chain.BestSnapshot().Height)
}

// TestUpdateExtraNonce ensures the merkle root tracks coinbase changes.
func TestUpdateExtraNonce(t *testing.T) {
	chain, pool := newTemplateHarness(t)

	template, err := NewBlockTemplate(chain, pool, &chaincfg.SimNetParams,
		[]byte{0x51}, zerolog.Nop())
	require.NoError(t, err)

	before := template.Block.Header.MerkleRoot
	require.NoError(t, UpdateExtraNonce(template.Block, template.Height, 42))
	after := template.Block.Header.MerkleRoot
	assert.NotEqual(t, before, after)

	// The committed root must match a recomputation.
	block := phxutil.NewBlock(template.Block)
	assert.Equal(t, blockchain.CalcMerkleRoot(block.Transactions()), after)
}
