// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"testing"

	"gitlab.com/phoenix-network/phoenixd/chaincfg"
	"gitlab.com/phoenix-network/phoenixd/phxutil"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// TestMerkleGenesis ensures the merkle root of the genesis block matches the
// value committed in its header.
func TestMerkleGenesis(t *testing.T) {
	block := phxutil.NewBlock(chaincfg.MainNetParams.GenesisBlock)
	root := CalcMerkleRoot(block.Transactions())
	want := chaincfg.MainNetParams.GenesisBlock.Header.MerkleRoot
	if !root.IsEqual(&want) {
		t.Errorf("CalcMerkleRoot: got %v, want %v", root, want)
	}
}

// testTxns builds n distinct dummy transactions.
func testTxns(n int) []*phxutil.Tx {
	txns := make([]*phxutil.Tx, n)
	for i := 0; i < n; i++ {
		msgTx := wire.NewMsgTx()
		msgTx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
			SignatureScript:  []byte{0x04, byte(i), byte(i >> 8), 0x00, 0x00},
			Sequence:         wire.MaxTxInSequenceNum,
		})
		msgTx.AddTxOut(&wire.TxOut{Value: int64(i + 1), PkScript: []byte{0x51}})
		txns[i] = phxutil.NewTx(msgTx)
	}
	return txns
}

// TestMerkleBranchRoundTrip verifies that for every transaction index the
// branch proof folds back to the tree root, across several tree shapes
// including unbalanced ones.
func TestMerkleBranchRoundTrip(t *testing.T) {
	for _, numTx := range []int{1, 2, 3, 4, 5, 7, 11} {
		txns := testTxns(numTx)
		root := CalcMerkleRoot(txns)

		for i := 0; i < numTx; i++ {
			branch := GetMerkleBranch(txns, i)
			folded := CheckMerkleBranch(*txns[i].Hash(), branch, i)
			if !folded.IsEqual(&root) {
				t.Errorf("branch round trip failed for tree of %d at "+
					"index %d: got %v, want %v", numTx, i, folded, root)
			}
		}

		// A branch folded at the wrong index must not produce the root
		// (except in the degenerate single-transaction tree).
		if numTx > 1 {
			branch := GetMerkleBranch(txns, 0)
			folded := CheckMerkleBranch(*txns[0].Hash(), branch, 1)
			if folded.IsEqual(&root) {
				t.Errorf("branch verified under wrong index for tree of %d",
					numTx)
			}
		}
	}
}

// TestMerkleBranchBounds ensures out-of-range indices are rejected.
func TestMerkleBranchBounds(t *testing.T) {
	txns := testTxns(3)
	if branch := GetMerkleBranch(txns, -1); branch != nil {
		t.Errorf("GetMerkleBranch accepted a negative index")
	}
	if branch := GetMerkleBranch(txns, 3); branch != nil {
		t.Errorf("GetMerkleBranch accepted an index past the end")
	}
}
