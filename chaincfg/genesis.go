// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"encoding/hex"
	"time"

	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// hexToBytes converts the passed hex string into bytes and will panic if there
// is an error.  This is only provided for the hard-coded constants so errors
// in the source code can be detected.  It will only (and must only) be called
// with hard-coded values.
func hexToBytes(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("invalid hex in source file: " + s)
	}
	return b
}

// newHashFromStr converts the passed big-endian hex string into a
// chainhash.Hash.  It only differs from the one available in chainhash in
// that it panics on an error since it will only (and must only) be called
// with hard-coded, and therefore known good, hashes.
func newHashFromStr(hexStr string) chainhash.Hash {
	hash, err := chainhash.NewHashFromStr(hexStr)
	if err != nil {
		panic("invalid hash in source file: " + hexStr)
	}
	return *hash
}

// genesisCoinbaseTx is the coinbase transaction for the genesis block.  The
// unlocking script embeds the newspaper headline of the day:
// "U.S. Is Weighing Wide Overhaul of Wiretap Laws - NY Times - May 8 2013".
var genesisCoinbaseTx = wire.MsgTx{
	Version: 1,
	TxIn: []*wire.TxIn{
		{
			PreviousOutPoint: wire.OutPoint{
				Hash:  chainhash.Hash{},
				Index: 0xffffffff,
			},
			SignatureScript: hexToBytes("04ffff001d010446552e532e2049732" +
				"05765696768696e672057696465204f766572686175" +
				"6c206f662057697265746170204c617773202d204e5" +
				"92054696d6573202d204d617920382032303133"),
			Sequence: 0xffffffff,
		},
	},
	TxOut: []*wire.TxOut{
		{
			Value:    50 * 100000000,
			PkScript: hexToBytes("00ac"), // OP_0 OP_CHECKSIG
		},
	},
	LockTime: 0,
}

// genesisMerkleRoot is the hash of the first transaction in the genesis block
// for the main network.
var genesisMerkleRoot = newHashFromStr("ff2aa75842fae1bfb100b656c57229ce37b03643434da2043ddab7a11cfe69a6")

// genesisBlock defines the genesis block of the block chain which serves as
// the public transaction ledger for the main network.
var genesisBlock = wire.MsgBlock{
	Header: wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{}, // 0000000000000000000000000000000000000000000000000000000000000000
		MerkleRoot: genesisMerkleRoot,
		Timestamp:  time.Unix(1317972665, 0),
		Bits:       0x1e0ffff0,
		Nonce:      2084931085,
	},
	Transactions: []*wire.MsgTx{&genesisCoinbaseTx},
}

// genesisHash is the hash of the first block in the block chain for the main
// network (genesis block).
var genesisHash = newHashFromStr("be2f30f9e8db8f430056869c43503a992d232b28508e83eda101161a18cf7c73")

// testNetGenesisCoinbaseTx is the coinbase transaction for the test network
// genesis block.  It cites "Web Founder Denounces NSA Encryption Cracking -
// The Guardian - 06/Nov/2013".
var testNetGenesisCoinbaseTx = wire.MsgTx{
	Version: 1,
	TxIn: []*wire.TxIn{
		{
			PreviousOutPoint: wire.OutPoint{
				Hash:  chainhash.Hash{},
				Index: 0xffffffff,
			},
			SignatureScript: hexToBytes("04ffff001d01044a57656220466f756" +
				"e6465722044656e6f756e636573204e534120456e63" +
				"72797074696f6e20437261636b696e67202d2054686" +
				"520477561726469616e202d2030362f4e6f762f3230" +
				"3133"),
			Sequence: 0xffffffff,
		},
	},
	TxOut: []*wire.TxOut{
		{
			Value: 500 * 100000000,
			PkScript: hexToBytes("41049023f10bccda76f971d6417d420c6bb57" +
				"35d3286669ce03b49c5fea07078f0e07b19518ee1c0" +
				"a4f81bcf56a5497ad7d8200ce470eea8c6e2cf65f1e" +
				"e503f0d3eac"),
		},
	},
	LockTime: 0,
}

// testNetGenesisMerkleRoot is the hash of the first transaction in the genesis
// block for the test network.
var testNetGenesisMerkleRoot = newHashFromStr("9bf4ade403d775b44e872935609367aee5bd7df698e0f4c73e5f30f46b30a537")

// testNetGenesisBlock defines the genesis block of the block chain which
// serves as the public transaction ledger for the test network.
var testNetGenesisBlock = wire.MsgBlock{
	Header: wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: testNetGenesisMerkleRoot,
		Timestamp:  time.Unix(1383768000, 0),
		Bits:       0x1e0ffff0,
		Nonce:      1029893,
	},
	Transactions: []*wire.MsgTx{&testNetGenesisCoinbaseTx},
}

// testNetGenesisHash is the hash of the first block in the block chain for the
// test network (genesis block).
var testNetGenesisHash = newHashFromStr("ecd47eee16536f7d03d64643cfc8c61b22093f8bf2c9358bf8b6f4dcb5f13192")

// simNetGenesisBlock defines the genesis block of the block chain which serves
// as the public transaction ledger for the simulation test network.  The
// simulation network uses the trivial sha256d proof-of-work profile and a
// relaxed target, so its genesis block needs no real mining.
var simNetGenesisBlock = wire.MsgBlock{
	Header: wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: genesisMerkleRoot,
		Timestamp:  time.Unix(1401292357, 0),
		Bits:       0x207fffff,
		Nonce:      2,
	},
	Transactions: []*wire.MsgTx{&genesisCoinbaseTx},
}

// simNetGenesisHash is the hash of the first block in the block chain for the
// simulation test network.  It is derived rather than hard-coded since the
// simulation network is private and its genesis is never cross-checked
// against other software.
var simNetGenesisHash = simNetGenesisBlock.BlockHash()
