// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"errors"
	"math/big"
	"time"

	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

// These variables are the chain proof-of-work limit parameters for each
// default network.
var (
	// bigOne is 1 represented as a big.Int.  It is defined here to avoid
	// the overhead of creating it multiple times.
	bigOne = big.NewInt(1)

	// mainPowLimit is the highest proof of work value a block can
	// have for the main network before the hasher switch.
	mainPowLimit = new(big.Int).Rsh(new(big.Int).Sub(new(big.Int).Lsh(bigOne, 256), bigOne), 20)

	// switchPowLimit is the highest proof of work value a block can have
	// after the memory-hard hasher switch at the fifth hard fork.  The
	// difficulty is reset to this limit at the switch height.
	switchPowLimit = new(big.Int).Rsh(new(big.Int).Sub(new(big.Int).Lsh(bigOne, 256), bigOne), 26)

	// simNetPowLimit is the highest proof of work value a block can have
	// for the simulation test network.
	simNetPowLimit = new(big.Int).Rsh(new(big.Int).Sub(new(big.Int).Lsh(bigOne, 256), bigOne), 1)
)

// Checkpoint identifies a known good point in the block chain.  Using
// checkpoints allows a few optimizations for old blocks during initial
// download and also prevents forks below the checkpoint.
type Checkpoint struct {
	Height int32
	Hash   *chainhash.Hash
}

// RetargetEpoch describes the difficulty retarget parameters in force from a
// given height.  Epochs are ordered by ActivationHeight; the last epoch whose
// activation height does not exceed the block height applies.
type RetargetEpoch struct {
	// ActivationHeight is the first height this epoch applies to.
	ActivationHeight int32

	// TargetSpacing is the desired time between blocks.
	TargetSpacing time.Duration

	// TargetTimespan is the averaging window the actual spacing is
	// measured over.
	TargetTimespan time.Duration

	// MaxTimespanNum/MaxTimespanDen clamp the measured timespan above at
	// TargetTimespan*Num/Den; MinTimespanNum/MinTimespanDen clamp below.
	MaxTimespanNum, MaxTimespanDen int64
	MinTimespanNum, MinTimespanDen int64
}

// Params defines a network by its parameters.  These parameters may be
// used by applications to differentiate networks as well as addresses
// and keys for one network from those intended for use on another network.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// Net defines the magic bytes used to identify the network.
	Net wire.PhoenixNet

	// DefaultPort defines the default peer-to-peer port for the network.
	DefaultPort string

	// GenesisBlock defines the first block of the chain.
	GenesisBlock *wire.MsgBlock

	// GenesisHash is the starting block hash.
	GenesisHash *chainhash.Hash

	// PowLimit defines the highest allowed proof of work value for a
	// block as a uint256 before the hasher switch.
	PowLimit *big.Int

	// PowLimitBits defines the highest allowed proof of work value for a
	// block in compact form.
	PowLimitBits uint32

	// SwitchPowLimit is the proof-of-work limit in force from the hasher
	// switch height onward; the difficulty is reset to it at the switch.
	SwitchPowLimit *big.Int

	// ReduceMinDifficulty defines whether the network should reduce the
	// minimum required difficulty after two target spacings worth of time
	// have elapsed without mining a block.  This is for test networks.
	ReduceMinDifficulty bool

	// Retargets holds the fork-ordered difficulty epochs.
	Retargets []RetargetEpoch

	// AveragingExpansionHeight is the height from which the basic
	// retarget window is expanded fivefold and the extended 4x window
	// sample with 9:1 damping is applied.  It coincides with the fourth
	// hard fork (first testnet fork).
	AveragingExpansionHeight int32

	// HasherSwitchHeight is the height of the fifth hard fork where the
	// proof-of-work hasher changes and the target is reset.
	HasherSwitchHeight int32

	// PreSwitchHasher and PostSwitchHasher name the registered
	// proof-of-work profiles in force before and from the switch height.
	PreSwitchHasher  string
	PostSwitchHasher string

	// ForkOne..ForkFour are the earlier hard fork heights used by the
	// subsidy schedule and retarget epochs.
	ForkOne, ForkTwo, ForkThree, ForkFour int32

	// SoftForkOne and SoftForkTwo activate the tightened block time
	// rules.
	SoftForkOne, SoftForkTwo int32

	// CoinbaseHeightSwitchTime is the unix time after which the coinbase
	// unlocking script must begin with the serialized block height.
	CoinbaseHeightSwitchTime int64

	// BIP16SwitchTime is the unix time from which the strict
	// pay-to-script-hash rules apply.
	BIP16SwitchTime int64

	// BaseMaturity is the number of confirmations before a coinbase
	// output may be spent, excluding the propagation offset.
	BaseMaturity int32

	// BaseMaturityOffset widens BaseMaturity to allow for safe network
	// propagation.
	BaseMaturityOffset int32

	// Checkpoints ordered from oldest to newest.
	Checkpoints []Checkpoint

	// CheckpointMasterPubKey is the serialized public key the signed sync
	// checkpoint messages must verify against.
	CheckpointMasterPubKey []byte

	// AlertPubKey is the serialized public key network alerts must verify
	// against.
	AlertPubKey []byte

	// RelayNonStdTxs defines whether the network accepts and relays
	// non-standard transactions.
	RelayNonStdTxs bool
}

// RetargetEpochForHeight returns the retarget epoch in force at the given
// height.
func (p *Params) RetargetEpochForHeight(height int32) *RetargetEpoch {
	epoch := &p.Retargets[0]
	for i := range p.Retargets {
		if height >= p.Retargets[i].ActivationHeight {
			epoch = &p.Retargets[i]
		}
	}
	return epoch
}

// IsHardForkHeight reports whether height is one of the hard fork activation
// heights.  Retargets are forced at fork heights even when they are not
// aligned with the retarget interval.
func (p *Params) IsHardForkHeight(height int32) bool {
	return height == p.ForkOne || height == p.ForkTwo ||
		height == p.ForkThree || height == p.ForkFour ||
		height == p.HasherSwitchHeight
}

// CoinbaseMaturity returns the full number of confirmations required before
// a coinbase output can be spent.
func (p *Params) CoinbaseMaturity() int32 {
	return p.BaseMaturity + p.BaseMaturityOffset
}

// MainNetParams defines the network parameters for the main network.
var MainNetParams = Params{
	Name:        "mainnet",
	Net:         wire.MainNet,
	DefaultPort: "9555",

	// Chain parameters
	GenesisBlock:   &genesisBlock,
	GenesisHash:    &genesisHash,
	PowLimit:       mainPowLimit,
	PowLimitBits:   0x1e0ffff0,
	SwitchPowLimit: switchPowLimit,

	ReduceMinDifficulty: false,

	Retargets: []RetargetEpoch{
		{0, 90 * time.Second, 2400 * 90 * time.Second, 4, 1, 1, 4},
		{46500, 90 * time.Second, 600 * 90 * time.Second, 99, 55, 55, 99},
		{69444, 50 * time.Second, 108 * 50 * time.Second, 99, 55, 55, 99},
		{74100, 45 * time.Second, 126 * 45 * time.Second, 109, 100, 100, 109},
		{154000, 90 * time.Second, 20 * 90 * time.Second, 102, 100, 100, 102},
		{400000, 90 * time.Second, 20 * 90 * time.Second, 105, 100, 100, 102},
	},
	AveragingExpansionHeight: 154000,
	HasherSwitchHeight:       400000,
	PreSwitchHasher:          "scrypt",
	PostSwitchHasher:         "neoscrypt",

	ForkOne:   46500,
	ForkTwo:   69444,
	ForkThree: 74100,
	ForkFour:  154000,

	SoftForkOne: 270000,
	SoftForkTwo: 340000,

	CoinbaseHeightSwitchTime: 1406851200, // 01 Aug 2014 00:00:00 GMT
	BIP16SwitchTime:          1333238400, // 01 Apr 2012 00:00:00 GMT

	BaseMaturity:       100,
	BaseMaturityOffset: 1,

	Checkpoints: []Checkpoint{
		{0, &genesisHash},
	},

	CheckpointMasterPubKey: hexToBytes("049023f10bccda76f971d6417d420c6bb" +
		"5735d3286669ce03b49c5fea07078f0e07b19518ee1c0a4f81bcf56a5497a" +
		"d7d8200ce470eea8c6e2cf65f1ee503f0d3e"),
	AlertPubKey: hexToBytes("049023f10bccda76f971d6417d420c6bb5735d3286669" +
		"ce03b49c5fea07078f0e07b19518ee1c0a4f81bcf56a5497ad7d8200ce470" +
		"eea8c6e2cf65f1ee503f0d3e"),

	RelayNonStdTxs: false,
}

// TestNetParams defines the network parameters for the test network.
var TestNetParams = Params{
	Name:        "testnet",
	Net:         wire.TestNet,
	DefaultPort: "19555",

	// Chain parameters
	GenesisBlock:   &testNetGenesisBlock,
	GenesisHash:    &testNetGenesisHash,
	PowLimit:       mainPowLimit,
	PowLimitBits:   0x1e0ffff0,
	SwitchPowLimit: switchPowLimit,

	ReduceMinDifficulty: true,

	// The testnet starts at the third hard fork's parameters; both testnet
	// hard forks have their own activation heights.
	Retargets: []RetargetEpoch{
		{0, 45 * time.Second, 126 * 45 * time.Second, 109, 100, 100, 109},
		{600, 90 * time.Second, 20 * 90 * time.Second, 102, 100, 100, 102},
		{3600, 90 * time.Second, 20 * 90 * time.Second, 105, 100, 100, 102},
	},
	AveragingExpansionHeight: 600,
	HasherSwitchHeight:       3600,
	PreSwitchHasher:          "scrypt",
	PostSwitchHasher:         "neoscrypt",

	// The livenet fork schedule does not apply; the subsidy schedule uses
	// the first testnet fork only.
	ForkOne:   600,
	ForkTwo:   3600,
	ForkThree: 0,
	ForkFour:  600,

	SoftForkOne: 3400,
	SoftForkTwo: 3500,

	CoinbaseHeightSwitchTime: 1404777600, // 08 Jul 2014 00:00:00 GMT
	BIP16SwitchTime:          1333238400,

	BaseMaturity:       100,
	BaseMaturityOffset: 1,

	Checkpoints: []Checkpoint{
		{0, &testNetGenesisHash},
	},

	CheckpointMasterPubKey: hexToBytes("049023f10bccda76f971d6417d420c6bb" +
		"5735d3286669ce03b49c5fea07078f0e07b19518ee1c0a4f81bcf56a5497a" +
		"d7d8200ce470eea8c6e2cf65f1ee503f0d3e"),
	AlertPubKey: hexToBytes("049023f10bccda76f971d6417d420c6bb5735d3286669" +
		"ce03b49c5fea07078f0e07b19518ee1c0a4f81bcf56a5497ad7d8200ce470" +
		"eea8c6e2cf65f1ee503f0d3e"),

	RelayNonStdTxs: true,
}

// SimNetParams defines the network parameters for the simulation test
// network.  This network is similar to the normal test network except it is
// intended for private use within a group of individuals doing simulation
// testing.  The functionality is intended to differ in that the only nodes
// which are specifically specified are used to create the network rather than
// following normal discovery rules.
var SimNetParams = Params{
	Name:        "simnet",
	Net:         wire.SimNet,
	DefaultPort: "18555",

	GenesisBlock:   &simNetGenesisBlock,
	GenesisHash:    &simNetGenesisHash,
	PowLimit:       simNetPowLimit,
	PowLimitBits:   0x207fffff,
	SwitchPowLimit: simNetPowLimit,

	ReduceMinDifficulty: true,

	Retargets: []RetargetEpoch{
		{0, 90 * time.Second, 2400 * 90 * time.Second, 4, 1, 1, 4},
	},
	AveragingExpansionHeight: 0x7fffffff,
	HasherSwitchHeight:       0x7fffffff,
	PreSwitchHasher:          "sha256d",
	PostSwitchHasher:         "sha256d",

	ForkOne:   0x7fffffff,
	ForkTwo:   0x7fffffff,
	ForkThree: 0x7fffffff,
	ForkFour:  0x7fffffff,

	SoftForkOne: 0x7fffffff,
	SoftForkTwo: 0x7fffffff,

	CoinbaseHeightSwitchTime: 0x7fffffffffffffff,
	BIP16SwitchTime:          0,

	BaseMaturity:       100,
	BaseMaturityOffset: 1,

	Checkpoints: nil,

	CheckpointMasterPubKey: nil,
	AlertPubKey:            nil,

	RelayNonStdTxs: true,
}

var (
	// ErrDuplicateNet describes an error where the parameters for a
	// network could not be set due to the network already being a standard
	// network or previously-registered via this package.
	ErrDuplicateNet = errors.New("duplicate network")
)

var registeredNets = map[wire.PhoenixNet]struct{}{}

// Register registers the network parameters for a network.  This may error
// with ErrDuplicateNet if the network is already registered (either due to a
// previous Register call, or the network being one of the default networks).
//
// Network parameters should be registered into this package by a main package
// as early as possible.  Then, library packages may lookup networks or network
// parameters based on inputs and work regardless of the network being standard
// or not.
func Register(params *Params) error {
	if _, ok := registeredNets[params.Net]; ok {
		return ErrDuplicateNet
	}
	registeredNets[params.Net] = struct{}{}
	return nil
}

// mustRegister performs the same function as Register except it panics if
// there is an error.  This should only be called from package init functions.
func mustRegister(params *Params) {
	if err := Register(params); err != nil {
		panic("failed to register network: " + err.Error())
	}
}

func init() {
	// Register all default networks when the package is initialized.
	mustRegister(&MainNetParams)
	mustRegister(&TestNetParams)
	mustRegister(&SimNetParams)
}
