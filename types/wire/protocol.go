// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// ProtocolVersion is the latest protocol version this package supports.
	ProtocolVersion uint32 = 60013

	// MinAcceptableProtocolVersion is the lowest protocol version that a
	// connected peer may support before it is disconnected.
	MinAcceptableProtocolVersion uint32 = 60002

	// MaxAcceptableProtocolVersion is the highest protocol version that a
	// connected peer may advertise.  Versions beyond it indicate a peer
	// from a different, incompatible network and cause a disconnect.
	MaxAcceptableProtocolVersion uint32 = 69999
)

// ServiceFlag identifies services supported by a peer.
type ServiceFlag uint64

const (
	// SFNodeNetwork is a flag used to indicate a peer is a full node.
	SFNodeNetwork ServiceFlag = 1 << iota
)

// Map of service flags back to their constant names for pretty printing.
var sfStrings = map[ServiceFlag]string{
	SFNodeNetwork: "SFNodeNetwork",
}

// orderedSFStrings is an ordered list of service flags while the map above
// cannot guarantee the order.
var orderedSFStrings = []ServiceFlag{
	SFNodeNetwork,
}

// String returns the ServiceFlag in human-readable form.
func (f ServiceFlag) String() string {
	// No flags are set.
	if f == 0 {
		return "0x0"
	}

	// Add individual bit flags.
	s := ""
	for _, flag := range orderedSFStrings {
		if f&flag == flag {
			s += sfStrings[flag] + "|"
			f -= flag
		}
	}

	// Add any remaining flags which aren't accounted for as hex.
	s = strings.TrimRight(s, "|")
	if f != 0 {
		s += "|0x" + strconv.FormatUint(uint64(f), 16)
	}
	s = strings.TrimLeft(s, "|")
	return s
}

// PhoenixNet represents which network a message belongs to.
type PhoenixNet uint32

// Constants used to indicate the message network.  They can also be used to
// seek to the next message when a stream's state is unknown, but this package
// does not provide that functionality since it's generally a better idea to
// simply disconnect clients that are misbehaving over TCP.
const (
	// MainNet represents the main network.  The bytes on the wire are
	// FE D0 D8 C3.
	MainNet PhoenixNet = 0xc3d8d0fe

	// TestNet represents the test network.  The bytes on the wire are
	// FE D0 D8 D4.
	TestNet PhoenixNet = 0xd4d8d0fe

	// SimNet represents the simulation test network.
	SimNet PhoenixNet = 0x12141c16
)

// pnStrings is a map of networks back to their constant names for pretty
// printing.
var pnStrings = map[PhoenixNet]string{
	MainNet: "MainNet",
	TestNet: "TestNet",
	SimNet:  "SimNet",
}

// String returns the PhoenixNet in human-readable form.
func (n PhoenixNet) String() string {
	if s, ok := pnStrings[n]; ok {
		return s
	}

	return fmt.Sprintf("Unknown PhoenixNet (%d)", uint32(n))
}
