// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
)

// TestMessage tests the Read/WriteMessage API by round-tripping one of each
// supported message through the framing layer.
func TestMessage(t *testing.T) {
	pver := ProtocolVersion

	// Create the various types of messages to test.  The net addresses
	// inside a version message carry no timestamp on the wire, so none is
	// set here to keep the round trip comparable.
	addrYou := &NetAddress{
		Services: SFNodeNetwork,
		IP:       net.ParseIP("192.168.0.1"),
		Port:     9555,
	}
	addrMe := &NetAddress{
		Services: SFNodeNetwork,
		IP:       net.ParseIP("127.0.0.1"),
		Port:     9555,
	}
	msgVersion := NewMsgVersion(addrMe, addrYou, 123123, 0)

	msgVerack := NewMsgVerAck()
	msgGetAddr := NewMsgGetAddr()
	msgAddr := NewMsgAddr()
	msgInv := NewMsgInv()
	msgGetData := NewMsgGetData()
	msgGetBlocks := NewMsgGetBlocks(&chainhash.Hash{})
	msgTx := NewMsgTx()
	msgTx.AddTxIn(&TxIn{
		PreviousOutPoint: OutPoint{Index: 0xffffffff},
		SignatureScript:  []byte{0x04, 0x31, 0x32, 0x33, 0x34},
		Sequence:         0xffffffff,
	})
	msgTx.AddTxOut(&TxOut{Value: 5000000000, PkScript: []byte{0x51}})
	msgPing := NewMsgPing(123123)
	msgPong := NewMsgPong(123123)
	msgGetHeaders := NewMsgGetHeaders()
	msgHeaders := NewMsgHeaders()
	msgMemPool := NewMsgMemPool()
	msgCheckpoint := NewMsgCheckpoint(&chainhash.Hash{0x01}, []byte{0x30, 0x01, 0x02})

	tests := []struct {
		in    Message    // Value to encode
		out   Message    // Expected decoded value
		pver  uint32     // Protocol version for wire encoding
		net   PhoenixNet // Network to use for wire encoding
		bytes int        // Expected num bytes read/written
	}{
		{msgVersion, msgVersion, pver, MainNet, 125},
		{msgVerack, msgVerack, pver, MainNet, 24},
		{msgGetAddr, msgGetAddr, pver, MainNet, 24},
		{msgAddr, msgAddr, pver, MainNet, 25},
		{msgInv, msgInv, pver, MainNet, 25},
		{msgGetData, msgGetData, pver, MainNet, 25},
		{msgGetBlocks, msgGetBlocks, pver, MainNet, 61},
		{msgTx, msgTx, pver, MainNet, 90},
		{msgPing, msgPing, pver, MainNet, 32},
		{msgPong, msgPong, pver, MainNet, 32},
		{msgGetHeaders, msgGetHeaders, pver, MainNet, 61},
		{msgHeaders, msgHeaders, pver, MainNet, 25},
		{msgMemPool, msgMemPool, pver, MainNet, 24},
		{msgCheckpoint, msgCheckpoint, pver, MainNet, 65},
	}

	for i, test := range tests {
		// Encode to wire format.
		var buf bytes.Buffer
		nw, err := WriteMessageN(&buf, test.in, test.pver, test.net)
		if err != nil {
			t.Errorf("WriteMessage #%d error %v", i, err)
			continue
		}

		// Ensure the number of bytes written match the expected value.
		if nw != test.bytes {
			t.Errorf("WriteMessage #%d unexpected num bytes written - "+
				"got %d, want %d", i, nw, test.bytes)
		}

		// Decode from wire format.
		rbuf := bytes.NewReader(buf.Bytes())
		nr, msg, _, err := ReadMessageN(rbuf, test.pver, test.net)
		if err != nil {
			t.Errorf("ReadMessage #%d error %v, msg %v", i, err,
				spew.Sdump(msg))
			continue
		}
		if !reflect.DeepEqual(msg, test.out) {
			t.Errorf("ReadMessage #%d\n got: %v\nwant: %v", i,
				spew.Sdump(msg), spew.Sdump(test.out))
			continue
		}

		// Ensure the number of bytes read match the expected value.
		if nr != test.bytes {
			t.Errorf("ReadMessage #%d unexpected num bytes read - "+
				"got %d, want %d", i, nr, test.bytes)
		}
	}
}

// TestReadMessageWrongNetwork ensures messages from the wrong network are
// rejected.
func TestReadMessageWrongNetwork(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, NewMsgVerAck(), ProtocolVersion, MainNet); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	_, _, err := ReadMessage(bytes.NewReader(buf.Bytes()), ProtocolVersion, TestNet)
	if _, ok := err.(*MessageError); !ok {
		t.Errorf("ReadMessage: expected MessageError, got %v", err)
	}
}

// TestReadMessageBadChecksum ensures a corrupted payload is rejected.
func TestReadMessageBadChecksum(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, NewMsgPing(1), ProtocolVersion, MainNet); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xff // Corrupt the payload.

	_, _, err := ReadMessage(bytes.NewReader(raw), ProtocolVersion, MainNet)
	if _, ok := err.(*MessageError); !ok {
		t.Errorf("ReadMessage: expected checksum MessageError, got %v", err)
	}
}

// TestBlockHeaderSerialize ensures the header serializes to exactly 80 bytes
// and survives a round trip.
func TestBlockHeaderSerialize(t *testing.T) {
	prevHash, _ := chainhash.NewHashFromStr("01")
	merkle, _ := chainhash.NewHashFromStr("02")
	header := BlockHeader{
		Version:    1,
		PrevBlock:  *prevHash,
		MerkleRoot: *merkle,
		Timestamp:  time.Unix(1317972665, 0),
		Bits:       0x1e0ffff0,
		Nonce:      2084931085,
	}

	var buf bytes.Buffer
	if err := header.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if buf.Len() != 80 {
		t.Fatalf("Serialize: serialized length %d, want 80", buf.Len())
	}

	var decoded BlockHeader
	if err := decoded.Deserialize(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !reflect.DeepEqual(decoded, header) {
		t.Errorf("Deserialize:\n got: %v\nwant: %v", spew.Sdump(decoded),
			spew.Sdump(header))
	}

	// The block hash must be stable under the serialize cycle.
	if decoded.BlockHash() != header.BlockHash() {
		t.Errorf("BlockHash changed across serialization")
	}
}

// TestVarIntNonCanonical ensures variable length integers that are not
// canonically encoded are rejected.
func TestVarIntNonCanonical(t *testing.T) {
	// 0xfd followed by a value below 0xfd must be rejected.
	_, err := ReadVarInt(bytes.NewReader([]byte{0xfd, 0x01, 0x00}), ProtocolVersion)
	if _, ok := err.(*MessageError); !ok {
		t.Errorf("ReadVarInt: expected MessageError, got %v", err)
	}
}

// TestOutPoint exercises the null outpoint semantics.
func TestOutPoint(t *testing.T) {
	var op OutPoint
	op.SetNull()
	if !op.IsNull() {
		t.Errorf("SetNull: outpoint not null")
	}
	op.Index = 0
	if op.IsNull() {
		t.Errorf("IsNull: outpoint with zero index reported null")
	}
}

// TestTxCoinbase exercises the coinbase classification.
func TestTxCoinbase(t *testing.T) {
	tx := NewMsgTx()
	tx.AddTxIn(&TxIn{
		PreviousOutPoint: OutPoint{Hash: chainhash.Hash{}, Index: 0xffffffff},
		SignatureScript:  []byte{0x01, 0x02},
		Sequence:         0xffffffff,
	})
	tx.AddTxOut(&TxOut{Value: 1, PkScript: []byte{0x51}})
	if !tx.IsCoinBase() {
		t.Errorf("IsCoinBase: coinbase not recognized")
	}

	tx.TxIn[0].PreviousOutPoint.Index = 0
	if tx.IsCoinBase() {
		t.Errorf("IsCoinBase: non-coinbase recognized as coinbase")
	}
}

// TestTxSerializeSize ensures the computed serialize size matches the actual
// number of serialized bytes.
func TestTxSerializeSize(t *testing.T) {
	tx := NewMsgTx()
	tx.AddTxIn(&TxIn{
		PreviousOutPoint: OutPoint{Index: 0xffffffff},
		SignatureScript:  []byte{0x04, 0xff, 0xff, 0x00, 0x1d},
		Sequence:         0xffffffff,
	})
	tx.AddTxOut(&TxOut{Value: 5000000000, PkScript: bytes.Repeat([]byte{0x51}, 25)})

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if buf.Len() != tx.SerializeSize() {
		t.Errorf("SerializeSize: got %d, want %d", tx.SerializeSize(), buf.Len())
	}
}
