// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"io"

	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
)

// SyncCheckpointVersion is the serialization version of the unsigned sync
// checkpoint payload.
const SyncCheckpointVersion = 1

// UnsignedSyncCheckpoint is the payload of a checkpoint message before it is
// signed by the checkpoint master key.  It pins a single block hash as a
// canonical synchronization point.
type UnsignedSyncCheckpoint struct {
	Version        int32
	HashCheckpoint chainhash.Hash
}

// Serialize encodes the unsigned checkpoint to w.
func (c *UnsignedSyncCheckpoint) Serialize(w io.Writer) error {
	return writeElements(w, c.Version, &c.HashCheckpoint)
}

// Deserialize decodes the unsigned checkpoint from r.
func (c *UnsignedSyncCheckpoint) Deserialize(r io.Reader) error {
	return readElements(r, &c.Version, &c.HashCheckpoint)
}

// MsgCheckpoint implements the Message interface and represents a signed sync
// checkpoint broadcast by the checkpoint master.  The Data field holds the
// serialized UnsignedSyncCheckpoint so that future versions can extend the
// payload while older nodes continue to relay it; Signature is the ECDSA
// signature of double-SHA-256(Data) under the well-known master public key.
type MsgCheckpoint struct {
	Data      []byte
	Signature []byte

	// Checkpoint is the deserialized payload, nil when Data did not parse.
	Checkpoint *UnsignedSyncCheckpoint
}

// BtcDecode decodes r using the protocol encoding into the receiver.
// This is part of the Message interface implementation.
func (msg *MsgCheckpoint) BtcDecode(r io.Reader, pver uint32) error {
	var err error
	msg.Data, err = ReadVarBytes(r, pver, MaxMessagePayload,
		"checkpoint data")
	if err != nil {
		return err
	}

	var cp UnsignedSyncCheckpoint
	if err := cp.Deserialize(bytes.NewReader(msg.Data)); err == nil {
		msg.Checkpoint = &cp
	} else {
		msg.Checkpoint = nil
	}

	msg.Signature, err = ReadVarBytes(r, pver, MaxMessagePayload,
		"checkpoint signature")
	return err
}

// BtcEncode encodes the receiver to w using the protocol encoding.
// This is part of the Message interface implementation.
func (msg *MsgCheckpoint) BtcEncode(w io.Writer, pver uint32) error {
	data := msg.Data
	if msg.Checkpoint != nil {
		var buf bytes.Buffer
		if err := msg.Checkpoint.Serialize(&buf); err == nil {
			data = buf.Bytes()
		}
	}
	if len(data) == 0 {
		return messageError("MsgCheckpoint.BtcEncode", "empty checkpoint data")
	}
	if err := WriteVarBytes(w, pver, data); err != nil {
		return err
	}
	return WriteVarBytes(w, pver, msg.Signature)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgCheckpoint) Command() string {
	return CmdCheckpoint
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgCheckpoint) MaxPayloadLength(pver uint32) uint32 {
	// Data length + unsigned payload + signature length + max signature.
	return MaxVarIntPayload + 4 + chainhash.HashSize +
		MaxVarIntPayload + maxSignatureSize
}

// NewMsgCheckpoint returns a new checkpoint message pinning the given block
// hash with the supplied signature over the serialized payload.
func NewMsgCheckpoint(hash *chainhash.Hash, signature []byte) *MsgCheckpoint {
	cp := &UnsignedSyncCheckpoint{
		Version:        SyncCheckpointVersion,
		HashCheckpoint: *hash,
	}
	var buf bytes.Buffer
	_ = cp.Serialize(&buf)
	return &MsgCheckpoint{
		Data:       buf.Bytes(),
		Signature:  signature,
		Checkpoint: cp,
	}
}
