// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
)

const (
	// MaxVarIntPayload is the maximum payload size for a variable length integer.
	MaxVarIntPayload = 9
)

var (
	// littleEndian is a convenience variable since binary.LittleEndian is
	// quite long.
	littleEndian = binary.LittleEndian

	// bigEndian is a convenience variable since binary.BigEndian is quite
	// long.
	bigEndian = binary.BigEndian
)

// uint32Time represents a unix timestamp encoded with a uint32.  It is used as
// a way to signal the readElement function how to decode a timestamp into a Go
// time.Time since it is otherwise ambiguous.
type uint32Time time.Time

// int64Time represents a unix timestamp encoded with an int64.  It is used as
// a way to signal the readElement function how to decode a timestamp into a Go
// time.Time since it is otherwise ambiguous.
type int64Time time.Time

// readElement reads the next sequence of bytes from r using little endian
// depending on the concrete type of element pointed to.
func readElement(r io.Reader, element interface{}) error {
	// Attempt to read the element based on the concrete type via fast
	// type assertions first.
	switch e := element.(type) {
	case *uint8:
		var buf [1]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		*e = buf[0]
		return nil

	case *int32:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		*e = int32(littleEndian.Uint32(buf[:]))
		return nil

	case *uint32:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		*e = littleEndian.Uint32(buf[:])
		return nil

	case *int64:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		*e = int64(littleEndian.Uint64(buf[:]))
		return nil

	case *uint64:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		*e = littleEndian.Uint64(buf[:])
		return nil

	case *bool:
		var buf [1]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		*e = buf[0] != 0x00
		return nil

	// Unix timestamp encoded as a uint32.
	case *uint32Time:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		*e = uint32Time(time.Unix(int64(littleEndian.Uint32(buf[:])), 0))
		return nil

	// Unix timestamp encoded as an int64.
	case *int64Time:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		*e = int64Time(time.Unix(int64(littleEndian.Uint64(buf[:])), 0))
		return nil

	// Message header checksum.
	case *[4]byte:
		_, err := io.ReadFull(r, e[:])
		return err

	// Message header command.
	case *[CommandSize]uint8:
		_, err := io.ReadFull(r, e[:])
		return err

	// IP address.
	case *[16]byte:
		_, err := io.ReadFull(r, e[:])
		return err

	case *chainhash.Hash:
		_, err := io.ReadFull(r, e[:])
		return err

	case *ServiceFlag:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		*e = ServiceFlag(littleEndian.Uint64(buf[:]))
		return nil

	case *PhoenixNet:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		*e = PhoenixNet(littleEndian.Uint32(buf[:]))
		return nil
	}

	return fmt.Errorf("unhandled element type %T", element)
}

// readElements reads multiple items from r.  It is equivalent to multiple
// calls to readElement.
func readElements(r io.Reader, elements ...interface{}) error {
	for _, element := range elements {
		err := readElement(r, element)
		if err != nil {
			return err
		}
	}
	return nil
}

// writeElement writes the little endian representation of element to w.
func writeElement(w io.Writer, element interface{}) error {
	// Attempt to write the element based on the concrete type via fast
	// type assertions first.
	switch e := element.(type) {
	case uint8:
		_, err := w.Write([]byte{e})
		return err

	case int32:
		var buf [4]byte
		littleEndian.PutUint32(buf[:], uint32(e))
		_, err := w.Write(buf[:])
		return err

	case uint32:
		var buf [4]byte
		littleEndian.PutUint32(buf[:], e)
		_, err := w.Write(buf[:])
		return err

	case int64:
		var buf [8]byte
		littleEndian.PutUint64(buf[:], uint64(e))
		_, err := w.Write(buf[:])
		return err

	case uint64:
		var buf [8]byte
		littleEndian.PutUint64(buf[:], e)
		_, err := w.Write(buf[:])
		return err

	case bool:
		var b byte
		if e {
			b = 0x01
		}
		_, err := w.Write([]byte{b})
		return err

	// Message header checksum.
	case [4]byte:
		_, err := w.Write(e[:])
		return err

	// Message header command.
	case [CommandSize]uint8:
		_, err := w.Write(e[:])
		return err

	// IP address.
	case [16]byte:
		_, err := w.Write(e[:])
		return err

	case *chainhash.Hash:
		_, err := w.Write(e[:])
		return err

	case ServiceFlag:
		var buf [8]byte
		littleEndian.PutUint64(buf[:], uint64(e))
		_, err := w.Write(buf[:])
		return err

	case PhoenixNet:
		var buf [4]byte
		littleEndian.PutUint32(buf[:], uint32(e))
		_, err := w.Write(buf[:])
		return err
	}

	return fmt.Errorf("unhandled element type %T", element)
}

// writeElements writes multiple items to w.  It is equivalent to multiple
// calls to writeElement.
func writeElements(w io.Writer, elements ...interface{}) error {
	for _, element := range elements {
		err := writeElement(w, element)
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadVarInt reads a variable length integer from r and returns it as a
// uint64.
func ReadVarInt(r io.Reader, pver uint32) (uint64, error) {
	var discriminant uint8
	if err := readElement(r, &discriminant); err != nil {
		return 0, err
	}

	var rv uint64
	switch discriminant {
	case 0xff:
		var sv uint64
		if err := readElement(r, &sv); err != nil {
			return 0, err
		}
		rv = sv

		// The encoding is not canonical if the value could have been
		// encoded using fewer bytes.
		min := uint64(0x100000000)
		if rv < min {
			return 0, messageError("ReadVarInt", fmt.Sprintf(
				"non-canonical varint %x - discriminant %x must "+
					"encode a value greater than %x", rv, discriminant, min-1))
		}

	case 0xfe:
		var sv uint32
		if err := readElement(r, &sv); err != nil {
			return 0, err
		}
		rv = uint64(sv)

		min := uint64(0x10000)
		if rv < min {
			return 0, messageError("ReadVarInt", fmt.Sprintf(
				"non-canonical varint %x - discriminant %x must "+
					"encode a value greater than %x", rv, discriminant, min-1))
		}

	case 0xfd:
		var sv uint16
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		sv = littleEndian.Uint16(buf[:])
		rv = uint64(sv)

		min := uint64(0xfd)
		if rv < min {
			return 0, messageError("ReadVarInt", fmt.Sprintf(
				"non-canonical varint %x - discriminant %x must "+
					"encode a value greater than %x", rv, discriminant, min-1))
		}

	default:
		rv = uint64(discriminant)
	}

	return rv, nil
}

// WriteVarInt serializes val to w using a variable number of bytes depending
// on its value.
func WriteVarInt(w io.Writer, pver uint32, val uint64) error {
	if val < 0xfd {
		return writeElement(w, uint8(val))
	}

	if val <= math.MaxUint16 {
		var buf [3]byte
		buf[0] = 0xfd
		littleEndian.PutUint16(buf[1:], uint16(val))
		_, err := w.Write(buf[:])
		return err
	}

	if val <= math.MaxUint32 {
		err := writeElement(w, uint8(0xfe))
		if err != nil {
			return err
		}
		return writeElement(w, uint32(val))
	}

	err := writeElement(w, uint8(0xff))
	if err != nil {
		return err
	}
	return writeElement(w, val)
}

// VarIntSerializeSize returns the number of bytes it would take to serialize
// val as a variable length integer.
func VarIntSerializeSize(val uint64) int {
	// The value is small enough to be represented by itself, so it's
	// just 1 byte.
	if val < 0xfd {
		return 1
	}

	// Discriminant 1 byte plus 2 bytes for the uint16.
	if val <= math.MaxUint16 {
		return 3
	}

	// Discriminant 1 byte plus 4 bytes for the uint32.
	if val <= math.MaxUint32 {
		return 5
	}

	// Discriminant 1 byte plus 8 bytes for the uint64.
	return 9
}

// ReadVarString reads a variable length string from r and returns it as a Go
// string.  A variable length string is encoded as a variable length integer
// containing the length of the string followed by the bytes that represent the
// string itself.  An error is returned if the length is greater than the
// maximum message payload size since it helps protect against memory exhaustion
// attacks and forced panics through malformed messages.
func ReadVarString(r io.Reader, pver uint32) (string, error) {
	count, err := ReadVarInt(r, pver)
	if err != nil {
		return "", err
	}

	// Prevent variable length strings that are larger than the maximum
	// message size.  It would be possible to cause memory exhaustion and
	// panics without a sane upper bound on this count.
	if count > MaxMessagePayload {
		str := fmt.Sprintf("variable length string is too long "+
			"[count %d, max %d]", count, MaxMessagePayload)
		return "", messageError("ReadVarString", str)
	}

	buf := make([]byte, count)
	_, err = io.ReadFull(r, buf)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteVarString serializes str to w as a variable length integer containing
// the length of the string followed by the bytes that represent the string
// itself.
func WriteVarString(w io.Writer, pver uint32, str string) error {
	err := WriteVarInt(w, pver, uint64(len(str)))
	if err != nil {
		return err
	}
	_, err = w.Write([]byte(str))
	return err
}

// ReadVarBytes reads a variable length byte array.  A byte array is encoded
// as a varInt containing the length of the array followed by the bytes
// themselves.  An error is returned if the length is greater than the
// passed maxAllowed parameter which helps protect against memory exhaustion
// attacks and forced panics through malformed messages.  The fieldName
// parameter is only used for the error message so it provides more context in
// the error.
func ReadVarBytes(r io.Reader, pver uint32, maxAllowed uint32,
	fieldName string) ([]byte, error) {

	count, err := ReadVarInt(r, pver)
	if err != nil {
		return nil, err
	}

	// Prevent byte array larger than the max message size.  It would
	// be possible to cause memory exhaustion and panics without a sane
	// upper bound on this count.
	if count > uint64(maxAllowed) {
		str := fmt.Sprintf("%s is larger than the max allowed size "+
			"[count %d, max %d]", fieldName, count, maxAllowed)
		return nil, messageError("ReadVarBytes", str)
	}

	b := make([]byte, count)
	_, err = io.ReadFull(r, b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// WriteVarBytes serializes a variable length byte array to w as a varInt
// containing the number of bytes, followed by the bytes themselves.
func WriteVarBytes(w io.Writer, pver uint32, bytes []byte) error {
	slen := uint64(len(bytes))
	err := WriteVarInt(w, pver, slen)
	if err != nil {
		return err
	}

	_, err = w.Write(bytes)
	return err
}

// randomUint64 returns a cryptographically random uint64 value.  This
// unexported version takes a reader primarily to ensure the error paths
// can be properly tested by passing a fake reader in the tests.
func randomUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return bigEndian.Uint64(buf[:]), nil
}

// RandomUint64 returns a cryptographically random uint64 value.
func RandomUint64() (uint64, error) {
	return randomUint64(rand.Reader)
}
