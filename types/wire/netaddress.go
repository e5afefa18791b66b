// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"
	"net"
	"strconv"
	"time"
)

// maxNetAddressPayload returns the max payload size for an address.
// The size is the same for every protocol version: timestamp 4 bytes + services
// 8 bytes + ip 16 bytes + port 2 bytes.
func maxNetAddressPayload(pver uint32) uint32 {
	return 30
}

// NetAddress defines information about a peer on the network including the
// time it was last seen, the services it supports, its IP address, and port.
type NetAddress struct {
	// Last time the address was seen.  This is, unfortunately, encoded as a
	// uint32 on the wire and therefore is limited to 2106.  This field is
	// not present in the version message (MsgVersion).
	Timestamp time.Time

	// Bitfield which identifies the services supported by the address.
	Services ServiceFlag

	// IP address of the peer.
	IP net.IP

	// Port the peer is using.  This is encoded in big endian on the wire
	// which differs from most everything else.
	Port uint16
}

// HasService returns whether the specified service is supported by the address.
func (na *NetAddress) HasService(service ServiceFlag) bool {
	return na.Services&service == service
}

// AddService adds service as a supported service by the peer generating the
// message.
func (na *NetAddress) AddService(service ServiceFlag) {
	na.Services |= service
}

// Key returns a string that can be used to uniquely represent the network
// address.  It is the textual host:port form.
func (na *NetAddress) Key() string {
	return net.JoinHostPort(na.IP.String(), strconv.Itoa(int(na.Port)))
}

// NewNetAddressIPPort returns a new NetAddress using the provided IP, port,
// and supported services with defaults for the remaining fields.
func NewNetAddressIPPort(ip net.IP, port uint16, services ServiceFlag) *NetAddress {
	return NewNetAddressTimestamp(time.Now(), services, ip, port)
}

// NewNetAddressTimestamp returns a new NetAddress using the provided
// timestamp, IP, port, and supported services. The timestamp is rounded to
// single second precision.
func NewNetAddressTimestamp(
	timestamp time.Time, services ServiceFlag, ip net.IP, port uint16) *NetAddress {
	// Limit the timestamp to one second precision since the protocol
	// doesn't support better.
	na := NetAddress{
		Timestamp: time.Unix(timestamp.Unix(), 0),
		Services:  services,
		IP:        ip,
		Port:      port,
	}
	return &na
}

// NewNetAddress returns a new NetAddress using the provided TCP address and
// supported services with defaults for the remaining fields.
func NewNetAddress(addr *net.TCPAddr, services ServiceFlag) *NetAddress {
	return NewNetAddressIPPort(addr.IP, uint16(addr.Port), services)
}

// readNetAddress reads an encoded NetAddress from r depending on the protocol
// version and whether or not the timestamp is included per ts.  Some messages
// like version do not include the timestamp.
func readNetAddress(r io.Reader, pver uint32, na *NetAddress, ts bool) error {
	var ip [16]byte

	if ts {
		if err := readElement(r, (*uint32Time)(&na.Timestamp)); err != nil {
			return err
		}
	}

	if err := readElements(r, &na.Services, &ip); err != nil {
		return err
	}
	// Sigh.  Bitcoin protocol mixes little and big endian.
	var port uint16
	var portBuf [2]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return err
	}
	port = bigEndian.Uint16(portBuf[:])

	*na = NetAddress{
		Timestamp: na.Timestamp,
		Services:  na.Services,
		IP:        net.IP(ip[:]),
		Port:      port,
	}
	return nil
}

// writeNetAddress serializes a NetAddress to w depending on the protocol
// version and whether or not the timestamp is included per ts.  Some messages
// like version do not include the timestamp.
func writeNetAddress(w io.Writer, pver uint32, na *NetAddress, ts bool) error {
	if ts {
		if err := writeElement(w, uint32(na.Timestamp.Unix())); err != nil {
			return err
		}
	}

	// Ensure to always write 16 bytes even if the ip is nil.
	var ip [16]byte
	if na.IP != nil {
		copy(ip[:], na.IP.To16())
	}
	if err := writeElements(w, na.Services, ip); err != nil {
		return err
	}

	// Sigh.  Bitcoin protocol mixes little and big endian.
	var portBuf [2]byte
	bigEndian.PutUint16(portBuf[:], na.Port)
	_, err := w.Write(portBuf[:])
	return err
}
