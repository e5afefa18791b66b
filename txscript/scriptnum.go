// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

// serializeScriptNum encodes the passed number in the minimal little-endian
// sign-magnitude form the script engine uses for numeric pushes.
func serializeScriptNum(n int64) []byte {
	// Zero encodes as an empty byte slice.
	if n == 0 {
		return nil
	}

	// Take the absolute value and keep track of whether it was originally
	// negative.
	isNegative := n < 0
	if isNegative {
		n = -n
	}

	// Encode to little endian.  The maximum number of encoded bytes is 9
	// (8 bytes for max int64 plus a potential byte for sign extension).
	result := make([]byte, 0, 9)
	for n > 0 {
		result = append(result, byte(n&0xff))
		n >>= 8
	}

	// When the most significant byte already has the high bit set, an
	// additional high byte is required to indicate whether the number is
	// negative or positive.  The additional byte is removed when converting
	// back to an integral and its high bit is used to denote the sign.
	//
	// Otherwise, when the most significant byte does not have the high bit
	// set, use it to indicate the value is negative, if needed.
	if result[len(result)-1]&0x80 != 0 {
		extraByte := byte(0x00)
		if isNegative {
			extraByte = 0x80
		}
		result = append(result, extraByte)
	} else if isNegative {
		result[len(result)-1] |= 0x80
	}

	return result
}

// NumberScript returns the canonical script push of the given number: the
// opcode form for -1 through 16 and a minimal data push otherwise.  The
// coinbase height rule compares the start of the coinbase unlocking script
// against this encoding.
func NumberScript(n int64) []byte {
	if n == 0 {
		return []byte{OP_0}
	}
	if n == -1 {
		return []byte{OP_1NEGATE}
	}
	if n >= 1 && n <= 16 {
		return []byte{byte(OP_1 + n - 1)}
	}

	data := serializeScriptNum(n)
	script := make([]byte, 0, len(data)+1)
	script = append(script, byte(len(data)))
	return append(script, data...)
}

// PushedData returns the script's data pushes in order.  Scripts that fail to
// parse return the pushes up to the failure.
func PushedData(script []byte) [][]byte {
	pops, _ := parseScript(script)
	var data [][]byte
	for _, pop := range pops {
		if len(pop.data) != 0 {
			data = append(data, pop.data)
		} else if pop.opcode == OP_0 {
			data = append(data, nil)
		}
	}
	return data
}
