// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

// MaxPubKeysPerMultiSig is the maximum number of public keys allowed in a
// multi-signature script.
const MaxPubKeysPerMultiSig = 20

// getSigOpCount is the implementation function for counting the number of
// signature operations in the script provided by pops.  If precise mode is
// requested then we attempt to count the number of operations for a multisig
// op.  Otherwise we use the maximum.
func getSigOpCount(pops []parsedOpcode, precise bool) int {
	nSigs := 0
	for i, pop := range pops {
		switch pop.opcode {
		case OP_CHECKSIG, OP_CHECKSIGVERIFY:
			nSigs++
		case OP_CHECKMULTISIG, OP_CHECKMULTISIGVERIFY:
			// If we are being precise then look for familiar
			// patterns for multisig, for example 3 OP_CHECKMULTISIG
			// means 3 signature operations.  Otherwise, we use the
			// max of 20.
			if precise && i > 0 &&
				pops[i-1].opcode >= OP_1 &&
				pops[i-1].opcode <= OP_16 {
				nSigs += int(pops[i-1].opcode) - (OP_1 - 1)
			} else {
				nSigs += MaxPubKeysPerMultiSig
			}
		default:
			// Not a sigop.
		}
	}

	return nSigs
}

// GetSigOpCount provides a quick count of the number of signature operations
// in a script.  A CHECKSIG operation counts for 1, and a CHECK_MULTISIG for
// 20.  If the script fails to parse, then the count up to the point of failure
// is returned.
func GetSigOpCount(script []byte) int {
	// Don't check error since parseScript returns the parsed-up-to-error
	// list of pops.
	pops, _ := parseScript(script)
	return getSigOpCount(pops, false)
}

// GetPreciseSigOpCount returns the number of signature operations in
// scriptPubKey.  If bip16 is true then scriptSig may be searched for the
// Pay-To-Script-Hash script in order to find the precise number of signature
// operations in the transaction.  If the script fails to parse, then the
// count up to the point of failure is returned.
func GetPreciseSigOpCount(scriptSig, scriptPubKey []byte, bip16 bool) int {
	pops, _ := parseScript(scriptPubKey)

	// Treat non P2SH transactions as normal.
	if !(bip16 && isScriptHash(pops)) {
		return getSigOpCount(pops, true)
	}

	// The public key script is a pay-to-script-hash, so parse the signature
	// script to get the final item.  Scripts that fail to fully parse count
	// as 0 signature operations.
	sigPops, err := parseScript(scriptSig)
	if err != nil {
		return 0
	}

	// The signature script must only push data to the stack for P2SH to be
	// a valid pair, so the signature operation count is 0 when that is not
	// the case.
	if !isPushOnly(sigPops) || len(sigPops) == 0 {
		return 0
	}

	// The P2SH script is the last item the signature script pushes to the
	// stack.  When the script is empty, there are no signature operations.
	shScript := sigPops[len(sigPops)-1].data
	if len(shScript) == 0 {
		return 0
	}

	// Parse the P2SH script and don't check the error since parseScript
	// returns the parsed-up-to-error list of pops and the consensus rules
	// dictate signature operations are counted up to the first parse
	// failure.
	shPops, _ := parseScript(shScript)
	return getSigOpCount(shPops, true)
}

// isPushOnly reports whether the parsed script only pushes data.
func isPushOnly(pops []parsedOpcode) bool {
	for _, pop := range pops {
		if !pop.isPush() {
			return false
		}
	}
	return true
}

// IsPushOnlyScript reports whether the raw script only pushes data.
func IsPushOnlyScript(script []byte) bool {
	pops, err := parseScript(script)
	if err != nil {
		return false
	}
	return isPushOnly(pops)
}
