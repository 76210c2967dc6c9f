package miniscript

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// ScriptContext is the consensus environment a miniscript is executed in. It
// determines which fragments are allowed, how public keys are encoded and
// which resource limits apply.
type ScriptContext uint8

const (
	// Legacy is a P2SH redeem script.
	Legacy ScriptContext = iota

	// SegwitV0 is a P2WSH witness script.
	SegwitV0

	// Taproot is a tapscript leaf (BIP342).
	Taproot

	// Bare is a script placed directly in an output script.
	Bare
)

const (
	// maxStandardP2WSHScriptSize is the maximum size in bytes of a standard
	// witnessScript.
	maxStandardP2WSHScriptSize = 3600

	// maxStandardP2WSHStackItems is the maximum number of witness stack
	// items, excluding the witness script, of a standard P2WSH spend.
	maxStandardP2WSHStackItems = 100

	// maxScriptSigSize is the maximum size of a standard scriptSig.
	maxScriptSigSize = 1650

	// maxP2SHSigOps is the maximum number of sigops in a standard P2SH
	// redeem script.
	maxP2SHSigOps = 15

	// maxBlockSigOps is the number of legacy sigops that fit in a block.
	maxBlockSigOps = 20000

	// maxTapscriptSize bounds a tapscript by the block weight limit.
	maxTapscriptSize = 4000000

	// multisigMaxKeys is the maximum number of keys in a multisig.
	multisigMaxKeys = txscript.MaxPubKeysPerMultiSig

	// multiAMaxKeys is the maximum number of keys in a multi_a, bounded by
	// the tapscript stack size.
	multiAMaxKeys = 999

	// ecdsaSigCost is the witness cost of a maximum size low-s DER
	// signature including the sighash byte and the length prefix.
	ecdsaSigCost = 73

	// schnorrSigCost is the witness cost of a schnorr signature with an
	// explicit sighash byte and the length prefix.
	schnorrSigCost = 66
)

var contextStrings = map[ScriptContext]string{
	Legacy:   "legacy",
	SegwitV0: "segwitv0",
	Taproot:  "taproot",
	Bare:     "bare",
}

// String returns the context name as used on the command line.
func (c ScriptContext) String() string {
	if s, ok := contextStrings[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown context (%d)", uint8(c))
}

// ParseScriptContext returns the context with the given name.
func ParseScriptContext(s string) (ScriptContext, error) {
	for c, name := range contextStrings {
		if name == s {
			return c, nil
		}
	}
	return 0, errorf(ErrSyntax, "unknown script context %q", s)
}

// IsTapscript returns true if scripts in this context are executed under the
// BIP342 rules.
func (c ScriptContext) IsTapscript() bool {
	return c == Taproot
}

// MaxScriptSize returns the maximum script size accepted in the context. For
// SegwitV0 this is the standardness limit, which is below the consensus limit
// of txscript.MaxScriptSize.
func (c ScriptContext) MaxScriptSize() int {
	switch c {
	case Legacy:
		return txscript.MaxScriptElementSize
	case SegwitV0:
		return maxStandardP2WSHScriptSize
	case Taproot:
		return maxTapscriptSize
	default:
		return txscript.MaxScriptSize
	}
}

// maxOps returns the op count limit of the context, or -1 if there is none.
func (c ScriptContext) maxOps() int {
	if c == Taproot {
		return -1
	}
	return txscript.MaxOpsPerScript
}

// maxSigOps returns the sigop limit of a single script in the context, or -1
// if the sigop budget is always met.
func (c ScriptContext) maxSigOps() int {
	switch c {
	case Legacy:
		return maxP2SHSigOps
	case Taproot:
		return -1
	default:
		return maxBlockSigOps
	}
}

// sigCost returns the witness cost of a single signature.
func (c ScriptContext) sigCost() int {
	if c == Taproot {
		return schnorrSigCost
	}
	return ecdsaSigCost
}

// checkFragment returns an error if the fragment is not allowed in the
// context.
func (c ScriptContext) checkFragment(f Fragment) error {
	switch {
	case f == FragMulti && c == Taproot:
		return errorf(ErrUnsupportedInContext, "multi is not "+
			"allowed in %v, use multi_a", c)

	case f == FragMultiA && c != Taproot:
		return errorf(ErrUnsupportedInContext, "multi_a is only "+
			"allowed in %v, got %v", Taproot, c)
	}
	return nil
}

// checkKey returns an error if the key encoding is not allowed in the
// context.
func (c ScriptContext) checkKey(k Key) error {
	n := len(k.Serialize())
	switch c {
	case Taproot:
		if n != xOnlyKeyLen {
			return errorf(ErrUnsupportedInContext, "key %v: %v "+
				"requires x-only keys", k, c)
		}

	case SegwitV0:
		if n != compressedKeyLen {
			return errorf(ErrUnsupportedInContext, "key %v: %v "+
				"requires compressed keys", k, c)
		}

	default:
		if n != compressedKeyLen && n != uncompressedKeyLen {
			return errorf(ErrUnsupportedInContext, "key %v: %v "+
				"requires compressed or uncompressed keys", k, c)
		}
	}
	return nil
}

// checkResources verifies the global resource limits of a node built in the
// context.
func (c ScriptContext) checkResources(a *AST) error {
	if a.ext.scriptLen > c.MaxScriptSize() {
		return errorf(ErrResourceLimit, "script size of %v is %d, "+
			"which is larger than the %v limit of %d", a,
			a.ext.scriptLen, c, c.MaxScriptSize())
	}
	if max := c.maxOps(); max >= 0 && a.MaxOpCount() > max {
		return errorf(ErrResourceLimit, "%v requires up to %d ops, "+
			"which is larger than the %v limit of %d", a,
			a.MaxOpCount(), c, max)
	}
	if max := c.maxSigOps(); max >= 0 && a.ext.sigOps > max {
		return errorf(ErrResourceLimit, "%v has %d sigops, which is "+
			"larger than the %v limit of %d", a, a.ext.sigOps, c,
			max)
	}
	return nil
}

// checkWitness verifies the local limits on the satisfaction witness of a
// top-level node.
func (c ScriptContext) checkWitness(elems, size int) error {
	switch c {
	case Legacy:
		if size > maxScriptSigSize {
			return errorf(ErrResourceLimit, "satisfaction of %d "+
				"bytes is larger than the %v scriptSig limit "+
				"of %d", size, c, maxScriptSigSize)
		}

	case SegwitV0:
		if elems > maxStandardP2WSHStackItems {
			return errorf(ErrResourceLimit, "satisfaction has %d "+
				"stack items, more than the %v limit of %d",
				elems, c, maxStandardP2WSHStackItems)
		}

	case Taproot:
		if elems > txscript.MaxStackSize {
			return errorf(ErrResourceLimit, "satisfaction has %d "+
				"stack items, more than the %v limit of %d",
				elems, c, txscript.MaxStackSize)
		}
	}
	return nil
}

// checkTopLevel applies the restrictions on the script as a whole.
func (c ScriptContext) checkTopLevel(a *AST) error {
	if a.typ.Base != TypeB {
		return errorf(ErrTypeCheck, "top level expression %v must "+
			"have type B, got %v", a, a.typ.Base)
	}
	if c != Bare {
		return nil
	}

	// Bare scripts are only standard for the classic templates.
	switch {
	case a.frag == FragCheck && (a.args[0].frag == FragPkK ||
		a.args[0].frag == FragPkH):

	case a.frag == FragMulti && len(a.keys) <= 3:

	default:
		return errorf(ErrUnsupportedInContext, "%v is not a standard "+
			"bare script", a)
	}
	return nil
}

// CompilerAllows reports whether the policy compiler may use the fragment in
// the context. Under legacy rules IF arguments are not required to be minimal,
// which makes or_i and d: malleable, and pk_h cannot tell compressed and
// uncompressed keys apart.
func (c ScriptContext) CompilerAllows(f Fragment) bool {
	if c != Legacy {
		return true
	}
	switch f {
	case FragPkH, FragOrI, FragDupIf:
		return false
	}
	return true
}
