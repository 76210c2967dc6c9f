package miniscript

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/txscript"
)

var hashOps = map[Fragment]byte{
	FragSha256:    txscript.OP_SHA256,
	FragHash256:   txscript.OP_HASH256,
	FragRipemd160: txscript.OP_RIPEMD160,
	FragHash160:   txscript.OP_HASH160,
}

// defaultScriptAlloc is the initial capacity of the script being built. It
// grows as needed.
const defaultScriptAlloc = 500

// scriptBuilder appends opcodes and canonical pushes to a script. Unlike
// txscript.ScriptBuilder it has no size cap: tapscripts are only bounded by
// the block weight, and the size limits of every context are enforced when
// the tree is constructed.
type scriptBuilder struct {
	script []byte
}

func newScriptBuilder() *scriptBuilder {
	return &scriptBuilder{script: make([]byte, 0, defaultScriptAlloc)}
}

// AddOp pushes the passed opcode to the end of the script.
func (b *scriptBuilder) AddOp(opcode byte) *scriptBuilder {
	b.script = append(b.script, opcode)
	return b
}

// AddData pushes the passed data to the end of the script using the smallest
// push opcode, the same way txscript.ScriptBuilder does.
func (b *scriptBuilder) AddData(data []byte) *scriptBuilder {
	dataLen := len(data)

	// Single byte numbers use the small integer opcodes.
	if dataLen == 0 || dataLen == 1 && data[0] == 0 {
		b.script = append(b.script, txscript.OP_0)
		return b
	} else if dataLen == 1 && data[0] <= 16 {
		b.script = append(b.script, (txscript.OP_1-1)+data[0])
		return b
	} else if dataLen == 1 && data[0] == 0x81 {
		b.script = append(b.script, txscript.OP_1NEGATE)
		return b
	}

	switch {
	case dataLen < txscript.OP_PUSHDATA1:
		b.script = append(b.script, byte((txscript.OP_DATA_1-1)+dataLen))

	case dataLen <= 0xff:
		b.script = append(b.script, txscript.OP_PUSHDATA1, byte(dataLen))

	case dataLen <= 0xffff:
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(dataLen))
		b.script = append(b.script, txscript.OP_PUSHDATA2)
		b.script = append(b.script, buf...)

	default:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(dataLen))
		b.script = append(b.script, txscript.OP_PUSHDATA4)
		b.script = append(b.script, buf...)
	}

	b.script = append(b.script, data...)
	return b
}

// AddInt64 pushes a non-negative script number.
func (b *scriptBuilder) AddInt64(val int64) *scriptBuilder {
	if val == 0 {
		b.script = append(b.script, txscript.OP_0)
		return b
	}
	if val >= 1 && val <= 16 {
		b.script = append(b.script, byte((txscript.OP_1-1)+val))
		return b
	}
	return b.AddData(scriptNumBytes(val))
}

// Script returns the built script.
func (b *scriptBuilder) Script() []byte {
	return b.script
}

// scriptNumBytes returns the minimal little endian encoding of a non-negative
// script number.
func scriptNumBytes(n int64) []byte {
	var result []byte
	for n > 0 {
		result = append(result, byte(n&0xff))
		n >>= 8
	}

	// The most significant bit is the sign, add a zero byte when the
	// value needs it.
	if len(result) > 0 && result[len(result)-1]&0x80 != 0 {
		result = append(result, 0x00)
	}
	return result
}

// Script creates the script from the miniscript, i.e. the witness script in
// SegwitV0, the leaf script in Taproot and the redeem script in Legacy. Every
// constructed tree has an encoding, the error is always nil.
func (a *AST) Script() ([]byte, error) {
	b := newScriptBuilder()
	buildScript(a, b, false)
	return b.Script(), nil
}

// addVerifyOp adds op, or its VERIFY variant if verify is true.
func addVerifyOp(b *scriptBuilder, verify bool, op, verifyOp byte) {
	if verify {
		b.AddOp(verifyOp)
	} else {
		b.AddOp(op)
	}
}

// buildScript builds the script from the tree. verify is true if the node is
// the tail of a v: wrapper with a free verify, in which case its last opcode
// is replaced by the VERIFY variant, e.g. `OP_CHECKSIG OP_VERIFY` becomes
// `OP_CHECKSIGVERIFY` (same for OP_EQUAL, OP_CHECKMULTISIG and OP_NUMEQUAL).
func buildScript(node *AST, b *scriptBuilder, verify bool) {
	switch node.frag {
	case FragFalse:
		b.AddOp(txscript.OP_FALSE)

	case FragTrue:
		b.AddOp(txscript.OP_TRUE)

	case FragPkK:
		b.AddData(node.keys[0].Serialize())

	case FragPkH, FragRawPkH:
		b.AddOp(txscript.OP_DUP)
		b.AddOp(txscript.OP_HASH160)
		b.AddData(node.hash)
		b.AddOp(txscript.OP_EQUALVERIFY)

	case FragOlder:
		b.AddInt64(int64(node.k))
		b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)

	case FragAfter:
		b.AddInt64(int64(node.k))
		b.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)

	case FragSha256, FragHash256, FragRipemd160, FragHash160:
		b.AddOp(txscript.OP_SIZE)
		b.AddInt64(32)
		b.AddOp(txscript.OP_EQUALVERIFY)
		b.AddOp(hashOps[node.frag])
		b.AddData(node.hash)
		addVerifyOp(b, verify, txscript.OP_EQUAL,
			txscript.OP_EQUALVERIFY)

	case FragAndOr:
		buildScript(node.args[0], b, false)
		b.AddOp(txscript.OP_NOTIF)
		buildScript(node.args[2], b, false)
		b.AddOp(txscript.OP_ELSE)
		buildScript(node.args[1], b, false)
		b.AddOp(txscript.OP_ENDIF)

	case FragAndV:
		buildScript(node.args[0], b, false)
		buildScript(node.args[1], b, verify)

	case FragAndB:
		buildScript(node.args[0], b, false)
		buildScript(node.args[1], b, false)
		b.AddOp(txscript.OP_BOOLAND)

	case FragOrB:
		buildScript(node.args[0], b, false)
		buildScript(node.args[1], b, false)
		b.AddOp(txscript.OP_BOOLOR)

	case FragOrC:
		buildScript(node.args[0], b, false)
		b.AddOp(txscript.OP_NOTIF)
		buildScript(node.args[1], b, false)
		b.AddOp(txscript.OP_ENDIF)

	case FragOrD:
		buildScript(node.args[0], b, false)
		b.AddOp(txscript.OP_IFDUP)
		b.AddOp(txscript.OP_NOTIF)
		buildScript(node.args[1], b, false)
		b.AddOp(txscript.OP_ENDIF)

	case FragOrI:
		b.AddOp(txscript.OP_IF)
		buildScript(node.args[0], b, false)
		b.AddOp(txscript.OP_ELSE)
		buildScript(node.args[1], b, false)
		b.AddOp(txscript.OP_ENDIF)

	case FragThresh:
		for i, arg := range node.args {
			buildScript(arg, b, false)
			if i > 0 {
				b.AddOp(txscript.OP_ADD)
			}
		}
		b.AddInt64(int64(node.k))
		addVerifyOp(b, verify, txscript.OP_EQUAL,
			txscript.OP_EQUALVERIFY)

	case FragMulti:
		b.AddInt64(int64(node.k))
		for _, key := range node.keys {
			b.AddData(key.Serialize())
		}
		b.AddInt64(int64(len(node.keys)))
		addVerifyOp(b, verify, txscript.OP_CHECKMULTISIG,
			txscript.OP_CHECKMULTISIGVERIFY)

	case FragMultiA:
		for i, key := range node.keys {
			b.AddData(key.Serialize())
			if i == 0 {
				b.AddOp(txscript.OP_CHECKSIG)
			} else {
				b.AddOp(txscript.OP_CHECKSIGADD)
			}
		}
		b.AddInt64(int64(node.k))
		addVerifyOp(b, verify, txscript.OP_NUMEQUAL,
			txscript.OP_NUMEQUALVERIFY)

	case FragAlt:
		b.AddOp(txscript.OP_TOALTSTACK)
		buildScript(node.args[0], b, false)
		b.AddOp(txscript.OP_FROMALTSTACK)

	case FragSwap:
		b.AddOp(txscript.OP_SWAP)
		buildScript(node.args[0], b, verify)

	case FragCheck:
		buildScript(node.args[0], b, false)
		addVerifyOp(b, verify, txscript.OP_CHECKSIG,
			txscript.OP_CHECKSIGVERIFY)

	case FragDupIf:
		b.AddOp(txscript.OP_DUP)
		b.AddOp(txscript.OP_IF)
		buildScript(node.args[0], b, false)
		b.AddOp(txscript.OP_ENDIF)

	case FragVerify:
		x := node.args[0]
		buildScript(x, b, x.ext.freeVerify)
		if !x.ext.freeVerify {
			b.AddOp(txscript.OP_VERIFY)
		}

	case FragNonZero:
		b.AddOp(txscript.OP_SIZE)
		b.AddOp(txscript.OP_0NOTEQUAL)
		b.AddOp(txscript.OP_IF)
		buildScript(node.args[0], b, false)
		b.AddOp(txscript.OP_ENDIF)

	case FragZeroNotEqual:
		buildScript(node.args[0], b, false)
		b.AddOp(txscript.OP_0NOTEQUAL)
	}
}

// ScriptString outputs a human-readable version of the script for debugging
// purposes, with keys and hashes in their text form.
func (a *AST) ScriptString() string {
	return scriptStr(a, false)
}

func verifyStr(verify bool, op string) string {
	if verify {
		return op + "VERIFY"
	}
	return op
}

func scriptStr(node *AST, verify bool) string {
	switch node.frag {
	case FragFalse, FragTrue:
		return fragmentNames[node.frag]

	case FragPkK:
		return fmt.Sprintf("<%s>", node.keys[0])

	case FragPkH:
		return fmt.Sprintf("DUP HASH160 <HASH160(%s)> EQUALVERIFY",
			node.keys[0])

	case FragRawPkH:
		return fmt.Sprintf("DUP HASH160 <%x> EQUALVERIFY", node.hash)

	case FragOlder:
		return fmt.Sprintf("<%d> CHECKSEQUENCEVERIFY", node.k)

	case FragAfter:
		return fmt.Sprintf("<%d> CHECKLOCKTIMEVERIFY", node.k)

	case FragSha256, FragHash256, FragRipemd160, FragHash160:
		return fmt.Sprintf("SIZE <32> EQUALVERIFY %s <%s> %s",
			strings.ToUpper(fragmentNames[node.frag]),
			hex.EncodeToString(node.hash), verifyStr(verify, "EQUAL"))

	case FragAndOr:
		return fmt.Sprintf("%s NOTIF %s ELSE %s ENDIF",
			scriptStr(node.args[0], false),
			scriptStr(node.args[2], false),
			scriptStr(node.args[1], false))

	case FragAndV:
		return fmt.Sprintf("%s %s",
			scriptStr(node.args[0], false),
			scriptStr(node.args[1], verify))

	case FragAndB:
		return fmt.Sprintf("%s %s BOOLAND",
			scriptStr(node.args[0], false),
			scriptStr(node.args[1], false))

	case FragOrB:
		return fmt.Sprintf("%s %s BOOLOR",
			scriptStr(node.args[0], false),
			scriptStr(node.args[1], false))

	case FragOrC:
		return fmt.Sprintf("%s NOTIF %s ENDIF",
			scriptStr(node.args[0], false),
			scriptStr(node.args[1], false))

	case FragOrD:
		return fmt.Sprintf("%s IFDUP NOTIF %s ENDIF",
			scriptStr(node.args[0], false),
			scriptStr(node.args[1], false))

	case FragOrI:
		return fmt.Sprintf("IF %s ELSE %s ENDIF",
			scriptStr(node.args[0], false),
			scriptStr(node.args[1], false))

	case FragThresh:
		var s []string
		for i, arg := range node.args {
			s = append(s, scriptStr(arg, false))
			if i > 0 {
				s = append(s, "ADD")
			}
		}
		s = append(s, fmt.Sprintf("<%d>", node.k))
		s = append(s, verifyStr(verify, "EQUAL"))
		return strings.Join(s, " ")

	case FragMulti:
		s := []string{fmt.Sprintf("<%d>", node.k)}
		for _, key := range node.keys {
			s = append(s, fmt.Sprintf("<%s>", key))
		}
		s = append(s, fmt.Sprintf("<%d>", len(node.keys)))
		s = append(s, verifyStr(verify, "CHECKMULTISIG"))
		return strings.Join(s, " ")

	case FragMultiA:
		var s []string
		for i, key := range node.keys {
			s = append(s, fmt.Sprintf("<%s>", key))
			if i == 0 {
				s = append(s, "CHECKSIG")
			} else {
				s = append(s, "CHECKSIGADD")
			}
		}
		s = append(s, fmt.Sprintf("<%d>", node.k))
		s = append(s, verifyStr(verify, "NUMEQUAL"))
		return strings.Join(s, " ")

	case FragAlt:
		return fmt.Sprintf("TOALTSTACK %s FROMALTSTACK",
			scriptStr(node.args[0], false))

	case FragSwap:
		return fmt.Sprintf("SWAP %s", scriptStr(node.args[0], verify))

	case FragCheck:
		return fmt.Sprintf("%s %s", scriptStr(node.args[0], false),
			verifyStr(verify, "CHECKSIG"))

	case FragDupIf:
		return fmt.Sprintf("DUP IF %s ENDIF",
			scriptStr(node.args[0], false))

	case FragVerify:
		x := node.args[0]
		s := scriptStr(x, x.ext.freeVerify)
		if !x.ext.freeVerify {
			s += " VERIFY"
		}
		return s

	case FragNonZero:
		return fmt.Sprintf("SIZE 0NOTEQUAL IF %s ENDIF",
			scriptStr(node.args[0], false))

	case FragZeroNotEqual:
		return fmt.Sprintf("%s 0NOTEQUAL",
			scriptStr(node.args[0], false))

	default:
		return "<unknown>"
	}
}
