package miniscript

import (
	"encoding/hex"
	"strconv"
	"strings"
)

// String returns the canonical text form of the miniscript, using the pk, pkh,
// and_n, t:, l: and u: shorthands where they apply.
func (a *AST) String() string {
	if a == nil {
		return "<nil>"
	}
	prefix, base := a.format()
	if prefix == "" {
		return base
	}
	return prefix + ":" + base
}

// format returns the wrapper letters to put in front of the node, and the
// node without its wrappers.
func (a *AST) format() (string, string) {
	switch a.frag {
	case FragCheck:
		x := a.args[0]
		switch x.frag {
		case FragPkK:
			return "", f_pk + "(" + x.keys[0].String() + ")"
		case FragPkH:
			return "", f_pkh + "(" + x.keys[0].String() + ")"
		}

	case FragAndV:
		if a.args[1].frag == FragTrue {
			prefix, base := a.args[0].format()
			return f_wrap_t + prefix, base
		}

	case FragOrI:
		if a.args[0].frag == FragFalse {
			prefix, base := a.args[1].format()
			return f_wrap_l + prefix, base
		}
		if a.args[1].frag == FragFalse {
			prefix, base := a.args[0].format()
			return f_wrap_u + prefix, base
		}

	case FragAndOr:
		if a.args[2].frag == FragFalse {
			return "", formatCall(f_and_n, a.args[0].String(),
				a.args[1].String())
		}
	}

	if a.frag.IsWrapper() {
		prefix, base := a.args[0].format()
		return fragmentNames[a.frag] + prefix, base
	}

	name := fragmentNames[a.frag]
	switch a.frag {
	case FragFalse, FragTrue:
		return "", name

	case FragPkK, FragPkH:
		return "", formatCall(name, a.keys[0].String())

	case FragRawPkH, FragSha256, FragHash256, FragRipemd160, FragHash160:
		return "", formatCall(name, hex.EncodeToString(a.hash))

	case FragOlder, FragAfter:
		return "", formatCall(name, formatNum(a.k))

	case FragMulti, FragMultiA:
		args := []string{formatNum(a.k)}
		for _, k := range a.keys {
			args = append(args, k.String())
		}
		return "", formatCall(name, args...)

	case FragThresh:
		args := []string{formatNum(a.k)}
		for _, arg := range a.args {
			args = append(args, arg.String())
		}
		return "", formatCall(name, args...)
	}

	args := make([]string, len(a.args))
	for i, arg := range a.args {
		args[i] = arg.String()
	}
	return "", formatCall(name, args...)
}

func formatCall(name string, args ...string) string {
	return name + "(" + strings.Join(args, ",") + ")"
}

func formatNum(n uint32) string {
	return strconv.FormatUint(uint64(n), 10)
}
