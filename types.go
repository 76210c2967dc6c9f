package miniscript

import (
	"strconv"
	"strings"
)

// BasicType is the correctness type of a fragment, describing what it leaves
// on the stack.
type BasicType uint8

const (
	// TypeB is a base expression. It takes its inputs from the top of the
	// stack and pushes a nonzero value on success, or an exact 0 on
	// failure.
	TypeB BasicType = iota

	// TypeV is a verify expression. It continues on success and aborts on
	// failure, pushing nothing.
	TypeV

	// TypeK is a key expression. It pushes a public key for which a
	// signature is to be checked.
	TypeK

	// TypeW is a wrapped expression. It takes its inputs from one below the
	// top of the stack and pushes its result on top of the stack.
	TypeW
)

// String returns the single letter name of the basic type.
func (b BasicType) String() string {
	switch b {
	case TypeB:
		return "B"
	case TypeV:
		return "V"
	case TypeK:
		return "K"
	case TypeW:
		return "W"
	}
	return "?"
}

// Properties are the additional guarantees of a fragment.
type Properties struct {
	// Basic type properties.
	//
	// Z: consumes exactly 0 stack elements.
	// O: consumes exactly 1 stack element.
	// N: the top input is never required to be zero.
	// D: a dissatisfaction exists that can be produced without signing.
	// U: on satisfaction puts exactly 1 on the stack.
	Z, O, N, D, U bool

	// Malleability properties.
	//
	// M: a non-malleable satisfaction is guaranteed to exist. The purpose
	// of S, F and E is only to compute M and can be disregarded afterward.
	// S: every satisfaction requires a signature.
	// F: no dissatisfactions exist.
	// E: the dissatisfaction is unique and requires no signature to be
	// non-malleable.
	M, S, F, E bool
}

// String returns the flags that are set, in the order z, o, n, d, u, m, s, f,
// e.
func (p Properties) String() string {
	s := strings.Builder{}
	flags := []struct {
		set  bool
		char rune
	}{
		{p.Z, 'z'}, {p.O, 'o'}, {p.N, 'n'}, {p.D, 'd'}, {p.U, 'u'},
		{p.M, 'm'}, {p.S, 's'}, {p.F, 'f'}, {p.E, 'e'},
	}
	for _, f := range flags {
		if f.set {
			s.WriteRune(f.char)
		}
	}
	return s.String()
}

// implies returns true if every flag set in o is also set in p.
func (p Properties) implies(o Properties) bool {
	return (p.Z || !o.Z) && (p.O || !o.O) && (p.N || !o.N) &&
		(p.D || !o.D) && (p.U || !o.U) && (p.M || !o.M) &&
		(p.S || !o.S) && (p.F || !o.F) && (p.E || !o.E)
}

// Type is the full type of a fragment.
type Type struct {
	Base  BasicType
	Props Properties
}

// String returns the basic type followed by all set properties, e.g. "Bondu".
func (t Type) String() string {
	return t.Base.String() + t.Props.String()
}

// IsSubtype returns true if a fragment of type t can be used wherever a
// fragment of type o is accepted.
func (t Type) IsSubtype(o Type) bool {
	return t.Base == o.Base && t.Props.implies(o.Props)
}

func typeErrorf(a *AST, format string, args ...interface{}) error {
	return errorf(ErrTypeCheck, "%s: "+format,
		append([]interface{}{fragmentNames[a.frag]}, args...)...)
}

// expectArg checks that an argument of a has the given basic type and
// properties. name is the position of the argument used in error messages.
func expectArg(a *AST, arg *AST, name string, base BasicType,
	props Properties) error {

	if arg.typ.Base != base {
		return typeErrorf(a, "%s argument %v expected to have type "+
			"%v, but is type %v", name, arg, base, arg.typ.Base)
	}
	if !arg.typ.Props.implies(props) {
		return typeErrorf(a, "%s argument %v of type %v is missing "+
			"properties %v", name, arg, arg.typ, props)
	}
	return nil
}

// computeType derives the type of a node from its arguments. The correctness
// and malleability rules follow the miniscript reference table.
func computeType(a *AST) (Type, error) {
	var (
		t  Type
		p  = &t.Props
		du = Properties{D: true, U: true}
	)
	switch a.frag {
	case FragFalse:
		t.Base = TypeB
		p.Z, p.U, p.D = true, true, true
		p.M, p.S, p.E = true, true, true

	case FragTrue:
		t.Base = TypeB
		p.Z, p.U = true, true
		p.M, p.F = true, true

	case FragPkK:
		t.Base = TypeK
		p.O, p.N, p.D, p.U = true, true, true, true
		p.M, p.S, p.E = true, true, true

	case FragPkH, FragRawPkH:
		t.Base = TypeK
		p.N, p.D, p.U = true, true, true
		p.M, p.S, p.E = true, true, true

	case FragOlder, FragAfter:
		t.Base = TypeB
		p.Z = true
		p.M, p.F = true, true

	case FragSha256, FragHash256, FragRipemd160, FragHash160:
		t.Base = TypeB
		p.O, p.N, p.D, p.U = true, true, true, true
		p.M = true

	case FragAndOr:
		x, y, z := a.args[0], a.args[1], a.args[2]
		if err := expectArg(a, x, "first", TypeB, du); err != nil {
			return t, err
		}
		if y.typ.Base != TypeB && y.typ.Base != TypeK &&
			y.typ.Base != TypeV {

			return t, typeErrorf(a, "second argument type is not "+
				"B, K or V, but: %v", y.typ.Base)
		}
		if z.typ.Base != y.typ.Base {
			return t, typeErrorf(a, "third argument type %v is "+
				"not the type of the second argument, which "+
				"is: %v", z.typ.Base, y.typ.Base)
		}
		xp, yp, zp := x.typ.Props, y.typ.Props, z.typ.Props
		t.Base = y.typ.Base
		p.Z = xp.Z && yp.Z && zp.Z
		p.O = (xp.Z && yp.O && zp.O) || (xp.O && yp.Z && zp.Z)
		p.U = yp.U && zp.U
		p.D = zp.D

		p.M = xp.M && yp.M && zp.M && xp.E &&
			(xp.S || yp.S || zp.S)
		p.S = zp.S && (xp.S || yp.S)
		p.F = zp.F && (xp.S || yp.F)
		p.E = zp.E && (xp.S || yp.F)

	case FragAndV:
		x, y := a.args[0], a.args[1]
		if err := expectArg(a, x, "first", TypeV, Properties{}); err != nil {
			return t, err
		}
		if y.typ.Base != TypeB && y.typ.Base != TypeK &&
			y.typ.Base != TypeV {

			return t, typeErrorf(a, "second argument type is not "+
				"B, K or V, but: %v", y.typ.Base)
		}
		xp, yp := x.typ.Props, y.typ.Props
		t.Base = y.typ.Base
		p.Z = xp.Z && yp.Z
		p.O = (xp.Z && yp.O) || (yp.Z && xp.O)
		p.N = xp.N || (xp.Z && yp.N)
		p.U = yp.U

		p.M = xp.M && yp.M
		p.S = xp.S || yp.S
		p.F = xp.S || yp.F

	case FragAndB:
		x, y := a.args[0], a.args[1]
		if err := expectArg(a, x, "first", TypeB, Properties{}); err != nil {
			return t, err
		}
		if err := expectArg(a, y, "second", TypeW, Properties{}); err != nil {
			return t, err
		}
		xp, yp := x.typ.Props, y.typ.Props
		t.Base = TypeB
		p.Z = xp.Z && yp.Z
		p.O = (xp.Z && yp.O) || (yp.Z && xp.O)
		p.N = xp.N || (xp.Z && yp.N)
		p.D = xp.D && yp.D
		p.U = true

		p.M = xp.M && yp.M
		p.S = xp.S || yp.S
		p.F = (xp.F && yp.F) || (xp.S && xp.F) || (yp.S && yp.F)
		p.E = xp.E && yp.E && xp.S && yp.S

	case FragOrB:
		x, z := a.args[0], a.args[1]
		if err := expectArg(a, x, "first", TypeB, Properties{D: true}); err != nil {
			return t, err
		}
		if err := expectArg(a, z, "second", TypeW, Properties{D: true}); err != nil {
			return t, err
		}
		xp, zp := x.typ.Props, z.typ.Props
		t.Base = TypeB
		p.Z = xp.Z && zp.Z
		p.O = (xp.Z && zp.O) || (zp.Z && xp.O)
		p.D, p.U = true, true

		p.M = xp.M && zp.M && xp.E && zp.E && (xp.S || zp.S)
		p.S = xp.S && zp.S
		p.E = true

	case FragOrC:
		x, z := a.args[0], a.args[1]
		if err := expectArg(a, x, "first", TypeB, du); err != nil {
			return t, err
		}
		if err := expectArg(a, z, "second", TypeV, Properties{}); err != nil {
			return t, err
		}
		xp, zp := x.typ.Props, z.typ.Props
		t.Base = TypeV
		p.Z = xp.Z && zp.Z
		p.O = xp.O && zp.Z

		p.M = xp.M && zp.M && xp.E && (xp.S || zp.S)
		p.S = xp.S && zp.S
		p.F = true

	case FragOrD:
		x, z := a.args[0], a.args[1]
		if err := expectArg(a, x, "first", TypeB, du); err != nil {
			return t, err
		}
		if err := expectArg(a, z, "second", TypeB, Properties{}); err != nil {
			return t, err
		}
		xp, zp := x.typ.Props, z.typ.Props
		t.Base = TypeB
		p.Z = xp.Z && zp.Z
		p.O = xp.O && zp.Z
		p.D = zp.D
		p.U = zp.U

		p.M = xp.M && zp.M && xp.E && (xp.S || zp.S)
		p.S = xp.S && zp.S
		p.F = zp.F
		p.E = zp.E

	case FragOrI:
		x, z := a.args[0], a.args[1]
		if x.typ.Base != TypeB && x.typ.Base != TypeK &&
			x.typ.Base != TypeV {

			return t, typeErrorf(a, "first argument type is not "+
				"B, K or V, but: %v", x.typ.Base)
		}
		if z.typ.Base != x.typ.Base {
			return t, typeErrorf(a, "second argument type %v is "+
				"not the type of the first argument, which is: "+
				"%v", z.typ.Base, x.typ.Base)
		}
		xp, zp := x.typ.Props, z.typ.Props
		t.Base = x.typ.Base
		p.O = xp.Z && zp.Z
		p.U = xp.U && zp.U
		p.D = xp.D || zp.D

		p.M = xp.M && zp.M && (xp.S || zp.S)
		p.S = xp.S && zp.S
		p.F = xp.F && zp.F
		p.E = (xp.E && zp.F) || (zp.E && xp.F)

	case FragThresh:
		// X1 is Bdu, the others are Wdu.
		if err := expectArg(a, a.args[0], "first", TypeB, du); err != nil {
			return t, err
		}
		for i, arg := range a.args[1:] {
			name := ordinal(i + 2)
			if err := expectArg(a, arg, name, TypeW, du); err != nil {
				return t, err
			}
		}
		t.Base = TypeB

		// z: all are z. o: all are z except one is o.
		var numZ, numO, notS int
		p.M, p.E = true, true
		for _, arg := range a.args {
			ap := arg.typ.Props
			switch {
			case ap.Z:
				numZ++
			case ap.O:
				numO++
			}
			if !ap.S {
				notS++
			}
			p.M = p.M && ap.M && ap.E
			p.E = p.E && ap.E && ap.S
		}
		p.Z = numZ == len(a.args)
		p.O = numZ == len(a.args)-1 && numO == 1
		p.D, p.U = true, true

		k := int(a.k)
		p.M = p.M && notS <= k
		p.S = notS <= k-1

	case FragMulti, FragMultiA:
		t.Base = TypeB
		p.N = a.frag == FragMulti
		p.D, p.U = true, true
		p.M, p.S, p.E = true, true, true

	case FragAlt, FragSwap:
		x := a.args[0]
		req := Properties{}
		if a.frag == FragSwap {
			req.O = true
		}
		if err := expectArg(a, x, "first", TypeB, req); err != nil {
			return t, err
		}
		t.Base = TypeW
		p.D = x.typ.Props.D
		p.U = x.typ.Props.U

		p.M = x.typ.Props.M
		p.S = x.typ.Props.S
		p.F = x.typ.Props.F
		p.E = x.typ.Props.E

	case FragCheck:
		x := a.args[0]
		if err := expectArg(a, x, "first", TypeK, Properties{}); err != nil {
			return t, err
		}
		xp := x.typ.Props
		t.Base = TypeB
		p.O, p.N, p.D = xp.O, xp.N, xp.D
		p.U = true

		p.M = xp.M
		p.S = true
		p.F = xp.F
		p.E = xp.E

	case FragDupIf:
		x := a.args[0]
		if err := expectArg(a, x, "first", TypeV, Properties{Z: true}); err != nil {
			return t, err
		}
		t.Base = TypeB
		p.O, p.N, p.D = true, true, true

		// MINIMALIF is a consensus rule in tapscript, so the
		// satisfaction of d:X always leaves exactly 1 on the stack.
		p.U = a.ctx.IsTapscript()

		p.M = x.typ.Props.M
		p.S = x.typ.Props.S
		p.E = true

	case FragVerify:
		x := a.args[0]
		if err := expectArg(a, x, "first", TypeB, Properties{}); err != nil {
			return t, err
		}
		xp := x.typ.Props
		t.Base = TypeV
		p.Z, p.O, p.N = xp.Z, xp.O, xp.N

		p.M = xp.M
		p.S = xp.S
		p.F = true

	case FragNonZero:
		x := a.args[0]
		if err := expectArg(a, x, "first", TypeB, Properties{N: true}); err != nil {
			return t, err
		}
		xp := x.typ.Props
		t.Base = TypeB
		p.O = xp.O
		p.N, p.D = true, true
		p.U = xp.U

		p.M = xp.M
		p.S = xp.S
		p.E = xp.F

	case FragZeroNotEqual:
		x := a.args[0]
		if err := expectArg(a, x, "first", TypeB, Properties{}); err != nil {
			return t, err
		}
		xp := x.typ.Props
		t.Base = TypeB
		p.Z, p.O, p.N, p.D = xp.Z, xp.O, xp.N, xp.D
		p.U = true

		p.M = xp.M
		p.S = xp.S
		p.F = xp.F
		p.E = xp.E

	default:
		return t, errorf(ErrTypeCheck, "unknown fragment %d", a.frag)
	}
	return t, nil
}

// ordinal returns "first", "second", ... for argument positions in error
// messages.
func ordinal(i int) string {
	names := []string{"first", "second", "third", "fourth", "fifth"}
	if i >= 1 && i <= len(names) {
		return names[i-1]
	}
	return "#" + strconv.Itoa(i)
}
