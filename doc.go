/*
Package miniscript implements Miniscript, a structured subset of Bitcoin Script
that can be analyzed, composed and satisfied generically.

A miniscript is a tree of fragments. Every fragment maps to a fixed script
template, and every node carries a type made of a basic type (B, V, K or W)
and a set of properties (z, o, n, d, u, m, s, f, e). Whether a v: wrapper
merges into the last opcode is reported by HasFreeVerify, and timelock mixing
by HasMixedTimelocks. The types are computed bottom-up when a node is created,
so an *AST that exists is always well typed for its ScriptContext.

Trees can be created in three ways:

  - Parse reads the text form, e.g. "and_v(v:pk(K1),older(144))".
  - ParseScript decodes a script produced by Script back into a tree.
  - The constructors (PkK, AndV, Thresh, Check, ...) build one directly,
    which the policy compiler uses.

A tree is encoded with Script and satisfied with Satisfy, which asks a
Satisfier for signatures, hash preimages and timelock status and returns the
cheapest witness. IsSane reports whether a script is safe to use on its own:
non-malleable, requiring a signature and free of timelock mixing.

Errors

All errors returned by this package are of type Error and carry an ErrorCode,
so callers can use errors.Is(err, ErrTypeCheck) and similar checks.

Logging

The package logs through btclog and is silent until UseLogger is called.
*/
package miniscript
