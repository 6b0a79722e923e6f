package bip380

import "errors"

// Error kinds surfaced by descriptor parsing and expansion. Callers match
// with errors.Is; concrete errors are one of these or wrap one of these
// with additional context via fmt.Errorf("bip380: ...: %w", ...). Errors
// for a key token that does not decode as an extended or hex public key
// wrap none of them.
var (
	// ErrBadChar indicates a character outside the descriptor alphabet
	// or, in an attached checksum, outside the checksum alphabet.
	ErrBadChar = errors.New("bip380: character outside descriptor alphabet")

	// ErrBadChecksum indicates a present checksum that does not match
	// the descriptor text it is attached to.
	ErrBadChecksum = errors.New("bip380: invalid checksum")

	// ErrBadPath indicates a malformed key origin or child derivation
	// path.
	ErrBadPath = errors.New("bip380: malformed derivation path")

	// ErrUnsupportedForm indicates a syntactically valid descriptor
	// this codec does not support, or an operation (such as Expand)
	// that the descriptor's shape cannot satisfy.
	ErrUnsupportedForm = errors.New("bip380: unsupported descriptor form")
)
