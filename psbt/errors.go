package psbt

import "errors"

// Error kinds surfaced by the codec. Callers match with errors.Is; framing,
// length, duplicate-key and cross-check failures wrap one of these with
// fmt.Errorf("psbt: ...: %w", ...) for context. Errors from base64
// decoding, from the wire transaction codec and from key-origin parsing
// wrap none of them.
var (
	// ErrBadMagic indicates the byte stream does not begin with the
	// 5-byte PSBT magic "psbt\xff".
	ErrBadMagic = errors.New("psbt: invalid magic bytes")

	// ErrTruncated indicates the stream ended before a length-prefixed
	// record or the declared number of inputs/outputs could be read. The
	// decoder also returns it for a length prefix above MaxKeyLength or
	// MaxValueLength and for bytes left over after the last output map.
	ErrTruncated = errors.New("psbt: truncated stream")

	// ErrBadLength indicates a field's key or value has the wrong
	// length for its type, per the BIP-174/371 field tables.
	ErrBadLength = errors.New("psbt: invalid field length")

	// ErrDuplicateKey indicates the same full key bytes appeared twice
	// in one map.
	ErrDuplicateKey = errors.New("psbt: duplicate key")

	// ErrCrossCheckFailed indicates a cross-structure invariant failed:
	// a non_witness_utxo txid mismatch, an input/output count mismatch
	// against the unsigned transaction, a signed unsigned-tx, or a
	// missing unsigned transaction.
	ErrCrossCheckFailed = errors.New("psbt: cross-check failed")
)
