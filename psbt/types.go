// Package psbt implements the binary codec and data model for Partially
// Signed Bitcoin Transactions, BIP-174 and BIP-370 with the Taproot
// extensions of BIP-371.
package psbt

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"hwcore.dev/hwcore/bip32"
)

// Field type bytes, per BIP-174/BIP-371.
const (
	GlobalUnsignedTx = 0x00
	GlobalXpub       = 0x01

	InNonWitnessUtxo     = 0x00
	InWitnessUtxo        = 0x01
	InPartialSig         = 0x02
	InSighashType        = 0x03
	InRedeemScript       = 0x04
	InWitnessScript      = 0x05
	InBip32Derivation    = 0x06
	InFinalScriptSig     = 0x07
	InFinalScriptWitness = 0x08
	InTapKeySig          = 0x13
	InTapScriptSig       = 0x14
	InTapLeafScript      = 0x15
	InTapBip32Derivation = 0x16
	InTapInternalKey     = 0x17
	InTapMerkleRoot      = 0x18

	OutRedeemScript       = 0x00
	OutWitnessScript      = 0x01
	OutBip32Derivation    = 0x02
	OutTapInternalKey     = 0x05
	OutTapTree            = 0x06
	OutTapBip32Derivation = 0x07
)

// MaxValueLength bounds any single length-prefixed field value, mirroring
// the resource bound of §5: the decoder refuses to allocate more than
// this for one record's value. It matches btcutil/psbt's MaxPsbtValueLength.
const MaxValueLength = 4_000_000

// MaxKeyLength bounds any single length-prefixed key.
const MaxKeyLength = 10_000

// TapScriptSigKey identifies a Taproot script-path signature by the
// x-only internal pubkey and the tapleaf hash it signs for.
type TapScriptSigKey struct {
	XOnlyPubkey [32]byte
	LeafHash    [32]byte
}

// TapLeafScript is a Taproot leaf script together with the set of
// control blocks that prove its inclusion in one or more script trees.
type TapLeafScript struct {
	Script        []byte
	LeafVersion   byte
	ControlBlocks [][]byte
}

// TapBip32Derivation is the value of a tap_bip32_deriv record: the set of
// tapleaf hashes under which the key participates, plus its key origin.
type TapBip32Derivation struct {
	LeafHashes [][32]byte
	Origin     bip32.KeyOriginInfo
}

// GlobalMap is the global key-value map of a PSBT.
type GlobalMap struct {
	// UnsignedTx is the transaction this PSBT is collaboratively
	// signing. All scriptSigs and witnesses must be empty.
	UnsignedTx *wire.MsgTx

	// Xpubs maps a serialized extended public key to its key origin.
	Xpubs map[string]bip32.KeyOriginInfo

	// Unknown holds key-value pairs whose type byte this codec does
	// not recognize, keyed by the full raw key bytes.
	Unknown map[string][]byte
}

// InputMap is one PSBT input's key-value map.
type InputMap struct {
	NonWitnessUtxo     *wire.MsgTx
	WitnessUtxo        *wire.TxOut
	PartialSigs        map[string][]byte
	Sighash            *uint32
	RedeemScript       []byte
	WitnessScript      []byte
	HDKeypaths         map[string]bip32.KeyOriginInfo
	FinalScriptSig     []byte
	FinalScriptWitness wire.TxWitness

	TapKeySig     []byte
	TapScriptSigs map[TapScriptSigKey][]byte
	// TapScripts is a slice rather than a map keyed by (script, leaf
	// version) because []byte scripts aren't comparable; entries are
	// merged by value during decode so that a script reachable via
	// multiple control blocks appears once with all control blocks.
	TapScripts     []TapLeafScript
	TapBip32Paths  map[[32]byte]TapBip32Derivation
	TapInternalKey []byte
	TapMerkleRoot  []byte

	Unknown map[string][]byte
}

// OutputMap is one PSBT output's key-value map.
type OutputMap struct {
	RedeemScript   []byte
	WitnessScript  []byte
	HDKeypaths     map[string]bip32.KeyOriginInfo
	TapInternalKey []byte
	TapTree        []byte
	TapBip32Paths  map[[32]byte]TapBip32Derivation

	Unknown map[string][]byte
}

// PSBT is the full (GlobalMap, []InputMap, []OutputMap) triple.
type PSBT struct {
	Global  GlobalMap
	Inputs  []InputMap
	Outputs []OutputMap
}

// IsFinalized reports whether in has a final scriptSig or witness,
// meaning its pre-finalization fields must no longer be emitted.
func (in *InputMap) IsFinalized() bool {
	return len(in.FinalScriptSig) != 0 || len(in.FinalScriptWitness) != 0
}

// NewFromUnsignedTx builds a PSBT with empty input/output maps sized to
// match tx, which must have empty scriptSigs and witnesses.
func NewFromUnsignedTx(tx *wire.MsgTx) (*PSBT, error) {
	if !isUnsignedTx(tx) {
		return nil, fmt.Errorf("%w: unsigned tx has non-empty scriptSig or witness", ErrCrossCheckFailed)
	}
	p := &PSBT{
		Global: GlobalMap{
			UnsignedTx: tx,
			Xpubs:      map[string]bip32.KeyOriginInfo{},
			Unknown:    map[string][]byte{},
		},
		Inputs:  make([]InputMap, len(tx.TxIn)),
		Outputs: make([]OutputMap, len(tx.TxOut)),
	}
	for i := range p.Inputs {
		p.Inputs[i] = newInputMap()
	}
	for i := range p.Outputs {
		p.Outputs[i] = newOutputMap()
	}
	return p, nil
}

func newInputMap() InputMap {
	return InputMap{
		PartialSigs:   map[string][]byte{},
		HDKeypaths:    map[string]bip32.KeyOriginInfo{},
		TapScriptSigs: map[TapScriptSigKey][]byte{},
		TapBip32Paths: map[[32]byte]TapBip32Derivation{},
		Unknown:       map[string][]byte{},
	}
}

func newOutputMap() OutputMap {
	return OutputMap{
		HDKeypaths:    map[string]bip32.KeyOriginInfo{},
		TapBip32Paths: map[[32]byte]TapBip32Derivation{},
		Unknown:       map[string][]byte{},
	}
}

func isUnsignedTx(tx *wire.MsgTx) bool {
	for _, in := range tx.TxIn {
		if len(in.SignatureScript) != 0 || len(in.Witness) != 0 {
			return false
		}
	}
	return true
}

// isNullTx reports whether the unsigned_tx field is absent. A tx with no
// inputs or outputs is a legitimate (if degenerate) unsigned transaction,
// not a missing one.
func isNullTx(tx *wire.MsgTx) bool {
	return tx == nil
}
