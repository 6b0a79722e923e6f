package psbt

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"sort"

	"github.com/btcsuite/btcd/wire"

	"hwcore.dev/hwcore/bip32"
)

const magic = "psbt\xff"

// Decode parses a base64-encoded PSBT, applying the field-level length
// checks of §4.4 and the cross-structure checks of §4.6: the unsigned
// transaction must be present and unsigned, every non_witness_utxo must
// match the input it funds, and the input/output counts must match the
// unsigned transaction.
func Decode(b64 string) (*PSBT, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("psbt: invalid base64: %w", err)
	}
	return DecodeBytes(raw)
}

// DecodeBytes parses a raw (non-base64) PSBT byte stream.
func DecodeBytes(raw []byte) (*PSBT, error) {
	r := bytes.NewReader(raw)

	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil || string(hdr[:]) != magic {
		return nil, fmt.Errorf("psbt: %w", ErrBadMagic)
	}

	global, err := decodeGlobalMap(r)
	if err != nil {
		return nil, err
	}
	if isNullTx(global.UnsignedTx) {
		return nil, fmt.Errorf("psbt: %w: missing unsigned transaction", ErrCrossCheckFailed)
	}

	inputs := make([]InputMap, len(global.UnsignedTx.TxIn))
	for i := range inputs {
		in, err := decodeInputMap(r)
		if err != nil {
			return nil, fmt.Errorf("psbt: input %d: %w", i, err)
		}
		if in.NonWitnessUtxo != nil {
			txid := in.NonWitnessUtxo.TxHash()
			want := global.UnsignedTx.TxIn[i].PreviousOutPoint.Hash
			if txid != want {
				return nil, fmt.Errorf("psbt: input %d: %w: non_witness_utxo txid does not match prevout", i, ErrCrossCheckFailed)
			}
		}
		inputs[i] = in
	}

	outputs := make([]OutputMap, len(global.UnsignedTx.TxOut))
	for i := range outputs {
		out, err := decodeOutputMap(r)
		if err != nil {
			return nil, fmt.Errorf("psbt: output %d: %w", i, err)
		}
		outputs[i] = out
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("psbt: %w: trailing data after outputs", ErrTruncated)
	}

	return &PSBT{Global: global, Inputs: inputs, Outputs: outputs}, nil
}

// Encode serializes p to its canonical base64 form.
func (p *PSBT) Encode() (string, error) {
	raw, err := p.EncodeBytes()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodeBytes serializes p to its canonical raw byte form, per the field
// order fixed in §4.5.
func (p *PSBT) EncodeBytes() ([]byte, error) {
	if isNullTx(p.Global.UnsignedTx) {
		return nil, fmt.Errorf("psbt: %w: missing unsigned transaction", ErrCrossCheckFailed)
	}
	if len(p.Inputs) != len(p.Global.UnsignedTx.TxIn) {
		return nil, fmt.Errorf("psbt: %w: input count does not match unsigned transaction", ErrCrossCheckFailed)
	}
	if len(p.Outputs) != len(p.Global.UnsignedTx.TxOut) {
		return nil, fmt.Errorf("psbt: %w: output count does not match unsigned transaction", ErrCrossCheckFailed)
	}

	var buf bytes.Buffer
	buf.WriteString(magic)

	if err := encodeGlobalMap(&buf, p.Global); err != nil {
		return nil, err
	}
	for i, in := range p.Inputs {
		if err := encodeInputMap(&buf, in); err != nil {
			return nil, fmt.Errorf("psbt: input %d: %w", i, err)
		}
	}
	for i, out := range p.Outputs {
		if err := encodeOutputMap(&buf, out); err != nil {
			return nil, fmt.Errorf("psbt: output %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func decodeGlobalMap(r io.Reader) (GlobalMap, error) {
	g := GlobalMap{Xpubs: map[string]bip32.KeyOriginInfo{}, Unknown: map[string][]byte{}}
	seen := map[string]struct{}{}
	for {
		key, err := deserString(r, MaxKeyLength)
		if err != nil {
			return GlobalMap{}, err
		}
		if len(key) == 0 {
			break
		}
		if _, dup := seen[string(key)]; dup {
			return GlobalMap{}, fmt.Errorf("%w: global key %x", ErrDuplicateKey, key)
		}
		seen[string(key)] = struct{}{}

		switch key[0] {
		case GlobalUnsignedTx:
			if len(key) != 1 {
				return GlobalMap{}, fmt.Errorf("%w: unsigned_tx key must be 1 byte", ErrBadLength)
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return GlobalMap{}, err
			}
			tx := wire.NewMsgTx(2)
			// The unsigned tx has no witness data by definition (§4.6), so
			// it is (de)serialized without SegWit encoding. This also
			// avoids btcd misreading a 0-input tx's txin-count 0x00 as the
			// SegWit marker byte.
			if err := tx.DeserializeNoWitness(bytes.NewReader(val)); err != nil {
				return GlobalMap{}, fmt.Errorf("psbt: invalid unsigned transaction: %w", err)
			}
			if !isUnsignedTx(tx) {
				return GlobalMap{}, fmt.Errorf("%w: unsigned_tx has a non-empty scriptSig or witness", ErrCrossCheckFailed)
			}
			g.UnsignedTx = tx
		case GlobalXpub:
			if len(key) != 79 {
				return GlobalMap{}, fmt.Errorf("%w: xpub key must be 79 bytes, got %d", ErrBadLength, len(key))
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return GlobalMap{}, err
			}
			origin, err := bip32.DeserializeKeyOrigin(val)
			if err != nil {
				return GlobalMap{}, err
			}
			g.Xpubs[string(key[1:])] = origin
		default:
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return GlobalMap{}, err
			}
			g.Unknown[string(key)] = val
		}
	}
	return g, nil
}

func encodeGlobalMap(w *bytes.Buffer, g GlobalMap) error {
	w.Write(serString([]byte{GlobalUnsignedTx}))
	var txBuf bytes.Buffer
	if err := g.UnsignedTx.SerializeNoWitness(&txBuf); err != nil {
		return fmt.Errorf("psbt: serializing unsigned transaction: %w", err)
	}
	w.Write(serString(txBuf.Bytes()))

	for _, xpub := range sortedKeys(g.Xpubs) {
		origin := g.Xpubs[xpub]
		w.Write(serString(append([]byte{GlobalXpub}, xpub...)))
		w.Write(serString(origin.Serialize()))
	}
	writeUnknown(w, g.Unknown)
	w.WriteByte(0x00)
	return nil
}

func writeUnknown(w *bytes.Buffer, unknown map[string][]byte) {
	for _, k := range sortedKeys(unknown) {
		w.Write(serString([]byte(k)))
		w.Write(serString(unknown[k]))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
