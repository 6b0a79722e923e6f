package psbt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/btcsuite/btcd/wire"

	"hwcore.dev/hwcore/bip32"
)

func decodeInputMap(r io.Reader) (InputMap, error) {
	in := newInputMap()
	seen := map[string]struct{}{}
	for {
		key, err := deserString(r, MaxKeyLength)
		if err != nil {
			return InputMap{}, err
		}
		if len(key) == 0 {
			break
		}
		if _, dup := seen[string(key)]; dup {
			return InputMap{}, fmt.Errorf("%w: input key %x", ErrDuplicateKey, key)
		}
		seen[string(key)] = struct{}{}

		switch key[0] {
		case InNonWitnessUtxo:
			if len(key) != 1 {
				return InputMap{}, fmt.Errorf("%w: non_witness_utxo key must be 1 byte", ErrBadLength)
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return InputMap{}, err
			}
			tx := wire.NewMsgTx(2)
			if err := tx.Deserialize(bytes.NewReader(val)); err != nil {
				return InputMap{}, fmt.Errorf("psbt: invalid non_witness_utxo: %w", err)
			}
			in.NonWitnessUtxo = tx
		case InWitnessUtxo:
			if len(key) != 1 {
				return InputMap{}, fmt.Errorf("%w: witness_utxo key must be 1 byte", ErrBadLength)
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return InputMap{}, err
			}
			out, err := deserializeTxOut(val)
			if err != nil {
				return InputMap{}, err
			}
			in.WitnessUtxo = out
		case InPartialSig:
			if len(key) != 34 && len(key) != 66 {
				return InputMap{}, fmt.Errorf("%w: partial_sig key must be 34 or 66 bytes, got %d", ErrBadLength, len(key))
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return InputMap{}, err
			}
			in.PartialSigs[string(key[1:])] = val
		case InSighashType:
			if len(key) != 1 {
				return InputMap{}, fmt.Errorf("%w: sighash key must be 1 byte", ErrBadLength)
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return InputMap{}, err
			}
			if len(val) != 4 {
				return InputMap{}, fmt.Errorf("%w: sighash value must be 4 bytes", ErrBadLength)
			}
			sh := binary.LittleEndian.Uint32(val)
			in.Sighash = &sh
		case InRedeemScript:
			if len(key) != 1 {
				return InputMap{}, fmt.Errorf("%w: redeem_script key must be 1 byte", ErrBadLength)
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return InputMap{}, err
			}
			in.RedeemScript = val
		case InWitnessScript:
			if len(key) != 1 {
				return InputMap{}, fmt.Errorf("%w: witness_script key must be 1 byte", ErrBadLength)
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return InputMap{}, err
			}
			in.WitnessScript = val
		case InBip32Derivation:
			if len(key) != 34 && len(key) != 66 {
				return InputMap{}, fmt.Errorf("%w: bip32_derivation key must be 34 or 66 bytes, got %d", ErrBadLength, len(key))
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return InputMap{}, err
			}
			origin, err := bip32.DeserializeKeyOrigin(val)
			if err != nil {
				return InputMap{}, err
			}
			in.HDKeypaths[string(key[1:])] = origin
		case InFinalScriptSig:
			if len(key) != 1 {
				return InputMap{}, fmt.Errorf("%w: final_scriptsig key must be 1 byte", ErrBadLength)
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return InputMap{}, err
			}
			in.FinalScriptSig = val
		case InFinalScriptWitness:
			if len(key) != 1 {
				return InputMap{}, fmt.Errorf("%w: final_scriptwitness key must be 1 byte", ErrBadLength)
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return InputMap{}, err
			}
			wit, err := deserializeTxWitness(val)
			if err != nil {
				return InputMap{}, err
			}
			in.FinalScriptWitness = wit
		case InTapKeySig:
			if len(key) != 1 {
				return InputMap{}, fmt.Errorf("%w: tap_key_sig key must be 1 byte", ErrBadLength)
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return InputMap{}, err
			}
			if len(val) != 64 && len(val) != 65 {
				return InputMap{}, fmt.Errorf("%w: tap_key_sig value must be 64 or 65 bytes", ErrBadLength)
			}
			in.TapKeySig = val
		case InTapScriptSig:
			if len(key) != 65 {
				return InputMap{}, fmt.Errorf("%w: tap_script_sig key must be 65 bytes, got %d", ErrBadLength, len(key))
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return InputMap{}, err
			}
			if len(val) != 64 && len(val) != 65 {
				return InputMap{}, fmt.Errorf("%w: tap_script_sig value must be 64 or 65 bytes", ErrBadLength)
			}
			var sk TapScriptSigKey
			copy(sk.XOnlyPubkey[:], key[1:33])
			copy(sk.LeafHash[:], key[33:65])
			in.TapScriptSigs[sk] = val
		case InTapLeafScript:
			if len(key) < 34 || (len(key)-34)%32 != 0 {
				return InputMap{}, fmt.Errorf("%w: tap_leaf_script control block has invalid length", ErrBadLength)
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return InputMap{}, err
			}
			if len(val) < 1 {
				return InputMap{}, fmt.Errorf("%w: tap_leaf_script value must carry a leaf version byte", ErrBadLength)
			}
			controlBlock := key[1:]
			script := val[:len(val)-1]
			leafVersion := val[len(val)-1]
			in.addTapLeafScript(script, leafVersion, controlBlock)
		case InTapBip32Derivation:
			if len(key) != 33 {
				return InputMap{}, fmt.Errorf("%w: tap_bip32_deriv key must be 33 bytes, got %d", ErrBadLength, len(key))
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return InputMap{}, err
			}
			deriv, err := deserializeTapDerivation(val)
			if err != nil {
				return InputMap{}, err
			}
			var xonly [32]byte
			copy(xonly[:], key[1:])
			in.TapBip32Paths[xonly] = deriv
		case InTapInternalKey:
			if len(key) != 1 {
				return InputMap{}, fmt.Errorf("%w: tap_internal_key key must be 1 byte", ErrBadLength)
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return InputMap{}, err
			}
			if len(val) != 32 {
				return InputMap{}, fmt.Errorf("%w: tap_internal_key value must be 32 bytes", ErrBadLength)
			}
			in.TapInternalKey = val
		case InTapMerkleRoot:
			if len(key) != 1 {
				return InputMap{}, fmt.Errorf("%w: tap_merkle_root key must be 1 byte", ErrBadLength)
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return InputMap{}, err
			}
			if len(val) != 32 {
				return InputMap{}, fmt.Errorf("%w: tap_merkle_root value must be 32 bytes", ErrBadLength)
			}
			in.TapMerkleRoot = val
		default:
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return InputMap{}, err
			}
			in.Unknown[string(key)] = val
		}
	}
	return in, nil
}

// addTapLeafScript merges a decoded control block into the TapLeafScript
// entry for (script, leafVersion), appending a new entry if none exists.
func (in *InputMap) addTapLeafScript(script []byte, leafVersion byte, controlBlock []byte) {
	for i := range in.TapScripts {
		ts := &in.TapScripts[i]
		if ts.LeafVersion == leafVersion && bytes.Equal(ts.Script, script) {
			ts.ControlBlocks = append(ts.ControlBlocks, append([]byte(nil), controlBlock...))
			return
		}
	}
	in.TapScripts = append(in.TapScripts, TapLeafScript{
		Script:        append([]byte(nil), script...),
		LeafVersion:   leafVersion,
		ControlBlocks: [][]byte{append([]byte(nil), controlBlock...)},
	})
}

func encodeInputMap(w *bytes.Buffer, in InputMap) error {
	if in.NonWitnessUtxo != nil {
		w.Write(serString([]byte{InNonWitnessUtxo}))
		var txBuf bytes.Buffer
		if err := in.NonWitnessUtxo.Serialize(&txBuf); err != nil {
			return fmt.Errorf("psbt: serializing non_witness_utxo: %w", err)
		}
		w.Write(serString(txBuf.Bytes()))
	}
	if in.WitnessUtxo != nil {
		w.Write(serString([]byte{InWitnessUtxo}))
		w.Write(serString(serializeTxOut(in.WitnessUtxo)))
	}

	if !in.IsFinalized() {
		for _, pk := range sortedKeys(in.PartialSigs) {
			w.Write(serString(append([]byte{InPartialSig}, pk...)))
			w.Write(serString(in.PartialSigs[pk]))
		}
		if in.Sighash != nil {
			w.Write(serString([]byte{InSighashType}))
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], *in.Sighash)
			w.Write(serString(b[:]))
		}
		if len(in.RedeemScript) != 0 {
			w.Write(serString([]byte{InRedeemScript}))
			w.Write(serString(in.RedeemScript))
		}
		if len(in.WitnessScript) != 0 {
			w.Write(serString([]byte{InWitnessScript}))
			w.Write(serString(in.WitnessScript))
		}
		for _, pk := range sortedKeys(in.HDKeypaths) {
			w.Write(serString(append([]byte{InBip32Derivation}, pk...)))
			w.Write(serString(in.HDKeypaths[pk].Serialize()))
		}
		if len(in.TapKeySig) != 0 {
			w.Write(serString([]byte{InTapKeySig}))
			w.Write(serString(in.TapKeySig))
		}
		for _, sk := range sortedTapScriptSigKeys(in.TapScriptSigs) {
			key := append([]byte{InTapScriptSig}, sk.XOnlyPubkey[:]...)
			key = append(key, sk.LeafHash[:]...)
			w.Write(serString(key))
			w.Write(serString(in.TapScriptSigs[sk]))
		}
		for _, ts := range in.TapScripts {
			val := append(append([]byte(nil), ts.Script...), ts.LeafVersion)
			for _, cb := range ts.ControlBlocks {
				key := append([]byte{InTapLeafScript}, cb...)
				w.Write(serString(key))
				w.Write(serString(val))
			}
		}
		for _, xonly := range sortedXOnlyKeys(in.TapBip32Paths) {
			deriv := in.TapBip32Paths[xonly]
			key := append([]byte{InTapBip32Derivation}, xonly[:]...)
			w.Write(serString(key))
			w.Write(serString(serializeTapDerivation(deriv)))
		}
		if len(in.TapInternalKey) != 0 {
			w.Write(serString([]byte{InTapInternalKey}))
			w.Write(serString(in.TapInternalKey))
		}
		if len(in.TapMerkleRoot) != 0 {
			w.Write(serString([]byte{InTapMerkleRoot}))
			w.Write(serString(in.TapMerkleRoot))
		}
	}

	if len(in.FinalScriptSig) != 0 {
		w.Write(serString([]byte{InFinalScriptSig}))
		w.Write(serString(in.FinalScriptSig))
	}
	if in.FinalScriptWitness != nil {
		w.Write(serString([]byte{InFinalScriptWitness}))
		w.Write(serString(serializeTxWitness(in.FinalScriptWitness)))
	}

	writeUnknown(w, in.Unknown)
	w.WriteByte(0x00)
	return nil
}

func sortedTapScriptSigKeys(m map[TapScriptSigKey][]byte) []TapScriptSigKey {
	keys := make([]TapScriptSigKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if c := bytes.Compare(a.XOnlyPubkey[:], b.XOnlyPubkey[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.LeafHash[:], b.LeafHash[:]) < 0
	})
	return keys
}

func sortedXOnlyKeys(m map[[32]byte]TapBip32Derivation) [][32]byte {
	keys := make([][32]byte, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	return keys
}

func deserializeTxOut(b []byte) (*wire.TxOut, error) {
	r := bytes.NewReader(b)
	var value int64
	if err := binary.Read(r, binary.LittleEndian, &value); err != nil {
		return nil, fmt.Errorf("%w: witness_utxo value", ErrTruncated)
	}
	script, err := deserString(r, MaxValueLength)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes in witness_utxo", ErrBadLength)
	}
	return wire.NewTxOut(value, script), nil
}

func serializeTxOut(out *wire.TxOut) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, out.Value)
	buf.Write(serString(out.PkScript))
	return buf.Bytes()
}

func deserializeTxWitness(b []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(b)
	n, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	wit := make(wire.TxWitness, n)
	for i := range wit {
		item, err := deserString(r, MaxValueLength)
		if err != nil {
			return nil, err
		}
		wit[i] = item
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes in final_scriptwitness", ErrBadLength)
	}
	return wit, nil
}

func serializeTxWitness(wit wire.TxWitness) []byte {
	var buf bytes.Buffer
	buf.Write(serCompactSize(uint64(len(wit))))
	for _, item := range wit {
		buf.Write(serString(item))
	}
	return buf.Bytes()
}

func deserializeTapDerivation(b []byte) (TapBip32Derivation, error) {
	r := bytes.NewReader(b)
	n, err := readVarInt(r)
	if err != nil {
		return TapBip32Derivation{}, err
	}
	d := TapBip32Derivation{LeafHashes: make([][32]byte, n)}
	for i := range d.LeafHashes {
		if _, err := io.ReadFull(r, d.LeafHashes[i][:]); err != nil {
			return TapBip32Derivation{}, fmt.Errorf("%w: tap leaf hash", ErrTruncated)
		}
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		return TapBip32Derivation{}, fmt.Errorf("%w: tap key origin", ErrTruncated)
	}
	origin, err := bip32.DeserializeKeyOrigin(rest)
	if err != nil {
		return TapBip32Derivation{}, err
	}
	d.Origin = origin
	return d, nil
}

func serializeTapDerivation(d TapBip32Derivation) []byte {
	var buf bytes.Buffer
	buf.Write(serCompactSize(uint64(len(d.LeafHashes))))
	for _, h := range d.LeafHashes {
		buf.Write(h[:])
	}
	buf.Write(d.Origin.Serialize())
	return buf.Bytes()
}
