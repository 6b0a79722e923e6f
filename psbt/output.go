package psbt

import (
	"bytes"
	"fmt"
	"io"

	"hwcore.dev/hwcore/bip32"
)

func decodeOutputMap(r io.Reader) (OutputMap, error) {
	out := newOutputMap()
	seen := map[string]struct{}{}
	for {
		key, err := deserString(r, MaxKeyLength)
		if err != nil {
			return OutputMap{}, err
		}
		if len(key) == 0 {
			break
		}
		if _, dup := seen[string(key)]; dup {
			return OutputMap{}, fmt.Errorf("%w: output key %x", ErrDuplicateKey, key)
		}
		seen[string(key)] = struct{}{}

		switch key[0] {
		case OutRedeemScript:
			if len(key) != 1 {
				return OutputMap{}, fmt.Errorf("%w: redeem_script key must be 1 byte", ErrBadLength)
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return OutputMap{}, err
			}
			out.RedeemScript = val
		case OutWitnessScript:
			if len(key) != 1 {
				return OutputMap{}, fmt.Errorf("%w: witness_script key must be 1 byte", ErrBadLength)
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return OutputMap{}, err
			}
			out.WitnessScript = val
		case OutBip32Derivation:
			if len(key) != 34 && len(key) != 66 {
				return OutputMap{}, fmt.Errorf("%w: bip32_derivation key must be 34 or 66 bytes, got %d", ErrBadLength, len(key))
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return OutputMap{}, err
			}
			origin, err := bip32.DeserializeKeyOrigin(val)
			if err != nil {
				return OutputMap{}, err
			}
			out.HDKeypaths[string(key[1:])] = origin
		case OutTapInternalKey:
			if len(key) != 1 {
				return OutputMap{}, fmt.Errorf("%w: tap_internal_key key must be 1 byte", ErrBadLength)
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return OutputMap{}, err
			}
			if len(val) != 32 {
				return OutputMap{}, fmt.Errorf("%w: tap_internal_key value must be 32 bytes", ErrBadLength)
			}
			out.TapInternalKey = val
		case OutTapTree:
			if len(key) != 1 {
				return OutputMap{}, fmt.Errorf("%w: tap_tree key must be 1 byte", ErrBadLength)
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return OutputMap{}, err
			}
			out.TapTree = val
		case OutTapBip32Derivation:
			if len(key) != 33 {
				return OutputMap{}, fmt.Errorf("%w: tap_bip32_deriv key must be 33 bytes, got %d", ErrBadLength, len(key))
			}
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return OutputMap{}, err
			}
			deriv, err := deserializeTapDerivation(val)
			if err != nil {
				return OutputMap{}, err
			}
			var xonly [32]byte
			copy(xonly[:], key[1:])
			out.TapBip32Paths[xonly] = deriv
		default:
			val, err := deserString(r, MaxValueLength)
			if err != nil {
				return OutputMap{}, err
			}
			out.Unknown[string(key)] = val
		}
	}
	return out, nil
}

func encodeOutputMap(w *bytes.Buffer, out OutputMap) error {
	if len(out.RedeemScript) != 0 {
		w.Write(serString([]byte{OutRedeemScript}))
		w.Write(serString(out.RedeemScript))
	}
	if len(out.WitnessScript) != 0 {
		w.Write(serString([]byte{OutWitnessScript}))
		w.Write(serString(out.WitnessScript))
	}
	for _, pk := range sortedKeys(out.HDKeypaths) {
		w.Write(serString(append([]byte{OutBip32Derivation}, pk...)))
		w.Write(serString(out.HDKeypaths[pk].Serialize()))
	}
	if len(out.TapInternalKey) != 0 {
		w.Write(serString([]byte{OutTapInternalKey}))
		w.Write(serString(out.TapInternalKey))
	}
	if len(out.TapTree) != 0 {
		w.Write(serString([]byte{OutTapTree}))
		w.Write(serString(out.TapTree))
	}
	for _, xonly := range sortedXOnlyKeys(out.TapBip32Paths) {
		deriv := out.TapBip32Paths[xonly]
		key := append([]byte{OutTapBip32Derivation}, xonly[:]...)
		w.Write(serString(key))
		w.Write(serString(serializeTapDerivation(deriv)))
	}

	writeUnknown(w, out.Unknown)
	w.WriteByte(0x00)
	return nil
}
