// package bip32 contains helper functions for operating on bitcoin bip32
// extended keys and derivation paths, including the key-origin metadata
// used by PSBT (BIP-174) and output descriptors (BIP-380).
package bip32

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ErrHardenedFromPublic is returned when a hardened child is requested
// from a public (neutered) extended key.
var ErrHardenedFromPublic = errors.New("bip32: cannot derive a hardened child from a public extended key")

// ErrBadPath indicates a malformed derivation path string.
var ErrBadPath = errors.New("bip32: malformed derivation path")

// HardenedMarkers is the set of suffix characters accepted on input to
// mark a hardened path element.
const HardenedMarkers = "'hHpP"

// DefaultHardenedMarker is the marker used when none is specified on emit.
const DefaultHardenedMarker = 'h'

// Path is an ordered sequence of BIP-32 child indices. An index has its
// top bit set (>= hdkeychain.HardenedKeyStart) if it is hardened.
type Path []uint32

// String formats p in "m/44h/0h/0h" form using DefaultHardenedMarker.
func (p Path) String() string {
	var d strings.Builder
	d.WriteRune('m')
	d.WriteString(p.Format(DefaultHardenedMarker))
	return d.String()
}

// Format renders p as a sequence of "/index[marker]" elements using the
// given hardened marker, without the leading "m". It is the parameterized
// formatter referenced by Encode and by descriptor key-origin rendering,
// so that callers can pick their own hardened marker instead of the
// package hardcoding one.
func (p Path) Format(marker byte) string {
	res := new(strings.Builder)
	for _, e := range p {
		res.WriteByte('/')
		hard := e >= hdkeychain.HardenedKeyStart
		if hard {
			e -= hdkeychain.HardenedKeyStart
		}
		res.WriteString(strconv.Itoa(int(e)))
		if hard {
			res.WriteByte(marker)
		}
	}
	return res.String()
}

// Encode is equivalent to Format(DefaultHardenedMarker).
func (p Path) Encode() string {
	return p.Format(DefaultHardenedMarker)
}

// Fingerprint is the first 4 bytes of the RIPEMD160(SHA256(pkey)).
func Fingerprint(pkey *secp256k1.PublicKey) uint32 {
	mfp := btcutil.Hash160(pkey.SerializeCompressed())[:4]
	return binary.BigEndian.Uint32(mfp)
}

// Derive walks mk along path with non-hardened or hardened CKD as
// indicated by each index, then neuters the result to a public key.
func Derive(mk *hdkeychain.ExtendedKey, path Path) (xpub *hdkeychain.ExtendedKey, err error) {
	key := mk
	for _, p := range path {
		key, err = key.Derive(p)
		if err != nil {
			if errors.Is(err, hdkeychain.ErrDeriveHardFromPublic) {
				return nil, fmt.Errorf("bip32: %w", ErrHardenedFromPublic)
			}
			return nil, err
		}
	}
	xpub, err = key.Neuter()
	return
}

// DerivePubPath walks a public extended key along path using only
// non-hardened CKDpub steps. It fails with ErrHardenedFromPublic if path
// contains a hardened index.
func DerivePubPath(xpub *hdkeychain.ExtendedKey, path Path) (*hdkeychain.ExtendedKey, error) {
	key := xpub
	for _, p := range path {
		if p >= hdkeychain.HardenedKeyStart {
			return nil, ErrHardenedFromPublic
		}
		child, err := key.Derive(p)
		if err != nil {
			return nil, err
		}
		key = child
	}
	return key, nil
}

func NetworkFor(xpub *hdkeychain.ExtendedKey) (*chaincfg.Params, error) {
	networks := []*chaincfg.Params{
		&chaincfg.MainNetParams,
		&chaincfg.TestNet3Params,
		&chaincfg.SimNetParams,
	}
	for _, n := range networks {
		if xpub.IsForNet(n) {
			return n, nil
		}
	}
	return nil, errors.New("bip32: unknown network")
}

// ParsePathElement parses a single "123" or "123h"/"123'"/"123H"/"123p"/"123P"
// path element into its 32-bit index, with the hardened bit set for a
// hardened marker.
func ParsePathElement(p string) (uint32, error) {
	offset := uint32(0)
	if n := len(p); n > 0 && strings.ContainsRune(HardenedMarkers, rune(p[n-1])) {
		offset = hdkeychain.HardenedKeyStart
		p = p[:n-1]
	}
	idx, err := strconv.ParseInt(p, 10, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid path element: %q", ErrBadPath, p)
	}
	iu32 := uint32(idx)
	if int64(iu32) != idx || iu32+offset < iu32 {
		return 0, fmt.Errorf("%w: path element out of range: %q", ErrBadPath, p)
	}
	return iu32 + offset, nil
}

// ParsePath parses a "m/44'/0'/0'" style absolute derivation path. Empty
// segments (from a trailing or doubled slash) are skipped.
func ParsePath(path string) (Path, error) {
	var res Path
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("%w: missing m/ prefix: %q", ErrBadPath, path)
	}
	parts = parts[1:]
	for _, p := range parts {
		if p == "" {
			continue
		}
		e, err := ParsePathElement(p)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// KeyOriginInfo is the master-fingerprint and derivation-path pair BIP-174
// attaches to public keys so that a signer can locate the private key that
// corresponds to a pubkey appearing in a PSBT or descriptor.
type KeyOriginInfo struct {
	Fingerprint uint32
	Path        Path
}

// Serialize encodes the key origin as the 4-byte fingerprint followed by
// each path index in little-endian, as used by PSBT BIP32_DERIVATION
// values and descriptor key origins.
func (k KeyOriginInfo) Serialize() []byte {
	buf := make([]byte, 4+4*len(k.Path))
	binary.BigEndian.PutUint32(buf[:4], k.Fingerprint)
	for i, p := range k.Path {
		binary.LittleEndian.PutUint32(buf[4+4*i:8+4*i], p)
	}
	return buf
}

// DeserializeKeyOrigin parses the wire form produced by Serialize.
func DeserializeKeyOrigin(b []byte) (KeyOriginInfo, error) {
	if len(b) < 4 || len(b)%4 != 0 {
		return KeyOriginInfo{}, fmt.Errorf("bip32: invalid key origin length: %d", len(b))
	}
	k := KeyOriginInfo{Fingerprint: binary.BigEndian.Uint32(b[:4])}
	b = b[4:]
	for len(b) > 0 {
		k.Path = append(k.Path, binary.LittleEndian.Uint32(b[:4]))
		b = b[4:]
	}
	return k, nil
}

// Format renders the key origin as "[fingerprint/path]" contents (without
// the surrounding brackets), using marker for hardened elements.
func (k KeyOriginInfo) Format(marker byte) string {
	return fmt.Sprintf("%.8x%s", k.Fingerprint, k.Path.Format(marker))
}

func (k KeyOriginInfo) String() string {
	return k.Format(DefaultHardenedMarker)
}

// ParseKeyOrigin parses the contents of a "[fingerprint/path]" origin
// expression (without the brackets): 8 hex digits followed by a
// '/'-separated path.
func ParseKeyOrigin(s string) (KeyOriginInfo, error) {
	if len(s) < 8 {
		return KeyOriginInfo{}, fmt.Errorf("%w: key origin too short: %q", ErrBadPath, s)
	}
	fpVal, err := parseHexUint32(s[:8])
	if err != nil {
		return KeyOriginInfo{}, fmt.Errorf("%w: invalid fingerprint: %q", ErrBadPath, s)
	}
	rest := s[8:]
	var path Path
	for _, p := range strings.Split(rest, "/") {
		if p == "" {
			continue
		}
		e, err := ParsePathElement(p)
		if err != nil {
			return KeyOriginInfo{}, err
		}
		path = append(path, e)
	}
	return KeyOriginInfo{Fingerprint: fpVal, Path: path}, nil
}

func parseHexUint32(s string) (uint32, error) {
	if len(s) != 8 {
		return 0, fmt.Errorf("invalid length")
	}
	var v uint32
	for i := 0; i < 8; i++ {
		c := s[i]
		var d uint32
		switch {
		case '0' <= c && c <= '9':
			d = uint32(c - '0')
		case 'a' <= c && c <= 'f':
			d = uint32(c-'a') + 10
		case 'A' <= c && c <= 'F':
			d = uint32(c-'A') + 10
		default:
			return 0, fmt.Errorf("invalid hex digit: %q", c)
		}
		v = v<<4 | d
	}
	return v, nil
}
