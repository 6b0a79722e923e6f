// package bip380 implements support for [BIP380], output descriptors.
//
// [BIP380]: https://bips.dev/380/
package bip380

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"hwcore.dev/hwcore/bip32"
)

type Descriptor struct {
	Title     string
	Script    Script
	Threshold int
	Type      MultisigType
	Keys      []Key
}

type Key struct {
	Network           *chaincfg.Params
	MasterFingerprint uint32
	DerivationPath    bip32.Path
	Children          []Derivation
	KeyData           []byte
	ChainCode         []byte
	ParentFingerprint uint32
	// Raw indicates a bare hex-encoded compressed public key with no
	// extended-key structure: KeyData holds the 33-byte key verbatim and
	// Network/ChainCode/ParentFingerprint are unset. Children parsed from
	// a derivation suffix are kept for encoding but ignored by
	// DerivePubkeyAt, since a raw key has no derivation.
	Raw bool
}

type Derivation struct {
	Type DerivationType
	// Index is the child index, without the hardening offset.
	// For RangeDerivations, Index is the start of the range.
	Index    uint32
	Hardened bool
	// End represents the end of a RangeDerivation.
	End uint32
}

type DerivationType int

const (
	ChildDerivation DerivationType = iota
	WildcardDerivation
	RangeDerivation
)

type Script int

const (
	UnknownScript Script = iota
	P2SH
	P2SH_P2WSH
	P2SH_P2WPKH
	P2PKH
	P2WSH
	P2WPKH
	P2TR
)

func (s Script) String() string {
	switch s {
	case P2SH:
		return "Legacy (P2SH)"
	case P2SH_P2WSH:
		return "Nested Segwit (P2SH-P2WSH)"
	case P2SH_P2WPKH:
		return "Nested Segwit (P2SH-P2WPKH)"
	case P2PKH:
		return "Legacy (P2PKH)"
	case P2WSH:
		return "Segwit (P2WSH)"
	case P2WPKH:
		return "Segwit (P2WPKH)"
	case P2TR:
		return "Taproot (P2TR)"
	default:
		return "Unknown"
	}
}

type MultisigType int

const (
	Singlesig MultisigType = iota
	Multi
	SortedMulti
)

func (k Key) ExtendedKey() *hdkeychain.ExtendedKey {
	var fp [4]byte
	binary.BigEndian.PutUint32(fp[:], k.ParentFingerprint)
	childNum := uint32(0)
	if len(k.DerivationPath) > 0 {
		childNum = k.DerivationPath[len(k.DerivationPath)-1]
	}
	return hdkeychain.NewExtendedKey(
		k.Network.HDPublicKeyID[:],
		k.KeyData, k.ChainCode, fp[:], uint8(len(k.DerivationPath)),
		childNum, false,
	)
}

func (k Key) String() string {
	if k.Raw {
		return hex.EncodeToString(k.KeyData)
	}
	return k.ExtendedKey().String()
}

// Singlesig reports whether the script is for single-sig.
func (s Script) Singlesig() bool {
	for _, s2 := range []Script{P2PKH, P2WPKH, P2SH_P2WPKH, P2TR} {
		if s == s2 {
			return true
		}
	}
	return false
}

// DerivationPath returns the standard derivation path
// for the script. It panics if the script is unknown.
func (s Script) DerivationPath() bip32.Path {
	switch s {
	case P2WPKH:
		return bip32.Path{
			hdkeychain.HardenedKeyStart + 84,
			hdkeychain.HardenedKeyStart + 0,
			hdkeychain.HardenedKeyStart + 0,
		}
	case P2PKH:
		return bip32.Path{
			hdkeychain.HardenedKeyStart + 44,
			hdkeychain.HardenedKeyStart + 0,
			hdkeychain.HardenedKeyStart + 0,
		}
	case P2SH_P2WPKH:
		return bip32.Path{
			hdkeychain.HardenedKeyStart + 49,
			hdkeychain.HardenedKeyStart + 0,
			hdkeychain.HardenedKeyStart + 0,
		}
	case P2TR:
		return bip32.Path{
			hdkeychain.HardenedKeyStart + 86,
			hdkeychain.HardenedKeyStart + 0,
			hdkeychain.HardenedKeyStart + 0,
		}
	case P2SH:
		return bip32.Path{
			hdkeychain.HardenedKeyStart + 45,
		}
	case P2SH_P2WSH:
		return bip32.Path{
			hdkeychain.HardenedKeyStart + 48,
			hdkeychain.HardenedKeyStart + 0,
			hdkeychain.HardenedKeyStart + 0,
			hdkeychain.HardenedKeyStart + 1,
		}
	case P2WSH:
		return bip32.Path{
			hdkeychain.HardenedKeyStart + 48,
			hdkeychain.HardenedKeyStart + 0,
			hdkeychain.HardenedKeyStart + 0,
			hdkeychain.HardenedKeyStart + 2,
		}
	}
	panic("unknown script")
}

// Encode the descriptor into bip380 format.
func (d *Descriptor) Encode() string {
	return d.encode(false)
}

// EncodeCompact is like Encode, but with key origins and
// the checksum omitted.
func (d *Descriptor) EncodeCompact() string {
	return d.encode(true)
}

// encode the descriptor into bip380 format. Key origins
// and the checksum are omitted if compact is true.
func (d *Descriptor) encode(compact bool) string {
	res := new(strings.Builder)
	parens := 1
	switch d.Script {
	case P2SH_P2WSH, P2SH_P2WPKH:
		res.WriteString("sh(")
		parens++
	}
	var script string
	switch d.Script {
	case P2SH:
		script = "sh"
	case P2PKH:
		script = "pkh"
	case P2WSH, P2SH_P2WSH:
		script = "wsh"
	case P2WPKH, P2SH_P2WPKH:
		script = "wpkh"
	case P2TR:
		script = "tr"
	default:
		panic("unknown script")
	}
	res.WriteString(script)
	res.WriteByte('(')
	switch d.Type {
	case SortedMulti:
		res.WriteString("sortedmulti(")
		res.WriteString(strconv.Itoa(d.Threshold))
		res.WriteString(",")
		parens++
	case Multi:
		res.WriteString("multi(")
		res.WriteString(strconv.Itoa(d.Threshold))
		res.WriteString(",")
		parens++
	}
	for i, k := range d.Keys {
		if mfp := k.MasterFingerprint; !compact && mfp != 0 {
			res.WriteByte('[')
			fmt.Fprintf(res, "%.8x", mfp)
			res.WriteString(k.DerivationPath.Encode())
			res.WriteByte(']')
		}
		res.WriteString(k.String())
		for _, d := range k.Children {
			res.WriteString(d.Encode())
		}
		if i < len(d.Keys)-1 {
			res.WriteByte(',')
		}
	}
	for range parens {
		res.WriteByte(')')
	}
	s := res.String()
	if !compact {
		sum, err := checksum(s)
		if err != nil {
			panic("impossible by construction")
		}
		s = s + "#" + sum
	}
	return s
}

func (d Derivation) Encode() string {
	res := new(strings.Builder)
	res.WriteByte('/')
	switch d.Type {
	case ChildDerivation:
		res.WriteString(strconv.Itoa(int(d.Index)))
	case WildcardDerivation:
		res.WriteByte('*')
	case RangeDerivation:
		res.WriteByte('<')
		res.WriteString(strconv.Itoa(int(d.Index)))
		res.WriteByte(';')
		res.WriteString(strconv.Itoa(int(d.End)))
		res.WriteByte('>')
	default:
		panic("invalid derivation")
	}
	if d.Hardened {
		res.WriteByte('h')
	}
	return res.String()
}

// resolve turns d into a concrete, hardening-adjusted BIP-32 child index
// at the given derivation position, substituting pos for a wildcard.
// RangeDerivation has no single resolution and is rejected.
func (d Derivation) resolve(pos uint32) (uint32, error) {
	var idx uint32
	switch d.Type {
	case ChildDerivation:
		idx = d.Index
	case WildcardDerivation:
		idx = pos
	default:
		return 0, fmt.Errorf("%w: cannot expand a range derivation at a single position", ErrUnsupportedForm)
	}
	if d.Hardened {
		idx += hdkeychain.HardenedKeyStart
	}
	return idx, nil
}

// DerivePubkeyAt returns the compressed public key k resolves to at the
// given position, walking k.Children with any wildcard replaced by pos.
// A raw (non-extended) key has nothing to derive and is returned verbatim.
func (k Key) DerivePubkeyAt(pos uint32) ([]byte, error) {
	if k.Raw {
		return k.KeyData, nil
	}
	xpub := k.ExtendedKey()
	var path bip32.Path
	for _, c := range k.Children {
		idx, err := c.resolve(pos)
		if err != nil {
			return nil, err
		}
		path = append(path, idx)
	}
	child := xpub
	if len(path) > 0 {
		var err error
		child, err = bip32.DerivePubPath(xpub, path)
		if err != nil {
			return nil, err
		}
	}
	pub, err := child.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("bip380: deriving public key: %w", err)
	}
	return pub.SerializeCompressed(), nil
}

// Expand computes the output script implied by d at derivation position
// pos. It is only implemented for multisig descriptors; for a singlesig
// descriptor it returns ErrUnsupportedForm.
func (d *Descriptor) Expand(pos uint32) ([]byte, error) {
	switch d.Type {
	case Multi, SortedMulti:
		return d.expandMultisig(pos)
	default:
		return nil, fmt.Errorf("%w: Expand is only implemented for multisig descriptors", ErrUnsupportedForm)
	}
}

func (d *Descriptor) expandMultisig(pos uint32) ([]byte, error) {
	if d.Threshold < 1 || d.Threshold > len(d.Keys) || len(d.Keys) > 16 {
		return nil, fmt.Errorf("%w: threshold %d invalid for %d keys", ErrUnsupportedForm, d.Threshold, len(d.Keys))
	}
	pubkeys := make([][]byte, len(d.Keys))
	for i, k := range d.Keys {
		pk, err := k.DerivePubkeyAt(pos)
		if err != nil {
			return nil, err
		}
		pubkeys[i] = pk
	}
	if d.Type == SortedMulti {
		sort.Slice(pubkeys, func(i, j int) bool {
			return bytes.Compare(pubkeys[i], pubkeys[j]) < 0
		})
	}
	script := []byte{opN(d.Threshold)}
	for _, pk := range pubkeys {
		script = append(script, byte(len(pk)))
		script = append(script, pk...)
	}
	script = append(script, opN(len(d.Keys)), 0xae) // OP_CHECKMULTISIG
	return script, nil
}

// opN encodes a small integer as the corresponding OP_0/OP_1..OP_16
// opcode, as used for multisig threshold and key-count operands.
func opN(n int) byte {
	if n == 0 {
		return 0x00
	}
	return byte(0x50 + n)
}

// Parse a descriptor in textual form, as described in
// https://github.com/bitcoin/bitcoin/blob/master/doc/descriptors.md.
func Parse(desc string) (*Descriptor, error) {
	desc, checksum, ok := strings.Cut(desc, "#")
	if ok {
		if err := validChecksum(desc, checksum); err != nil {
			return nil, err
		}
	}
	// Chop off checksum, if any.
	if start := len(desc) - 9; start >= 0 && desc[start] == '#' {
		desc = desc[:start]
	}
	parseFunc := func() (string, error) {
		for i, r := range desc {
			if r == '(' {
				f := desc[:i]
				if desc[len(desc)-1] != ')' {
					return "", fmt.Errorf("%w: missing ')'", ErrUnsupportedForm)
				}
				desc = desc[i+1 : len(desc)-1]
				return f, nil
			}
		}
		return "", fmt.Errorf("%w: missing '('", ErrUnsupportedForm)
	}
	script, err := parseFunc()
	if err != nil {
		return nil, fmt.Errorf("bip380: script: %w", err)
	}
	r := &Descriptor{
		Threshold: 1,
	}
	switch script {
	case "wsh":
		r.Script = P2WSH
	case "pkh":
		r.Script = P2PKH
	case "sh":
		r.Script = P2SH
	case "wpkh":
		r.Script = P2WPKH
	case "tr":
		r.Script = P2TR
	default:
		return nil, fmt.Errorf("bip380: %w: unknown script type: %q", ErrUnsupportedForm, script)
	}
	if script2, err := parseFunc(); err == nil {
		switch script2 {
		case "wpkh", "wsh":
			if r.Script != P2SH {
				return nil, fmt.Errorf("bip380: %w: invalid wrapped script type: %q", ErrUnsupportedForm, script2)
			}
			if r.Script != P2SH {
				return nil, fmt.Errorf("bip380: %w: invalid wrapped script type: %q", ErrUnsupportedForm, script2)
			}
			switch script2 {
			case "wpkh":
				r.Script = P2SH_P2WPKH
			case "wsh":
				r.Script = P2SH_P2WSH
			default:
				return nil, fmt.Errorf("bip380: %w: unknown script type: %q", ErrUnsupportedForm, script2)
			}
			script2, err = parseFunc()
		}
		if err == nil {
			switch script2 {
			case "sortedmulti":
				r.Type = SortedMulti
			case "multi":
				r.Type = Multi
			default:
				return nil, fmt.Errorf("bip380: %w: unknown script type: %q", ErrUnsupportedForm, script2)
			}
		}
	}
	var keys []string
	switch r.Type {
	case Singlesig:
		keys = []string{desc}
	case Multi, SortedMulti:
		args := strings.Split(desc, ",")
		threshold, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("bip380: %w: invalid multikey threshold: %q", ErrUnsupportedForm, desc)
		}
		r.Threshold = threshold
		keys = args[1:]
		if r.Threshold < 1 || r.Threshold > len(keys) || len(keys) > 16 {
			return nil, fmt.Errorf("%w: threshold %d invalid for %d keys", ErrUnsupportedForm, r.Threshold, len(keys))
		}
	}
	for _, k := range keys {
		key, err := ParseKey(r.Script.DerivationPath(), []byte(k))
		if err != nil {
			return nil, err
		}
		r.Keys = append(r.Keys, key)
	}
	return r, nil
}

// ParseBareKey parses a singlesig descriptor given only an extended key
// (optionally preceded by a [mfp/path] origin), with the script type
// inferred from the key's SLIP-132 version the same way ParseKey falls
// back when no origin path is given. It supports importing extended
// keys that were not wrapped in a descriptor function string.
func ParseBareKey(enc []byte) (*Descriptor, error) {
	k := string(enc)
	if len(k) > 0 && k[0] == '[' {
		if end := strings.Index(k, "]"); end != -1 {
			k = k[end+1:]
		}
	}
	if end := strings.Index(k, "/"); end != -1 {
		k = k[:end]
	}
	script, _, err := ParseExtendedKey(k)
	if err != nil {
		return nil, err
	}
	key, err := ParseKey(script.DerivationPath(), enc)
	if err != nil {
		return nil, err
	}
	return &Descriptor{
		Script:    script,
		Threshold: 1,
		Keys:      []Key{key},
	}, nil
}

// ParseKey parses an extended key on the form [mfp/path]key.
func ParseKey(impliedPath bip32.Path, enc []byte) (Key, error) {
	k := string(enc)
	key := Key{
		DerivationPath: impliedPath,
	}
	if len(k) > 0 && k[0] == '[' {
		end := strings.Index(k, "]")
		if end == -1 {
			return Key{}, fmt.Errorf("%w: missing ']': %q", ErrBadPath, k)
		}
		origin, err := bip32.ParseKeyOrigin(k[1:end])
		if err != nil {
			return Key{}, fmt.Errorf("%w: invalid key origin %q: %w", ErrBadPath, k[1:end], err)
		}
		k = k[end+1:]
		key.MasterFingerprint = origin.Fingerprint
		key.DerivationPath = origin.Path
	}
	if xpubEnd := strings.Index(k, "/"); xpubEnd != -1 {
		children := k[xpubEnd+1:]
		k = k[:xpubEnd]
		childPath, err := parsePath(children)
		if err != nil {
			return Key{}, fmt.Errorf("%w: invalid children path: %q: %w", ErrBadPath, children, err)
		}
		key.Children = childPath
	}
	if raw, rerr := parseHexPubkey(k); rerr == nil {
		key.KeyData = raw
		key.Raw = true
		return key, nil
	}
	script, xpub, err := ParseExtendedKey(k)
	if err != nil {
		return Key{}, err
	}
	if key.DerivationPath == nil {
		// This is a key with no implicit or explicit derivation path, fall back
		// to deriving the path from the SLIP-132 version. We support only the
		// common ones, because ideally the derivation path should always be provided.
		key.DerivationPath = script.DerivationPath()
	}
	pub, err := xpub.ECPubKey()
	if err != nil {
		return Key{}, fmt.Errorf("hdkey: invalid public key: %q", k)
	}
	network, err := bip32.NetworkFor(xpub)
	if err != nil {
		return Key{}, fmt.Errorf("hdkey: invalid network: %q", k)
	}
	key.Network = network
	key.ChainCode = xpub.ChainCode()
	key.KeyData = pub.SerializeCompressed()
	key.ParentFingerprint = xpub.ParentFingerprint()
	return key, nil
}

// ParseExtendedKey parses an extended key, along with its implied script type. It returns
// normalized xpubs where the version bytes matches a network.
func ParseExtendedKey(k string) (Script, *hdkeychain.ExtendedKey, error) {
	xpub, err := hdkeychain.NewKeyFromString(k)
	if err != nil {
		return 0, nil, fmt.Errorf("hdkey: invalid extended key: %q", k)
	}
	const (
		xpubVer = "0488b21e"
		zpubVer = "04b24746"
		ypubVer = "049d7cb2"
		YpubVer = "0295b43f"
		ZpubVer = "02aa7ed3"

		tpubVer = "043587cf"
	)
	version := hex.EncodeToString(xpub.Version())
	var script Script
	switch version {
	case xpubVer, tpubVer:
		script = P2PKH
	case zpubVer:
		script = P2WPKH
	case YpubVer:
		script = P2SH_P2WSH
	case ZpubVer:
		script = P2WSH
	default:
		return 0, nil, fmt.Errorf("hdkey: unsupported version: %s", version)
	}
	// Now we have a derivation path, normalize the version bytes to xpub.
	switch version {
	case zpubVer, ypubVer, YpubVer, ZpubVer:
		xpub.SetNet(&chaincfg.MainNetParams)
	case tpubVer:
		xpub.SetNet(&chaincfg.TestNet3Params)
	}
	return script, xpub, nil
}

// parseHexPubkey parses a hex-encoded compressed public key, the
// non-extended key token form allowed by BIP-380's keytoken grammar.
func parseHexPubkey(k string) ([]byte, error) {
	if len(k) != 66 {
		return nil, fmt.Errorf("hdkey: not a hex public key: %q", k)
	}
	b, err := hex.DecodeString(k)
	if err != nil {
		return nil, fmt.Errorf("hdkey: invalid hex public key: %q", k)
	}
	if _, err := btcec.ParsePubKey(b); err != nil {
		return nil, fmt.Errorf("hdkey: invalid public key: %q", k)
	}
	return b, nil
}

func parsePath(path string) ([]Derivation, error) {
	var res []Derivation
	for _, p := range strings.Split(path, "/") {
		var d Derivation
		switch {
		case p == "*":
			d = Derivation{Type: WildcardDerivation}
		case p == "*'" || p == "*h":
			d = Derivation{Type: WildcardDerivation, Hardened: true}
		case len(p) > 2 && p[0] == '<' && p[len(p)-1] == '>':
			starts, ends, ok := strings.Cut(p[1:len(p)-1], ";")
			if !ok {
				return nil, fmt.Errorf("%w: invalid range path element: %q", ErrBadPath, p)
			}
			start, err := bip32.ParsePathElement(starts)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrBadPath, err)
			}
			end, err := bip32.ParsePathElement(ends)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrBadPath, err)
			}
			// Assume for now that ranges can't be hardened.
			if start > end || start >= hdkeychain.HardenedKeyStart || end >= hdkeychain.HardenedKeyStart {
				return nil, fmt.Errorf("%w: invalid range path element: %q", ErrBadPath, p)
			}
			d = Derivation{
				Type:  RangeDerivation,
				Index: start,
				End:   end,
			}
		default:
			e, err := bip32.ParsePathElement(p)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrBadPath, err)
			}
			d = Derivation{
				Type:  ChildDerivation,
				Index: e,
			}
			if d.Index >= hdkeychain.HardenedKeyStart {
				d.Index -= hdkeychain.HardenedKeyStart
				d.Hardened = true
			}
		}
		res = append(res, d)
	}
	return res, nil
}
