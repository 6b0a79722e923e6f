// package nonstandard implements import of non-standard serializations of
// output descriptors (BlueWallet/Nunchuk multisig setup files, bare JSON
// wrappers) and helpers for non-standard wallet conventions such as
// Electrum seed phrases and animated-QR multi-part framing.
package nonstandard

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"

	"hwcore.dev/hwcore/bip32"
	"hwcore.dev/hwcore/bip380"
)

// ElectrumSeed reports whether the seed phrase is a valid Electrum
// seed.
func ElectrumSeed(phrase string) bool {
	// Compute version number.
	// From https://electrum.readthedocs.io/en/latest/seedphrase.html#version-number
	mac := hmac.New(sha512.New, []byte("Seed version"))
	mac.Write([]byte(phrase))
	hsum := hex.EncodeToString(mac.Sum(nil))
	switch {
	case strings.HasPrefix(hsum, "01"), strings.HasPrefix(hsum, "100"), strings.HasPrefix(hsum, "101"):
		return true
	}
	return false
}

// ParseDescriptor imports an output descriptor from enc, trying in turn a
// BlueWallet/Nunchuk multisig setup file, a BIP-380 descriptor string, a
// bare extended key with no wrapping function, and a {"descriptor": "..."}
// JSON wrapper.
func ParseDescriptor(enc []byte) (*bip380.Descriptor, error) {
	header, _, _ := bytes.Cut(enc, []byte("\n"))
	if bytes.HasPrefix(header, []byte("# ")) && (bytes.Contains(header, []byte("Multisig setup file")) || bytes.Contains(header, []byte("Exported from Nunchuk"))) {
		return parseBlueWalletDescriptor(string(enc))
	}
	desc, err := bip380.Parse(string(enc))
	if err == nil {
		return desc, nil
	}
	if bare, berr := bip380.ParseBareKey(enc); berr == nil {
		return bare, nil
	}
	var jsonDesc struct {
		Descriptor string `json:"descriptor"`
	}
	if jerr := json.Unmarshal(enc, &jsonDesc); jerr == nil {
		return bip380.Parse(jsonDesc.Descriptor)
	}
	return nil, fmt.Errorf("nonstandard: unrecognized output descriptor format: %w", err)
}

func parseBlueWalletDescriptor(txt string) (*bip380.Descriptor, error) {
	lines := strings.Split(txt, "\n")
	desc := &bip380.Descriptor{
		Type: bip380.SortedMulti,
	}
	var nkeys int
	var path bip32.Path
	seenKeys := make(map[string]string)
	for len(lines) > 0 {
		l := strings.TrimSpace(lines[0])
		lines = lines[1:]
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		header := strings.SplitN(l, ": ", 2)
		if len(header) != 2 {
			return nil, fmt.Errorf("bluewallet: invalid header: %q", l)
		}
		key, val := header[0], header[1]
		if old, seen := seenKeys[key]; seen {
			if old != val {
				return nil, fmt.Errorf("bluewallet: inconsistent header value %q", key)
			}
			continue
		}
		seenKeys[key] = val
		switch key {
		case "Name":
			desc.Title = val
		case "Policy":
			if _, err := fmt.Sscanf(val, "%d of %d", &desc.Threshold, &nkeys); err != nil {
				return nil, fmt.Errorf("bluewallet: invalid Policy header: %q", val)
			}
		case "Derivation":
			if !strings.HasPrefix(val, "m/") {
				return nil, fmt.Errorf("bluewallet: invalid derivation: %q", val)
			}
			p, err := bip32.ParsePath(val)
			if err != nil {
				return nil, fmt.Errorf("bluewallet: invalid derivation: %q", val)
			}
			path = p
		case "Format":
			switch val {
			case "P2WSH":
				desc.Script = bip380.P2WSH
			case "P2SH":
				desc.Script = bip380.P2SH
			case "P2WSH-P2SH":
				desc.Script = bip380.P2SH_P2WSH
			default:
				return nil, fmt.Errorf("bluewallet: unknown format %q", val)
			}
		default:
			xpub, err := hdkeychain.NewKeyFromString(val)
			if err != nil {
				return nil, fmt.Errorf("bluewallet: invalid xpub: %q", val)
			}
			pub, err := xpub.ECPubKey()
			if err != nil {
				return nil, fmt.Errorf("bluewallet: invalid xpub: %q: %v", xpub, err)
			}
			fp, err := hex.DecodeString(key)
			if err != nil || len(fp) > 4 {
				return nil, fmt.Errorf("bluewallet: invalid fingerprint: %q", key)
			}
			network, err := bip32.NetworkFor(xpub)
			if err != nil {
				return nil, fmt.Errorf("bluewallet: unknown network: %q", key)
			}
			desc.Keys = append(desc.Keys, bip380.Key{
				Network:           network,
				MasterFingerprint: binary.BigEndian.Uint32(fp),
				DerivationPath:    path,
				KeyData:           pub.SerializeCompressed(),
				ChainCode:         xpub.ChainCode(),
				ParentFingerprint: xpub.ParentFingerprint(),
			})
		}
	}
	if nkeys != len(desc.Keys) {
		return nil, fmt.Errorf("bluewallet: expected %d keys, but got %d", nkeys, len(desc.Keys))
	}
	return desc, nil
}

// PartReassembler reassembles a message split across animated-QR parts
// framed as "pMofN <payload>".
type PartReassembler struct {
	parts [][]byte
}

func (d *PartReassembler) Add(part string) error {
	header, rem, ok := strings.Cut(part, " ")
	if !ok {
		return fmt.Errorf("nonstandard: invalid animated QR part: %q", part)
	}
	var m, n int
	if _, err := fmt.Sscanf(header, "p%dof%d", &m, &n); err != nil {
		return fmt.Errorf("nonstandard: invalid animated QR part: %q", part)
	}
	if m < 1 || m > n {
		return fmt.Errorf("nonstandard: invalid animated QR part: %q", part)
	}
	if n != len(d.parts) {
		d.parts = make([][]byte, n)
	}
	if d.parts[m-1] == nil {
		d.parts[m-1] = []byte(rem)
	}
	return nil
}

func (d *PartReassembler) Progress() float32 {
	if len(d.parts) == 0 {
		return 0
	}
	n := 0
	for _, p := range d.parts {
		if p != nil {
			n++
		}
	}
	return float32(n) / float32(len(d.parts))
}

func (d *PartReassembler) Result() []byte {
	var res []byte
	for _, p := range d.parts {
		if p == nil {
			return nil
		}
		res = append(res, p...)
	}
	return res
}
