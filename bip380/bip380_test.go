package bip380

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

const sortedMultiDesc = "wsh(sortedmulti(2,[dc567276/48h/0h/0h/2h]xpub6DiYrfRwNnjeX4vHsWMajJVFKrbEEnu8gAW9vDuQzgTWEsEHE16sGWeXXUV1LBWQE1yCTmeprSNcqZ3W74hqVdgDbtYHUv3eM4W2TEUhpan/0/*,[f245ae38/48h/0h/0h/2h]xpub6DnT4E1fT8VxuAZW29avMjr5i99aYTHBp9d7fiLnpL5t4JEprQqPMbTw7k7rh5tZZ2F5g8PJpssqrZoebzBChaiJrmEvWwUTEMAbHsY39Ge/0/*,[c5d87297/48h/0h/0h/2h]xpub6DjrnfAyuonMaboEb3ZQZzhQ2ZEgaKV2r64BFmqymZqJqviLTe1JzMr2X2RfQF892RH7MyYUbcy77R7pPu1P71xoj8cDUMNhAMGYzKR4noZ/0/*))#hfwurrvt"

func TestParseEncodeRoundTrip(t *testing.T) {
	d, err := Parse(sortedMultiDesc)
	if err != nil {
		t.Fatal(err)
	}
	if got := d.Encode(); got != sortedMultiDesc {
		t.Errorf("re-encoded descriptor\n%s\nwant\n%s", got, sortedMultiDesc)
	}
}

func TestParseRejectsBadChecksum(t *testing.T) {
	tampered := sortedMultiDesc[:len(sortedMultiDesc)-1] + "x"
	if _, err := Parse(tampered); !errors.Is(err, ErrBadChecksum) {
		t.Fatalf("got error %v, want ErrBadChecksum", err)
	}
}

func TestSinglesigRoundTrip(t *testing.T) {
	const desc = "sh(wpkh(xpub6DiYrfRwNnjeX4vHsWMajJVFKrbEEnu8gAW9vDuQzgTWEsEHE16sGWeXXUV1LBWQE1yCTmeprSNcqZ3W74hqVdgDbtYHUv3eM4W2TEUhpan))"
	d, err := Parse(desc)
	if err != nil {
		t.Fatal(err)
	}
	if d.Script != P2SH_P2WPKH {
		t.Fatalf("got script %v, want P2SH_P2WPKH", d.Script)
	}
	sum, err := checksum(desc)
	if err != nil {
		t.Fatalf("checksum rejected a valid descriptor string: %v", err)
	}
	if got := d.Encode(); got != desc+"#"+sum {
		t.Errorf("re-encoded descriptor\n%s\nwant\n%s#%s", got, desc, sum)
	}
	if got := d.EncodeCompact(); got != desc {
		t.Errorf("compact encoding with no origins to drop should equal the plain descriptor: %s", got)
	}
}

func TestSortedMultiExpandSortsPubkeys(t *testing.T) {
	d, err := Parse(sortedMultiDesc)
	if err != nil {
		t.Fatal(err)
	}
	script, err := d.Expand(0)
	if err != nil {
		t.Fatal(err)
	}
	if script[0] != opN(2) {
		t.Errorf("script starts with %#x, want OP_2", script[0])
	}
	last := len(script) - 1
	if script[last] != 0xae {
		t.Errorf("script ends with %#x, want OP_CHECKMULTISIG", script[last])
	}
	if script[last-1] != opN(3) {
		t.Errorf("script has key count %#x, want OP_3", script[last-1])
	}
	var pubkeys [][]byte
	rest := script[1 : last-1]
	for len(rest) > 0 {
		n := int(rest[0])
		pubkeys = append(pubkeys, rest[1:1+n])
		rest = rest[1+n:]
	}
	if len(pubkeys) != 3 {
		t.Fatalf("got %d pubkeys, want 3", len(pubkeys))
	}
	for i := 1; i < len(pubkeys); i++ {
		if bytes.Compare(pubkeys[i-1], pubkeys[i]) >= 0 {
			t.Errorf("sortedmulti pubkeys not sorted: %x >= %x", pubkeys[i-1], pubkeys[i])
		}
	}
}

func TestMultiExpandPreservesKeyOrder(t *testing.T) {
	desc := "wsh(multi(2," +
		"xpub6DiYrfRwNnjeX4vHsWMajJVFKrbEEnu8gAW9vDuQzgTWEsEHE16sGWeXXUV1LBWQE1yCTmeprSNcqZ3W74hqVdgDbtYHUv3eM4W2TEUhpan," +
		"xpub6DnT4E1fT8VxuAZW29avMjr5i99aYTHBp9d7fiLnpL5t4JEprQqPMbTw7k7rh5tZZ2F5g8PJpssqrZoebzBChaiJrmEvWwUTEMAbHsY39Ge))"
	d, err := Parse(desc)
	if err != nil {
		t.Fatal(err)
	}
	if d.Type != Multi {
		t.Fatalf("got type %v, want Multi", d.Type)
	}
	script, err := d.Expand(0)
	if err != nil {
		t.Fatal(err)
	}
	want0, err := d.Keys[0].DerivePubkeyAt(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(script[2:2+len(want0)], want0) {
		t.Error("multi() expansion did not preserve the declared key order")
	}
}

func TestHexPubkeyMultisigExpand(t *testing.T) {
	const pk1 = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	const pk2 = "0250929b74c1a04954b78b4b6035e97a5e078a5a0f28ec96d547bfee9ace803ac0"
	d, err := Parse("wsh(multi(2," + pk1 + "," + pk2 + "))")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Keys[0].Raw || !d.Keys[1].Raw {
		t.Fatal("hex public key was not parsed as a raw key")
	}
	script, err := d.Expand(0)
	if err != nil {
		t.Fatal(err)
	}
	want1, _ := hex.DecodeString(pk1)
	want2, _ := hex.DecodeString(pk2)
	if !bytes.Equal(script[2:2+33], want1) {
		t.Error("first hex public key did not appear verbatim in the expanded script")
	}
	if !bytes.Equal(script[2+1+33:2+1+33+33], want2) {
		t.Error("second hex public key did not appear verbatim in the expanded script")
	}
}

func TestParseKeyRejectsHexPubkeyOfWrongLength(t *testing.T) {
	_, err := ParseKey(nil, []byte("02aabb"))
	if err == nil {
		t.Fatal("expected error for a too-short key token")
	}
}

func TestExpandNonMultisigUnsupported(t *testing.T) {
	d, err := Parse("wpkh(xpub6DiYrfRwNnjeX4vHsWMajJVFKrbEEnu8gAW9vDuQzgTWEsEHE16sGWeXXUV1LBWQE1yCTmeprSNcqZ3W74hqVdgDbtYHUv3eM4W2TEUhpan)")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Expand(0); !errors.Is(err, ErrUnsupportedForm) {
		t.Fatalf("got error %v, want ErrUnsupportedForm", err)
	}
}

func TestWildcardDerivationVariesByPosition(t *testing.T) {
	d, err := Parse(sortedMultiDesc)
	if err != nil {
		t.Fatal(err)
	}
	pk0, err := d.Keys[0].DerivePubkeyAt(0)
	if err != nil {
		t.Fatal(err)
	}
	pk1, err := d.Keys[0].DerivePubkeyAt(1)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(pk0, pk1) {
		t.Error("wildcard derivation at different positions produced the same pubkey")
	}
}

func TestRangeDerivationRejectedByExpand(t *testing.T) {
	key, err := ParseKey(nil, []byte("[dc567276/48h/0h/0h/2h]xpub6DiYrfRwNnjeX4vHsWMajJVFKrbEEnu8gAW9vDuQzgTWEsEHE16sGWeXXUV1LBWQE1yCTmeprSNcqZ3W74hqVdgDbtYHUv3eM4W2TEUhpan/<0;1>/*"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := key.DerivePubkeyAt(0); !errors.Is(err, ErrUnsupportedForm) {
		t.Fatalf("got error %v, want ErrUnsupportedForm", err)
	}
}

func TestParseKeyOrigin(t *testing.T) {
	key, err := ParseKey(nil, []byte("[dc567276/48h/0h/0h/2h]xpub6DiYrfRwNnjeX4vHsWMajJVFKrbEEnu8gAW9vDuQzgTWEsEHE16sGWeXXUV1LBWQE1yCTmeprSNcqZ3W74hqVdgDbtYHUv3eM4W2TEUhpan"))
	if err != nil {
		t.Fatal(err)
	}
	if key.MasterFingerprint != 0xdc567276 {
		t.Errorf("got fingerprint %#x, want 0xdc567276", key.MasterFingerprint)
	}
	want := []uint32{0x80000030, 0x80000000, 0x80000000, 0x80000002}
	if len(key.DerivationPath) != len(want) {
		t.Fatalf("got path %v, want %v", key.DerivationPath, want)
	}
	for i, e := range want {
		if key.DerivationPath[i] != e {
			t.Errorf("path element %d: got %#x, want %#x", i, key.DerivationPath[i], e)
		}
	}
}

func TestParseKeyRejectsBadOriginFingerprint(t *testing.T) {
	_, err := ParseKey(nil, []byte("[zzzzzzzz/48h/0h/0h/2h]xpub6DiYrfRwNnjeX4vHsWMajJVFKrbEEnu8gAW9vDuQzgTWEsEHE16sGWeXXUV1LBWQE1yCTmeprSNcqZ3W74hqVdgDbtYHUv3eM4W2TEUhpan"))
	if !errors.Is(err, ErrBadPath) {
		t.Fatalf("got error %v, want ErrBadPath", err)
	}
}

func TestParseRejectsBadChar(t *testing.T) {
	_, err := Parse("wpkh(é)#ssssssss")
	if !errors.Is(err, ErrBadChar) {
		t.Fatalf("got error %v, want ErrBadChar", err)
	}
}
