package bip32

import (
	"reflect"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

func TestParsePathRoundTrip(t *testing.T) {
	const s = "m/84'/0'/0'/0/5"
	p, err := ParsePath(s)
	if err != nil {
		t.Fatal(err)
	}
	want := Path{
		hdkeychain.HardenedKeyStart + 84,
		hdkeychain.HardenedKeyStart + 0,
		hdkeychain.HardenedKeyStart + 0,
		0,
		5,
	}
	if !reflect.DeepEqual(p, want) {
		t.Fatalf("got %v, want %v", p, want)
	}
	if got := p.String(); got != "m/84h/0h/0h/0/5" {
		t.Errorf("got %q, want m/84h/0h/0h/0/5", got)
	}
	if got := p.Format('\''); got != "/84'/0'/0'/0/5" {
		t.Errorf("got %q, want /84'/0'/0'/0/5", got)
	}
}

func TestParsePathElementAcceptsAllHardenedMarkers(t *testing.T) {
	for _, marker := range []byte{'\'', 'h', 'H', 'p', 'P'} {
		s := "44" + string(marker)
		got, err := ParsePathElement(s)
		if err != nil {
			t.Fatalf("%q: %v", s, err)
		}
		if want := hdkeychain.HardenedKeyStart + 44; got != want {
			t.Errorf("%q: got %d, want %d", s, got, want)
		}
	}
}

func TestParsePathRejectsMissingPrefix(t *testing.T) {
	if _, err := ParsePath("84'/0'/0'"); err == nil {
		t.Fatal("expected error for path missing m/ prefix")
	}
}

func TestKeyOriginSerializeRoundTrip(t *testing.T) {
	k := KeyOriginInfo{
		Fingerprint: 0xdeadbeef,
		Path:        Path{hdkeychain.HardenedKeyStart + 84, hdkeychain.HardenedKeyStart, hdkeychain.HardenedKeyStart, 0, 0},
	}
	got, err := DeserializeKeyOrigin(k.Serialize())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, k) {
		t.Fatalf("got %+v, want %+v", got, k)
	}
}

func TestKeyOriginStringParseRoundTrip(t *testing.T) {
	k := KeyOriginInfo{
		Fingerprint: 0x4bbaa801,
		Path:        Path{hdkeychain.HardenedKeyStart + 84, hdkeychain.HardenedKeyStart, hdkeychain.HardenedKeyStart},
	}
	s := k.String()
	got, err := ParseKeyOrigin(s)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, k) {
		t.Fatalf("got %+v, want %+v", got, k)
	}
}

func TestDerivePubPathRejectsHardened(t *testing.T) {
	seed := make([]byte, 32)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	xpub, err := master.Neuter()
	if err != nil {
		t.Fatal(err)
	}
	_, err = DerivePubPath(xpub, Path{hdkeychain.HardenedKeyStart})
	if err != ErrHardenedFromPublic {
		t.Fatalf("got error %v, want ErrHardenedFromPublic", err)
	}
}
