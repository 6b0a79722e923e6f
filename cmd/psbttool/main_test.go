package main

import (
	"bytes"
	"strings"
	"testing"
)

func exec(t *testing.T, stdin []byte, cmdline string) []byte {
	t.Helper()
	args := strings.Fields(cmdline)
	var out bytes.Buffer
	if err := run(&out, bytes.NewReader(stdin), args); err != nil {
		t.Fatal(err)
	}
	return out.Bytes()
}

func TestDescriptorCanonicalizes(t *testing.T) {
	const in = "wpkh(xpub6DiYrfRwNnjeX4vHsWMajJVFKrbEEnu8gAW9vDuQzgTWEsEHE16sGWeXXUV1LBWQE1yCTmeprSNcqZ3W74hqVdgDbtYHUv3eM4W2TEUhpan)"
	out := exec(t, []byte(in), "descriptor")
	got := strings.TrimSpace(string(out))
	if !strings.HasPrefix(got, in+"#") {
		t.Errorf("got %q, want a checksum-suffixed %q", got, in)
	}
}

func TestChecksumVerify(t *testing.T) {
	const in = "wpkh(xpub6DiYrfRwNnjeX4vHsWMajJVFKrbEEnu8gAW9vDuQzgTWEsEHE16sGWeXXUV1LBWQE1yCTmeprSNcqZ3W74hqVdgDbtYHUv3eM4W2TEUhpan)"
	withSum := strings.TrimSpace(string(exec(t, []byte(in), "checksum")))
	out := strings.TrimSpace(string(exec(t, []byte(withSum), "checksum -verify")))
	if out != "ok" {
		t.Errorf("checksum -verify on a freshly computed checksum reported %q", out)
	}
}

func TestExpandMultisig(t *testing.T) {
	const in = "wsh(sortedmulti(2," +
		"xpub6DiYrfRwNnjeX4vHsWMajJVFKrbEEnu8gAW9vDuQzgTWEsEHE16sGWeXXUV1LBWQE1yCTmeprSNcqZ3W74hqVdgDbtYHUv3eM4W2TEUhpan," +
		"xpub6DnT4E1fT8VxuAZW29avMjr5i99aYTHBp9d7fiLnpL5t4JEprQqPMbTw7k7rh5tZZ2F5g8PJpssqrZoebzBChaiJrmEvWwUTEMAbHsY39Ge))"
	out := strings.TrimSpace(string(exec(t, []byte(in), "expand -pos 0")))
	if out == "" || !strings.HasPrefix(out, "52") {
		t.Errorf("expand printed %q, want a hex script starting with OP_2 (52)", out)
	}
}
