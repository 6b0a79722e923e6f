// Command psbttool inspects and manipulates PSBTs and output descriptors
// from the command line.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"hwcore.dev/hwcore/bip380"
	"hwcore.dev/hwcore/nonstandard"
	"hwcore.dev/hwcore/psbt"
)

var (
	expandFlags = flag.NewFlagSet("expand", flag.ExitOnError)
	expandPos   = expandFlags.Uint("pos", 0, "derivation position substituted for a wildcard (*)")

	checksumFlags  = flag.NewFlagSet("checksum", flag.ExitOnError)
	checksumStrict = checksumFlags.Bool("verify", false, "verify the descriptor's own checksum instead of computing it")
)

func main() {
	if err := run(os.Stdout, os.Stdin, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "psbttool: %v\n", err)
		os.Exit(2)
	}
}

func run(stdout io.Writer, stdin io.Reader, args []string) error {
	if len(args) == 0 {
		return errors.New("missing command (decode, descriptor, expand, checksum)")
	}
	cmd := args[0]
	args = args[1:]
	switch cmd {
	case "decode":
		return decode(stdout, stdin)
	case "descriptor":
		return descriptor(stdout, stdin)
	case "expand":
		if err := expandFlags.Parse(args); err != nil {
			expandFlags.Usage()
		}
		return expand(stdout, stdin)
	case "checksum":
		if err := checksumFlags.Parse(args); err != nil {
			checksumFlags.Usage()
		}
		return checksumCmd(stdout, stdin)
	default:
		return fmt.Errorf("unknown command: %q", cmd)
	}
}

// decode reads a base64 PSBT from stdin and prints a one-line summary per
// input and output.
func decode(stdout io.Writer, stdin io.Reader) error {
	b, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	p, err := psbt.Decode(string(bytes.TrimSpace(b)))
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	fmt.Fprintf(stdout, "tx %s: %d input(s), %d output(s)\n", p.Global.UnsignedTx.TxHash(), len(p.Inputs), len(p.Outputs))
	for i, in := range p.Inputs {
		status := "unsigned"
		switch {
		case in.IsFinalized():
			status = "finalized"
		case len(in.PartialSigs) > 0:
			status = fmt.Sprintf("%d partial signature(s)", len(in.PartialSigs))
		}
		fmt.Fprintf(stdout, "  input %d: %s\n", i, status)
	}
	for i := range p.Outputs {
		value := p.Global.UnsignedTx.TxOut[i].Value
		fmt.Fprintf(stdout, "  output %d: %d sats\n", i, value)
	}
	return nil
}

// descriptor reads an output descriptor from stdin in any form
// nonstandard.ParseDescriptor accepts and prints its canonical BIP-380
// encoding.
func descriptor(stdout io.Writer, stdin io.Reader) error {
	b, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("descriptor: %w", err)
	}
	d, err := nonstandard.ParseDescriptor(b)
	if err != nil {
		return fmt.Errorf("descriptor: %w", err)
	}
	fmt.Fprintln(stdout, d.Encode())
	return nil
}

// expand reads a BIP-380 multisig descriptor from stdin and prints the
// hex-encoded output script at the given derivation position.
func expand(stdout io.Writer, stdin io.Reader) error {
	b, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("expand: %w", err)
	}
	d, err := bip380.Parse(string(bytes.TrimSpace(b)))
	if err != nil {
		return fmt.Errorf("expand: %w", err)
	}
	script, err := d.Expand(uint32(*expandPos))
	if err != nil {
		return fmt.Errorf("expand: %w", err)
	}
	fmt.Fprintln(stdout, hexString(script))
	return nil
}

// checksumCmd reads a descriptor (with or without its own "#checksum"
// suffix) from stdin and parses it, which checks an attached checksum.
// Without -verify, it prints the descriptor's canonical BIP-380 encoding
// with a freshly computed checksum. With -verify, it prints "ok" once the
// descriptor parses; a descriptor with no checksum also prints "ok".
func checksumCmd(stdout io.Writer, stdin io.Reader) error {
	b, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("checksum: %w", err)
	}
	s := string(bytes.TrimSpace(b))
	if *checksumStrict {
		if _, err := bip380.Parse(s); err != nil {
			return fmt.Errorf("checksum: %w", err)
		}
		fmt.Fprintln(stdout, "ok")
		return nil
	}
	d, err := bip380.Parse(s)
	if err != nil {
		return fmt.Errorf("checksum: %w", err)
	}
	fmt.Fprintln(stdout, d.Encode())
	return nil
}

func hexString(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[2*i] = hexDigits[c>>4]
		out[2*i+1] = hexDigits[c&0xf]
	}
	return string(out)
}
