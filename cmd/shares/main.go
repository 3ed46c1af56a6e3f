// Command shares is the offline tool recovery participants use to split,
// combine, seal and open threshold shares. It never talks to the authority.
//
//	shares split -k 2 -n 3 < secret.bin
//	shares combine -digest blake3:... < shares.txt > secret.bin
//	shares keygen
//	shares seal -to <public hex> < share.txt
//	shares open -pub <public hex> -key <private hex> < envelope.txt
package main

import (
	"bufio"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"vigil/internal/sharing"
)

const maxSecretBytes = 1 << 20

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	cmds := map[string]func([]string, io.Reader, io.Writer, io.Writer) error{
		"split":   split,
		"combine": combine,
		"keygen":  keygen,
		"seal":    seal,
		"open":    open,
	}
	cmd, ok := cmds[args[0]]
	if !ok {
		usage(stderr)
		return 2
	}
	if err := cmd(args[1:], stdin, stdout, stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 2
		}
		fmt.Fprintf(stderr, "shares %s: %v\n", args[0], err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: shares <split|combine|keygen|seal|open> [flags]")
}

func split(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("split", flag.ContinueOnError)
	fs.SetOutput(stderr)
	k := fs.Int("k", sharing.SchemeDefault.K, "shares needed to reconstruct")
	n := fs.Int("n", sharing.SchemeDefault.N, "shares to produce")
	untagged := fs.Bool("untagged", false, "omit the scheme tag from each share")
	if err := fs.Parse(args); err != nil {
		return err
	}

	secret, err := io.ReadAll(io.LimitReader(stdin, maxSecretBytes+1))
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}
	if len(secret) > maxSecretBytes {
		return fmt.Errorf("secret larger than %d bytes", maxSecretBytes)
	}
	defer clear(secret)

	shares, err := sharing.Split(secret, *k, *n)
	if err != nil {
		return err
	}
	for _, s := range shares {
		if *untagged {
			s.Scheme = sharing.Scheme{}
		}
		fmt.Fprintln(stdout, sharing.Encode(s))
	}
	fmt.Fprintln(stderr, "digest:", sharing.Digest(secret))
	return nil
}

func combine(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("combine", flag.ContinueOnError)
	fs.SetOutput(stderr)
	digest := fs.String("digest", "", "integrity digest recorded with the vault")
	if err := fs.Parse(args); err != nil {
		return err
	}

	lines, err := readLines(stdin)
	if err != nil {
		return err
	}
	shares, err := sharing.ParseAll(lines)
	if err != nil {
		return err
	}
	secret, err := sharing.Combine(shares)
	if err != nil {
		return err
	}
	defer clear(secret)
	if *digest != "" && !sharing.VerifyDigest(secret, *digest) {
		return errors.New("reconstructed secret does not match digest")
	}
	_, err = stdout.Write(secret)
	return err
}

func keygen(args []string, _ io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	kp, err := sharing.GenerateKeyPair()
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, "public:", sharing.EncodeKey(kp.Public))
	fmt.Fprintln(stdout, "private:", sharing.EncodeKey(kp.Private))
	return nil
}

func seal(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("seal", flag.ContinueOnError)
	fs.SetOutput(stderr)
	to := fs.String("to", "", "recipient public key (hex)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	recipient, err := sharing.DecodeKey(*to)
	if err != nil {
		return err
	}
	lines, err := readLines(stdin)
	if err != nil {
		return err
	}
	if len(lines) != 1 {
		return fmt.Errorf("expected exactly one share, got %d", len(lines))
	}
	share, err := sharing.Parse(lines[0])
	if err != nil {
		return err
	}
	sealed, err := sharing.Seal(share, recipient)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hex.EncodeToString(sealed))
	return nil
}

func open(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("open", flag.ContinueOnError)
	fs.SetOutput(stderr)
	pub := fs.String("pub", "", "own public key (hex)")
	priv := fs.String("key", "", "own private key (hex)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var kp sharing.KeyPair
	var err error
	if kp.Public, err = sharing.DecodeKey(*pub); err != nil {
		return err
	}
	if kp.Private, err = sharing.DecodeKey(*priv); err != nil {
		return err
	}
	lines, err := readLines(stdin)
	if err != nil {
		return err
	}
	if len(lines) != 1 {
		return fmt.Errorf("expected exactly one envelope, got %d", len(lines))
	}
	sealed, err := hex.DecodeString(lines[0])
	if err != nil {
		return fmt.Errorf("envelope must be hex: %w", err)
	}
	share, err := sharing.Open(sealed, kp)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, sharing.Encode(share))
	return nil
}

// readLines returns the non-blank trimmed lines of r.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*maxSecretBytes)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return lines, nil
}
