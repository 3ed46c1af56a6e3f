package sharing

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	dErrors "vigil/pkg/domain-errors"
)

// Encode renders a share as text: "<k>of<n>-<index>-<hex>" when tagged,
// "<index>-<hex>" otherwise.
func Encode(s Share) string {
	body := fmt.Sprintf("%d-%s", s.Index, hex.EncodeToString(s.Payload))
	if s.Tagged() {
		return s.Scheme.String() + "-" + body
	}
	return body
}

// Parse reads the text form produced by Encode.
func Parse(text string) (Share, error) {
	parts := strings.Split(strings.TrimSpace(text), "-")
	var (
		scheme Scheme
		err    error
	)
	switch len(parts) {
	case 2:
	case 3:
		scheme, err = ParseScheme(parts[0])
		if err != nil {
			return Share{}, err
		}
		parts = parts[1:]
	default:
		return Share{}, invalidFormat("expected <index>-<hex> or <k>of<n>-<index>-<hex>")
	}

	idx, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil || idx == 0 {
		return Share{}, invalidFormat("share index must be 1..255")
	}
	payload, err := hex.DecodeString(parts[1])
	if err != nil || len(payload) == 0 {
		return Share{}, invalidFormat("share payload must be non-empty hex")
	}
	if !scheme.IsZero() && int(idx) > scheme.N {
		return Share{}, invalidFormat(fmt.Sprintf("share index %d out of range for %s", idx, scheme))
	}
	return Share{Index: byte(idx), Payload: payload, Scheme: scheme}, nil
}

// ParseAll parses every line, failing on the first malformed share.
func ParseAll(lines []string) ([]Share, error) {
	shares := make([]Share, 0, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		s, err := Parse(line)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidShareFormat, fmt.Sprintf("share %d", i+1))
		}
		shares = append(shares, s)
	}
	return shares, nil
}

// ParseScheme reads "<k>of<n>".
func ParseScheme(text string) (Scheme, error) {
	k, n, ok := strings.Cut(strings.ToLower(text), "of")
	if !ok {
		return Scheme{}, invalidFormat("scheme must look like 2of3")
	}
	kv, errK := strconv.Atoi(k)
	nv, errN := strconv.Atoi(n)
	if errK != nil || errN != nil {
		return Scheme{}, invalidFormat("scheme must look like 2of3")
	}
	s := Scheme{K: kv, N: nv}
	if err := s.Validate(); err != nil {
		return Scheme{}, invalidFormat(err.Error())
	}
	return s, nil
}

func invalidFormat(msg string) error {
	return dErrors.New(dErrors.CodeInvalidShareFormat, msg)
}
