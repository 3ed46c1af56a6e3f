package domain

import dErrors "vigil/pkg/domain-errors"

// EvidenceSource identifies where a death signal came from.
// Invariant: the value must be one of the supported sources.
//
// Construct via ParseEvidenceSource at trust boundaries; direct casting
// bypasses the allowlist.
type EvidenceSource string

const (
	EvidenceSourceRegistry    EvidenceSource = "registry"
	EvidenceSourceObituary    EvidenceSource = "obituary"
	EvidenceSourceCertificate EvidenceSource = "certificate"
	EvidenceSourceManual      EvidenceSource = "manual"
)

var validEvidenceSources = map[EvidenceSource]bool{
	EvidenceSourceRegistry:    true,
	EvidenceSourceObituary:    true,
	EvidenceSourceCertificate: true,
	EvidenceSourceManual:      true,
}

// ParseEvidenceSource returns CodeInvalidInput when the value is empty or unsupported.
func ParseEvidenceSource(s string) (EvidenceSource, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "source cannot be empty")
	}
	src := EvidenceSource(s)
	if !src.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid source")
	}
	return src, nil
}

func (s EvidenceSource) IsValid() bool {
	return validEvidenceSources[s]
}

// IsCertificate reports whether the source carries documentary proof of death.
func (s EvidenceSource) IsCertificate() bool {
	return s == EvidenceSourceCertificate
}

func (s EvidenceSource) String() string {
	return string(s)
}
