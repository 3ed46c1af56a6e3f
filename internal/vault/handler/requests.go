package handler

import (
	"strings"
	"time"

	"vigil/internal/sharing"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

const maxPartyCount = 32

// CreateVaultRequest is the body of POST /vaults.
type CreateVaultRequest struct {
	SubjectID       string   `json:"subject_id,omitempty"`
	Beneficiaries   []string `json:"beneficiaries"`
	Guardians       []string `json:"guardians"`
	MetadataURI     string   `json:"metadata_uri"`
	SecretDigest    string   `json:"secret_digest,omitempty"`
	Scheme          string   `json:"scheme,omitempty"`
	CheckInInterval string   `json:"check_in_interval"`
	GracePeriod     string   `json:"grace_period"`

	// Parsed values (populated by Validate)
	subject       id.SubjectID
	beneficiaries []id.UserID
	guardians     []id.UserID
	interval      time.Duration
	grace         time.Duration
}

func (r *CreateVaultRequest) Normalize() {
	r.SubjectID = strings.TrimSpace(r.SubjectID)
	r.MetadataURI = strings.TrimSpace(r.MetadataURI)
	r.SecretDigest = strings.TrimSpace(r.SecretDigest)
	r.Scheme = strings.ToLower(strings.TrimSpace(r.Scheme))
	r.CheckInInterval = strings.TrimSpace(r.CheckInInterval)
	r.GracePeriod = strings.TrimSpace(r.GracePeriod)
}

// Validate parses identifiers and durations. Party rules (three guardians,
// disjoint roles) are enforced by the vault itself.
func (r *CreateVaultRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Beneficiaries) > maxPartyCount || len(r.Guardians) > maxPartyCount {
		return dErrors.New(dErrors.CodeValidation, "too many parties")
	}
	if r.MetadataURI == "" {
		return dErrors.New(dErrors.CodeValidation, "metadata_uri is required")
	}
	if r.SubjectID != "" {
		subject, err := id.ParseSubjectID(r.SubjectID)
		if err != nil {
			return err
		}
		r.subject = subject
	}
	var err error
	if r.beneficiaries, err = parseUsers(r.Beneficiaries); err != nil {
		return err
	}
	if r.guardians, err = parseUsers(r.Guardians); err != nil {
		return err
	}
	if r.interval, err = parsePositive("check_in_interval", r.CheckInInterval); err != nil {
		return err
	}
	if r.grace, err = parsePositive("grace_period", r.GracePeriod); err != nil {
		return err
	}
	if r.SecretDigest != "" && !sharing.IsDigest(r.SecretDigest) {
		return dErrors.New(dErrors.CodeValidation, "secret_digest must be blake3:<hex>")
	}
	if r.Scheme != "" {
		if _, err := sharing.ParseScheme(r.Scheme); err != nil {
			return dErrors.New(dErrors.CodeValidation, "scheme must look like 2of3")
		}
	}
	return nil
}

func parseUsers(raw []string) ([]id.UserID, error) {
	out := make([]id.UserID, 0, len(raw))
	for _, s := range raw {
		u, err := id.ParseUserID(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func parsePositive(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, dErrors.New(dErrors.CodeValidation, field+" is required")
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, dErrors.New(dErrors.CodeValidation, field+" must be a positive duration such as 720h")
	}
	return d, nil
}

// VerifyDeathRequest is the body of POST /vaults/{id}/verification.
type VerifyDeathRequest struct {
	SubjectID string `json:"subject_id"`

	subject id.SubjectID
}

func (r *VerifyDeathRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	subject, err := id.ParseSubjectID(strings.TrimSpace(r.SubjectID))
	if err != nil {
		return err
	}
	r.subject = subject
	return nil
}
