package handler

import (
	"time"

	"vigil/internal/vault/models"
	"vigil/internal/vault/service"
	id "vigil/pkg/domain"
)

// VaultResponse is the JSON shape of a vault. Timestamps that do not apply
// to the current status are omitted.
type VaultResponse struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	SubjectID       string     `json:"subject_id"`
	Beneficiaries   []string   `json:"beneficiaries"`
	Guardians       []string   `json:"guardians"`
	MetadataURI     string     `json:"metadata_uri"`
	SecretDigest    string     `json:"secret_digest,omitempty"`
	Scheme          string     `json:"scheme,omitempty"`
	Status          string     `json:"status"`
	EffectiveStatus string     `json:"effective_status,omitempty"`
	CheckInInterval string     `json:"check_in_interval"`
	GracePeriod     string     `json:"grace_period"`
	LastCheckIn     time.Time  `json:"last_check_in"`
	CheckInChannel  string     `json:"check_in_channel"`
	Attestations    int        `json:"attestations"`
	TriggeredAt     *time.Time `json:"triggered_at,omitempty"`
	TriggerReason   string     `json:"trigger_reason,omitempty"`
	RevokeDeadline  *time.Time `json:"revoke_deadline,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	ClaimableAt     *time.Time `json:"claimable_at,omitempty"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func FromVault(v *models.Vault) *VaultResponse {
	resp := &VaultResponse{
		ID:              v.ID.String(),
		OwnerID:         v.OwnerID.String(),
		SubjectID:       v.SubjectID.String(),
		Beneficiaries:   userStrings(v.Beneficiaries),
		Guardians:       userStrings(v.Guardians),
		MetadataURI:     v.MetadataURI,
		SecretDigest:    v.SecretDigest,
		Scheme:          v.Scheme,
		Status:          string(v.Status),
		CheckInInterval: v.CheckInEvery.String(),
		GracePeriod:     v.GracePeriod.String(),
		LastCheckIn:     v.LastCheckIn,
		CheckInChannel:  string(v.CheckInChannel),
		Attestations:    v.AttestationCount(),
		TriggeredAt:     v.TriggeredAt,
		TriggerReason:   v.TriggerReason,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
	}
	if v.Verification != nil {
		at := v.Verification.VerifiedAt
		resp.VerifiedAt = &at
	}
	if v.Claim != nil {
		at := v.Claim.ClaimedAt
		resp.ClaimedAt = &at
	}
	return resp
}

// FromView adds the lazily evaluated status and deadlines.
func FromView(view *service.View) *VaultResponse {
	resp := FromVault(view.Vault)
	resp.EffectiveStatus = string(view.EffectiveStatus)
	if view.Vault.TriggeredAt != nil {
		at := view.RevokeDeadline
		resp.RevokeDeadline = &at
	}
	if view.Vault.Verification != nil {
		at := view.ClaimableAt
		resp.ClaimableAt = &at
	}
	return resp
}

// ReleaseResponse is returned on a successful claim.
type ReleaseResponse struct {
	VaultID      string    `json:"vault_id"`
	Beneficiary  string    `json:"beneficiary"`
	MetadataURI  string    `json:"metadata_uri"`
	SecretDigest string    `json:"secret_digest,omitempty"`
	Scheme       string    `json:"scheme,omitempty"`
	ClaimedAt    time.Time `json:"claimed_at"`
}

func FromDirective(d *models.ReleaseDirective) *ReleaseResponse {
	return &ReleaseResponse{
		VaultID:      d.VaultID.String(),
		Beneficiary:  d.Beneficiary.String(),
		MetadataURI:  d.MetadataURI,
		SecretDigest: d.SecretDigest,
		Scheme:       d.Scheme,
		ClaimedAt:    d.ClaimedAt,
	}
}

func userStrings(ids []id.UserID) []string {
	out := make([]string, len(ids))
	for i, u := range ids {
		out[i] = u.String()
	}
	return out
}
