package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vigil/internal/vault/models"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/audit"
	"vigil/pkg/platform/sentinel"
	"vigil/pkg/requestcontext"
)

// CreateVaultCommand is the owner's setup request. The owner is the caller.
type CreateVaultCommand struct {
	SubjectID     id.SubjectID
	Beneficiaries []id.UserID
	Guardians     []id.UserID
	MetadataURI   string
	SecretDigest  string
	Scheme        string
	CheckInEvery  time.Duration
	GracePeriod   time.Duration
}

// View is a vault with lazy transitions applied for display. Reads never
// persist transitions.
type View struct {
	Vault           *models.Vault
	EffectiveStatus models.Status
	RevokeDeadline  time.Time
	ClaimableAt     time.Time
}

func (s *Service) CreateVault(ctx context.Context, cmd CreateVaultCommand) (*models.Vault, error) {
	ctx, span := s.startSpan(ctx, "CreateVault", id.VaultID{})
	defer span.End()
	defer s.metrics.ObserveOperation("create", time.Now())

	owner := requestcontext.UserID(ctx)
	if owner.IsNil() {
		return nil, s.finish(span, "create", dErrors.New(dErrors.CodeUnauthorized, "caller identity is required"))
	}
	now := requestcontext.Now(ctx)

	var vault *models.Vault
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		v, err := models.NewVault(models.NewVaultParams{
			ID:            id.NewVaultID(),
			OwnerID:       owner,
			SubjectID:     cmd.SubjectID,
			Beneficiaries: cmd.Beneficiaries,
			Guardians:     cmd.Guardians,
			MetadataURI:   cmd.MetadataURI,
			SecretDigest:  cmd.SecretDigest,
			Scheme:        cmd.Scheme,
			CheckInEvery:  cmd.CheckInEvery,
			GracePeriod:   cmd.GracePeriod,
		}, now)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, err.Error())
		}
		if err := s.store.Create(txCtx, v); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create vault")
		}
		if err := s.auditEmitter.emitCompliance(txCtx, audit.EventVaultCreated, owner, v.ID, "created"); err != nil {
			return err
		}
		vault = v
		return nil
	})
	if err != nil {
		return nil, s.finish(span, "create", err)
	}
	s.metrics.IncVaultCreated()
	return vault, s.finish(span, "create", nil)
}

// GetVault returns the vault to any party named on it or to a verifier.
func (s *Service) GetVault(ctx context.Context, vaultID id.VaultID) (*View, error) {
	if vaultID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "vault id is required")
	}
	v, err := s.store.FindByID(ctx, vaultID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	caller := requestcontext.UserID(ctx)
	if !v.IsOwner(caller) && !v.IsGuardian(caller) && !v.IsBeneficiary(caller) && !s.verifiers.CanVerify(ctx, caller) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller is not a party to this vault")
	}
	now := requestcontext.Now(ctx)
	return &View{
		Vault:           v,
		EffectiveStatus: v.EffectiveStatus(now, s.policy),
		RevokeDeadline:  v.RevokeDeadline(s.policy),
		ClaimableAt:     v.ClaimableAt(s.policy),
	}, nil
}

// CheckIn proves the owner is alive.
func (s *Service) CheckIn(ctx context.Context, vaultID id.VaultID, channel models.CheckInChannel) (*models.Vault, error) {
	ctx, span := s.startSpan(ctx, "CheckIn", vaultID)
	defer span.End()
	defer s.metrics.ObserveOperation("check_in", time.Now())

	caller := requestcontext.UserID(ctx)
	now := requestcontext.Now(ctx)
	var changes []models.Transition

	vault, err := s.store.Execute(ctx, vaultID,
		func(v *models.Vault) error {
			return v.CanCheckIn(caller, now, s.policy)
		},
		func(v *models.Vault) {
			changes = v.ApplyCheckIn(now, channel, s.policy)
		},
	)
	if err != nil {
		return nil, s.finish(span, "check_in", wrapStoreErr(err))
	}

	s.auditEmitter.track(ctx, audit.EventVaultCheckedIn, vaultID, string(channel))
	s.commitChanges(ctx, vault, changes)
	return vault, s.finish(span, "check_in", nil)
}

// AttestDeath records a guardian's attestation; two live attestations
// trigger the vault.
func (s *Service) AttestDeath(ctx context.Context, vaultID id.VaultID) (*models.Vault, error) {
	ctx, span := s.startSpan(ctx, "AttestDeath", vaultID)
	defer span.End()
	defer s.metrics.ObserveOperation("attest", time.Now())

	guardian := requestcontext.UserID(ctx)
	now := requestcontext.Now(ctx)
	var (
		changes []models.Transition
		vault   *models.Vault
	)

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		v, err := s.store.Execute(txCtx, vaultID,
			func(v *models.Vault) error {
				if err := v.CanAttest(guardian, now, s.policy); err != nil {
					return err
				}
				return s.auditEmitter.emitCompliance(txCtx, audit.EventGuardianAttested, v.OwnerID, v.ID, "attested")
			},
			func(v *models.Vault) {
				changes = v.ApplyAttest(guardian, now, s.policy)
			},
		)
		vault = v
		return err
	})
	if err != nil {
		return nil, s.finish(span, "attest", wrapStoreErr(err))
	}

	s.commitChanges(ctx, vault, changes)
	return vault, s.finish(span, "attest", nil)
}

// VerifyDeath is the oracle call moving a triggered vault to death_verified.
func (s *Service) VerifyDeath(ctx context.Context, vaultID id.VaultID, subject id.SubjectID) (*models.Vault, error) {
	ctx, span := s.startSpan(ctx, "VerifyDeath", vaultID)
	defer span.End()
	defer s.metrics.ObserveOperation("verify", time.Now())

	verifier := requestcontext.UserID(ctx)
	if !s.verifiers.CanVerify(ctx, verifier) {
		return nil, s.finish(span, "verify", dErrors.New(dErrors.CodeUnauthorized, "caller is not a death verifier"))
	}
	now := requestcontext.Now(ctx)
	var (
		changes []models.Transition
		vault   *models.Vault
	)

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		v, err := s.store.Execute(txCtx, vaultID,
			func(v *models.Vault) error {
				if err := v.CanVerifyDeath(subject, now, s.policy); err != nil {
					return err
				}
				return s.auditEmitter.emitCompliance(txCtx, audit.EventDeathVerified, v.OwnerID, v.ID, "verified")
			},
			func(v *models.Vault) {
				changes = v.ApplyVerifyDeath(subject, verifier, now, s.policy)
			},
		)
		vault = v
		return err
	})
	if err != nil {
		return nil, s.finish(span, "verify", wrapStoreErr(err))
	}

	s.commitChanges(ctx, vault, changes)
	return vault, s.finish(span, "verify", nil)
}

// VerifySubject applies a verification to every vault of subject and returns
// the number of vaults that moved. Vaults already verified are skipped. When
// the only obstacle is vaults not yet triggered, it returns CodeNotReady so
// the caller keeps the verification pending for them.
func (s *Service) VerifySubject(ctx context.Context, subject id.SubjectID) (int, error) {
	vaults, err := s.store.FindBySubject(ctx, subject)
	if err != nil {
		return 0, wrapStoreErr(err)
	}
	var (
		verified int
		pending  int
		errs     []error
	)
	for _, v := range vaults {
		_, err := s.VerifyDeath(ctx, v.ID, subject)
		switch {
		case err == nil:
			verified++
		case dErrors.HasCode(err, dErrors.CodeAlreadyVerified):
		case dErrors.HasCode(err, dErrors.CodeInvalidState):
			pending++
			s.logger.InfoContext(ctx, "vault not triggered, verification deferred",
				"vault_id", v.ID.String(),
			)
		default:
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return verified, errors.Join(errs...)
	}
	if pending > 0 {
		return verified, dErrors.New(dErrors.CodeNotReady, fmt.Sprintf("%d vault(s) not yet triggered", pending))
	}
	return verified, nil
}

// Claim releases a ready vault to a beneficiary and returns the release
// directive. The directive points at metadata; it never carries the secret.
func (s *Service) Claim(ctx context.Context, vaultID id.VaultID) (*models.ReleaseDirective, error) {
	ctx, span := s.startSpan(ctx, "Claim", vaultID)
	defer span.End()
	defer s.metrics.ObserveOperation("claim", time.Now())

	beneficiary := requestcontext.UserID(ctx)
	now := requestcontext.Now(ctx)
	var (
		changes   []models.Transition
		directive models.ReleaseDirective
		vault     *models.Vault
	)

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		v, err := s.store.Execute(txCtx, vaultID,
			func(v *models.Vault) error {
				if err := v.CanClaim(beneficiary, now, s.policy); err != nil {
					return err
				}
				return s.auditEmitter.emitCompliance(txCtx, audit.EventVaultClaimed, v.OwnerID, v.ID, "released")
			},
			func(v *models.Vault) {
				directive, changes = v.ApplyClaim(beneficiary, now, s.policy)
			},
		)
		vault = v
		return err
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) || dErrors.HasCode(err, dErrors.CodeNotReady) || dErrors.HasCode(err, dErrors.CodeAlreadyClaimed) {
			s.auditEmitter.emitSecurity(ctx, audit.EventClaimDenied, vaultID, string(dErrors.CodeOf(err)), audit.SeverityWarning)
		}
		return nil, s.finish(span, "claim", wrapStoreErr(err))
	}

	s.metrics.IncClaim()
	s.commitChanges(ctx, vault, changes)
	return &directive, s.finish(span, "claim", nil)
}

// EmergencyRevoke lets the owner cancel a trigger inside the window.
func (s *Service) EmergencyRevoke(ctx context.Context, vaultID id.VaultID) (*models.Vault, error) {
	ctx, span := s.startSpan(ctx, "EmergencyRevoke", vaultID)
	defer span.End()
	defer s.metrics.ObserveOperation("revoke", time.Now())

	owner := requestcontext.UserID(ctx)
	now := requestcontext.Now(ctx)
	var changes []models.Transition

	vault, err := s.store.Execute(ctx, vaultID,
		func(v *models.Vault) error {
			return v.CanEmergencyRevoke(owner, now, s.policy)
		},
		func(v *models.Vault) {
			changes = v.ApplyEmergencyRevoke(now, s.policy)
		},
	)
	if err != nil {
		return nil, s.finish(span, "revoke", wrapStoreErr(err))
	}

	s.auditEmitter.emitSecurity(ctx, audit.EventEmergencyRevoked, vaultID, "owner revoked trigger", audit.SeverityWarning)
	s.commitChanges(ctx, vault, changes)
	return vault, s.finish(span, "revoke", nil)
}

// wrapStoreErr maps store sentinels to domain errors and passes coded
// errors through unchanged.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "vault not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "vault store failure")
}
