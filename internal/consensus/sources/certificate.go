package sources

import (
	"context"
	"strings"
	"time"

	"vigil/internal/consensus/service"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

const (
	// VerifiedCertificateConfidence applies to certificates the issuing
	// authority confirmed.
	VerifiedCertificateConfidence = 0.95
	// UnverifiedCertificateConfidence applies to a delivered document the
	// authority has not confirmed yet. It still clears the certificate
	// threshold.
	UnverifiedCertificateConfidence = 0.6
)

// CertificateDelivery is the webhook payload of a certificate vendor.
type CertificateDelivery struct {
	SubjectID     id.SubjectID
	CertificateID string
	Jurisdiction  string
	Verified      bool
	IssuedAt      time.Time
	Document      []byte
}

// NormalizeCertificate maps a delivery to an ingest command.
func NormalizeCertificate(d CertificateDelivery) (service.IngestCommand, error) {
	if d.SubjectID.IsNil() {
		return service.IngestCommand{}, dErrors.New(dErrors.CodeValidation, "subject_id is required")
	}
	if strings.TrimSpace(d.CertificateID) == "" {
		return service.IngestCommand{}, dErrors.New(dErrors.CodeValidation, "certificate_id is required")
	}
	confidence := UnverifiedCertificateConfidence
	if d.Verified {
		confidence = VerifiedCertificateConfidence
	}
	evidence := d.Document
	if len(evidence) == 0 {
		evidence = rawEvidence(map[string]any{
			"certificate_id": d.CertificateID,
			"jurisdiction":   d.Jurisdiction,
			"verified":       d.Verified,
		})
	}
	return service.IngestCommand{
		SubjectID:  d.SubjectID,
		Source:     id.EvidenceSourceCertificate,
		Confidence: confidence,
		Reference:  strings.TrimSpace(d.Jurisdiction) + ":" + strings.TrimSpace(d.CertificateID),
		Evidence:   evidence,
		ObservedAt: d.IssuedAt,
	}, nil
}

// CertificateWebhook ingests certificate deliveries.
type CertificateWebhook struct {
	engine Ingester
}

func NewCertificateWebhook(engine Ingester) *CertificateWebhook {
	return &CertificateWebhook{engine: engine}
}

func (w *CertificateWebhook) Deliver(ctx context.Context, d CertificateDelivery) (*service.IngestResult, error) {
	cmd, err := NormalizeCertificate(d)
	if err != nil {
		return nil, err
	}
	return w.engine.Ingest(ctx, cmd)
}
