package handler

import (
	"strings"
	"time"

	"vigil/internal/consensus/models"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

// EventRequest is a normalized collector event.
type EventRequest struct {
	SubjectID  string     `json:"subject_id"`
	Source     string     `json:"source"`
	Confidence *float64   `json:"confidence"`
	Status     string     `json:"status,omitempty"`
	Reference  string     `json:"reference"`
	Evidence   []byte     `json:"evidence,omitempty"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`

	subject id.SubjectID
	source  id.EvidenceSource
	status  models.EventStatus
}

func (r *EventRequest) Normalize() {
	r.SubjectID = strings.TrimSpace(r.SubjectID)
	r.Source = strings.ToLower(strings.TrimSpace(r.Source))
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
	r.Reference = strings.TrimSpace(r.Reference)
}

func (r *EventRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	subject, err := id.ParseSubjectID(r.SubjectID)
	if err != nil {
		return err
	}
	r.subject = subject
	source, err := id.ParseEvidenceSource(r.Source)
	if err != nil {
		return err
	}
	r.source = source
	if r.Confidence == nil {
		return dErrors.New(dErrors.CodeValidation, "confidence is required")
	}
	if r.Reference == "" {
		return dErrors.New(dErrors.CodeValidation, "reference is required")
	}
	r.status = models.StatusPending
	if r.Status != "" {
		status, err := models.ParseEventStatus(r.Status)
		if err != nil {
			return err
		}
		r.status = status
	}
	return nil
}

// CertificateRequest is the certificate vendor's delivery webhook body.
type CertificateRequest struct {
	SubjectID     string     `json:"subject_id"`
	CertificateID string     `json:"certificate_id"`
	Jurisdiction  string     `json:"jurisdiction"`
	Verified      bool       `json:"verified"`
	IssuedAt      *time.Time `json:"issued_at,omitempty"`
	Document      []byte     `json:"document,omitempty"`

	subject id.SubjectID
}

func (r *CertificateRequest) Normalize() {
	r.SubjectID = strings.TrimSpace(r.SubjectID)
	r.CertificateID = strings.TrimSpace(r.CertificateID)
	r.Jurisdiction = strings.ToUpper(strings.TrimSpace(r.Jurisdiction))
}

func (r *CertificateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	subject, err := id.ParseSubjectID(r.SubjectID)
	if err != nil {
		return err
	}
	r.subject = subject
	if r.CertificateID == "" {
		return dErrors.New(dErrors.CodeValidation, "certificate_id is required")
	}
	if len(r.Document) > models.MaxEvidenceBytes {
		return dErrors.New(dErrors.CodeValidation, "document too large")
	}
	return nil
}

// ObituaryRequest is a notice matched to a subject by a collector.
type ObituaryRequest struct {
	SubjectID    string     `json:"subject_id"`
	SubjectName  string     `json:"subject_name"`
	DeceasedName string     `json:"deceased_name"`
	Reference    string     `json:"reference"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	Excerpt      string     `json:"excerpt,omitempty"`

	subject id.SubjectID
}

func (r *ObituaryRequest) Normalize() {
	r.SubjectID = strings.TrimSpace(r.SubjectID)
	r.SubjectName = strings.TrimSpace(r.SubjectName)
	r.DeceasedName = strings.TrimSpace(r.DeceasedName)
	r.Reference = strings.TrimSpace(r.Reference)
}

func (r *ObituaryRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	subject, err := id.ParseSubjectID(r.SubjectID)
	if err != nil {
		return err
	}
	r.subject = subject
	if r.SubjectName == "" || r.DeceasedName == "" {
		return dErrors.New(dErrors.CodeValidation, "subject_name and deceased_name are required")
	}
	if r.Reference == "" {
		return dErrors.New(dErrors.CodeValidation, "reference is required")
	}
	return nil
}

type ResolutionRequest struct {
	Outcome string `json:"outcome"`

	outcome models.EventStatus
}

func (r *ResolutionRequest) Normalize() {
	r.Outcome = strings.ToLower(strings.TrimSpace(r.Outcome))
}

func (r *ResolutionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	outcome, err := models.ParseResolutionOutcome(r.Outcome)
	if err != nil {
		return err
	}
	r.outcome = outcome
	return nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
