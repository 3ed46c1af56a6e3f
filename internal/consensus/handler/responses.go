package handler

import (
	"time"

	"vigil/internal/consensus/models"
	"vigil/internal/consensus/service"
)

type IngestResponse struct {
	EventID     string         `json:"event_id,omitempty"`
	Fingerprint string         `json:"fingerprint"`
	Duplicate   bool           `json:"duplicate"`
	State       *StateResponse `json:"state,omitempty"`
}

func FromIngest(res *service.IngestResult) *IngestResponse {
	resp := &IngestResponse{
		Fingerprint: res.Fingerprint.String(),
		Duplicate:   !res.Appended,
	}
	if res.Appended {
		resp.EventID = res.EventID.String()
	}
	if res.State != nil {
		resp.State = FromState(res.State)
	}
	return resp
}

type StateResponse struct {
	SubjectID            string     `json:"subject_id"`
	Confidence           float64    `json:"confidence"`
	Action               string     `json:"action"`
	Contributing         []string   `json:"contributing"`
	EventCount           int        `json:"event_count"`
	Digest               string     `json:"digest"`
	Applied              bool       `json:"applied"`
	EvaluatedAt          time.Time  `json:"evaluated_at"`
	CertificateOrderedAt *time.Time `json:"certificate_ordered_at,omitempty"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty"`
}

func FromState(st *models.State) *StateResponse {
	contributing := make([]string, len(st.Contributing))
	for i, e := range st.Contributing {
		contributing[i] = e.String()
	}
	return &StateResponse{
		SubjectID:            st.SubjectID.String(),
		Confidence:           st.Confidence,
		Action:               string(st.Action),
		Contributing:         contributing,
		EventCount:           st.EventCount,
		Digest:               st.Digest.String(),
		Applied:              st.IsApplied(),
		EvaluatedAt:          st.EvaluatedAt,
		CertificateOrderedAt: st.CertificateOrderedAt,
		VerifiedAt:           st.VerifiedAt,
	}
}

type EventResponse struct {
	ID         string    `json:"id"`
	SubjectID  string    `json:"subject_id"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	Status     string    `json:"status"`
	Reference  string    `json:"reference"`
	Supersedes string    `json:"supersedes,omitempty"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
	ReceivedAt time.Time `json:"received_at"`
}

func FromEvent(e *models.Event) *EventResponse {
	resp := &EventResponse{
		ID:         e.ID.String(),
		SubjectID:  e.SubjectID.String(),
		Source:     e.Source.String(),
		Confidence: e.Confidence,
		Status:     e.Status.String(),
		Reference:  e.Reference,
		ObservedAt: e.ObservedAt,
		ReceivedAt: e.ReceivedAt,
	}
	if e.Supersedes != nil {
		resp.Supersedes = e.Supersedes.String()
	}
	if e.ResolvedBy != nil {
		resp.ResolvedBy = e.ResolvedBy.String()
	}
	return resp
}

type EvaluationResponse struct {
	SubjectID       string    `json:"subject_id"`
	Confidence      float64   `json:"confidence"`
	Action          string    `json:"action"`
	Forwarded       string    `json:"forwarded"`
	VaultsVerified  int       `json:"vaults_verified"`
	AwaitingTrigger bool      `json:"awaiting_trigger,omitempty"`
	Digest          string    `json:"digest"`
	EvaluatedAt     time.Time `json:"evaluated_at"`
}

func FromEvaluation(e *service.Evaluation) *EvaluationResponse {
	return &EvaluationResponse{
		SubjectID:       e.SubjectID.String(),
		Confidence:      e.Confidence,
		Action:          string(e.Action),
		Forwarded:       string(e.Forwarded),
		VaultsVerified:  e.VaultsVerified,
		AwaitingTrigger: e.AwaitingTrigger,
		Digest:          e.Digest.String(),
		EvaluatedAt:     e.EvaluatedAt,
	}
}
