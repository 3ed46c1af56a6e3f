package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"vigil/internal/consensus/sources"
	id "vigil/pkg/domain"
)

const certificateProviderID = "certificate_vendor"

// HTTPCertificateOrderer asks a certificate vendor to obtain an official
// death certificate. The vendor later delivers it to the certificate webhook.
type HTTPCertificateOrderer struct {
	url         string
	callbackURL string
	client      *http.Client
	guard       *sources.Guard
}

func NewHTTPCertificateOrderer(url, callbackURL string, client *http.Client, guard *sources.Guard) *HTTPCertificateOrderer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if guard == nil {
		guard = sources.NewGuard(certificateProviderID, nil, nil)
	}
	return &HTTPCertificateOrderer{url: url, callbackURL: callbackURL, client: client, guard: guard}
}

type certificateOrder struct {
	SubjectID   string `json:"subject_id"`
	CallbackURL string `json:"callback_url,omitempty"`
	RequestedAt string `json:"requested_at"`
}

func (o *HTTPCertificateOrderer) OrderCertificate(ctx context.Context, subject id.SubjectID) error {
	body, err := json.Marshal(certificateOrder{
		SubjectID:   subject.String(),
		CallbackURL: o.callbackURL,
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return sources.NewProviderError(sources.ErrorInternal, certificateProviderID, "encode order", err)
	}
	return o.guard.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
		if err != nil {
			return sources.NewProviderError(sources.ErrorInternal, certificateProviderID, "build request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		// Idempotency key: the vendor collapses repeated orders per subject.
		req.Header.Set("Idempotency-Key", "certificate-order-"+subject.String())

		resp, err := o.client.Do(req)
		if err != nil {
			return sources.NewProviderError(sources.ErrorProviderOutage, certificateProviderID, "request failed", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode == http.StatusConflict:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return sources.NewProviderError(sources.ErrorRateLimited, certificateProviderID, "rate limited", nil)
		case resp.StatusCode >= 500:
			return sources.NewProviderError(sources.ErrorProviderOutage, certificateProviderID, fmt.Sprintf("status %d", resp.StatusCode), nil)
		default:
			return sources.NewProviderError(sources.ErrorBadData, certificateProviderID, fmt.Sprintf("status %d", resp.StatusCode), nil)
		}
	})
}
