package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"vigil/internal/consensus/service"
)

// Ingester is the engine entry point the sources feed.
type Ingester interface {
	Ingest(ctx context.Context, cmd service.IngestCommand) (*service.IngestResult, error)
}

// maxResponseBytes bounds a single source response body.
const maxResponseBytes = 4 << 20

// getJSON fetches url and decodes a JSON body into out, classifying every
// failure as a ProviderError.
func getJSON(ctx context.Context, client *http.Client, providerID, url string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return NewProviderError(ErrorInternal, providerID, "build request", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return classifyTransport(providerID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return classifyStatus(providerID, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return NewProviderError(ErrorBadData, providerID, "decode response", err)
	}
	return nil
}

// RunPoller calls poll on a fixed cadence until ctx is cancelled. A failed
// poll is logged and retried on the next tick.
func RunPoller(ctx context.Context, name string, interval time.Duration, logger *slog.Logger, poll func(context.Context) (int, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := poll(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn("source poll failed",
					"source", name,
					"category", string(GetCategory(err)),
					"retryable", IsRetryable(err),
					"error", err,
				)
				continue
			}
			if n > 0 {
				logger.Info("source poll ingested events", "source", name, "count", n)
			}
		}
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func rawEvidence(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf("%v", v))
	}
	return b
}
