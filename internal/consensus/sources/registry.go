package sources

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"vigil/internal/consensus/service"
	id "vigil/pkg/domain"
)

const registryProviderID = "registry"

// RegistryRecord is one death record match returned by the registry.
type RegistryRecord struct {
	RecordID    string  `json:"record_id"`
	SubjectID   string  `json:"subject_id"`
	MatchScore  float64 `json:"match_score"`
	DateOfDeath string  `json:"date_of_death"`
	FullName    string  `json:"full_name"`
	ReportedAt  string  `json:"reported_at"`
}

type registryPage struct {
	Records    []RegistryRecord `json:"records"`
	NextCursor string           `json:"next_cursor"`
}

// RegistryPoller pulls death record matches for watched subjects from a
// national death index. The match score becomes the event confidence.
type RegistryPoller struct {
	baseURL string
	apiKey  string
	client  *http.Client
	guard   *Guard
	engine  Ingester
	logger  *slog.Logger

	mu     sync.Mutex
	cursor string
}

func NewRegistryPoller(baseURL, apiKey string, client *http.Client, guard *Guard, engine Ingester, logger *slog.Logger) *RegistryPoller {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if guard == nil {
		guard = NewGuard(registryProviderID, nil, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistryPoller{baseURL: baseURL, apiKey: apiKey, client: client, guard: guard, engine: engine, logger: logger}
}

// Poll fetches one page after the current cursor and ingests it. The cursor
// only advances when every record on the page was handled, so a failed page
// is fetched again; redelivered records dedupe in the log.
func (p *RegistryPoller) Poll(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return 0, NewProviderError(ErrorInternal, registryProviderID, "parse base url", err)
	}
	u = u.JoinPath("deaths")
	q := u.Query()
	if p.cursor != "" {
		q.Set("since", p.cursor)
	}
	u.RawQuery = q.Encode()

	var page registryPage
	err = p.guard.Do(ctx, func(ctx context.Context) error {
		return getJSON(ctx, p.client, registryProviderID, u.String(), http.Header{"X-Api-Key": {p.apiKey}}, &page)
	})
	if err != nil {
		return 0, err
	}

	ingested := 0
	for _, rec := range page.Records {
		subject, err := id.ParseSubjectID(rec.SubjectID)
		if err != nil {
			p.logger.WarnContext(ctx, "registry record skipped", "record_id", rec.RecordID, "error", err)
			continue
		}
		var observed time.Time
		if rec.ReportedAt != "" {
			if observed, err = time.Parse(time.RFC3339, rec.ReportedAt); err != nil {
				p.logger.WarnContext(ctx, "registry record has malformed reported_at, ingesting without it",
					"record_id", rec.RecordID,
					"reported_at", rec.ReportedAt,
				)
				observed = time.Time{}
			}
		}
		res, err := p.engine.Ingest(ctx, service.IngestCommand{
			SubjectID:  subject,
			Source:     id.EvidenceSourceRegistry,
			Confidence: clamp01(rec.MatchScore),
			Reference:  rec.RecordID,
			Evidence:   rawEvidence(rec),
			ObservedAt: observed,
		})
		if err != nil {
			return ingested, err
		}
		if res.Appended {
			ingested++
		}
	}
	if page.NextCursor != "" {
		p.cursor = page.NextCursor
	}
	return ingested, nil
}

func (p *RegistryPoller) Cursor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}
