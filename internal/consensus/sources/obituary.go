package sources

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"vigil/internal/consensus/service"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	pstrings "vigil/pkg/platform/strings"
)

const obituaryProviderID = "obituary"

const (
	// MaxObituaryConfidence caps a text match below the verify threshold:
	// a name match alone can at most order a certificate.
	MaxObituaryConfidence = 0.6
	// MinObituaryConfidence drops matches too weak to be worth logging.
	MinObituaryConfidence = 0.3
)

// ObituaryNotice is a published death notice paired with the subject it was
// matched to by the feed's candidate search.
type ObituaryNotice struct {
	SubjectID    id.SubjectID
	SubjectName  string // the name on file for the subject
	DeceasedName string // the name printed in the notice
	Reference    string // notice URL or feed id
	PublishedAt  time.Time
	Excerpt      string
}

// NameSimilarity is the Jaccard similarity of the two names' token sets,
// ignoring case, accents, punctuation and repeated tokens.
func NameSimilarity(a, b string) float64 {
	ta, tb := pstrings.NameTokens(a), pstrings.NameTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	shared := 0
	for _, t := range tb {
		if set[t] {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

// ObituaryConfidence scales similarity into [0, MaxObituaryConfidence].
func ObituaryConfidence(subjectName, deceasedName string) float64 {
	return NameSimilarity(subjectName, deceasedName) * MaxObituaryConfidence
}

// ObituaryMatcher turns notices into verification events.
type ObituaryMatcher struct {
	engine Ingester
	logger *slog.Logger
}

func NewObituaryMatcher(engine Ingester, logger *slog.Logger) *ObituaryMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObituaryMatcher{engine: engine, logger: logger}
}

// Match scores the notice and ingests it when the score clears
// MinObituaryConfidence. A nil result means the notice was too weak.
func (m *ObituaryMatcher) Match(ctx context.Context, n ObituaryNotice) (*service.IngestResult, error) {
	if n.SubjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "subject_id is required")
	}
	if strings.TrimSpace(n.SubjectName) == "" || strings.TrimSpace(n.DeceasedName) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "subject_name and deceased_name are required")
	}
	confidence := ObituaryConfidence(n.SubjectName, n.DeceasedName)
	if confidence < MinObituaryConfidence {
		m.logger.DebugContext(ctx, "obituary match below threshold",
			"subject_id", n.SubjectID.String(),
			"reference", n.Reference,
			"confidence", confidence,
		)
		return nil, nil
	}
	return m.engine.Ingest(ctx, service.IngestCommand{
		SubjectID:  n.SubjectID,
		Source:     id.EvidenceSourceObituary,
		Confidence: confidence,
		Reference:  n.Reference,
		Evidence: rawEvidence(map[string]string{
			"deceased_name": n.DeceasedName,
			"excerpt":       n.Excerpt,
		}),
		ObservedAt: n.PublishedAt,
	})
}

type obituaryItem struct {
	ID           string    `json:"id"`
	SubjectID    string    `json:"subject_id"`
	SubjectName  string    `json:"subject_name"`
	DeceasedName string    `json:"deceased_name"`
	URL          string    `json:"url"`
	PublishedAt  time.Time `json:"published_at"`
	Excerpt      string    `json:"excerpt"`
}

type obituaryFeed struct {
	Items []obituaryItem `json:"items"`
}

// ObituaryFeedPoller reads candidate notices from a feed service and runs
// them through the matcher. Seen item ids are skipped on later polls.
type ObituaryFeedPoller struct {
	feedURL string
	client  *http.Client
	guard   *Guard
	matcher *ObituaryMatcher

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewObituaryFeedPoller(feedURL string, client *http.Client, guard *Guard, matcher *ObituaryMatcher) *ObituaryFeedPoller {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if guard == nil {
		guard = NewGuard(obituaryProviderID, nil, nil)
	}
	return &ObituaryFeedPoller{feedURL: feedURL, client: client, guard: guard, matcher: matcher, seen: make(map[string]struct{})}
}

func (p *ObituaryFeedPoller) Poll(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var feed obituaryFeed
	err := p.guard.Do(ctx, func(ctx context.Context) error {
		return getJSON(ctx, p.client, obituaryProviderID, p.feedURL, nil, &feed)
	})
	if err != nil {
		return 0, err
	}

	ingested := 0
	for _, item := range feed.Items {
		if _, ok := p.seen[item.ID]; ok {
			continue
		}
		subject, err := id.ParseSubjectID(item.SubjectID)
		if err != nil {
			p.matcher.logger.WarnContext(ctx, "obituary item skipped", "item_id", item.ID, "error", err)
			p.seen[item.ID] = struct{}{}
			continue
		}
		ref := item.URL
		if ref == "" {
			ref = item.ID
		}
		res, err := p.matcher.Match(ctx, ObituaryNotice{
			SubjectID:    subject,
			SubjectName:  item.SubjectName,
			DeceasedName: item.DeceasedName,
			Reference:    ref,
			PublishedAt:  item.PublishedAt,
			Excerpt:      item.Excerpt,
		})
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeValidation) || dErrors.HasCode(err, dErrors.CodeInvalidInput) {
				p.seen[item.ID] = struct{}{}
				continue
			}
			return ingested, err
		}
		p.seen[item.ID] = struct{}{}
		if res != nil && res.Appended {
			ingested++
		}
	}
	return ingested, nil
}
