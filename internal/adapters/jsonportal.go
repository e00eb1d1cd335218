// Package adapters contains source adapter implementations. The JSON portal
// adapter covers the common case of councils exposing a JSON list endpoint;
// bespoke portals get their own adapter registered alongside it.
package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/oddlyrohit/councilscraper/internal/model"
	"github.com/oddlyrohit/councilscraper/internal/proxy"
	"github.com/oddlyrohit/councilscraper/internal/resilience"
)

// PortalOptions tunes the shared fetch behavior of JSON portal adapters.
type PortalOptions struct {
	UserAgent string
	Timeout   time.Duration
	// RatePerSec bounds outbound requests to the portal. Zero means 1/s.
	RatePerSec float64
	// Endpoints supplies the proxy URL for each access tier.
	Endpoints proxy.Endpoints
}

// JSONPortal scrapes a council portal that serves applications as JSON.
// One instance serves one source; runs for a source are serialized, so the
// per-fetch proxy swap is safe.
type JSONPortal struct {
	source  model.Source
	opts    PortalOptions
	client  *resty.Client
	limiter *rate.Limiter
}

// NewJSONPortal creates an adapter for the given source.
func NewJSONPortal(source model.Source, opts PortalOptions) *JSONPortal {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 1
	}
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "application/json")
	return &JSONPortal{
		source:  source,
		opts:    opts,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
	}
}

// FetchCurrent retrieves the portal's current application listing.
func (p *JSONPortal) FetchCurrent(ctx context.Context, tier proxy.Tier) ([]model.RawRecord, error) {
	return p.fetch(ctx, tier, nil)
}

// FetchHistorical retrieves applications lodged within the range.
func (p *JSONPortal) FetchHistorical(ctx context.Context, tier proxy.Tier, rng model.DateRange) ([]model.RawRecord, error) {
	params := map[string]string{
		"from": rng.From.Format(time.DateOnly),
		"to":   rng.To.Format(time.DateOnly),
	}
	return p.fetch(ctx, tier, params)
}

// CheckHealth probes the portal before a fetch is attempted.
func (p *JSONPortal) CheckHealth(ctx context.Context) (model.HealthStatus, error) {
	start := time.Now()
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("limit", "1").
		Get(p.source.PortalURL)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return model.HealthStatus{OK: false, Message: err.Error(), ResponseTimeMS: elapsed}, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return model.HealthStatus{
			OK:             false,
			Message:        http.StatusText(resp.StatusCode()),
			ResponseTimeMS: elapsed,
		}, nil
	}
	return model.HealthStatus{OK: true, ResponseTimeMS: elapsed}, nil
}

func (p *JSONPortal) fetch(ctx context.Context, tier proxy.Tier, params map[string]string) ([]model.RawRecord, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrapf(err, "adapter %s: rate limit wait", p.source.Code)
	}

	if proxyURL := p.opts.Endpoints.URL(tier); proxyURL != "" {
		p.client.SetProxy(proxyURL)
	} else {
		p.client.RemoveProxy()
	}

	req := p.client.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	resp, err := req.Get(p.source.PortalURL)
	if err != nil {
		return nil, resilience.NewTransientError(
			eris.Wrapf(err, "adapter %s: fetch", p.source.Code), 0)
	}

	if blocked, blockType := resilience.DetectBlock(resp.RawResponse, resp.Body()); blocked {
		return nil, &resilience.BlockedError{Type: blockType, URL: p.source.PortalURL}
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode()) {
		return nil, resilience.NewTransientError(
			eris.Errorf("adapter %s: portal returned %d", p.source.Code, resp.StatusCode()),
			resp.StatusCode())
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, eris.Errorf("adapter %s: portal returned %d", p.source.Code, resp.StatusCode())
	}

	records, err := decodeRecords(resp.Body())
	if err != nil {
		return nil, eris.Wrapf(err, "adapter %s: decode listing", p.source.Code)
	}

	now := time.Now().UTC()
	out := make([]model.RawRecord, 0, len(records))
	for _, data := range records {
		out = append(out, model.RawRecord{
			SourceCode: p.source.Code,
			Data:       data,
			SourceURL:  p.source.PortalURL,
			FetchedAt:  now,
		})
	}
	return out, nil
}

// decodeRecords accepts the listing shapes seen across portals: a bare
// array, or an object wrapping the array under a well-known key.
func decodeRecords(body []byte) ([]map[string]any, error) {
	var direct []map[string]any
	if err := json.Unmarshal(body, &direct); err == nil {
		return direct, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, eris.Wrap(err, "unrecognized listing payload")
	}
	for _, key := range []string{"records", "results", "applications", "data", "items"} {
		raw, ok := wrapped[key]
		if !ok {
			continue
		}
		var list []map[string]any
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, eris.Wrapf(err, "decode %q listing", key)
		}
		return list, nil
	}
	return nil, eris.New("no record list found in listing payload")
}
