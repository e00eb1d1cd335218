package mapping

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oddlyrohit/councilscraper/internal/model"
	"github.com/oddlyrohit/councilscraper/pkg/inference"
)

// learnedConfidence is the base confidence assigned to model-produced
// mappings before any validation evidence exists.
const learnedConfidence = 0.8

// schemaDefinitions is the canonical-schema catalogue presented to the model.
const schemaDefinitions = `MASTER SCHEMA FIELDS:

IDENTIFIERS:
- da_number: Unique application identifier (e.g., "DA-2025-1234", "2025/0456", "A006234567")

PROPERTY FIELDS:
- address: Full property street address
- suburb: Suburb/locality name
- postcode: 4-digit Australian postcode
- state: State abbreviation (NSW, VIC, QLD, SA, WA, TAS, NT, ACT)
- lot_plan: Lot/Plan or Title reference (e.g., "Lot 1 DP123456", "1/SP12345")

APPLICATION TYPE (pick one):
- development_application
- complying_development
- construction_certificate
- subdivision
- modification
- review
- other

STATUS (pick one):
- lodged
- registered
- under_assessment
- on_exhibition
- additional_info_required
- referred
- determined
- approved
- approved_with_conditions
- refused
- withdrawn
- lapsed
- appealed
- unknown

DECISION (pick one):
- approved
- approved_with_conditions
- refused
- deferred
- withdrawn
- not_determined

DATE FIELDS (expect various date formats):
- lodged_date: Date application was submitted
- exhibition_start: Start of public notification period
- exhibition_end: End of public notification period
- determined_date: Date decision was made

NUMERIC FIELDS:
- estimated_cost: Dollar value of proposed works (may include $ symbol, commas)
- dwelling_count: Number of dwellings in proposal
- lot_count: Number of lots (for subdivisions)
- storeys: Number of storeys/floors
- floor_area_sqm: Floor area in square meters
- car_spaces: Number of parking spaces

PARTY FIELDS:
- applicant_name: Name of applicant
- owner_name: Name of property owner

OTHER:
- description: Full text description of proposed works
- source_url: URL of the application page`

// Learner asks the inference service to derive a field mapping from sample
// records and caches the result.
type Learner struct {
	client inference.Client
	cache  *Cache
	model  string
	tokens int64
}

// NewLearner creates a Learner writing into the given cache.
func NewLearner(client inference.Client, cache *Cache, modelID string, maxTokens int64) *Learner {
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Learner{client: client, cache: cache, model: modelID, tokens: maxTokens}
}

// Learn derives a mapping for a source from sample records, persists it, and
// returns it. With a cached mapping present it returns that instead unless
// forceRefresh is set. A malformed model response is an error and caches
// nothing.
func (l *Learner) Learn(ctx context.Context, sourceCode string, samples []model.RawRecord, forceRefresh bool) (*model.FieldMapping, error) {
	if !forceRefresh {
		if m, err := l.cache.Get(ctx, sourceCode); err == nil {
			return m, nil
		} else if !eris.Is(err, ErrMappingMiss) {
			return nil, err
		}
	}
	if len(samples) == 0 {
		return nil, eris.Errorf("learn mapping for %s: no sample records", sourceCode)
	}

	// Callers choose the sample budget (scraper.mapping_sample_size); every
	// record given ends up in the prompt.
	prompt, err := buildPrompt(sourceCode, samples)
	if err != nil {
		return nil, err
	}

	resp, err := l.client.CreateMessage(ctx, inference.MessageRequest{
		Model:     l.model,
		MaxTokens: l.tokens,
		Prompt:    prompt,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "learn mapping for %s", sourceCode)
	}
	resp.Usage.LogCost(l.model, "mapping_learn")

	m, err := parseMappingResponse(sourceCode, resp.Text)
	if err != nil {
		return nil, err
	}
	m.LearnedAt = time.Now().UTC()
	m.SampleCount = len(samples)
	m.Confidence = learnedConfidence

	if err := l.cache.Put(ctx, m); err != nil {
		return nil, err
	}

	zap.L().Info("field mapping learned",
		zap.String("source", sourceCode),
		zap.Int("mapped_fields", m.MappedFieldCount()),
		zap.Int("status_values", len(m.StatusValues)),
		zap.Int("samples", len(samples)),
	)
	return m, nil
}

func buildPrompt(sourceCode string, samples []model.RawRecord) (string, error) {
	data := make([]map[string]any, len(samples))
	for i, s := range samples {
		data[i] = s.Data
	}
	sampleJSON, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "marshal sample records")
	}

	var b strings.Builder
	b.WriteString("Analyze these sample records from the ")
	b.WriteString(sourceCode)
	b.WriteString(" planning portal and create a field mapping to our master schema.\n\nSAMPLE DATA:\n")
	b.Write(sampleJSON)
	b.WriteString("\n\n")
	b.WriteString(schemaDefinitions)
	b.WriteString(`

Create a mapping from the portal's field names to our master schema fields.
For each master schema field, identify which portal field(s) contain that data.

IMPORTANT RULES:
1. Use null if a field doesn't exist in the portal data
2. For compound fields (e.g., address contains suburb), use "field1+field2" syntax
3. Include status_values mapping for status field translations
4. Match field names case-insensitively
5. Look for partial matches (e.g., "Lodgement Date" maps to "lodged_date")

Return ONLY a valid JSON object in this exact format (no markdown, no explanation):
{
`)
	for _, f := range model.CanonicalFields {
		b.WriteString("    \"")
		b.WriteString(f)
		b.WriteString("\": \"portal_field_name_or_null\",\n")
	}
	b.WriteString(`    "status_values": {
        "portal_status_1": "normalized_status",
        "portal_status_2": "normalized_status"
    }
}`)
	return b.String(), nil
}

// parseMappingResponse decodes the model's JSON answer, tolerating markdown
// code fences around it.
func parseMappingResponse(sourceCode, text string) (*model.FieldMapping, error) {
	jsonStr := text
	if i := strings.Index(text, "```json"); i >= 0 {
		jsonStr = text[i+len("```json"):]
	} else if i := strings.Index(text, "```"); i >= 0 {
		jsonStr = text[i+len("```"):]
	}
	if i := strings.Index(jsonStr, "```"); i >= 0 {
		jsonStr = jsonStr[:i]
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(jsonStr)), &raw); err != nil {
		return nil, eris.Wrapf(err, "parse mapping response for %s", sourceCode)
	}

	m := &model.FieldMapping{
		SourceCode:   sourceCode,
		Fields:       make(map[string]string),
		StatusValues: make(map[string]string),
	}

	if sv, ok := raw["status_values"]; ok {
		if err := json.Unmarshal(sv, &m.StatusValues); err != nil {
			return nil, eris.Wrapf(err, "parse status values for %s", sourceCode)
		}
		delete(raw, "status_values")
	}

	for field, val := range raw {
		var expr *string
		if err := json.Unmarshal(val, &expr); err != nil {
			return nil, eris.Wrapf(err, "parse mapping field %s for %s", field, sourceCode)
		}
		if expr != nil && strings.TrimSpace(*expr) != "" && !strings.EqualFold(*expr, "null") {
			m.Fields[field] = strings.TrimSpace(*expr)
		}
	}

	if len(m.Fields) == 0 {
		return nil, eris.Errorf("mapping response for %s bound no fields", sourceCode)
	}
	return m, nil
}
