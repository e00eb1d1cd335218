package mapping

import (
	"fmt"
	"strings"

	"github.com/oddlyrohit/councilscraper/internal/model"
)

// Apply transforms a raw record into canonical field names using a learned
// mapping. Unmapped fields and fields whose source value is absent are left
// out of the result. Compound expressions join their present components with
// a single space. The status value is translated through the mapping's
// status table; untranslatable statuses pass through for the normalizer to
// judge. A nil mapping yields no fields at all.
func Apply(m *model.FieldMapping, raw map[string]any) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(m.Fields))

	for field, expr := range m.Fields {
		if expr == "" {
			continue
		}
		parts := model.Compound(expr)
		if len(parts) == 1 {
			if v := lookup(raw, parts[0]); v != "" {
				out[field] = v
			}
			continue
		}
		values := make([]string, 0, len(parts))
		for _, p := range parts {
			if v := lookup(raw, p); v != "" {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			out[field] = strings.Join(values, " ")
		}
	}

	if status, ok := out["status"]; ok && len(m.StatusValues) > 0 {
		out["status"] = translateStatus(m.StatusValues, status)
	}
	return out
}

// lookup finds a source field's value, tolerating the casing and separator
// drift council portals exhibit between pages.
func lookup(raw map[string]any, field string) string {
	if v, ok := raw[field]; ok {
		return stringify(v)
	}

	lower := strings.ToLower(field)
	for k, v := range raw {
		if strings.ToLower(k) == lower {
			return stringify(v)
		}
	}

	want := squashKey(lower)
	for k, v := range raw {
		if squashKey(strings.ToLower(k)) == want {
			return stringify(v)
		}
	}
	return ""
}

func squashKey(s string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func translateStatus(table map[string]string, raw string) string {
	raw = strings.TrimSpace(raw)
	if mapped, ok := table[raw]; ok {
		return mapped
	}
	lower := strings.ToLower(raw)
	for k, v := range table {
		if strings.ToLower(k) == lower {
			return v
		}
	}
	return raw
}
