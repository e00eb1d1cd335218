package normalize

import (
	"regexp"
	"strings"

	"github.com/oddlyrohit/councilscraper/internal/model"
)

// Classification is the outcome of classifying a free-text works description.
type Classification struct {
	Category      model.Category
	Type          model.ApplicationType
	DwellingCount *int
	LotCount      *int
	Storeys       *int
	NewBuild      bool
	Demolition    bool
	Confidence    float64
}

// categoryKeywords drives the local classifier. Order does not matter;
// the category with the most keyword hits wins.
var categoryKeywords = map[model.Category][]string{
	model.CategoryResidentialSingle: {
		"dwelling", "house", "residence", "single storey", "two storey",
		"new dwelling", "dwelling house",
	},
	model.CategoryResidentialDual: {
		"dual occupancy", "duplex", "attached dwelling", "semi-detached",
	},
	model.CategoryResidentialMulti: {
		"units", "apartments", "townhouses", "residential flat building",
		"multi-dwelling", "medium density", "high density", "multi unit",
	},
	model.CategoryResidentialAlteration: {
		"alterations", "additions", "extension", "renovation", "refurbishment",
	},
	model.CategoryResidentialAncillary: {
		"granny flat", "secondary dwelling", "shed", "garage", "carport",
		"swimming pool", "pool", "deck", "pergola", "fence", "retaining wall",
	},
	model.CategoryResidentialSubdivision: {
		"subdivision", "land division", "lot", "boundary adjustment",
		"torrens title",
	},
	model.CategoryCommercialRetail: {
		"shop", "retail", "restaurant", "cafe", "food premises", "takeaway",
		"commercial premises", "shopping",
	},
	model.CategoryCommercialOffice: {
		"office", "commercial building", "business premises",
	},
	model.CategoryIndustrialWarehouse: {
		"warehouse", "storage", "distribution", "logistics",
	},
	model.CategoryIndustrialManufact: {
		"factory", "manufacturing", "industrial building",
	},
	model.CategoryMixedUse: {
		"mixed use", "mixed-use", "shop top housing", "residential above",
	},
	model.CategoryDemolition: {
		"demolition", "demolish",
	},
	model.CategoryChangeOfUse: {
		"change of use", "use change",
	},
	model.CategorySignage: {
		"sign", "signage", "advertising", "billboard",
	},
	model.CategoryTreeRemoval: {
		"tree removal", "tree", "vegetation",
	},
}

var (
	dwellingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d+)\s*(?:unit|dwelling|apartment|residence|townhouse)s?`),
		regexp.MustCompile(`(?:construction of|erect|build)\s*(\d+)\s*(?:unit|dwelling)`),
	}
	lotPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d+)\s*(?:lot|allotment)s?`),
		regexp.MustCompile(`subdivision\s+(?:into|of|creating)\s+(\d+)`),
		regexp.MustCompile(`create\s+(\d+)\s+(?:lot|allotment)`),
	}
	storeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d+)\s*(?:storey|story|level)s?`),
		regexp.MustCompile(`(\d+)\s*-\s*(?:storey|story|level)`),
	}
)

// Classify scores a description against the keyword table and extracts
// countable details. Returns nil when no category gets a confident match,
// which a caller may treat as "other".
func Classify(description string) *Classification {
	desc := strings.ToLower(strings.TrimSpace(description))
	if desc == "" {
		return nil
	}

	var best model.Category
	bestScore := 0
	for category, keywords := range categoryKeywords {
		score := 0
		for _, kw := range keywords {
			if strings.Contains(desc, kw) {
				score++
			}
		}
		if score > bestScore || (score == bestScore && score > 0 && category < best) {
			best, bestScore = category, score
		}
	}
	if bestScore == 0 {
		return nil
	}
	// One hit in a short, specific keyword list is enough; broad lists need two.
	if bestScore < 2 && len(categoryKeywords[best]) > 3 {
		return nil
	}

	c := &Classification{
		Category:      best,
		Type:          inferType(desc),
		DwellingCount: extractCount(desc, dwellingPatterns, 1, 1000),
		LotCount:      extractCount(desc, lotPatterns, 2, 500),
		Storeys:       extractStoreys(desc),
		NewBuild:      strings.Contains(desc, "new") || strings.Contains(desc, "construct"),
		Demolition:    strings.Contains(desc, "demolition") || strings.Contains(desc, "demolish"),
		Confidence:    min(0.7, 0.3+float64(bestScore)*0.2),
	}
	if c.DwellingCount == nil && strings.Contains(desc, "dual occupancy") {
		two := 2
		c.DwellingCount = &two
	}
	return c
}

func extractCount(desc string, patterns []*regexp.Regexp, lo, hi int) *int {
	for _, p := range patterns {
		m := p.FindStringSubmatch(desc)
		if m == nil {
			continue
		}
		if n := Integer(m[1], lo, hi); n != nil {
			return n
		}
	}
	return nil
}

func extractStoreys(desc string) *int {
	if n := extractCount(desc, storeyPatterns, 1, 100); n != nil {
		return n
	}
	words := map[string]int{
		"single storey": 1,
		"two storey":    2,
		"double storey": 2,
		"three storey":  3,
	}
	for w, n := range words {
		if strings.Contains(desc, w) {
			v := n
			return &v
		}
	}
	return nil
}

func inferType(desc string) model.ApplicationType {
	contains := func(kws ...string) bool {
		for _, kw := range kws {
			if strings.Contains(desc, kw) {
				return true
			}
		}
		return false
	}
	switch {
	case contains("modification", "s96", "section 96", "s4.55", "section 4.55"):
		return model.TypeModification
	case contains("subdivision", "subdivide", "land division"):
		return model.TypeSubdivision
	case contains("complying development", "cdc"):
		return model.TypeComplyingDevelopment
	case contains("construction certificate"):
		return model.TypeConstructionCert
	default:
		return model.TypeDevelopmentApplication
	}
}
