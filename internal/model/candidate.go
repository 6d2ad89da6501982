package model

import (
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Category is the closed set of product families the engine knows how to
// route to valuation providers.
type Category string

const (
	CategoryPhotography     Category = "photography"
	CategoryApplePhone      Category = "apple_phone"
	CategorySmartwatch      Category = "smartwatch"
	CategoryDrone           Category = "drone"
	CategoryHandheldConsole Category = "handheld_console"
	CategoryGeneralTech     Category = "general_tech"
)

// Categories lists every category in declaration order.
var Categories = []Category{
	CategoryPhotography,
	CategoryApplePhone,
	CategorySmartwatch,
	CategoryDrone,
	CategoryHandheldConsole,
	CategoryGeneralTech,
}

// CategoryFromRaw maps a free-text category label to a Category. Unknown
// labels fall back to CategoryGeneralTech.
func CategoryFromRaw(raw string) Category {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	switch s {
	case "photography", "camera", "cameras", "lens", "lenses":
		return CategoryPhotography
	case "apple_phone", "iphone", "smartphone", "phone":
		return CategoryApplePhone
	case "smartwatch", "watch", "apple_watch", "wearable":
		return CategorySmartwatch
	case "drone", "drones":
		return CategoryDrone
	case "handheld_console", "handheld", "console", "steam_deck":
		return CategoryHandheldConsole
	default:
		return CategoryGeneralTech
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// ConditionBucket groups free-text listing conditions into the buckets that
// drive risk buffers.
type ConditionBucket string

const (
	ConditionLikeNew    ConditionBucket = "like_new"
	ConditionVeryGood   ConditionBucket = "very_good"
	ConditionGood       ConditionBucket = "good"
	ConditionAcceptable ConditionBucket = "acceptable"
	ConditionUnknown    ConditionBucket = "unknown"
)

// Candidate is a listing under evaluation. It is immutable once ingested and
// passed by value.
type Candidate struct {
	Title               string          `json:"title"`
	Price               decimal.Decimal `json:"price"`
	Category            Category        `json:"category"`
	Identifier          string          `json:"identifier,omitempty"`
	URL                 string          `json:"url,omitempty"`
	Marketplace         string          `json:"marketplace,omitempty"`
	Condition           string          `json:"condition,omitempty"`
	ConditionConfidence float64         `json:"condition_confidence,omitempty"`
	PackagingOnly       bool            `json:"packaging_only,omitempty"`
}

// ConditionBucket classifies the free-text condition label.
func (c Candidate) ConditionBucket() ConditionBucket {
	s := strings.ToLower(strings.TrimSpace(c.Condition))
	switch {
	case s == "":
		return ConditionUnknown
	case strings.Contains(s, "like new"), strings.Contains(s, "come nuovo"),
		strings.Contains(s, "like_new"), strings.Contains(s, "mint"):
		return ConditionLikeNew
	case strings.Contains(s, "very good"), strings.Contains(s, "ottime condizioni"),
		strings.Contains(s, "very_good"), strings.Contains(s, "sehr gut"):
		return ConditionVeryGood
	case strings.Contains(s, "acceptable"), strings.Contains(s, "accettabile"),
		strings.Contains(s, "fair"):
		return ConditionAcceptable
	case strings.Contains(s, "good"), strings.Contains(s, "buone condizioni"),
		strings.Contains(s, "gut"):
		return ConditionGood
	default:
		return ConditionUnknown
	}
}

// Region returns "it" for Italian listings, "eu" for the other EU storefronts
// the engine sources from, and "other" for everything else. The marketplace
// label wins over the URL host.
func (c Candidate) Region() string {
	if r := regionFromCode(c.Marketplace); r != "" {
		return r
	}
	if c.URL != "" {
		if u, err := url.Parse(c.URL); err == nil {
			host := strings.ToLower(u.Hostname())
			if i := strings.LastIndex(host, "."); i >= 0 {
				if r := regionFromCode(host[i+1:]); r != "" {
					return r
				}
			}
		}
	}
	return "other"
}

func regionFromCode(code string) string {
	s := strings.ToLower(strings.TrimSpace(code))
	if i := strings.LastIndexAny(s, "._-"); i >= 0 {
		s = s[i+1:]
	}
	switch s {
	case "it":
		return "it"
	case "de", "fr", "es":
		return "eu"
	default:
		return ""
	}
}
