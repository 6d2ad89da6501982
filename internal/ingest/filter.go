package ingest

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/resale-arb/internal/model"
)

var accessoryKeywords = []string{
	"custodia", "coque", "hulle", "hülle", "funda", "cover", "case", "bumper",
	"sleeve", "shell", "pellicola", "screen protector", "vetro temperato",
	"protezione schermo", "caricatore", "charger", "cavo", "cable",
	"adattatore", "adapter", "alimentatore", "cinturino", "strap", "band",
	"elica", "propeller", "battery pack", "batteria esterna", "mouse",
	"tastiera", "keyboard", "supporto", "stand", "dock", "hub usb", "borsa",
	"bag", "zaino",
}

var compatibilityMarkers = []string{
	"compatibile con", "compatible with", "compatible avec", "compatible",
	"pour", "for", "per", "für",
}

var coreDeviceMarkers = []string{
	"smartphone", "telefono", "cellulare", "notebook", "laptop", "fotocamera",
	"mirrorless", "dslr", "console", "smartwatch", "watch ultra", "garmin",
	"drone", "steam deck", "rog ally", "legion go", "ricondizionato",
	"refurbished", "renewed", "usato",
}

var bundleMarkers = []string{
	"con cover", "cover inclusa", "cover incluso", "custodia inclusa",
	"custodia incluso", "with case", "case included", "avec coque",
	"coque incluse", "inklusive hülle",
}

type anchor struct {
	token string
	floor float64
}

// Below these prices a title naming the device is almost always an accessory.
var deviceAnchors = []anchor{
	{"iphone", 120}, {"apple watch ultra", 280}, {"garmin fenix", 220},
	{"garmin epix", 260}, {"forerunner", 140}, {"dji mini", 220},
	{"dji air", 300}, {"dji mavic", 450}, {"drone", 200}, {"steam deck", 220},
	{"rog ally", 300}, {"legion go", 340}, {"macbook", 180}, {"ipad", 100},
	{"canon eos", 180}, {"sony alpha", 180}, {"mirrorless", 180},
	{"playstation", 120}, {"xbox", 120},
}

var (
	storageRe = regexp.MustCompile(`\b\d{2,4}\s?(gb|tb)\b`)
	// Short prepositions need word boundaries to avoid matching inside words.
	wordMarkers = map[string]*regexp.Regexp{
		"for":  regexp.MustCompile(`\bfor\b`),
		"per":  regexp.MustCompile(`\bper\b`),
		"pour": regexp.MustCompile(`\bpour\b`),
	}
)

const accessoryPriceCeiling = 80

func hasToken(s, token string) bool {
	if re, ok := wordMarkers[token]; ok {
		return re.MatchString(s)
	}
	if token == "für" {
		return strings.Contains(s, "für") || strings.Contains(s, "fur ")
	}
	return strings.Contains(s, token)
}

func hasAnyToken(s string, tokens []string) bool {
	for _, t := range tokens {
		if hasToken(s, t) {
			return true
		}
	}
	return false
}

func anchorFloor(s string) (float64, bool) {
	floor, ok := 0.0, false
	for _, a := range deviceAnchors {
		if strings.Contains(s, a.token) {
			floor = max(floor, a.floor)
			ok = true
		}
	}
	return floor, ok
}

// AccessoryReasons explains why c looks like an accessory rather than the
// device its title names. An empty result means c is a plausible device
// listing.
func AccessoryReasons(c model.Candidate) []string {
	title := strings.ToLower(c.Title)
	price := c.Price.InexactFloat64()

	accessory := hasAnyToken(title, accessoryKeywords)
	compatibility := hasAnyToken(title, compatibilityMarkers)
	storage := storageRe.MatchString(title)
	floor, anchored := anchorFloor(title)
	lowAnchor := anchored && price < floor

	var reasons []string
	if lowAnchor {
		reasons = append(reasons, fmt.Sprintf("low-price-anchor<%.0f", floor))
	}
	if accessory && coreDeviceSale(title, price, storage, floor, anchored) {
		return nil
	}
	if accessory && compatibility {
		reasons = append(reasons, "accessory+compatibility")
	}
	if accessory && lowAnchor {
		reasons = append(reasons, "accessory+low-price")
	}
	if accessory && !storage && price < accessoryPriceCeiling {
		reasons = append(reasons, "accessory-no-storage-low-price")
	}
	return reasons
}

// coreDeviceSale reports whether an accessory word appears in what is still a
// device listing, e.g. "iPhone 13 128GB con cover".
func coreDeviceSale(title string, price float64, storage bool, floor float64, anchored bool) bool {
	if !anchored || price < floor {
		return false
	}
	if storage || hasAnyToken(title, coreDeviceMarkers) {
		return true
	}
	return hasAnyToken(title, bundleMarkers) && price >= max(120, floor)
}

// FilterAccessories drops candidates that look like accessories and returns
// the kept candidates plus one log line per dropped candidate.
func FilterAccessories(cands []model.Candidate) ([]model.Candidate, []string) {
	kept := make([]model.Candidate, 0, len(cands))
	var dropped []string
	for _, c := range cands {
		reasons := AccessoryReasons(c)
		if len(reasons) == 0 {
			kept = append(kept, c)
			continue
		}
		dropped = append(dropped, fmt.Sprintf("title=%q price=%s reasons=%s",
			truncate(c.Title, 90), c.Price.StringFixed(2), strings.Join(reasons, ",")))
	}
	if len(dropped) > 0 {
		zap.L().Info("ingest: dropped accessory listings",
			zap.Int("dropped", len(dropped)),
			zap.Int("kept", len(kept)),
		)
	}
	return kept, dropped
}

// DedupeKey identifies a listing: its normalized URL when it has one,
// otherwise the collapsed title, price and category.
func DedupeKey(c model.Candidate) string {
	if u := NormalizeURL(c.URL); u != "" {
		return "url:" + u
	}
	title := strings.Join(strings.Fields(strings.ToLower(c.Title)), " ")
	return fmt.Sprintf("title:%s|price:%s|cat:%s", title, c.Price.StringFixed(2), c.Category)
}

// Dedupe keeps the first candidate for each DedupeKey, preserving order.
func Dedupe(cands []model.Candidate) []model.Candidate {
	out := make([]model.Candidate, 0, len(cands))
	seen := make(map[string]bool, len(cands))
	for _, c := range cands {
		k := DedupeKey(c)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

// NormalizeURL returns scheme://host/path for http(s) URLs, adding https to
// bare hosts and protocol-relative URLs. Query and fragment are dropped.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return ""
	case strings.HasPrefix(s, "//"):
		s = "https:" + s
	case !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://"):
		if !strings.Contains(s, ".") || strings.Contains(s, " ") {
			return ""
		}
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return ""
	}
	path := strings.TrimRight(u.Path, "/")
	return strings.ToLower(u.Scheme + "://" + u.Host + path)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
