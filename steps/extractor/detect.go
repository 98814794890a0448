package extractor

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rasha-hantash/locscout/steps/types"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/width"
)

const (
	maxImages     = 10
	minImageSide  = 100
	minTextRunes  = 5
	longTextRunes = 10
	maxHoursRunes = 200
	minPhoneChars = 10
)

var noiseSelectors = []string{"script", "style", "noscript", "template", "svg"}

// textAtoms are the elements whose text is collected.
var textAtoms = map[atom.Atom]bool{
	atom.P: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Li: true, atom.Td: true, atom.Th: true,
	atom.Dd: true, atom.Dt: true, atom.Span: true, atom.Div: true,
	atom.Address: true, atom.Figcaption: true, atom.Time: true,
	atom.Section: true, atom.Article: true, atom.Label: true,
}

var (
	// Short text is kept only when it looks like location data.
	locationHints = []*regexp.Regexp{
		regexp.MustCompile(`[都道府県市区町村]`),
		regexp.MustCompile(`\d+[-−]\d+`),
		regexp.MustCompile(`[駅線]`),
		regexp.MustCompile(`徒歩|車で|分`),
		regexp.MustCompile(`〒\d{3}-?\d{4}`),
		regexp.MustCompile(`TEL|電話|☎`),
	}

	addressPatterns = []*regexp.Regexp{
		regexp.MustCompile(`〒\d{3}-?\d{4}`),
		regexp.MustCompile(`(東京都|北海道|(?:京都|大阪)府|.{2,3}県).{1,6}[市区町村郡].*\d`),
	}

	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\d{2,4}-\d{2,4}-\d{3,4}`),
		regexp.MustCompile(`\d{10,11}`),
		regexp.MustCompile(`TEL|電話|☎`),
	}
	phoneRun = regexp.MustCompile(`[\d-]+`)

	hoursPatterns = []*regexp.Regexp{
		regexp.MustCompile(`営業時間|開館時間|受付時間`),
		regexp.MustCompile(`\d{1,2}:\d{2}\s*[~〜～-]\s*\d{1,2}:\d{2}`),
	}

	styleWidth  = regexp.MustCompile(`(?:^|[;\s])width\s*:\s*(\d+)px`)
	styleHeight = regexp.MustCompile(`(?:^|[;\s])height\s*:\s*(\d+)px`)
)

var addressFallbacks = []string{
	`[itemprop="address"]`, ".address", ".location", "address",
	`[class*="address"]`, `[class*="location"]`, `[class*="place"]`,
	`[id*="address"]`, `[id*="location"]`,
}

var phoneFallbacks = []string{
	`a[href^="tel:"]`, `[itemprop="telephone"]`,
	`[class*="phone"]`, `[class*="tel"]`, `[id*="phone"]`, `[id*="tel"]`,
}

// extractText joins, in document order, the distinct text of text-bearing
// elements. Short fragments survive only when they carry a location hint.
func extractText(doc *goquery.Document) string {
	seen := make(map[string]bool)
	var parts []string

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		if !textAtoms[n.DataAtom] {
			return
		}
		text := strings.TrimSpace(s.Text())
		runes := utf8.RuneCountInString(text)
		if runes <= minTextRunes || seen[text] {
			return
		}
		if runes > longTextRunes || matchesAny(locationHints, text) {
			seen[text] = true
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n")
}

func extractImages(doc *goquery.Document, base *url.URL) []types.Image {
	var images []types.Image
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if src == "" {
			return true
		}
		style, _ := s.Attr("style")
		w := dimension(s, "width", styleWidth, style)
		h := dimension(s, "height", styleHeight, style)
		if w <= minImageSide || h <= minImageSide {
			return true
		}
		alt, _ := s.Attr("alt")
		images = append(images, types.Image{
			Src:    resolve(base, src),
			Alt:    alt,
			Width:  w,
			Height: h,
		})
		return len(images) < maxImages
	})
	return images
}

// dimension reads a pixel size from the attribute or, failing that, the
// inline style. Unknown sizes are 0.
func dimension(s *goquery.Selection, attr string, re *regexp.Regexp, style string) int {
	if v, ok := s.Attr(attr); ok {
		if n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "px")); err == nil {
			return n
		}
	}
	if m := re.FindStringSubmatch(style); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func detectAddress(doc *goquery.Document) string {
	match := func(text string) bool { return matchesAny(addressPatterns, width.Fold.String(text)) }
	if n := innermost(doc, match); n != nil {
		return strings.TrimSpace(n.Text())
	}
	return firstText(doc, addressFallbacks)
}

// detectPhone returns the longest run of digits and hyphens from the first
// element that looks like a phone number.
func detectPhone(doc *goquery.Document) string {
	candidate := func(text string) string {
		text = width.Fold.String(text)
		if !matchesAny(phonePatterns, text) {
			return ""
		}
		return longestRun(text)
	}

	if n := innermost(doc, func(text string) bool { return candidate(text) != "" }); n != nil {
		return candidate(n.Text())
	}

	for _, sel := range phoneFallbacks {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			if text == "" {
				href, _ := s.Attr("href")
				text = strings.TrimPrefix(href, "tel:")
			}
			found = text
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func detectHours(doc *goquery.Document) string {
	n := innermost(doc, func(text string) bool {
		return matchesAny(hoursPatterns, width.Fold.String(text))
	})
	if n == nil {
		return ""
	}
	return truncateRunes(strings.TrimSpace(n.Text()), maxHoursRunes)
}

func longestRun(text string) string {
	var best string
	for _, run := range phoneRun.FindAllString(text, -1) {
		if len(run) >= minPhoneChars && len(run) > len(best) {
			best = run
		}
	}
	return best
}

// innermost returns the first element in document order whose text matches
// and none of whose children match. Ancestors such as <body> contain every
// match on the page and would otherwise always win.
func innermost(doc *goquery.Document, match func(string) bool) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !match(s.Text()) {
			return true
		}
		matchingChild := false
		s.Children().EachWithBreak(func(_ int, c *goquery.Selection) bool {
			matchingChild = match(c.Text())
			return !matchingChild
		})
		if matchingChild {
			return true
		}
		found = s
		return false
	})
	return found
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = strings.TrimSpace(s.Text())
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
