// Package extract turns raw page fragments into normalized video records.
//
// Extraction is pure: no I/O and no shared state, so it can be exercised
// with fixed fragment fixtures. Malformed items are skipped with a warning,
// never fatal — one broken card must not abort extraction of its siblings.
package extract

import (
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/toksearch/internal/record"
)

// embeddedRes match video URLs the platform embeds in inline JSON blobs,
// which scroll-rendered result pages carry before the anchors materialize.
var embeddedRes = []*regexp.Regexp{
	regexp.MustCompile(`"url":"(https://www\.tiktok\.com/@[\w.-]+/video/\d+)"`),
	regexp.MustCompile(`"shareUrl":"(https://www\.tiktok\.com/@[\w.-]+/video/\d+)"`),
	regexp.MustCompile(`href="(https://www\.tiktok\.com/@[\w.-]+/video/\d+)"`),
}

// Extractor parses DOM fragments into video records.
type Extractor struct {
	policy *bluemonday.Policy
	logger *slog.Logger
}

// New creates an Extractor. Captured titles are stripped to plain text
// before they reach the store.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		policy: bluemonday.StrictPolicy(),
		logger: logger,
	}
}

// Extract parses one fragment and returns records in first-seen order,
// unique per fragment by video ID. query is recorded on each result.
func (e *Extractor) Extract(fragment, query string) []record.VideoRecord {
	seen := make(map[string]bool)
	var out []record.VideoRecord

	add := func(rawURL, title string) {
		username, id, ok := ParseVideoURL(rawURL)
		if !ok || id == "" {
			e.logger.Warn("extract: item without derivable id, skipping", "url", rawURL)
			return
		}
		if seen[id] {
			return
		}
		seen[id] = true
		out = append(out, record.VideoRecord{
			ID:       id,
			URL:      rawURL,
			Username: username,
			Title:    e.title(title, username),
			Query:    query,
		})
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		e.logger.Warn("extract: fragment not parseable as HTML, regex pass only", "error", err)
	} else {
		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			if !strings.Contains(href, "/video/") && !strings.Contains(href, "tiktok.com/t/") &&
				!strings.Contains(href, "vm.tiktok.com") {
				return
			}
			add(href, e.caption(sel))
		})
	}

	// Second pass over the raw text catches items the DOM pass misses.
	for _, re := range embeddedRes {
		for _, m := range re.FindAllStringSubmatch(fragment, -1) {
			add(m[1], "")
		}
	}

	return out
}

// caption pulls a human-readable caption for the item anchor: the title
// attribute, an image alt inside the card, or the anchor text, in that order.
func (e *Extractor) caption(sel *goquery.Selection) string {
	if t := sel.AttrOr("title", ""); t != "" {
		return t
	}
	if alt := sel.Find("img[alt]").First().AttrOr("alt", ""); alt != "" {
		return alt
	}
	return sel.Text()
}

// title sanitizes a captured caption, falling back to a synthesized title
// when the page yields nothing usable.
func (e *Extractor) title(raw, username string) string {
	clean := html.UnescapeString(e.policy.Sanitize(raw))
	clean = strings.Join(strings.Fields(clean), " ")
	if clean == "" {
		return fmt.Sprintf("Video by @%s", username)
	}
	return clean
}
