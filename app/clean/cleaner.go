package clean

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Cleaner strips markup and boilerplate from raw article HTML.
type Cleaner struct{}

func NewCleaner() *Cleaner {
	return &Cleaner{}
}

// Run extracts plain text from raw HTML. Full documents go through
// readability extraction; fragments (feed descriptions, API snippets) fall
// back to a plain markup strip, since readability needs a page structure to
// score.
func (c *Cleaner) Run(rawHTML string) (string, error) {
	if strings.TrimSpace(rawHTML) == "" {
		return "", fmt.Errorf("raw content is empty")
	}

	if article, err := readability.FromReader(strings.NewReader(rawHTML), nil); err == nil {
		if text := collapseWhitespace(article.TextContent); text != "" {
			return text, nil
		}
	}

	return c.stripMarkup(rawHTML)
}

func (c *Cleaner) stripMarkup(rawHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript").Remove()

	text := collapseWhitespace(doc.Text())
	if text == "" {
		return "", fmt.Errorf("no text extracted from HTML")
	}
	return text, nil
}

// Normalize lowercases text and strips punctuation and whitespace runs,
// producing the canonical form fingerprints are computed over. Two articles
// differing only in case, punctuation or spacing normalize identically.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimSpace(b.String())
}

// Fingerprint hashes the normalized title and body. It is the dedup key and
// the partition key for every stage past the Parser/Deduper.
func Fingerprint(title, text string) string {
	hash := sha256.Sum256([]byte(Normalize(title) + Normalize(text)))
	return hex.EncodeToString(hash[:])
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
