package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"mdimage/internal/models"
)

// markerPattern matches ![description](url) and captures url.
var markerPattern = regexp.MustCompile(`!\[[^\]]*?\]\(([^)]*?)\)`)

// Extract returns the URL of every image marker in text, in order of
// appearance. It never fails; text without markers yields an empty list.
func Extract(text string) models.LinkList {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	links := make(models.LinkList, 0, len(matches))
	for _, m := range matches {
		links = append(links, m[1])
	}
	return links
}

// Listing formats links for display: a count line followed by one
// numbered line per link.
func Listing(links models.LinkList) string {
	if !links.HasLinks() {
		return "No image links found"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Successfully extracted %d image links:", len(links))
	for i, link := range links {
		fmt.Fprintf(&b, "\n%d. %s", i+1, link)
	}
	return b.String()
}
