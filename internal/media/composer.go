package media

import (
	"strings"

	"doran/internal/domain"
)

// CatalogEntry is one image the composer may attach.
type CatalogEntry struct {
	Questions []string
	URL       string
}

// Composer appends a catalog image to a response when the matched rule's
// keywords point at it. A Composer is immutable once built.
type Composer struct {
	renderer *Renderer
	catalog  []CatalogEntry
}

// NewComposer builds the catalog from location rules that have both questions and media.
func NewComposer(renderer *Renderer, locations []domain.Rule) *Composer {
	if renderer == nil {
		renderer = NewRenderer("")
	}
	c := &Composer{renderer: renderer}
	for _, r := range locations {
		if len(r.Questions) == 0 || len(r.MediaURLs) == 0 {
			continue
		}
		c.catalog = append(c.catalog, CatalogEntry{Questions: r.Questions, URL: r.MediaURLs[0]})
	}
	return c
}

// Len returns the catalog size.
func (c *Composer) Len() int { return len(c.catalog) }

// Compose appends the tag of the first catalog entry whose questions contain any
// keyword, compared case-insensitively. Without keywords text is returned unchanged.
func (c *Composer) Compose(text string, keywords []string) string {
	kws := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kws = append(kws, k)
		}
	}
	if len(kws) == 0 {
		return text
	}
	for _, e := range c.catalog {
		if !anyContains(e.Questions, kws) {
			continue
		}
		if e.URL == "" {
			return text
		}
		return text + c.renderer.Tag(e.URL, "Chatbot Image")
	}
	return text
}

func anyContains(questions, keywords []string) bool {
	for _, q := range questions {
		lq := strings.ToLower(q)
		for _, k := range keywords {
			if strings.Contains(lq, k) {
				return true
			}
		}
	}
	return false
}
