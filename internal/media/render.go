// Package media renders the HTML that location and visual rules carry and
// decorates matched responses with at most one catalog image.
package media

import (
	"fmt"
	"path"
	"strings"

	"doran/internal/domain"
)

// DefaultStaticBase is the public prefix of uploaded media.
const DefaultStaticBase = "/static/"

var videoExt = map[string]bool{".mp4": true, ".webm": true, ".ogg": true}

// Renderer builds media tags rooted at a static base path.
type Renderer struct {
	base string
}

// NewRenderer returns a Renderer for base; an empty base means DefaultStaticBase.
func NewRenderer(base string) *Renderer {
	if base == "" {
		base = DefaultStaticBase
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Renderer{base: base}
}

// Resolve prefixes url with the static base unless it already carries it or is absolute.
func (r *Renderer) Resolve(url string) string {
	url = strings.TrimSpace(url)
	switch {
	case url == "":
		return ""
	case strings.HasPrefix(url, r.base),
		strings.HasPrefix(url, "http://"),
		strings.HasPrefix(url, "https://"):
		return url
	}
	return r.base + strings.TrimPrefix(url, "/")
}

// IsVideo reports whether url names a motion format.
func IsVideo(url string) bool {
	return videoExt[strings.ToLower(path.Ext(url))]
}

// Tag returns the <img> or <video> element for one url.
func (r *Renderer) Tag(url, alt string) string {
	src := r.Resolve(url)
	if IsVideo(src) {
		return fmt.Sprintf("<video src='%s' controls class='message-video' style='max-width: 100%%; height: auto;'></video>", src)
	}
	return fmt.Sprintf("<img src='%s' alt='%s' class='message-image'>", src, alt)
}

// Render returns description followed by the media of urls. Videos are always
// shown; when there are more than two images only the first two are shown and
// the second carries a +N overlay counting the rest.
func (r *Renderer) Render(description, alt string, urls []string) string {
	var videos, images []string
	for _, u := range urls {
		if u = strings.TrimSpace(u); u == "" {
			continue
		}
		if IsVideo(u) {
			videos = append(videos, u)
		} else {
			images = append(images, u)
		}
	}
	if len(videos) == 0 && len(images) == 0 {
		return description
	}

	var b strings.Builder
	b.WriteString(description)
	b.WriteString("<br>")
	if len(images) > 2 {
		b.WriteString("<div class='image-gallery'>")
		b.WriteString(r.Tag(images[0], alt))
		b.WriteString("<div class='gallery-more'>")
		b.WriteString(r.Tag(images[1], alt))
		fmt.Fprintf(&b, "<span class='gallery-overlay'>+%d</span>", len(images)-2)
		b.WriteString("</div></div>")
	} else {
		for _, u := range images {
			b.WriteString(r.Tag(u, alt))
		}
	}
	for _, u := range videos {
		b.WriteString(r.Tag(u, alt))
	}
	return b.String()
}

// RenderRule fills the response of a location or visual rule from its
// description and media. Other rules, and media rules without either, pass through.
func (r *Renderer) RenderRule(rule domain.Rule) domain.Rule {
	var alt string
	switch rule.Bucket {
	case domain.BucketLocations:
		alt = "Location Image"
	case domain.BucketVisuals:
		alt = "Visual Content"
	default:
		return rule
	}
	if rule.Description == "" && len(rule.MediaURLs) == 0 {
		return rule
	}
	rule.Response = r.Render(rule.Description, alt, rule.MediaURLs)
	return rule
}
