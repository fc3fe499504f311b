package ingestion

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// sitemapNamespace is the XML namespace of sitemaps.org documents.
const sitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

type urlSet struct {
	URLs []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	XMLName xml.Name
	Loc     string `xml:"loc"`
}

// ParseSitemap returns the <loc> URLs of a sitemaps.org urlset, in document order.
// Entries outside the sitemaps.org namespace and blank locations are ignored.
func ParseSitemap(r io.Reader) ([]string, error) {
	var set urlSet
	if err := xml.NewDecoder(r).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSitemap, err)
	}

	urls := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		if u.XMLName.Space != sitemapNamespace {
			continue
		}
		loc := strings.TrimSpace(u.Loc)
		if loc != "" {
			urls = append(urls, loc)
		}
	}
	return urls, nil
}
