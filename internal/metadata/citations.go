package metadata

import (
	"net/url"
	"sort"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
)

// ExtractDomain returns the lowercase host from a URL, removing any port and a
// leading "www." but preserving other subdomains when present.
// Example: "https://blog.example.com/path" -> "blog.example.com"
func ExtractDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www."), nil
}

// DomainOrEmpty is ExtractDomain for rendering paths that cannot fail.
func DomainOrEmpty(rawURL string) string {
	d, err := ExtractDomain(rawURL)
	if err != nil {
		return ""
	}
	return d
}

// DedupeSources keeps the first source seen for every exact URL, preserving
// encounter order across all findings.
func DedupeSources(findings []models.SubtopicFindings) []models.Source {
	seen := make(map[string]struct{})
	out := make([]models.Source, 0)
	for _, f := range findings {
		for _, s := range f.Sources {
			if _, ok := seen[s.URL]; ok {
				continue
			}
			seen[s.URL] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// LeadingURLs returns the URLs of the first n sources.
func LeadingURLs(sources []models.Source, n int) []string {
	if n > len(sources) {
		n = len(sources)
	}
	urls := make([]string, 0, n)
	for _, s := range sources[:n] {
		urls = append(urls, s.URL)
	}
	return urls
}

// DomainCount represents a domain and its source count
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// TopDomains counts sources per domain, most frequent first, ties by name.
func TopDomains(sources []models.Source, n int) []DomainCount {
	counts := make(map[string]int)
	for _, s := range sources {
		if d := DomainOrEmpty(s.URL); d != "" {
			counts[d]++
		}
	}
	out := make([]DomainCount, 0, len(counts))
	for d, c := range counts {
		out = append(out, DomainCount{Domain: d, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Domain < out[j].Domain
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
