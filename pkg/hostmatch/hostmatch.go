// Package hostmatch decides whether a redirect host is close enough to a
// reference host to be trusted without an explicit allow-list.
//
// The check is a heuristic apex-domain comparison, not a full public suffix
// list implementation: only a small fixed table of two-label suffixes is
// consulted. This is a known limitation; the table is configurable data so
// deployments can extend it without changing trust-boundary behavior for
// everyone else.
package hostmatch

import "strings"

// DefaultTwoLabelSuffixes is the built-in table of multi-label public
// suffixes. Hosts ending in one of these need three labels to identify an
// apex domain instead of two.
var DefaultTwoLabelSuffixes = []string{
	"co.uk",
	"org.uk",
	"gov.uk",
	"ac.uk",
	"com.au",
	"net.au",
	"org.au",
	"co.nz",
	"co.jp",
	"com.br",
	"co.za",
	"com.mx",
	"com.cn",
	"co.in",
}

// Matcher compares hosts against a two-label suffix table.
// The zero value uses DefaultTwoLabelSuffixes.
type Matcher struct {
	Suffixes []string
}

// Match reports whether hosts a and b share an apex domain. Exact matches
// short-circuit true. Otherwise the last two labels are compared, or the last
// three when either host ends in a known two-label suffix.
func (m Matcher) Match(a, b string) bool {
	if a == b {
		return true
	}

	suffixes := m.Suffixes
	if suffixes == nil {
		suffixes = DefaultTwoLabelSuffixes
	}

	labels := 2
	if hasTwoLabelSuffix(a, suffixes) || hasTwoLabelSuffix(b, suffixes) {
		labels = 3
	}

	return lastLabels(a, labels) == lastLabels(b, labels)
}

// Match compares two hosts using the default suffix table.
func Match(a, b string) bool {
	return Matcher{}.Match(a, b)
}

func hasTwoLabelSuffix(host string, suffixes []string) bool {
	for _, s := range suffixes {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

// lastLabels returns the trailing n dot-separated labels of host, or the
// whole host when it has fewer labels. An empty host never matches a
// non-empty one because Match already handled exact equality.
func lastLabels(host string, n int) string {
	parts := strings.Split(host, ".")
	if len(parts) <= n {
		return host
	}
	return strings.Join(parts[len(parts)-n:], ".")
}
