package bundle

import (
	"regexp"
	"sort"
	"strings"
)

var (
	mdLinkPattern  = regexp.MustCompile(`\]\(([^)]+)\)`)
	htmlSrcPattern = regexp.MustCompile(`(?i)\bsrc=["']([^"']+)["']`)
	rawQAPattern   = regexp.MustCompile(`/qa/[^\s)"'>]+`)
)

// qaAssetRefs extracts the qa/-namespace asset paths referenced by a markdown
// body. Three passes: markdown link and image targets, HTML src attributes,
// and a raw /qa/ fallback for anything the first two miss. Results are
// normalized canonical paths in sorted order.
func qaAssetRefs(md string) []string {
	if md == "" {
		return nil
	}
	refs := make(map[string]struct{})
	add := func(rel string) { refs[normalizeRel(rel)] = struct{}{} }

	for _, m := range mdLinkPattern.FindAllStringSubmatch(md, -1) {
		url := strings.TrimSpace(m[1])
		switch {
		case strings.HasPrefix(url, "/"+QAPrefix):
			add(url[1:])
		case strings.HasPrefix(url, QAPrefix):
			add(url)
		default:
			if idx := strings.Index(url, "/"+QAPrefix); idx >= 0 {
				add(url[idx+1:])
			}
		}
	}

	for _, m := range htmlSrcPattern.FindAllStringSubmatch(md, -1) {
		url := strings.TrimSpace(m[1])
		if strings.HasPrefix(url, "/"+QAPrefix) {
			add(url[1:])
		} else if strings.HasPrefix(url, QAPrefix) {
			add(url)
		}
	}

	for _, m := range rawQAPattern.FindAllString(md, -1) {
		add(strings.TrimPrefix(strings.TrimSpace(m), "/"))
	}

	out := make([]string, 0, len(refs))
	for r := range refs {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
