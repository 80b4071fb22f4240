// Package textfit shortens free text to a hard length budget without ever
// cutting through an embedded URL. A partially sliced URL is worse than a
// dropped one: the link stops resolving but still looks clickable.
package textfit

import (
	"regexp"
	"strings"
)

// Result is the outcome of a Fit call.
type Result struct {
	Text      string
	Truncated bool
}

// ellipsis marks the point where text was removed.
const ellipsis = "..."

// urlPattern is a conservative scheme+host+path matcher: it requires a
// label-dot-label host so bare words after "http://" are not swallowed.
var urlPattern = regexp.MustCompile(`https?://[A-Za-z0-9][A-Za-z0-9.-]*\.[A-Za-z]{2,}(?::\d+)?(?:/[^\s]*)?`)

// URLSpans returns the byte-offset [start, end) spans of every URL in text,
// in order. Callers use it to build rich-text annotations over already-fitted
// text with the same matcher Fit uses, so annotations and truncation can
// never disagree about what a URL is.
func URLSpans(text string) [][]int {
	return urlPattern.FindAllStringIndex(text, -1)
}

// Fit shortens content so that the result plus footer never exceeds limit.
// Lengths are counted in runes. The function is pure and deterministic, and
// idempotent once content already fits: in that case it is returned verbatim.
func Fit(content, footer string, limit int) Result {
	budget := limit - runeLen(footer)
	if budget <= 0 {
		return Result{Text: "", Truncated: content != ""}
	}
	if runeLen(content) <= budget {
		return Result{Text: content, Truncated: false}
	}

	urls := extractURLs(content)

	// URLs alone over budget: keep as many whole URLs as fit, drop the rest.
	if urlRunTotal(urls) > budget {
		return Result{Text: fitURLsOnly(urls, budget), Truncated: true}
	}

	segs := splitSegments(content)
	text := assembleWithinBudget(segs, budget)

	// Safety net: the heuristics above are budget-exact, but cap
	// unconditionally so the invariant holds no matter what.
	if runeLen(text) > budget {
		text = hardClip(text, budget-len(ellipsis)) + ellipsis
	}
	return Result{Text: text, Truncated: true}
}

// segment is a run of content that is either a URL or free text.
type segment struct {
	text  string
	isURL bool
}

// splitSegments splits content into an ordered alternation of free-text and
// URL segments. Free-text segments are whitespace-trimmed; empty runs and
// repeated occurrences of the same URL are dropped (first occurrence wins,
// matching extractURLs).
func splitSegments(content string) []segment {
	var segs []segment
	appendText := func(s string) {
		if t := strings.TrimSpace(s); t != "" {
			segs = append(segs, segment{text: t})
		}
	}

	seen := make(map[string]struct{})
	last := 0
	for _, loc := range urlPattern.FindAllStringIndex(content, -1) {
		appendText(content[last:loc[0]])
		last = loc[1]
		u := content[loc[0]:loc[1]]
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		segs = append(segs, segment{text: u, isURL: true})
	}
	appendText(content[last:])
	return segs
}

// extractURLs returns all URL substrings in first-occurrence order, deduplicated.
func extractURLs(content string) []string {
	seen := make(map[string]struct{})
	var urls []string
	for _, u := range urlPattern.FindAllString(content, -1) {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls
}

// urlRunTotal is the length of all URLs joined by single spaces.
func urlRunTotal(urls []string) int {
	if len(urls) == 0 {
		return 0
	}
	total := len(urls) - 1
	for _, u := range urls {
		total += runeLen(u)
	}
	return total
}

// fitURLsOnly keeps as many whole URLs, in order, as fit within budget.
// If not even the first URL fits whole, it is hard-clipped as a last resort.
func fitURLsOnly(urls []string, budget int) string {
	var b strings.Builder
	used := 0
	for _, u := range urls {
		cost := runeLen(u)
		if used > 0 {
			cost++
		}
		if used+cost > budget {
			break
		}
		if used > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(u)
		used += cost
	}
	if b.Len() == 0 {
		return hardClip(urls[0], budget)
	}
	return b.String()
}

// assembleWithinBudget walks the segments in order, keeping every URL whole
// and cutting free text against the shrinking remaining budget. Room for all
// later URLs (plus their joining spaces) and for the ellipsis marker is
// reserved before any text is kept, so a greedy text segment can never push
// a URL out.
func assembleWithinBudget(segs []segment, budget int) string {
	// urlAfter[i] = runes needed for URL segments at index >= i, each with
	// one joining space.
	urlAfter := make([]int, len(segs)+1)
	for i := len(segs) - 1; i >= 0; i-- {
		urlAfter[i] = urlAfter[i+1]
		if segs[i].isURL {
			urlAfter[i] += runeLen(segs[i].text) + 1
		}
	}

	// Text is cut against a budget shrunk by the marker cost ("..." plus a
	// possible joining space), so placing the marker afterwards cannot
	// overflow.
	innerBudget := budget - len(ellipsis) - 1

	var out []string
	used := 0
	cut := false
	cutBeforeURL := false
	sawURL := false

	for i, seg := range segs {
		join := 0
		if len(out) > 0 {
			join = 1
		}

		if seg.isURL {
			out = append(out, seg.text)
			used += join + runeLen(seg.text)
			sawURL = true
			continue
		}

		avail := innerBudget - used - urlAfter[i+1] - join
		switch {
		case avail <= 0:
			cut = true
			if !sawURL {
				cutBeforeURL = true
			}
		case runeLen(seg.text) <= avail:
			out = append(out, seg.text)
			used += join + runeLen(seg.text)
		default:
			clipped := cutAtSpace(seg.text, avail)
			cut = true
			if !sawURL {
				cutBeforeURL = true
			}
			if clipped != "" {
				out = append(out, clipped)
				used += join + runeLen(clipped)
			}
		}
	}

	if cut {
		out = placeEllipsis(out, cutBeforeURL, segs, budget)
	}
	return strings.Join(out, " ")
}

// placeEllipsis inserts the marker immediately before the first surviving URL
// when text ahead of it was cut, otherwise at the very end. The marker is
// never glued onto a URL: that would change the link target, so next to a URL
// it is space-joined instead. A whole URL is never sacrificed for the marker:
// if the marker itself would overflow the budget, it is dropped.
func placeEllipsis(out []string, cutBeforeURL bool, segs []segment, budget int) []string {
	if len(out) == 0 {
		return out
	}

	total := len(out) - 1
	for _, s := range out {
		total += runeLen(s)
	}

	if cutBeforeURL {
		for i, s := range out {
			if !isURL(s, segs) {
				continue
			}
			if i == 0 {
				if total+len(ellipsis)+1 > budget {
					return out
				}
				return append([]string{ellipsis}, out...)
			}
			if total+len(ellipsis) > budget {
				return out
			}
			out[i-1] += ellipsis
			return out
		}
	}

	last := len(out) - 1
	if isURL(out[last], segs) {
		if total+len(ellipsis)+1 > budget {
			return out
		}
		return append(out, ellipsis)
	}
	if total+len(ellipsis) > budget {
		return out
	}
	out[last] += ellipsis
	return out
}

// isURL reports whether s is one of the original URL segments.
func isURL(s string, segs []segment) bool {
	for _, seg := range segs {
		if seg.isURL && seg.text == s {
			return true
		}
	}
	return false
}

// cutAtSpace shortens text to at most allowed runes, preferring the last
// space within the slice when stopping there loses no more than ~30% of the
// allowed length. Returns "" when allowed is not positive.
func cutAtSpace(text string, allowed int) string {
	if allowed <= 0 {
		return ""
	}
	clipped := hardClip(text, allowed)
	if idx := strings.LastIndexByte(clipped, ' '); idx >= 0 && runeLen(clipped[:idx]) >= allowed*7/10 {
		return strings.TrimRight(clipped[:idx], " ")
	}
	return clipped
}

// hardClip truncates s to at most n runes.
func hardClip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func runeLen(s string) int {
	return len([]rune(s))
}
