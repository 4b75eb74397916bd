// Package filter decides whether a posting is relevant to a subscriber.
package filter

import (
	"strings"

	"cryptojobs-notifier/pkg/jobs"
)

// Matches reports whether the posting satisfies the subscriber's filter.
//
// The two criteria axes are independently sufficient: a posting matches if
// its job type is in the filter's job types OR any keyword appears in the
// title or description. A filter with no criteria at all matches everything,
// so "no filter configured" means "receive every posting".
func Matches(p jobs.Posting, f jobs.Filter) bool {
	if f.Empty() {
		return true
	}

	typeMatch := len(f.JobTypes) > 0 && f.HasJobType(p.Type)

	keywordMatch := false
	if len(f.Keywords) > 0 {
		text := strings.ToLower(p.Title + " " + p.Description)
		for _, kw := range f.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(text, kw) {
				keywordMatch = true
				break
			}
		}
	}

	return typeMatch || keywordMatch
}
