// Package classify assigns a job type to postings based on their text.
package classify

import (
	"strings"

	"cryptojobs-notifier/pkg/jobs"
)

// rule pairs a job type with the keywords that indicate it.
type rule struct {
	jobType  jobs.JobType
	keywords []string
}

// rules are evaluated in order; the first match wins. Fullstack must come
// before frontend and backend since a fullstack posting mentions both.
var rules = []rule{
	{jobs.TypeFullstack, []string{"fullstack", "full stack", "full-stack"}},
	{jobs.TypeFrontend, []string{"frontend", "front end", "front-end", "ui developer", "react developer"}},
	{jobs.TypeBackend, []string{"backend", "back end", "back-end", "api developer"}},
	{jobs.TypeMobile, []string{"mobile", "ios", "android", "flutter", "react native"}},
	{jobs.TypeDevops, []string{"devops", "dev ops", "sre", "site reliability", "infrastructure"}},
	{jobs.TypeBlockchain, []string{"blockchain", "smart contract", "solidity", "web3", "crypto", "nft"}},
	{jobs.TypeAI, []string{"ai", "artificial intelligence", "machine learning", "ml engineer", "data scientist"}},
	{jobs.TypeData, []string{"data engineer", "data analyst", "database", "sql"}},
	{jobs.TypeDesign, []string{"designer", "ui/ux", "ui designer", "ux designer"}},
	{jobs.TypeProduct, []string{"product manager", "product owner"}},
	{jobs.TypeQA, []string{"qa", "quality assurance", "test", "tester", "testing"}},
}

// Classify derives a job type from a posting's title and description.
// It is a pure function: deterministic, total, and always returns a valid
// job type, falling back to TypeOther when no rule matches.
func Classify(title, description string) jobs.JobType {
	content := strings.ToLower(title) + " " + strings.ToLower(description)

	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(content, kw) {
				return r.jobType
			}
		}
	}

	return jobs.TypeOther
}
