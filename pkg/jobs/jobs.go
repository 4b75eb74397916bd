// Package jobs contains the core domain types for the CryptoJobs notification service.
package jobs

import (
	"fmt"
	"strings"
	"time"
)

// JobType is the closed set of categories a posting can be classified into.
type JobType string

// Job type values, in classifier priority order. Fullstack is checked before
// frontend and backend because a fullstack posting would trigger both.
const (
	TypeFullstack  JobType = "fullstack"
	TypeFrontend   JobType = "frontend"
	TypeBackend    JobType = "backend"
	TypeMobile     JobType = "mobile"
	TypeDevops     JobType = "devops"
	TypeBlockchain JobType = "blockchain"
	TypeAI         JobType = "ai"
	TypeData       JobType = "data"
	TypeDesign     JobType = "design"
	TypeProduct    JobType = "product"
	TypeQA         JobType = "qa"
	TypeOther      JobType = "other"
)

// AllTypes lists every job type in classifier priority order.
// TypeOther is last: it is the fallback, but still a legitimate filter target.
var AllTypes = []JobType{
	TypeFullstack,
	TypeFrontend,
	TypeBackend,
	TypeMobile,
	TypeDevops,
	TypeBlockchain,
	TypeAI,
	TypeData,
	TypeDesign,
	TypeProduct,
	TypeQA,
	TypeOther,
}

// ParseJobType validates a user-supplied job type string.
func ParseJobType(s string) (JobType, error) {
	jt := JobType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range AllTypes {
		if jt == t {
			return jt, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

// Posting is one job listing produced from the feed for a single polling
// cycle. It is immutable once classified and not persisted beyond its ID.
type Posting struct {
	Published   time.Time // Publish timestamp from the feed
	ID          string    // Stable identifier (feed GUID or derived hash)
	Title       string
	Company     string
	Link        string
	Description string  // Cleaned plain-text description
	Type        JobType // Assigned by the classifier
}

// Filter holds a subscriber's stored criteria. An empty filter (no job types
// and no keywords) matches every posting.
type Filter struct {
	JobTypes []JobType `json:"jobTypes"`
	Keywords []string  `json:"keywords"`
}

// Empty reports whether no criteria are configured.
func (f Filter) Empty() bool {
	return len(f.JobTypes) == 0 && len(f.Keywords) == 0
}

// HasJobType reports whether jt is one of the filter's job types.
func (f Filter) HasJobType(jt JobType) bool {
	for _, t := range f.JobTypes {
		if t == jt {
			return true
		}
	}
	return false
}

// HasKeyword reports whether kw is stored in the filter, case-insensitively.
func (f Filter) HasKeyword(kw string) bool {
	kw = strings.ToLower(strings.TrimSpace(kw))
	for _, k := range f.Keywords {
		if strings.ToLower(k) == kw {
			return true
		}
	}
	return false
}

// Subscriber is a chat that has interacted with the bot. Subscribers are
// never hard-deleted; unsubscribing flips Subscribed so filters and
// favorites survive an idempotent re-subscribe.
type Subscriber struct {
	Filter
	ChatID     int64    `json:"-"`
	Subscribed bool     `json:"subscribed"`
	Favorites  []string `json:"favorites"` // Saved posting IDs, bounded
}

// NewSubscriber creates an active subscriber with no filters.
func NewSubscriber(chatID int64) *Subscriber {
	return &Subscriber{ChatID: chatID, Subscribed: true}
}
