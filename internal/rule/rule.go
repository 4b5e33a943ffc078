// Package rule decides whether a fetched message satisfies a Rule's
// matching predicates.
package rule

import (
	"strings"

	"github.com/fenilsonani/feedmailer/internal/imapclient"
	"github.com/fenilsonani/feedmailer/internal/model"
)

// Matches reports whether msg satisfies every predicate rule specifies.
// A nil or empty predicate always matches; an empty string predicate also
// always matches, since an empty substring is contained in any string.
func Matches(msg *imapclient.Message, r *model.Rule) bool {
	if r.MatchFrom != nil && !containsFold(msg.From, *r.MatchFrom) {
		return false
	}
	if r.MatchTo != nil && !containsFold(msg.To, *r.MatchTo) {
		return false
	}
	if r.MatchSubject != nil && !containsFold(msg.Subject, *r.MatchSubject) {
		return false
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
