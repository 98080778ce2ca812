package service

import (
	"dsuauth/internal/entity"
	"dsuauth/internal/utils"
)

const (
	staffDomain = "dsu.edu"
)

var studentDomains = map[string]bool{
	"trojans.dsu.edu": true,
	"pluto.dsu.edu":   true,
}

// Classify maps an email address to a classification by exact,
// case-insensitive domain match. Malformed input classifies as
// non-affiliated; Classify never fails.
func Classify(email string) entity.Classification {
	domain := utils.EmailDomain(email)
	if studentDomains[domain] {
		return entity.ClassificationStudent
	}
	if domain == staffDomain {
		return entity.ClassificationStaff
	}
	return entity.ClassificationNonAffiliated
}
