package service

import (
	"testing"

	"dsuauth/internal/entity"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		email string
		want  entity.Classification
	}{
		{"a.b@trojans.dsu.edu", entity.ClassificationStudent},
		{"a.b@pluto.dsu.edu", entity.ClassificationStudent},
		{"a.b@dsu.edu", entity.ClassificationStaff},
		{"a.b@gmail.com", entity.ClassificationNonAffiliated},
		{"A.B@TROJANS.DSU.EDU", entity.ClassificationStudent},
		{"A.B@DSU.EDU", entity.ClassificationStaff},
		{"a.b@notdsu.edu", entity.ClassificationNonAffiliated},
		{"a.b@dsu.edu.evil.com", entity.ClassificationNonAffiliated},
		{"", entity.ClassificationNonAffiliated},
		{"not-an-email", entity.ClassificationNonAffiliated},
		{"trailing@", entity.ClassificationNonAffiliated},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.email), "email %q", tt.email)
	}
}
