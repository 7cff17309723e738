package redisx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubmissionKey(t *testing.T) {
	assert.Equal(t, "checkout:submit:7:abc", submissionKey(7, "abc"))
}

func TestNewSubmissionGuard_DefaultTTL(t *testing.T) {
	g := NewSubmissionGuard(nil, 0)
	assert.Equal(t, DefaultGuardTTL, g.ttl)

	g = NewSubmissionGuard(nil, time.Minute)
	assert.Equal(t, time.Minute, g.ttl)
}
