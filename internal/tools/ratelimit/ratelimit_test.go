package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowEnforcesBurstPerKey(t *testing.T) {
	l := New(0.0001, 2) // effectively no refill within the test

	assert.True(t, l.Allow("orders"))
	assert.True(t, l.Allow("orders"))
	assert.False(t, l.Allow("orders"), "third call must exceed the burst")
}

func TestKeysHaveIndependentBuckets(t *testing.T) {
	l := New(0.0001, 1)

	assert.True(t, l.Allow("orders"))
	assert.False(t, l.Allow("orders"))
	assert.True(t, l.Allow("customers"), "a different table must have its own bucket")
}
