package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// NewRedis dials and pings a live server, so its Store/Retrieve/Search
// behavior needs a running Redis instance and is not exercised by the tests
// in this module. buildKey's namespacing is pure and unit-tested directly
// against a struct literal.

func TestBuildKeyNamespacesID(t *testing.T) {
	r := &Redis{namespace: "memory"}
	assert.Equal(t, "memory:i1", r.buildKey("i1"))
}

func TestBuildKeyUsesConfiguredNamespace(t *testing.T) {
	r := &Redis{namespace: "hybridmemory-test"}
	assert.Equal(t, "hybridmemory-test:i1", r.buildKey("i1"))
}
