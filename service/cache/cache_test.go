package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/taskpool/model/priority"
	"github.com/viant/taskpool/model/resource"
)

func newResource(id string) *resource.Resource {
	return &resource.Resource{ID: id, Kind: resource.KindMemory, Tier: priority.Medium}
}

func TestCacheEvictsLeastRecentlyAccessed(t *testing.T) {
	cache := New(Config{MaxSize: 3})

	cache.Put("a", newResource("r-a"))
	cache.Put("b", newResource("r-b"))
	cache.Put("c", newResource("r-c"))

	// Touch "a" so "b" becomes the oldest
	_, ok := cache.Get("a")
	assert.True(t, ok)

	cache.Put("d", newResource("r-d"))
	assert.Equal(t, 3, cache.Len())

	_, ok = cache.Get("b")
	assert.False(t, ok, "least-recently-accessed entry should have been evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok = cache.Get(key)
		assert.True(t, ok, "entry %q should survive eviction", key)
	}
}

func TestCacheHitRate(t *testing.T) {
	cache := New(Config{MaxSize: 2})
	cache.Put("a", newResource("r-a"))

	_, _ = cache.Get("a")       // hit
	_, _ = cache.Get("a")       // hit
	_, _ = cache.Get("missing") // miss

	assert.InDelta(t, 2.0/3.0, cache.HitRate(), 1e-9)

	cache.Clear()
	assert.Equal(t, 0.0, cache.HitRate())
	assert.Equal(t, 0, cache.Len())
}

func TestCacheRemove(t *testing.T) {
	cache := New(Config{MaxSize: 2})
	cache.Put("a", newResource("r-a"))
	cache.Remove("a")
	_, ok := cache.Get("a")
	assert.False(t, ok)

	// Removing an absent key is a no-op
	cache.Remove("missing")
}

func TestCachePutReplaces(t *testing.T) {
	cache := New(Config{MaxSize: 2})
	cache.Put("a", newResource("r-1"))
	cache.Put("a", newResource("r-2"))
	assert.Equal(t, 1, cache.Len())

	got, ok := cache.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "r-2", got.ID)
}

func TestFingerprintOrderIndependent(t *testing.T) {
	testCases := []struct {
		name  string
		left  Fingerprint
		right Fingerprint
		equal bool
	}{
		{
			name: "capability order does not matter",
			left: Fingerprint{
				Kind:         "memory",
				Capabilities: []string{"transcode", "analyze"},
				Constraints:  map[string]string{"maxLatency": "100ms", "priority": "high"},
			},
			right: Fingerprint{
				Kind:         "memory",
				Capabilities: []string{"analyze", "transcode"},
				Constraints:  map[string]string{"priority": "high", "maxLatency": "100ms"},
			},
			equal: true,
		},
		{
			name:  "different kind differs",
			left:  Fingerprint{Kind: "memory"},
			right: Fingerprint{Kind: "cpu"},
			equal: false,
		},
		{
			name:  "different constraints differ",
			left:  Fingerprint{Kind: "memory", Constraints: map[string]string{"priority": "low"}},
			right: Fingerprint{Kind: "memory", Constraints: map[string]string{"priority": "high"}},
			equal: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.equal {
				assert.Equal(t, tc.left.Key(), tc.right.Key())
			} else {
				assert.NotEqual(t, tc.left.Key(), tc.right.Key())
			}
		})
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	fp := Fingerprint{
		Kind:         "cpu",
		Capabilities: []string{"b", "a", "c"},
		Constraints:  map[string]string{"z": "1", "a": "2"},
	}
	first := fp.Key()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, fp.Key(), fmt.Sprintf("iteration %d", i))
	}
}
