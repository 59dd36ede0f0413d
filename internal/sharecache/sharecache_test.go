package sharecache_test

import (
	"testing"
	"time"

	"github.com/clipcast/clipcast/internal/sharecache"
	"github.com/google/go-cmp/cmp"
)

func TestResolve(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []sharecache.Record{
		{ShareID: 101, SenderIdentity: "alice", SuggestedAlias: "airhorn"},
		{ShareID: 102, SenderIdentity: "bob", SuggestedAlias: "bruh"},
	}

	table := []struct {
		name   string
		client uint32
		index  int
		at     time.Time
		want   sharecache.Record
		found  bool
	}{
		{
			name:   "first index",
			client: 7,
			index:  1,
			at:     base.Add(time.Minute),
			want:   records[0],
			found:  true,
		},
		{
			name:   "last index",
			client: 7,
			index:  2,
			at:     base.Add(time.Minute),
			want:   records[1],
			found:  true,
		},
		{
			name:   "index zero",
			client: 7,
			index:  0,
			at:     base.Add(time.Minute),
			found:  false,
		},
		{
			name:   "index beyond count",
			client: 7,
			index:  3,
			at:     base.Add(time.Minute),
			found:  false,
		},
		{
			name:   "client with no row",
			client: 8,
			index:  1,
			at:     base.Add(time.Minute),
			found:  false,
		},
		{
			name:   "expired row",
			client: 7,
			index:  1,
			at:     base.Add(5*time.Minute + time.Second),
			found:  false,
		},
	}

	for _, tc := range table {
		t.Run(tc.name, func(t *testing.T) {
			cache := sharecache.New(5*time.Minute, 16)
			cache.Store(7, records, base)

			got, found := cache.Resolve(tc.client, tc.index, tc.at)
			if found != tc.found {
				t.Fatalf("found = %v, want %v", found, tc.found)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("record mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStoreReplacesBounds(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := sharecache.New(5*time.Minute, 16)

	cache.Store(7, []sharecache.Record{
		{ShareID: 101}, {ShareID: 102}, {ShareID: 103},
	}, base)

	// A fresh shorter list must shrink the valid index range.
	cache.Store(7, []sharecache.Record{{ShareID: 201}}, base.Add(time.Minute))

	if got, found := cache.Resolve(7, 1, base.Add(2*time.Minute)); !found || got.ShareID != 201 {
		t.Errorf("Resolve(1) = (%+v, %v), want share 201", got, found)
	}
	if _, found := cache.Resolve(7, 2, base.Add(2*time.Minute)); found {
		t.Error("index 2 should be out of bounds after the shorter list")
	}
}

func TestInvalidate(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := sharecache.New(5*time.Minute, 16)

	cache.Store(7, []sharecache.Record{{ShareID: 101}}, base)
	cache.Invalidate(7)

	if _, found := cache.Resolve(7, 1, base); found {
		t.Error("invalidated row should not resolve")
	}
}

func TestEvictsOldestWhenFull(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := sharecache.New(5*time.Minute, 2)

	cache.Store(1, []sharecache.Record{{ShareID: 101}}, base)
	cache.Store(2, []sharecache.Record{{ShareID: 102}}, base.Add(time.Second))
	cache.Store(3, []sharecache.Record{{ShareID: 103}}, base.Add(2*time.Second))

	if _, found := cache.Resolve(1, 1, base.Add(3*time.Second)); found {
		t.Error("oldest row should have been evicted")
	}
	for _, client := range []uint32{2, 3} {
		if _, found := cache.Resolve(client, 1, base.Add(3*time.Second)); !found {
			t.Errorf("client %d should survive eviction", client)
		}
	}
}

func TestSweep(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := sharecache.New(5*time.Minute, 16)

	cache.Store(1, []sharecache.Record{{ShareID: 101}}, base)
	cache.Store(2, []sharecache.Record{{ShareID: 102}}, base.Add(4*time.Minute))

	cache.Sweep(base.Add(6 * time.Minute))

	if _, found := cache.Resolve(1, 1, base.Add(6*time.Minute)); found {
		t.Error("expired row should be swept")
	}
	if _, found := cache.Resolve(2, 1, base.Add(6*time.Minute)); !found {
		t.Error("fresh row should survive the sweep")
	}
}
