package routing

import (
	"testing"
	"time"
)

func v4(a, b, c, d byte) [16]byte {
	return [16]byte{12: a, 13: b, 14: c, 15: d}
}

func mkEntry(prefix [16]byte, prefixLen int, distance, metric int, ts time.Time) RouteEntry {
	return RouteEntry{
		Prefix:        Prefix{Family: FamilyV4, Addr: prefix, PrefixLen: prefixLen},
		AdminDistance: distance,
		Metric:        metric,
		Timestamp:     ts,
		Type:          Static,
	}
}

func TestLookupReturnsLongestPrefix(t *testing.T) {
	tbl := New(16)
	now := time.Now()
	if err := tbl.Add(mkEntry(v4(10, 0, 0, 0), 8, DistanceStatic, 0, now)); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Add(mkEntry(v4(10, 0, 1, 0), 24, DistanceStatic, 0, now)); err != nil {
		t.Fatal(err)
	}
	got, ok := tbl.Lookup(FamilyV4, v4(10, 0, 1, 5))
	if !ok {
		t.Fatal("expected a match")
	}
	if got.Prefix.PrefixLen != 24 {
		t.Fatalf("matched prefix len = %d, want 24 (more specific)", got.Prefix.PrefixLen)
	}

	got2, ok := tbl.Lookup(FamilyV4, v4(10, 0, 2, 5))
	if !ok || got2.Prefix.PrefixLen != 8 {
		t.Fatalf("expected fallback to /8, got %+v ok=%v", got2, ok)
	}
}

func TestAddResolvesByAdminDistanceThenMetric(t *testing.T) {
	tbl := New(16)
	now := time.Now()
	worse := mkEntry(v4(192, 168, 1, 0), 24, 110, 10, now)
	worse.Type = Ospf
	better := mkEntry(v4(192, 168, 1, 0), 24, 1, 10, now.Add(time.Second))
	better.Type = Static

	if err := tbl.Add(worse); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Add(better); err != nil {
		t.Fatal(err)
	}
	got, ok := tbl.Lookup(FamilyV4, v4(192, 168, 1, 1))
	if !ok {
		t.Fatal("expected a match")
	}
	if got.AdminDistance != 1 {
		t.Fatalf("admin distance = %d, want 1 (the lower one should win)", got.AdminDistance)
	}
}

func TestDeleteRemovesFromLookup(t *testing.T) {
	tbl := New(16)
	e := mkEntry(v4(172, 16, 0, 0), 16, DistanceStatic, 0, time.Now())
	if err := tbl.Add(e); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Delete(FamilyV4, e.Prefix.Addr, 16); err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.Lookup(FamilyV4, v4(172, 16, 5, 5)); ok {
		t.Fatal("expected no match after delete")
	}
}

func TestTableFullRejectsNewPrefix(t *testing.T) {
	tbl := New(1)
	if err := tbl.Add(mkEntry(v4(1, 0, 0, 0), 32, DistanceStatic, 0, time.Now())); err != nil {
		t.Fatal(err)
	}
	err := tbl.Add(mkEntry(v4(2, 0, 0, 0), 32, DistanceStatic, 0, time.Now()))
	if err == nil {
		t.Fatal("expected table-full error")
	}
}

func TestNetmaskPrefixLenRoundTrip(t *testing.T) {
	for i := 0; i <= 32; i++ {
		mask := NetmaskV4(i)
		if got := PrefixLenV4(mask); got != i {
			t.Fatalf("v4 round trip at %d: got %d", i, got)
		}
	}
	for i := 0; i <= 128; i++ {
		mask := NetmaskV6(i)
		if got := PrefixLenV6(mask); got != i {
			t.Fatalf("v6 round trip at %d: got %d", i, got)
		}
	}
}

func TestHwSyncRecordsOps(t *testing.T) {
	tbl := New(16)
	null := NewNullHwSync()
	tbl.SetHwSync(true, null)
	e := mkEntry(v4(10, 1, 1, 0), 24, DistanceStatic, 0, time.Now())
	if err := tbl.Add(e); err != nil {
		t.Fatal(err)
	}
	if len(null.Ops) != 1 || null.Ops[0].Kind != HwOpAdd {
		t.Fatalf("ops = %+v, want one add", null.Ops)
	}
}

func TestAddMasksAddressBeforeHashing(t *testing.T) {
	tbl := New(16)
	// same /24 network, differing host bits in the literal entry; both
	// should collide on the same exact-match key per DESIGN.md's
	// resolution of the hash_ipv4_prefix masking question.
	a := mkEntry(v4(10, 0, 0, 5), 24, DistanceStatic, 5, time.Now())
	b := mkEntry(v4(10, 0, 0, 200), 24, DistanceStatic, 1, time.Now().Add(time.Second))
	if err := tbl.Add(a); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Add(b); err != nil {
		t.Fatal(err)
	}
	if tbl.Count() != 1 {
		t.Fatalf("count = %d, want 1 (both entries should key to the same masked prefix)", tbl.Count())
	}
}
