package sendbuf

import (
	"testing"
	"time"
)

func TestAppendAndAdvance(t *testing.T) {
	b := New()
	now := time.Now()
	for _, seq := range []uint32{1, 2, 3} {
		b.Append(Entry{Seqno: seq, LastSentAt: now})
	}
	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}

	b.Advance(2)
	if b.Len() != 2 {
		t.Fatalf("Len() after Advance(2) = %d, want 2", b.Len())
	}
	lowest, ok := b.LowestSeqno()
	if !ok || lowest != 2 {
		t.Fatalf("LowestSeqno() = %d,%v, want 2,true", lowest, ok)
	}
}

func TestAdvanceTwiceIsIdempotent(t *testing.T) {
	b := New()
	b.Append(Entry{Seqno: 1})
	b.Append(Entry{Seqno: 2})

	b.Advance(2)
	first := b.Len()
	b.Advance(2)
	second := b.Len()

	if first != second {
		t.Errorf("Advance applied twice changed length: %d vs %d", first, second)
	}
}

func TestOldestIsFastRetransmitTarget(t *testing.T) {
	b := New()
	b.Append(Entry{Seqno: 5})
	b.Append(Entry{Seqno: 6})

	e, ok := b.Oldest()
	if !ok || e.Seqno != 5 {
		t.Fatalf("Oldest() = %+v,%v, want seqno 5", e, ok)
	}
}

func TestForEachDueOnlyYieldsTimedOutEntries(t *testing.T) {
	b := New()
	now := time.Now()
	b.Append(Entry{Seqno: 1, Sent: true, LastSentAt: now.Add(-1 * time.Second)})
	b.Append(Entry{Seqno: 2, Sent: true, LastSentAt: now})

	var resent []uint32
	b.ForEachDue(now, 500*time.Millisecond, func(e Entry) bool {
		resent = append(resent, e.Seqno)
		return true
	})

	if len(resent) != 1 || resent[0] != 1 {
		t.Fatalf("ForEachDue resent = %v, want [1]", resent)
	}

	e, _ := b.Oldest()
	if e.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", e.RetryCount)
	}
}

func TestForEachDueSkipsUnsentEntries(t *testing.T) {
	b := New()
	now := time.Now()
	b.Append(Entry{Seqno: 1, LastSentAt: now.Add(-1 * time.Hour)})

	var resent []uint32
	b.ForEachDue(now, 500*time.Millisecond, func(e Entry) bool {
		resent = append(resent, e.Seqno)
		return true
	})

	if len(resent) != 0 {
		t.Fatalf("ForEachDue resent = %v, want none for a never-sent entry", resent)
	}
}

func TestForEachUnsentYieldsOnlyUnsentAndMarksSentOnTrue(t *testing.T) {
	b := New()
	now := time.Now()
	b.Append(Entry{Seqno: 1, Sent: true, LastSentAt: now})
	b.Append(Entry{Seqno: 2})
	b.Append(Entry{Seqno: 3})

	var seen []uint32
	b.ForEachUnsent(now, func(e Entry) bool {
		seen = append(seen, e.Seqno)
		return e.Seqno == 2
	})

	if len(seen) != 2 || seen[0] != 2 || seen[1] != 3 {
		t.Fatalf("ForEachUnsent saw = %v, want [2 3]", seen)
	}

	var due []uint32
	b.ForEachDue(now, 0, func(e Entry) bool {
		due = append(due, e.Seqno)
		return false
	})
	foundTwo := false
	for _, s := range due {
		if s == 2 {
			foundTwo = true
		}
	}
	if !foundTwo {
		t.Error("seqno 2 should now be marked sent and visible to ForEachDue")
	}

	var stillUnsent []uint32
	b.ForEachUnsent(now, func(e Entry) bool {
		stillUnsent = append(stillUnsent, e.Seqno)
		return false
	})
	if len(stillUnsent) != 1 || stillUnsent[0] != 3 {
		t.Fatalf("ForEachUnsent after partial send = %v, want [3]", stillUnsent)
	}
}

func TestEntriesBelowReturnsLowerSeqnosWithoutRemoving(t *testing.T) {
	b := New()
	b.Append(Entry{Seqno: 1})
	b.Append(Entry{Seqno: 2})
	b.Append(Entry{Seqno: 3})

	below := b.EntriesBelow(3)
	if len(below) != 2 || below[0].Seqno != 1 || below[1].Seqno != 2 {
		t.Fatalf("EntriesBelow(3) = %+v, want seqnos [1 2]", below)
	}
	if b.Len() != 3 {
		t.Errorf("EntriesBelow must not remove entries, Len() = %d, want 3", b.Len())
	}
}

func TestEmptyBufferHasNoOldest(t *testing.T) {
	b := New()
	if _, ok := b.Oldest(); ok {
		t.Error("Oldest() on empty buffer returned ok = true")
	}
	if _, ok := b.LowestSeqno(); ok {
		t.Error("LowestSeqno() on empty buffer returned ok = true")
	}
}
