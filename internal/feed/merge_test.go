package feed

import "testing"

func msg(id string, sentAt int64) Message {
	return Message{ID: id, SentAt: sentAt, Status: StatusSent}
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func assertIDs(t *testing.T, got []Message, want ...string) {
	t.Helper()
	gotIDs := ids(got)
	if len(gotIDs) != len(want) {
		t.Fatalf("ids = %v, want %v", gotIDs, want)
	}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("ids = %v, want %v", gotIDs, want)
		}
	}
}

func TestMergeOlderPrependsAndDedupes(t *testing.T) {
	held := []Message{msg("m3", 3000), msg("m4", 4000)}
	page := []Message{msg("m2", 2000), msg("m1", 1000), msg("m3", 3000)}

	assertIDs(t, mergeOlder(held, page), "m1", "m2", "m3", "m4")
}

func TestMergeOlderIdempotent(t *testing.T) {
	held := []Message{msg("m3", 3000)}
	page := []Message{msg("m2", 2000), msg("m1", 1000)}

	once := mergeOlder(held, page)
	twice := mergeOlder(once, page)
	assertIDs(t, twice, "m1", "m2", "m3")
}

func TestMergeRefreshReplacesAndKeepsLocal(t *testing.T) {
	local := Message{ID: "local-1", SentAt: 5000, Status: StatusSending, Body: "pending"}
	held := []Message{
		{ID: "m1", SentAt: 1000, Body: "stale"},
		local,
	}
	incoming := []Message{
		{ID: "m2", SentAt: 2000, Body: "new"},
		{ID: "m1", SentAt: 1000, Body: "server truth"},
	}

	out := mergeRefresh(held, incoming)
	assertIDs(t, out, "local-1", "m1", "m2")

	for _, m := range out {
		switch m.ID {
		case "m1":
			if m.Body != "server truth" {
				t.Errorf("m1 body = %q, want server version", m.Body)
			}
		case "local-1":
			if m.Status != StatusSending {
				t.Errorf("local-1 status = %q, want sending preserved", m.Status)
			}
		}
	}
}

func TestMergeRefreshIdempotent(t *testing.T) {
	incoming := []Message{msg("m2", 2000), msg("m1", 1000)}

	once := mergeRefresh(nil, incoming)
	twice := mergeRefresh(once, incoming)
	assertIDs(t, twice, "m1", "m2")
}

func TestMinSentAt(t *testing.T) {
	if got := minSentAt(nil); got != 0 {
		t.Errorf("minSentAt(nil) = %d, want 0", got)
	}
	msgs := []Message{msg("a", 3000), msg("b", 1000), msg("c", 2000)}
	if got := minSentAt(msgs); got != 1000 {
		t.Errorf("minSentAt = %d, want 1000", got)
	}
}

func TestDedupeByIDKeepsFirst(t *testing.T) {
	msgs := []Message{
		{ID: "a", Body: "first"},
		{ID: "b"},
		{ID: "a", Body: "second"},
	}
	out := dedupeByID(msgs)
	assertIDs(t, out, "a", "b")
	if out[0].Body != "first" {
		t.Errorf("kept body = %q, want first occurrence", out[0].Body)
	}
}

func TestSortAscendingStable(t *testing.T) {
	msgs := []Message{msg("b", 1000), msg("a", 1000), msg("c", 500)}
	sortAscending(msgs)
	assertIDs(t, msgs, "c", "b", "a")
}
