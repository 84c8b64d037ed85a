package feed

import "sort"

// sortAscending orders messages by sent timestamp, oldest first. The sort is
// stable so same-timestamp messages keep their arrival order.
func sortAscending(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SentAt < msgs[j].SentAt
	})
}

// mergeOlder prepends an older page, dropping any ids already held.
func mergeOlder(held, page []Message) []Message {
	seen := make(map[string]struct{}, len(held))
	for _, m := range held {
		seen[m.ID] = struct{}{}
	}

	fresh := make([]Message, 0, len(page))
	for _, m := range page {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		fresh = append(fresh, m)
	}
	sortAscending(fresh)
	return append(fresh, held...)
}

// mergeRefresh reconciles a refreshed first page: held entries whose id
// appears in the incoming batch are superseded by the server version, held
// entries absent from the batch are kept (optimistic sends still pending),
// and the incoming batch lands at the end in chronological order.
func mergeRefresh(held, incoming []Message) []Message {
	replaced := make(map[string]struct{}, len(incoming))
	for _, m := range incoming {
		replaced[m.ID] = struct{}{}
	}

	out := make([]Message, 0, len(held)+len(incoming))
	for _, m := range held {
		if _, dup := replaced[m.ID]; dup {
			continue
		}
		out = append(out, m)
	}
	sortAscending(incoming)
	return append(out, incoming...)
}

// minSentAt returns the oldest timestamp among held messages, or 0 when
// none are held.
func minSentAt(msgs []Message) int64 {
	var min int64
	for _, m := range msgs {
		if min == 0 || m.SentAt < min {
			min = m.SentAt
		}
	}
	return min
}

// dedupeByID keeps the first occurrence of every id, preserving order.
func dedupeByID(msgs []Message) []Message {
	seen := make(map[string]struct{}, len(msgs))
	out := msgs[:0]
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
