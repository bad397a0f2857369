package sync

import (
	"strconv"
	"strings"
)

// idEscaper makes "_" usable as a separator: a literal "_" or "\" inside a
// uid is backslash-escaped, so distinct pairs never join to the same id.
// Uids without either character appear unchanged.
var idEscaper = strings.NewReplacer(`\`, `\\`, `_`, `\_`)

func joinIDs(parts ...string) string {
	for i, p := range parts {
		parts[i] = idEscaper.Replace(p)
	}
	return strings.Join(parts, "_")
}

// ChatID derives the conversation id of two participants. The pair is sorted
// first, so both ends compute the same id without coordination.
func ChatID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return joinIDs(a, b)
}

// fallbackMessageID identifies a pulled message the server sent without an id.
// It is deterministic so re-pulling the same message upserts the same row.
func fallbackMessageID(from, to string, createdAt int64) string {
	return joinIDs(from, to, strconv.FormatInt(createdAt, 10))
}
