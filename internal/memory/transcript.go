package memory

import "strings"

// Transcript is the short-term conversational memory: an append-only
// sequence of "speaker: content" records. It is never truncated.
type Transcript struct {
	records []string
}

// Append adds a record for speaker.
func (t *Transcript) Append(speaker, content string) {
	t.records = append(t.records, speaker+": "+content)
}

// Records returns a copy of all records in order.
func (t *Transcript) Records() []string {
	out := make([]string, len(t.records))
	copy(out, t.records)
	return out
}

// Context returns the records joined by newlines, for use as the
// CONTEXT block of a prompt.
func (t *Transcript) Context() string {
	return strings.Join(t.records, "\n")
}

// Len returns the number of records.
func (t *Transcript) Len() int {
	return len(t.records)
}
