package client

import (
	"sort"
	"sync"

	"duochat/internal/protocol"
)

// DefaultViewCap bounds the derived message sequence for rendering.
const DefaultViewCap = 100

type viewEntry struct {
	msg protocol.Message
	seq uint64
}

// View merges two asynchronous message sources, a point-in-time historical
// fetch and the live event stream, into one ordered, duplicate-free
// sequence. Either source may arrive first and either may repeat; applying
// the same message twice is a no-op.
type View struct {
	mu      sync.Mutex
	byID    map[string]viewEntry
	nextSeq uint64
	cap     int
}

func NewView(cap int) *View {
	if cap <= 0 {
		cap = DefaultViewCap
	}
	return &View{
		byID: make(map[string]viewEntry),
		cap:  cap,
	}
}

// Apply upserts one message by id. Re-applying a known id replaces the
// stored record but keeps its original insertion order, so equal
// timestamps never reorder.
func (v *View) Apply(m protocol.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.applyLocked(m)
}

// ApplyHistory upserts a historical fetch result. Live events that arrived
// before the fetch resolved are preserved; overlapping ids are not
// duplicated.
func (v *View) ApplyHistory(msgs []protocol.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, m := range msgs {
		v.applyLocked(m)
	}
}

func (v *View) applyLocked(m protocol.Message) {
	if m.ID == "" {
		return
	}
	if prev, ok := v.byID[m.ID]; ok {
		prev.msg = m
		v.byID[m.ID] = prev
		return
	}
	v.byID[m.ID] = viewEntry{msg: m, seq: v.nextSeq}
	v.nextSeq++
}

// Messages derives the display sequence: all known messages sorted by
// timestamp ascending (insertion order breaks ties), filtered for
// displayability, truncated to the most recent cap entries. Filtering never
// mutates the stored mapping.
func (v *View) Messages() []protocol.Message {
	v.mu.Lock()
	entries := make([]viewEntry, 0, len(v.byID))
	for _, e := range v.byID {
		entries = append(entries, e)
	}
	v.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].msg.Timestamp.Equal(entries[j].msg.Timestamp.Time) {
			return entries[i].msg.Timestamp.Before(entries[j].msg.Timestamp.Time)
		}
		return entries[i].seq < entries[j].seq
	})

	out := make([]protocol.Message, 0, len(entries))
	for _, e := range entries {
		if e.msg.Displayable() {
			out = append(out, e.msg)
		}
	}
	if len(out) > v.cap {
		out = out[len(out)-v.cap:]
	}
	return out
}

// Len reports the number of distinct message ids held, independent of
// display filtering and truncation.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.byID)
}
