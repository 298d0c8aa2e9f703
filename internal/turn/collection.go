package turn

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
)

// ErrOutOfRange is returned when a turn index falls outside [0, len).
var ErrOutOfRange = errors.New("turn index out of range")

// DefaultToolResponseLimit bounds how many tool responses survive prompt
// assembly when the caller doesn't configure a limit.
const DefaultToolResponseLimit = 3

// DefaultExpirationThreshold is the number of trailing user tasks whose
// tool responses are kept verbatim by ExpireOldToolResponses.
const DefaultExpirationThreshold = 3

// Collection is an ordered, mutable sequence of turns. Insertion order is
// chronological order; the last element, if present, is conventionally
// the current task not yet answered and is excluded from
// history-for-prompt views. Elements are removed only by explicit
// compression or deletion, never implicitly.
//
// A Collection is not safe for concurrent use; cross-process safety comes
// from the session store's file lock, and no in-memory instance is shared
// across processes.
type Collection struct {
	turns []Turn
}

// NewCollection builds a Collection holding the given turns in order.
func NewCollection(turns ...Turn) *Collection {
	return &Collection{turns: turns}
}

// Len returns the number of turns.
func (c *Collection) Len() int { return len(c.turns) }

// At returns the turn at index i.
func (c *Collection) At(i int) (Turn, error) {
	if i < 0 || i >= len(c.turns) {
		return nil, fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, i, len(c.turns))
	}
	return c.turns[i], nil
}

// Turns returns a copy of the underlying slice in chronological order.
func (c *Collection) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Add appends a turn.
func (c *Collection) Add(t Turn) {
	c.turns = append(c.turns, t)
}

// Delete removes the turn at index i.
func (c *Collection) Delete(i int) error {
	if i < 0 || i >= len(c.turns) {
		return fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, i, len(c.turns))
	}
	c.turns = append(c.turns[:i], c.turns[i+1:]...)
	return nil
}

// Edit replaces the turn at index i.
func (c *Collection) Edit(i int, t Turn) error {
	if i < 0 || i >= len(c.turns) {
		return fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, i, len(c.turns))
	}
	c.turns[i] = t
	return nil
}

// ReplaceRange deletes turns [start, end] inclusive and inserts the
// replacement turn at start. Used by history compression to swap a
// contiguous span for one CompressedHistory summary.
func (c *Collection) ReplaceRange(start, end int, replacement Turn) error {
	if start < 0 || end >= len(c.turns) || start > end {
		return fmt.Errorf("%w: [%d, %d] (len %d)", ErrOutOfRange, start, end, len(c.turns))
	}
	rebuilt := make([]Turn, 0, len(c.turns)-(end-start))
	rebuilt = append(rebuilt, c.turns[:start]...)
	rebuilt = append(rebuilt, replacement)
	rebuilt = append(rebuilt, c.turns[end+1:]...)
	c.turns = rebuilt
	return nil
}

// Merge appends every turn from other, clearing other. This is how a
// pool's staged turns move into the main history.
func (c *Collection) Merge(other *Collection) {
	if other == nil || len(other.turns) == 0 {
		return
	}
	c.turns = append(c.turns, other.turns...)
	other.turns = nil
}

// ForPrompt yields the turns to include in a prompt, newest first,
// excluding the final element (the current task). Walking backward it
// counts tool responses; once the count exceeds toolResponseLimit,
// further (older) tool responses are skipped while every other variant
// is still yielded. Callers must reverse the output into chronological
// order before rendering. The sequence is lazy and single-use.
//
// Tool outputs are often large and only the most recent few are relevant
// context; the limit bounds prompt size deterministically.
func (c *Collection) ForPrompt(toolResponseLimit int) iter.Seq[Turn] {
	return func(yield func(Turn) bool) {
		seen := 0
		for i := len(c.turns) - 2; i >= 0; i-- {
			t := c.turns[i]
			if t.Type() == TypeToolResponse {
				seen++
				if seen > toolResponseLimit {
					continue
				}
			}
			if !yield(t) {
				return
			}
		}
	}
}

// PromptHistory materializes ForPrompt in chronological order.
func (c *Collection) PromptHistory(toolResponseLimit int) []Turn {
	var reversed []Turn
	for t := range c.ForPrompt(toolResponseLimit) {
		reversed = append(reversed, t)
	}
	out := make([]Turn, len(reversed))
	for i, t := range reversed {
		out[len(reversed)-1-i] = t
	}
	return out
}

// ExpireOldToolResponses replaces the message of succeeded tool responses
// older than the cutoff with the expiration placeholder, preserving
// status and every other field. The cutoff is the timestamp of the user
// task that is threshold turns from the end; with threshold or fewer
// user tasks nothing is touched. Returns whether any turn was modified.
//
// The rebuild constructs an entirely new slice and only swaps it onto
// the collection if at least one turn was modified, so a failed or
// no-op pass never leaves the history partially rewritten. Already
// expired responses are left alone, which makes the operation
// idempotent.
func (c *Collection) ExpireOldToolResponses(threshold int) bool {
	var userTaskTimes []Turn
	for _, t := range c.turns {
		if t.Type() == TypeUserTask {
			userTaskTimes = append(userTaskTimes, t)
		}
	}
	if len(userTaskTimes) <= threshold {
		return false
	}
	cutoff := userTaskTimes[len(userTaskTimes)-threshold].Time()

	rebuilt := make([]Turn, 0, len(c.turns))
	modified := false
	for _, t := range c.turns {
		tr, ok := t.(*ToolResponse)
		if ok && tr.Time().Before(cutoff) && tr.Response.Status == StatusSucceeded && !tr.Expired() {
			expired := *tr
			expired.Response.Message = ExpiredMessage
			rebuilt = append(rebuilt, &expired)
			modified = true
			continue
		}
		rebuilt = append(rebuilt, t)
	}

	if modified {
		c.turns = rebuilt
	}
	return modified
}

// MarshalJSON serializes the collection as a flat JSON array of turns.
func (c *Collection) MarshalJSON() ([]byte, error) {
	if c == nil || c.turns == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.turns)
}

// UnmarshalJSON decodes a JSON array of turns, validating each element's
// type discriminator.
func (c *Collection) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse turn array: %w", err)
	}

	turns := make([]Turn, 0, len(raw))
	for i, r := range raw {
		t, err := Decode(r)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i, err)
		}
		turns = append(turns, t)
	}
	c.turns = turns
	return nil
}
