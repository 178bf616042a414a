/*
 * Copyright 2026 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package tcp

import "time"

// The timer wheel is a binary min-heap of (deadline, TCB index)
// entries. Every active TCB owns exactly one slot; arming an already
// armed TCB moves its entry instead of adding a second one. The TCB
// stores its heap position so removal is O(log n) without search.

type timerEntry struct {
	deadline int64 // microsecond ticks
	tcb      int32 // slab index
}

type timerWheel struct {
	entries []timerEntry
}

func ticks(t time.Time) int64 {
	return t.UnixMicro()
}

// arm schedules (or reschedules) the TCB's single timeout.
func (w *timerWheel) arm(c *Table, tcb *TCB, deadline int64) {
	tcb.timerDeadline = deadline

	if tcb.timerIdx != noIndex {
		i := int(tcb.timerIdx)
		w.entries[i].deadline = deadline
		w.fix(c, i)

		return
	}

	w.entries = append(w.entries, timerEntry{deadline: deadline, tcb: tcb.idx})
	tcb.timerIdx = int32(len(w.entries) - 1)
	w.up(c, len(w.entries)-1)
}

// unlink removes the TCB's slot, if any.
func (w *timerWheel) unlink(c *Table, tcb *TCB) {
	if tcb.timerIdx == noIndex {
		return
	}

	i := int(tcb.timerIdx)
	w.removeAt(c, i)
	tcb.timerIdx = noIndex
}

// removeExpired pops one due entry, or returns nil when nothing is due.
func (w *timerWheel) removeExpired(c *Table, now int64) *TCB {
	if len(w.entries) == 0 || w.entries[0].deadline > now {
		return nil
	}

	tcb := c.slab[w.entries[0].tcb]
	w.removeAt(c, 0)
	tcb.timerIdx = noIndex

	return tcb
}

// len reports the number of queued entries.
func (w *timerWheel) len() int {
	return len(w.entries)
}

func (w *timerWheel) removeAt(c *Table, i int) {
	last := len(w.entries) - 1
	if i != last {
		w.swap(c, i, last)
	}

	w.entries = w.entries[:last]

	if i != last {
		w.fix(c, i)
	}
}

func (w *timerWheel) fix(c *Table, i int) {
	if !w.down(c, i) {
		w.up(c, i)
	}
}

func (w *timerWheel) up(c *Table, i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if w.entries[parent].deadline <= w.entries[i].deadline {
			break
		}

		w.swap(c, i, parent)
		i = parent
	}
}

func (w *timerWheel) down(c *Table, i int) bool {
	moved := false

	for {
		left := 2*i + 1
		if left >= len(w.entries) {
			return moved
		}

		smallest := left
		if right := left + 1; right < len(w.entries) && w.entries[right].deadline < w.entries[left].deadline {
			smallest = right
		}

		if w.entries[i].deadline <= w.entries[smallest].deadline {
			return moved
		}

		w.swap(c, i, smallest)
		i = smallest
		moved = true
	}
}

func (w *timerWheel) swap(c *Table, i, j int) {
	w.entries[i], w.entries[j] = w.entries[j], w.entries[i]
	c.slab[w.entries[i].tcb].timerIdx = int32(i)
	c.slab[w.entries[j].tcb].timerIdx = int32(j)
}
