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

package models

// Ownership tells the segment queue who owns an outgoing buffer.
// The tag dictates what happens on enqueue, on mid-segment trim, and
// on release.
type Ownership uint8

const (
	// OwnStatic borrows a process-wide template; the queue never
	// mutates or releases it.
	OwnStatic Ownership = iota
	// OwnAdopt transfers the caller's buffer to the queue.
	OwnAdopt
	// OwnCopy makes the queue allocate its own copy on enqueue.
	OwnCopy
)

func (o Ownership) String() string {
	switch o {
	case OwnStatic:
		return "static"
	case OwnAdopt:
		return "adopt"
	case OwnCopy:
		return "copy"
	default:
		return "unknown"
	}
}
