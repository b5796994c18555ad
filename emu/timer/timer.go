/*
   periph - Compare-match timer backend.

   Copyright (c) 2024, Richard Cornwell

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

// Package timer implements the compare-match counter at the heart of the
// two-channel timer peripheral: an up/down counter that raises a match and
// optionally resets itself when it reaches a programmed compare value.
package timer

import (
	"github.com/rcornwell/periph/emu/errs"
	"github.com/rcornwell/periph/emu/register"
)

// CompareMatchTimer is one counter channel. It is a register.Backend: the
// register table invokes Get/Set against it for every FunctionTag bound to
// its address range.
type CompareMatchTimer struct {
	CounterStart    bool
	CurrentTick     uint64
	CompareAgainst  uint64
	CountForward    bool
	FlagOverflow    bool
	FlagUnderflow   bool
	Matched         bool
	MatchToggle     bool
	ResetOnMatch    bool
	InterruptEnabled bool
}

// Tick advances the counter by one and reports whether this tick raised a
// match. Disabled counters (CounterStart == false) never advance and never
// match.
func (c *CompareMatchTimer) Tick() bool {
	if !c.CounterStart {
		return false
	}
	if c.CountForward {
		c.CurrentTick++
	} else {
		c.CurrentTick--
	}
	if c.CurrentTick == c.CompareAgainst {
		c.Matched = true
		c.MatchToggle = !c.MatchToggle
		if c.ResetOnMatch {
			c.CurrentTick = 0
		}
		return true
	}
	return false
}

// IsMatched reports the match flag, gated by CounterStart: a stopped
// counter never observably reports a match even if one was latched before
// it stopped.
func (c *CompareMatchTimer) IsMatched() bool {
	return c.CounterStart && c.Matched
}

// Get implements register.Backend.
func (c *CompareMatchTimer) Get(tag register.FunctionTag) (uint32, error) {
	switch tag {
	case register.IsEnabled:
		return boolToU32(c.CounterStart), nil
	case register.IsInterruptEnabled:
		return boolToU32(c.InterruptEnabled), nil
	case register.IsMatched:
		return boolToU32(c.IsMatched()), nil
	case register.GetCurrentTick:
		return uint32(c.CurrentTick), nil
	case register.GetCompareAgainst:
		return uint32(c.CompareAgainst), nil
	case register.GetFlagOverflow:
		return boolToU32(c.FlagOverflow), nil
	case register.GetFlagUnderflow:
		return boolToU32(c.FlagUnderflow), nil
	case register.GetFlagOverUnderflow:
		// Carried as-coded from the source: ORs flag_overflow with
		// itself instead of with flag_underflow. See DESIGN.md.
		return boolToU32(c.FlagOverflow || c.FlagOverflow), nil
	case register.GetCountForwardFlag:
		return boolToU32(c.CountForward), nil
	case register.GetMatchToggle:
		return boolToU32(c.MatchToggle), nil
	default:
		return 0, unsupported(tag)
	}
}

// Set implements register.Backend.
func (c *CompareMatchTimer) Set(tag register.FunctionTag, value uint32) error {
	switch tag {
	case register.SetEnable:
		c.CounterStart = value != 0
	case register.SetInterruptEnabled:
		c.InterruptEnabled = value != 0
	case register.ClearMatchedFlag:
		c.Matched = false
	case register.SetCurrentTick:
		c.CurrentTick = uint64(value)
	case register.SetCompareAgainst:
		c.CompareAgainst = uint64(value)
	case register.SetFlagOverUnderflow:
		c.FlagOverflow = value != 0
	case register.SetCountForward:
		c.CountForward = value != 0
	case register.SetMatchToggle:
		c.MatchToggle = value != 0
	default:
		return unsupported(tag)
	}
	return nil
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func unsupported(tag register.FunctionTag) error {
	return errs.New(errs.Unsupported, "timer: unsupported function tag %d", tag)
}
