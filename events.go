package main

import (
	"micpanel/meter"
	"micpanel/speech"
)

// EventSink abstracts the display layer so both the Bubble Tea TUI and
// the headless test driver receive the same panel events.
type EventSink interface {
	Level(panel string, r meter.Reading)
	Talking(panel string, on bool, device string)
	SpeechState(panel string, s speech.State)
	Transcript(panel string, text string)
	Recorded(panel string, seconds float64)
	Error(panel string, err error)
}

type nopSink struct{}

func (nopSink) Level(string, meter.Reading)     {}
func (nopSink) Talking(string, bool, string)    {}
func (nopSink) SpeechState(string, speech.State) {}
func (nopSink) Transcript(string, string)       {}
func (nopSink) Recorded(string, float64)        {}
func (nopSink) Error(string, error)             {}
