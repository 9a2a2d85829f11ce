package voice

import (
	"context"
	"errors"
)

var (
	// ErrCaptureUnavailable is returned when the host cannot capture speech.
	ErrCaptureUnavailable = errors.New("speech capture unavailable")
	ErrClosed             = errors.New("voice controller closed")
)

// Update is one observation from the capture source: the full transcript
// since the last reset and whether capture is running. Epoch is the number of
// resets the source had applied when it produced the update.
type Update struct {
	Transcript string
	Capturing  bool
	Epoch      uint64
}

// CaptureSource produces a growing transcript from continuous speech capture.
type CaptureSource interface {
	Start(ctx context.Context, continuous bool) error
	Stop() error
	// Reset empties the transcript and returns the new epoch. Updates
	// stamped with an older epoch were produced before the reset.
	Reset() uint64
	Updates() <-chan Update
}

// SpeechSink vocalizes text. Calls are fire-and-forget.
type SpeechSink interface {
	Speak(text string)
}

type Navigator interface {
	Navigate(route string)
}

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ParseLevel maps a configured level name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelSuccess, LevelWarning, LevelError:
		return Level(s)
	default:
		return LevelInfo
	}
}

// Notice is a short human-readable status message.
type Notice struct {
	Level   Level
	Message string
}

type Notifier interface {
	Notify(n Notice)
}

// Dispatcher sends a completed question with the page context to the
// reasoning backend.
type Dispatcher interface {
	Ask(ctx context.Context, question string, pageContext any) (string, error)
}

// Deliver queues u on ch without blocking. On a full queue a transcript-only
// update is dropped, while a capture state change evicts the oldest queued
// update to make room. It reports whether u was queued.
func Deliver(ch chan Update, u Update, stateChange bool) bool {
	select {
	case ch <- u:
		return true
	default:
	}
	if !stateChange {
		return false
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- u:
		return true
	default:
		return false
	}
}

type nopSpeech struct{}

func (nopSpeech) Speak(string) {}

type nopNavigator struct{}

func (nopNavigator) Navigate(string) {}

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}
