package mock

import (
	"sync"

	"github.com/harunnryd/fleetvoice/pkg/voice"
)

// Recorder records speech, navigation and notices. Spoken, when set, receives
// every utterance without blocking.
type Recorder struct {
	mu      sync.Mutex
	spoken  []string
	routes  []string
	notices []voice.Notice
	Spoken  chan string
}

func NewRecorder() *Recorder {
	return &Recorder{Spoken: make(chan string, 32)}
}

func (r *Recorder) Speak(text string) {
	r.mu.Lock()
	r.spoken = append(r.spoken, text)
	r.mu.Unlock()
	if r.Spoken != nil {
		select {
		case r.Spoken <- text:
		default:
		}
	}
}

func (r *Recorder) Navigate(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *Recorder) Notify(n voice.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *Recorder) Utterances() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.spoken...)
}

func (r *Recorder) Routes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.routes...)
}

func (r *Recorder) Notices() []voice.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]voice.Notice(nil), r.notices...)
}

var (
	_ voice.SpeechSink = (*Recorder)(nil)
	_ voice.Navigator  = (*Recorder)(nil)
	_ voice.Notifier   = (*Recorder)(nil)
)
