package notify

import (
	"log/slog"

	"github.com/harunnryd/fleetvoice/pkg/voice"
)

var levelRank = map[voice.Level]int{
	voice.LevelInfo:    0,
	voice.LevelSuccess: 1,
	voice.LevelWarning: 2,
	voice.LevelError:   3,
}

// AtLeast reports whether level is as severe as min.
func AtLeast(level, min voice.Level) bool {
	return levelRank[level] >= levelRank[min]
}

// LogNotifier writes notices to a structured logger.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(notice voice.Notice) {
	switch notice.Level {
	case voice.LevelError:
		n.log.Error("voice_notice", "level", string(notice.Level), "message", notice.Message)
	case voice.LevelWarning:
		n.log.Warn("voice_notice", "level", string(notice.Level), "message", notice.Message)
	default:
		n.log.Info("voice_notice", "level", string(notice.Level), "message", notice.Message)
	}
}

// Multi fans notices out to several notifiers.
type Multi struct {
	list []voice.Notifier
}

func NewMulti(list ...voice.Notifier) *Multi {
	out := make([]voice.Notifier, 0, len(list))
	for _, n := range list {
		if n != nil {
			out = append(out, n)
		}
	}
	return &Multi{list: out}
}

func (m *Multi) Notify(notice voice.Notice) {
	for _, n := range m.list {
		n.Notify(notice)
	}
}

var (
	_ voice.Notifier = (*LogNotifier)(nil)
	_ voice.Notifier = (*Multi)(nil)
)
