package command

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	// KindLiteral fires immediately when one of its phrases is heard.
	KindLiteral Kind = "literal"
	// KindWake marks the start of a free-form question.
	KindWake Kind = "wake"
)

// Command binds phrases to a local effect. Literal commands navigate to Route
// when set, speak Say and post Notice; all of them reset the transcript.
// Wake commands only use Phrases.
type Command struct {
	Name        string   `mapstructure:"name"`
	Kind        Kind     `mapstructure:"kind"`
	Phrases     []string `mapstructure:"phrases"`
	Route       string   `mapstructure:"route"`
	Say         string   `mapstructure:"say"`
	Notice      string   `mapstructure:"notice"`
	NoticeLevel string   `mapstructure:"notice_level"`
}

func (c Command) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("command name is required")
	}
	switch c.Kind {
	case KindLiteral, KindWake:
	default:
		return fmt.Errorf("command %s: unknown kind %q", c.Name, c.Kind)
	}
	n := 0
	for _, p := range c.Phrases {
		if strings.TrimSpace(p) != "" {
			n++
		}
	}
	if n == 0 {
		return fmt.Errorf("command %s: at least one phrase is required", c.Name)
	}
	if c.Kind == KindWake && (c.Route != "" || c.Say != "" || c.Notice != "") {
		return fmt.Errorf("command %s: wake commands take no effects", c.Name)
	}
	return nil
}

// DefaultCommands is the command set used when configuration supplies none.
func DefaultCommands() []Command {
	return []Command{
		{
			Name:        "overview",
			Kind:        KindLiteral,
			Phrases:     []string{"go to overview", "go to home", "open dashboard"},
			Route:       "/",
			Say:         "Opening overview",
			Notice:      "Navigating to Overview",
			NoticeLevel: "success",
		},
		{
			Name:        "bookings",
			Kind:        KindLiteral,
			Phrases:     []string{"go to bookings", "open bookings", "service center", "service centre", "go to booking"},
			Route:       "/bookings",
			Say:         "Opening service center bookings",
			Notice:      "Navigating to Bookings",
			NoticeLevel: "success",
		},
		{
			Name:        "logout",
			Kind:        KindLiteral,
			Phrases:     []string{"terminate session", "log out", "go to login"},
			Route:       "/login",
			Say:         "Terminating session. Goodbye.",
			Notice:      "Session Terminated",
			NoticeLevel: "error",
		},
		{
			Name:    "clear",
			Kind:    KindLiteral,
			Phrases: []string{"clear", "clear transcript"},
		},
		{
			Name:    "ask",
			Kind:    KindWake,
			Phrases: []string{"ask auto", "hey auto", "computer"},
		},
	}
}
