package command

import (
	"context"
	"regexp"
	"strings"

	"github.com/louisbranch/rollcall/internal/services/roll/engine"
)

var praisePhrases = []string{
	`good(?: job| work| effort)?`,
	`well done`,
	`thank you(?: so much| a lot)?`,
	`amazing(?: work| job)?`,
	`excellent(?: effort| work)?`,
	`great(?: job| work)?`,
	`nice(?: job| work)?`,
	`you're the best`,
	`keep it up`,
	`i love you`,
}

func praisePattern(botName string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:` + strings.Join(praisePhrases, "|") + `)[, ]+` + regexp.QuoteMeta(botName))
}

// easterEgg answers lines that are neither commands nor rolls.
func (r *Router) easterEgg(ctx context.Context, msg Message, line string, sink engine.Sink) error {
	if r.praise.MatchString(msg.Text) || r.praise.MatchString(line) {
		return sink.React(ctx, msg.ID, ReactionFlattered)
	}
	return nil
}
