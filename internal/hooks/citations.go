package hooks

import (
	"context"
	"fmt"
	"strings"
)

// citationMaxListed caps how many sources are named before "+N more".
const citationMaxListed = 3

// CitationDecorator is the standard post-hook appending a compact source
// footer when the request's tracker recorded brain or web sources.
func CitationDecorator() PostFunc {
	return func(ctx context.Context, ev *Event, reply string) (string, bool, error) {
		tracker := TrackerFrom(ctx)
		if tracker == nil {
			return "", false, nil
		}

		brain := tracker.BrainSources()
		web := tracker.WebSources()
		if len(brain) == 0 && len(web) == 0 {
			return "", false, nil
		}

		var b strings.Builder
		b.WriteString(strings.TrimRight(reply, "\n"))
		b.WriteString("\n\n---\n")
		if len(brain) > 0 {
			b.WriteString("📚 Brain: " + formatSources(brain, true))
			b.WriteString("\n")
		}
		if len(web) > 0 {
			b.WriteString("🌐 Web: " + formatSources(web, false))
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n"), true, nil
	}
}

func formatSources(sources []string, italic bool) string {
	shown := sources
	more := 0
	if len(shown) > citationMaxListed {
		more = len(shown) - citationMaxListed
		shown = shown[:citationMaxListed]
	}

	parts := make([]string, len(shown))
	for i, s := range shown {
		if italic {
			parts[i] = "*" + s + "*"
		} else {
			parts[i] = s
		}
	}
	out := strings.Join(parts, ", ")
	if more > 0 {
		out += fmt.Sprintf(" (+%d more)", more)
	}
	return out
}
