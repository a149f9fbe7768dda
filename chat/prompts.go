package chat

import (
	"strings"

	"github.com/piskevalee-cpu/MARK/config"
	"github.com/piskevalee-cpu/MARK/memory"
)

// personaPrompt is MARK's standing system prompt.
const personaPrompt = `You are MARK, a concise and capable terminal assistant.
Answer directly and practically. Prefer short, correct answers over long
hedged ones. Use plain text suitable for a terminal; avoid heavy markdown.
When facts about the user are provided in a <MEMORIES> block, treat them
as true background knowledge and use them naturally, without quoting the
block back.`

// buildSystem assembles the system prompt for one exchange: persona,
// user name when configured, and retrieved facts.
func buildSystem(cfg *config.Config, facts []*memory.Fact) string {
	var b strings.Builder
	if cfg.Prompts.System != "" {
		b.WriteString(cfg.Prompts.System)
	} else {
		b.WriteString(personaPrompt)
	}

	if cfg.UserName != "" {
		b.WriteString("\n\nThe user's name is ")
		b.WriteString(cfg.UserName)
		b.WriteString(".")
	}

	if len(facts) > 0 {
		b.WriteString("\n\n<MEMORIES>\n")
		for _, f := range facts {
			b.WriteString("- ")
			b.WriteString(f.Text)
			b.WriteString("\n")
		}
		b.WriteString("</MEMORIES>")
	}
	return b.String()
}
