package agent

import (
	"strings"
)

// buildPrompt renders the single-string prompt sent to the model: the
// system preamble, the most recent history, then the new message and
// an open assistant turn.
func (a *Agent) buildPrompt(model string, history []Turn, msg string) string {
	var b strings.Builder
	b.WriteString(a.systemPrompt(model))
	b.WriteString("\n\n")

	if n := len(history) - a.cfg.ContextTurns; n > 0 {
		history = history[n:]
	}
	for _, t := range history {
		b.WriteString(a.speaker(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(msg)
	b.WriteString("\n\n")
	b.WriteString(a.cfg.Name)
	b.WriteString(":")
	return b.String()
}

func (a *Agent) systemPrompt(model string) string {
	var b strings.Builder
	b.WriteString("You are " + a.cfg.Name + ", a local AI assistant.\n")
	b.WriteString("You run LOCALLY using Ollama (" + model + "). No cloud, no API keys.\n\n")
	if a.cfg.Executor != nil {
		b.WriteString(a.cfg.Executor.Registry().SystemPrompt())
		b.WriteString("\n\n")
	}
	b.WriteString("Be concise and helpful. Format code with backticks.")
	return b.String()
}

func (a *Agent) speaker(role string) string {
	if role == RoleUser {
		return "User"
	}
	return a.cfg.Name
}
