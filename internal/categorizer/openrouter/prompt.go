package openrouter

import (
	"strings"

	"github.com/JakeFAU/factcheck-aggregator/internal/topics"
)

// DefaultSystemPrompt instructs the model to pick exactly one baseline topic.
func DefaultSystemPrompt() string {
	var b strings.Builder
	b.WriteString("Du klassifizierst Faktencheck-Artikel deutscher Medien nach Themen.\n")
	b.WriteString("Du erhältst einen Artikel als JSON mit den Feldern medium, kicker, headline, teaser und body.\n")
	b.WriteString("Wähle genau ein Thema aus der folgenden Liste, das den Artikel am besten beschreibt:\n\n")
	for _, l := range topics.Baseline {
		b.WriteString("- ")
		b.WriteString(string(l))
		b.WriteString("\n")
	}
	b.WriteString("\nAntworte ausschließlich mit einem JSON-Objekt der Form {\"topic_label\": \"<Thema>\"}. ")
	b.WriteString("Verwende den Themennamen exakt wie in der Liste angegeben.")
	return b.String()
}
