package engine

import (
	"github.com/tmc/langchaingo/prompts"
)

// Summary prompt templates per tier. Each has a single {text} slot.
// Map templates summarize one chunk; combine templates merge summaries
// (and drive every refine step after the first).

const (
	conciseMapTemplate     = "Briefly summarize key points:\n\n{text}\n\nCONCISE SUMMARY:"
	conciseCombineTemplate = "Combine summaries into 2-3 sentences:\n\n{text}\n\nFINAL CONCISE SUMMARY:"

	balancedMapTemplate     = "Summarize main ideas & details:\n\n{text}\n\nBALANCED SUMMARY:"
	balancedCombineTemplate = "Create comprehensive summary:\n\n{text}\n\nFINAL BALANCED SUMMARY:"

	detailedMapTemplate     = "Detailed summary with examples/arguments:\n\n{text}\n\nDETAILED SUMMARY:"
	detailedCombineTemplate = "Synthesize into in-depth summary:\n\n{text}\n\nFINAL DETAILED SUMMARY:"
)

type promptTemplate = prompts.PromptTemplate

// Prompts is the template pair a strategy renders.
type Prompts struct {
	Map     prompts.PromptTemplate
	Combine prompts.PromptTemplate
}

// NewPrompts builds a Prompts from two f-string templates using {text}.
func NewPrompts(mapTemplate, combineTemplate string) Prompts {
	return Prompts{Map: textTemplate(mapTemplate), Combine: textTemplate(combineTemplate)}
}

// PromptsForTier returns the built-in templates for a verbosity tier.
func PromptsForTier(t Tier) Prompts {
	switch t {
	case TierConcise:
		return NewPrompts(conciseMapTemplate, conciseCombineTemplate)
	case TierBalanced:
		return NewPrompts(balancedMapTemplate, balancedCombineTemplate)
	default:
		return NewPrompts(detailedMapTemplate, detailedCombineTemplate)
	}
}

func textTemplate(tmpl string) prompts.PromptTemplate {
	return prompts.PromptTemplate{
		Template:       tmpl,
		InputVariables: []string{"text"},
		TemplateFormat: prompts.TemplateFormatFString,
	}
}

func renderPrompt(t prompts.PromptTemplate, text string) (string, error) {
	return t.Format(map[string]any{"text": text})
}
