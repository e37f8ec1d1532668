package domain

import "strings"

// Style is a presentation (opening hook) selection for the generated document.
type Style struct {
	ID          string
	Name        string
	Description string
	Instruction string
}

// Styles is the closed catalog of presentation styles.
var Styles = []Style{
	{
		ID:          "stat_shock",
		Name:        "Shocking statistic",
		Description: `"40% of patients do not respond to medication..."`,
		Instruction: "Open with the most surprising statistic found in the papers. Use forms like \"X% of people...\" or \"X in 10...\".",
	},
	{
		ID:          "counterintuitive",
		Name:        "Counterintuitive question",
		Description: `"Do you really need to quit coffee?"`,
		Instruction: "Open with a question that challenges a common belief about {topic}.",
	},
	{
		ID:          "reader_situation",
		Name:        "Reader empathy",
		Description: `"You woke up at night with heartburn again..."`,
		Instruction: "Describe the reader's situation in the second person so they recognise themselves.",
	},
	{
		ID:          "news_trend",
		Name:        "News and trends",
		Description: `"A recently published study shows..."`,
		Instruction: "Open with a recent research finding and name the journal it appeared in.",
	},
	{
		ID:          "conversation",
		Name:        "Conversational",
		Description: `"Every search result says the same thing, right?"`,
		Instruction: "Write the opening as if chatting with a friend about {topic}.",
	},
	{
		ID:          "case_study",
		Name:        "Case study",
		Description: `"A, a 35-year-old office worker, ..."`,
		Instruction: "Open with a short fictional case of someone dealing with {topic}.",
	},
	{
		ID:          "problem_direct",
		Name:        "Problem first",
		Description: `"Medication, then relapse. The real cause is..."`,
		Instruction: "Apply problem, agitate, solution: name the problem, sharpen it, then promise the answer.",
	},
	{
		ID:          "curiosity",
		Name:        "Curiosity gap",
		Description: `"The most important factor was neither drugs nor diet..."`,
		Instruction: "Hint at the conclusion without revealing it and leave an open loop the body closes.",
	},
}

// StyleByID looks up a style in the catalog.
func StyleByID(id string) (Style, bool) {
	for _, st := range Styles {
		if st.ID == id {
			return st, true
		}
	}
	return Style{}, false
}

// DefaultStyle is substituted when a stored style is no longer in the catalog.
func DefaultStyle() Style {
	return Styles[0]
}

// InstructionFor renders the style instruction for a topic.
func (s Style) InstructionFor(topic string) string {
	return strings.ReplaceAll(s.Instruction, "{topic}", topic)
}
