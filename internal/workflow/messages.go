package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/usecase"
)

const (
	// MaxMessageLength keeps chunks under the front end's message limit.
	MaxMessageLength = 3500
	shownQueries     = 3
)

// Selection data understood by the machine.
const (
	dataSubPrefix     = "sub:"
	dataSubAll        = "sub:all"
	dataSubDone       = "sub:done"
	dataSubSkip       = "sub:skip"
	dataStylePrefix   = "style:"
	dataStyleRandom   = "style:random"
	dataConfirmYes    = "confirm:yes"
	dataConfirmStyle  = "confirm:style"
	dataConfirmCancel = "confirm:cancel"
	dataResumePrefix  = "resume:"
	dataResumeCancel  = "resume:cancel"
)

func welcomeMessage() domain.Message {
	return domain.Text("Send a health topic (for example \"acid reflux\") and I will find research papers and draft a blog post.\n" +
		"Commands: /cancel to stop, /resume to continue a saved session, /help for details.")
}

func helpMessage() domain.Message {
	return domain.Text("How it works:\n" +
		"1. Send a topic.\n" +
		"2. Pick sub-topics to narrow the search, or skip.\n" +
		"3. Papers are searched, checked for full text and scored.\n" +
		"4. Pick an opening style and confirm to generate the post.\n\n" +
		"/resume lists recent saved sessions, /resume <topic> continues the latest one for that topic.")
}

func subtopicMenu(s domain.Session) domain.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", s.Topic)
	if s.TopicQuery != "" && s.TopicQuery != s.Topic {
		fmt.Fprintf(&b, "Search form: %s\n", s.TopicQuery)
	}
	if len(s.Suggested) == 0 {
		b.WriteString("\nNo sub-topics were found. Search the topic as is?")
		return domain.Message{
			Text:    b.String(),
			Options: [][]domain.Option{{{Label: "Search", Data: dataSubSkip}}},
		}
	}

	b.WriteString("\nSelect sub-topics to refine the search:")
	rows := make([][]domain.Option, 0, len(s.Suggested)+2)
	for i, sub := range s.Suggested {
		mark := "[ ]"
		if s.IsSelected(sub.Name) {
			mark = "[x]"
		}
		label := fmt.Sprintf("%s %s", mark, sub.Name)
		if sub.Mentions > 0 {
			label = fmt.Sprintf("%s (%d)", label, sub.Mentions)
		}
		rows = append(rows, []domain.Option{{Label: label, Data: dataSubPrefix + strconv.Itoa(i)}})
	}
	rows = append(rows,
		[]domain.Option{{Label: "Select all", Data: dataSubAll}, {Label: fmt.Sprintf("Done (%d)", len(s.Selected)), Data: dataSubDone}},
		[]domain.Option{{Label: "Skip refinements", Data: dataSubSkip}},
	)
	return domain.Message{Text: b.String(), Options: rows}
}

// searchFailedMessage points the operator back at the saved sub-topic step.
func searchFailedMessage(s domain.Session, reason string) domain.Message {
	return domain.Text(fmt.Sprintf("%s\nSend /resume %s to pick other sub-topics, or send a topic to start over.", reason, s.Topic))
}

func searchSummary(s domain.Session, res usecase.PipelineResult) []domain.Message {
	accepted := s.Accepted()
	var b strings.Builder
	fmt.Fprintf(&b, "Search finished for %q.\n", s.Topic)
	fmt.Fprintf(&b, "Collected: %d\nAccepted: %d\nRejected: %d\nWith full text: %d\n",
		len(s.Items), len(accepted), len(s.Items)-len(accepted), res.Enrichment.Enriched)
	if res.FellBack {
		b.WriteString("Refined queries returned too few papers, so the broad topic was searched instead.\n")
	}
	if len(s.Queries) > 0 {
		b.WriteString("\nQueries:\n")
		for i, q := range s.Queries {
			if i == shownQueries {
				fmt.Fprintf(&b, "... and %d more\n", len(s.Queries)-shownQueries)
				break
			}
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	out := []domain.Message{domain.Text(strings.TrimRight(b.String(), "\n"))}

	if len(accepted) > 0 {
		lines := make([]string, 0, len(accepted)+1)
		lines = append(lines, "Accepted papers:")
		for i, it := range accepted {
			lines = append(lines, itemLine(i+1, it))
		}
		for _, chunk := range chunkLines(lines, MaxMessageLength) {
			out = append(out, domain.Text(chunk))
		}
	}
	return out
}

func itemLine(n int, it domain.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d. %s", n, it.Title)
	var meta []string
	if it.Journal != "" {
		meta = append(meta, it.Journal)
	}
	if it.Year != "" {
		meta = append(meta, it.Year)
	}
	if it.Score != nil {
		meta = append(meta, fmt.Sprintf("score %d", *it.Score))
	}
	if it.Enriched() {
		meta = append(meta, "full text")
	}
	if len(meta) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(meta, ", "))
	}
	if it.URL != "" {
		fmt.Fprintf(&b, "\n   %s", it.URL)
	}
	return b.String()
}

// chunkLines joins lines into messages no longer than limit. A single line
// longer than limit is split on rune boundaries.
func chunkLines(lines []string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	for _, line := range lines {
		for len(line) > limit {
			flush()
			cut := limit
			for cut > 0 && !isRuneStart(line[cut]) {
				cut--
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		extra := len(line)
		if cur.Len() > 0 {
			extra++
		}
		if cur.Len()+extra > limit {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	flush()
	return chunks
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func styleMenu() domain.Message {
	var b strings.Builder
	b.WriteString("Choose an opening style for the post:\n")
	rows := make([][]domain.Option, 0, len(domain.Styles)+1)
	for _, st := range domain.Styles {
		fmt.Fprintf(&b, "\n%s: %s", st.Name, st.Description)
		rows = append(rows, []domain.Option{{Label: st.Name, Data: dataStylePrefix + st.ID}})
	}
	rows = append(rows, []domain.Option{{Label: "Random", Data: dataStyleRandom}})
	return domain.Message{Text: b.String(), Options: rows}
}

func confirmMenu(s domain.Session) domain.Message {
	st, ok := domain.StyleByID(s.Style)
	if !ok {
		st = domain.DefaultStyle()
	}
	text := fmt.Sprintf("Topic: %s\nStyle: %s\nPapers: %d accepted\n\nGenerate the post?", s.Topic, st.Name, len(s.Accepted()))
	if s.LastError != "" {
		text = fmt.Sprintf("Generation failed: %s\n\n%s", s.LastError, text)
	}
	return domain.Message{Text: text, Options: confirmOptions(s.LastError != "")}
}

func confirmOptions(retry bool) [][]domain.Option {
	label := "Generate"
	if retry {
		label = "Retry"
	}
	return [][]domain.Option{
		{{Label: label, Data: dataConfirmYes}},
		{{Label: "Change style", Data: dataConfirmStyle}, {Label: "Cancel", Data: dataConfirmCancel}},
	}
}

func completedMessage(s domain.Session, doc *domain.Document) domain.Message {
	return domain.Message{
		Text:     fmt.Sprintf("Done. The post for %q is attached. Send a new topic to start again.", s.Topic),
		Document: doc,
	}
}

func resumeMenu(refs []domain.CheckpointRef) domain.Message {
	var b strings.Builder
	b.WriteString("Saved sessions:")
	rows := make([][]domain.Option, 0, len(refs)+1)
	for i, ref := range refs {
		fmt.Fprintf(&b, "\n%d. %s: %s, %d papers (%s)", i+1, ref.Topic, stageTitle(ref.Stage), ref.Items, ref.CreatedAt.Format("2006-01-02 15:04"))
		rows = append(rows, []domain.Option{{Label: fmt.Sprintf("%d. %s", i+1, ref.Topic), Data: dataResumePrefix + strconv.Itoa(i)}})
	}
	rows = append(rows, []domain.Option{{Label: "Cancel", Data: dataResumeCancel}})
	return domain.Message{Text: b.String(), Options: rows}
}

func stageTitle(label string) string {
	switch label {
	case domain.LabelSubtopicsSuggested:
		return "sub-topics suggested"
	case domain.LabelCandidatesScored:
		return "papers scored"
	case domain.LabelStyleSelected:
		return "style selected"
	case domain.LabelGenerationStarted:
		return "generation started"
	case domain.LabelCompleted:
		return "completed"
	default:
		return label
	}
}

func resumedMessages(s domain.Session, drift []string) []domain.Message {
	head := fmt.Sprintf("Resumed %q.", s.Topic)
	if len(drift) > 0 {
		head += " Some saved details no longer apply and were reset to defaults."
	}
	out := []domain.Message{domain.Text(head)}
	switch s.Stage {
	case domain.StateSelectingSubtopics:
		out = append(out, subtopicMenu(s))
	case domain.StateSelectingStyle:
		out = append(out, domain.Text(fmt.Sprintf("%d papers, %d accepted.", len(s.Items), len(s.Accepted()))), styleMenu())
	case domain.StateConfirmingGeneration:
		out = append(out, confirmMenu(s))
	default:
		out = append(out, domain.Text("Send a topic to start."))
	}
	return out
}

func cancelledMessage() domain.Message {
	return domain.Text("Cancelled. Send a new topic whenever you are ready.")
}

func failedMessage() domain.Message {
	return domain.Text("Something went wrong with this session. Send /start to begin again or /resume to continue from a saved point.")
}
