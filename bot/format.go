package bot

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cryptojobs-notifier/pkg/jobs"
)

const (
	descriptionPreviewLines = 5
	descriptionPreviewChars = 500
)

var titleCaser = cases.Title(language.English)

var jobTypeEmoji = map[jobs.JobType]string{
	jobs.TypeFullstack:  "👨‍💻",
	jobs.TypeFrontend:   "🖌️",
	jobs.TypeBackend:    "⚙️",
	jobs.TypeMobile:     "📱",
	jobs.TypeDevops:     "🔧",
	jobs.TypeBlockchain: "⛓️",
	jobs.TypeAI:         "🧠",
	jobs.TypeData:       "📊",
	jobs.TypeDesign:     "🎨",
	jobs.TypeProduct:    "📝",
	jobs.TypeQA:         "🔍",
	jobs.TypeOther:      "💼",
}

// formatPosting renders one posting as a Telegram HTML message.
func formatPosting(p jobs.Posting) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("🆕 <b>%s</b>\n", escapeHTML(p.Title)))
	b.WriteString(fmt.Sprintf("🏢 <b>Company:</b> %s\n", escapeHTML(p.Company)))

	emoji, ok := jobTypeEmoji[p.Type]
	if !ok {
		emoji = "💼"
	}
	b.WriteString(fmt.Sprintf("%s <b>Job Type:</b> %s\n", emoji, displayJobType(p.Type)))
	b.WriteString(fmt.Sprintf("🔗 <a href=\"%s\">View Job</a>\n", escapeHTML(p.Link)))

	if preview := descriptionPreview(p.Description); preview != "" {
		b.WriteString(fmt.Sprintf("\n📝 <b>Description:</b>\n%s", escapeHTML(preview)))
	}

	return b.String()
}

// descriptionPreview keeps the first few lines of an already-cleaned
// description, with a marker when content was cut.
func descriptionPreview(desc string) string {
	if desc == "" {
		return ""
	}
	lines := strings.Split(desc, "\n")
	preview := strings.Join(lines[:min(len(lines), descriptionPreviewLines)], "\n")
	if len(lines) > descriptionPreviewLines || len(desc) > descriptionPreviewChars {
		preview += "\n..."
	}
	return preview
}

func displayJobType(t jobs.JobType) string {
	return titleCaser.String(string(t))
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}

// filtersSummary renders the current filter state for /filters.
func filtersSummary(f jobs.Filter) string {
	if f.Empty() {
		return "🔍 <b>Job Filters</b>\n\n" +
			"You don't have any active filters. You are receiving all jobs.\n\n" +
			"Use /addtype or /addkeyword to narrow things down."
	}

	var b strings.Builder
	b.WriteString("🔍 <b>Job Filters</b>\n")
	if len(f.JobTypes) > 0 {
		b.WriteString("\n<b>Job types:</b>\n")
		for i, t := range f.JobTypes {
			b.WriteString(fmt.Sprintf("%d. %s\n", i+1, displayJobType(t)))
		}
	}
	if len(f.Keywords) > 0 {
		b.WriteString("\n<b>Keywords:</b>\n")
		for i, kw := range f.Keywords {
			b.WriteString(fmt.Sprintf("%d. %s\n", i+1, escapeHTML(kw)))
		}
	}
	b.WriteString("\nA job is sent when it matches any job type or any keyword.")
	return b.String()
}

func jobTypeList() string {
	names := make([]string, 0, len(jobs.AllTypes))
	for _, t := range jobs.AllTypes {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

const welcomeMessage = "✅ <b>Successfully subscribed!</b>\n\n" +
	"You will now receive new crypto job postings as they appear.\n" +
	"Use /filters to see your filters and /help for all commands."

const goodbyeMessage = "✅ <b>Successfully unsubscribed!</b>\n\n" +
	"You will no longer receive job updates. Your filters are kept.\n" +
	"Use /start to subscribe again."

const helpMessage = "🤖 <b>Crypto Jobs Bot</b>\n\n" +
	"/start - subscribe to job updates\n" +
	"/stop - unsubscribe\n" +
	"/latest - show the latest jobs (add <code>new</code> for unseen only)\n" +
	"/filters - show your filters\n" +
	"/addtype &lt;type&gt; - receive jobs of a type\n" +
	"/removetype &lt;type&gt; - drop a job type\n" +
	"/addkeyword &lt;word&gt; - receive jobs mentioning a word\n" +
	"/removekeyword &lt;word&gt; - drop a keyword\n" +
	"/clearfilters - receive all jobs again\n" +
	"/favorites - show saved jobs\n" +
	"/help - this message"
