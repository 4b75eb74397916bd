package bot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"cryptojobs-notifier/pkg/jobs"
)

func TestFormatPosting(t *testing.T) {
	p := jobs.Posting{
		ID:          "guid-1",
		Title:       "Senior Go Engineer <remote>",
		Company:     "Shakepay",
		Link:        "https://example.com/jobs/1",
		Description: "Build payment rails.\nStrong Go required.",
		Type:        jobs.TypeBackend,
	}

	msg := formatPosting(p)

	assert.Contains(t, msg, "<b>Senior Go Engineer &lt;remote&gt;</b>")
	assert.Contains(t, msg, "<b>Company:</b> Shakepay")
	assert.Contains(t, msg, "⚙️ <b>Job Type:</b> Backend")
	assert.Contains(t, msg, `<a href="https://example.com/jobs/1">View Job</a>`)
	assert.Contains(t, msg, "Build payment rails.")
	assert.NotContains(t, msg, "<remote>", "raw HTML must be escaped")
}

func TestFormatPostingUnknownTypeFallsBack(t *testing.T) {
	msg := formatPosting(jobs.Posting{Title: "x", Type: jobs.JobType("mystery")})
	assert.Contains(t, msg, "💼 <b>Job Type:</b> Mystery")
}

func TestDescriptionPreview(t *testing.T) {
	tests := []struct {
		name string
		desc string
		want string
	}{
		{name: "empty", desc: "", want: ""},
		{name: "short stays intact", desc: "one\ntwo", want: "one\ntwo"},
		{
			name: "long line count is cut",
			desc: "1\n2\n3\n4\n5\n6\n7",
			want: "1\n2\n3\n4\n5\n...",
		},
		{
			name: "long text gets a marker",
			desc: strings.Repeat("a", 600),
			want: strings.Repeat("a", 600) + "\n...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, descriptionPreview(tt.desc))
		})
	}
}

func TestFiltersSummary(t *testing.T) {
	empty := filtersSummary(jobs.Filter{})
	assert.Contains(t, empty, "don't have any active filters")

	full := filtersSummary(jobs.Filter{
		JobTypes: []jobs.JobType{jobs.TypeBackend, jobs.TypeDevops},
		Keywords: []string{"rust", "<solidity>"},
	})
	assert.Contains(t, full, "1. Backend")
	assert.Contains(t, full, "2. Devops")
	assert.Contains(t, full, "1. rust")
	assert.Contains(t, full, "2. &lt;solidity&gt;")
}

func TestJobTypeListCoversAllTypes(t *testing.T) {
	list := jobTypeList()
	for _, jt := range jobs.AllTypes {
		assert.Contains(t, list, string(jt))
	}
}

func TestCallbackToken(t *testing.T) {
	a := callbackToken("https://example.com/a-very-long-posting-identifier-url")
	b := callbackToken("other")

	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, callbackToken("https://example.com/a-very-long-posting-identifier-url"))
}

func TestEscapeHTML(t *testing.T) {
	assert.Equal(t, "a &amp;&lt;b&gt; &quot;c&#39;", escapeHTML(`a &<b> "c'`))
}
