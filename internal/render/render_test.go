package render

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-alert-relay/internal/model"
)

func sampleRecord() model.Record {
	return model.Record{
		ID:               "job-1",
		Title:            "Go Developer (Senior)",
		Company:          "Acme Inc.",
		Category:         "IT & Software",
		Location:         "Nairobi, Kenya",
		EmploymentType:   "Full Time",
		WorkLocationType: "Remote",
		ExperienceYears:  "5+ years",
		Link:             "https://jobs.example/jobs/go-developer",
		ImageRef:         "https://img.example/a.png",
		Body:             strings.Repeat("x", 250),
	}
}

func newRenderer() *Renderer {
	return New(Options{Brand: "FlexiTask", Hashtags: []string{"Jobs", "Hiring"}, DescriptionMax: 200})
}

func TestBaseRejectsMalformedRecords(t *testing.T) {
	r := newRenderer()
	for name, rec := range map[string]model.Record{
		"no id":    {Title: "t", Link: "l"},
		"no title": {ID: "1", Link: "l"},
		"no link":  {ID: "1", Title: "t"},
		"bad utf8": {ID: "1", Title: "\xff", Link: "l"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := r.Base(rec)
			assert.True(t, errors.Is(err, model.ErrRender))
		})
	}
}

func TestBaseTruncatesDescription(t *testing.T) {
	msg, err := newRenderer().Base(sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 200)+"...", msg.Description)
}

func TestBaseHashtags(t *testing.T) {
	msg, err := newRenderer().Base(sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, []string{"Jobs", "ITAndSoftware", "Hiring", "FlexiTask", "RemoteJobs"}, msg.Hashtags)

	rec := sampleRecord()
	rec.Category = ""
	rec.WorkLocationType = "On-site"
	rec.Location = ""
	msg, err = newRenderer().Base(rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"Jobs", "Hiring", "FlexiTask"}, msg.Hashtags)
	assert.Equal(t, "Location not specified", msg.Location)
}

func TestFormatMarkdownV2EscapesContent(t *testing.T) {
	r := newRenderer()
	msg, err := r.Base(sampleRecord())
	require.NoError(t, err)

	out := r.Format(msg, Capabilities{Markup: MarkupMarkdownV2, SupportsImage: true, MaxTextLength: 4096, MaxCaptionLength: 1024})

	assert.Contains(t, out.Text, "*Go Developer \\(Senior\\)*")
	assert.Contains(t, out.Text, "_Acme Inc\\._")
	assert.Contains(t, out.Text, "Remote")
	assert.Contains(t, out.Text, "\\|")
	assert.Contains(t, out.Text, "[Apply Now](https://jobs.example/jobs/go-developer)")
	assert.Contains(t, out.Text, "\\#ITAndSoftware")
	assert.Equal(t, "https://img.example/a.png", out.ImageURL)
	assert.NotEmpty(t, out.Caption)
	assert.Equal(t, "Go Developer (Senior) at Acme Inc.", out.Subject)
}

func TestFormatPlainHasNoEscapes(t *testing.T) {
	r := newRenderer()
	msg, err := r.Base(sampleRecord())
	require.NoError(t, err)

	out := r.Format(msg, Capabilities{Markup: MarkupPlain, MaxTextLength: 1600})
	assert.NotContains(t, out.Text, "\\")
	assert.Contains(t, out.Text, "Go Developer (Senior) at Acme Inc.")
	assert.Contains(t, out.Text, "Apply Now: https://jobs.example/jobs/go-developer")
	assert.Empty(t, out.ImageURL, "channel without image support gets no image")
	assert.Empty(t, out.Caption)
}

func TestFormatRespectsLimits(t *testing.T) {
	r := newRenderer()
	msg, err := r.Base(sampleRecord())
	require.NoError(t, err)

	out := r.Format(msg, Capabilities{Markup: MarkupMarkdownV2, SupportsImage: true, MaxTextLength: 4096, MaxCaptionLength: 300})
	assert.LessOrEqual(t, utf8.RuneCountInString(out.Caption), 300)
	assert.NotContains(t, out.Caption, strings.Repeat("x", 200), "description is dropped first")
	assert.Contains(t, out.Text, strings.Repeat("x", 200))

	tiny := r.Format(msg, Capabilities{Markup: MarkupMarkdownV2, MaxTextLength: 40})
	assert.LessOrEqual(t, utf8.RuneCountInString(tiny.Text), 40)
}

func TestCutAvoidsDanglingEscape(t *testing.T) {
	assert.Equal(t, "ab", cut("ab\\.cd", 3))
	assert.Equal(t, "ab\\\\", cut("ab\\\\cd", 4))
	assert.Equal(t, "short", cut("short", 10))
}

func TestEscapeMarkdownV2(t *testing.T) {
	assert.Equal(t, "a\\_b\\*c\\!\\\\", EscapeMarkdownV2("a_b*c!\\"))
}
