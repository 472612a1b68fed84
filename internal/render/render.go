// Package render turns a record into one channel-agnostic message and then
// into per-channel variants driven by channel capabilities.
package render

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"job-alert-relay/internal/model"
)

// Markup is the formatting dialect a channel understands
type Markup int

const (
	MarkupPlain Markup = iota
	MarkupMarkdownV2
)

// Capabilities describe what a channel can display
type Capabilities struct {
	Markup           Markup
	SupportsImage    bool
	MaxTextLength    int
	MaxCaptionLength int
}

// Message is the channel-agnostic rendering of a record
type Message struct {
	RecordID    string
	Title       string
	Company     string
	Location    string
	WorkType    string
	Employment  string
	Category    string
	Experience  string
	Internship  bool
	Description string
	Link        string
	Hashtags    []string
	ImageURL    string
}

// Formatted is a message ready to hand to one channel sender
type Formatted struct {
	Subject  string
	Text     string
	Caption  string
	ImageURL string
	Markup   Markup
}

// Options configures the renderer
type Options struct {
	Brand          string
	Hashtags       []string
	DescriptionMax int
}

// Renderer formats records. It holds no mutable state.
type Renderer struct {
	opts Options
}

// New creates a renderer
func New(opts Options) *Renderer {
	if opts.DescriptionMax <= 0 {
		opts.DescriptionMax = 200
	}
	return &Renderer{opts: opts}
}

// Base renders the channel-agnostic message
func (r *Renderer) Base(rec model.Record) (Message, error) {
	switch {
	case strings.TrimSpace(rec.ID) == "":
		return Message{}, fmt.Errorf("%w: missing id", model.ErrRender)
	case strings.TrimSpace(rec.Title) == "":
		return Message{}, fmt.Errorf("%w: record %s has no title", model.ErrRender, rec.ID)
	case strings.TrimSpace(rec.Link) == "":
		return Message{}, fmt.Errorf("%w: record %s has no link", model.ErrRender, rec.ID)
	case !utf8.ValidString(rec.Title + rec.Body + rec.Company):
		return Message{}, fmt.Errorf("%w: record %s is not valid UTF-8", model.ErrRender, rec.ID)
	}

	msg := Message{
		RecordID:    rec.ID,
		Title:       strings.TrimSpace(rec.Title),
		Company:     strings.TrimSpace(rec.Company),
		Location:    rec.Location,
		WorkType:    rec.WorkLocationType,
		Employment:  rec.EmploymentType,
		Category:    rec.Category,
		Experience:  rec.ExperienceYears,
		Internship:  rec.IsInternship,
		Description: truncate(strings.TrimSpace(rec.Body), r.opts.DescriptionMax),
		Link:        rec.Link,
		ImageURL:    rec.ImageRef,
	}
	if msg.Location == "" {
		msg.Location = "Location not specified"
	}
	msg.Hashtags = r.hashtags(rec)
	return msg, nil
}

func (r *Renderer) hashtags(rec model.Record) []string {
	tags := make([]string, 0, len(r.opts.Hashtags)+3)
	tags = append(tags, r.opts.Hashtags...)
	if rec.Category != "" {
		tag := strings.NewReplacer(" ", "", "&", "And").Replace(rec.Category)
		at := 1
		if len(tags) == 0 {
			at = 0
		}
		tags = append(tags[:at], append([]string{tag}, tags[at:]...)...)
	}
	if r.opts.Brand != "" {
		tags = append(tags, strings.ReplaceAll(r.opts.Brand, " ", ""))
	}
	if strings.EqualFold(rec.WorkLocationType, "Remote") {
		tags = append(tags, "RemoteJobs")
	}
	return tags
}

// Format renders the variant for one channel
func (r *Renderer) Format(msg Message, caps Capabilities) Formatted {
	out := Formatted{
		Subject: msg.Title,
		Markup:  caps.Markup,
	}
	if msg.Company != "" {
		out.Subject = msg.Title + " at " + msg.Company
	}
	out.Text = fit(msg, caps.Markup, caps.MaxTextLength)
	if caps.SupportsImage && msg.ImageURL != "" {
		out.ImageURL = msg.ImageURL
		out.Caption = fit(msg, caps.Markup, caps.MaxCaptionLength)
	}
	return out
}

// fit builds the body and, when it exceeds limit, drops the description
// and finally cuts it hard.
func fit(msg Message, markup Markup, limit int) string {
	text := build(msg, markup, true)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	text = build(msg, markup, false)
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return cut(text, limit)
}

func build(msg Message, markup Markup, withDescription bool) string {
	esc := escaper(markup)
	var b strings.Builder

	if markup == MarkupMarkdownV2 {
		b.WriteString("🚀 *New Job Alert\\!*\n\n")
		fmt.Fprintf(&b, "📌 *%s*", esc(msg.Title))
		if msg.Company != "" {
			fmt.Fprintf(&b, " at _%s_", esc(msg.Company))
		}
	} else {
		b.WriteString("🚀 New Job Alert!\n\n")
		fmt.Fprintf(&b, "📌 %s", msg.Title)
		if msg.Company != "" {
			fmt.Fprintf(&b, " at %s", msg.Company)
		}
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "📍 %s", esc(msg.Location))
	if msg.WorkType != "" {
		fmt.Fprintf(&b, " %s %s", esc("|"), esc(msg.WorkType))
	}
	b.WriteString("\n")
	if msg.Employment != "" {
		fmt.Fprintf(&b, "💼 %s\n", esc(msg.Employment))
	}
	if msg.Category != "" {
		fmt.Fprintf(&b, "🏷️ %s\n", esc(msg.Category))
	}
	if msg.Experience != "" {
		fmt.Fprintf(&b, "📊 Experience: %s\n", esc(msg.Experience))
	}
	if msg.Internship {
		if markup == MarkupMarkdownV2 {
			b.WriteString("🎓 *Internship Position*\n")
		} else {
			b.WriteString("🎓 Internship Position\n")
		}
	}

	if withDescription && msg.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", esc(msg.Description))
	}

	if markup == MarkupMarkdownV2 {
		fmt.Fprintf(&b, "\n👉 [Apply Now](%s)", escapeLinkTarget(msg.Link))
	} else {
		fmt.Fprintf(&b, "\n👉 Apply Now: %s", msg.Link)
	}

	if len(msg.Hashtags) > 0 {
		tags := make([]string, len(msg.Hashtags))
		for i, t := range msg.Hashtags {
			tags[i] = esc("#" + t)
		}
		b.WriteString("\n\n" + strings.Join(tags, " "))
	}
	return b.String()
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max])) + "..."
}

// cut shortens text to limit runes without leaving a dangling escape.
func cut(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	runes = runes[:limit]
	trailing := 0
	for i := len(runes) - 1; i >= 0 && runes[i] == '\\'; i-- {
		trailing++
	}
	if trailing%2 == 1 {
		runes = runes[:len(runes)-1]
	}
	return string(runes)
}
