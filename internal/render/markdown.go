package render

import "strings"

var markdownV2 = strings.NewReplacer(
	"\\", "\\\\",
	"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)",
	"~", "\\~", "`", "\\`", ">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
	"=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}", ".", "\\.", "!", "\\!",
)

// EscapeMarkdownV2 escapes text for Telegram MarkdownV2
func EscapeMarkdownV2(s string) string {
	return markdownV2.Replace(s)
}

// inside (...) of an inline link only ) and \ must be escaped
var linkTarget = strings.NewReplacer("\\", "\\\\", ")", "\\)")

func escapeLinkTarget(s string) string {
	return linkTarget.Replace(s)
}

func escaper(m Markup) func(string) string {
	if m == MarkupMarkdownV2 {
		return EscapeMarkdownV2
	}
	return func(s string) string { return s }
}
