// Package classifier extracts request identifiers and a canonical status from
// the free text of contractor email.
package classifier

import (
	"regexp"
	"strings"
)

// CommentPlaceholder is used when neither subject nor body carry any text.
const CommentPlaceholder = "Сообщение подрядчика"

// StatusRule maps a canonical status to the lowercase substrings that signal it.
type StatusRule struct {
	Status   string
	Keywords []string
}

// StatusRules is evaluated in declaration order and the first rule with any
// matching keyword wins, so a message mentioning both acceptance and travel
// is classified as accepted.
var StatusRules = []StatusRule{
	{Status: "заявка принята", Keywords: []string{"принят", "принята", "подтвержд"}},
	{Status: "подрядчик в пути", Keywords: []string{"в пути", "выех"}},
	{Status: "подрядчик на месте", Keywords: []string{"на месте", "прибыл"}},
	{Status: "подрядчик убыл", Keywords: []string{"убыл", "завершил", "законч"}},
}

var (
	requestPattern  = regexp.MustCompile(`(?i)(?:заявк[аи]|req)[^0-9]*(\d+)`)
	positionPattern = regexp.MustCompile(`(?i)(?:позици[яи]|pos)[^0-9]*(\d+)`)
)

// Facts holds everything the classifier could derive from one message.
type Facts struct {
	RequestNumber  string
	PositionNumber string
	Status         string
	Comment        string
}

// Classify runs every extraction step over the subject and body.
func Classify(subject, body string) Facts {
	request, position := ExtractNumbers(subject, body)
	return Facts{
		RequestNumber:  request,
		PositionNumber: position,
		Status:         DetectStatus(subject + " " + body),
		Comment:        ComposeComment(subject, body),
	}
}

// ExtractNumbers returns the first request and position numbers found,
// checking the subject before the body. Missing values are empty.
func ExtractNumbers(subject, body string) (request, position string) {
	for _, text := range []string{subject, body} {
		if request == "" {
			request = firstGroup(requestPattern, text)
		}
		if position == "" {
			position = firstGroup(positionPattern, text)
		}
	}
	return request, position
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// DetectStatus returns the canonical status of the first matching rule, or ""
// when no rule matches.
func DetectStatus(text string) string {
	lowered := strings.ToLower(text)
	for _, rule := range StatusRules {
		for _, keyword := range rule.Keywords {
			if strings.Contains(lowered, keyword) {
				return rule.Status
			}
		}
	}
	return ""
}

// ComposeComment joins the subject and the first body line with " - ".
// The result is never empty.
func ComposeComment(subject, body string) string {
	subject = strings.TrimSpace(subject)
	body = strings.TrimSpace(body)

	var snippet string
	if body != "" {
		snippet, _, _ = strings.Cut(body, "\n")
		snippet = strings.TrimSpace(snippet)
	}

	parts := make([]string, 0, 2)
	for _, part := range []string{subject, snippet} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return CommentPlaceholder
	}
	return strings.Join(parts, " - ")
}
