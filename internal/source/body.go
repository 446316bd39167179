package source

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// readTextBody parses a raw RFC 5322 message and returns its plain text,
// falling back to the HTML part converted to text.
func readTextBody(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && mr == nil {
		return "", fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	var text, html string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()

		content, err := io.ReadAll(p.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read part body: %w", err)
		}

		switch contentType {
		case "text/plain":
			if text == "" {
				text = string(content)
			}
		case "text/html":
			if html == "" {
				html = string(content)
			}
		}
	}

	if strings.TrimSpace(text) != "" {
		return normalizeNewlines(text), nil
	}
	return htmlToPlainText(html), nil
}

var (
	tagPattern       = regexp.MustCompile(`<[^>]*>`)
	blankLinePattern = regexp.MustCompile(`\n{3,}`)
	lineBreakTags    = strings.NewReplacer(
		"<br>", "\n",
		"<br/>", "\n",
		"<br />", "\n",
		"<p>", "\n",
		"</p>", "\n",
		"<div>", "\n",
		"</div>", "\n",
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
	)
)

// htmlToPlainText strips markup well enough for keyword matching.
func htmlToPlainText(html string) string {
	text := lineBreakTags.Replace(normalizeNewlines(html))
	text = tagPattern.ReplaceAllString(text, "")
	text = blankLinePattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

var wordDecoder = mime.WordDecoder{CharsetReader: charset.Reader}

// decodeHeader decodes RFC 2047 encoded words, leaving the input as is on failure.
func decodeHeader(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// parseSender extracts the bare address from a From-style header value.
func parseSender(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(value); err == nil && addr.Address != "" {
		return addr.Address
	}
	return value
}
