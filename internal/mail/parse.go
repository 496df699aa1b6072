package mail

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
)

// snippetBudget is the character budget for list-view previews.
const snippetBudget = 140

const (
	placeholderSubject = "(no subject)"
	placeholderSender  = "(unknown sender)"
)

// parsedMessage is the best-effort readable rendering of a raw message.
type parsedMessage struct {
	Subject   string
	FromName  string
	Body      string
	DateEpoch int64
}

// parseMessage walks the MIME tree of a raw RFC 822 payload and extracts a
// plain-text body (first text/plain part, falling back to the first
// text/html part tag-stripped), the decoded Subject and sender name, and
// the Date header as epoch seconds (0 when unparseable). A payload that
// cannot be parsed at all is returned whole as plain text.
func parseMessage(raw []byte) parsedMessage {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return parsedMessage{Body: string(raw)}
	}
	defer mr.Close()

	var out parsedMessage

	if subj, err := mr.Header.Subject(); err == nil {
		out.Subject = strings.TrimSpace(subj)
	}
	if date, err := mr.Header.Date(); err == nil {
		out.DateEpoch = date.Unix()
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		if from[0].Name != "" {
			out.FromName = from[0].Name
		} else {
			out.FromName = from[0].Address
		}
	}

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			if textBody == "" {
				body, readErr := io.ReadAll(part.Body)
				if readErr == nil {
					textBody = string(body)
				}
			}
		case strings.HasPrefix(contentType, "text/html"):
			if htmlBody == "" {
				body, readErr := io.ReadAll(part.Body)
				if readErr == nil {
					htmlBody = string(body)
				}
			}
		}
	}

	switch {
	case textBody != "":
		out.Body = textBody
	case htmlBody != "":
		out.Body = stripHTML(htmlBody)
	}

	return out
}

// normalizeSnippet derives a single-line preview: blank lines dropped,
// remaining lines joined with single spaces, truncated to maxChars runes.
func normalizeSnippet(s string, maxChars int) string {
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(line)
		if len([]rune(b.String())) >= maxChars {
			break
		}
	}

	runes := []rune(b.String())
	if len(runes) > maxChars {
		runes = runes[:maxChars]
	}
	return string(runes)
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags from a string and decodes common entities,
// providing a basic plain-text rendering.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}
