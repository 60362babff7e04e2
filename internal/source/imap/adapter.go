package imap

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nhle/incident-reporter/internal/model"
)

// Adapter implements source.Source over an IMAP mailbox.
type Adapter struct {
	client *Client
}

// NewAdapter creates an IMAP-backed mail source.
func NewAdapter(host, port, username, password, mailbox string, tls bool) *Adapter {
	return &Adapter{
		client: NewClient(host, port, username, password, mailbox, tls),
	}
}

// Messages fetches messages received since the given instant and maps
// them to the pipeline's read-only message view.
func (a *Adapter) Messages(ctx context.Context, since time.Time) ([]model.InboundMessage, error) {
	fetched, err := a.client.FetchSince(ctx, since)
	if err != nil {
		return nil, err
	}

	messages := make([]model.InboundMessage, 0, len(fetched))
	for _, m := range fetched {
		messages = append(messages, model.InboundMessage{
			UID:        messageUID(m),
			Sender:     m.From,
			Subject:    m.Subject,
			Body:       m.Body,
			ReceivedAt: m.Date,
		})
	}

	return messages, nil
}

// Ping verifies connectivity and credentials against the mailbox.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.client.Check(ctx)
}

// idUnsafeChars matches characters not safe for a message identifier.
var idUnsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// messageUID derives a stable unique id from the Message-ID header,
// falling back to the mailbox UID when the header is missing.
func messageUID(m Message) string {
	if m.MessageID != "" {
		return "imap-" + idUnsafeChars.ReplaceAllString(m.MessageID, "_")
	}
	return fmt.Sprintf("imap-uid-%d", m.UID)
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags and decodes common entities, providing a
// basic plain-text rendering for HTML-only messages.
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
