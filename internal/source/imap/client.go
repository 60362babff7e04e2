package imap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/incident-reporter/internal/source"
)

// Client wraps go-imap v2 for connecting to and querying an IMAP mailbox.
type Client struct {
	host     string
	port     string
	username string
	password string
	mailbox  string
	tls      bool
}

// NewClient creates a new IMAP client configuration.
func NewClient(host, port, username, password, mailbox string, tls bool) *Client {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &Client{
		host:     host,
		port:     port,
		username: username,
		password: password,
		mailbox:  mailbox,
		tls:      tls,
	}
}

// connect establishes a connection, authenticates, and selects the
// mailbox. The caller is responsible for Logout on the returned client.
func (c *Client) connect(_ context.Context) (*imapclient.Client, error) {
	addr := c.host + ":" + c.port

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, &source.UnavailableError{Op: "dial " + addr, Err: err}
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthError{
			Message: fmt.Sprintf("authentication failed for %s: %v", c.username, err),
		}
	}

	if _, err := client.Select(c.mailbox, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.UnavailableError{Op: "select " + c.mailbox, Err: err}
	}

	return client, nil
}

// FetchSince searches the mailbox for messages received since the given
// instant and returns their envelope data and parsed text bodies, oldest
// first. A zero since fetches everything in the mailbox.
func (c *Client) FetchSince(ctx context.Context, since time.Time) ([]Message, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	criteria := &imap.SearchCriteria{}
	if !since.IsZero() {
		criteria.Since = since
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &source.UnavailableError{Op: "search", Err: err}
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSetNum(uids...)
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	var messages []Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		m := messageFromBuffer(buf)
		if raw := buf.FindBodySection(bodySection); raw != nil {
			m.Body = extractTextBody(raw)
		}
		messages = append(messages, m)
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, &source.UnavailableError{Op: "fetch", Err: err}
	}

	return messages, nil
}

// Check connects, authenticates, and selects the mailbox to verify the
// source is reachable.
func (c *Client) Check(ctx context.Context) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	return client.Logout().Wait()
}

// messageFromBuffer extracts envelope fields from a FetchMessageBuffer.
func messageFromBuffer(buf *imapclient.FetchMessageBuffer) Message {
	m := Message{UID: uint32(buf.UID)}

	if buf.Envelope != nil {
		m.MessageID = buf.Envelope.MessageID
		m.Subject = buf.Envelope.Subject
		m.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			m.From = buf.Envelope.From[0].Addr()
		}
	}

	return m
}

// extractTextBody parses a raw RFC 2822 message with go-message and
// returns the text/plain body, falling back to stripped HTML and finally
// to the raw bytes when MIME parsing fails.
func extractTextBody(raw []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	defer mr.Close()

	var htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := header.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			return string(body)
		case strings.HasPrefix(contentType, "text/html"):
			htmlBody = string(body)
		}
	}

	if htmlBody != "" {
		return stripHTML(htmlBody)
	}
	return ""
}
