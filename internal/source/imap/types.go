package imap

import "time"

// Message holds the envelope data and extracted text body of one IMAP
// message.
type Message struct {
	MessageID string
	Subject   string
	From      string
	Date      time.Time
	Body      string
	UID       uint32
}
