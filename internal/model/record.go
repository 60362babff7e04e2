package model

import "time"

// Unresolved is written into a record field when no table entry could be
// matched in the message body. Records handed to the sink are always
// structurally complete; fields are never left empty.
const Unresolved = "unresolved"

// Field identifies one of the logical fields of an extracted record.
type Field string

const (
	FieldSender       Field = "sender"
	FieldReceivedAt   Field = "received_at"
	FieldCompany      Field = "company"
	FieldIncidentCode Field = "incident_code"
)

// Fields lists the logical record fields in their report column order.
var Fields = []Field{FieldSender, FieldReceivedAt, FieldCompany, FieldIncidentCode}

// InboundMessage is a read-only view of a message as reported by the mail
// source. The pipeline never mutates it.
type InboundMessage struct {
	// UID uniquely identifies the message within its source
	// (Message-ID header, or a source-assigned identifier).
	UID string

	Sender     string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// ExtractedRecord is the structured result of running extraction over a
// qualifying message. It is consumed exactly once by the report sink.
type ExtractedRecord struct {
	Sender          string
	ReceivedAt      time.Time
	Company         string
	IncidentCode    string
	MatchedCategory string
	SourceMessageID string
}
