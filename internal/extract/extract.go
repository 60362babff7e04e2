// Package extract derives structured records from qualifying messages,
// normalizing free-text company and incident-code mentions through the
// configured alias tables.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nhle/incident-reporter/internal/match"
	"github.com/nhle/incident-reporter/internal/model"
)

// ExtractionError indicates a malformed message that cannot be extracted.
// Missing data in a well-formed message is not an error; unresolvable
// fields are recorded with the unresolved sentinel instead.
type ExtractionError struct {
	MessageID string
	Reason    string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting message %s: %s", e.MessageID, e.Reason)
}

// IsExtractionError reports whether err (or any error in its chain) is an
// ExtractionError.
func IsExtractionError(err error) bool {
	var exErr *ExtractionError
	return errors.As(err, &exErr)
}

// Extract builds the structured record for a qualifying message. Company
// and incident code resolve through their alias tables; an incident code
// that no alias covers falls back to a reference-shaped token scan. Fields
// that stay unresolved are recorded with the sentinel so records are
// always structurally complete.
func Extract(
	msg model.InboundMessage,
	res match.Result,
	companies model.AliasTable,
	incidentCodes model.AliasTable,
) (model.ExtractedRecord, error) {
	if msg.UID == "" {
		return model.ExtractedRecord{}, &ExtractionError{
			MessageID: "(unknown)", Reason: "message id absent",
		}
	}
	if msg.Body == "" {
		return model.ExtractedRecord{}, &ExtractionError{
			MessageID: msg.UID, Reason: "message body absent",
		}
	}

	company := model.Unresolved
	if name, ok := ResolveAlias(msg.Body, companies); ok {
		company = name
	}

	code := model.Unresolved
	if name, ok := ResolveAlias(msg.Body, incidentCodes); ok {
		code = name
	} else if ref, ok := scanReference(msg.Body); ok {
		code = ref
	}

	return model.ExtractedRecord{
		Sender:          msg.Sender,
		ReceivedAt:      msg.ReceivedAt,
		Company:         company,
		IncidentCode:    code,
		MatchedCategory: res.Category,
		SourceMessageID: msg.UID,
	}, nil
}

// ResolveAlias scans body for any alias registered in the table and
// returns the owning entry's display name. When aliases of distinct
// entries occur, the longest alias wins so a short generic term never
// masks a specific identifier; equal lengths resolve to the
// earliest-declared entry.
func ResolveAlias(body string, table model.AliasTable) (string, bool) {
	folded := strings.ToLower(body)

	best := ""
	bestLen := 0
	for _, entry := range table {
		for _, alias := range entry.Aliases {
			if len(alias) <= bestLen {
				continue
			}
			if strings.Contains(folded, strings.ToLower(alias)) {
				best = entry.DisplayName
				bestLen = len(alias)
			}
		}
	}

	return best, best != ""
}

// Reference-shaped incident codes, tried label-first so "ref INC-1002"
// beats a stray hyphenated token elsewhere in the body.
var referencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:incident|reference|ref|case|ticket)[:\s#]+([A-Za-z]+-\d+(?:-\d+)?)`),
	regexp.MustCompile(`\b([A-Za-z]+-\d+(?:-\d+)?)\b`),
}

// scanReference finds an incident-reference token in the body when no
// alias from the incident table occurs. The code is uppercased for
// consistency in the report.
func scanReference(body string) (string, bool) {
	for _, pattern := range referencePatterns {
		if m := pattern.FindStringSubmatch(body); m != nil {
			return strings.ToUpper(m[1]), true
		}
	}
	return "", false
}
