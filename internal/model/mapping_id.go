package model

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// mappingNamespace scopes the name-based ids so they cannot collide with
// other UUIDv5 users.
var mappingNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("examclean/mapping"))

// MappingID derives the stable id of a record from its data source, exam
// code, exam name and clean name. The data source is trimmed and case-folded
// so "RIS" and "ris" identify the same feed; the other fields are only
// trimmed because their case is significant to the reviewer.
func MappingID(dataSource, examCode, examName, cleanName string) string {
	parts := []string{
		cases.Fold().String(strings.TrimSpace(dataSource)),
		strings.TrimSpace(examCode),
		strings.TrimSpace(examName),
		strings.TrimSpace(cleanName),
	}
	return uuid.NewSHA1(mappingNamespace, []byte(strings.Join(parts, "\x1f"))).String()
}

// MappingIDOf is MappingID applied to a record.
func MappingIDOf(r MappingRecord) string {
	return MappingID(r.DataSource, r.ExamCode, r.ExamName, r.CleanName)
}
