package importer

import (
	"errors"
	"strings"
)

// Sentinel kinds for import errors.
var (
	ErrEmptyLine = errors.New("empty line")
	ErrBadLine   = errors.New("malformed csv line")
	ErrEmptyFile = errors.New("csv file is empty")
)

// MissingFieldsError lists the required event fields a row left blank.
// Rows failing validation are counted and skipped, never fatal.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}
