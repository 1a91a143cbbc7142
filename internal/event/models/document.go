package models

import (
	"strings"

	dErrors "veriq/pkg/domain-errors"
)

// DocumentNumber is the barcode printed on a government-issued document.
// Immutable; construct via NewDocumentNumber.
type DocumentNumber struct {
	value string
}

// NewDocumentNumber validates and constructs a DocumentNumber. Valid values
// are 5-50 characters of alphanumerics, underscores, and hyphens.
func NewDocumentNumber(value string) (DocumentNumber, error) {
	v := strings.TrimSpace(value)
	if len(v) < 5 || len(v) > 50 {
		return DocumentNumber{}, dErrors.New(dErrors.CodeBadRequest, "document number must be 5-50 characters")
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		ok := c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '-'
		if !ok {
			return DocumentNumber{}, dErrors.New(dErrors.CodeBadRequest, "document number contains invalid characters")
		}
	}
	return DocumentNumber{value: v}, nil
}

// MustDocumentNumber constructs a DocumentNumber or panics. Test helper.
func MustDocumentNumber(value string) DocumentNumber {
	dn, err := NewDocumentNumber(value)
	if err != nil {
		panic(err)
	}
	return dn
}

// RehydrateDocumentNumber restores a value from storage without re-running
// validation. Persistence layer only.
func RehydrateDocumentNumber(value string) DocumentNumber {
	return DocumentNumber{value: value}
}

func (n DocumentNumber) String() string { return n.value }

// IsZero reports whether the value was never constructed.
func (n DocumentNumber) IsZero() bool { return n.value == "" }
