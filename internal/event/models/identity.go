package models

import (
	"strings"

	dErrors "veriq/pkg/domain-errors"
)

// IdentityNumber is the 11-digit national identity number attached to every
// verification event. The zero value is invalid; construct via NewIdentityNumber.
type IdentityNumber struct {
	value string
}

// NewIdentityNumber validates and constructs an IdentityNumber.
//
// Rules: exactly 11 digits, no leading zero, and both checksum stages must
// hold. Stage one: ((sum of odd-position digits * 7) - sum of even-position
// digits) mod 10 equals the 10th digit. Stage two: the sum of the first ten
// digits mod 10 equals the 11th digit.
func NewIdentityNumber(value string) (IdentityNumber, error) {
	v := strings.TrimSpace(value)
	if !isValidIdentityNumber(v) {
		return IdentityNumber{}, dErrors.New(dErrors.CodeBadRequest, "invalid identity number")
	}
	return IdentityNumber{value: v}, nil
}

// MustIdentityNumber constructs an IdentityNumber or panics. Test helper.
func MustIdentityNumber(value string) IdentityNumber {
	id, err := NewIdentityNumber(value)
	if err != nil {
		panic(err)
	}
	return id
}

func isValidIdentityNumber(v string) bool {
	if len(v) != 11 {
		return false
	}
	if v[0] == '0' {
		return false
	}
	digits := make([]int, 11)
	for i := 0; i < 11; i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
		digits[i] = int(v[i] - '0')
	}

	oddSum := digits[0] + digits[2] + digits[4] + digits[6] + digits[8]
	evenSum := digits[1] + digits[3] + digits[5] + digits[7]

	check10 := (oddSum*7 - evenSum) % 10
	if check10 < 0 {
		check10 += 10
	}
	if digits[9] != check10 {
		return false
	}

	sum := 0
	for i := 0; i < 10; i++ {
		sum += digits[i]
	}
	return digits[10] == sum%10
}

// RehydrateIdentityNumber restores a value from storage without re-running
// validation. Persistence layer only; values were validated at construction.
func RehydrateIdentityNumber(value string) IdentityNumber {
	return IdentityNumber{value: value}
}

func (n IdentityNumber) String() string { return n.value }

// IsZero reports whether the value was never constructed.
func (n IdentityNumber) IsZero() bool { return n.value == "" }

// Masked returns a redacted form safe for logs.
func (n IdentityNumber) Masked() string {
	if len(n.value) != 11 {
		return "***"
	}
	return n.value[:3] + "****" + n.value[7:]
}
