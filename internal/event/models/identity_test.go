package models

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type IdentityNumberSuite struct {
	suite.Suite
}

func TestIdentityNumberSuite(t *testing.T) {
	suite.Run(t, new(IdentityNumberSuite))
}

func (s *IdentityNumberSuite) TestValidNumbers() {
	for _, value := range []string{
		"23227276102",
		"39141777694",
		"41706690744",
		"53915000856",
		"16360837712",
	} {
		s.Run(value, func() {
			id, err := NewIdentityNumber(value)
			s.Require().NoError(err)
			s.Equal(value, id.String())
			s.False(id.IsZero())
		})
	}
}

func (s *IdentityNumberSuite) TestInvalidNumbers() {
	cases := []struct {
		name  string
		value string
	}{
		{"too short", "2322727610"},
		{"too long", "232272761020"},
		{"leading zero", "03227276102"},
		{"non-digit", "2322727610a"},
		{"tenth digit checksum", "23227276112"},
		{"eleventh digit checksum", "23227276103"},
		{"empty", ""},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := NewIdentityNumber(tc.value)
			s.Require().Error(err)
		})
	}
}

func (s *IdentityNumberSuite) TestTrimsWhitespace() {
	id, err := NewIdentityNumber("  23227276102  ")
	s.Require().NoError(err)
	s.Equal("23227276102", id.String())
}

func (s *IdentityNumberSuite) TestMasked() {
	id := MustIdentityNumber("23227276102")
	s.Equal("232****6102", id.Masked())
	s.Equal("***", IdentityNumber{}.Masked())
}

func (s *IdentityNumberSuite) TestRehydrateSkipsValidation() {
	// Storage rehydration must never fail on historical rows.
	id := RehydrateIdentityNumber("23227276102")
	s.Equal("23227276102", id.String())
}
