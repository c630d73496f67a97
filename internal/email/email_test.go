package email

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Address
	}{
		{"bare address", "a@example.com", Address{Address: "a@example.com"}},
		{"with display name", "a@example.com: Ada Lovelace", Address{Address: "a@example.com", Name: "Ada Lovelace"}},
		{"uppercase lowered", "A@Example.COM", Address{Address: "a@example.com"}},
		{"surrounding spaces", "  a@example.com  ", Address{Address: "a@example.com"}},
		{"empty", "", Address{}},
		{"not an address", "not-an-address", Address{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAddress(tt.in))
		})
	}
}

func TestParseAddressList(t *testing.T) {
	got := ParseAddressList("a@example.com: Ada; b@example.com; ;bogus")
	require.Len(t, got, 2)
	assert.Equal(t, Address{Address: "a@example.com", Name: "Ada"}, got[0])
	assert.Equal(t, Address{Address: "b@example.com"}, got[1])

	assert.Empty(t, ParseAddressList(""))
}

func TestValidateBare(t *testing.T) {
	assert.Equal(t, "bounce@example.com", ValidateBare("Bounce@Example.com"))
	assert.Empty(t, ValidateBare("bounce@example.com: Bounces"))
	assert.Empty(t, ValidateBare("two words@example.com"))
	assert.Empty(t, ValidateBare(""))
}

func TestClassify(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		assert.Nil(t, Classify(nil))
	})

	t.Run("smtp reply code extracted", func(t *testing.T) {
		se := Classify(errors.New("gomail: could not send email: 421 4.7.0 Try again later"))
		assert.Equal(t, "421", se.Code)
		assert.Contains(t, se.Message, "Try again later")
		assert.Contains(t, se.Detail, "error_type")
	})

	t.Run("permanent reply code", func(t *testing.T) {
		se := Classify(errors.New("550 5.1.1 user unknown"))
		assert.Equal(t, "550", se.Code)
	})

	t.Run("no code in text", func(t *testing.T) {
		se := Classify(errors.New("dial tcp: connection refused"))
		assert.Empty(t, se.Code)
		assert.Equal(t, "dial tcp: connection refused", se.Message)
	})

	t.Run("send error passes through", func(t *testing.T) {
		orig := envelopeErr("missing recipient")
		se := Classify(fmt.Errorf("compose: %w", orig))
		assert.Equal(t, CodeInvalidEnvelope, se.Code)
		assert.Equal(t, "missing recipient", se.Message)
		assert.NotEmpty(t, se.Detail)
	})
}

func TestStripTags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "Hello there", "Hello there"},
		{"tags removed", "<p>Hello <b>there</b></p>", "Hello there"},
		{"entities unescaped", "Fish &amp; chips", "Fish & chips"},
		{"whitespace collapsed", "<div>\n  Hello\n\n  there </div>", "Hello there"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripTags(tt.in))
		})
	}
}
