package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+15550001234", "+15*******34"},
		{"4915112345678", "49*********78"},
		{"  +15550001234 ", "+15*******34"},
		{"12345", "12*45"},
		{"+1234", "+**34"},
		{"1234", "****"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Phone(tt.in), tt.in)
	}
}

func TestSecret(t *testing.T) {
	assert.Equal(t, "****", Secret("short"))
	assert.Equal(t, "abcd****", Secret("abcdefghijklmnop"))
}
