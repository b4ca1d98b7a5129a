package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServerHashCanonicalVectors(t *testing.T) {
	zero16 := make([]byte, 16)
	assert.Equal(t, "-21757b840073cbc29647ac5dea191188a10d106a", ServerHash("", zero16, zero16))
}

func TestServerHashNamedVectors(t *testing.T) {
	empty := []byte{}
	cases := []struct {
		name string
		want string
	}{
		{"Notch", "4ed1f46bbe04bc756bcb17c0c7ce3e4632f06a48"},
		{"jeb_", "-7c9d5b0044c130109a5d7b5fb5c317c02b4e28c1"},
		{"simon", "88e16a1019277b15d58faf0541e11910eb756f6"},
	}
	for _, c := range cases {
		got := ServerHash(c.name, empty, empty)
		assert.Equal(t, c.want, got, "hash(%q)", c.name)
	}
}
