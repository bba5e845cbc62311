package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec("test-secret")
	require.NoError(t, err)

	plain := []byte(`{"session_id":"s1"}`)
	sealed, err := codec.Encrypt(plain)
	require.NoError(t, err)
	assert.Contains(t, sealed, ":")

	got, err := codec.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestCodecSharedSecret(t *testing.T) {
	a, err := NewCodec("shared")
	require.NoError(t, err)
	b, err := NewCodec("shared")
	require.NoError(t, err)

	sealed, err := a.Encrypt([]byte("payload"))
	require.NoError(t, err)

	got, err := b.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestCodecRejectsTampering(t *testing.T) {
	codec, err := NewCodec("test-secret")
	require.NoError(t, err)

	sealed, err := codec.Encrypt([]byte("payload"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
	}{
		{"no separator", strings.ReplaceAll(sealed, ":", "")},
		{"bad hex", "zz:" + strings.SplitN(sealed, ":", 2)[1]},
		{"flipped byte", flipLast(sealed)},
		{"wrong key", sealed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := codec
			if tt.name == "wrong key" {
				var err error
				dec, err = NewCodec("other-secret")
				require.NoError(t, err)
			}
			_, err := dec.Decrypt(tt.input)
			assert.Error(t, err)
		})
	}
}

func flipLast(s string) string {
	b := []byte(s)
	last := b[len(b)-1]
	if last == '0' {
		b[len(b)-1] = '1'
	} else {
		b[len(b)-1] = '0'
	}
	return string(b)
}

func TestNewValue(t *testing.T) {
	a, err := NewValue()
	require.NoError(t, err)
	b, err := NewValue()
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
