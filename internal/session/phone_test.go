package session

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errx "github.com/clinic-agent/server/internal/core/error"
)

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		"5216641234567@c.us":           "+5216641234567",
		"5216641234567@s.whatsapp.net": "+5216641234567",
		"+52 664 123 4567":             "+526641234567",
		" 526641234567 ":               "+526641234567",
		"12345678@c.us":                "+12345678",
	}
	for in, want := range tests {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, in := range []string{"", "@c.us", "+", "abc@c.us", "12@c.us", "+1234567", "1234567890123456@c.us"} {
		_, err := NormalizePhone(in)
		require.Error(t, err, in)
		assert.Equal(t, http.StatusBadRequest, errx.StatusOf(err))
	}
}

func TestUserIDFor(t *testing.T) {
	id := UserIDFor("+526641234567")
	assert.Len(t, id, len("user_")+12)
	assert.Equal(t, id, UserIDFor("+526641234567"))
	assert.NotEqual(t, id, UserIDFor("+526641234568"))
}
