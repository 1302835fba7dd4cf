package masking

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("short"))
	assert.Equal(t, "whk_****cdef", MaskSecret("whk_0123456789abcdef"))
}

func TestRedactHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("X-Api-Key", "whk_0123456789abcdef")
	headers.Set("X-Webhook-Signature", "5d41402abc4b2a76b9719d911017c592")
	headers.Set("Authorization", "Bearer secret-token-value")
	headers.Set("Content-Type", "application/json")
	headers.Set("X-Brand-Id", "brand_a")

	got := RedactHeaders(headers)
	assert.Equal(t, "whk_****cdef", got["x-api-key"])
	assert.Equal(t, "****c592", got["x-webhook-signature"])
	assert.NotContains(t, got["authorization"], "secret-token")
	assert.Equal(t, "application/json", got["content-type"])
	assert.Equal(t, "brand_a", got["x-brand-id"])

	assert.Nil(t, RedactHeaders(nil))
}
