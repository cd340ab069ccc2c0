package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactArgsReplacesSecretFields(t *testing.T) {
	redacted := RedactArgs(map[string]interface{}{
		"from_index": "quay.io/acme/index:v4.19",
		"cnr_token":  "super-secret",
	})
	assert.Equal(t, "quay.io/acme/index:v4.19", redacted["from_index"])
	assert.Equal(t, redactedPlaceholder, redacted["cnr_token"])
}

func TestIsSecretField(t *testing.T) {
	assert.True(t, IsSecretField("overwrite_from_index_token"))
	assert.True(t, IsSecretField("overwrite_target_index_token"))
	assert.False(t, IsSecretField("from_index"))
}
