package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a****@example.com", MaskEmail("anna@example.com"))
	assert.Equal(t, "****", MaskEmail("not-an-email"))
	assert.Equal(t, "", MaskEmail("  "))
	assert.Equal(t, []string{"b****@x.de"}, MaskEmails([]string{"bob@x.de", ""}))
}
