package dto

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidRunToken(t *testing.T) {
	assert.True(t, ValidRunToken(uuid.New().String()))
	assert.False(t, ValidRunToken(""))
	assert.False(t, ValidRunToken("not-a-uuid"))
	assert.False(t, ValidRunToken("../../etc/passwd"))
}
