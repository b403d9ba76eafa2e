package logging

import (
	"bytes"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	Init("debug", "json")
	L().SetOutput(&buf)
	defer Init("info", "text")

	Component("worker").Info("started")
	assert.Contains(t, buf.String(), `"component":"worker"`)
	assert.Contains(t, buf.String(), `"msg":"started"`)
}

func TestInitFallsBackToInfo(t *testing.T) {
	Init("bogus", "text")
	assert.Equal(t, log.InfoLevel, L().GetLevel())
}
