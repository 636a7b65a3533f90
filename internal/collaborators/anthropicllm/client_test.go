package anthropicllm

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
)

func TestNew_Defaults(t *testing.T) {
	c := New(Config{APIKey: "sk-ant-test"})
	assert.Equal(t, anthropic.ModelClaudeSonnet4_5, c.model)
	assert.EqualValues(t, 4096, c.maxTok)
	assert.NotNil(t, c.breaker)
}

func TestNew_HonorsOverrides(t *testing.T) {
	c := New(Config{APIKey: "sk-ant-test", Model: "claude-3-haiku", MaxTokens: 100, BreakerName: "custom"})
	assert.EqualValues(t, "claude-3-haiku", c.model)
	assert.EqualValues(t, 100, c.maxTok)
}
