package conditions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Enabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())

	cpu := 80
	assert.True(t, Config{CPUBelow: &cpu}.Enabled())

	loadAvg := 4.0
	assert.True(t, Config{LoadAvgBelow: &loadAvg}.Enabled())

	postpone := time.Minute
	assert.False(t, Config{MaxPostpone: &postpone}.Enabled(), "postpone alone enables nothing")
}

func TestCheck_NoConditions(t *testing.T) {
	ok, reason := Check(Config{})
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestCheck_AlwaysSatisfiable(t *testing.T) {
	// thresholds no live host can exceed
	cpu, memory := 101, 101
	loadAvg := 1e9

	ok, reason := Check(Config{CPUBelow: &cpu, MemoryBelow: &memory, LoadAvgBelow: &loadAvg})
	assert.True(t, ok, "reason: %s", reason)
}

func TestCheck_NeverSatisfiable(t *testing.T) {
	memory := 0 // any used memory is >= 0%

	ok, reason := Check(Config{MemoryBelow: &memory})
	assert.False(t, ok)
	assert.Contains(t, reason, "memory")
}
