package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidUsername(t *testing.T) {
	for _, v := range []string{"alice", "a", "alice.smith", "alice@example.org", "x-1_2"} {
		assert.True(t, ValidUsername(v), v)
	}
	for _, v := range []string{"", "Alice", "-alice", "al ice", "alice/bob", strings.Repeat("a", 65)} {
		assert.False(t, ValidUsername(v), v)
	}
}

func TestValidEntityName(t *testing.T) {
	assert.True(t, ValidEntityName("grader"))
	assert.True(t, ValidEntityName("idle-culler"))
	assert.False(t, ValidEntityName("Grader"))
	assert.False(t, ValidEntityName("a@b"))
	assert.False(t, ValidEntityName(""))
}

func TestValidServerAndGroupName(t *testing.T) {
	for _, v := range []string{"research", "GPU-1", "a.b~c", strings.Repeat("x", 255)} {
		assert.True(t, ValidServerName(v), v)
		assert.True(t, ValidGroupName(v), v)
	}
	for _, v := range []string{"", "a/b", "a b", "ñ", strings.Repeat("x", 256)} {
		assert.False(t, ValidServerName(v), v)
		assert.False(t, ValidGroupName(v), v)
	}
}

func TestValidScopeName(t *testing.T) {
	valids := []string{
		"a",
		"custom:reports:read",
		"a_b-c.d:scope2",
		"a" + strings.Repeat("a", 62) + "b", // 64
	}
	for _, v := range valids {
		assert.True(t, ValidScopeName(v), v)
	}
	invalids := []string{
		"",
		":lead",
		"trail:",
		"bad space",
		"UPPER",
		"semicolon;hack",
		strings.Repeat("a", 65),
	}
	for _, v := range invalids {
		assert.False(t, ValidScopeName(v), v)
	}
}
