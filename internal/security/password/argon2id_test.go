package password

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashVerify(t *testing.T) {
	phc, err := Hash(Fast, "correct horse")
	require.NoError(t, err)
	require.True(t, Verify("correct horse", phc))
	require.False(t, Verify("wrong horse", phc))
	require.False(t, Verify("correct horse", ""))
	require.False(t, Verify("correct horse", "$argon2id$v=19$garbage"))

	_, err = Hash(Fast, "")
	require.Error(t, err)
}
