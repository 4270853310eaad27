package authcreds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProducesSixteenCharTokens(t *testing.T) {
	cred, err := Generate()
	require.NoError(t, err)

	assert.Len(t, cred.AName, 16)
	assert.Len(t, cred.APass, 16)
	assert.NotEqual(t, cred.AName, cred.APass)
}

func TestGenerateIsRandomAcrossCalls(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)

	b, err := Generate()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
