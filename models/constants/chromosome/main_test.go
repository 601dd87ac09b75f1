package chromosome

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "1", Normalize("chr1"))
	assert.Equal(t, "X", Normalize("chrx"))
	assert.Equal(t, "MT", Normalize("mt"))
	assert.Equal(t, "22", Normalize("22"))
}

func TestIsValidHumanChromosome(t *testing.T) {
	assert.True(t, IsValidHumanChromosome("chr1"))
	assert.True(t, IsValidHumanChromosome("X"))
	assert.True(t, IsValidHumanChromosome("MT"))
	assert.False(t, IsValidHumanChromosome("23"))
	assert.False(t, IsValidHumanChromosome("chr0"))
	assert.False(t, IsValidHumanChromosome(""))
}

func TestRankOrdersMixedChromosomes(t *testing.T) {
	assert.Less(t, Rank("2"), Rank("10"))
	assert.Less(t, Rank("22"), Rank("X"))
	assert.Less(t, Rank("X"), Rank("Y"))
	assert.Less(t, Rank("Y"), Rank("MT"))
	assert.Less(t, Rank("MT"), Rank("weird"))
}
