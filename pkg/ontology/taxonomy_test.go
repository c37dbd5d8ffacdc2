package ontology

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaxonomyPartition(t *testing.T) {
	assert.Len(t, Classes, 37)
	for _, c := range humanFamily {
		assert.True(t, IsValidClass(c), c)
		assert.False(t, IsNonHuman(c), c)
	}
	for _, c := range []string{"android", "AI", "mythical_beast", "ghost", "alien", "eldritch"} {
		assert.True(t, IsNonHuman(c), c)
	}
	assert.Len(t, NonHumanClasses(), len(Classes)-len(humanFamily))
	assert.False(t, IsNonHuman("wizard"))
}

func TestParentChainsEndAtKnownClasses(t *testing.T) {
	for child, parent := range parents {
		assert.True(t, IsValidClass(child), child)
		assert.True(t, IsValidClass(parent), parent)
	}
	assert.Equal(t, "robot", Parent("android"))
	assert.Equal(t, "android", Parent("cyborg"))
	assert.Equal(t, "", Parent("human"))
}

func TestContainsHumanTerm(t *testing.T) {
	assert.True(t, ContainsHumanTerm("Human portrait"))
	assert.True(t, ContainsHumanTerm("old man"))
	assert.True(t, IsHumanTerm(" FACE "))
	assert.False(t, ContainsHumanTerm("humanoid silhouette"))
	assert.False(t, ContainsHumanTerm("chrome plating"))
}
