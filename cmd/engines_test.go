package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRatings(t *testing.T) {
	got, err := parseRatings([]string{"Pixabay=3", " deviantart = -4"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"pixabay": 3, "deviantart": -4}, got)

	_, err = parseRatings([]string{"pixabay"})
	assert.Error(t, err)
	_, err = parseRatings([]string{"pixabay=lots"})
	assert.Error(t, err)
}
