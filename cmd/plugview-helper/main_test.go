package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST130: Missing or malformed endpoint descriptors exit with code 2
func TestRunRequiresEndpoints(t *testing.T) {
	assert.Equal(t, 2, run(nil))
	assert.Equal(t, 2, run([]string{"3"}))
	assert.Equal(t, 2, run([]string{"three", "4"}))
}

// TEST131: A profile directory is locked by one helper at a time
func TestLockProfile(t *testing.T) {
	dir := t.TempDir()

	unlock, err := lockProfile(dir)
	require.NoError(t, err)

	_, err = lockProfile(dir)
	assert.ErrorContains(t, err, "in use")

	unlock()
	unlock2, err := lockProfile(dir)
	require.NoError(t, err)
	unlock2()
}
