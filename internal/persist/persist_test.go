package persist

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	data := New()
	data.UL = 100
	data.DL = 200

	require.NoError(t, Save(dir, data))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, data.ID, loaded.ID)
	assert.Equal(t, data.Version, loaded.Version)
	assert.EqualValues(t, 100, loaded.UL)
	assert.EqualValues(t, 200, loaded.DL)
}

func TestLoadMissingReturnsNotExist(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestSaveLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(dir, New()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, serverDataFile, entries[0].Name())
}

func TestResumeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	blob := []byte{0x01, 0x02, 0x03, 0x04}
	hexHash := "aabbccddeeff00112233445566778899aabbccdd"[:40]

	require.NoError(t, SaveResume(dir, hexHash, blob))

	got, err := LoadResume(dir, hexHash)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestNewGeneratesDistinctIdentities(t *testing.T) {
	a := New()
	b := New()
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, currentVersion, a.Version)
}

func TestAddTransferredAccumulatesAllTimeAndSessionCounters(t *testing.T) {
	data := New()
	data.AddTransferred(10, 20)
	data.AddTransferred(5, 1)

	assert.EqualValues(t, 15, data.UL)
	assert.EqualValues(t, 21, data.DL)
	assert.EqualValues(t, 15, data.SessionUL())
	assert.EqualValues(t, 21, data.SessionDL())
}

func TestSessionCountersDoNotSurviveSaveLoad(t *testing.T) {
	dir := t.TempDir()
	data := New()
	data.AddTransferred(10, 20)
	require.NoError(t, Save(dir, data))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.EqualValues(t, 10, loaded.UL)
	assert.EqualValues(t, 0, loaded.SessionUL())
}
