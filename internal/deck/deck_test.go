package deck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildCheckin() *Deck {
	d := New(SatypeCheckin)
	d.D = 2459000.5
	d.U = "alice"
	d.C = "initial commit"
	d.Fcards = []FCard{
		{Name: "b.txt", UUID: "bbbb"},
		{Name: "a.txt", UUID: "aaaa"},
	}
	return d
}

func TestOutputParseRoundTrip(t *testing.T) {
	d := buildCheckin()
	require.NoError(t, d.Unshuffle(false))

	data, err := d.Bytes()
	require.NoError(t, err)

	parsed, err := Parse(data, SatypeCheckin)
	require.NoError(t, err)
	assert.Equal(t, d.U, parsed.U)
	assert.Equal(t, d.C, parsed.C)
	assert.Len(t, parsed.Fcards, 2)
	assert.Equal(t, "a.txt", parsed.Fcards[0].Name)
	assert.Equal(t, "b.txt", parsed.Fcards[1].Name)
}

func TestZCardMismatchRejected(t *testing.T) {
	d := buildCheckin()
	data, err := d.Bytes()
	require.NoError(t, err)
	data[len(data)-5] = 'f' // corrupt a hex digit in the Z line
	_, err = Parse(data, SatypeCheckin)
	require.Error(t, err)
}

func TestAutodetectSatype(t *testing.T) {
	d := buildCheckin()
	data, err := d.Bytes()
	require.NoError(t, err)
	parsed, err := Parse(data, SatypeAny)
	require.NoError(t, err)
	assert.Equal(t, SatypeCheckin, parsed.Satype)
}

func TestMissingRequiredCardRejected(t *testing.T) {
	d := New(SatypeWiki)
	d.D = 2459000.5
	d.U = "alice"
	// missing required L card
	data, err := d.Bytes()
	require.NoError(t, err)
	_, err = Parse(data, SatypeWiki)
	require.Error(t, err)
}

func TestFSetInsertReplaceDelete(t *testing.T) {
	d := New(SatypeCheckin)
	require.NoError(t, d.FSet("x.txt", "uuid1", "w"))
	require.NoError(t, d.FSet("x.txt", "uuid2", "w"))
	require.Len(t, d.Fcards, 1)
	assert.Equal(t, "uuid2", d.Fcards[0].UUID)

	require.NoError(t, d.FSet("x.txt", "", ""))
	assert.Len(t, d.Fcards, 0)
	assert.NotContains(t, d.Fcards, FCard{Name: "x.txt", Deleted: true})
}

func TestDeriveMovesUUIDToParent(t *testing.T) {
	d := buildCheckin()
	d.UUID = "parentuuid"
	d.Rid = 5
	require.NoError(t, d.Derive())
	assert.Equal(t, int64(0), d.Rid)
	assert.Equal(t, "", d.UUID)
	assert.Equal(t, []string{"parentuuid"}, d.P)
}

func TestEffectiveFilesMergesDeltaManifest(t *testing.T) {
	baseline := buildCheckin()
	delta := New(SatypeCheckin)
	delta.B = "baselineuuid"
	delta.SetBaseline(baseline)
	delta.Fcards = []FCard{
		{Name: "a.txt", Deleted: true},
		{Name: "c.txt", UUID: "cccc"},
	}
	files, err := delta.EffectiveFiles()
	require.NoError(t, err)
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"b.txt", "c.txt"}, names)
}
