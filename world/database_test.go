package world

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func writeDatabase(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

const legacyDatabase = `{
  "0": {
    "align": "undefined",
    "desc": "",
    "dynamicDesc": "",
    "exits": {
      "east": {
        "door": "gate",
        "doorFlags": ["noblock", "needkey"],
        "exitFlags": ["exit", "door"],
        "to": "1"
      }
    },
    "light": "undefined",
    "loadFlags": ["packhorse"],
    "mobFlags": ["smob", "rangerguild"],
    "name": "Start",
    "note": "",
    "portable": "undefined",
    "ridable": "undefined",
    "terrain": "death",
    "x": 0,
    "y": 0,
    "z": 0
  },
  "1": {
    "align": "undefined",
    "desc": "",
    "dynamicDesc": "",
    "exits": {},
    "light": "undefined",
    "loadFlags": [],
    "mobFlags": [],
    "name": "Legacy",
    "note": "",
    "portable": "undefined",
    "ridable": "undefined",
    "terrain": "shallowwater",
    "x": 1,
    "y": 0,
    "z": 0
  }
}`

func TestLoadRewritesLegacyNames(t *testing.T) {
	dir := t.TempDir()
	paths := DefaultPaths(dir)
	writeDatabase(t, paths.MapFile, legacyDatabase)
	w := New(nil, nil, paths)

	start := w.Rooms["0"]
	require.NotNil(t, start)
	assert.Equal(t, "deathtrap", start.Terrain)
	assert.Equal(t, TerrainCosts["deathtrap"], start.Cost)
	assert.True(t, start.MobFlags.Contains("aggressive_mob"))
	assert.True(t, start.MobFlags.Contains("ranger_guild"))
	assert.True(t, start.LoadFlags.Contains("pack_horse"))

	ex := start.Exits["east"]
	require.NotNil(t, ex)
	assert.True(t, ex.DoorFlags.Contains("no_block"))
	assert.True(t, ex.DoorFlags.Contains("need_key"))
	assert.Equal(t, "gate", ex.Door)

	assert.Equal(t, "shallow", w.Rooms["1"].Terrain)
}

func TestLoadFallsBackToSample(t *testing.T) {
	dir := t.TempDir()
	paths := DefaultPaths(dir)
	writeDatabase(t, paths.SampleMapFile, legacyDatabase)
	w := New(nil, nil, paths)
	assert.Equal(t, "Start", w.Rooms["0"].Name)
}

func TestLoadMissingAvoidDefaultsFalse(t *testing.T) {
	dir := t.TempDir()
	paths := DefaultPaths(dir)
	writeDatabase(t, paths.MapFile, legacyDatabase)
	w := New(nil, nil, paths)
	assert.False(t, w.Rooms["1"].Avoid)
}

func TestLabelsMergeAndPurge(t *testing.T) {
	dir := t.TempDir()
	paths := DefaultPaths(dir)
	writeDatabase(t, paths.MapFile, legacyDatabase)
	writeDatabase(t, paths.SampleLabelsFile, `{"start": "0", "orphan": "999", "legacy": "0"}`)
	writeDatabase(t, paths.LabelsFile, `{"legacy": "1"}`)
	w := New(nil, nil, paths)

	assert.Equal(t, "0", w.Labels["start"])
	// User labels override the shipped samples.
	assert.Equal(t, "1", w.Labels["legacy"])
	assert.NotContains(t, w.Labels, "orphan")
}

func TestCorruptDatabaseReported(t *testing.T) {
	dir := t.TempDir()
	paths := DefaultPaths(dir)
	writeDatabase(t, paths.MapFile, "{not json")
	var messages []string
	w := New(nil, func(s string) { messages = append(messages, s) }, paths)

	require.NotNil(t, w.Rooms["0"])
	assert.Contains(t, messages, "Corrupted database file: "+paths.MapFile)
}

// Saving, reloading and saving again must produce identical files.
func TestSaveLoadIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dir, err := os.MkdirTemp("", "world")
		if err != nil {
			t.Fatal(err)
		}
		defer os.RemoveAll(dir)
		paths := DefaultPaths(dir)
		if err := os.MkdirAll(filepath.Dir(paths.MapFile), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.MkdirAll(filepath.Dir(paths.LabelsFile), 0o755); err != nil {
			t.Fatal(err)
		}

		w := New(nil, nil, paths)
		terrains := rapid.SampledFrom(uniqueValues(TerrainSymbols))
		numRooms := rapid.IntRange(1, 8).Draw(t, "numRooms")
		for i := 1; i <= numRooms; i++ {
			vnum := strconv.Itoa(i)
			room := NewRoom(vnum)
			room.Name = rapid.StringMatching(`[A-Za-z ]{0,12}`).Draw(t, "name")
			room.Terrain = terrains.Draw(t, "terrain")
			room.Avoid = rapid.Bool().Draw(t, "avoid")
			room.X = rapid.IntRange(-5, 5).Draw(t, "x")
			room.CalculateCost()
			for _, flag := range rapid.SliceOfDistinct(
				rapid.SampledFrom(ValidMobFlags), rapid.ID).Draw(t, "mobFlags") {
				room.MobFlags.Insert(flag)
			}
			if rapid.Bool().Draw(t, "hasExit") {
				ex := NewExit("east", "0", vnum)
				ex.Door = rapid.StringMatching(`[a-z]{0,6}`).Draw(t, "door")
				room.Exits["east"] = ex
			}
			w.Rooms[vnum] = room
		}
		if err := w.SaveRooms(); err != nil {
			t.Fatal(err)
		}
		first, err := os.ReadFile(paths.MapFile)
		if err != nil {
			t.Fatal(err)
		}

		reloaded := New(nil, nil, paths)
		if err := reloaded.SaveRooms(); err != nil {
			t.Fatal(err)
		}
		second, err := os.ReadFile(paths.MapFile)
		if err != nil {
			t.Fatal(err)
		}
		if string(first) != string(second) {
			t.Fatalf("database changed across a load/save cycle:\n%s\n---\n%s", first, second)
		}
	})
}

func TestSaveLabels(t *testing.T) {
	w, _ := newTestWorld(t)
	addRoom(w, "1", "city", 0, 0, 0)
	w.Labels["home"] = "1"
	require.NoError(t, w.SaveLabels())

	reloaded := New(nil, nil, w.paths)
	assert.Equal(t, "1", reloaded.Labels["home"])
}
