package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathFindPrefersCheapTerrain(t *testing.T) {
	w, _ := newTestWorld(t)
	w.Rooms["0"].Terrain = "city"
	w.Rooms["0"].CalculateCost()
	addRoom(w, "1", "city", 1, 0, 0)
	addRoom(w, "2", "city", 2, 0, 0)
	addRoom(w, "9", "city", 3, 0, 0)
	addRoom(w, "4", "water", 1, -1, 0)
	link(w, "0", "east", "1")
	link(w, "1", "east", "2")
	link(w, "2", "east", "9")
	link(w, "0", "south", "4")
	link(w, "4", "east", "9")

	result := w.PathFind(nil, "9", nil)
	require.NotNil(t, result)
	assert.Equal(t, []string{"east", "east", "east"}, result)
	assert.Equal(t, "3 rooms. 3e", w.CreateSpeedWalk(result))
}

func TestPathFindAvoidFlags(t *testing.T) {
	w, _ := newTestWorld(t)
	w.Rooms["0"].Terrain = "city"
	w.Rooms["0"].CalculateCost()
	addRoom(w, "1", "road", 1, 0, 0)
	addRoom(w, "2", "field", 1, -1, 0)
	addRoom(w, "9", "city", 2, 0, 0)
	link(w, "0", "east", "1")
	link(w, "1", "east", "9")
	link(w, "0", "south", "2")
	link(w, "2", "east", "9")

	assert.Equal(t, []string{"east", "east"}, w.PathFind(nil, "9", nil))
	// Penalizing roads makes the field detour cheaper.
	assert.Equal(t, []string{"east", "south"}, w.PathFind(nil, "9", []string{"noroad"}))
}

func TestPathFindOpensDoors(t *testing.T) {
	w, _ := newTestWorld(t)
	addRoom(w, "1", "city", 1, 0, 0)
	addRoom(w, "9", "city", 2, 0, 0)
	ex := link(w, "0", "east", "1")
	ex.ExitFlags.Insert("door")
	ex.Door = "gate"
	unnamed := link(w, "1", "east", "9")
	unnamed.ExitFlags.Insert("door")

	result := w.PathFind(nil, "9", nil)
	require.NotNil(t, result)
	assert.Equal(t, []string{"east", "open exit east", "east", "open gate east"}, result)
	assert.Equal(t, "2 rooms. open gate east, e, open exit east, e", w.CreateSpeedWalk(result))
}

func TestPathFindLeadAndRide(t *testing.T) {
	w, _ := newTestWorld(t)
	addRoom(w, "196", "city", 1, 0, 0)
	addRoom(w, "9", "city", 2, 0, 0)
	link(w, "0", "east", "196")
	link(w, "196", "east", "9")

	result := w.PathFind(nil, "9", nil)
	require.NotNil(t, result)
	assert.Equal(t, []string{"ride", "east", "east", "lead"}, result)
	assert.Equal(t, "2 rooms. lead, 2e, ride", w.CreateSpeedWalk(result))
}

func TestPathFindAlreadyThere(t *testing.T) {
	w, messages := newTestWorld(t)
	result := w.PathFind(nil, "0", nil)
	require.NotNil(t, result)
	assert.Empty(t, result)
	assert.Contains(t, *messages, "You are already there!")
}

func TestPathFindNoRoute(t *testing.T) {
	w, messages := newTestWorld(t)
	addRoom(w, "9", "city", 5, 0, 0)
	assert.Nil(t, w.PathFind(nil, "9", nil))
	assert.Contains(t, *messages, "No routes found.")
}

func TestPathFindIgnoresDeathAndUndefined(t *testing.T) {
	w, messages := newTestWorld(t)
	addRoom(w, "9", "city", 1, 0, 0)
	w.Rooms["0"].Exits["east"] = NewExit("east", "death", "0")
	w.Rooms["0"].Exits["south"] = NewExit("south", "undefined", "0")

	assert.Nil(t, w.PathFind(nil, "9", nil))
	assert.Contains(t, *messages, "No routes found.")
}

func TestPathFindUnknownDestination(t *testing.T) {
	w, messages := newTestWorld(t)
	assert.Nil(t, w.PathFind(nil, "99", nil))
	assert.Contains(t, *messages, "No room with vnum 99")
}

func TestPathCommand(t *testing.T) {
	w, _ := newTestWorld(t)
	addRoom(w, "1", "city", 1, 0, 0)
	addRoom(w, "9", "city", 2, 0, 0)
	link(w, "0", "east", "1")
	link(w, "1", "north", "9")
	w.Labels["home"] = "9"

	assert.Equal(t, "2 rooms. e, n", w.Path("home"))
	assert.Equal(t, "Usage: path [label|vnum]", w.Path(""))
}

func TestCreateSpeedWalkCompression(t *testing.T) {
	w, _ := newTestWorld(t)
	// Steps arrive in reverse order, as the pathfinder produces them.
	steps := []string{"north", "east", "east", "east"}
	assert.Equal(t, "4 rooms. 3e, n", w.CreateSpeedWalk(steps))
	assert.Equal(t, "0 rooms. ", w.CreateSpeedWalk(nil))
}
