package mapper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drake/mapperproxy/world"
)

type harness struct {
	m      *Mapper
	client []string
	server []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{}
	w := world.New(nil, nil, world.DefaultPaths(t.TempDir()))
	h.m = New(Options{
		World:      w,
		SendClient: func(data []byte) { h.client = append(h.client, string(data)) },
		SendServer: func(data []byte) { h.server = append(h.server, string(data)) },
		FindFormat: "{vnum} {name}",
	})
	return h
}

func (h *harness) clientText() string {
	return strings.Join(h.client, "")
}

func (h *harness) event(name, data string) {
	h.m.handleMudEvent(name, []byte(data))
}

// turn plays one full room arrival: movement, name, description, dynamic
// and prompt.
func (h *harness) turn(movement, name, desc, dynamic, prompt string) {
	if movement != "" {
		h.event("movement", movement)
	}
	h.event("name", name)
	h.event("description", desc)
	h.event("dynamic", dynamic)
	h.event("prompt", prompt)
}

func addRoom(w *world.World, vnum, name, desc string, x, y, z int) *world.Room {
	room := world.NewRoom(vnum)
	room.Name = name
	room.Desc = desc
	room.Terrain = "city"
	room.X, room.Y, room.Z = x, y, z
	room.CalculateCost()
	w.Rooms[vnum] = room
	return room
}

func link(w *world.World, from, direction, to string) *world.Exit {
	ex := world.NewExit(direction, to, from)
	w.Rooms[from].Exits[direction] = ex
	reverse := world.ReverseDirections[direction]
	w.Rooms[to].Exits[reverse] = world.NewExit(reverse, from, to)
	return ex
}

func TestSyncByNameAndDescription(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Market Square", "A wide square.", 0, 0, 0)
	addRoom(w, "2", "Market Square", "A narrow alley.", 1, 0, 0)

	h.turn("", "Market Square", "A wide square.", "", "!# CW>")

	assert.True(t, w.Synced)
	assert.Equal(t, "1", w.Current.Vnum)
	assert.Contains(t, h.clientText(), "Synced to room Market Square with vnum 1")
}

func TestSyncNameOnly(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Lone Hut", "A hut.", 0, 0, 0)

	h.turn("", "Lone Hut", "Text the database never saw.", "", ">")

	assert.True(t, w.Synced)
	assert.Contains(t, h.clientText(), "Name-only synced to room Lone Hut with vnum 1")
}

func TestSyncAmbiguous(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Market Square", "Same text.", 0, 0, 0)
	addRoom(w, "2", "Market Square", "Same text.", 1, 0, 0)

	h.turn("", "Market Square", "Same text.", "", ">")

	assert.False(t, w.Synced)
	assert.Contains(t, h.clientText(), "More than one room in the database matches current room. Unable to sync.")
}

func TestSyncUnknownRoom(t *testing.T) {
	h := newHarness(t)
	h.turn("", "Nowhere", "Nothing.", "", ">")
	assert.False(t, h.m.World().Synced)
	assert.Contains(t, h.clientText(), "Current room not in the database. Unable to sync.")
}

func TestMovementFollowsExit(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)
	addRoom(w, "2", "Street", "A street.", 1, 0, 0)
	link(w, "1", "east", "2")
	w.Current = w.Rooms["1"]
	w.Synced = true

	h.turn("east", "Street", "A street.", "", ">")

	assert.True(t, w.Synced)
	assert.Equal(t, "2", w.Current.Vnum)
}

func TestMovementUnknownDirectionUnsyncs(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)
	w.Current = w.Rooms["1"]
	w.Synced = true

	h.event("movement", "portal")
	h.event("dynamic", "")

	assert.False(t, w.Synced)
	assert.Contains(t, h.clientText(), "Error: Invalid direction 'portal'. Map no longer synced!")
}

func TestForcedMovementUnsyncs(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)
	w.Current = w.Rooms["1"]
	w.Synced = true

	h.event("movement", "")
	h.event("dynamic", "")

	assert.False(t, w.Synced)
	assert.Contains(t, h.clientText(), "Forced movement, no longer synced.")
}

func TestMissingExitUnsyncs(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)
	w.Current = w.Rooms["1"]
	w.Synced = true

	h.event("movement", "east")
	h.event("dynamic", "")

	assert.False(t, w.Synced)
	assert.Contains(t, h.clientText(), "Error: direction 'east' not in database. Map no longer synced!")
}

func TestAutoMapCreatesRoom(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)
	w.Current = w.Rooms["1"]
	w.Synced = true
	h.m.autoMapping = true

	h.event("movement", "east")
	h.event("name", "New Street")
	h.event("description", "A fresh cobbled street.")
	h.event("dynamic", "A beggar sits here.")

	require.Contains(t, h.clientText(), "Adding room 'New Street' with vnum '2'")
	assert.Equal(t, "2", w.Current.Vnum)
	assert.Equal(t, "New Street", w.Current.Name)
	assert.Equal(t, 1, w.Current.X)
	assert.Equal(t, "2", w.Rooms["1"].Exits["east"].To)

	// The exits line wires the reverse exit back to where we came from.
	h.event("exits", "west")
	require.NotNil(t, w.Current.Exits["west"])
	assert.Equal(t, "1", w.Current.Exits["west"].To)
}

func TestAutoMappingOptionSeedsToggle(t *testing.T) {
	w := world.New(nil, nil, world.DefaultPaths(t.TempDir()))
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)
	w.Current = w.Rooms["1"]
	w.Synced = true

	var client []string
	m := New(Options{
		World:       w,
		SendClient:  func(data []byte) { client = append(client, string(data)) },
		AutoMapping: true,
	})

	// Mapping is live from the start, with no automap command needed.
	m.handleMudEvent("movement", []byte("east"))
	m.handleMudEvent("name", []byte("New Street"))
	m.handleMudEvent("description", []byte("A fresh cobbled street."))
	m.handleMudEvent("dynamic", nil)

	require.Contains(t, strings.Join(client, ""), "Adding room 'New Street' with vnum '2'")
	assert.Equal(t, "2", w.Current.Vnum)
}

func TestAutoMergeLinksDuplicate(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)
	twin := addRoom(w, "5", "Twin Room", "Twin text.", 1, 0, 0)
	twin.Exits["west"] = world.NewExit("west", "undefined", "5")
	w.Current = w.Rooms["1"]
	w.Synced = true
	h.m.autoMapping = true

	h.event("movement", "east")
	h.event("name", "Twin Room")
	h.event("description", "Twin text.")
	h.event("dynamic", "")

	assert.Contains(t, h.clientText(), "Auto Merging '5' with name 'Twin Room'.")
	assert.Equal(t, "5", w.Current.Vnum)
	assert.Equal(t, "5", w.Rooms["1"].Exits["east"].To)
	assert.Equal(t, "1", w.Rooms["5"].Exits["west"].To)
}

func TestScoutingSuppressesRoomEvents(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)

	h.event("line", "You quietly scout east into the distance...")
	h.event("name", "Square")
	h.event("description", "A square.")
	h.event("dynamic", "")

	assert.Equal(t, "", h.m.roomName)
	assert.False(t, w.Synced)

	// The next prompt clears the scouting flag and turns parsing back on.
	h.event("prompt", ">")
	h.turn("", "Square", "A square.", "", ">")
	assert.True(t, w.Synced)
}

func TestForcedMovementLineCancelsRun(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)
	w.Current = w.Rooms["1"]
	w.Synced = true
	h.m.autoWalk = true
	h.m.autoWalkDirections = []string{"east", "east"}

	h.event("line", "You feel confused and move along randomly...")

	assert.False(t, h.m.autoWalk)
	assert.Empty(t, h.m.autoWalkDirections)
	assert.False(t, w.Synced)
}

func TestPreventedMovementCancelsRunKeepsSync(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)
	w.Current = w.Rooms["1"]
	w.Synced = true
	h.m.autoWalk = true
	h.m.autoWalkDirections = []string{"east"}

	h.event("line", "Alas, you cannot go that way...")

	assert.False(t, h.m.autoWalk)
	assert.True(t, w.Synced)
}

func TestPromptFlagUpdates(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)
	addRoom(w, "2", "Field", "A field.", 1, 0, 0)
	w.Rooms["2"].Terrain = "undefined"
	link(w, "1", "east", "2")
	w.Current = w.Rooms["1"]
	w.Synced = true
	h.m.autoMapping = true

	h.turn("east", "Field", "A field.", "", "*. R>")

	assert.Equal(t, "lit", w.Current.Light)
	assert.Equal(t, "field", w.Current.Terrain)
	assert.Equal(t, "ridable", w.Current.Ridable)
}

func TestPromptNeverDowngradesDeathtrap(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)
	addRoom(w, "2", "Pit", "A pit.", 1, 0, 0)
	w.Rooms["2"].Terrain = "deathtrap"
	link(w, "1", "east", "2")
	w.Current = w.Rooms["1"]
	w.Synced = true
	h.m.autoMapping = true

	h.turn("east", "Pit", "A pit.", "", ".>")

	assert.Equal(t, "deathtrap", w.Current.Terrain)
}

func TestAutoWalkSendsFirstLetters(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)
	addRoom(w, "2", "Street", "A street.", 1, 0, 0)
	addRoom(w, "3", "Gate", "A gate.", 2, 0, 0)
	link(w, "1", "east", "2")
	link(w, "2", "east", "3")
	w.Current = w.Rooms["1"]
	w.Synced = true

	h.m.handleUserData("run 3")
	require.Equal(t, []string{"e\r\n"}, h.server)
	assert.True(t, h.m.autoWalk)

	// Arrival at the next room triggers the following step.
	h.turn("east", "Street", "A street.", "", ">")
	assert.Equal(t, []string{"e\r\n", "e\r\n"}, h.server)
	assert.Contains(t, h.clientText(), "Arriving at destination.")
	assert.False(t, h.m.autoWalk)
}

func TestStopCancelsRun(t *testing.T) {
	h := newHarness(t)
	h.m.autoWalk = true
	h.m.autoWalkDirections = []string{"east"}

	h.m.handleUserData("stop")

	assert.Contains(t, h.clientText(), "Run canceled!")
	assert.False(t, h.m.autoWalk)
	assert.Empty(t, h.m.autoWalkDirections)
}

func TestExitsCleanerRemovesStaleHidden(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)
	w.Current = w.Rooms["1"]
	w.Synced = true
	h.m.autoUpdateRooms = true
	h.m.clientSend(w.Secret("add curtain east"))

	h.event("exits", "  East   - A Dirt Road")

	assert.Contains(t, h.clientText(), "Secret east removed.")
	assert.False(t, w.Current.Exits["east"].DoorFlags.Contains("hidden"))
}

func TestExitsCleanerIgnoresMarkedExits(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)
	w.Current = w.Rooms["1"]
	w.Synced = true
	h.m.autoUpdateRooms = true
	w.Secret("add curtain east")

	h.event("exits", "  #East#   - A Dirt Road")

	assert.NotContains(t, h.clientText(), "Secret east removed.")
	assert.True(t, w.Current.Exits["east"].DoorFlags.Contains("hidden"))
}

func TestUpdateExitFlagsAddsExitAndFlags(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)
	addRoom(w, "2", "Street", "A street.", 1, 0, 0)
	link(w, "1", "east", "2")
	w.Current = w.Rooms["2"]
	w.Synced = true
	h.m.autoMapping = true
	h.m.moved = "east"

	h.m.updateExitFlags("#north#, =west=")

	assert.Contains(t, h.clientText(), "Adding exit 'north' to current room.")
	require.NotNil(t, w.Current.Exits["north"])
	assert.True(t, w.Current.Exits["north"].ExitFlags.Contains("door"))
	assert.True(t, w.Current.Exits["west"].ExitFlags.Contains("road"))
}

func TestCommandDispatch(t *testing.T) {
	h := newHarness(t)

	h.m.handleUserData("vnum")
	assert.Contains(t, h.clientText(), "Vnum: 0.")

	h.m.handleUserData("automap on")
	assert.True(t, h.m.autoMapping)
	assert.Contains(t, h.clientText(), "Auto Mapping on.")

	h.m.handleUserData("north")
	assert.Equal(t, []string{"north\r\n"}, h.server)

	assert.True(t, h.m.IsCommand("rinfo"))
	assert.False(t, h.m.IsCommand("north"))
}

func TestTVnum(t *testing.T) {
	h := newHarness(t)
	h.m.handleUserData("tvnum gandalf")
	assert.Equal(t, []string{"tell gandalf 0\r\n"}, h.server)

	h.m.handleUserData("tvnum")
	assert.Contains(t, h.clientText(), "Tell VNum to who?")
}

func TestSecretAction(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	ex := world.NewExit("east", "undefined", "0")
	ex.Door = "gate"
	w.Current.Exits["east"] = ex

	h.m.handleUserData("secretaction open e")
	assert.Equal(t, []string{"open gate e\r\n"}, h.server)

	h.m.handleUserData("secretaction knock north")
	assert.Equal(t, "knock exit n\r\n", h.server[1])
}

func TestGetTimerFormat(t *testing.T) {
	h := newHarness(t)
	h.m.handleUserData("gettimer")
	assert.Regexp(t, `TIMER:\d+:TIMER`, h.clientText())
}

func TestRoomDetails(t *testing.T) {
	h := newHarness(t)
	w := h.m.World()
	addRoom(w, "1", "Square", "A square.", 0, 0, 0)
	room := addRoom(w, "2", "Street", "A street.", 1, 0, 0)
	room.Note = "bakery"
	link(w, "1", "east", "2")
	ex := world.NewExit("north", "death", "2")
	room.Exits["north"] = ex
	door := world.NewExit("south", "undefined", "2")
	door.Door = "trapdoor"
	room.Exits["south"] = door
	w.Current = w.Rooms["1"]
	w.Synced = true

	h.turn("east", "Street", "A street.", "", ">")

	text := h.clientText()
	assert.Contains(t, text, "Doors: south: trapdoor")
	assert.Contains(t, text, "Death Traps: north")
	assert.Contains(t, text, "Undefineds: south")
	assert.Contains(t, text, "Note: bakery")
}

func TestMapHelpListsCommands(t *testing.T) {
	h := newHarness(t)
	h.m.handleUserData("maphelp")
	text := h.clientText()
	assert.Contains(t, text, "Mapper Commands")
	assert.Contains(t, text, "run")
	assert.Contains(t, text, "speedwalks to a label or vnum")
}
