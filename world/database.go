package world

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-set/v3"
)

// Paths locates the map and label databases. The .sample files ship with
// the distribution and seed a fresh install.
type Paths struct {
	MapFile          string
	SampleMapFile    string
	LabelsFile       string
	SampleLabelsFile string
}

// DefaultPaths resolves the databases under dir, using the same layout the
// distribution archive ships with.
func DefaultPaths(dir string) Paths {
	return Paths{
		MapFile:          filepath.Join(dir, "maps", "arda.json"),
		SampleMapFile:    filepath.Join(dir, "maps", "arda.json.sample"),
		LabelsFile:       filepath.Join(dir, "data", "room_labels.json"),
		SampleLabelsFile: filepath.Join(dir, "data", "room_labels.json.sample"),
	}
}

// Legacy databases predate several flag renames.
var (
	terrainReplacements = map[string]string{
		"random":       "undefined",
		"death":        "deathtrap",
		"shallowwater": "shallow",
	}
	mobFlagReplacements = map[string]string{
		"any":          "passive_mob",
		"smob":         "aggressive_mob",
		"quest":        "quest_mob",
		"scoutguild":   "scout_guild",
		"mageguild":    "mage_guild",
		"clericguild":  "cleric_guild",
		"warriorguild": "warrior_guild",
		"rangerguild":  "ranger_guild",
		"armourshop":   "armour_shop",
		"foodshop":     "food_shop",
		"petshop":      "pet_shop",
		"weaponshop":   "weapon_shop",
	}
	loadFlagReplacements = map[string]string{
		"packhorse":    "pack_horse",
		"trainedhorse": "trained_horse",
	}
	doorFlagReplacements = map[string]string{
		"noblock": "no_block",
		"nobreak": "no_break",
		"nopick":  "no_pick",
		"needkey": "need_key",
	}
)

type exitJSON struct {
	Door      string   `json:"door"`
	DoorFlags []string `json:"doorFlags"`
	ExitFlags []string `json:"exitFlags"`
	To        string   `json:"to"`
}

type roomJSON struct {
	Align       string              `json:"align"`
	Avoid       *bool               `json:"avoid,omitempty"`
	Desc        string              `json:"desc"`
	DynamicDesc string              `json:"dynamicDesc"`
	Exits       map[string]exitJSON `json:"exits"`
	Light       string              `json:"light"`
	LoadFlags   []string            `json:"loadFlags"`
	MobFlags    []string            `json:"mobFlags"`
	Name        string              `json:"name"`
	Note        string              `json:"note"`
	Portable    string              `json:"portable"`
	Ridable     string              `json:"ridable"`
	Terrain     string              `json:"terrain"`
	X           int                 `json:"x"`
	Y           int                 `json:"y"`
	Z           int                 `json:"z"`
}

func loadJSON(path string, target any) error {
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("Error: '%s' doesn't exist.", path)
	case err != nil:
		return err
	case info.IsDir():
		return fmt.Errorf("Error: '%s' is a directory, not a file.", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("Corrupted database file: %s", path)
	}
	return nil
}

// saveJSON writes sorted, indented JSON through a temp file and rename so
// a crash mid-save never truncates the database.
func saveJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadRooms reads the map database, falling back to the shipped sample.
// The world always ends up with a room "0" for the mapper to anchor on.
func (w *World) LoadRooms() {
	w.out("Loading the database file.")
	db := make(map[string]roomJSON)
	if err := loadJSON(w.paths.MapFile, &db); err != nil {
		if sampleErr := loadJSON(w.paths.SampleMapFile, &db); sampleErr != nil {
			w.out(err.Error())
			w.out(sampleErr.Error())
			w.out(fmt.Sprintf("Error: neither '%s' nor '%s' can be found.",
				w.paths.MapFile, w.paths.SampleMapFile))
			w.ensureOrigin()
			return
		}
	}
	w.out("Creating room objects.")
	for vnum, roomData := range db {
		room := NewRoom(vnum)
		room.Name = roomData.Name
		room.Desc = roomData.Desc
		room.DynamicDesc = roomData.DynamicDesc
		room.Note = roomData.Note
		if terrain, ok := terrainReplacements[roomData.Terrain]; ok {
			room.Terrain = terrain
		} else {
			room.Terrain = roomData.Terrain
		}
		room.Light = roomData.Light
		room.Align = roomData.Align
		room.Portable = roomData.Portable
		room.Ridable = roomData.Ridable
		if roomData.Avoid != nil {
			room.Avoid = *roomData.Avoid
		}
		room.MobFlags = replaceFlags(roomData.MobFlags, mobFlagReplacements)
		room.LoadFlags = replaceFlags(roomData.LoadFlags, loadFlagReplacements)
		room.X = roomData.X
		room.Y = roomData.Y
		room.Z = roomData.Z
		room.CalculateCost()
		for direction, exitData := range roomData.Exits {
			ex := NewExit(direction, exitData.To, vnum)
			ex.ExitFlags = set.From(exitData.ExitFlags)
			ex.DoorFlags = replaceFlags(exitData.DoorFlags, doorFlagReplacements)
			ex.Door = exitData.Door
			room.Exits[direction] = ex
		}
		w.Rooms[vnum] = room
	}
	w.ensureOrigin()
	w.out("Map database loaded.")
}

func (w *World) ensureOrigin() {
	if _, ok := w.Rooms["0"]; !ok {
		w.Rooms["0"] = NewRoom("0")
	}
	w.Current = w.Rooms["0"]
}

// SaveRooms writes the map database.
func (w *World) SaveRooms() error {
	w.out("Creating dict from room objects.")
	db := make(map[string]roomJSON, len(w.Rooms))
	for vnum, room := range w.Rooms {
		avoid := room.Avoid
		roomData := roomJSON{
			Name:        room.Name,
			Desc:        room.Desc,
			DynamicDesc: room.DynamicDesc,
			Note:        room.Note,
			Terrain:     room.Terrain,
			Light:       room.Light,
			Align:       room.Align,
			Portable:    room.Portable,
			Ridable:     room.Ridable,
			Avoid:       &avoid,
			MobFlags:    sortedFlags(room.MobFlags),
			LoadFlags:   sortedFlags(room.LoadFlags),
			X:           room.X,
			Y:           room.Y,
			Z:           room.Z,
			Exits:       make(map[string]exitJSON, len(room.Exits)),
		}
		for direction, ex := range room.Exits {
			roomData.Exits[direction] = exitJSON{
				ExitFlags: sortedFlags(ex.ExitFlags),
				DoorFlags: sortedFlags(ex.DoorFlags),
				Door:      ex.Door,
				To:        ex.To,
			}
		}
		db[vnum] = roomData
	}
	w.out("Saving the database.")
	if err := saveJSON(w.paths.MapFile, db); err != nil {
		return multierror.Prefix(err, "save rooms:")
	}
	w.out("Map Database saved.")
	return nil
}

// LoadLabels reads the label database. Sample labels are loaded first so
// user labels override them; labels pointing at missing rooms are purged.
func (w *World) LoadLabels() {
	var errs *multierror.Error
	sample := make(map[string]string)
	if err := loadJSON(w.paths.SampleLabelsFile, &sample); err != nil {
		errs = multierror.Append(errs, err)
	}
	user := make(map[string]string)
	if err := loadJSON(w.paths.LabelsFile, &user); err != nil {
		errs = multierror.Append(errs, err)
	}
	if len(sample) == 0 && len(user) == 0 && errs != nil {
		for _, err := range errs.Errors {
			w.out(err.Error())
		}
		return
	}
	for label, vnum := range sample {
		w.Labels[label] = vnum
	}
	for label, vnum := range user {
		w.Labels[label] = vnum
	}
	for label, vnum := range w.Labels {
		if _, ok := w.Rooms[vnum]; !ok {
			delete(w.Labels, label)
		}
	}
}

// SaveLabels writes the label database.
func (w *World) SaveLabels() error {
	if err := saveJSON(w.paths.LabelsFile, w.Labels); err != nil {
		return multierror.Prefix(err, "save labels:")
	}
	return nil
}

func replaceFlags(flags []string, replacements map[string]string) *set.Set[string] {
	out := set.New[string](len(flags))
	for _, flag := range flags {
		if replacement, ok := replacements[flag]; ok {
			flag = replacement
		}
		out.Insert(flag)
	}
	return out
}

func sortedFlags(flags *set.Set[string]) []string {
	out := flags.Slice()
	if out == nil {
		out = []string{}
	}
	sort.Strings(out)
	return out
}
