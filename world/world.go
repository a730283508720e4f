package world

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/drake/mapperproxy/text"
)

// regexCacheSize bounds the compiled command-pattern cache.
const regexCacheSize = 64

var runDestinationRegex = regexp.MustCompile(`^(?P<destination>.+?)(?:\s+(?P<flags>\S+))?$`)

// World is the map store. Current is a non-owning pointer into Rooms;
// Synced is whether the mapper trusts it.
type World struct {
	logger hclog.Logger
	out    func(string)
	paths  Paths

	Rooms   map[string]*Room
	Labels  map[string]string
	Current *Room
	Synced  bool

	regexCache *lru.Cache[string, *regexp.Regexp]
}

// New creates a World and loads the map and label databases from paths.
// out receives user-facing progress and error messages.
func New(logger hclog.Logger, out func(string), paths Paths) *World {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if out == nil {
		out = func(string) {}
	}
	w := &World{
		logger: logger,
		out:    out,
		paths:  paths,
		Rooms:  make(map[string]*Room),
		Labels: make(map[string]string),
	}
	w.regexCache, _ = lru.New[string, *regexp.Regexp](regexCacheSize)
	w.LoadRooms()
	w.LoadLabels()
	return w
}

// compile caches compiled command patterns; the same handful of patterns
// are rebuilt on every flag command otherwise.
func (w *World) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := w.regexCache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	w.regexCache.Add(pattern, re)
	return re, nil
}

// GetNewExit creates an exit owned by the current room unless parent is
// given.
func (w *World) GetNewExit(direction, to, parent string) *Exit {
	if parent == "" && w.Current != nil {
		parent = w.Current.Vnum
	}
	return NewExit(direction, to, parent)
}

// GetNewVnum allocates the next vnum as one past the highest in use.
func (w *World) GetNewVnum() string {
	highest := -1
	for vnum := range w.Rooms {
		if n, err := strconv.Atoi(vnum); err == nil && n > highest {
			highest = n
		}
	}
	return strconv.Itoa(highest + 1)
}

// SortExits returns the exits in canonical direction order, unknown
// directions last.
func (w *World) SortExits(exits map[string]*Exit) []*Exit {
	sorted := make([]*Exit, 0, len(exits))
	for _, ex := range exits {
		sorted = append(sorted, ex)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return directionIndex(sorted[i].Direction) < directionIndex(sorted[j].Direction)
	})
	return sorted
}

func directionIndex(direction string) int {
	for i, d := range Directions {
		if d == direction {
			return i
		}
	}
	return len(Directions)
}

// IsBidirectional reports whether stepping through the exit and back
// returns to the starting room.
func (w *World) IsBidirectional(ex *Exit) bool {
	dest, ok := w.Rooms[ex.To]
	if !ok {
		return false
	}
	reverse := ReverseDirections[ex.Direction]
	back, ok := dest.Exits[reverse]
	return ok && back.To == ex.Vnum
}

// CoordinatesAddDirection offsets coordinates by one step in a direction.
func CoordinatesAddDirection(c [3]int, direction string) [3]int {
	delta, ok := DirectionCoordinates[direction]
	if !ok {
		return c
	}
	return [3]int{c[0] + delta[0], c[1] + delta[1], c[2] + delta[2]}
}

// RDelete removes a room by vnum, or the current room when synced. Every
// exit that pointed at it becomes undefined.
func (w *World) RDelete(args string) string {
	args = strings.TrimSpace(args)
	var vnum string
	switch {
	case args != "" && isDecimal(args):
		if _, ok := w.Rooms[args]; !ok {
			return fmt.Sprintf("Error: the vnum '%s' does not exist.", args)
		}
		vnum = args
	case w.Synced:
		vnum = w.Current.Vnum
		w.Synced = false
		w.Current = w.Rooms["0"]
	default:
		return "Syntax: rdelete [vnum]"
	}
	output := fmt.Sprintf("Deleting room '%s' with name '%s'.", vnum, w.Rooms[vnum].Name)
	for _, room := range w.Rooms {
		for _, ex := range room.Exits {
			if ex.To == vnum {
				ex.To = "undefined"
			}
		}
	}
	delete(w.Rooms, vnum)
	return output
}

func (w *World) RNote(args string) string {
	note := strings.TrimSpace(args)
	if note == "" {
		return fmt.Sprintf(
			"Room note set to '%s'. Use 'rnote [text]' to change it, "+
				"'rnote -a [text]' to append to it, or 'rnote -r' to remove it.",
			w.Current.Note)
	}
	lower := strings.ToLower(note)
	switch {
	case strings.HasPrefix(lower, "-r"):
		if len(note) > 2 {
			return "Error: '-r' requires no extra arguments. Change aborted."
		}
		w.Current.Note = ""
		return "Note removed."
	case strings.HasPrefix(lower, "-a"):
		if len(note) == 2 {
			return "Error: '-a' requires text to be appended. Change aborted."
		}
		w.Current.Note = strings.TrimSpace(w.Current.Note) + " " + strings.TrimSpace(note[2:])
	default:
		w.Current.Note = note
	}
	return fmt.Sprintf("Room note now set to '%s'.", w.Current.Note)
}

func (w *World) RAlign(args string) string {
	validValues := []string{"good", "neutral", "evil", "undefined"}
	value := strings.ToLower(strings.TrimSpace(args))
	if !contains(validValues, value) {
		return fmt.Sprintf(
			"Room alignment set to '%s'. Use 'ralign [%s]' to change it.",
			w.Current.Align, strings.Join(validValues, " | "))
	}
	w.Current.Align = value
	return fmt.Sprintf("Setting room align to '%s'.", w.Current.Align)
}

func (w *World) RLight(args string) string {
	value := strings.TrimSpace(args)
	if symbol, ok := LightSymbols[value]; ok {
		w.Current.Light = symbol
		return fmt.Sprintf("Setting room light to '%s'.", w.Current.Light)
	}
	lower := strings.ToLower(value)
	if contains(uniqueValues(LightSymbols), lower) {
		w.Current.Light = lower
		return fmt.Sprintf("Setting room light to '%s'.", w.Current.Light)
	}
	return fmt.Sprintf(
		"Room light set to '%s'. Use 'rlight [%s]' to change it.",
		w.Current.Light, strings.Join(uniqueValues(LightSymbols), " | "))
}

func (w *World) RPortable(args string) string {
	validValues := []string{"portable", "notportable", "undefined"}
	value := strings.ToLower(strings.TrimSpace(args))
	if !contains(validValues, value) {
		return fmt.Sprintf(
			"Room portable set to '%s'. Use 'rportable [%s]' to change it.",
			w.Current.Portable, strings.Join(validValues, " | "))
	}
	w.Current.Portable = value
	return fmt.Sprintf("Setting room portable to '%s'.", w.Current.Portable)
}

func (w *World) RRidable(args string) string {
	validValues := []string{"ridable", "notridable", "undefined"}
	value := strings.ToLower(strings.TrimSpace(args))
	if !contains(validValues, value) {
		return fmt.Sprintf(
			"Room ridable set to '%s'. Use 'rridable [%s]' to change it.",
			w.Current.Ridable, strings.Join(validValues, " | "))
	}
	w.Current.Ridable = value
	w.Current.CalculateCost()
	return fmt.Sprintf("Setting room ridable to '%s'.", w.Current.Ridable)
}

func (w *World) RAvoid(args string) string {
	value := strings.TrimSpace(args)
	if value != "+" && value != "-" {
		status := "disabled"
		if w.Current.Avoid {
			status = "enabled"
		}
		return fmt.Sprintf("Room avoid %s. Use 'ravoid [+ | -]' to change it.", status)
	}
	w.Current.Avoid = value == "+"
	w.Current.CalculateCost()
	if w.Current.Avoid {
		return "Enabling room avoid."
	}
	return "Disabling room avoid."
}

func (w *World) RTerrain(args string) string {
	value := strings.TrimSpace(args)
	if terrain, ok := TerrainSymbols[value]; ok {
		w.Current.Terrain = terrain
		w.Current.CalculateCost()
		return fmt.Sprintf("Setting room terrain to '%s'.", w.Current.Terrain)
	}
	lower := strings.ToLower(value)
	if contains(uniqueValues(TerrainSymbols), lower) {
		w.Current.Terrain = lower
		w.Current.CalculateCost()
		return fmt.Sprintf("Setting room terrain to '%s'.", w.Current.Terrain)
	}
	return fmt.Sprintf(
		"Room terrain set to '%s'. Use 'rterrain [%s]' to change it.",
		w.Current.Terrain, strings.Join(uniqueValues(TerrainSymbols), " | "))
}

func (w *World) RX(args string) string { return w.setCoordinate("X", &w.Current.X, args) }
func (w *World) RY(args string) string { return w.setCoordinate("Y", &w.Current.Y, args) }
func (w *World) RZ(args string) string { return w.setCoordinate("Z", &w.Current.Z, args) }

func (w *World) setCoordinate(axis string, target *int, args string) string {
	value := strings.TrimSpace(args)
	if value == "" {
		return fmt.Sprintf(
			"Room coordinate %s set to '%d'. Use 'r%s [digit]' to change it.",
			axis, *target, strings.ToLower(axis))
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return "Error: room coordinates must be comprised of digits only."
	}
	*target = n
	return fmt.Sprintf("Setting room %s coordinate to '%d'.", axis, n)
}

func (w *World) RMobFlags(args string) string {
	return w.roomFlags(args, "Mob", "rmobflags", ValidMobFlags, w.Current.MobFlags)
}

func (w *World) RLoadFlags(args string) string {
	return w.roomFlags(args, "Load", "rloadflags", ValidLoadFlags, w.Current.LoadFlags)
}

func (w *World) roomFlags(args, kind, command string, valid []string, flags flagSet) string {
	pattern := fmt.Sprintf(`^(?P<mode>%s|%s)\s+(?P<flag>%s)`,
		text.RegexFuzzy("add"), text.RegexFuzzy("remove"), strings.Join(valid, "|"))
	re, err := w.compile(pattern)
	var match []string
	if err == nil {
		match = re.FindStringSubmatch(strings.ToLower(strings.TrimSpace(args)))
	}
	if match == nil {
		return fmt.Sprintf(
			"%s flags set to '%s'. Use '%s [add | remove] [%s]' to change them.",
			kind, flagList(flags), command, strings.Join(valid, " | "))
	}
	mode := match[re.SubexpIndex("mode")]
	flag := match[re.SubexpIndex("flag")]
	if strings.HasPrefix("remove", mode) {
		if flags.Contains(flag) {
			flags.Remove(flag)
			return fmt.Sprintf("%s flag '%s' removed.", kind, flag)
		}
		return fmt.Sprintf("%s flag '%s' not set.", kind, flag)
	}
	if flags.Contains(flag) {
		return fmt.Sprintf("%s flag '%s' already set.", kind, flag)
	}
	flags.Insert(flag)
	return fmt.Sprintf("%s flag '%s' added.", kind, flag)
}

func (w *World) ExitFlags(args string) string {
	return w.exitOrDoorFlags(args, "Exit", "exitflags", ValidExitFlags, func(ex *Exit) flagSet {
		return ex.ExitFlags
	})
}

func (w *World) DoorFlags(args string) string {
	return w.exitOrDoorFlags(args, "Door", "doorflags", ValidDoorFlags, func(ex *Exit) flagSet {
		return ex.DoorFlags
	})
}

func (w *World) exitOrDoorFlags(args, kind, command string, valid []string, pick func(*Exit) flagSet) string {
	pattern := fmt.Sprintf(`^((?P<mode>%s|%s)\s+)?((?P<flag>%s)\s+)?(?P<direction>%s)`,
		text.RegexFuzzy("add"), text.RegexFuzzy("remove"),
		strings.Join(valid, "|"), text.RegexFuzzyList(Directions))
	re, err := w.compile(pattern)
	var match []string
	if err == nil {
		match = re.FindStringSubmatch(strings.ToLower(strings.TrimSpace(args)))
	}
	if match == nil {
		return fmt.Sprintf("Syntax: '%s [add | remove] [%s] [%s]'.",
			command, strings.Join(valid, " | "), strings.Join(Directions, " | "))
	}
	mode := match[re.SubexpIndex("mode")]
	flag := match[re.SubexpIndex("flag")]
	direction := expandDirection(match[re.SubexpIndex("direction")])
	ex, ok := w.Current.Exits[direction]
	if !ok {
		return fmt.Sprintf("Exit %s does not exist.", direction)
	}
	flags := pick(ex)
	switch {
	case mode == "":
		return fmt.Sprintf("%s flags '%s' set to '%s'.", kind, direction, flagList(flags))
	case strings.HasPrefix("remove", mode):
		if flags.Contains(flag) {
			flags.Remove(flag)
			return fmt.Sprintf("%s flag '%s' in direction '%s' removed.", kind, flag, direction)
		}
		return fmt.Sprintf("%s flag '%s' in direction '%s' not set.", kind, flag, direction)
	default:
		if flags.Contains(flag) {
			return fmt.Sprintf("%s flag '%s' in direction '%s' already set.", kind, flag, direction)
		}
		flags.Insert(flag)
		return fmt.Sprintf("%s flag '%s' in direction '%s' added.", kind, flag, direction)
	}
}

// Secret manages hidden doors on the current room's exits.
func (w *World) Secret(args string) string {
	pattern := fmt.Sprintf(`^((?P<mode>%s|%s)\s+)?((?P<name>[A-Za-z]+)\s+)?(?P<direction>%s)`,
		text.RegexFuzzy("add"), text.RegexFuzzy("remove"), text.RegexFuzzyList(Directions))
	re, err := w.compile(pattern)
	var match []string
	if err == nil {
		match = re.FindStringSubmatch(strings.ToLower(strings.TrimSpace(args)))
	}
	if match == nil {
		return fmt.Sprintf("Syntax: 'secret [add | remove] [name] [%s]'.", strings.Join(Directions, " | "))
	}
	mode := match[re.SubexpIndex("mode")]
	name := match[re.SubexpIndex("name")]
	direction := expandDirection(match[re.SubexpIndex("direction")])
	if mode != "" && strings.HasPrefix("add", mode) {
		if name == "" {
			return "Error: 'add' expects a name for the secret."
		}
		ex, ok := w.Current.Exits[direction]
		if !ok {
			ex = w.GetNewExit(direction, "undefined", "")
			w.Current.Exits[direction] = ex
		}
		ex.ExitFlags.Insert("door")
		ex.DoorFlags.Insert("hidden")
		ex.Door = name
		return fmt.Sprintf("Adding secret '%s' to direction '%s'.", name, direction)
	}
	ex, ok := w.Current.Exits[direction]
	switch {
	case !ok:
		return fmt.Sprintf("Exit %s does not exist.", direction)
	case ex.Door == "":
		return fmt.Sprintf("No secret %s of here.", direction)
	case mode == "":
		return fmt.Sprintf("Exit '%s' has secret '%s'.", direction, ex.Door)
	default:
		ex.DoorFlags.Remove("hidden")
		ex.Door = ""
		return fmt.Sprintf("Secret %s removed.", direction)
	}
}

// RLink creates, inspects or removes links between the current room and
// another vnum, optionally one-way.
func (w *World) RLink(args string) string {
	pattern := fmt.Sprintf(
		`^((?P<mode>%s|%s)\s+)?((?P<oneway>%s)\s+)?((?P<vnum>\d+|undefined)\s+)?(?P<direction>%s)`,
		text.RegexFuzzy("add"), text.RegexFuzzy("remove"),
		text.RegexFuzzy("oneway"), text.RegexFuzzyList(Directions))
	re, err := w.compile(pattern)
	var match []string
	if err == nil {
		match = re.FindStringSubmatch(strings.ToLower(strings.TrimSpace(args)))
	}
	if match == nil {
		return fmt.Sprintf("Syntax: 'rlink [add | remove] [oneway] [vnum] [%s]'.", strings.Join(Directions, " | "))
	}
	mode := match[re.SubexpIndex("mode")]
	oneway := match[re.SubexpIndex("oneway")]
	vnum := match[re.SubexpIndex("vnum")]
	direction := expandDirection(match[re.SubexpIndex("direction")])
	if mode != "" && strings.HasPrefix("add", mode) {
		reversed := ReverseDirections[direction]
		if vnum == "" {
			return "Error: 'add' expects a vnum or 'undefined'."
		}
		if vnum != "undefined" {
			if _, ok := w.Rooms[vnum]; !ok {
				return fmt.Sprintf("Error: vnum %s not in database.", vnum)
			}
		}
		ex, ok := w.Current.Exits[direction]
		if !ok {
			ex = w.GetNewExit(direction, "undefined", "")
			w.Current.Exits[direction] = ex
		}
		ex.To = vnum
		if vnum == "undefined" {
			return fmt.Sprintf("Direction %s now undefined.", direction)
		}
		destName := w.Rooms[vnum].Name
		if oneway != "" {
			return fmt.Sprintf("Linking direction %s one way to %s with name '%s'.", direction, vnum, destName)
		}
		back, ok := w.Rooms[vnum].Exits[reversed]
		if !ok || back.To == "undefined" {
			w.Rooms[vnum].Exits[reversed] = NewExit(reversed, w.Current.Vnum, vnum)
			return fmt.Sprintf(
				"Linking direction %s to %s with name '%s'.\nLinked exit %s in second room with this room.",
				direction, vnum, destName, reversed)
		}
		return fmt.Sprintf(
			"Linking direction %s to %s with name '%s'.\n"+
				"Unable to link exit %s in second room with this room: exit already defined.",
			direction, vnum, destName, reversed)
	}
	ex, ok := w.Current.Exits[direction]
	switch {
	case !ok:
		return fmt.Sprintf("Exit %s does not exist.", direction)
	case mode == "":
		destName := ""
		if dest, found := w.Rooms[ex.To]; found {
			destName = dest.Name
		}
		return fmt.Sprintf("Exit '%s' links to '%s' with name '%s'.", direction, ex.To, destName)
	default:
		delete(w.Current.Exits, direction)
		return fmt.Sprintf("Exit %s removed.", direction)
	}
}

// flagSet is the slice of the go-set API the flag commands need.
type flagSet interface {
	Contains(string) bool
	Insert(string) bool
	Remove(string) bool
	Slice() []string
}

func flagList(flags flagSet) string {
	values := flags.Slice()
	sort.Strings(values)
	return strings.Join(values, ", ")
}

// expandDirection resolves a fuzzy direction prefix to its full name.
func expandDirection(prefix string) string {
	for _, direction := range Directions {
		if strings.HasPrefix(direction, prefix) {
			return direction
		}
	}
	return prefix
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func uniqueValues(symbols map[string]string) []string {
	seen := make(map[string]bool)
	var values []string
	for _, value := range symbols {
		if !seen[value] {
			seen[value] = true
			values = append(values, value)
		}
	}
	sort.Strings(values)
	return values
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
