package world

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ryanuber/columnize"
)

// SearchCriteria selects rooms for SearchRooms. String fields are matched
// as lowercase substrings unless ExactMatch is set; Door matches an exit's
// door name exactly.
type SearchCriteria struct {
	Name        string
	Desc        string
	DynamicDesc string
	Note        string
	Door        string
	ExactMatch  bool
}

// SearchRooms returns every room matching all set criteria.
func (w *World) SearchRooms(criteria SearchCriteria) []*Room {
	type matcher struct {
		value string
		field func(*Room) string
	}
	var matchers []matcher
	add := func(value string, field func(*Room) string) {
		value = strings.ToLower(strings.TrimSpace(value))
		if value != "" {
			matchers = append(matchers, matcher{value, field})
		}
	}
	add(criteria.Name, func(r *Room) string { return r.Name })
	add(criteria.Desc, func(r *Room) string { return r.Desc })
	add(criteria.DynamicDesc, func(r *Room) string { return r.DynamicDesc })
	add(criteria.Note, func(r *Room) string { return r.Note })
	door := strings.ToLower(strings.TrimSpace(criteria.Door))
	if len(matchers) == 0 && door == "" {
		return nil
	}
	var results []*Room
	for _, room := range w.Rooms {
		matched := true
		for _, m := range matchers {
			data := strings.ToLower(strings.TrimSpace(m.field(room)))
			if criteria.ExactMatch {
				matched = matched && data == m.value
			} else {
				matched = matched && strings.Contains(data, m.value)
			}
		}
		if door != "" {
			doorMatched := false
			for _, ex := range room.Exits {
				if strings.ToLower(strings.TrimSpace(ex.Door)) == door {
					doorMatched = true
				}
			}
			matched = matched && doorMatched
		}
		if matched {
			results = append(results, room)
		}
	}
	return results
}

// byDistance orders rooms nearest first, with vnum as a stable tiebreak.
func (w *World) byDistance(results []*Room) {
	current := w.Current
	sort.SliceStable(results, func(i, j int) bool {
		di := results[i].ManhattanDistance(current)
		dj := results[j].ManhattanDistance(current)
		if di != dj {
			return di < dj
		}
		return results[i].Vnum < results[j].Vnum
	})
}

// formatResults renders up to 20 results with findFormat, nearest last.
func (w *World) formatResults(findFormat string, results []*Room, attribute func(*Room) string) string {
	w.byDistance(results)
	if len(results) > 20 {
		results = results[:20]
	}
	current := w.Current
	lines := make([]string, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		room := results[i]
		replacer := strings.NewReplacer(
			"{attribute}", attribute(room),
			"{direction}", current.DirectionTo(room),
			"{clockPosition}", current.ClockPositionTo(room),
			"{distance}", strconv.Itoa(current.ManhattanDistance(room)),
			"{name}", room.Name,
			"{vnum}", room.Vnum,
			"{note}", room.Note,
			"{terrain}", room.Terrain,
			"{light}", room.Light,
			"{align}", room.Align,
			"{portable}", room.Portable,
			"{ridable}", room.Ridable,
			"{x}", strconv.Itoa(room.X),
			"{y}", strconv.Itoa(room.Y),
			"{z}", strconv.Itoa(room.Z),
		)
		lines = append(lines, replacer.Replace(findFormat))
	}
	return strings.Join(lines, "\n")
}

// FDoor finds rooms with a door whose name contains the text.
func (w *World) FDoor(findFormat, args string) string {
	target := strings.TrimSpace(args)
	if target == "" {
		return "Usage: 'fdoor [text]'."
	}
	var results []*Room
	for _, room := range w.Rooms {
		for _, ex := range room.Exits {
			if ex.Door != "" && strings.Contains(ex.Door, target) {
				results = append(results, room)
				break
			}
		}
	}
	if len(results) == 0 {
		return "Nothing found."
	}
	return w.formatResults(findFormat, results, func(room *Room) string {
		var doors []string
		for _, ex := range w.SortExits(room.Exits) {
			if ex.Door != "" && strings.Contains(ex.Door, target) {
				doors = append(doors, ex.Direction+": "+ex.Door)
			}
		}
		return strings.Join(doors, ", ")
	})
}

// FDynamic finds rooms whose dynamic description contains the text.
func (w *World) FDynamic(findFormat, args string) string {
	if strings.TrimSpace(args) == "" {
		return "Usage: 'fdynamic [text]'."
	}
	results := w.SearchRooms(SearchCriteria{DynamicDesc: args})
	if len(results) == 0 {
		return "Nothing found."
	}
	return w.formatResults(findFormat, results, func(room *Room) string { return room.DynamicDesc })
}

// FLabel finds labeled rooms; with no text, lists every labeled room.
func (w *World) FLabel(findFormat, args string) string {
	if len(w.Labels) == 0 {
		return "No labels defined."
	}
	target := strings.ToLower(strings.TrimSpace(args))
	seen := make(map[string]bool)
	var results []*Room
	for label, vnum := range w.Labels {
		if target != "" && !strings.Contains(strings.ToLower(label), target) {
			continue
		}
		room, ok := w.Rooms[vnum]
		if !ok || seen[vnum] {
			continue
		}
		seen[vnum] = true
		results = append(results, room)
	}
	if len(results) == 0 {
		return "Nothing found."
	}
	return w.formatResults(findFormat, results, func(room *Room) string {
		return w.GetLabel(room.Vnum)
	})
}

// FName finds rooms whose name contains the text.
func (w *World) FName(findFormat, args string) string {
	if strings.TrimSpace(args) == "" {
		return "Usage: 'fname [text]'."
	}
	results := w.SearchRooms(SearchCriteria{Name: args})
	if len(results) == 0 {
		return "Nothing found."
	}
	return w.formatResults(findFormat, results, func(room *Room) string {
		if strings.Contains(findFormat, "{name}") && strings.Contains(findFormat, "{attribute}") {
			return ""
		}
		return room.Name
	})
}

// FNote finds rooms whose note contains the text.
func (w *World) FNote(findFormat, args string) string {
	if strings.TrimSpace(args) == "" {
		return "Usage: 'fnote [text]'."
	}
	results := w.SearchRooms(SearchCriteria{Note: args})
	if len(results) == 0 {
		return "Nothing found."
	}
	return w.formatResults(findFormat, results, func(room *Room) string { return room.Note })
}

// GetLabel lists the labels on a room; args is a vnum, blank for the
// current room.
func (w *World) GetLabel(args string) string {
	vnum := strings.TrimSpace(args)
	if !isDecimal(vnum) {
		vnum = w.Current.Vnum
	}
	var labels []string
	for label, labelVnum := range w.Labels {
		if labelVnum == vnum {
			labels = append(labels, label)
		}
	}
	if len(labels) == 0 {
		return "Room not labeled."
	}
	sort.Strings(labels)
	return fmt.Sprintf("Room labels: %s", strings.Join(labels, ", "))
}

// RLabel adds, deletes, inspects or searches room labels.
func (w *World) RLabel(args string) string {
	re, err := w.compile(`^(?P<action>add|delete|info|search)(?:\s+(?P<label>\S+))?(?:\s+(?P<vnum>\d+))?$`)
	var match []string
	if err == nil {
		match = re.FindStringSubmatch(strings.ToLower(strings.TrimSpace(args)))
	}
	if match == nil {
		return "Syntax: 'rlabel [add|info|delete] [label] [vnum]'. Vnum is only used when adding a room. " +
			"Leave it blank to use the current room's vnum. Use 'rlabel info all' to get a list of all labels."
	}
	action := match[re.SubexpIndex("action")]
	label := match[re.SubexpIndex("label")]
	vnum := match[re.SubexpIndex("vnum")]
	if label == "" {
		return "Error: you need to supply a label."
	}
	if isDecimal(label) {
		return "Labels cannot be decimal values."
	}
	switch action {
	case "add":
		var output string
		if vnum == "" {
			vnum = w.Current.Vnum
			output = fmt.Sprintf("Adding the label '%s' to current room with vnum '%s'.", label, vnum)
		} else {
			output = fmt.Sprintf("Adding the label '%s' with vnum '%s'.", label, vnum)
		}
		w.Labels[label] = vnum
		w.SaveLabels()
		return output
	case "delete":
		if _, ok := w.Labels[label]; !ok {
			return fmt.Sprintf("There aren't any labels matching '%s' in the database.", label)
		}
		delete(w.Labels, label)
		w.SaveLabels()
		return fmt.Sprintf("Deleting label '%s'.", label)
	case "info":
		switch {
		case strings.HasPrefix("all", label):
			if len(w.Labels) == 0 {
				return "There aren't any labels in the database yet."
			}
			rows := make([]string, 0, len(w.Labels))
			for name, labelVnum := range w.Labels {
				rows = append(rows, name+" | "+labelVnum)
			}
			sort.Strings(rows)
			return columnize.SimpleFormat(rows)
		case w.Labels[label] == "":
			return fmt.Sprintf("There aren't any labels matching '%s' in the database.", label)
		default:
			return fmt.Sprintf("Label '%s' points to room '%s'.", label, w.Labels[label])
		}
	default:
		var results []string
		for name, labelVnum := range w.Labels {
			if !strings.Contains(name, label) {
				continue
			}
			roomName := "VNum not in map"
			if room, ok := w.Rooms[labelVnum]; ok {
				roomName = room.Name
			}
			results = append(results, fmt.Sprintf("%s - %s - %s", name, roomName, labelVnum))
		}
		if len(results) == 0 {
			return "Nothing found."
		}
		sort.Strings(results)
		return strings.Join(results, "\n")
	}
}

// RInfo dumps everything known about a room given by vnum or label, the
// current room by default.
func (w *World) RInfo(args string) string {
	vnum := strings.ToLower(strings.TrimSpace(args))
	if vnum == "" {
		vnum = w.Current.Vnum
	}
	if labelVnum, ok := w.Labels[vnum]; ok {
		vnum = labelVnum
	}
	room, ok := w.Rooms[vnum]
	if !ok {
		return fmt.Sprintf("Error: No such vnum or label, '%s'", vnum)
	}
	var info []string
	info = append(info, fmt.Sprintf("Vnum: '%s'", room.Vnum))
	info = append(info, fmt.Sprintf("Name: '%s'", room.Name))
	info = append(info, "Description:", "-----")
	info = append(info, strings.Split(room.Desc, "\n")...)
	info = append(info, "-----", "Dynamic Desc:", "-----")
	info = append(info, strings.Split(room.DynamicDesc, "\n")...)
	info = append(info, "-----")
	info = append(info, fmt.Sprintf("Note: '%s'", room.Note))
	info = append(info, fmt.Sprintf("Terrain: '%s'", room.Terrain))
	info = append(info, fmt.Sprintf("Cost: '%g'", room.Cost))
	info = append(info, fmt.Sprintf("Light: '%s'", room.Light))
	info = append(info, fmt.Sprintf("Align: '%s'", room.Align))
	info = append(info, fmt.Sprintf("Portable: '%s'", room.Portable))
	info = append(info, fmt.Sprintf("Ridable: '%s'", room.Ridable))
	info = append(info, fmt.Sprintf("Mob Flags: '%s'", flagList(room.MobFlags)))
	info = append(info, fmt.Sprintf("Load Flags: '%s'", flagList(room.LoadFlags)))
	info = append(info, fmt.Sprintf("Coordinates (X, Y, Z): '%d', '%d', '%d'", room.X, room.Y, room.Z))
	info = append(info, "Exits:")
	for _, ex := range w.SortExits(room.Exits) {
		info = append(info, "-----")
		info = append(info, fmt.Sprintf("Direction: '%s'", ex.Direction))
		info = append(info, fmt.Sprintf("To: '%s'", ex.To))
		info = append(info, fmt.Sprintf("Exit Flags: '%s'", flagList(ex.ExitFlags)))
		info = append(info, fmt.Sprintf("Door Name: '%s'", ex.Door))
		info = append(info, fmt.Sprintf("Door Flags: '%s'", flagList(ex.DoorFlags)))
	}
	return strings.Join(info, "\n")
}

// CreateSpeedWalk compresses a step list into speedwalk notation, for
// example "2 rooms. 2e". Non-direction steps like "open door east" break
// the runs and are kept verbatim. Steps are consumed from the end of the
// list, matching the reverse order the pathfinder produces.
func (w *World) CreateSpeedWalk(steps []string) string {
	isDirection := func(s string) bool { return contains(Directions, s) }
	compress := func(buf []string) []string {
		var out []string
		for i := 0; i < len(buf); {
			j := i
			for j < len(buf) && buf[j] == buf[i] {
				j++
			}
			if j-i == 1 {
				out = append(out, buf[i][:1])
			} else {
				out = append(out, fmt.Sprintf("%d%s", j-i, buf[i][:1]))
			}
			i = j
		}
		return out
	}
	numDirections := 0
	for _, step := range steps {
		if isDirection(step) {
			numDirections++
		}
	}
	var result, buf []string
	for i := len(steps) - 1; i >= 0; i-- {
		if isDirection(steps[i]) {
			buf = append(buf, steps[i])
			continue
		}
		result = append(result, compress(buf)...)
		buf = nil
		result = append(result, steps[i])
	}
	result = append(result, compress(buf)...)
	return fmt.Sprintf("%d rooms. %s", numDirections, strings.Join(result, ", "))
}

// ParseDestination splits a run or path argument into the destination and
// its avoidance flags, for example "ingrove noroad|nowater".
func ParseDestination(args string) (string, []string) {
	match := runDestinationRegex.FindStringSubmatch(strings.TrimSpace(args))
	if match == nil {
		return "", nil
	}
	destination := match[runDestinationRegex.SubexpIndex("destination")]
	var flags []string
	if raw := match[runDestinationRegex.SubexpIndex("flags")]; raw != "" {
		flags = strings.Split(raw, "|")
	}
	return destination, flags
}

// Path finds a route from the current room and prints it as a speedwalk.
// The destination may carry avoidance flags, for example "ingrove noroad".
func (w *World) Path(args string) string {
	args = strings.TrimSpace(args)
	if args == "" {
		return "Usage: path [label|vnum]"
	}
	destination, flags := ParseDestination(args)
	result := w.PathFind(nil, destination, flags)
	if result == nil {
		return ""
	}
	return w.CreateSpeedWalk(result)
}

// GetRoomFromLabel resolves a vnum or label to a room. On failure it
// returns nil and a user-facing error message.
func (w *World) GetRoomFromLabel(label string) (*Room, string) {
	label = strings.ToLower(strings.TrimSpace(label))
	switch {
	case label == "":
		return nil, "No label or room vnum specified."
	case isDecimal(label):
		if room, ok := w.Rooms[label]; ok {
			return room, ""
		}
		return nil, "No room with vnum " + label
	}
	if vnum, ok := w.Labels[label]; ok {
		if room, found := w.Rooms[vnum]; found {
			return room, ""
		}
		return nil, fmt.Sprintf("%s is set to vnum %s, but there is no room with that vnum", label, vnum)
	}
	similar := make([]string, 0, len(w.Labels))
	for name := range w.Labels {
		similar = append(similar, name)
	}
	sort.SliceStable(similar, func(i, j int) bool {
		si := similarity(similar[i], label)
		sj := similarity(similar[j], label)
		if si != sj {
			return si > sj
		}
		return similar[i] < similar[j]
	})
	if len(similar) > 4 {
		similar = similar[:4]
	}
	return nil, fmt.Sprintf("Unknown label. Did you mean %s?", strings.Join(similar, ", "))
}

// similarity scores two strings by longest common subsequence, scaled so
// identical strings score 1.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	prev := make([]int, len(b)+1)
	row := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		prev, row = row, prev
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				row[j] = prev[j-1] + 1
			} else if prev[j] >= row[j-1] {
				row[j] = prev[j]
			} else {
				row[j] = row[j-1]
			}
		}
	}
	return 2 * float64(row[len(b)]) / float64(len(a)+len(b))
}
