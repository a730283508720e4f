package mapper

import (
	"regexp"
	"strings"
)

// exitLineRegex matches one line of the in-game "exits" command output
// naming a visibly open exit, such as "  South   - A Dirt Road". A
// direction wrapped in #...# or (...) is closed or hidden and must not
// match.
var exitLineRegex = regexp.MustCompile(
	`(?:^|[^#(])(?P<dir>North|East|South|West|Up|Down)(?:[^#)].*)? +- `)

// cleanExits watches the exits output for doors the game shows openly
// despite a hidden flag on the map, and clears the stale flag.
func (m *Mapper) cleanExits(data string) {
	if !m.autoUpdateRooms || strings.HasPrefix(data, "Exits:") {
		return
	}
	for _, line := range strings.Split(data, "\n") {
		match := exitLineRegex.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if match == nil {
			continue
		}
		direction := strings.ToLower(match[exitLineRegex.SubexpIndex("dir")])
		if !m.world.Synced {
			continue
		}
		ex := m.world.Current.Exits[direction]
		if ex != nil && ex.DoorFlags.Contains("hidden") {
			m.clientSend(m.world.Secret("remove " + direction))
		}
	}
}
