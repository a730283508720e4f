package mapper

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ryanuber/columnize"

	"github.com/drake/mapperproxy/text"
	"github.com/drake/mapperproxy/world"
)

var secretActionRegex = regexp.MustCompile(
	`^\s*(?P<action>.+?)(?:\s+(?P<direction>` + text.RegexFuzzyList(world.Directions) + `))?$`)

// commandHelp is rendered by maphelp. Commands without an entry are
// listed as undocumented.
var commandHelp = map[string]string{
	"automap":      "toggles automatic mapping of unknown rooms",
	"autoupdate":   "toggles updating room text from what the game sends",
	"automerge":    "toggles merging into identical existing rooms",
	"autolink":     "toggles linking new exits by coordinates",
	"run":          "speedwalks to a label or vnum",
	"step":         "walks a single step toward a label or vnum",
	"stop":         "cancels the current run",
	"path":         "prints the speedwalk to a label or vnum",
	"sync":         "resyncs the map, optionally to a given vnum or label",
	"vnum":         "states the vnum of the current room",
	"tvnum":        "tells a given char the vnum of your room",
	"rinfo":        "shows everything known about a room",
	"rlabel":       "adds, removes or lists room labels",
	"getlabel":     "shows the labels on a room",
	"savemap":      "saves the map database",
	"secretaction": "performs an action on a secret door in a given direction",
	"maphelp":      "shows this help",
}

func (m *Mapper) registerCommands() {
	w := m.world
	m.commands = map[string]func(string){
		"automap":    func(args string) { m.toggle("Auto Mapping", &m.autoMapping, args) },
		"automerge":  func(args string) { m.toggle("Auto Merging", &m.autoMerging, args) },
		"autolink":   func(args string) { m.toggle("Auto Linking", &m.autoLinking, args) },
		"autoupdate": m.commandAutoUpdate,
		"rdelete":    func(args string) { m.clientSend(w.RDelete(args)) },
		"rnote":      func(args string) { m.clientSend(w.RNote(args)) },
		"ralign":     func(args string) { m.clientSend(w.RAlign(args)) },
		"rlight":     func(args string) { m.clientSend(w.RLight(args)) },
		"rportable":  func(args string) { m.clientSend(w.RPortable(args)) },
		"rridable":   func(args string) { m.clientSend(w.RRidable(args)) },
		"ravoid":     func(args string) { m.clientSend(w.RAvoid(args)) },
		"rterrain":   func(args string) { m.clientSend(w.RTerrain(args)) },
		"rx":         func(args string) { m.clientSend(w.RX(args)) },
		"ry":         func(args string) { m.clientSend(w.RY(args)) },
		"rz":         func(args string) { m.clientSend(w.RZ(args)) },
		"rmobflags":  func(args string) { m.clientSend(w.RMobFlags(args)) },
		"rloadflags": func(args string) { m.clientSend(w.RLoadFlags(args)) },
		"exitflags":  func(args string) { m.clientSend(w.ExitFlags(args)) },
		"doorflags":  func(args string) { m.clientSend(w.DoorFlags(args)) },
		"secret":     func(args string) { m.clientSend(w.Secret(args)) },
		"rlink":      func(args string) { m.clientSend(w.RLink(args)) },
		"rinfo":      func(args string) { m.clientSend(w.RInfo(args)) },
		"rlabel":     func(args string) { m.clientSend(w.RLabel(args)) },
		"getlabel":   func(args string) { m.clientSend(w.GetLabel(args)) },
		"fdoor":      func(args string) { m.clientSend(w.FDoor(m.findFormat, args)) },
		"fdynamic":   func(args string) { m.clientSend(w.FDynamic(m.findFormat, args)) },
		"flabel":     func(args string) { m.clientSend(w.FLabel(m.findFormat, args)) },
		"fname":      func(args string) { m.clientSend(w.FName(m.findFormat, args)) },
		"fnote":      func(args string) { m.clientSend(w.FNote(m.findFormat, args)) },
		"path":       func(args string) { m.commandPath(args) },
		"savemap":    m.commandSaveMap,
		"run":        m.commandRun,
		"step":       m.commandStep,
		"stop":       func(string) { m.clientSend(m.stopRun()) },
		"sync":       m.commandSync,
		"vnum":       func(string) { m.clientSend(fmt.Sprintf("Vnum: %s.", w.Current.Vnum)) },
		"tvnum":      m.commandTVnum,
		"gettimer": func(string) {
			m.clientSend(fmt.Sprintf("TIMER:%d:TIMER", int(time.Since(m.started).Seconds())))
		},
		"gettimerms": func(string) {
			m.clientSend(fmt.Sprintf("TIMERMS:%d:TIMERMS", time.Since(m.started).Milliseconds()))
		},
		"secretaction": m.commandSecretAction,
		"clock":        m.commandClock,
		"emu":          m.commandEmu,
		"lua":          m.commandLua,
		"maphelp":      m.commandMapHelp,
	}
}

func (m *Mapper) toggle(label string, target *bool, args string) {
	value := strings.ToLower(strings.TrimSpace(args))
	if value == "" {
		*target = !*target
	} else {
		*target = value == "on"
	}
	state := "off"
	if *target {
		state = "on"
	}
	m.clientSend(fmt.Sprintf("%s %s.", label, state))
}

func (m *Mapper) commandAutoUpdate(args string) {
	value := strings.ToLower(strings.TrimSpace(args))
	if value == "" {
		m.autoUpdateRooms = !m.autoUpdateRooms
	} else {
		m.autoUpdateRooms = value == "on"
	}
	if m.onAutoUpdateChange != nil {
		m.onAutoUpdateChange(m.autoUpdateRooms)
	}
	state := "off"
	if m.autoUpdateRooms {
		state = "on"
	}
	m.clientSend(fmt.Sprintf("Auto update rooms %s.", state))
}

func (m *Mapper) commandPath(args string) {
	if result := m.world.Path(args); result != "" {
		m.clientSend(result)
	}
}

func (m *Mapper) commandSaveMap(string) {
	if err := m.world.SaveRooms(); err != nil {
		m.logger.Error("saving map", "error", err)
		m.clientSend(err.Error())
	}
}

func (m *Mapper) commandRun(args string) {
	argString := strings.TrimSpace(args)
	if argString == "" {
		m.clientSend("Usage: run [label|vnum]")
		return
	}
	m.autoWalkDirections = nil
	lower := strings.ToLower(argString)
	var destination string
	var flags []string
	switch {
	case lower == "c":
		if m.lastPathFindQuery == "" {
			m.clientSend("Error: no previous path to continue.")
			return
		}
		destination, flags = world.ParseDestination(m.lastPathFindQuery)
		m.clientSend(destination)
	case lower == "t" || strings.HasPrefix(lower, "t "):
		argString = strings.TrimSpace(argString[1:])
		if argString == "" {
			if m.lastPathFindQuery != "" {
				m.clientSend(fmt.Sprintf(
					"Run target set to '%s'. Use 'run t [rlabel|vnum]' to change it.",
					m.lastPathFindQuery))
			} else {
				m.clientSend("Please specify a VNum or room label to target.")
			}
			return
		}
		m.lastPathFindQuery = argString
		m.clientSend(fmt.Sprintf("Setting run target to '%s'", argString))
		return
	default:
		destination, flags = world.ParseDestination(argString)
	}
	result := m.world.PathFind(nil, destination, flags)
	if result == nil {
		return
	}
	m.autoWalkDirections = result
	m.autoWalk = true
	if len(result) > 0 {
		if lower != "c" {
			m.lastPathFindQuery = argString
		}
		m.walkNextDirection()
	}
}

func (m *Mapper) commandStep(args string) {
	argString := strings.TrimSpace(args)
	if argString == "" {
		m.clientSend("Usage: step [label|vnum]")
		return
	}
	destination, flags := world.ParseDestination(argString)
	result := m.world.PathFind(nil, destination, flags)
	if result == nil {
		m.clientSend("Specify a path to follow.")
		return
	}
	m.autoWalkDirections = result
	m.walkNextDirection()
}

func (m *Mapper) commandSync(args string) {
	vnum := strings.TrimSpace(args)
	if vnum == "" {
		m.clientSend("Map no longer synced. Auto sync on.")
		m.world.Synced = false
		m.serverSend("look")
		return
	}
	m.syncVnum(vnum)
}

func (m *Mapper) commandTVnum(args string) {
	target := strings.TrimSpace(args)
	if target == "" {
		m.clientSend("Tell VNum to who?")
		return
	}
	m.serverSend(fmt.Sprintf("tell %s %s", target, m.world.Current.Vnum))
}

// commandSecretAction sends an action against the door in a direction,
// for example "secretaction open n" becomes "open gate n".
func (m *Mapper) commandSecretAction(args string) {
	match := secretActionRegex.FindStringSubmatch(strings.ToLower(strings.TrimSpace(args)))
	if match == nil {
		m.clientSend(fmt.Sprintf("Syntax: 'secretaction [action] [%s]'.", strings.Join(world.Directions, " | ")))
		return
	}
	action := match[secretActionRegex.SubexpIndex("action")]
	direction := match[secretActionRegex.SubexpIndex("direction")]
	if direction != "" {
		for _, d := range world.Directions {
			if strings.HasPrefix(d, direction) {
				direction = d
				break
			}
		}
	}
	door := "exit"
	if ex := m.world.Current.Exits[direction]; direction != "" && ex != nil && ex.Door != "" {
		door = ex.Door
	}
	parts := []string{action, door}
	if direction != "" {
		parts = append(parts, direction[:1])
	}
	m.serverSend(strings.Join(parts, " "))
}

func (m *Mapper) commandClock(args string) {
	if m.clock == nil {
		m.clientSend("Clock data unavailable.")
		return
	}
	args = strings.ToLower(strings.TrimSpace(args))
	if args == "" {
		m.clientSend(m.clock.Time(""))
		return
	}
	m.serverSend(m.clock.Time(args))
}

func (m *Mapper) commandEmu(args string) {
	if m.emulator == nil {
		m.clientSend("Offline emulation is not available.")
		return
	}
	m.emulator.Command(strings.TrimSpace(args))
}

func (m *Mapper) commandLua(args string) {
	if m.script == nil {
		m.clientSend("Scripting is not enabled.")
		return
	}
	action, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	switch strings.ToLower(action) {
	case "load":
		path := strings.TrimSpace(rest)
		if path == "" {
			m.clientSend("Syntax: 'lua load [path]'.")
			return
		}
		if err := m.script.Load(path); err != nil {
			m.clientSend(fmt.Sprintf("Error loading script: %s", err))
			return
		}
		m.clientSend(fmt.Sprintf("Loaded script '%s'.", path))
	case "reset":
		m.script.Reset()
		m.clientSend("Scripting state reset.")
	default:
		m.clientSend("Syntax: 'lua [load | reset]'.")
	}
}

func (m *Mapper) commandMapHelp(string) {
	names := make([]string, 0, len(m.commands))
	for name := range m.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	var rows, undocumented []string
	for _, name := range names {
		if help, ok := commandHelp[name]; ok {
			rows = append(rows, name+" | "+help)
		} else {
			undocumented = append(undocumented, name)
		}
	}
	result := []string{
		"Mapper Commands",
		"The following commands are used for viewing and editing map data:",
		columnize.SimpleFormat(rows),
	}
	if len(undocumented) > 0 {
		result = append(result, "Undocumented Commands:", "    "+strings.Join(undocumented, ", "))
	}
	m.clientSend(strings.Join(result, "\n"))
}
