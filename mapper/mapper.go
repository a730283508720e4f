package mapper

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/drake/mapperproxy/event"
	"github.com/drake/mapperproxy/network"
	"github.com/drake/mapperproxy/scripting"
	"github.com/drake/mapperproxy/text"
	"github.com/drake/mapperproxy/timer"
	"github.com/drake/mapperproxy/world"
)

// Clock formats the in-game time. The calendar arithmetic lives outside
// the proxy; the mapper only relays its answers.
type Clock interface {
	Time(args string) string
}

// Emulator handles offline exploration commands when no server connection
// exists.
type Emulator interface {
	Command(input string)
}

// Options wires a Mapper to its collaborators.
type Options struct {
	Logger           hclog.Logger
	Bus              *event.Bus
	World            *world.World
	SendClient       func([]byte)
	SendServer       func([]byte)
	OutputFormat     string
	PromptTerminator []byte
	GagPrompts       bool
	FindFormat       string
	AutoMapping      bool
	AutoUpdateRooms  bool
	// OnAutoUpdateChange persists the autoupdate toggle, typically into
	// the config file.
	OnAutoUpdateChange func(bool)
	Clock              Clock
	Emulator           Emulator
	IsEmulatingOffline bool
	Script             *scripting.Engine
	Timers             *timer.Service
}

// Mapper consumes the event bus. All of its methods run on the single
// Run goroutine; none are safe to call from elsewhere.
type Mapper struct {
	logger           hclog.Logger
	bus              *event.Bus
	world            *world.World
	sendClient       func([]byte)
	sendServer       func([]byte)
	outputFormat     string
	promptTerminator []byte
	gagPrompts       bool
	findFormat       string
	started          time.Time

	clock              Clock
	emulator           Emulator
	isEmulatingOffline bool
	script             *scripting.Engine
	timers             *timer.Service
	onAutoUpdateChange func(bool)

	autoMapping        bool
	autoUpdateRooms    bool
	autoMerging        bool
	autoLinking        bool
	autoWalk           bool
	autoWalkDirections []string
	lastPathFindQuery  string

	prompt           string
	scouting         bool
	movement         *string
	moved            string
	roomName         string
	description      string
	dynamic          *string
	addedNewRoomFrom string

	commands      map[string]func(string)
	eventHandlers map[string][]func(string)
	unknownEvents map[string]bool
}

// New builds a Mapper. Call Run on its own goroutine afterward.
func New(opts Options) *Mapper {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	m := &Mapper{
		logger:             logger,
		bus:                opts.Bus,
		world:              opts.World,
		sendClient:         opts.SendClient,
		sendServer:         opts.SendServer,
		outputFormat:       opts.OutputFormat,
		promptTerminator:   opts.PromptTerminator,
		gagPrompts:         opts.GagPrompts,
		findFormat:         opts.FindFormat,
		started:            time.Now(),
		clock:              opts.Clock,
		emulator:           opts.Emulator,
		isEmulatingOffline: opts.IsEmulatingOffline,
		script:             opts.Script,
		timers:             opts.Timers,
		onAutoUpdateChange: opts.OnAutoUpdateChange,
		autoMapping:        opts.AutoMapping,
		autoUpdateRooms:    opts.AutoUpdateRooms,
		autoMerging:        true,
		autoLinking:        true,
		eventHandlers:      make(map[string][]func(string)),
		unknownEvents:      make(map[string]bool),
	}
	if m.promptTerminator == nil {
		m.promptTerminator = []byte{network.IAC, network.GA}
	}
	if m.sendClient == nil {
		m.sendClient = func([]byte) {}
	}
	if m.sendServer == nil {
		m.sendServer = func([]byte) {}
	}
	if m.script != nil {
		m.script.Bind(m)
	}
	m.registerCommands()
	m.RegisterEventHandler("prompt", m.onPrompt)
	m.RegisterEventHandler("iac_ga", m.onIACGA)
	m.RegisterEventHandler("movement", m.onMovement)
	m.RegisterEventHandler("line", m.onLine)
	m.RegisterEventHandler("name", m.onName)
	m.RegisterEventHandler("description", m.onDescription)
	m.RegisterEventHandler("dynamic", m.onDynamic)
	m.RegisterEventHandler("exits", m.onExits)
	m.RegisterEventHandler("exits", m.cleanExits)
	return m
}

// World exposes the map store for the offline emulator and tests.
func (m *Mapper) World() *world.World {
	return m.world
}

// IsCommand reports whether the first token of a client line belongs to
// the mapper; the proxy uses it to decide what to divert from the server.
func (m *Mapper) IsCommand(word string) bool {
	_, ok := m.commands[strings.ToLower(word)]
	return ok
}

// Run drains the bus until shutdown. It is the only goroutine allowed to
// touch the world.
func (m *Mapper) Run() {
	for item := range m.bus.Items() {
		switch item.Kind {
		case event.KindShutdown:
			m.clientSend("Exiting mapper thread.")
			return
		case event.KindUserData:
			m.handleUserData(string(item.Data))
		case event.KindMudEvent:
			m.handleMudEvent(item.Name, item.Data)
		case event.KindTimer:
			m.handleTimer(item)
		}
	}
}

func (m *Mapper) handleTimer(item event.Item) {
	if m.script != nil {
		m.script.OnTimer(item.Name)
		return
	}
	m.logger.Debug("timer fired with no consumer", "name", item.Name, "id", item.TimerID)
}

func (m *Mapper) handleUserData(data string) {
	input := strings.TrimSpace(data)
	if m.isEmulatingOffline {
		m.commandEmu(input)
		return
	}
	name, args, _ := strings.Cut(input, " ")
	command, ok := m.commands[strings.ToLower(name)]
	if !ok {
		m.serverSend(input)
		return
	}
	command(strings.TrimSpace(args))
}

func (m *Mapper) handleMudEvent(name string, data []byte) {
	decoded := text.StripANSI(text.Decode(data))
	handlers, ok := m.eventHandlers[name]
	if !ok {
		if !m.unknownEvents[name] {
			m.unknownEvents[name] = true
			m.logger.Debug("received data with an unknown event type", "event", name)
		}
		return
	}
	if m.scouting && name != "prompt" && name != "movement" {
		return
	}
	for _, handler := range handlers {
		handler(decoded)
	}
	if m.script != nil {
		m.script.OnEvent(name, decoded)
	}
}

// RegisterEventHandler subscribes a handler to a mud event; events may
// have several handlers and fire in registration order.
func (m *Mapper) RegisterEventHandler(name string, handler func(string)) {
	m.eventHandlers[name] = append(m.eventHandlers[name], handler)
}

func (m *Mapper) clientSend(msg string) {
	m.clientSendPrompt(msg, true)
}

// clientSendPrompt writes a mapper message to the user, re-drawing the
// last prompt after it so the client's input line stays intact.
func (m *Mapper) clientSendPrompt(msg string, showPrompt bool) {
	var out string
	withPrompt := showPrompt && m.prompt != "" && !m.gagPrompts
	switch m.outputFormat {
	case "raw":
		if withPrompt {
			out = text.EscapeXML(msg) + "\r\n<prompt>" + text.EscapeXML(m.prompt) + "</prompt>"
		} else {
			out = "\r\n" + text.EscapeXML(msg) + "\r\n"
		}
	case "tintin":
		if withPrompt {
			out = msg + "\r\nPROMPT:" + m.prompt + ":PROMPT"
		} else {
			out = "\r\n" + msg + "\r\n"
		}
	default:
		if withPrompt {
			out = msg + "\r\n" + m.prompt
		} else {
			out = "\r\n" + msg + "\r\n"
		}
	}
	data := text.EscapeIAC([]byte(out))
	if withPrompt {
		data = append(data, m.promptTerminator...)
	}
	m.sendClient(data)
}

func (m *Mapper) serverSend(msg string) {
	m.sendServer(append(text.EscapeIAC([]byte(msg)), '\r', '\n'))
}

// onPrompt is the turn boundary: sync, report details, take the next
// auto-walk step, then clear the per-turn state.
func (m *Mapper) onPrompt(data string) {
	m.prompt = data
	m.endTurn()
}

// onIACGA finishes a turn when the prompt tag is absent, as happens with
// gagged prompts or XML mode off.
func (m *Mapper) onIACGA(string) {
	m.endTurn()
}

func (m *Mapper) endTurn() {
	if m.world.Synced {
		if m.autoMapping && m.moved != "" {
			m.updateRoomFlags(m.prompt)
		}
	} else if m.roomName != "" {
		m.sync(m.roomName, m.description)
	}
	if m.world.Synced && m.dynamic != nil {
		m.roomDetails()
		if len(m.autoWalkDirections) > 0 && m.moved != "" && m.autoWalk {
			m.walkNextDirection()
		}
	}
	m.addedNewRoomFrom = ""
	m.scouting = false
	m.movement = nil
	m.moved = ""
	m.roomName = ""
	m.description = ""
	m.dynamic = nil
}

func (m *Mapper) onMovement(data string) {
	m.movement = &data
	m.scouting = false
}

func (m *Mapper) onLine(data string) {
	switch {
	case strings.HasPrefix(data, "You quietly scout "):
		m.scouting = true
		return
	case data == "Wet, cold and filled with mud you drop down into a dark "+
		"and moist cave, while you notice the mud above you moving "+
		"to close the hole you left in the cave ceiling.":
		m.syncVnum("17189")
	case data == "The gravel below your feet loosens, shifting slightly.. "+
		"Suddenly, you lose your balance and crash to the cave floor below.":
		m.syncVnum("15324")
	}
	if movementForcedRegex.MatchString(data) || movementPreventedRegex.MatchString(data) {
		if m.world.Synced && movementForcedRegex.MatchString(data) {
			m.world.Synced = false
		}
		m.stopRun()
	}
	if m.world.Synced && m.autoMapping {
		if data == "It's too difficult to ride here." && m.world.Current.Ridable != "notridable" {
			m.clientSend(m.world.RRidable("notridable"))
		} else if data == "You are already riding." && m.world.Current.Ridable != "ridable" {
			m.clientSend(m.world.RRidable("ridable"))
		}
	}
}

func (m *Mapper) onName(data string) {
	if data == "You just see a dense fog around you..." || data == "It is pitch black..." {
		m.roomName = ""
		return
	}
	m.roomName = text.Simplify(data)
}

func (m *Mapper) onDescription(data string) {
	m.description = text.Simplify(data)
}

// onDynamic resolves the movement for this turn. The dynamic description
// always arrives once per room, so it is the safest place to decide
// whether and where the player moved.
func (m *Mapper) onDynamic(data string) {
	m.dynamic = &data
	m.moved = ""
	m.addedNewRoomFrom = ""
	if !m.world.Synced || m.movement == nil {
		return
	}
	movement := *m.movement
	current := m.world.Current
	switch {
	case movement == "":
		m.world.Synced = false
		m.clientSend("Forced movement, no longer synced.")
	case !isDirection(movement):
		m.world.Synced = false
		m.clientSend(fmt.Sprintf("Error: Invalid direction '%s'. Map no longer synced!", movement))
	case !m.autoMapping && current.Exits[movement] == nil:
		m.world.Synced = false
		m.clientSend(fmt.Sprintf("Error: direction '%s' not in database. Map no longer synced!", movement))
	case !m.autoMapping && m.world.Rooms[current.Exits[movement].To] == nil:
		m.world.Synced = false
		m.clientSend(fmt.Sprintf(
			"Error: vnum (%s) in direction (%s) is not in the database. Map no longer synced!",
			current.Exits[movement].To, movement))
	default:
		if m.autoMapping &&
			(current.Exits[movement] == nil || m.world.Rooms[current.Exits[movement].To] == nil) {
			m.mapUnknownNeighbor(movement, data)
		}
		ex := m.world.Current.Exits[movement]
		if ex == nil || m.world.Rooms[ex.To] == nil {
			// Auto-mapping could not place the neighbor, e.g. fog hid the name.
			m.world.Synced = false
			return
		}
		m.world.Current = m.world.Rooms[ex.To]
		m.moved = movement
		m.movement = nil
		if m.autoMapping && m.autoUpdateRooms {
			m.applyRoomUpdates(data)
		}
	}
}

// mapUnknownNeighbor creates or merges the room on the far side of a
// movement the database does not know about yet.
func (m *Mapper) mapUnknownNeighbor(movement, dynamic string) {
	var duplicates []*world.Room
	if m.autoMerging && m.roomName != "" && m.description != "" {
		duplicates = m.world.SearchRooms(world.SearchCriteria{
			ExactMatch: true,
			Name:       m.roomName,
			Desc:       m.description,
		})
	}
	switch {
	case m.roomName == "":
		m.clientSend("Unable to add new room: empty room name.")
	case m.description == "":
		m.clientSend("Unable to add new room: empty room description.")
	case len(duplicates) == 1:
		m.autoMergeRoom(movement, duplicates[0])
	default:
		m.addedNewRoomFrom = m.world.Current.Vnum
		m.addNewRoom(movement, m.roomName, m.description, dynamic)
	}
}

func (m *Mapper) applyRoomUpdates(dynamic string) {
	current := m.world.Current
	if m.roomName != "" && current.Name != m.roomName {
		current.Name = m.roomName
		m.clientSend("Updating room name.")
	}
	if m.description != "" && current.Desc != m.description {
		current.Desc = m.description
		m.clientSend("Updating room description.")
	}
	if dynamic != "" && current.DynamicDesc != dynamic {
		current.DynamicDesc = dynamic
		current.CalculateCost()
		m.clientSend("Updating room dynamic description.")
	}
}

func (m *Mapper) onExits(data string) {
	if m.autoMapping && m.world.Synced && m.moved != "" {
		reverse := world.ReverseDirections[m.moved]
		if m.addedNewRoomFrom != "" && strings.Contains(data, reverse) {
			m.world.Current.Exits[reverse] = world.NewExit(reverse, m.addedNewRoomFrom, m.world.Current.Vnum)
		}
		m.updateExitFlags(data)
	}
	m.addedNewRoomFrom = ""
}

// sync locates the current room by exact name, refined by description
// when several rooms share the name.
func (m *Mapper) sync(name, desc string) bool {
	var nameVnums, descVnums []string
	for vnum, room := range m.world.Rooms {
		if room.Name == name {
			nameVnums = append(nameVnums, vnum)
		}
		if desc != "" && room.Desc == desc {
			descVnums = append(descVnums, vnum)
		}
	}
	switch {
	case len(nameVnums) == 0:
		m.clientSend("Current room not in the database. Unable to sync.")
	case len(descVnums) == 1:
		m.world.Current = m.world.Rooms[descVnums[0]]
		m.world.Synced = true
		m.clientSend(fmt.Sprintf("Synced to room %s with vnum %s", m.world.Current.Name, m.world.Current.Vnum))
	case len(nameVnums) == 1:
		m.world.Current = m.world.Rooms[nameVnums[0]]
		m.world.Synced = true
		m.clientSend(fmt.Sprintf("Name-only synced to room %s with vnum %s", m.world.Current.Name, m.world.Current.Vnum))
	default:
		m.clientSend("More than one room in the database matches current room. Unable to sync.")
	}
	return m.world.Synced
}

func (m *Mapper) syncVnum(vnum string) bool {
	if labelVnum, ok := m.world.Labels[vnum]; ok {
		vnum = labelVnum
	}
	room, ok := m.world.Rooms[vnum]
	if !ok {
		m.clientSend(fmt.Sprintf("No such vnum or label: %s.", vnum))
		return m.world.Synced
	}
	m.world.Current = room
	m.world.Synced = true
	m.clientSend(fmt.Sprintf("Synced to room %s with vnum %s", room.Name, room.Vnum))
	return true
}

// roomDetails reports doors, death traps, one-way exits, undefined exits
// and the room note after each move.
func (m *Mapper) roomDetails() {
	var doors, deathTraps, oneWays, undefineds []string
	current := m.world.Current
	for _, ex := range m.world.SortExits(current.Exits) {
		direction := ex.Direction
		if ex.Door != "" && ex.Door != "exit" {
			doors = append(doors, direction+": "+ex.Door)
		}
		switch {
		case ex.To == "" || ex.To == "undefined":
			undefineds = append(undefineds, direction)
		case ex.To == "death":
			deathTraps = append(deathTraps, direction)
		default:
			if !m.world.IsBidirectional(ex) {
				oneWays = append(oneWays, direction)
			}
		}
	}
	if len(doors) > 0 {
		m.clientSendPrompt("Doors: "+strings.Join(doors, ", "), false)
	}
	if len(deathTraps) > 0 {
		m.clientSendPrompt("Death Traps: "+strings.Join(deathTraps, ", "), false)
	}
	if len(oneWays) > 0 {
		m.clientSendPrompt("One ways: "+strings.Join(oneWays, ", "), false)
	}
	if len(undefineds) > 0 {
		m.clientSendPrompt("Undefineds: "+strings.Join(undefineds, ", "), false)
	}
	if current.Note != "" {
		m.clientSendPrompt("Note: "+current.Note, false)
	}
}

// updateRoomFlags folds the prompt's light, terrain and ridable markers
// into the current room. Deathtrap terrain is never overwritten; the
// prompt inside a deathtrap describes the room you are dying in, not one
// worth recording.
func (m *Mapper) updateRoomFlags(prompt string) {
	match := promptRegex.FindStringSubmatch(prompt)
	if match == nil {
		return
	}
	current := m.world.Current
	var output []string
	if light, ok := world.LightSymbols[match[promptRegex.SubexpIndex("light")]]; ok {
		if light == "lit" && current.Light != light {
			output = append(output, m.world.RLight("lit"))
		}
	}
	if terrain, ok := world.TerrainSymbols[match[promptRegex.SubexpIndex("terrain")]]; ok {
		if current.Terrain != terrain && current.Terrain != "deathtrap" && current.Terrain != "random" {
			output = append(output, m.world.RTerrain(terrain))
		}
	}
	flags := strings.ToLower(match[promptRegex.SubexpIndex("movementFlags")])
	if strings.Contains(flags, "r") && current.Ridable != "ridable" {
		output = append(output, m.world.RRidable("ridable"))
	}
	if len(output) > 0 {
		m.clientSend(strings.Join(output, "\n"))
	}
}

// updateExitFlags reads the exits line, adding missing exits and door,
// road and climb flags, and auto-linking new exits to a room already
// mapped at the neighboring coordinates.
func (m *Mapper) updateExitFlags(exits string) {
	if exits == "" {
		return
	}
	current := m.world.Current
	var output []string
	for _, match := range exitTagsRegex.FindAllStringSubmatch(exits, -1) {
		door := match[exitTagsRegex.SubexpIndex("door")]
		road := match[exitTagsRegex.SubexpIndex("road")]
		climb := match[exitTagsRegex.SubexpIndex("climb")]
		portal := match[exitTagsRegex.SubexpIndex("portal")]
		direction := match[exitTagsRegex.SubexpIndex("direction")]
		if portal != "" {
			continue
		}
		if current.Exits[direction] == nil {
			output = append(output, fmt.Sprintf("Adding exit '%s' to current room.", direction))
			current.Exits[direction] = m.world.GetNewExit(direction, "undefined", "")
			if m.autoLinking {
				if vnum := m.autoLinkTarget(direction); vnum != "" {
					output = append(output, m.world.RLink(fmt.Sprintf("add %s %s", vnum, direction)))
				}
			}
		}
		ex := current.Exits[direction]
		if door != "" && !ex.ExitFlags.Contains("door") {
			output = append(output, m.world.ExitFlags("add door "+direction))
		}
		if road != "" && !ex.ExitFlags.Contains("road") {
			output = append(output, m.world.ExitFlags("add road "+direction))
		}
		if climb != "" && !ex.ExitFlags.Contains("climb") {
			output = append(output, m.world.ExitFlags("add climb "+direction))
		}
	}
	if len(output) > 0 {
		m.clientSend(strings.Join(output, "\n"))
	}
}

// autoLinkTarget returns the vnum of the single room at the coordinates
// one step away whose reciprocal exit is undefined, or "".
func (m *Mapper) autoLinkTarget(direction string) string {
	current := m.world.Current
	target := world.CoordinatesAddDirection([3]int{current.X, current.Y, current.Z}, direction)
	var vnums []string
	for vnum, room := range m.world.Rooms {
		if [3]int{room.X, room.Y, room.Z} == target {
			vnums = append(vnums, vnum)
		}
	}
	if len(vnums) != 1 {
		return ""
	}
	reverse := world.ReverseDirections[direction]
	back := m.world.Rooms[vnums[0]].Exits[reverse]
	if back == nil || back.To != "undefined" {
		return ""
	}
	return vnums[0]
}

func (m *Mapper) autoMergeRoom(movement string, room *world.Room) {
	var output []string
	reverse := world.ReverseDirections[movement]
	back := room.Exits[reverse]
	if m.autoLinking && back != nil && back.To == "undefined" {
		output = append(output, m.world.RLink(fmt.Sprintf("add %s %s", room.Vnum, movement)))
	} else {
		output = append(output, m.world.RLink(fmt.Sprintf("add oneway %s %s", room.Vnum, movement)))
	}
	output = append(output, fmt.Sprintf("Auto Merging '%s' with name '%s'.", room.Vnum, room.Name))
	m.clientSend(strings.Join(output, "\n"))
}

func (m *Mapper) addNewRoom(movement, name, description, dynamic string) {
	vnum := m.world.GetNewVnum()
	room := world.NewRoom(vnum)
	room.Name = name
	room.Desc = description
	room.DynamicDesc = dynamic
	current := m.world.Current
	coords := world.CoordinatesAddDirection([3]int{current.X, current.Y, current.Z}, movement)
	room.X, room.Y, room.Z = coords[0], coords[1], coords[2]
	room.CalculateCost()
	m.world.Rooms[vnum] = room
	if current.Exits[movement] == nil {
		current.Exits[movement] = m.world.GetNewExit(movement, "undefined", "")
	}
	current.Exits[movement].To = vnum
	m.clientSend(fmt.Sprintf("Adding room '%s' with vnum '%s'", room.Name, vnum))
}

// walkNextDirection sends the next auto-walk step, taking any lead, ride
// or door-opening steps along with it.
func (m *Mapper) walkNextDirection() {
	for len(m.autoWalkDirections) > 0 {
		last := len(m.autoWalkDirections) - 1
		command := m.autoWalkDirections[last]
		m.autoWalkDirections = m.autoWalkDirections[:last]
		if len(m.autoWalkDirections) == 0 {
			m.clientSend("Arriving at destination.")
			m.autoWalk = false
		}
		if isDirection(command) {
			m.serverSend(command[:1])
			break
		}
		m.serverSend(command)
	}
}

func (m *Mapper) stopRun() string {
	m.autoWalk = false
	m.autoWalkDirections = nil
	return "Run canceled!"
}

// SendServer, SendClient, RoomVnum, RoomName, StartTimer and CancelTimer
// make the mapper the scripting host.

func (m *Mapper) SendServer(msg string) { m.serverSend(msg) }

func (m *Mapper) SendClient(msg string) { m.clientSend(msg) }

func (m *Mapper) RoomVnum() string { return m.world.Current.Vnum }

func (m *Mapper) RoomName() string { return m.world.Current.Name }

func (m *Mapper) StartTimer(name string, d time.Duration, repeating bool) int {
	if m.timers == nil {
		return 0
	}
	if repeating {
		return m.timers.Every(d, name)
	}
	return m.timers.After(d, name)
}

func (m *Mapper) CancelTimer(id int) bool {
	return m.timers != nil && m.timers.Cancel(id)
}

func isDirection(s string) bool {
	for _, d := range world.Directions {
		if d == s {
			return true
		}
	}
	return false
}
