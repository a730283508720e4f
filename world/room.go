// Package world owns the persistent map: rooms, exits and labels, their
// JSON persistence, the mutating commands, and the A* pathfinder. Only the
// mapper goroutine mutates a World.
package world

import (
	"fmt"
	"math"
	"regexp"

	"github.com/hashicorp/go-set/v3"
)

// Directions is the canonical ordering used for exit listings.
var Directions = []string{"north", "east", "south", "west", "up", "down"}

// ReverseDirections maps each direction to its opposite.
var ReverseDirections = map[string]string{
	"north": "south",
	"south": "north",
	"east":  "west",
	"west":  "east",
	"up":    "down",
	"down":  "up",
}

// DirectionCoordinates gives the X-Y-Z delta of one step in a direction.
var DirectionCoordinates = map[string][3]int{
	"north": {0, 1, 0},
	"south": {0, -1, 0},
	"west":  {-1, 0, 0},
	"east":  {1, 0, 0},
	"up":    {0, 0, 1},
	"down":  {0, 0, -1},
}

// compassDirections indexed clockwise from north, for DirectionTo.
var compassDirections = []string{
	"north", "northeast", "east", "southeast", "south", "southwest", "west", "northwest",
}

// LeadBeforeEnteringVnums are rooms that mounts refuse to enter. The
// pathfinder inserts lead and ride steps around them.
var LeadBeforeEnteringVnums = set.From([]string{"196", "3473", "3474", "12138", "12637"})

// TerrainCosts is the base movement cost per terrain.
var TerrainCosts = map[string]float64{
	"cavern":     0.75,
	"city":       0.75,
	"indoors":    0.75,
	"tunnel":     0.75,
	"road":       0.85,
	"field":      1.5,
	"brush":      1.8,
	"forest":     2.15,
	"hills":      2.45,
	"shallow":    2.45,
	"mountains":  2.8,
	"undefined":  30.0,
	"water":      50.0,
	"rapids":     60.0,
	"underwater": 100.0,
	"deathtrap":  1000.0,
}

// LightSymbols and TerrainSymbols translate the one-character prompt
// annotations MUME sends.
var LightSymbols = map[string]string{
	"@": "lit",
	"*": "lit",
	"!": "undefined",
	")": "lit",
	"o": "dark",
}

var TerrainSymbols = map[string]string{
	":": "brush",
	"O": "cavern",
	"#": "city",
	"!": "deathtrap",
	".": "field",
	"f": "forest",
	"(": "hills",
	"[": "indoors",
	"<": "mountains",
	"W": "rapids",
	"+": "road",
	"%": "shallow",
	"=": "tunnel",
	"?": "undefined",
	"U": "underwater",
	"~": "water",
}

var ValidMobFlags = []string{
	"rent", "shop", "weapon_shop", "armour_shop", "food_shop", "pet_shop",
	"guild", "scout_guild", "mage_guild", "cleric_guild", "warrior_guild",
	"ranger_guild", "aggressive_mob", "quest_mob", "passive_mob",
	"elite_mob", "super_mob",
}

var ValidLoadFlags = []string{
	"treasure", "armour", "weapon", "water", "food", "herb", "key", "mule",
	"horse", "pack_horse", "trained_horse", "rohirrim", "warg", "boat",
	"attention", "tower", "clock", "mail", "stable", "white_word",
	"dark_word", "equipment", "coach", "ferry",
}

var ValidExitFlags = []string{
	"exit", "door", "road", "climb", "random", "special", "avoid",
	"no_match", "flow", "no_flee", "damage", "fall", "guarded",
}

var ValidDoorFlags = []string{
	"hidden", "need_key", "no_block", "no_break", "no_pick", "delayed",
	"callable", "knockable", "magic", "action", "no_bash",
}

// avoidDynamicDescRegex marks rooms whose dynamic description means the
// room actively hurts to walk through.
var avoidDynamicDescRegex = regexp.MustCompile(
	`Some roots lie here waiting to ensnare weary travellers\.|` +
		`The remains of a clump of roots lie here in a heap of rotting compost\.|` +
		`A clump of roots is here, fighting|` +
		`Some withered twisted roots writhe towards you\.|` +
		`Black roots shift uneasily all around you\.|` +
		`black tangle of roots|` +
		`Massive roots shift uneasily all around you\.|` +
		`rattlesnake`)

// Room is one map node. Cost is cached and must be recalculated whenever
// terrain, avoid, ridable or the dynamic description change.
type Room struct {
	Vnum        string
	Name        string
	Desc        string
	DynamicDesc string
	Note        string
	Terrain     string
	Cost        float64
	Light       string
	Align       string
	Portable    string
	Ridable     string
	Avoid       bool
	MobFlags    *set.Set[string]
	LoadFlags   *set.Set[string]
	X, Y, Z     int
	Exits       map[string]*Exit
}

// Exit is a directed edge. To is a vnum or one of the sentinels
// "undefined" and "death". Vnum names the owning room.
type Exit struct {
	Direction string
	Vnum      string
	To        string
	ExitFlags *set.Set[string]
	Door      string
	DoorFlags *set.Set[string]
}

// NewRoom creates a blank room with undefined attributes.
func NewRoom(vnum string) *Room {
	return &Room{
		Vnum:      vnum,
		Terrain:   "undefined",
		Cost:      TerrainCosts["undefined"],
		Light:     "undefined",
		Align:     "undefined",
		Portable:  "undefined",
		Ridable:   "undefined",
		MobFlags:  set.New[string](0),
		LoadFlags: set.New[string](0),
		Exits:     make(map[string]*Exit),
	}
}

// NewExit creates an exit with the default "exit" flag.
func NewExit(direction, to, parent string) *Exit {
	return &Exit{
		Direction: direction,
		Vnum:      parent,
		To:        to,
		ExitFlags: set.From([]string{"exit"}),
		DoorFlags: set.New[string](0),
	}
}

// CalculateCost refreshes the cached movement cost.
func (r *Room) CalculateCost() {
	cost, ok := TerrainCosts[r.Terrain]
	if !ok {
		cost = TerrainCosts["undefined"]
	}
	if r.Avoid || avoidDynamicDescRegex.MatchString(r.DynamicDesc) {
		cost += 1000.0
	}
	if r.Ridable == "notridable" {
		cost += 5.0
	}
	r.Cost = cost
}

// ManhattanDistance is the coordinate distance to another room.
func (r *Room) ManhattanDistance(destination *Room) int {
	return abs(destination.X-r.X) + abs(destination.Y-r.Y) + abs(destination.Z-r.Z)
}

// ClockPositionTo describes where the destination lies on a clock face.
func (r *Room) ClockPositionTo(destination *Room) string {
	dx := float64(destination.X - r.X)
	dy := float64(destination.Y - r.Y)
	switch {
	case r.Vnum == destination.Vnum:
		return "here"
	case dx == 0 && dy == 0:
		return "same X-Y"
	}
	degrees := math.Atan2(dy, dx) * 180 / math.Pi
	position := int(math.Round(math.Mod(90-degrees+360, 360) / 30))
	if position == 0 {
		position = 12
	}
	return fmt.Sprintf("%d o'clock", position)
}

// DirectionTo names the compass direction toward the destination.
func (r *Room) DirectionTo(destination *Room) string {
	dx := float64(destination.X - r.X)
	dy := float64(destination.Y - r.Y)
	switch {
	case r.Vnum == destination.Vnum:
		return "here"
	case dx == 0 && dy == 0:
		return "same X-Y"
	}
	degrees := math.Atan2(dy, dx) * 180 / math.Pi
	index := int(math.Round(math.Mod(90-degrees+360, 360)/45)) % 8
	return compassDirections[index]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
