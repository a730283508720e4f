// Package mapper is the single consumer of the event bus. It owns the
// per-turn parser state, the sync and auto-mapping logic, auto-walk, and
// the user command dispatcher. Nothing else mutates the world.
package mapper

import (
	"regexp"
	"strings"

	"github.com/drake/mapperproxy/world"
)

// exitTagsRegex picks the flag prefixes off each direction in an exits
// line, for example "#east#" for a closed door or "=west=" for a road.
var exitTagsRegex = regexp.MustCompile(
	`(?P<door>[\(\[#]?)(?P<road>[=-]?)(?P<climb>[/\\]?)(?P<portal>[{]?)(?P<direction>` +
		strings.Join(world.Directions, "|") + `)`)

var movementForcedRegex = regexp.MustCompile(strings.Join([]string{
	`You feel confused and move along randomly\.\.\.`,
	`Suddenly an explosion of ancient rhymes makes the space collapse around you!`,
	`The pain stops, your vision clears, and you realize that you are elsewhere\.`,
	`A guard leads you out of the house\.`,
	`You leave the ferry\.`,
	`You reached the riverbank\.`,
	`You stop moving towards the (?:left|right) bank and drift downstream\.`,
	`You are borne along by a strong current\.`,
	`You are swept away by the current\.`,
	`You are swept away by the powerful current of water\.`,
	`You board the ferry\.`,
	`You are dead! Sorry\.\.\.`,
	`With a jerk, the basket starts gliding down the rope towards the platform\.`,
	`The current pulls you faster\. Suddenly, you are sucked downwards into darkness!`,
	`You are washed blindly over the rocks, and plummet sickeningly downwards\.\.\.`,
	`Oops! You walk off the bridge and fall into the rushing water below!`,
	`Holding your breath and with closed eyes, you are squeezed below the surface of the water\.`,
	`You tighten your grip as (:a Great Eagle|Gwaihir the Windlord) starts to descend fast\.`,
	`The trees confuse you, making you wander around in circles\.`,
	`Sarion helps you outside\.`,
	`You cannot control your mount on the slanted and unstable surface!` +
		`(?: You begin to slide to the north, and plunge toward the water below!)?`,
	`Stepping on the lizard corpses, you use some depressions in the wall for support, ` +
		`push the muddy ceiling apart and climb out of the cave\.`,
}, "|"))

var movementPreventedRegex = regexp.MustCompile("^(?:" + strings.Join([]string{
	`The \w+ seem[s]? to be closed\.`,
	`It seems to be locked\.`,
	`You cannot ride there\.`,
	`Your boat cannot enter this place\.`,
	`A guard steps in front of you\.`,
	`The clerk bars your way\.`,
	`You cannot go that way\.\.\.`,
	`Alas, you cannot go that way\.\.\.`,
	`You need to swim to go there\.`,
	`You failed swimming there\.`,
	`You failed to climb there and fall down, hurting yourself\.`,
	`Your mount cannot climb the tree!`,
	`No way! You are fighting for your life!`,
	`In your dreams, or what\?`,
	`You are too exhausted\.`,
	`You unsuccessfully try to break through the ice\.`,
	`Your mount refuses to follow your orders!`,
	`You are too exhausted to ride\.`,
	`You can't go into deep water!`,
	`You don't control your mount!`,
	`Your mount is too sensible to attempt such a feat\.`,
	`Oops! You cannot go there riding!`,
	`You'd better be swimming if you want to dive underwater\.`,
	`You need to climb to go there\.`,
	`You cannot climb there\.`,
	`If you still want to try, you must 'climb' there\.`,
	`Nah\.\.\. You feel too relaxed to do that\.`,
	`Maybe you should get on your feet first\?`,
	`Not from your present position!`,
	`.+ (?:prevents|keeps) you from going ` +
		`(?:north|south|east|west|up|down|upstairs|downstairs|past (?:him|her|it))\.`,
	`A (?:pony|dales-pony|horse|warhorse|pack horse|trained horse|` +
		`horse of the Rohirrim|brown donkey|mountain mule|hungry warg|brown wolf)` +
		`(?: \(\w+\))? (?:is too exhausted|doesn't want you riding (?:him|her|it) anymore)\.`,
}, "|") + ")$")

// promptRegex splits the MUME status prompt into its light, terrain,
// weather and movement flag fields.
var promptRegex = regexp.MustCompile(
	`^(?P<light>[@*!\)o]?)(?P<terrain>[#\(\[\+\.%fO~UW:=<]?)` +
		`(?P<weather>[*'"~=-]{0,2})\s*(?P<movementFlags>[RrSsCcW]{0,4})[^>]*>$`)
