package identity

import (
	"fmt"
	"math/rand"
	"regexp"
)

// boxIDPrefix is the fixed prefix of every generated box id.
const boxIDPrefix = "gfbox"

// boxIDWords is the fixed vocabulary for generated box ids. Box ids are
// display labels only: two devices may generate the same candidate string
// before registering, and the server deduplicates on hardware_id, never on
// the label.
var boxIDWords = []string{
	"tiger", "lion", "falcon", "eagle", "wolf", "bear", "lynx", "fox",
	"raven", "owl", "shark", "orca", "dolphin", "cheetah", "panther", "puma",
	"red", "blue", "green", "gold", "silver", "bronze", "violet", "orange",
	"star", "moon", "sun", "comet", "meteor", "nova", "orion", "sirius",
	"peak", "river", "lake", "forest", "storm", "flash", "thunder", "mist",
	"iron", "steel", "titan", "cobalt", "chrome", "magnet", "quartz", "jade",
}

var boxIDPattern = regexp.MustCompile(`^gfbox-[a-z]+-[0-9]{3}$`)

// GenerateBoxID returns a new human-readable box id of the form
// gfbox-<word>-<NNN> with a zero-padded random 3-digit suffix.
func GenerateBoxID() string {
	word := boxIDWords[rand.Intn(len(boxIDWords))]
	return fmt.Sprintf("%s-%s-%03d", boxIDPrefix, word, rand.Intn(1000))
}

// ValidBoxID reports whether s matches the generated box id format.
func ValidBoxID(s string) bool {
	return boxIDPattern.MatchString(s)
}
