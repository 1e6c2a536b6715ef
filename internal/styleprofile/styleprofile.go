// Package styleprofile defines genre profiles that modulate prompt
// construction for the story generator and the panel converter. Each profile
// provides a SystemPromptAddendum appended to the stage's system prompt.
package styleprofile

import "fmt"

// Profile describes a genre and tone strategy for script generation.
type Profile struct {
	Name                 string
	Description          string
	SystemPromptAddendum string
}

// builtins is the registry of built-in profiles keyed by name.
var builtins = map[string]Profile{
	"general": {
		Name:        "general",
		Description: "Default profile; no genre constraints.",
		SystemPromptAddendum: "Write in a contemporary, accessible register. Keep the cast small " +
			"and give every named character at least one clearly stated want.",
	},
	"romance": {
		Name:        "romance",
		Description: "Romance pacing; emotional beats carry the story.",
		SystemPromptAddendum: "This is a romance. Let emotional beats drive panel transitions. " +
			"Prefer close-up framing on reaction moments and make unspoken feelings visible " +
			"through body language described in the visual, not through narration.",
	},
	"thriller": {
		Name:        "thriller",
		Description: "Thriller pacing; withhold, then reveal.",
		SystemPromptAddendum: "This is a thriller. Control information release: every panel should " +
			"either raise a question or partially answer one. Keep dialogue clipped and let wide " +
			"establishing shots carry dread.",
	},
	"comedy": {
		Name:        "comedy",
		Description: "Comedy timing; setup and punchline across panel breaks.",
		SystemPromptAddendum: "This is a comedy. Structure beats as setup and punchline, with the " +
			"panel break as the timing device. Visual gags belong in the visual description; " +
			"never explain a joke in dialogue.",
	},
}

// Load returns the named built-in profile or an error if the name is unknown.
func Load(name string) (Profile, error) {
	p, ok := builtins[name]
	if !ok {
		return Profile{}, fmt.Errorf("styleprofile: unknown profile %q (valid: %v)", name, Names())
	}
	return p, nil
}

// Names returns the sorted list of built-in profile names.
func Names() []string {
	return []string{"comedy", "general", "romance", "thriller"}
}
