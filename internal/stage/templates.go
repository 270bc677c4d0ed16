package stage

import "math/rand"

// Template is a static catalog entry monsters are spawned from. Spawned
// actors carry the template id for client-side rendering but own their
// stats.
type Template struct {
	ID          uint32
	Name        string
	SpawnChance int
	SightRange  int
	Stats       Stats
	Attrs       Attributes
}

// Templates is the immutable process-wide monster catalog.
var Templates = []Template{
	{
		ID:          0,
		Name:        "Goblin",
		SpawnChance: 10,
		SightRange:  3,
		Stats:       NewStats(20, 20, 0),
		Attrs:       Attributes{Might: 2, Finesse: 5, Intellect: 1},
	},
	{
		ID:          1,
		Name:        "Ghost",
		SpawnChance: 3,
		SightRange:  5,
		Stats:       NewStats(12, 10, 10),
		Attrs:       Attributes{Might: 3, Finesse: 15, Intellect: 8},
	},
}

// ChooseTemplate draws one catalog entry with probability proportional to
// its spawn chance.
func ChooseTemplate(rng *rand.Rand) Template {
	total := 0
	for _, t := range Templates {
		total += t.SpawnChance
	}
	choice := rng.Intn(total)
	for _, t := range Templates {
		choice -= t.SpawnChance
		if choice < 0 {
			return t
		}
	}
	return Templates[len(Templates)-1]
}
