package visitors

import "hash/fnv"

var aliasColors = []string{
	"Amber", "Azure", "Coral", "Crimson", "Cyan", "Golden", "Indigo", "Ivory", "Jade", "Lavender",
	"Lime", "Magenta", "Maroon", "Mint", "Navy", "Ochre", "Olive", "Peach", "Plum", "Rose",
	"Ruby", "Saffron", "Sage", "Scarlet", "Sepia", "Silver", "Slate", "Teal", "Umber", "Violet",
}

var aliasAnimals = []string{
	"Badger", "Bison", "Cougar", "Crane", "Dolphin", "Falcon", "Ferret", "Gecko", "Heron", "Ibis",
	"Jaguar", "Koala", "Lemur", "Lynx", "Marten", "Moose", "Narwhal", "Ocelot", "Orca", "Osprey",
	"Otter", "Panda", "Puffin", "Quokka", "Raven", "Seal", "Stoat", "Tapir", "Walrus", "Wombat",
}

// VisitorAlias returns a stable display name for an anonymous visitor key,
// so operators can tell visitors apart without exposing the key.
func VisitorAlias(visitorKey string) string {
	h := fnv.New32a()
	h.Write([]byte(visitorKey))
	index := int(h.Sum32())

	color := aliasColors[index%len(aliasColors)]
	animal := aliasAnimals[(index/len(aliasColors))%len(aliasAnimals)]

	return color + " " + animal
}
