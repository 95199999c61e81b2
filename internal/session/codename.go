package session

import (
	"fmt"
	"math/rand/v2"
)

var codenameAdjectives = []string{
	"amber", "brisk", "calm", "dapper", "eager", "fuzzy", "gentle", "hazy",
	"icy", "jolly", "keen", "lucky", "mellow", "nimble", "olive", "plucky",
	"quiet", "rapid", "sunny", "tidy", "upbeat", "vivid", "witty", "zesty",
}

var codenameNouns = []string{
	"badger", "comet", "dingo", "ember", "falcon", "gecko", "heron", "ibis",
	"jackal", "koala", "lemur", "marten", "newt", "otter", "panda", "quokka",
	"raven", "stoat", "tapir", "urchin", "vole", "walrus", "yak", "zebra",
}

// newCodename picks an adjective-noun label that taken rejects. Names only
// need to be unique among live sessions, so collisions after restart are
// fine.
func newCodename(taken func(string) bool) string {
	pick := func() string {
		return codenameAdjectives[rand.IntN(len(codenameAdjectives))] + "-" +
			codenameNouns[rand.IntN(len(codenameNouns))]
	}

	for range 32 {
		if name := pick(); !taken(name) {
			return name
		}
	}

	base := pick()
	for n := 2; ; n++ {
		name := fmt.Sprintf("%s-%d", base, n)
		if !taken(name) {
			return name
		}
	}
}
