// Package lane implements Lane Groups, C4 in spec.md §4.4: read-only
// queries over an ordered set of (feeder, bay) members sharing one
// physical filament path to the extruder.
package lane

import (
	"fmt"
	"strconv"
	"strings"

	"oams/feeder"
	"oams/models"
)

// Member identifies one (feeder, bay) slot belonging to a Lane Group,
// in the fixed preference order spec.md §4.4 queries honor.
type Member struct {
	Feeder string
	Bay    models.Bay
}

// Group is one lane group: an ordered member list plus the feeder
// registry needed to answer availability/loaded queries against live
// hardware state.
type Group struct {
	Name    string
	Members []Member
	feeders map[string]*feeder.Driver
}

// NewGroup constructs a Group. feeders must contain every name
// referenced by members; Group never mutates it.
func NewGroup(name string, members []Member, feeders map[string]*feeder.Driver) *Group {
	return &Group{Name: name, Members: members, feeders: feeders}
}

// GetAvailable returns every member whose bay is ready to load, in
// group order (spec.md §4.4).
func (g *Group) GetAvailable() []Member {
	var out []Member
	for _, m := range g.Members {
		f, ok := g.feeders[m.Feeder]
		if !ok {
			continue
		}
		if f.Snapshot().CurrentBay == models.NoBay && f.IsBayReady(m.Bay) {
			out = append(out, m)
		}
	}
	return out
}

// GetLoaded returns every member currently threaded and loaded.
func (g *Group) GetLoaded() []Member {
	var out []Member
	for _, m := range g.Members {
		f, ok := g.feeders[m.Feeder]
		if !ok {
			continue
		}
		if f.IsBayLoaded(m.Bay) {
			out = append(out, m)
		}
	}
	return out
}

// ParseMemberToken parses one "feeder-bay" config token (spec.md §6,
// "members (ordered list of feeder-bay tokens)"), e.g. "A-1".
func ParseMemberToken(token string) (Member, error) {
	parts := strings.SplitN(token, "-", 2)
	if len(parts) != 2 {
		return Member{}, fmt.Errorf("lane: invalid member token %q, want FEEDER-BAY", token)
	}
	bay, err := strconv.Atoi(parts[1])
	if err != nil || !models.Bay(bay).Valid() {
		return Member{}, fmt.Errorf("lane: invalid bay in token %q", token)
	}
	return Member{Feeder: parts[0], Bay: models.Bay(bay)}, nil
}

// GetNextAvailable returns the first available member in group order,
// the runout monitor's default backup-lane selection (spec.md §4.5).
// The second return value is false if the group has no available member.
func (g *Group) GetNextAvailable() (Member, bool) {
	avail := g.GetAvailable()
	if len(avail) == 0 {
		return Member{}, false
	}
	return avail[0], true
}
