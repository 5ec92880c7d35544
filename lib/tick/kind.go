// Package tick implements the periodic tick subsystem: a dispatcher holding
// the game module's processor registry and broadcasting fixed-layout tick
// announcements, and a scheduler running one compensated loop per kind.
package tick

// Kind enumerates the categories of periodic work. The numeric values are
// part of the wire protocol (encoded into every tick packet) and must not
// be reordered.
type Kind int32

const (
	Movement Kind = iota
	Messaging
	ObjectSpawning
	ObjectCleanup
	Combat
	WorldSimulation
	AutoSave
)

// String returns the kind's name for logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case Movement:
		return "movement"
	case Messaging:
		return "messaging"
	case ObjectSpawning:
		return "object_spawning"
	case ObjectCleanup:
		return "object_cleanup"
	case Combat:
		return "combat"
	case WorldSimulation:
		return "world_simulation"
	case AutoSave:
		return "auto_save"
	default:
		return "unknown"
	}
}
