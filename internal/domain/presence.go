package domain

type Availability int

const (
	AvailabilityOffline Availability = iota
	AvailabilityOnline
	AvailabilityChat
	AvailabilityAway
	AvailabilityXA
	AvailabilityDND
)

func (a Availability) String() string {
	switch a {
	case AvailabilityOnline:
		return "online"
	case AvailabilityChat:
		return "chat"
	case AvailabilityAway:
		return "away"
	case AvailabilityXA:
		return "xa"
	case AvailabilityDND:
		return "dnd"
	default:
		return "offline"
	}
}

// Rank orders availabilities when two resources share a priority. Higher
// wins; Offline never does.
func (a Availability) Rank() int {
	switch a {
	case AvailabilityAway, AvailabilityXA:
		return 0
	case AvailabilityOnline:
		return 1
	case AvailabilityChat:
		return 2
	case AvailabilityDND:
		return 3
	default:
		return -1
	}
}

// AvailabilityFromShow maps the type and show values of a presence stanza.
func AvailabilityFromShow(presenceType, show string) Availability {
	if presenceType == "unavailable" {
		return AvailabilityOffline
	}

	switch show {
	case "chat":
		return AvailabilityChat
	case "away":
		return AvailabilityAway
	case "xa":
		return AvailabilityXA
	case "dnd":
		return AvailabilityDND
	default:
		return AvailabilityOnline
	}
}

// Presence is the last presence one resource of a contact sent.
type Presence struct {
	JID          string
	Resource     string
	Availability Availability
	Status       string
	Priority     int
}

func (p Presence) Available() bool {
	return p.Availability != AvailabilityOffline
}

// Preferred reports whether p is a better resource to show than other.
func (p Presence) Preferred(other Presence) bool {
	if p.Priority != other.Priority {
		return p.Priority > other.Priority
	}
	if p.Availability.Rank() != other.Availability.Rank() {
		return p.Availability.Rank() > other.Availability.Rank()
	}
	return p.Status != "" && other.Status == ""
}
