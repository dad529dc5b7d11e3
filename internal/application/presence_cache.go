package application

import (
	"sync"

	"github.com/bnema/kaidan/internal/domain"
)

// PresenceCache keeps the last available presence of every resource, keyed
// by bare JID. It only knows what was seen during the current session.
type PresenceCache struct {
	mu        sync.RWMutex
	presences map[string]map[string]domain.Presence
}

func NewPresenceCache() *PresenceCache {
	return &PresenceCache{presences: make(map[string]map[string]domain.Presence)}
}

// Update applies one presence and reports whether the cache changed. An
// unavailable presence drops the resource, and the JID with its last one.
func (c *PresenceCache) Update(p domain.Presence) bool {
	jid := domain.BareJID(p.JID)
	if jid == "" {
		return false
	}
	p.JID = jid

	c.mu.Lock()
	defer c.mu.Unlock()

	resources := c.presences[jid]
	if !p.Available() {
		if _, ok := resources[p.Resource]; !ok {
			return false
		}
		delete(resources, p.Resource)
		if len(resources) == 0 {
			delete(c.presences, jid)
		}
		return true
	}

	if resources == nil {
		resources = make(map[string]domain.Presence)
		c.presences[jid] = resources
	}
	resources[p.Resource] = p
	return true
}

// Clear forgets everything, as after a disconnect.
func (c *PresenceCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.presences)
}

// Pick returns the resource to show for jid: highest priority, then
// availability, then one with a status text. Ties go to the lowest resource
// name so that the answer is stable.
func (c *PresenceCache) Pick(jid string) (domain.Presence, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best domain.Presence
	found := false
	for _, p := range c.presences[domain.BareJID(jid)] {
		if !found || p.Preferred(best) || (!best.Preferred(p) && p.Resource < best.Resource) {
			best = p
			found = true
		}
	}
	return best, found
}

// Availability is AvailabilityOffline for contacts without any resource.
func (c *PresenceCache) Availability(jid string) domain.Availability {
	p, ok := c.Pick(jid)
	if !ok {
		return domain.AvailabilityOffline
	}
	return p.Availability
}

// Resources counts the known resources of jid.
func (c *PresenceCache) Resources(jid string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.presences[domain.BareJID(jid)])
}

// Online counts the JIDs with at least one available resource.
func (c *PresenceCache) Online() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.presences)
}
