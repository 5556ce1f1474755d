package widget

import "time"

// DismissedSet holds conversation ids the user closed, each until its
// expiry.
type DismissedSet struct {
	ttl     time.Duration
	expires map[string]time.Time
}

// NewDismissedSet creates an empty set whose entries live for ttl.
func NewDismissedSet(ttl time.Duration) *DismissedSet {
	return &DismissedSet{ttl: ttl, expires: make(map[string]time.Time)}
}

// Add dismisses id as of now. Dismissing again extends the expiry.
func (d *DismissedSet) Add(id string, now time.Time) {
	d.expires[id] = now.Add(d.ttl)
}

// Contains reports whether id is dismissed at now.
func (d *DismissedSet) Contains(id string, now time.Time) bool {
	exp, ok := d.expires[id]
	return ok && now.Before(exp)
}

// Prune drops expired entries.
func (d *DismissedSet) Prune(now time.Time) {
	for id, exp := range d.expires {
		if !now.Before(exp) {
			delete(d.expires, id)
		}
	}
}

// Len returns the number of entries, expired or not.
func (d *DismissedSet) Len() int {
	return len(d.expires)
}
