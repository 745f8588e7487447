package relay

// userEntry groups the live connections of one user identity
type userEntry struct {
	browsers map[string]bool
	desktop  string
}

// Directory maps a user identity to its browser connection set and its
// at-most-one desktop connection. It is a plain data structure; the hub
// serializes all access.
type Directory struct {
	users map[string]*userEntry
}

// NewDirectory creates an empty user session directory
func NewDirectory() *Directory {
	return &Directory{users: make(map[string]*userEntry)}
}

func (d *Directory) entry(userID string) *userEntry {
	e, ok := d.users[userID]
	if !ok {
		e = &userEntry{browsers: make(map[string]bool)}
		d.users[userID] = e
	}
	return e
}

// Declare records a role declaration. A desktop declaration replaces any
// existing desktop identity for the user, last writer wins; the replaced
// identity is returned so the hub can decide what to tell it.
func (d *Directory) Declare(userID, connID, role string) (replaced string) {
	e := d.entry(userID)
	switch role {
	case RoleBrowser:
		e.browsers[connID] = true
	case RoleDesktop:
		if e.desktop != "" && e.desktop != connID {
			replaced = e.desktop
		}
		e.desktop = connID
	}
	return replaced
}

// ResolveDesktop returns the current desktop connection identity for a user.
// An absent desktop is an expected outcome, reported via ok.
func (d *Directory) ResolveDesktop(userID string) (string, bool) {
	e, ok := d.users[userID]
	if !ok || e.desktop == "" {
		return "", false
	}
	return e.desktop, true
}

// Browsers returns the browser connection identities for a user
func (d *Directory) Browsers(userID string) []string {
	e, ok := d.users[userID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(e.browsers))
	for id := range e.browsers {
		ids = append(ids, id)
	}
	return ids
}

// Remove deletes connID from whichever set or slot holds it under userID.
// The user entry itself is deleted once both are empty. Reports whether the
// user's desktop slot was cleared.
func (d *Directory) Remove(userID, connID string) (desktopCleared bool) {
	e, ok := d.users[userID]
	if !ok {
		return false
	}
	delete(e.browsers, connID)
	if e.desktop == connID {
		e.desktop = ""
		desktopCleared = true
	}
	if len(e.browsers) == 0 && e.desktop == "" {
		delete(d.users, userID)
	}
	return desktopCleared
}

// Contains reports whether connID is recorded under userID in the given role
func (d *Directory) Contains(userID, connID, role string) bool {
	e, ok := d.users[userID]
	if !ok {
		return false
	}
	switch role {
	case RoleBrowser:
		return e.browsers[connID]
	case RoleDesktop:
		return e.desktop == connID
	}
	return false
}

// UserCount returns the number of user entries
func (d *Directory) UserCount() int {
	return len(d.users)
}

// UserInfo is the debug-snapshot view of a user entry
type UserInfo struct {
	UserID   string   `json:"userId"`
	Browsers []string `json:"browsers"`
	Desktop  string   `json:"desktop,omitempty"`
}

// Snapshot lists every user entry
func (d *Directory) Snapshot() []UserInfo {
	infos := make([]UserInfo, 0, len(d.users))
	for userID, e := range d.users {
		info := UserInfo{UserID: userID, Desktop: e.desktop}
		for id := range e.browsers {
			info.Browsers = append(info.Browsers, id)
		}
		infos = append(infos, info)
	}
	return infos
}
