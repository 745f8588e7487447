package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectoryDeclareAndResolve(t *testing.T) {
	d := NewDirectory()

	assert.Empty(t, d.Declare("u1", "b1", RoleBrowser))
	assert.Empty(t, d.Declare("u1", "b2", RoleBrowser))
	assert.Empty(t, d.Declare("u1", "d1", RoleDesktop))

	desktop, ok := d.ResolveDesktop("u1")
	assert.True(t, ok)
	assert.Equal(t, "d1", desktop)
	assert.ElementsMatch(t, []string{"b1", "b2"}, d.Browsers("u1"))
	assert.Equal(t, 1, d.UserCount())
}

func TestDirectoryResolveDesktopAbsent(t *testing.T) {
	d := NewDirectory()

	_, ok := d.ResolveDesktop("nobody")
	assert.False(t, ok)

	d.Declare("u1", "b1", RoleBrowser)
	_, ok = d.ResolveDesktop("u1")
	assert.False(t, ok)
}

func TestDirectoryDesktopLastWriterWins(t *testing.T) {
	d := NewDirectory()

	assert.Empty(t, d.Declare("u1", "d1", RoleDesktop))
	replaced := d.Declare("u1", "d2", RoleDesktop)
	assert.Equal(t, "d1", replaced)

	desktop, ok := d.ResolveDesktop("u1")
	assert.True(t, ok)
	assert.Equal(t, "d2", desktop)

	// Re-declaring the same desktop is not a replacement.
	assert.Empty(t, d.Declare("u1", "d2", RoleDesktop))
}

func TestDirectoryRemove(t *testing.T) {
	d := NewDirectory()
	d.Declare("u1", "b1", RoleBrowser)
	d.Declare("u1", "d1", RoleDesktop)

	assert.False(t, d.Remove("u1", "b1"))
	assert.Equal(t, 1, d.UserCount())

	assert.True(t, d.Remove("u1", "d1"))
	// Both slots empty: the user entry itself is gone.
	assert.Equal(t, 0, d.UserCount())

	assert.False(t, d.Remove("u1", "d1"))
}

func TestDirectoryContains(t *testing.T) {
	d := NewDirectory()
	d.Declare("u1", "b1", RoleBrowser)
	d.Declare("u1", "d1", RoleDesktop)

	assert.True(t, d.Contains("u1", "b1", RoleBrowser))
	assert.True(t, d.Contains("u1", "d1", RoleDesktop))
	assert.False(t, d.Contains("u1", "b1", RoleDesktop))
	assert.False(t, d.Contains("u2", "b1", RoleBrowser))
}
