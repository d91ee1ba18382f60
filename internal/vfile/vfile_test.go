package vfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	base := t.TempDir()

	f, err := New(base, filepath.Join(base, "my-plugin", "my-plugin.php"), EventChange)
	require.NoError(t, err)
	assert.Equal(t, "my-plugin/my-plugin.php", f.RelativePath)
	assert.Equal(t, "my-plugin", f.Package())
	assert.Equal(t, "my-plugin.php", f.InPackage())
	assert.Equal(t, ".php", f.Ext())

	_, err = New(base, filepath.Join(filepath.Dir(base), "elsewhere.txt"), EventAdd)
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "pkg", "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "pkg", "css", "a.css"), []byte("body{}"), 0o644))

	t.Run("regular file", func(t *testing.T) {
		f, err := Load(base, filepath.Join(base, "pkg", "css", "a.css"), EventAdd)
		require.NoError(t, err)
		assert.Equal(t, []byte("body{}"), f.Contents)
		assert.False(t, f.IsDir())
	})

	t.Run("directory", func(t *testing.T) {
		f, err := Load(base, filepath.Join(base, "pkg", "css"), EventAddDir)
		require.NoError(t, err)
		assert.Nil(t, f.Contents)
		assert.True(t, f.IsDir())
	})

	t.Run("missing file", func(t *testing.T) {
		f, err := Load(base, filepath.Join(base, "pkg", "gone.php"), EventChange)
		require.NoError(t, err)
		assert.Nil(t, f.Stat)
	})

	t.Run("removal is not read", func(t *testing.T) {
		f, err := Load(base, filepath.Join(base, "pkg", "css", "a.css"), EventUnlink)
		require.NoError(t, err)
		assert.Nil(t, f.Contents)
	})
}

func TestEvent(t *testing.T) {
	assert.True(t, EventInitial.IsWrite())
	assert.True(t, EventChange.IsWrite())
	assert.False(t, EventAddDir.IsWrite())
	assert.True(t, EventUnlinkDir.IsRemoval())
	assert.Equal(t, "initial", EventInitial.String())
}

func TestCloneAndRename(t *testing.T) {
	f := &File{Base: "/src", Path: "/src/p/README.md", RelativePath: "p/README.md", Contents: []byte("# T")}
	c := f.Clone()
	c.Contents[0] = 'X'
	c.Rename("p/README.html")

	assert.Equal(t, byte('#'), f.Contents[0])
	assert.Equal(t, "p/README.md", f.RelativePath)
	assert.Equal(t, filepath.Join("/src", "p", "README.html"), c.Path)
}
