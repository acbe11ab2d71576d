package vfs

import (
	"io"
	"os"
	"testing"

	"github.com/macos-fuse-t/go-smb2/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wbkfs/internal/storage"
)

// testBackupFS creates a BackupFS over a fresh volume.
func testBackupFS(t *testing.T, opts ...func(*Options, *storage.Options)) *BackupFS {
	t.Helper()
	var fsOpts Options
	var volOpts storage.Options
	for _, o := range opts {
		o(&fsOpts, &volOpts)
	}
	vol, err := storage.NewVolume(volOpts)
	require.NoError(t, err)
	t.Cleanup(func() { vol.Close() })
	return NewBackupFS(vol, fsOpts)
}

func withMaxBuffers(n int) func(*Options, *storage.Options) {
	return func(_ *Options, v *storage.Options) { v.MaxBuffers = n }
}

func withPolicy(p storage.WritePolicy) func(*Options, *storage.Options) {
	return func(o *Options, _ *storage.Options) { o.WritePolicy = p }
}

func withExcludes(patterns ...string) func(*Options, *storage.Options) {
	return func(o *Options, _ *storage.Options) { o.BackupExcludes = patterns }
}

// writeFile opens path (creating it) and writes data at offset 0.
func writeFile(t *testing.T, fs *BackupFS, path, data string) {
	t.Helper()
	h, err := fs.Open(path, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	defer fs.Close(h)
	n, err := fs.Write(h, []byte(data), 0, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
}

// readFile returns the full content of path.
func readFile(t *testing.T, fs *BackupFS, path string) string {
	t.Helper()
	h, err := fs.Open(path, os.O_RDONLY, 0)
	require.NoError(t, err)
	defer fs.Close(h)
	buf := make([]byte, storage.BufferCapacity)
	n, err := fs.Read(h, buf, 0, 0)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestBackupFS(t *testing.T) {
	t.Parallel()

	fs := testBackupFS(t)
	require.NotNil(t, fs)
	assert.NotNil(t, fs.Volume())
	assert.NotNil(t, fs.handles)
	assert.NotNil(t, fs.attrCache)
	assert.Zero(t, fs.OpenHandles())
}

func TestWriteBackup(t *testing.T) {
	t.Parallel()

	t.Run("first write backs up empty content", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/notes.txt", "hello")
		assert.Equal(t, "hello", readFile(t, fs, "/notes.txt"))
		assert.Equal(t, "", readFile(t, fs, "/.notes.txt.BKP"))
	})

	t.Run("second write backs up the first", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/notes.txt", "hello")
		writeFile(t, fs, "/notes.txt", "hi")
		assert.Equal(t, "hi", readFile(t, fs, "/notes.txt"))
		assert.Equal(t, "hello", readFile(t, fs, "/.notes.txt.BKP"))
	})

	t.Run("writes through one handle each back up", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		h, err := fs.Open("/a", os.O_RDWR|os.O_CREATE, 0644)
		require.NoError(t, err)
		defer fs.Close(h)
		_, err = fs.Write(h, []byte("one"), 0, 0)
		require.NoError(t, err)
		_, err = fs.Write(h, []byte("two"), 0, 0)
		require.NoError(t, err)

		assert.Equal(t, "two", readFile(t, fs, "/a"))
		assert.Equal(t, "one", readFile(t, fs, "/.a.BKP"))
	})

	t.Run("backup files are not backed up", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/notes.txt", "hello")
		writeFile(t, fs, "/.notes.txt.BKP", "edited")
		assert.Equal(t, "edited", readFile(t, fs, "/.notes.txt.BKP"))

		_, err := fs.GetAttrByPath("/..notes.txt.BKP.BKP")
		assert.ErrorIs(t, err, ENOENT)
	})

	t.Run("shadow lives next to the file", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		_, err := fs.Mkdir("/docs", 0755)
		require.NoError(t, err)
		writeFile(t, fs, "/docs/a.txt", "x")

		_, err = fs.GetAttrByPath("/docs/.a.txt.BKP")
		assert.NoError(t, err)
		_, err = fs.GetAttrByPath("/.a.txt.BKP")
		assert.ErrorIs(t, err, ENOENT)
	})

	t.Run("too large write leaves file and shadow alone", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/f", "keep")
		h, err := fs.Open("/f", os.O_RDWR, 0)
		require.NoError(t, err)
		defer fs.Close(h)

		big := make([]byte, storage.BufferCapacity+1)
		_, err = fs.Write(h, big, 0, 0)
		assert.ErrorIs(t, err, EFBIG)

		_, err = fs.Write(h, []byte("x"), storage.BufferCapacity, 0)
		assert.ErrorIs(t, err, EFBIG)

		assert.Equal(t, "keep", readFile(t, fs, "/f"))
		assert.Equal(t, "", readFile(t, fs, "/.f.BKP"))
	})

	t.Run("full buffer write is accepted", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		h, err := fs.Open("/f", os.O_RDWR|os.O_CREATE, 0644)
		require.NoError(t, err)
		defer fs.Close(h)
		n, err := fs.Write(h, make([]byte, storage.BufferCapacity), 0, 0)
		require.NoError(t, err)
		assert.Equal(t, storage.BufferCapacity, n)
	})

	t.Run("shadow cannot be allocated", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t, withMaxBuffers(1))

		h, err := fs.Open("/f", os.O_RDWR|os.O_CREATE, 0644)
		require.NoError(t, err)
		defer fs.Close(h)

		_, err = fs.Write(h, []byte("data"), 0, 0)
		assert.ErrorIs(t, err, EIO)

		attrs, err := fs.GetAttr(h)
		require.NoError(t, err)
		size, _ := attrs.GetSizeBytes()
		assert.Zero(t, size)
		_, err = fs.GetAttrByPath("/.f.BKP")
		assert.ErrorIs(t, err, ENOENT)
	})

	t.Run("shadow name taken by a directory", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		_, err := fs.Mkdir("/.f.BKP", 0755)
		require.NoError(t, err)
		h, err := fs.Open("/f", os.O_RDWR|os.O_CREATE, 0644)
		require.NoError(t, err)
		defer fs.Close(h)

		_, err = fs.Write(h, []byte("data"), 0, 0)
		assert.ErrorIs(t, err, EIO)
		assert.Equal(t, "", readFile(t, fs, "/f"))
	})

	t.Run("name too long for a shadow", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		_, err := fs.Open("/"+string(make76('n')), os.O_RDWR|os.O_CREATE, 0644)
		assert.ErrorIs(t, err, ENAMETOOLONG)

		h, err := fs.Open("/"+string(make75('n')), os.O_RDWR|os.O_CREATE, 0644)
		require.NoError(t, err)
		fs.Close(h)
	})

	t.Run("excluded paths are written without backup", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t, withExcludes("*.tmp"))

		writeFile(t, fs, "/scratch.tmp", "a")
		writeFile(t, fs, "/scratch.tmp", "b")
		assert.Equal(t, "b", readFile(t, fs, "/scratch.tmp"))
		_, err := fs.GetAttrByPath("/.scratch.tmp.BKP")
		assert.ErrorIs(t, err, ENOENT)
	})
}

func make75(c byte) []byte {
	b := make([]byte, 75)
	for i := range b {
		b[i] = c
	}
	return b
}

func make76(c byte) []byte { return append(make75(c), c) }

func TestWritePolicy(t *testing.T) {
	t.Parallel()

	t.Run("replace sets size to the write", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/f", "hello world")
		writeFile(t, fs, "/f", "bye")
		assert.Equal(t, "bye", readFile(t, fs, "/f"))
	})

	t.Run("extend keeps the tail", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t, withPolicy(storage.WriteExtend))

		writeFile(t, fs, "/f", "hello world")
		writeFile(t, fs, "/f", "HELLO")
		assert.Equal(t, "HELLO world", readFile(t, fs, "/f"))
		assert.Equal(t, "hello world", readFile(t, fs, "/.f.BKP"))
	})

	t.Run("extend past the end zero fills", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t, withPolicy(storage.WriteExtend))

		h, err := fs.Open("/f", os.O_RDWR|os.O_CREATE, 0644)
		require.NoError(t, err)
		defer fs.Close(h)
		_, err = fs.Write(h, []byte("ab"), 0, 0)
		require.NoError(t, err)
		_, err = fs.Write(h, []byte("z"), 4, 0)
		require.NoError(t, err)
		assert.Equal(t, "ab\x00\x00z", readFile(t, fs, "/f"))
	})
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("missing file without create", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		_, err := fs.Open("/nope", os.O_RDONLY, 0)
		assert.ErrorIs(t, err, ENOENT)
	})

	t.Run("exclusive create of existing file", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/f", "x")
		_, err := fs.Open("/f", os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
		assert.ErrorIs(t, err, EEXIST)
	})

	t.Run("directory", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		_, err := fs.Mkdir("/d", 0755)
		require.NoError(t, err)
		_, err = fs.Open("/d", os.O_RDONLY, 0)
		assert.ErrorIs(t, err, EISDIR)
	})

	t.Run("missing parent", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		_, err := fs.Open("/a/b", os.O_RDWR|os.O_CREATE, 0644)
		assert.ErrorIs(t, err, ENOENT)
	})

	t.Run("truncate backs up, then the write backs up the empty file", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/f", "v1")
		h, err := fs.Open("/f", os.O_RDWR|os.O_TRUNC, 0)
		require.NoError(t, err)
		defer fs.Close(h)
		assert.Equal(t, "v1", readFile(t, fs, "/.f.BKP"))

		_, err = fs.Write(h, []byte("v2"), 0, 0)
		require.NoError(t, err)
		assert.Equal(t, "v2", readFile(t, fs, "/f"))
		assert.Equal(t, "", readFile(t, fs, "/.f.BKP"))
	})

	t.Run("closed handle", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		h, err := fs.Open("/f", os.O_RDWR|os.O_CREATE, 0644)
		require.NoError(t, err)
		require.NoError(t, fs.Close(h))

		_, err = fs.Write(h, []byte("x"), 0, 0)
		assert.ErrorIs(t, err, EBADF)
		_, err = fs.Read(h, make([]byte, 1), 0, 0)
		assert.ErrorIs(t, err, EBADF)
	})
}

func TestRead(t *testing.T) {
	t.Parallel()
	fs := testBackupFS(t)

	writeFile(t, fs, "/f", "hello")
	h, err := fs.Open("/f", os.O_RDONLY, 0)
	require.NoError(t, err)
	defer fs.Close(h)

	buf := make([]byte, 3)
	n, err := fs.Read(h, buf, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, "llo", string(buf[:n]))

	n, err = fs.Read(h, buf, 5, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = fs.Read(h, buf, storage.BufferCapacity+10, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	t.Run("shrink backs up", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/f", "hello")
		h, err := fs.Open("/f", os.O_RDWR, 0)
		require.NoError(t, err)
		defer fs.Close(h)

		require.NoError(t, fs.Truncate(h, 2))
		assert.Equal(t, "he", readFile(t, fs, "/f"))
		assert.Equal(t, "hello", readFile(t, fs, "/.f.BKP"))
	})

	t.Run("grow zero fills without backup", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/f", "ab")
		h, err := fs.Open("/f", os.O_RDWR, 0)
		require.NoError(t, err)
		defer fs.Close(h)

		require.NoError(t, fs.Truncate(h, 4))
		assert.Equal(t, "ab\x00\x00", readFile(t, fs, "/f"))
		assert.Equal(t, "", readFile(t, fs, "/.f.BKP"))
	})

	t.Run("write after truncate to empty recreates a removed shadow", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/f.txt", "abc")
		h, err := fs.Open("/f.txt", os.O_RDWR|os.O_TRUNC, 0)
		require.NoError(t, err)
		defer fs.Close(h)
		require.NoError(t, fs.UnlinkByPath("/.f.txt.BKP"))

		n, err := fs.Write(h, []byte("x"), 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		attrs, err := fs.GetAttrByPath("/.f.txt.BKP")
		require.NoError(t, err)
		size, _ := attrs.GetSizeBytes()
		assert.Zero(t, size)
		assert.Equal(t, "x", readFile(t, fs, "/f.txt"))
	})

	t.Run("write after truncate backs up the empty content", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/f", "abc")
		writeFile(t, fs, "/f", "def")
		h, err := fs.Open("/f", os.O_RDWR, 0)
		require.NoError(t, err)
		defer fs.Close(h)

		require.NoError(t, fs.Truncate(h, 0))
		assert.Equal(t, "def", readFile(t, fs, "/.f.BKP"))
		_, err = fs.Write(h, []byte("x"), 0, 0)
		require.NoError(t, err)
		assert.Equal(t, "", readFile(t, fs, "/.f.BKP"))
	})

	t.Run("beyond capacity", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		h, err := fs.Open("/f", os.O_RDWR|os.O_CREATE, 0644)
		require.NoError(t, err)
		defer fs.Close(h)
		assert.ErrorIs(t, fs.Truncate(h, storage.BufferCapacity+1), EFBIG)
	})

	t.Run("SetAttr size", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/f", "hello")
		h, err := fs.OpenAny("/f", os.O_RDWR, 0)
		require.NoError(t, err)
		defer fs.Close(h)

		in := &vfs.Attributes{}
		in.SetSizeBytes(0)
		attrs, err := fs.SetAttr(h, in)
		require.NoError(t, err)
		size, _ := attrs.GetSizeBytes()
		assert.Zero(t, size)
		assert.Equal(t, "hello", readFile(t, fs, "/.f.BKP"))
	})
}

func TestHardLinkBackup(t *testing.T) {
	t.Parallel()
	fs := testBackupFS(t)

	writeFile(t, fs, "/a", "first")
	_, err := fs.LinkByPath("/a", "/b")
	require.NoError(t, err)

	writeFile(t, fs, "/b", "second")
	assert.Equal(t, "second", readFile(t, fs, "/a"))
	assert.Equal(t, "first", readFile(t, fs, "/.b.BKP"))
	assert.Equal(t, "", readFile(t, fs, "/.a.BKP"))

	attrs, err := fs.GetAttrByPath("/a")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), fs.LinkCount(attrs.GetInodeNumber()))
}

func TestMkdirAndReadDir(t *testing.T) {
	t.Parallel()

	t.Run("lists dot entries then children in order", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		_, err := fs.Mkdir("/d", 0755)
		require.NoError(t, err)
		writeFile(t, fs, "/d/b", "1")
		_, err = fs.Mkdir("/d/a", 0755)
		require.NoError(t, err)

		h, err := fs.OpenDir("/d")
		require.NoError(t, err)
		defer fs.Close(h)

		entries, err := fs.ReadDir(h, 0, 0)
		require.NoError(t, err)
		var names []string
		for _, e := range entries {
			names = append(names, e.Name)
		}
		assert.Equal(t, []string{".", "..", "b", ".b.BKP", "a"}, names)

		_, err = fs.ReadDir(h, 0, 0)
		assert.ErrorIs(t, err, io.EOF)

		entries, err = fs.ReadDir(h, 1, 0)
		require.NoError(t, err)
		assert.Len(t, entries, 5)
	})

	t.Run("dotdot carries the parent", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		_, err := fs.Mkdir("/d", 0755)
		require.NoError(t, err)
		h, err := fs.OpenDir("/d")
		require.NoError(t, err)
		defer fs.Close(h)

		entries, err := fs.ReadDir(h, 0, 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, uint64(storage.RootIno), entries[1].GetInodeNumber())
	})

	t.Run("paginates", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		for _, n := range []string{"/a", "/b", "/c"} {
			_, err := fs.Mkdir(n, 0755)
			require.NoError(t, err)
		}
		h, err := fs.OpenDir("/")
		require.NoError(t, err)
		defer fs.Close(h)

		first, err := fs.ReadDir(h, 0, 3)
		require.NoError(t, err)
		assert.Len(t, first, 3)
		rest, err := fs.ReadDir(h, 0, 3)
		require.NoError(t, err)
		assert.Len(t, rest, 2)
		_, err = fs.ReadDir(h, 0, 3)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("mkdir errors", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		_, err := fs.Mkdir("/d", 0755)
		require.NoError(t, err)
		_, err = fs.Mkdir("/d", 0755)
		assert.ErrorIs(t, err, EEXIST)
		_, err = fs.Mkdir("/x/y", 0755)
		assert.ErrorIs(t, err, ENOENT)
		_, err = fs.OpenDir("/nope")
		assert.ErrorIs(t, err, ENOENT)
	})

	t.Run("opendir on a file", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/f", "x")
		_, err := fs.OpenDir("/f")
		assert.ErrorIs(t, err, ENOTDIR)
	})
}

func TestLookup(t *testing.T) {
	t.Parallel()
	fs := testBackupFS(t)

	_, err := fs.Mkdir("/d", 0755)
	require.NoError(t, err)
	writeFile(t, fs, "/d/f", "abc")

	attrs, err := fs.Lookup(0, "d/f")
	require.NoError(t, err)
	size, _ := attrs.GetSizeBytes()
	assert.Equal(t, uint64(3), size)

	attrs, err = fs.Lookup(0, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(storage.RootIno), attrs.GetInodeNumber())

	_, err = fs.Lookup(0, "d/nope")
	assert.ErrorIs(t, err, ENOENT)
}

func TestUnlink(t *testing.T) {
	t.Parallel()

	t.Run("file goes, shadow stays", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/f", "x")
		require.NoError(t, fs.UnlinkByPath("/f"))

		_, err := fs.GetAttrByPath("/f")
		assert.ErrorIs(t, err, ENOENT)
		assert.Equal(t, "", readFile(t, fs, "/.f.BKP"))
	})

	t.Run("through a handle", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/f", "x")
		h, err := fs.OpenAny("/f", os.O_RDONLY, 0)
		require.NoError(t, err)
		defer fs.Close(h)
		require.NoError(t, fs.Unlink(h))
		assert.ErrorIs(t, fs.Unlink(h), ENOENT)
	})

	t.Run("non-empty directory", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		_, err := fs.Mkdir("/d", 0755)
		require.NoError(t, err)
		writeFile(t, fs, "/d/f", "x")
		assert.ErrorIs(t, fs.UnlinkByPath("/d"), ENOTEMPTY)
	})

	t.Run("root", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)
		assert.ErrorIs(t, fs.UnlinkByPath("/"), EPERM)
	})

	t.Run("releases buffers", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/f", "x")
		require.Equal(t, 2, fs.Volume().Stats().BuffersInUse)
		require.NoError(t, fs.UnlinkByPath("/f"))
		require.NoError(t, fs.UnlinkByPath("/.f.BKP"))
		assert.Zero(t, fs.Volume().Stats().BuffersInUse)
	})
}

func TestRename(t *testing.T) {
	t.Parallel()

	t.Run("handle follows the rename", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/old", "v1")
		h, err := fs.Open("/old", os.O_RDWR, 0)
		require.NoError(t, err)
		defer fs.Close(h)

		require.NoError(t, fs.Rename(h, "new", 0))
		_, err = fs.Write(h, []byte("v2"), 0, 0)
		require.NoError(t, err)

		assert.Equal(t, "v2", readFile(t, fs, "/new"))
		assert.Equal(t, "v1", readFile(t, fs, "/.new.BKP"))
	})

	t.Run("across directories", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		_, err := fs.Mkdir("/d", 0755)
		require.NoError(t, err)
		writeFile(t, fs, "/f", "x")
		require.NoError(t, fs.RenamePath("/f", "/d/g"))

		assert.Equal(t, "x", readFile(t, fs, "/d/g"))
		_, err = fs.GetAttrByPath("/f")
		assert.ErrorIs(t, err, ENOENT)
	})

	t.Run("directory into itself", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		_, err := fs.Mkdir("/d", 0755)
		require.NoError(t, err)
		assert.ErrorIs(t, fs.RenamePath("/d", "/d/sub"), EINVAL)
	})

	t.Run("file over directory", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		_, err := fs.Mkdir("/d", 0755)
		require.NoError(t, err)
		writeFile(t, fs, "/f", "x")
		assert.ErrorIs(t, fs.RenamePath("/f", "/d"), EISDIR)
	})
}

func TestRestoreBackup(t *testing.T) {
	t.Parallel()

	t.Run("swaps file and shadow", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		writeFile(t, fs, "/f", "old")
		writeFile(t, fs, "/f", "new")

		n, err := fs.RestoreBackup("/f")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, "old", readFile(t, fs, "/f"))
		assert.Equal(t, "new", readFile(t, fs, "/.f.BKP"))
	})

	t.Run("no shadow", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		h, err := fs.Open("/f", os.O_RDWR|os.O_CREATE, 0644)
		require.NoError(t, err)
		fs.Close(h)
		_, err = fs.RestoreBackup("/f")
		assert.ErrorIs(t, err, ENOENT)
	})

	t.Run("BackupPath", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "d/.f.BKP", BackupPath("/d/f"))
		assert.Equal(t, ".f.BKP", BackupPath("f"))
	})
}

func TestSymlink(t *testing.T) {
	t.Parallel()

	t.Run("SymlinkAt and Readlink", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		_, err := fs.SymlinkAt("target/path", "/ln")
		require.NoError(t, err)
		h, err := fs.OpenAny("/ln", os.O_RDONLY, 0)
		require.NoError(t, err)
		defer fs.Close(h)

		target, err := fs.Readlink(h)
		require.NoError(t, err)
		assert.Equal(t, "target/path", target)
	})

	t.Run("rebinds an empty file", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		h, err := fs.Open("/ln", os.O_RDWR|os.O_CREATE, 0644)
		require.NoError(t, err)
		defer fs.Close(h)

		attrs, err := fs.Symlink(h, "elsewhere", 0777)
		require.NoError(t, err)
		assert.Equal(t, vfs.FileTypeSymlink, attrs.GetFileType())

		target, err := fs.Readlink(h)
		require.NoError(t, err)
		assert.Equal(t, "elsewhere", target)
	})

	t.Run("writing a symlink", func(t *testing.T) {
		t.Parallel()
		fs := testBackupFS(t)

		_, err := fs.SymlinkAt("x", "/ln")
		require.NoError(t, err)
		h, err := fs.OpenAny("/ln", os.O_RDWR, 0)
		require.NoError(t, err)
		defer fs.Close(h)
		_, err = fs.Write(h, []byte("y"), 0, 0)
		assert.ErrorIs(t, err, EINVAL)
	})
}

func TestSetAttrModeAndTimes(t *testing.T) {
	t.Parallel()
	fs := testBackupFS(t)

	writeFile(t, fs, "/f", "x")
	h, err := fs.OpenAny("/f", os.O_RDWR, 0)
	require.NoError(t, err)
	defer fs.Close(h)

	attrs, err := fs.SetAttr(h, NewAttrsWithMode(0600))
	require.NoError(t, err)
	mode, _ := attrs.GetUnixMode()
	assert.Equal(t, uint32(0600), mode)
	assert.Equal(t, vfs.FileTypeRegularFile, attrs.GetFileType())
}

func TestStatFS(t *testing.T) {
	t.Parallel()
	fs := testBackupFS(t, withMaxBuffers(8))

	writeFile(t, fs, "/f", "x")
	attrs, err := fs.StatFS(0)
	require.NoError(t, err)
	require.NotNil(t, attrs)
}

func TestXattr(t *testing.T) {
	t.Parallel()
	fs := testBackupFS(t)

	names, err := fs.Listxattr(0)
	require.NoError(t, err)
	assert.Empty(t, names)
	_, err = fs.Getxattr(0, "user.x", nil)
	assert.ErrorIs(t, err, ENOATTR)
	assert.NoError(t, fs.Setxattr(0, "user.x", []byte("v")))
	assert.NoError(t, fs.Removexattr(0, "user.x"))
}

func TestInodeToAttributes(t *testing.T) {
	t.Parallel()

	inode := &storage.Inode{Ino: 7, Mode: storage.ModeFile | 0640, Size: 12, Nlink: 3}
	attrs := inodeToAttributes(inode)
	assert.Equal(t, uint64(7), attrs.GetInodeNumber())
	size, _ := attrs.GetSizeBytes()
	assert.Equal(t, uint64(12), size)
	mode, _ := attrs.GetUnixMode()
	assert.Equal(t, uint32(0640), mode)
	assert.Equal(t, vfs.FileTypeRegularFile, attrs.GetFileType())

	dir := inodeToAttributes(&storage.Inode{Ino: 1, Mode: storage.ModeDir | 0755})
	assert.Equal(t, vfs.FileTypeDirectory, dir.GetFileType())
}
