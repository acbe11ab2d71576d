// Copyright 2024 WbkFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build !smb

package daemon

import (
	"io"
	"net"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/util"
	"github.com/macos-fuse-t/go-smb2/vfs"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	nfsfile "github.com/willscott/go-nfs/file"

	"wbkfs/internal/storage"
	wbkvfs "wbkfs/internal/vfs"
)

func testAdapter(t *testing.T, opts ...wbkvfs.Options) *BillyAdapter {
	t.Helper()
	var fsOpts wbkvfs.Options
	if len(opts) > 0 {
		fsOpts = opts[0]
	}
	vol, err := storage.NewVolume(storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { vol.Close() })
	return NewBillyAdapter(wbkvfs.NewBackupFS(vol, fsOpts))
}

// TestBillyFileInfoMode tests that BillyFileInfo.Mode() returns actual stored permissions
func TestBillyFileInfoMode(t *testing.T) {
	tests := []struct {
		name         string
		fileType     vfs.FileType
		unixMode     uint32
		expectedMode os.FileMode
	}{
		{"regular file with default mode", vfs.FileTypeRegularFile, 0644, 0644},
		{"executable file", vfs.FileTypeRegularFile, 0755, 0755},
		{"read-only file", vfs.FileTypeRegularFile, 0444, 0444},
		{"directory with default mode", vfs.FileTypeDirectory, 0755, os.ModeDir | 0755},
		{"directory with restricted mode", vfs.FileTypeDirectory, 0700, os.ModeDir | 0700},
		{"symlink", vfs.FileTypeSymlink, 0777, os.ModeSymlink | 0777},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := &vfs.Attributes{}
			attrs.SetFileType(tt.fileType)
			attrs.SetUnixMode(tt.unixMode)

			fi := &BillyFileInfo{name: "test", attrs: attrs}
			assert.Equal(t, tt.expectedMode, fi.Mode())
		})
	}
}

func TestBillyFileInfoModeFromDirInfo(t *testing.T) {
	di := vfs.DirInfo{Name: "test"}
	di.SetFileType(vfs.FileTypeDirectory)
	di.SetUnixMode(0700)

	fi := &BillyFileInfo{name: "test", dirInfo: &di}
	assert.Equal(t, os.ModeDir|0700, fi.Mode())
	assert.True(t, fi.IsDir())
	assert.False(t, fi.IsSymlink())
}

func TestBillyFileInfoSys(t *testing.T) {
	a := testAdapter(t)
	require.NoError(t, util.WriteFile(a, "/f", []byte("x"), 0644))
	_, err := a.fs.Volume().Link(mustIno(t, a, "/f"), storage.RootIno, "g")
	require.NoError(t, err)

	fi, err := a.Stat("/g")
	require.NoError(t, err)
	info, ok := fi.Sys().(*nfsfile.FileInfo)
	require.True(t, ok)
	assert.Equal(t, uint32(2), info.Nlink)
	assert.Equal(t, mustIno(t, a, "/f"), info.Fileid)
	assert.Equal(t, uint32(os.Getuid()), info.UID)
}

func mustIno(t *testing.T, a *BillyAdapter, p string) uint64 {
	t.Helper()
	ino, err := a.fs.Volume().ResolvePath(p)
	require.NoError(t, err)
	return ino
}

func TestBillyAdapterBackup(t *testing.T) {
	t.Parallel()
	a := testAdapter(t)

	require.NoError(t, util.WriteFile(a, "/notes.txt", []byte("first"), 0644))
	require.NoError(t, util.WriteFile(a, "/notes.txt", []byte("second"), 0644))

	data, err := util.ReadFile(a, "/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	// Create truncates, so the last write backed up an empty file
	data, err = util.ReadFile(a, "/.notes.txt.BKP")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestBillyAdapterDirectories(t *testing.T) {
	t.Parallel()
	a := testAdapter(t)

	require.NoError(t, a.MkdirAll("/a/b/c", 0755))
	require.NoError(t, a.MkdirAll("/a/b", 0755), "existing directories are fine")
	require.NoError(t, util.WriteFile(a, "/a/b/file", []byte("data"), 0644))
	assert.Error(t, a.MkdirAll("/a/b/file", 0755))

	infos, err := a.ReadDir("/a/b")
	require.NoError(t, err)
	var names []string
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{".file.BKP", "c", "file"}, names)

	fi, err := a.Stat("/a/b/c")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestBillyAdapterRenameRemove(t *testing.T) {
	t.Parallel()
	a := testAdapter(t)

	require.NoError(t, util.WriteFile(a, "/old", []byte("v"), 0644))
	require.NoError(t, a.Rename("/old", "/new"))
	_, err := a.Stat("/old")
	assert.Error(t, err)

	require.NoError(t, a.Remove("/new"))
	_, err = a.Stat("/new")
	assert.Error(t, err)
}

func TestBillyAdapterSymlink(t *testing.T) {
	t.Parallel()
	a := testAdapter(t)

	require.NoError(t, a.Symlink("/target", "/link"))
	target, err := a.Readlink("/link")
	require.NoError(t, err)
	assert.Equal(t, "/target", target)

	fi, err := a.Lstat("/link")
	require.NoError(t, err)
	assert.True(t, fi.Mode()&os.ModeSymlink != 0)
}

func TestBillyAdapterChange(t *testing.T) {
	t.Parallel()
	a := testAdapter(t)
	require.NoError(t, util.WriteFile(a, "/f", []byte("x"), 0644))

	require.NoError(t, a.Chmod("/f", 0600))
	mtime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, a.Chtimes("/f", mtime, mtime))

	fi, err := a.Stat("/f")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode())
	assert.True(t, fi.ModTime().Equal(mtime))
}

func TestBillyFileSeekAppend(t *testing.T) {
	t.Parallel()
	a := testAdapter(t, wbkvfs.Options{WritePolicy: storage.WriteExtend})
	require.NoError(t, util.WriteFile(a, "/log", []byte("abc"), 0644))

	f, err := a.OpenFile("/log", os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("def"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = a.Open("/log")
	require.NoError(t, err)
	defer f.Close()

	pos, err := f.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos)
	buf := make([]byte, 8)
	n, err := f.Read(buf)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "ef", string(buf[:n]))

	_, err = f.Seek(-10, io.SeekStart)
	assert.Error(t, err)
}

func TestNFSServerLifecycle(t *testing.T) {
	g := NewWithT(t)
	a := testAdapter(t)

	srv := NewNFSServer(a.fs)
	g.Expect(srv.Addr()).To(BeNil())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	g.Expect(err).NotTo(HaveOccurred())

	served := make(chan error, 1)
	go func() { served <- srv.ServeListener(listener) }()

	g.Eventually(srv.Addr).ShouldNot(BeNil())
	g.Eventually(func() error {
		conn, err := net.DialTimeout("tcp", srv.Addr().String(), 100*time.Millisecond)
		if err == nil {
			conn.Close()
		}
		return err
	}).Should(Succeed())

	srv.Shutdown()
	srv.Shutdown()
	g.Eventually(served, 2*time.Second).Should(Receive())
}
