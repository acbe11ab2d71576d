//go:build !smb

package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path"
	"runtime"
	"sync"
	"time"

	billy "github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"
	nfs "github.com/willscott/go-nfs"
	nfsfile "github.com/willscott/go-nfs/file"
	nfshelper "github.com/willscott/go-nfs/helpers"

	"wbkfs/internal/common"
	wbkvfs "wbkfs/internal/vfs"
)

// vfsHandle is the handle type used by the VFS layer
type vfsHandle = wbkvfs.NfsVfsHandle

// nfsHandleCacheSize bounds the go-nfs file handle cache.
const nfsHandleCacheSize = 65536

func init() {
	netFSTypeName = "nfs"
}

// NFSServer wraps the go-nfs server
type NFSServer struct {
	mu       sync.Mutex
	listener net.Listener
	server   *nfs.Server
	handler  nfs.Handler
	cancel   context.CancelFunc
	done     chan struct{}
}

// newNetFSServer exports fs over NFSv3
func newNetFSServer(fs *wbkvfs.BackupFS, shareName string) NetFSServer {
	return NewNFSServer(fs)
}

// NewNFSServer creates a new NFS server for the given VFS
func NewNFSServer(fs *wbkvfs.BackupFS) *NFSServer {
	// go-nfs logs through its own logger; follow the daemon's level
	switch {
	case log.IsLevelEnabled(log.TraceLevel):
		nfs.Log.SetLevel(nfs.TraceLevel)
	case log.IsLevelEnabled(log.DebugLevel):
		nfs.Log.SetLevel(nfs.DebugLevel)
	default:
		nfs.Log.SetLevel(nfs.InfoLevel)
	}
	handler := nfshelper.NewNullAuthHandler(NewBillyAdapter(fs))
	cacheHelper := nfshelper.NewCachingHandler(handler, nfsHandleCacheSize)

	ctx, cancel := context.WithCancel(context.Background())
	return &NFSServer{
		server:  &nfs.Server{Handler: cacheHelper, Context: ctx},
		handler: cacheHelper,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Serve listens on addr and serves until Shutdown
func (s *NFSServer) Serve(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.ServeListener(listener)
}

// ServeListener serves on an existing listener
func (s *NFSServer) ServeListener(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return s.server.Serve(listener)
}

// Addr returns the listening address, or nil before Serve
func (s *NFSServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the NFS server gracefully
func (s *NFSServer) Shutdown() {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()
	// Settle time for in-flight requests after the listener closes.
	time.Sleep(100 * time.Millisecond)
	if s.cancel != nil {
		s.cancel()
	}
}

// MountNetFS mounts the NFS export at mountPath with the host NFS client
func MountNetFS(host string, port int, shareName string, mountPath string) error {
	if err := os.MkdirAll(mountPath, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	// noac: every GETATTR reaches the server, so a fresh .BKP shows up
	// immediately after the write that created it.
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("mount_nfs",
			"-o", fmt.Sprintf("port=%d,mountport=%d,tcp,nolocks,vers=3,noac,soft,timeo=50,retrans=3,nobrowse", port, port),
			fmt.Sprintf("%s:/", host),
			mountPath,
		)
	case "linux":
		cmd = exec.Command("mount", "-t", "nfs",
			"-o", fmt.Sprintf("port=%d,mountport=%d,proto=tcp,mountproto=tcp,nolock,vers=3,noac,soft,timeo=50,retrans=3", port, port),
			fmt.Sprintf("%s:/", host),
			mountPath,
		)
	default:
		return fmt.Errorf("nfs mount not supported on %s", runtime.GOOS)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", cmd.Args[0], err, string(output))
	}
	return nil
}

// BillyAdapter adapts BackupFS to the billy filesystem interface go-nfs
// serves from. Paths are volume paths.
type BillyAdapter struct {
	fs  *wbkvfs.BackupFS
	uid uint32 // cached for BillyFileInfo.Sys()
	gid uint32
}

// NewBillyAdapter creates a Billy adapter for BackupFS
func NewBillyAdapter(fs *wbkvfs.BackupFS) *BillyAdapter {
	return &BillyAdapter{
		fs:  fs,
		uid: uint32(os.Getuid()),
		gid: uint32(os.Getgid()),
	}
}

func (b *BillyAdapter) Create(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
}

func (b *BillyAdapter) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

func (b *BillyAdapter) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	handle, err := b.fs.Open(filename, flag, int(perm.Perm()))
	if err != nil {
		return nil, err
	}
	f := &BillyFile{
		adapter: b,
		handle:  handle,
		name:    filename,
		flags:   flag,
	}
	if flag&os.O_APPEND != 0 {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func (b *BillyAdapter) Stat(filename string) (os.FileInfo, error) {
	attrs, err := b.fs.GetAttrByPath(filename)
	if err != nil {
		return nil, err
	}
	return &BillyFileInfo{
		name:    path.Base(filename),
		attrs:   attrs,
		adapter: b,
	}, nil
}

// Lstat is Stat: the volume never follows symlinks on lookup.
func (b *BillyAdapter) Lstat(filename string) (os.FileInfo, error) {
	return b.Stat(filename)
}

func (b *BillyAdapter) Rename(oldpath, newpath string) error {
	return b.fs.RenamePath(oldpath, newpath)
}

func (b *BillyAdapter) Remove(filename string) error {
	return b.fs.UnlinkByPath(filename)
}

func (b *BillyAdapter) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *BillyAdapter) TempFile(dir, prefix string) (billy.File, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) ReadDir(dirname string) ([]os.FileInfo, error) {
	handle, err := b.fs.OpenDir(dirname)
	if err != nil {
		return nil, err
	}
	defer b.fs.Close(handle)

	entries, err := b.fs.ReadDir(handle, 0, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}

	result := make([]os.FileInfo, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.Name == "." || e.Name == ".." {
			continue
		}
		result = append(result, &BillyFileInfo{
			name:    e.Name,
			dirInfo: e,
			adapter: b,
		})
	}
	return result, nil
}

// MkdirAll creates filename and any missing parents.
func (b *BillyAdapter) MkdirAll(filename string, perm os.FileMode) error {
	current := ""
	for _, part := range common.SplitPath(filename) {
		current = common.JoinPath(current, part)
		_, err := b.fs.Mkdir(current, int(perm.Perm()))
		if err == nil || err == wbkvfs.EEXIST {
			continue
		}
		return err
	}
	if fi, err := b.Stat(filename); err == nil && !fi.IsDir() {
		return wbkvfs.ENOTDIR
	}
	return nil
}

func (b *BillyAdapter) Symlink(target, link string) error {
	_, err := b.fs.SymlinkAt(target, link)
	return err
}

func (b *BillyAdapter) Readlink(link string) (string, error) {
	handle, err := b.fs.OpenAny(link, os.O_RDONLY, 0)
	if err != nil {
		return "", err
	}
	defer b.fs.Close(handle)
	return b.fs.Readlink(handle)
}

func (b *BillyAdapter) Chroot(path string) (billy.Filesystem, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) Root() string {
	return "/"
}

// billy.Change interface
func (b *BillyAdapter) Chmod(name string, mode os.FileMode) error {
	handle, err := b.fs.OpenAny(name, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer b.fs.Close(handle)
	_, err = b.fs.SetAttr(handle, wbkvfs.NewAttrsWithMode(uint32(mode.Perm())))
	return err
}

func (b *BillyAdapter) Chtimes(name string, atime, mtime time.Time) error {
	handle, err := b.fs.OpenAny(name, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer b.fs.Close(handle)
	_, err = b.fs.SetAttr(handle, wbkvfs.NewAttrsWithTimes(atime, mtime))
	return err
}

// Ownership is fixed by the volume.
func (b *BillyAdapter) Lchown(name string, uid, gid int) error { return nil }
func (b *BillyAdapter) Chown(name string, uid, gid int) error  { return nil }

func (b *BillyAdapter) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability |
		billy.ReadAndWriteCapability | billy.SeekCapability | billy.TruncateCapability
}

// BillyFile is an open BackupFS handle with a file offset.
type BillyFile struct {
	adapter *BillyAdapter
	handle  vfsHandle
	name    string
	flags   int
	offset  int64
}

func (f *BillyFile) Name() string {
	return f.name
}

// Write writes at the current offset. Each call is one backed-up write.
func (f *BillyFile) Write(p []byte) (n int, err error) {
	n, err = f.adapter.fs.Write(f.handle, p, uint64(f.offset), 0)
	if err == nil {
		f.offset += int64(n)
	}
	return
}

func (f *BillyFile) Read(p []byte) (n int, err error) {
	n, err = f.ReadAt(p, f.offset)
	f.offset += int64(n)
	return
}

func (f *BillyFile) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, wbkvfs.EINVAL
	}
	n, err = f.adapter.fs.Read(f.handle, p, uint64(off), 0)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return
}

func (f *BillyFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = f.offset + offset
	case io.SeekEnd:
		attrs, err := f.adapter.fs.GetAttr(f.handle)
		if err != nil {
			return 0, err
		}
		size, _ := attrs.GetSizeBytes()
		next = int64(size) + offset
	default:
		return 0, wbkvfs.EINVAL
	}
	if next < 0 {
		return 0, wbkvfs.EINVAL
	}
	f.offset = next
	return f.offset, nil
}

func (f *BillyFile) Close() error {
	return f.adapter.fs.Close(f.handle)
}

func (f *BillyFile) Lock() error {
	return nil
}

func (f *BillyFile) Unlock() error {
	return nil
}

func (f *BillyFile) Truncate(size int64) error {
	if size < 0 {
		return wbkvfs.EINVAL
	}
	return f.adapter.fs.Truncate(f.handle, uint64(size))
}

// BillyFileInfo carries either full attributes (Stat) or a listing entry
// (ReadDir).
type BillyFileInfo struct {
	name    string
	attrs   any           // *vfs.Attributes
	dirInfo any           // *vfs.DirInfo
	adapter *BillyAdapter // uid/gid and link counts; nil falls back to defaults
}

func (fi *BillyFileInfo) Name() string {
	return fi.name
}

func (fi *BillyFileInfo) Size() int64 {
	if a := wbkvfs.WrapAttrs(fi.attrs); a != nil {
		size, _ := a.GetSizeBytes()
		return int64(size)
	}
	if d := wbkvfs.WrapDirInfo(fi.dirInfo); d != nil {
		size, _ := d.GetSizeBytes()
		return int64(size)
	}
	return 0
}

func (fi *BillyFileInfo) fileType() (wbkvfs.FileType, bool) {
	if a := wbkvfs.WrapAttrs(fi.attrs); a != nil {
		return a.GetFileType(), true
	}
	if d := wbkvfs.WrapDirInfo(fi.dirInfo); d != nil {
		return d.GetFileType(), true
	}
	return wbkvfs.FileTypeRegularFile, false
}

func (fi *BillyFileInfo) Mode() os.FileMode {
	var baseMode os.FileMode
	switch ft, _ := fi.fileType(); ft {
	case wbkvfs.FileTypeDirectory:
		baseMode = os.ModeDir
	case wbkvfs.FileTypeSymlink:
		baseMode = os.ModeSymlink
	}

	if a := wbkvfs.WrapAttrs(fi.attrs); a != nil {
		if mode, ok := a.GetUnixMode(); ok {
			return baseMode | os.FileMode(mode&0777)
		}
	}
	if d := wbkvfs.WrapDirInfo(fi.dirInfo); d != nil {
		if mode, ok := d.GetUnixMode(); ok {
			return baseMode | os.FileMode(mode&0777)
		}
	}

	switch baseMode {
	case os.ModeDir:
		return os.ModeDir | 0755
	case os.ModeSymlink:
		return os.ModeSymlink | 0777
	}
	return 0644
}

func (fi *BillyFileInfo) IsSymlink() bool {
	ft, _ := fi.fileType()
	return ft == wbkvfs.FileTypeSymlink
}

func (fi *BillyFileInfo) IsDir() bool {
	ft, _ := fi.fileType()
	return ft == wbkvfs.FileTypeDirectory
}

func (fi *BillyFileInfo) ModTime() time.Time {
	if a := wbkvfs.WrapAttrs(fi.attrs); a != nil {
		t, _ := a.GetLastDataModificationTime()
		return t
	}
	if d := wbkvfs.WrapDirInfo(fi.dirInfo); d != nil {
		t, _ := d.GetLastDataModificationTime()
		return t
	}
	return time.Time{}
}

func (fi *BillyFileInfo) inodeNumber() uint64 {
	if a := wbkvfs.WrapAttrs(fi.attrs); a != nil {
		return a.GetInodeNumber()
	}
	if d := wbkvfs.WrapDirInfo(fi.dirInfo); d != nil {
		return d.GetInodeNumber()
	}
	return 1
}

// Sys returns the *file.FileInfo go-nfs reads link count, ownership and
// file id from.
func (fi *BillyFileInfo) Sys() any {
	ino := fi.inodeNumber()
	info := &nfsfile.FileInfo{
		Nlink:  1,
		UID:    uint32(os.Getuid()),
		GID:    uint32(os.Getgid()),
		Fileid: ino,
	}
	if fi.adapter != nil {
		info.UID, info.GID = fi.adapter.uid, fi.adapter.gid
		info.Nlink = fi.adapter.fs.LinkCount(ino)
	}
	return info
}
