//go:build smb

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	smb2 "github.com/macos-fuse-t/go-smb2/server"
	"github.com/macos-fuse-t/go-smb2/vfs"

	wbkvfs "wbkfs/internal/vfs"
)

func init() {
	netFSTypeName = "smb"
}

// SMBServer wraps the go-smb2 server
type SMBServer struct {
	server *smb2.Server
}

// newNetFSServer exports fs as an SMB share
func newNetFSServer(fs *wbkvfs.BackupFS, shareName string) NetFSServer {
	return NewSMBServer(fs, shareName)
}

// NewSMBServer creates a guest-only SMB server with a single share
func NewSMBServer(fs vfs.VFSFileSystem, shareName string) *SMBServer {
	smbCfg := &smb2.ServerConfig{
		AllowGuest:  true,
		MaxIOReads:  4,
		MaxIOWrites: 4,
	}
	shares := map[string]vfs.VFSFileSystem{
		shareName: fs,
	}
	auth := &smb2.NTLMAuthenticator{
		NbDomain:   "WORKGROUP",
		NbName:     "WBKFS",
		DnsName:    "wbkfs.local",
		DnsDomain:  ".local",
		AllowGuest: true,
	}
	return &SMBServer{
		server: smb2.NewServer(smbCfg, auth, shares),
	}
}

// Serve starts the SMB server
func (s *SMBServer) Serve(addr string) error {
	return s.server.Serve(addr)
}

// Shutdown stops the SMB server
func (s *SMBServer) Shutdown() {
	s.server.Shutdown()
}

// MountNetFS mounts the SMB share at mountPath as guest
func MountNetFS(host string, port int, shareName string, mountPath string) error {
	if err := os.MkdirAll(mountPath, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		url := fmt.Sprintf("//Guest@%s:%d/%s", host, port, shareName)
		cmd = exec.Command("mount_smbfs", "-N", "-o", "nobrowse,nostreams", url, mountPath)
	case "linux":
		cmd = exec.Command("mount", "-t", "cifs",
			"-o", fmt.Sprintf("guest,port=%d,vers=2.1,cache=none", port),
			fmt.Sprintf("//%s/%s", host, shareName),
			mountPath,
		)
	default:
		return fmt.Errorf("smb mount not supported on %s", runtime.GOOS)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", cmd.Args[0], err, string(output))
	}
	return nil
}
