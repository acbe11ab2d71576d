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

package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/avast/retry-go/v4"

	"wbkfs/internal/storage"
	"wbkfs/internal/util"
)

// Request types
const (
	RequestStatus  = "status"
	RequestStop    = "stop"
	RequestStats   = "stats"   // Volume statistics
	RequestRestore = "restore" // Swap a file with its .BKP shadow
)

// Request represents an IPC request
type Request struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"` // Volume path (restore)
}

// ServerStatus describes the running file server
type ServerStatus struct {
	Protocol   string `json:"protocol"` // "nfs" or "smb"
	ListenAddr string `json:"listen_addr"`
	ShareName  string `json:"share_name"`
	Session    string `json:"session"`
	StartedAt  int64  `json:"started_at"` // Unix timestamp
	Handles    int    `json:"handles"`
}

// Response represents an IPC response
type Response struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	PID     int            `json:"pid,omitempty"`
	Server  *ServerStatus  `json:"server,omitempty"`
	Stats   *storage.Stats `json:"stats,omitempty"`
	Bytes   int            `json:"bytes,omitempty"` // restore: bytes written back
}

// Server is the IPC server
type Server struct {
	listener net.Listener
	handler  func(*Request) *Response
}

// NewServer creates a new IPC server
func NewServer(handler func(*Request) *Response) *Server {
	return &Server{handler: handler}
}

// Start listens on the control socket and serves requests in the background.
func (s *Server) Start() error {
	os.Remove(SocketPath())

	listener, err := net.Listen("unix", SocketPath())
	if err != nil {
		return fmt.Errorf("failed to create socket: %w", err)
	}
	s.listener = listener
	os.Chmod(SocketPath(), 0600)

	go s.accept()
	return nil
}

// Stop stops the IPC server
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
		os.Remove(SocketPath())
	}
}

func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // Server stopped
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		return
	}
	resp := s.handler(&req)
	json.NewEncoder(conn).Encode(resp)
}

// Client is the IPC client
type Client struct {
	conn net.Conn
}

// Connect connects to the daemon
func Connect() (*Client, error) {
	conn, err := net.Dial("unix", SocketPath())
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// ConnectWithRetry keeps dialing while the socket is missing or refusing
// connections, which happens while a freshly started daemon initializes.
func ConnectWithRetry(ctx context.Context, timeout time.Duration) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return util.RetryWithResult(ctx, Connect,
		retry.Attempts(0),
		retry.Delay(25*time.Millisecond),
		retry.MaxDelay(250*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(util.IsConnRefused),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send sends a request and returns the response
func (c *Client) Send(req *Request) (*Response, error) {
	if err := json.NewEncoder(c.conn).Encode(req); err != nil {
		return nil, err
	}
	var resp Response
	if err := json.NewDecoder(c.conn).Decode(&resp); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("daemon closed connection")
		}
		return nil, err
	}
	return &resp, nil
}

// Status sends a status request
func (c *Client) Status() (*Response, error) {
	return c.Send(&Request{Type: RequestStatus})
}

// Stop sends a stop request
func (c *Client) Stop() (*Response, error) {
	return c.Send(&Request{Type: RequestStop})
}

// Stats returns the volume statistics
func (c *Client) Stats() (*storage.Stats, error) {
	resp, err := c.Send(&Request{Type: RequestStats})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("stats failed: %s", resp.Error)
	}
	return resp.Stats, nil
}

// Restore writes the .BKP shadow of path back into path.
func (c *Client) Restore(path string) (int, error) {
	resp, err := c.Send(&Request{Type: RequestRestore, Path: path})
	if err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, fmt.Errorf("restore failed: %s", resp.Error)
	}
	return resp.Bytes, nil
}

// IsDaemonRunning checks if the daemon is running
func IsDaemonRunning() bool {
	client, err := Connect()
	if err != nil {
		return false
	}
	client.Close()
	return true
}
