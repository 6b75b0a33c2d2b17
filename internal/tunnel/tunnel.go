// Package tunnel forwards local TCP connections to a remote database
// endpoint over SSH. A tunnel is a process-scoped resource: acquired at run
// start, released on every exit path.
package tunnel

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Tunnel is one active SSH port forward.
type Tunnel struct {
	client   *ssh.Client
	listener net.Listener
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Config describes the SSH server and the remote endpoint to reach.
type Config struct {
	// ServerAddr is the SSH host; port 22 is assumed when absent.
	ServerAddr string
	User       string
	Password   string
	// RemoteHost and RemotePort name the endpoint as seen from the SSH
	// server, typically localhost plus the database port.
	RemoteHost string
	RemotePort int
}

// Open dials the SSH server and starts forwarding a random local port to
// the remote endpoint.
func Open(cfg Config, logger *slog.Logger) (*Tunnel, error) {
	addr := cfg.ServerAddr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	clientCfg := &ssh.ClientConfig{
		User: cfg.User,
		Auth: []ssh.AuthMethod{ssh.Password(cfg.Password)},
		// Host keys are not pinned; the tunnel target is operator-supplied.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ssh server: %w", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open local listener: %w", err)
	}

	t := &Tunnel{client: client, listener: listener, logger: logger}
	go t.serve(net.JoinHostPort(cfg.RemoteHost, fmt.Sprintf("%d", cfg.RemotePort)))

	logger.Info("ssh tunnel established",
		slog.String("local", listener.Addr().String()),
		slog.String("remote", fmt.Sprintf("%s:%d", cfg.RemoteHost, cfg.RemotePort)))
	return t, nil
}

// LocalAddr returns the forwarded local endpoint.
func (t *Tunnel) LocalAddr() string {
	return t.listener.Addr().String()
}

// LocalPort returns the forwarded local port.
func (t *Tunnel) LocalPort() int {
	return t.listener.Addr().(*net.TCPAddr).Port
}

func (t *Tunnel) serve(remoteAddr string) {
	for {
		local, err := t.listener.Accept()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.logger.Warn("tunnel accept failed", slog.String("error", err.Error()))
			}
			return
		}

		go func() {
			defer local.Close()
			remote, err := t.client.Dial("tcp", remoteAddr)
			if err != nil {
				t.logger.Warn("tunnel dial failed", slog.String("error", err.Error()))
				return
			}
			defer remote.Close()

			done := make(chan struct{}, 2)
			go func() { _, _ = io.Copy(remote, local); done <- struct{}{} }()
			go func() { _, _ = io.Copy(local, remote); done <- struct{}{} }()
			<-done
		}()
	}
}

// Close stops the forward and releases the SSH client.
func (t *Tunnel) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.listener.Close()
	err := t.client.Close()
	t.logger.Info("ssh tunnel closed")
	return err
}
