package esim

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHTunnel carries channel connections through an SSH client, for servers
// that only listen on the modem host's loopback or LAN interface.
type SSHTunnel struct {
	client *ssh.Client
	owned  bool
}

// NewSSHTunnel wraps an established SSH client. Closing the tunnel does not
// close the client.
func NewSSHTunnel(client *ssh.Client) *SSHTunnel {
	return &SSHTunnel{client: client}
}

// DialSSHTunnel connects to an SSH server and returns a tunnel owning the
// connection.
func DialSSHTunnel(addr string, config *ssh.ClientConfig) (*SSHTunnel, error) {
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, WrapError(ErrTransport, fmt.Sprintf("ssh dial %s", addr), err)
	}
	return &SSHTunnel{client: client, owned: true}, nil
}

// SSHClientConfig builds a password-authenticated client configuration. An
// empty knownHostsFile disables host key verification.
func SSHClientConfig(user, password, knownHostsFile string) (*ssh.ClientConfig, error) {
	hostKey := ssh.InsecureIgnoreHostKey()
	if knownHostsFile != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
		},
		HostKeyCallback: hostKey,
		Timeout:         10 * time.Second,
	}, nil
}

// DialContext opens a connection to addr from the SSH server. It matches the
// signature of WebSocketTransport.NetDialContext.
func (t *SSHTunnel) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return t.client.DialContext(ctx, network, addr)
}

// Close closes the SSH connection when the tunnel owns it
func (t *SSHTunnel) Close() error {
	if t.owned && t.client != nil {
		return t.client.Close()
	}
	return nil
}
