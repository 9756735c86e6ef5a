package sshmanager

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/pandasdroid/vps-management/internal/sshkeys"
)

const (
	defaultSSHPort        = 22
	defaultUsername       = "root"
	defaultConnectTimeout = 10 * time.Second
)

// BuildOptions carries the process-wide settings used when turning a
// HostRecord into protocol parameters.
type BuildOptions struct {
	Timeout        time.Duration
	KnownHostsPath string
	// OnFirstUse receives the host key fingerprint of a host that has no
	// recorded fingerprint yet.
	OnFirstUse func(fingerprint string)
}

// ConnectionInfo is everything needed to dial one host.
type ConnectionInfo struct {
	Addr   string
	Config *ssh.ClientConfig
}

// BuildConnectionInfo selects the auth method for host and assembles the
// client config. It has no side effects.
func BuildConnectionInfo(host HostRecord, opts BuildOptions) (ConnectionInfo, error) {
	if host.Address == "" {
		return ConnectionInfo{}, errors.New("build connection info: address is empty")
	}
	port := host.Port
	if port == 0 {
		port = defaultSSHPort
	}
	if port < 0 || port > 65535 {
		return ConnectionInfo{}, fmt.Errorf("build connection info: invalid port %d", port)
	}
	user := host.Username
	if user == "" {
		user = defaultUsername
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	var auth []ssh.AuthMethod
	if host.AuthMode == AuthKey && len(host.PrivateKey) > 0 {
		signer, err := sshkeys.ParsePrivateKey(host.PrivateKey, host.Passphrase)
		if err != nil {
			return ConnectionInfo{}, fmt.Errorf("build connection info: %w: %v", ErrAuthFailure, err)
		}
		auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	} else {
		password := host.Password
		auth = []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		}
	}

	hostKeyCallback, err := sshkeys.HostKeyPolicy{
		KnownHostsPath: opts.KnownHostsPath,
		Expected:       host.HostKeyFingerprint,
		OnFirstUse:     opts.OnFirstUse,
	}.Callback()
	if err != nil {
		return ConnectionInfo{}, fmt.Errorf("build connection info: %w", err)
	}

	return ConnectionInfo{
		Addr: net.JoinHostPort(host.Address, strconv.Itoa(port)),
		Config: &ssh.ClientConfig{
			User:            user,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
			Timeout:         timeout,
		},
	}, nil
}
