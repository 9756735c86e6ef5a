package sshkeys

import (
	"fmt"
	"log"
	"net"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// FingerprintMismatchError is returned when a host presents a key whose
// fingerprint differs from the one recorded for it.
type FingerprintMismatchError struct {
	Host     string
	Expected string
	Actual   string
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("host key fingerprint mismatch for %s: expected %s, got %s", e.Host, e.Expected, e.Actual)
}

// Fingerprint returns the SHA256 fingerprint of an authorized_keys line.
func Fingerprint(publicKey []byte) (string, error) {
	if len(publicKey) == 0 {
		return "", fmt.Errorf("get fingerprint: public key is empty")
	}
	parsed, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("get fingerprint: parse public key: %w", err)
	}
	return ssh.FingerprintSHA256(parsed), nil
}

// HostKeyPolicy selects how a server's host key is checked.
//
// With KnownHostsPath set, keys are checked against that file. Otherwise the
// policy is trust on first use: an empty Expected accepts any key and reports
// it through OnFirstUse, a non-empty Expected must match exactly.
type HostKeyPolicy struct {
	KnownHostsPath string
	Expected       string
	OnFirstUse     func(fingerprint string)
}

// Callback builds the ssh.HostKeyCallback for the policy.
func (p HostKeyPolicy) Callback() (ssh.HostKeyCallback, error) {
	if p.KnownHostsPath != "" {
		cb, err := knownhosts.New(p.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %s: %w", p.KnownHostsPath, err)
		}
		return cb, nil
	}

	expected := p.Expected
	onFirstUse := p.OnFirstUse
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		actual := ssh.FingerprintSHA256(key)
		if expected == "" {
			if onFirstUse != nil {
				onFirstUse(actual)
			}
			return nil
		}
		if actual != expected {
			log.Printf("[sshkeys] host key for %s changed: expected %s, got %s", hostname, expected, actual)
			return &FingerprintMismatchError{Host: hostname, Expected: expected, Actual: actual}
		}
		return nil
	}, nil
}
