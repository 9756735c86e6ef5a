package sshmanager

// AuthMode selects which credential of a HostRecord is used.
type AuthMode string

const (
	AuthPassword AuthMode = "password"
	AuthKey      AuthMode = "key"
)

// HostRecord describes one remote machine. The registry copies the record on
// Connect, so later edits only apply to the next connection.
type HostRecord struct {
	Key                string
	Label              string
	Address            string
	Port               int
	Username           string
	AuthMode           AuthMode
	Password           string
	PrivateKey         []byte
	Passphrase         string
	HostKeyFingerprint string
}

// DisplayName returns the label, or the address when no label is set.
func (h HostRecord) DisplayName() string {
	if h.Label != "" {
		return h.Label
	}
	return h.Address
}
