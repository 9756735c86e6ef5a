// Package hoststore persists host profiles in the database with their
// credentials encrypted at rest.
package hoststore

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pandasdroid/vps-management/internal/crypto"
	"github.com/pandasdroid/vps-management/internal/database"
	"github.com/pandasdroid/vps-management/internal/logutil"
	"github.com/pandasdroid/vps-management/internal/sshmanager"
)

// ErrNotFound is returned for an unknown host ID.
var ErrNotFound = errors.New("host not found")

// Input is the editable part of a host profile. On Update, empty secret
// fields keep the stored value.
type Input struct {
	Name       string `json:"name" yaml:"name"`
	Address    string `json:"address" yaml:"address"`
	Port       int    `json:"port" yaml:"port"`
	Username   string `json:"username" yaml:"username"`
	AuthMode   string `json:"auth_mode" yaml:"auth_mode"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty" yaml:"private_key,omitempty"`
	Passphrase string `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
	SortOrder  int    `json:"sort_order" yaml:"sort_order"`
}

func (in *Input) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Address = strings.TrimSpace(in.Address)
	in.Username = strings.TrimSpace(in.Username)
	if in.Address == "" {
		return errors.New("address is required")
	}
	if in.Port == 0 {
		in.Port = 22
	}
	if in.Port < 1 || in.Port > 65535 {
		return fmt.Errorf("invalid port %d", in.Port)
	}
	if in.Username == "" {
		in.Username = "root"
	}
	switch sshmanager.AuthMode(in.AuthMode) {
	case "":
		in.AuthMode = string(sshmanager.AuthPassword)
	case sshmanager.AuthPassword, sshmanager.AuthKey:
	default:
		return fmt.Errorf("invalid auth mode %q", in.AuthMode)
	}
	return nil
}

// Store is the host profile repository.
type Store struct {
	db  *gorm.DB
	box *crypto.Box
}

func New(db *gorm.DB, box *crypto.Box) *Store {
	return &Store{db: db, box: box}
}

// List returns all hosts ordered for display.
func (s *Store) List() ([]database.Host, error) {
	var hosts []database.Host
	if err := s.db.Order("sort_order, name, address").Find(&hosts).Error; err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	return hosts, nil
}

// Get returns the stored host with encrypted secrets.
func (s *Store) Get(id string) (database.Host, error) {
	var h database.Host
	if err := s.db.First(&h, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.Host{}, ErrNotFound
		}
		return database.Host{}, fmt.Errorf("get host: %w", err)
	}
	return h, nil
}

// Create stores a new host.
func (s *Store) Create(in Input) (database.Host, error) {
	if err := in.normalize(); err != nil {
		return database.Host{}, err
	}
	h := database.Host{ID: uuid.NewString()}
	if err := s.apply(&h, in, true); err != nil {
		return database.Host{}, err
	}
	if err := s.db.Create(&h).Error; err != nil {
		return database.Host{}, fmt.Errorf("create host: %w", err)
	}
	log.Printf("[hosts] created %s (%s)", logutil.SanitizeForLog(h.Name), logutil.SanitizeForLog(h.Address))
	return h, nil
}

// Update replaces the editable fields of host id. Changing the address or
// port clears the pinned host key.
func (s *Store) Update(id string, in Input) (database.Host, error) {
	if err := in.normalize(); err != nil {
		return database.Host{}, err
	}
	h, err := s.Get(id)
	if err != nil {
		return database.Host{}, err
	}
	if h.Address != in.Address || h.Port != in.Port {
		h.HostKeyFingerprint = ""
	}
	if err := s.apply(&h, in, false); err != nil {
		return database.Host{}, err
	}
	if err := s.db.Save(&h).Error; err != nil {
		return database.Host{}, fmt.Errorf("update host: %w", err)
	}
	return h, nil
}

func (s *Store) apply(h *database.Host, in Input, replaceSecrets bool) error {
	h.Name = in.Name
	h.Address = in.Address
	h.Port = in.Port
	h.Username = in.Username
	h.AuthMode = in.AuthMode
	h.SortOrder = in.SortOrder

	secrets := []struct {
		plain string
		dst   *string
	}{
		{in.Password, &h.Password},
		{in.PrivateKey, &h.PrivateKey},
		{in.Passphrase, &h.Passphrase},
	}
	for _, sec := range secrets {
		if sec.plain == "" && !replaceSecrets {
			continue
		}
		enc, err := s.box.Encrypt(sec.plain)
		if err != nil {
			return err
		}
		*sec.dst = enc
	}
	return nil
}

// Delete removes host id.
func (s *Store) Delete(id string) error {
	res := s.db.Delete(&database.Host{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete host: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetFingerprint pins the host key fingerprint of host id.
func (s *Store) SetFingerprint(id, fingerprint string) error {
	res := s.db.Model(&database.Host{}).Where("id = ?", id).Update("host_key_fingerprint", fingerprint)
	if res.Error != nil {
		return fmt.Errorf("set fingerprint: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	log.Printf("[hosts] pinned host key for %s: %s", logutil.SanitizeForLog(id), fingerprint)
	return nil
}

// Record returns host id with decrypted credentials, ready for Connect.
func (s *Store) Record(id string) (sshmanager.HostRecord, error) {
	h, err := s.Get(id)
	if err != nil {
		return sshmanager.HostRecord{}, err
	}
	in, err := s.decrypt(h)
	if err != nil {
		return sshmanager.HostRecord{}, err
	}
	rec := sshmanager.HostRecord{
		Key:                h.ID,
		Label:              h.Name,
		Address:            h.Address,
		Port:               h.Port,
		Username:           h.Username,
		AuthMode:           sshmanager.AuthMode(h.AuthMode),
		Password:           in.Password,
		Passphrase:         in.Passphrase,
		HostKeyFingerprint: h.HostKeyFingerprint,
	}
	if in.PrivateKey != "" {
		rec.PrivateKey = []byte(in.PrivateKey)
	}
	return rec, nil
}

func (s *Store) decrypt(h database.Host) (Input, error) {
	in := Input{
		Name:      h.Name,
		Address:   h.Address,
		Port:      h.Port,
		Username:  h.Username,
		AuthMode:  h.AuthMode,
		SortOrder: h.SortOrder,
	}
	var err error
	if in.Password, err = s.box.Decrypt(h.Password); err != nil {
		return Input{}, fmt.Errorf("decrypt password for %s: %w", h.ID, err)
	}
	if in.PrivateKey, err = s.box.Decrypt(h.PrivateKey); err != nil {
		return Input{}, fmt.Errorf("decrypt private key for %s: %w", h.ID, err)
	}
	if in.Passphrase, err = s.box.Decrypt(h.Passphrase); err != nil {
		return Input{}, fmt.Errorf("decrypt passphrase for %s: %w", h.ID, err)
	}
	return in, nil
}
