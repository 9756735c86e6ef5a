package hoststore

import (
	"encoding/json"
	"fmt"
	"log"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Document is the import/export file layout. Credentials are included in
// plaintext, so exports must be handled like the secrets they contain.
type Document struct {
	Hosts []Input `json:"hosts" yaml:"hosts"`
}

// Export writes every host as a json or yaml document.
func (s *Store) Export(format string) ([]byte, error) {
	hosts, err := s.List()
	if err != nil {
		return nil, err
	}
	doc := Document{Hosts: make([]Input, 0, len(hosts))}
	for _, h := range hosts {
		in, err := s.decrypt(h)
		if err != nil {
			return nil, err
		}
		doc.Hosts = append(doc.Hosts, in)
	}

	switch format {
	case "json":
		return json.MarshalIndent(doc, "", "  ")
	case "yaml", "yml":
		return yaml.Marshal(doc)
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

// Import adds every host in a json or yaml document and returns how many
// were created. Either every entry is stored or none is.
func (s *Store) Import(data []byte, format string) (int, error) {
	var doc Document
	switch format {
	case "json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return 0, fmt.Errorf("parse json: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return 0, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		return 0, fmt.Errorf("unsupported import format %q", format)
	}

	for i := range doc.Hosts {
		if err := doc.Hosts[i].normalize(); err != nil {
			return 0, fmt.Errorf("host %d: %w", i+1, err)
		}
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		txStore := &Store{db: tx, box: s.box}
		for _, in := range doc.Hosts {
			if _, err := txStore.Create(in); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	log.Printf("[hosts] imported %d host(s) from %s", len(doc.Hosts), format)
	return len(doc.Hosts), nil
}
