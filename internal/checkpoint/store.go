package checkpoint

import (
	"bytes"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"SimFed/internal/storage"
)

// Key layout:
//
//	ckpt/<federation>/<label>/<federate name>  checkpoint stream
//	cert/<federation>/<label>                  certificate (yaml)
var (
	prefixCheckpoint  = []byte("ckpt/")
	prefixCertificate = []byte("cert/")
)

// Store keeps checkpoints and certificates in a key-value store.
type Store struct {
	db *storage.Storage
}

// NewStore wraps an open storage.
func NewStore(db *storage.Storage) *Store {
	return &Store{db: db}
}

func checkpointKey(federation, label, federate string) []byte {
	return []byte(string(prefixCheckpoint) + federation + "/" + label + "/" + federate)
}

func labelPrefix(prefix []byte, federation, label string) []byte {
	return []byte(string(prefix) + federation + "/" + label + "/")
}

func certificateKey(federation, label string) []byte {
	return []byte(string(prefixCertificate) + federation + "/" + label)
}

// Put stores the checkpoint of one federate, replacing an older one with the same label.
func (s *Store) Put(federation, label, federate string, data []byte) error {
	if err := s.db.Set(checkpointKey(federation, label, federate), data); err != nil {
		return fmt.Errorf("store checkpoint %s/%s/%s:\n%w", federation, label, federate, err)
	}

	return nil
}

// Get loads the checkpoint of one federate. It returns nil when none was saved.
func (s *Store) Get(federation, label, federate string) ([]byte, error) {
	data, err := s.db.Get(checkpointKey(federation, label, federate))
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s/%s/%s:\n%w", federation, label, federate, err)
	}

	return data, nil
}

// PutCertificate stores the certificate of a completed save.
func (s *Store) PutCertificate(cert *Certificate) error {
	data, err := yaml.Marshal(cert)
	if err != nil {
		return fmt.Errorf("marshal certificate:\n%w", err)
	}

	return s.db.Set(certificateKey(cert.Federation, cert.Label), data)
}

// Certificate loads the certificate of a save. It returns nil when the save never completed.
func (s *Store) Certificate(federation, label string) (*Certificate, error) {
	data, err := s.db.Get(certificateKey(federation, label))
	if err != nil {
		return nil, fmt.Errorf("load certificate %s/%s:\n%w", federation, label, err)
	}

	if data == nil {
		return nil, nil
	}

	var cert Certificate
	if err := yaml.Unmarshal(data, &cert); err != nil {
		return nil, fmt.Errorf("unmarshal certificate %s/%s:\n%w", federation, label, err)
	}

	return &cert, nil
}

// Labels lists the certified saves of a federation in order.
func (s *Store) Labels(federation string) ([]string, error) {
	prefix := []byte(string(prefixCertificate) + federation + "/")

	var labels []string

	err := s.db.IteratePrefix(prefix, func(key, _ []byte) error {
		labels = append(labels, string(bytes.TrimPrefix(key, prefix)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list saves of %s:\n%w", federation, err)
	}

	sort.Strings(labels)

	return labels, nil
}

// Delete removes a save: its certificate and every checkpoint stored under the label.
func (s *Store) Delete(federation, label string) error {
	if err := s.db.DeletePrefix(labelPrefix(prefixCheckpoint, federation, label)); err != nil {
		return fmt.Errorf("delete checkpoints %s/%s:\n%w", federation, label, err)
	}

	return s.db.Delete(certificateKey(federation, label))
}
