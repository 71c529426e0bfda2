package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eternal-audio/eternal-gate/internal/gate"
	"github.com/eternal-audio/eternal-gate/internal/vault"
)

// PersistedRecord is the on-disk envelope for a record: the record itself plus
// its store-level expiry, if any.
type PersistedRecord struct {
	Record    gate.Record `json:"record"`
	ExpiresAt time.Time   `json:"expires_at,omitempty"`
}

// Persistence handles the disk I/O for the MemStore. Records carry claim
// secrets and device tokens, so when a vault key is configured every file is
// AES-GCM encrypted at rest; a leaked data directory is then not enough to
// claim or play a purchase.
type Persistence struct {
	DataDir  string
	vaultKey []byte // nil means plaintext JSON files
	mu       sync.Mutex
}

// NewPersistence initializes a persistence handler. vaultKey must be nil or a
// 32-byte AES key.
func NewPersistence(dir string, vaultKey []byte) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	if len(vaultKey) != 0 && len(vaultKey) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes, got %d", len(vaultKey))
	}
	return &Persistence{DataDir: dir, vaultKey: vaultKey}, nil
}

// SaveRecord writes a single record to its own file atomically: write to a
// temp file, then rename. A crash leaves either the old file or the new one,
// never a torn write.
func (p *Persistence) SaveRecord(id string, pr PersistedRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	bytes, err := json.MarshalIndent(pr, "", "  ")
	if err != nil {
		return err
	}
	if p.vaultKey != nil {
		sealed, err := vault.Encrypt(string(bytes), p.vaultKey)
		if err != nil {
			return err
		}
		bytes = []byte(sealed)
	}

	filePath := filepath.Join(p.DataDir, fmt.Sprintf("%s.json", id))
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, bytes, 0600); err != nil {
		return err
	}
	return os.Rename(tempPath, filePath)
}

// LoadAll returns every record found in the data directory, keyed by purchase
// identifier. Unreadable or corrupt files are skipped with a warning rather
// than failing startup.
func (p *Persistence) LoadAll() (map[string]PersistedRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	all := make(map[string]PersistedRecord)

	files, err := os.ReadDir(p.DataDir)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}
		id := file.Name()[:len(file.Name())-5]

		content, err := os.ReadFile(filepath.Join(p.DataDir, file.Name()))
		if err != nil {
			log.Printf("Warning: could not read record file %s: %v", file.Name(), err)
			continue
		}
		if p.vaultKey != nil {
			plain, err := vault.Decrypt(string(content), p.vaultKey)
			if err != nil {
				log.Printf("Warning: could not decrypt record file %s: %v", file.Name(), err)
				continue
			}
			content = []byte(plain)
		}

		var pr PersistedRecord
		if err := json.Unmarshal(content, &pr); err != nil {
			log.Printf("Warning: could not unmarshal record from %s: %v", file.Name(), err)
			continue
		}
		all[id] = pr
	}
	return all, nil
}
