package tooling

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/oarkflow/json"
	"github.com/oarkflow/xid"

	"github.com/oarkflow/svcl/pkg/loader"
)

const (
	LockfileName    = "svcl.lock"
	LockfileVersion = "1"
)

type Lockfile struct {
	Version     string    `json:"version"`
	Env         string    `json:"env"`
	Entry       string    `json:"entry"`
	SHA256      string    `json:"sha256"`
	BuildID     string    `json:"build_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Files       []string  `json:"files"`
}

// WriteLockfile loads entry with its imports and records a digest of the
// merged source at path. Concurrent writers serialize on path+".lock".
func WriteLockfile(path, entry, env string) (*Lockfile, error) {
	bundle, err := loader.Load(entry)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(bundle.Source))
	lock := &Lockfile{
		Version:     LockfileVersion,
		Env:         env,
		Entry:       filepath.ToSlash(entry),
		SHA256:      hex.EncodeToString(sum[:]),
		BuildID:     xid.New().String(),
		GeneratedAt: time.Now().UTC(),
	}
	base := filepath.Dir(bundle.Files[len(bundle.Files)-1])
	for _, f := range bundle.Files {
		rel, err := filepath.Rel(base, f)
		if err != nil {
			rel = f
		}
		lock.Files = append(lock.Files, filepath.ToSlash(rel))
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, err
	}

	fileLock := flock.New(path + ".lock")
	if err := fileLock.Lock(); err != nil {
		return nil, err
	}
	defer func() {
		_ = fileLock.Unlock()
	}()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, err
	}
	return lock, nil
}

func ReadLockfile(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock Lockfile
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, err
	}
	return &lock, nil
}
