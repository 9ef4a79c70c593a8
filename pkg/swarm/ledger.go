// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileLedger coordinates concurrent file access across workers. Claims are
// advisory exclusive locks on paths; writes use optimistic concurrency: a
// worker snapshots a file, edits the snapshot, and the write lands only if
// the file on disk still matches the snapshot hash.
type FileLedger struct {
	mu     sync.Mutex
	root   string
	claims map[string]string // path -> agentID
	bus    *EventBus

	pathLocks map[string]*sync.Mutex
}

// NewFileLedger creates a ledger rooted at root. Events (writes, conflicts)
// are emitted on bus when it is non-nil.
func NewFileLedger(root string, bus *EventBus) *FileLedger {
	return &FileLedger{
		root:      root,
		claims:    make(map[string]string),
		bus:       bus,
		pathLocks: make(map[string]*sync.Mutex),
	}
}

// Claim takes exclusive claims on every path for agentID, atomically: either
// all paths are claimed or none. A path already claimed by the same agent is
// fine; one held by another agent fails the whole claim with ErrClaimHeld.
func (l *FileLedger) Claim(agentID string, paths []string) error {
	l.mu.Lock()
	for _, p := range paths {
		if holder, held := l.claims[p]; held && holder != agentID {
			l.mu.Unlock()
			return fmt.Errorf("%w: %s held by %s", ErrClaimHeld, p, holder)
		}
	}
	for _, p := range paths {
		l.claims[p] = agentID
	}
	l.mu.Unlock()

	if l.bus != nil && len(paths) > 0 {
		l.emit(newEvent(EventClaim, "", agentID, "Claimed files", &ClaimPayload{Paths: append([]string(nil), paths...)}))
	}
	return nil
}

// Release drops the agent's claims on the given paths. Claims held by other
// agents are left alone. Idempotent.
func (l *FileLedger) Release(agentID string, paths []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range paths {
		if l.claims[p] == agentID {
			delete(l.claims, p)
		}
	}
}

// ReleaseAll drops every claim held by agentID. Idempotent.
func (l *FileLedger) ReleaseAll(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for p, holder := range l.claims {
		if holder == agentID {
			delete(l.claims, p)
		}
	}
}

// GetActiveClaims returns a copy of the current claim table.
func (l *FileLedger) GetActiveClaims() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.claims))
	for p, holder := range l.claims {
		out[p] = holder
	}
	return out
}

// ClaimedPaths returns the sorted paths currently claimed by agentID.
func (l *FileLedger) ClaimedPaths(agentID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for p, holder := range l.claims {
		if holder == agentID {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot reads the file at path and returns its versioned content. A
// missing file snapshots as empty content; its hash is the hash of the empty
// string, so a create racing a create is still detected as a conflict.
func (l *FileLedger) Snapshot(agentID, path string) (*FileVersion, error) {
	content, err := os.ReadFile(l.resolve(path))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot %s: %w", path, err)
		}
		content = nil
	}
	return &FileVersion{
		Path:            path,
		ContentSnapshot: string(content),
		VersionHash:     hashContent(string(content)),
		ReaderAgentID:   agentID,
	}, nil
}

// AttemptWrite applies newContent to version.Path if and only if the file on
// disk still matches the snapshot the agent read. On a hash mismatch the
// write is rejected, a conflict event is emitted, and the caller decides
// whether to re-snapshot and retry. The check and the write are atomic per
// path; the write itself is temp-file-then-rename.
func (l *FileLedger) AttemptWrite(agentID string, version *FileVersion, newContent string) (*WriteResult, error) {
	lock := l.pathLock(version.Path)
	lock.Lock()
	defer lock.Unlock()

	current, err := os.ReadFile(l.resolve(version.Path))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("attempt write %s: %w", version.Path, err)
	}
	currentHash := hashContent(string(current))

	if currentHash != version.VersionHash {
		if l.bus != nil {
			l.emit(newEvent(EventConflict, "", agentID, "Stale write rejected", &ConflictPayload{
				Path:        version.Path,
				BaseHash:    version.VersionHash,
				CurrentHash: currentHash,
			}))
		}
		return &WriteResult{
			Conflict:    true,
			BaseHash:    version.VersionHash,
			CurrentHash: currentHash,
			Reason:      "file changed since snapshot",
		}, nil
	}

	abs := l.resolve(version.Path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("attempt write %s: %w", version.Path, err)
	}
	if err := writeFileAtomic(abs, []byte(newContent)); err != nil {
		return nil, fmt.Errorf("attempt write %s: %w", version.Path, err)
	}

	newHash := hashContent(newContent)
	if l.bus != nil {
		l.emit(newEvent(EventWrite, "", agentID, "File written", &WritePayload{
			Path:     version.Path,
			BaseHash: version.VersionHash,
			NewHash:  newHash,
		}))
	}
	return &WriteResult{Success: true, BaseHash: version.VersionHash, CurrentHash: newHash}, nil
}

func (l *FileLedger) resolve(path string) string {
	if filepath.IsAbs(path) || l.root == "" {
		return path
	}
	return filepath.Join(l.root, path)
}

// pathLock returns the per-path write mutex, creating it on first use.
func (l *FileLedger) pathLock(path string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.pathLocks[path]
	if !ok {
		lock = &sync.Mutex{}
		l.pathLocks[path] = lock
	}
	return lock
}

func (l *FileLedger) emit(e SwarmEvent) {
	l.bus.Emit(e)
}

// hashContent returns the short content hash used for OCC version checks.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}
