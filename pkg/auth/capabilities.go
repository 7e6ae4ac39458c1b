package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/knowledgeops/stacks/pkg/observability"
)

// Capability names. Capabilities are the coarse-grained authorization
// axis: named actions checked directly by the guard, independent of
// the per-resource grant framework.
const (
	CapManageUsers  = "manage_users"
	CapManageTeams  = "manage_teams"
	CapManageGrants = "manage_grants"
	CapViewSearch   = "view_search"
	CapViewAudit    = "view_audit"
	CapStorageWrite = "storage:write"
)

// CapabilityTable maps global roles to their default capability sets.
// It is safe for concurrent use; overrides may be reloaded at runtime.
type CapabilityTable struct {
	mu     sync.RWMutex
	byRole map[GlobalRole]map[string]struct{}
}

// DefaultCapabilityTable returns the built-in role defaults. Admins
// hold every capability; leaders get team and search access on top of
// the user baseline.
func DefaultCapabilityTable() *CapabilityTable {
	t := &CapabilityTable{byRole: map[GlobalRole]map[string]struct{}{}}
	t.set(RoleAdmin, CapManageUsers, CapManageTeams, CapManageGrants, CapViewSearch, CapViewAudit, CapStorageWrite)
	t.set(RoleLeader, CapManageTeams, CapViewSearch, CapStorageWrite)
	t.set(RoleUser, CapViewSearch)
	return t
}

func (t *CapabilityTable) set(role GlobalRole, capabilities ...string) {
	set := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		set[c] = struct{}{}
	}
	t.byRole[role] = set
}

// Allows reports whether the role's default capability set contains
// the capability.
func (t *CapabilityTable) Allows(role GlobalRole, capability string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set, ok := t.byRole[role]
	if !ok {
		return false
	}
	_, ok = set[capability]
	return ok
}

// LoadOverrides replaces the role defaults with the contents of a JSON
// file of the form {"role": ["capability", ...], ...}. Roles absent
// from the file keep their current set.
func (t *CapabilityTable) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read capability overrides: %w", err)
	}

	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse capability overrides: %w", err)
	}

	// Validate and build every set before touching the live table so a
	// bad entry cannot leave it half replaced.
	replacements := make(map[GlobalRole]map[string]struct{}, len(raw))
	for role, capabilities := range raw {
		r := GlobalRole(role)
		if !r.Valid() {
			return fmt.Errorf("unknown role in capability overrides: %q", role)
		}
		set := make(map[string]struct{}, len(capabilities))
		for _, c := range capabilities {
			set[c] = struct{}{}
		}
		replacements[r] = set
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for role, set := range replacements {
		t.byRole[role] = set
	}
	return nil
}

// WatchOverrides reloads the override file whenever it changes on
// disk, until the context is cancelled. A reload failure keeps the
// previous table and logs a warning; it never clears capabilities.
func (t *CapabilityTable) WatchOverrides(ctx context.Context, path string, log *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := t.LoadOverrides(path); err != nil {
					log.WithError(err).Warn("capability override reload failed, keeping previous table")
					continue
				}
				log.WithField("path", path).Info("capability overrides reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("capability override watcher error")
			}
		}
	}()

	return nil
}
