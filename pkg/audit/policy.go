package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/chronicle/pkg/history"
)

// Policy selects the audited collections.
type Policy struct {
	// Enabled is the default for collections not listed in Collections.
	Enabled bool `yaml:"enabled"`

	// Suffix names history collections; empty means history.Suffix.
	Suffix string `yaml:"history_suffix"`

	// Collections overrides Enabled per collection.
	Collections map[string]bool `yaml:"collections"`
}

// DefaultPolicy audits every collection.
func DefaultPolicy() Policy {
	return Policy{
		Enabled: true,
		Suffix:  history.Suffix,
	}
}

func (p Policy) suffix() string {
	if p.Suffix == "" {
		return history.Suffix
	}
	return p.Suffix
}

// IsHistory reports whether name is a history collection.
func (p Policy) IsHistory(name string) bool {
	return strings.HasSuffix(name, p.suffix()) && len(name) > len(p.suffix())
}

// Audited reports whether writes to name are copied to history.
func (p Policy) Audited(name string) bool {
	if name == "" || p.IsHistory(name) {
		return false
	}
	if enabled, ok := p.Collections[name]; ok {
		return enabled
	}
	return p.Enabled
}

// HistoryName returns the history collection paired with name.
func (p Policy) HistoryName(name string) string {
	return name + p.suffix()
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if strings.ContainsAny(p.Suffix, " /\x00") {
		return fmt.Errorf("invalid history suffix %q", p.Suffix)
	}
	for name := range p.Collections {
		if name == "" {
			return fmt.Errorf("empty collection name in policy")
		}
		if p.IsHistory(name) {
			return fmt.Errorf("collection %q is a history collection and cannot be audited", name)
		}
	}
	return nil
}

// ParsePolicy decodes a YAML policy. Missing keys keep DefaultPolicy values.
func ParsePolicy(data []byte) (Policy, error) {
	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("failed to parse audit policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// LoadPolicyFile reads a YAML policy from path.
func LoadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read audit policy: %w", err)
	}
	return ParsePolicy(data)
}

// WatchPolicyFile calls onChange with the reloaded policy each time the file
// at path is written or replaced. It blocks until ctx is cancelled. Invalid
// policies are logged and skipped.
func WatchPolicyFile(ctx context.Context, path string, logger *logrus.Logger, onChange func(Policy)) error {
	if logger == nil {
		logger = logrus.New()
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	log := logger.WithField("policy_file", path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			policy, err := LoadPolicyFile(path)
			if err != nil {
				log.WithError(err).Warn("Ignoring invalid audit policy")
				continue
			}
			log.Info("Audit policy reloaded")
			onChange(policy)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Policy watcher error")
		}
	}
}
