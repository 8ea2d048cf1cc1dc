package policy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// reloadDelay coalesces a burst of file events into one reload.
const reloadDelay = 500 * time.Millisecond

// Loader reads site policies from disk.
//
// A .rego file is one policy named after the file. Its leading comment block
// is the description, except for "severity:" and "tags:" lines which set
// those fields. A .yaml or .yml file describes one policy explicitly and
// either embeds the module under "rego" or points at it with "rego_file",
// resolved relative to the descriptor.
type Loader struct {
	logger zerolog.Logger
}

func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFromPaths loads every policy file named by paths. Directories are
// walked recursively and unreadable files in them are skipped with a
// warning; a file named directly must load.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var out []Policy
	for _, root := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", root, err)
		}
		if !info.IsDir() {
			p, err := l.loadFile(root)
			if err != nil {
				return nil, err
			}
			out = append(out, *p)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !isPolicyFile(path) {
				return err
			}
			p, err := l.loadFile(path)
			if err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
				return nil
			}
			out = append(out, *p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	l.logger.Info().Int("policies", len(out)).Strs("paths", paths).Msg("Policies loaded")
	return out, nil
}

func (l *Loader) loadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}

	var p *Policy
	switch filepath.Ext(path) {
	case ".rego":
		p = parseRego(path, string(data))
	case ".yaml", ".yml":
		if p, err = parseDescriptor(path, data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported policy file: %s", path)
	}

	p.Source = path
	p.Builtin = false
	return p, nil
}

func parseRego(path, content string) *Policy {
	p := &Policy{
		Name:     strings.TrimSuffix(filepath.Base(path), ".rego"),
		Rego:     content,
		Severity: SeverityWarning,
		Enabled:  true,
	}

	var desc []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			if line == "" && len(desc) == 0 {
				continue
			}
			break
		}
		comment := strings.TrimSpace(strings.TrimPrefix(line, "#"))
		if v, ok := strings.CutPrefix(comment, "severity:"); ok {
			p.Severity = Severity(strings.TrimSpace(v))
			continue
		}
		if v, ok := strings.CutPrefix(comment, "tags:"); ok {
			for _, tag := range strings.Split(v, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					p.Tags = append(p.Tags, tag)
				}
			}
			continue
		}
		if comment != "" {
			desc = append(desc, comment)
		}
	}
	p.Description = strings.Join(desc, " ")
	return p
}

// descriptor is the YAML form of a policy.
type descriptor struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Severity    Severity `yaml:"severity"`
	Tags        []string `yaml:"tags"`
	Enabled     *bool    `yaml:"enabled"`
	Rego        string   `yaml:"rego"`
	RegoFile    string   `yaml:"rego_file"`
}

func parseDescriptor(path string, data []byte) (*Policy, error) {
	var d descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse policy descriptor: %w", err)
	}
	if d.Name == "" {
		return nil, errors.New("policy descriptor has no name")
	}

	rego := d.Rego
	if d.RegoFile != "" {
		if rego != "" {
			return nil, fmt.Errorf("policy %s sets both rego and rego_file", d.Name)
		}
		ref := d.RegoFile
		if !filepath.IsAbs(ref) {
			ref = filepath.Join(filepath.Dir(path), ref)
		}
		b, err := os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("failed to read rego_file of %s: %w", d.Name, err)
		}
		rego = string(b)
	}
	if rego == "" {
		return nil, fmt.Errorf("policy %s has no rego module", d.Name)
	}

	p := &Policy{
		Name:        d.Name,
		Description: d.Description,
		Rego:        rego,
		Severity:    d.Severity,
		Tags:        d.Tags,
		Enabled:     d.Enabled == nil || *d.Enabled,
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	return p, nil
}

// Watch calls reload with a fresh load of paths after policy files under
// them change. It returns once the watcher is running; it stops with ctx.
// A single file path is watched through its directory so that editors which
// replace the file on save are still seen.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", root).Msg("Not watching missing policy path")
			continue
		}
		if !info.IsDir() {
			err = watcher.Add(filepath.Dir(root))
		} else {
			err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
				if err != nil || !d.IsDir() {
					return err
				}
				return watcher.Add(p)
			})
		}
		if err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
	}

	go l.watch(ctx, watcher, paths, reload)
	l.logger.Info().Strs("paths", paths).Msg("Watching policy paths")
	return nil
}

func (l *Loader) watch(ctx context.Context, watcher *fsnotify.Watcher, paths []string, reload func([]Policy) error) {
	defer watcher.Close()

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&relevant == 0 || !isPolicyFile(ev.Name) {
				continue
			}
			l.logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("Policy file changed")
			timer.Reset(reloadDelay)

		case <-timer.C:
			policies, err := l.LoadFromPaths(ctx, paths)
			if err == nil {
				err = reload(policies)
			}
			if err != nil {
				l.logger.Error().Err(err).Msg("Policy reload failed, keeping previous set")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}
