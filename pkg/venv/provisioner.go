// Package venv provisions isolated interpreter environments for skills that
// declare third-party dependencies. Each skill gets one virtualenv keyed by
// an order-independent fingerprint of its dependency set; matching
// fingerprints reuse the existing environment without rebuilding.
package venv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/stewardhq/steward/pkg/logger"
)

const markerFileName = ".steward-deps.yaml"

// marker records what an environment was built from, so a changed
// dependency set forces a rebuild.
type marker struct {
	Fingerprint  string   `yaml:"fingerprint"`
	Dependencies []string `yaml:"dependencies"`
}

// commandRunner abstracts subprocess execution so tests can stub the
// venv/pip invocations.
type commandRunner func(ctx context.Context, name string, args ...string) error

// Provisioner builds and caches isolated environments under a root
// directory. Interpreter paths are cached in memory per skill for the
// process lifetime.
type Provisioner struct {
	root   string
	python string
	run    commandRunner

	cache map[string]string
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithPython overrides the host interpreter used to create environments.
func WithPython(path string) Option {
	return func(p *Provisioner) {
		p.python = path
	}
}

// withRunner replaces subprocess execution; used by tests.
func withRunner(run commandRunner) Option {
	return func(p *Provisioner) {
		p.run = run
	}
}

// NewProvisioner creates a provisioner rooted at dir.
func NewProvisioner(root string, opts ...Option) *Provisioner {
	p := &Provisioner{
		root:   root,
		python: "python3",
		cache:  make(map[string]string),
	}
	p.run = p.execCommand
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fingerprint computes the order-independent fingerprint of a dependency
// set: duplicates collapse and declaration order never matters.
func Fingerprint(deps []string) string {
	set := make(map[string]struct{}, len(deps))
	for _, d := range deps {
		set[strings.TrimSpace(d)] = struct{}{}
	}
	sorted := make([]string, 0, len(set))
	for d := range set {
		sorted = append(sorted, d)
	}
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// Ensure returns the interpreter path for a skill, building the isolated
// environment if its dependency set changed or no environment exists.
// Dependency-free skills always use the host's own interpreter.
func (p *Provisioner) Ensure(ctx context.Context, skillName string, deps []string) (string, error) {
	if len(deps) == 0 {
		return p.python, nil
	}

	if cached, ok := p.cache[skillName]; ok {
		return cached, nil
	}

	fingerprint := Fingerprint(deps)
	envDir := filepath.Join(p.root, skillName)
	interpreter := filepath.Join(envDir, "bin", "python")

	if p.markerMatches(envDir, fingerprint) {
		if _, err := os.Stat(interpreter); err == nil {
			logger.G(ctx).WithField("skill", skillName).Debug("reusing isolated environment")
			p.cache[skillName] = interpreter
			return interpreter, nil
		}
	}

	if err := p.build(ctx, skillName, envDir, deps, fingerprint); err != nil {
		return "", err
	}

	p.cache[skillName] = interpreter
	return interpreter, nil
}

func (p *Provisioner) markerMatches(envDir, fingerprint string) bool {
	content, err := os.ReadFile(filepath.Join(envDir, markerFileName))
	if err != nil {
		return false
	}
	var m marker
	if err := yaml.Unmarshal(content, &m); err != nil {
		return false
	}
	return m.Fingerprint == fingerprint
}

func (p *Provisioner) build(ctx context.Context, skillName, envDir string, deps []string, fingerprint string) error {
	log := logger.G(ctx).WithField("skill", skillName).WithField("env", envDir)
	log.WithField("dependencies", len(deps)).Info("building isolated environment")

	if err := os.RemoveAll(envDir); err != nil {
		return errors.Wrap(err, "failed to remove stale environment")
	}
	if err := p.run(ctx, p.python, "-m", "venv", envDir); err != nil {
		return errors.Wrap(err, "failed to create virtualenv")
	}
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create environment directory")
	}

	pip := filepath.Join(envDir, "bin", "pip")
	installArgs := append([]string{"install", "--quiet"}, deps...)
	err := retry.Do(
		func() error { return p.run(ctx, pip, installArgs...) },
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithField("attempt", n+1).Warn("dependency install failed, retrying")
		}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to install dependencies")
	}

	content, err := yaml.Marshal(marker{Fingerprint: fingerprint, Dependencies: deps})
	if err != nil {
		return errors.Wrap(err, "failed to encode environment marker")
	}
	if err := os.WriteFile(filepath.Join(envDir, markerFileName), content, 0o644); err != nil {
		return errors.Wrap(err, "failed to write environment marker")
	}
	return nil
}

func (p *Provisioner) execCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s failed: %s", name, strings.TrimSpace(string(output)))
	}
	return nil
}
