package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upcycle-sh/upcycle/internal/service"
)

const validYAML = `
repo:
  path: /srv/app
  remote: origin
  branch: main
poll_interval: 90s
stage_timeout: 2m
deps:
  manifests:
    - package.json
    - package-lock.json
  sync_command: ["npm", "ci"]
  state_file: /var/lib/upcycle/deps.digest
log:
  path: /var/log/upcycle/cycles.jsonl
  db: /var/lib/upcycle/cycles.db
services:
  - name: web-server
    unit: app-web.service
    order: 1
    criticality: required
    retries: 10
    backoff: 3s
    health:
      command: ["curl", "-sf", "http://localhost:8080/healthz"]
  - name: tunnel
    unit: cloudflared.service
    order: 2
    criticality: optional
`

func TestParse_Valid(t *testing.T) {
	cfg, err := Parse("upcycle.yaml", []byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "/srv/app", cfg.Repo.Path)
	assert.Equal(t, 90*time.Second, cfg.PollInterval.Std())
	assert.Equal(t, 2*time.Minute, cfg.StageTimeout.Std())
	assert.Equal(t, []string{"npm", "ci"}, cfg.Deps.SyncCommand)
	require.Len(t, cfg.Services, 2)
	assert.Equal(t, "web-server", cfg.Services[0].Name)
	assert.Equal(t, 10, cfg.Services[0].Retries)
}

func TestParse_DefaultsApplied(t *testing.T) {
	minimal := `
repo:
  path: /srv/app
deps:
  manifests: [package.json]
  sync_command: [npm, ci]
  state_file: /var/lib/upcycle/deps.digest
log:
  path: /var/log/upcycle/cycles.jsonl
  db: /var/lib/upcycle/cycles.db
services:
  - name: web-server
    unit: app-web.service
    order: 1
    criticality: required
`
	cfg, err := Parse("upcycle.yaml", []byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, DefaultRemote, cfg.Repo.Remote)
	assert.Equal(t, DefaultBranch, cfg.Repo.Branch)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval.Std())
	assert.Equal(t, DefaultStageTimeout, cfg.StageTimeout.Std())
	assert.Equal(t, DefaultRetries, cfg.Services[0].Retries)
	assert.Equal(t, DefaultBackoff, cfg.Services[0].Backoff.Std())
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing repo path",
			yaml: `
repo: {}
deps:
  manifests: [package.json]
  sync_command: [npm, ci]
  state_file: /tmp/state
log: {path: /tmp/log.jsonl, db: /tmp/log.db}
services:
  - {name: a, unit: a.service, order: 1, criticality: required}
`,
		},
		{
			name: "bad criticality",
			yaml: `
repo: {path: /srv/app}
deps:
  manifests: [package.json]
  sync_command: [npm, ci]
  state_file: /tmp/state
log: {path: /tmp/log.jsonl, db: /tmp/log.db}
services:
  - {name: a, unit: a.service, order: 1, criticality: mandatory}
`,
		},
		{
			name: "bad duration string",
			yaml: `
repo: {path: /srv/app}
poll_interval: sixty seconds
deps:
  manifests: [package.json]
  sync_command: [npm, ci]
  state_file: /tmp/state
log: {path: /tmp/log.jsonl, db: /tmp/log.db}
services:
  - {name: a, unit: a.service, order: 1, criticality: required}
`,
		},
		{
			name: "empty services",
			yaml: `
repo: {path: /srv/app}
deps:
  manifests: [package.json]
  sync_command: [npm, ci]
  state_file: /tmp/state
log: {path: /tmp/log.jsonl, db: /tmp/log.db}
services: []
`,
		},
		{
			name: "empty sync command",
			yaml: `
repo: {path: /srv/app}
deps:
  manifests: [package.json]
  sync_command: []
  state_file: /tmp/state
log: {path: /tmp/log.jsonl, db: /tmp/log.db}
services:
  - {name: a, unit: a.service, order: 1, criticality: required}
`,
		},
		{
			name: "unknown top-level field",
			yaml: validYAML + "\nmetrics_port: 9090\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse("upcycle.yaml", []byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_ErrorNamesOffendingField(t *testing.T) {
	bad := `
repo: {path: /srv/app}
deps:
  manifests: [package.json]
  sync_command: [npm, ci]
  state_file: /tmp/state
log: {path: /tmp/log.jsonl, db: /tmp/log.db}
services:
  - {name: a, unit: a.service, order: 1, criticality: mandatory}
`
	_, err := Parse("upcycle.yaml", []byte(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "criticality")
}

func TestParse_DuplicateServiceNames(t *testing.T) {
	dup := `
repo: {path: /srv/app}
deps:
  manifests: [package.json]
  sync_command: [npm, ci]
  state_file: /tmp/state
log: {path: /tmp/log.jsonl, db: /tmp/log.db}
services:
  - {name: web, unit: a.service, order: 1, criticality: required}
  - {name: web, unit: b.service, order: 2, criticality: optional}
`
	_, err := Parse("upcycle.yaml", []byte(dup))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate service name")
}

func TestParse_HealthModesMutuallyExclusive(t *testing.T) {
	bad := `
repo: {path: /srv/app}
deps:
  manifests: [package.json]
  sync_command: [npm, ci]
  state_file: /tmp/state
log: {path: /tmp/log.jsonl, db: /tmp/log.db}
services:
  - name: web
    unit: a.service
    order: 1
    criticality: required
    health:
      manager: true
      command: [curl, -sf, http://localhost/healthz]
`
	_, err := Parse("upcycle.yaml", []byte(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestToDescriptors(t *testing.T) {
	cfg, err := Parse("upcycle.yaml", []byte(validYAML))
	require.NoError(t, err)

	descs := cfg.ToDescriptors()
	require.Len(t, descs, 2)

	web := descs[0]
	assert.Equal(t, "web-server", web.Name)
	assert.Equal(t, "app-web.service", web.Unit)
	assert.Equal(t, 1, web.StartupOrder)
	assert.Equal(t, service.Required, web.Criticality)
	assert.Equal(t, service.HealthCommand, web.Health.Mode)
	assert.Equal(t, []string{"curl", "-sf", "http://localhost:8080/healthz"}, web.Health.Command)

	tunnel := descs[1]
	assert.Equal(t, service.Optional, tunnel.Criticality)
	assert.Equal(t, service.HealthManager, tunnel.Health.Mode, "no health block defaults to asking the manager")
	assert.Empty(t, tunnel.Health.Command)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upcycle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/app", cfg.Repo.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
