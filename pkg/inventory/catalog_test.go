package inventory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

const sample = `
resource_pools:
  - id: resgroup-20
    name: prod
    datacenter: dc-east
  - id: resgroup-10
    name: dev
ip_pools:
  - id: pool-1
    name: app-tier
folders:
  - id: group-v5
    name: web
datacenters:
  - id: datacenter-2
    name: dc-east
`

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}

	c, err := LoadFromFile(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	pools, err := c.List(ResourcePools)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pools) != 2 || pools[0].Name != "dev" || pools[1].Datacenter != "dc-east" {
		t.Errorf("expected pools sorted by name, got %+v", pools)
	}

	for _, section := range []string{IPPools, Folders, Datacenters} {
		items, err := c.List(section)
		if err != nil || len(items) != 1 {
			t.Errorf("%s: expected one item, got %v (%v)", section, items, err)
		}
	}

	if it, ok := c.Lookup(Folders, "group-v5"); !ok || it.Name != "web" {
		t.Errorf("Lookup failed: %+v %v", it, ok)
	}
	if _, ok := c.Lookup(Folders, "missing"); ok {
		t.Error("expected lookup miss")
	}
	if _, err := c.List("hosts"); err == nil {
		t.Error("expected error for unknown section")
	}
}

func TestEmptyPath(t *testing.T) {
	c, err := LoadFromFile("", zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	items, err := c.List(Datacenters)
	if err != nil || len(items) != 0 {
		t.Errorf("expected empty section, got %v (%v)", items, err)
	}
	if err := c.Reload(); err != nil {
		t.Errorf("Reload without a path should be a no-op: %v", err)
	}
}

func TestLoadBytesRejects(t *testing.T) {
	tests := map[string]string{
		"bad yaml":     "resource_pools: [",
		"missing name": "folders:\n  - id: group-v1\n",
		"missing id":   "folders:\n  - name: web\n",
		"duplicate id": "ip_pools:\n  - {id: p1, name: a}\n  - {id: p1, name: b}\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			c := NewCatalog(zerolog.Nop())
			if err := c.LoadBytes([]byte(sample)); err != nil {
				t.Fatalf("LoadBytes failed: %v", err)
			}
			if err := c.LoadBytes([]byte(doc)); err == nil {
				t.Fatal("expected error")
			}
			pools, _ := c.List(ResourcePools)
			if len(pools) != 2 {
				t.Error("a rejected document must not replace the catalog")
			}
		})
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}
	c, err := LoadFromFile(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	updated := strings.Replace(sample, "name: web", "name: web-tier", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("failed to rewrite catalog: %v", err)
	}
	if err := c.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if it, _ := c.Lookup(Folders, "group-v5"); it.Name != "web-tier" {
		t.Errorf("expected reloaded name, got %q", it.Name)
	}
}
