package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/ha1tch/nusql/pkg/errors"
)

func testPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.yaml")
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(testPath(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Profiles) != 0 {
		t.Errorf("profiles = %v, want none", cfg.Profiles)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := testPath(t)
	cfg := &Config{
		Profiles: []Profile{
			{Name: "prod", Host: "db.example.com", Port: 1434, Database: "Sales",
				User: "svc", UseKeyring: true, TrustCert: true},
			{Name: "local", Database: "master", User: "sa", Password: "dev"},
		},
		Preferences: Preferences{DefaultProfile: "local"},
	}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Profiles) != 2 {
		t.Fatalf("profiles = %d, want 2", len(got.Profiles))
	}
	prod, ok := got.Find("prod")
	if !ok {
		t.Fatal("profile prod missing after round trip")
	}
	if prod.Host != "db.example.com" || prod.Port != 1434 || !prod.UseKeyring || !prod.TrustCert {
		t.Errorf("prod = %+v", prod)
	}
	if def, _ := got.DefaultProfile(); def.Name != "local" {
		t.Errorf("default profile = %q, want local", def.Name)
	}
}

func TestUpsertAndRemove(t *testing.T) {
	cfg := &Config{}
	cfg.Upsert(Profile{Name: "a", Host: "one"})
	cfg.Upsert(Profile{Name: "a", Host: "two"})
	if len(cfg.Profiles) != 1 || cfg.Profiles[0].Host != "two" {
		t.Errorf("profiles = %+v", cfg.Profiles)
	}
	if !cfg.Remove("a") || cfg.Remove("a") {
		t.Error("Remove bookkeeping wrong")
	}
}

func TestResolveUnknownProfile(t *testing.T) {
	cfg := &Config{}
	if _, err := cfg.Resolve("nope"); !errors.IsCode(err, errors.ErrCodeProfileNotFound) {
		t.Errorf("err = %v, want profile not found", err)
	}
}

func TestResolveInlinePassword(t *testing.T) {
	cfg := &Config{Profiles: []Profile{
		{Name: "local", User: "sa", Password: "dev"},
	}}
	d, err := cfg.Resolve("local")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Password != "dev" || d.Host != "" {
		t.Errorf("descriptor = %+v", d)
	}
}

func TestResolveKeyringPassword(t *testing.T) {
	keyring.MockInit()

	if err := StorePassword("prod", "s3cret"); err != nil {
		t.Fatalf("StorePassword: %v", err)
	}
	t.Cleanup(func() { DeletePassword("prod") })

	cfg := &Config{Profiles: []Profile{
		{Name: "prod", User: "svc", UseKeyring: true},
	}}
	d, err := cfg.Resolve("prod")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Password != "s3cret" {
		t.Errorf("password = %q", d.Password)
	}
}

func TestResolveKeyringMissingEntry(t *testing.T) {
	keyring.MockInit()

	cfg := &Config{Profiles: []Profile{
		{Name: "ghost", User: "svc", UseKeyring: true},
	}}
	if _, err := cfg.Resolve("ghost"); !errors.IsCode(err, errors.ErrCodeCredentials) {
		t.Errorf("err = %v, want credentials error", err)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := testPath(t)
	if err := Save(&Config{}, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, nil,
		WithDebounceDelay(50*time.Millisecond),
		WithOnReload(func(cfg *Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		}))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	changed := &Config{Profiles: []Profile{{Name: "new", User: "sa"}}}
	if err := Save(changed, path); err != nil {
		t.Fatalf("Save changed: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if _, ok := cfg.Find("new"); !ok {
			t.Errorf("reloaded config lacks new profile: %+v", cfg.Profiles)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
