// Package catalog loads migration object definitions from YAML and installs
// them into a registry. A default catalog and matching mock fixtures are
// embedded for the CLI, tests and mock-mode servers.
package catalog

import (
	"bytes"
	"embed"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/feichai0017/migration-orchestrator/internal/migration"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
)

//go:embed defaults/catalog.yaml defaults/fixtures/*.json
var defaults embed.FS

// Catalog is a versioned list of object definitions in registration order.
type Catalog struct {
	Version string                 `yaml:"version" json:"version"`
	Objects []migration.Definition `yaml:"objects" json:"objects"`
}

// Registrar receives built objects.
type Registrar interface {
	Register(obj migration.Object) error
}

// Parse decodes a YAML catalog. Unknown keys are rejected.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, errors.Wrap(err, "failed to decode catalog")
	}
	seen := make(map[string]bool, len(c.Objects))
	for _, def := range c.Objects {
		if err := def.Check(); err != nil {
			return nil, errors.Wrap(err, "invalid object definition")
		}
		if seen[def.ID] {
			return nil, errors.Newf("object %s is defined twice", def.ID)
		}
		seen[def.ID] = true
	}
	return &c, nil
}

// Load reads the catalog at path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read catalog %s", path)
	}
	return Parse(data)
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	data, err := defaults.ReadFile("defaults/catalog.yaml")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read embedded catalog")
	}
	return Parse(data)
}

// Fixtures returns the embedded mock tables, one <table>.json per source table.
func Fixtures() fs.FS {
	sub, err := fs.Sub(defaults, "defaults/fixtures")
	if err != nil {
		panic(err)
	}
	return sub
}

// FixturesFrom returns fixtures read from dir, or the embedded set when dir is empty.
func FixturesFrom(dir string) fs.FS {
	if dir == "" {
		return Fixtures()
	}
	return os.DirFS(dir)
}

// Build turns every definition into an object, attaching named hooks.
func (c *Catalog) Build(hooks *HookFactory) ([]migration.Object, error) {
	if hooks == nil {
		hooks = NewHookFactory(nil)
	}
	objects := make([]migration.Object, 0, len(c.Objects))
	for _, def := range c.Objects {
		obj, err := migration.NewDeclarative(def)
		if err != nil {
			return nil, err
		}
		if def.Hook != "" {
			hook, err := hooks.Get(def.Hook)
			if err != nil {
				return nil, errors.Wrapf(err, "object %s", def.ID)
			}
			obj.SetHook(hook)
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// Install builds the catalog and registers each object in order.
func Install(reg Registrar, c *Catalog, hooks *HookFactory, log logger.Logger) error {
	if log == nil {
		log = logger.NewNop()
	}
	objects, err := c.Build(hooks)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := reg.Register(obj); err != nil {
			return errors.Wrapf(err, "failed to register %s", obj.ID())
		}
	}
	log.Info("Catalog installed",
		logger.String("version", c.Version),
		logger.Int("objects", len(objects)),
	)
	return nil
}
