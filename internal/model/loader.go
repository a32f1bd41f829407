package model

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"roadseg/internal/errs"
)

// Artifact layout inside a backbone directory.
const (
	ManifestFile  = "saved_model.yaml"
	VariablesFile = "variables/variables.born"
)

// Manifest describes a saved backbone.
type Manifest struct {
	Tags         []string     `yaml:"tags"`
	Endpoints    []string     `yaml:"endpoints"`
	Architecture BackboneSpec `yaml:"architecture"`
}

// LoadBackbone restores a pretrained encoder from dir into the session.
// On any failure the session's variable scope is left untouched.
func LoadBackbone(sess *Session, dir string) (*Backbone, error) {
	manifest, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	b, err := NewBackbone(sess, manifest.Architecture)
	if err != nil {
		return nil, errs.WrapLoad("architecture", err)
	}
	path := filepath.Join(dir, VariablesFile)
	if _, err := nn.Load[*Engine](path, sess.Engine(), b); err != nil {
		return nil, errs.WrapLoad("variables "+path, err)
	}
	if err := sess.register(GroupBackbone, b.layers()); err != nil {
		return nil, errs.WrapLoad("register", err)
	}
	return b, nil
}

func readManifest(dir string) (Manifest, error) {
	var m Manifest
	path := filepath.Join(dir, ManifestFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, errs.WrapLoad("manifest", err)
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, errs.WrapLoad("manifest "+path, err)
	}
	if !slices.Contains(m.Tags, BackboneTag) {
		return m, errs.Load("manifest", "tag %q not found in %v", BackboneTag, m.Tags)
	}
	var missing []string
	for _, name := range RequiredEndpoints() {
		if !slices.Contains(m.Endpoints, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return m, errs.Load("manifest", "missing endpoints %s", strings.Join(missing, ", "))
	}
	return m, nil
}

// SaveBackbone writes b as an artifact LoadBackbone accepts.
func SaveBackbone(b *Backbone, dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, filepath.Dir(VariablesFile)), 0o755); err != nil {
		return errors.Wrap(err, "create backbone dir")
	}
	raw, err := yaml.Marshal(Manifest{
		Tags:         []string{BackboneTag, "serve"},
		Endpoints:    RequiredEndpoints(),
		Architecture: b.spec,
	})
	if err != nil {
		return errors.Wrap(err, "encode manifest")
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), raw, 0o644); err != nil {
		return errors.Wrap(err, "write manifest")
	}
	if err := nn.Save[*Engine](b, filepath.Join(dir, VariablesFile), BackboneTag, nil); err != nil {
		return errors.Wrap(err, "write variables")
	}
	return nil
}
