package processor

import (
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestName is the tar member holding the archive manifest.
const ManifestName = ".courier-manifest.yaml"

const manifestVersion = 1

// Manifest describes the members of a packed archive.
type Manifest struct {
	Version     int             `yaml:"version"`
	CreatedAt   time.Time       `yaml:"created_at"`
	Compression string          `yaml:"compression"`
	Encrypted   bool            `yaml:"encrypted"`
	Files       []ManifestEntry `yaml:"files"`
}

// ManifestEntry is one archived file.
type ManifestEntry struct {
	Name   string `yaml:"name"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256"`
}

func (m *Manifest) marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

func parseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
