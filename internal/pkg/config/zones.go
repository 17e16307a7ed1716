package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/samirrijal/livetrack/internal/core/domain"
)

type zonesFile struct {
	Zones []domain.Geofence `yaml:"zones"`
}

// LoadZones reads geofences from a YAML file. A missing file yields no zones.
func LoadZones(path string) ([]domain.Geofence, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read zones: %w", err)
	}
	return ParseZones(data)
}

// ParseZones decodes and checks a zones document.
func ParseZones(data []byte) ([]domain.Geofence, error) {
	var f zonesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse zones: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Zones))
	for i, z := range f.Zones {
		if z.ID == "" {
			return nil, fmt.Errorf("zone %d: id is required", i)
		}
		if _, dup := seen[z.ID]; dup {
			return nil, fmt.Errorf("zone %s: duplicate id", z.ID)
		}
		seen[z.ID] = struct{}{}
		if len(z.Polygon) < 3 {
			return nil, fmt.Errorf("zone %s: polygon needs at least 3 vertices", z.ID)
		}
		for _, p := range z.Polygon {
			if !p.Valid() {
				return nil, fmt.Errorf("zone %s: invalid vertex %v,%v", z.ID, p.Lat, p.Lon)
			}
		}
	}
	return f.Zones, nil
}
