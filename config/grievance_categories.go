package config

import (
	_ "embed"
	"fmt"
	"os"

	"grievance_server/core/domain"
	"grievance_server/pkg/apperr"

	"gopkg.in/yaml.v3"
)

//go:embed grievance_categories.yaml
var defaultCategoriesYAML []byte

type categoryFile struct {
	Categories []domain.CategoryRule `yaml:"categories"`
}

// LoadCategoryTable reads the category table from path, or the embedded
// default when path is empty. Any problem is a configuration error.
func LoadCategoryTable(path string) (*domain.CategoryTable, error) {
	data := defaultCategoriesYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, apperr.ConfigError(fmt.Sprintf("read category file %s", path)).WithError(err)
		}
		data = b
	}
	return ParseCategoryTable(data)
}

// ParseCategoryTable decodes and validates a YAML category table.
func ParseCategoryTable(data []byte) (*domain.CategoryTable, error) {
	var f categoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, apperr.ConfigError("invalid category yaml").WithError(err)
	}
	table, err := domain.NewCategoryTable(f.Categories)
	if err != nil {
		return nil, apperr.ConfigError("invalid category table").WithError(err)
	}
	return table, nil
}
