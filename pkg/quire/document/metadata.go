package document

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	qerrors "github.com/vampirenirmal/quire/pkg/quire/errors"
	"github.com/vampirenirmal/quire/pkg/quire/value"
)

// Asset is a named resource a chapter can reference through the asset and
// mime directives.
type Asset struct {
	URL  string `yaml:"url" json:"url" validate:"required"`
	MIME string `yaml:"mime,omitempty" json:"mime,omitempty"`
}

// UnmarshalYAML accepts either a mapping or a bare string, which is shorthand
// for an asset with only a url.
func (a *Asset) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.Tag != "!!str" {
			return fmt.Errorf("line %d: asset must be a string or a mapping, got %s", node.Line, node.Tag)
		}
		*a = Asset{URL: node.Value}
		return nil
	}
	type plain Asset
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*a = Asset(p)
	return nil
}

// Assets maps asset names to their location.
type Assets map[string]Asset

// URLs returns the name to url mapping overlaid onto every render scope.
func (a Assets) URLs() value.Scope {
	out := make(value.Scope, len(a))
	for name, asset := range a {
		out[name] = value.String(asset.URL)
	}
	return out
}

// Metadata is the story-level information declared in the front matter.
type Metadata struct {
	Title   string
	Author  string
	Email   string
	Globals value.Scope
	Assets  Assets
}

// DefaultMetadata returns metadata with empty globals and assets.
func DefaultMetadata() Metadata {
	return Metadata{
		Globals: value.Scope{},
		Assets:  Assets{},
	}
}

// frontMatter mirrors the metadata shape. Pointer and nil-able fields
// distinguish absent keys from empty ones so later blocks only override what
// they declare.
type frontMatter struct {
	Title   *string          `yaml:"title"`
	Author  *string          `yaml:"author"`
	Email   *string          `yaml:"email"`
	Globals map[string]any   `yaml:"globals"`
	Assets  map[string]Asset `yaml:"assets" validate:"omitempty,dive"`
}

var validate = validator.New()

// applyFrontMatter decodes raw front matter and merges its present fields over
// the current metadata.
func applyFrontMatter(current Metadata, content string) (Metadata, error) {
	var fm frontMatter
	if err := yaml.Unmarshal([]byte(content), &fm); err != nil {
		return current, qerrors.NewMetadataError(content, fmt.Errorf("parsing front matter: %w", err))
	}
	if err := validate.Struct(&fm); err != nil {
		return current, qerrors.NewMetadataError(content, fmt.Errorf("validating front matter: %w", err))
	}

	merged := current
	if fm.Title != nil {
		merged.Title = *fm.Title
	}
	if fm.Author != nil {
		merged.Author = *fm.Author
	}
	if fm.Email != nil {
		merged.Email = *fm.Email
	}
	if fm.Globals != nil {
		globals, err := value.ScopeFromAny(fm.Globals)
		if err != nil {
			return current, qerrors.NewMetadataError(content, fmt.Errorf("globals: %w", err))
		}
		merged.Globals = globals
	}
	if fm.Assets != nil {
		merged.Assets = Assets(fm.Assets)
	}
	return merged, nil
}
