package storage

import (
	"context"
	"fmt"
	"strings"
)

const storyExt = ".md"

// Library is a flat directory of story documents addressed by name.
type Library struct {
	store Storage
}

func NewLibrary(store Storage) *Library {
	return &Library{store: store}
}

// Names lists the stories in the library, sorted.
func (l *Library) Names(ctx context.Context) ([]string, error) {
	paths, err := l.store.List(ctx, "*"+storyExt)
	if err != nil {
		return nil, fmt.Errorf("listing stories: %w", err)
	}

	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, strings.TrimSuffix(p, storyExt))
	}
	return names, nil
}

// Read returns the document text of the named story.
func (l *Library) Read(ctx context.Context, name string) (string, error) {
	if Slug(name) != name {
		return "", fmt.Errorf("invalid story name %q: %w", name, ErrNotFound)
	}
	data, err := l.store.Load(ctx, name+storyExt)
	if err != nil {
		return "", fmt.Errorf("reading story %q: %w", name, err)
	}
	return string(data), nil
}

// Write stores a story document under the slug of name and returns the slug.
func (l *Library) Write(ctx context.Context, name, text string) (string, error) {
	slug := Slug(name)
	if err := l.store.Save(ctx, slug+storyExt, []byte(text)); err != nil {
		return "", fmt.Errorf("writing story %q: %w", slug, err)
	}
	return slug, nil
}

// Slug converts a title to a safe file name: lower case, hyphen separated,
// at most 60 characters.
func Slug(s string) string {
	const maxLen = 60

	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '.', r == '/', r == '\\', r == ':':
			b.WriteRune('-')
		}
	}
	slug := b.String()

	// Remove multiple consecutive hyphens
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")

	if len(slug) > maxLen {
		slug = strings.TrimRight(slug[:maxLen], "-")
	}
	if slug == "" {
		slug = "story"
	}
	return slug
}
