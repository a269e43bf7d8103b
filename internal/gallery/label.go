// Package gallery knows the on-disk layout of galleries and query
// populations: root/<identity>/<image>. It recovers identity labels from
// paths through an explicit Labeler rather than a fixed path depth.
package gallery

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrLabel is returned when a path does not carry an identity label where
// the configured strategy expects one.
var ErrLabel = errors.New("gallery: cannot extract identity label")

// Labeler maps a gallery image path to the identity it belongs to.
type Labeler interface {
	Label(path string) (string, error)
}

// LabelFunc adapts a function to the Labeler interface.
type LabelFunc func(path string) (string, error)

// Label calls f(path).
func (f LabelFunc) Label(path string) (string, error) { return f(path) }

// RelativeSegment takes the directory segment at Index counted from Root.
// With Index 0, root/<identity>/img.jpg yields <identity>.
type RelativeSegment struct {
	Root  string
	Index int
}

// Label implements Labeler.
func (s RelativeSegment) Label(path string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(s.Root), filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s is not under %s", ErrLabel, path, s.Root)
	}
	return dirSegment(splitPath(rel), s.Index, path)
}

// AbsoluteSegment takes the directory segment at Index of the whole path,
// counting a leading separator as its own segment.
type AbsoluteSegment struct {
	Index int
}

// Label implements Labeler.
func (s AbsoluteSegment) Label(path string) (string, error) {
	parts := splitPath(filepath.Clean(path))
	if filepath.IsAbs(path) {
		parts = append([]string{string(filepath.Separator)}, parts...)
	}
	return dirSegment(parts, s.Index, path)
}

// ParentDir uses the name of the directory containing the image.
type ParentDir struct{}

// Label implements Labeler.
func (ParentDir) Label(path string) (string, error) {
	parent := filepath.Base(filepath.Dir(filepath.Clean(path)))
	if parent == "." || parent == string(filepath.Separator) || parent == "" {
		return "", fmt.Errorf("%w: %s has no parent directory", ErrLabel, path)
	}
	return parent, nil
}

// NewLabeler builds a strategy by name: "relative", "absolute" or "parent".
func NewLabeler(strategy, root string, index int) (Labeler, error) {
	if index < 0 {
		return nil, fmt.Errorf("label index must be non-negative, got %d", index)
	}
	switch strategy {
	case "relative", "":
		return RelativeSegment{Root: root, Index: index}, nil
	case "absolute":
		return AbsoluteSegment{Index: index}, nil
	case "parent":
		return ParentDir{}, nil
	default:
		return nil, fmt.Errorf("unknown label strategy %q", strategy)
	}
}

func splitPath(path string) []string {
	raw := strings.Split(filepath.ToSlash(path), "/")
	parts := raw[:0]
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// dirSegment returns parts[index] as long as it names a directory, i.e. is
// not the final file name.
func dirSegment(parts []string, index int, path string) (string, error) {
	if index < 0 || index >= len(parts)-1 {
		return "", fmt.Errorf("%w: %s has no directory segment %d", ErrLabel, path, index)
	}
	return parts[index], nil
}
