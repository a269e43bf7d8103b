package gallery

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Query is one labelled evaluation input: the identity being claimed and
// the image presented for it.
type Query struct {
	Identity string
	Path     string
}

// imageExtensions are the files picked up when walking a gallery.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".pgm":  true,
	".ppm":  true,
}

// ListPopulation enumerates root/<identity>/<image> in the order the
// filesystem lists entries. The order is not sorted and callers must not
// depend on any particular sort. Plain files directly under root,
// directories under an identity and dotfiles are skipped.
func ListPopulation(root string) ([]Query, error) {
	identities, err := listDir(root)
	if err != nil {
		return nil, err
	}

	var queries []Query
	for _, identity := range identities {
		if !identity.IsDir() || hidden(identity.Name()) {
			continue
		}
		dir := filepath.Join(root, identity.Name())
		images, err := listDir(dir)
		if err != nil {
			return nil, err
		}
		for _, img := range images {
			if img.IsDir() || hidden(img.Name()) {
				continue
			}
			queries = append(queries, Query{
				Identity: identity.Name(),
				Path:     filepath.Join(dir, img.Name()),
			})
		}
	}
	return queries, nil
}

// ImageFiles walks root recursively and returns every image file path.
func ImageFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && hidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if imageExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk gallery %s: %w", root, err)
	}
	return paths, nil
}

// listDir reads a directory without sorting, unlike os.ReadDir.
func listDir(dir string) ([]os.DirEntry, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	return entries, nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
