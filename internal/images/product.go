package images

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joelkehle/designwatch/internal/analysis"
)

var supportedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// LoadProductImages reads product reference images from a directory,
// sorted by filename. maxImages caps the count to bound API cost.
func LoadProductImages(directory string, maxImages int) ([]analysis.Image, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if supportedExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var images []analysis.Image
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(directory, name))
		if err != nil {
			log.Printf("images: skipping unreadable product image %s: %v", name, err)
			continue
		}
		images = append(images, analysis.Image{Name: name, Data: data})
	}

	if maxImages > 0 && len(images) > maxImages {
		log.Printf("images: limiting product images from %d to %d", len(images), maxImages)
		images = images[:maxImages]
	}
	return images, nil
}
