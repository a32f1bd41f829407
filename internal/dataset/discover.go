package dataset

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/pkg/errors"
)

var (
	shardRegexp = regexp.MustCompile(`^shard-[0-9]{6,}\.tar$`)
	// gt_image_2/<category>_road_<index>.png pairs with image_2/<category>_<index>.png
	maskRegexp = regexp.MustCompile(`^([a-z]+)_road_([0-9]+)\.png$`)
)

// Pair is one training example: an RGB image and its road mask. Files found
// on disk carry paths; records read from shards carry the bytes inline.
type Pair struct {
	Key       string
	ImagePath string
	MaskPath  string
	Image     []byte
	Mask      []byte
}

func (p Pair) read() (image, mask []byte, err error) {
	image, mask = p.Image, p.Mask
	if image == nil {
		if image, err = os.ReadFile(p.ImagePath); err != nil {
			return nil, nil, errors.Wrapf(err, "read image %s", p.Key)
		}
	}
	if mask == nil {
		if mask, err = os.ReadFile(p.MaskPath); err != nil {
			return nil, nil, errors.Wrapf(err, "read mask %s", p.Key)
		}
	}
	return image, mask, nil
}

// DiscoverPairs lists the KITTI road training pairs below dir
// (dir/image_2 and dir/gt_image_2), sorted by key.
func DiscoverPairs(dir string) ([]Pair, error) {
	maskDir := filepath.Join(dir, "gt_image_2")
	imageDir := filepath.Join(dir, "image_2")
	entries, err := os.ReadDir(maskDir)
	if err != nil {
		return nil, errors.Wrap(err, "discover pairs")
	}
	pairs := make([]Pair, 0, len(entries))
	for _, e := range entries {
		m := maskRegexp.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		key := m[1] + "_" + m[2]
		img := filepath.Join(imageDir, key+".png")
		if _, err := os.Stat(img); err != nil {
			return nil, errors.Wrapf(err, "image for mask %s", e.Name())
		}
		pairs = append(pairs, Pair{Key: key, ImagePath: img, MaskPath: filepath.Join(maskDir, e.Name())})
	}
	if len(pairs) == 0 {
		return nil, errors.Errorf("discover pairs: no masks in %s", maskDir)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	return pairs, nil
}

// DiscoverImages lists the PNG files directly inside dir, sorted.
func DiscoverImages(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, errors.Wrap(err, "discover images")
	}
	sort.Strings(paths)
	return paths, nil
}

// DiscoverShards returns paths to shard TAR files beneath root.
func DiscoverShards(root string) ([]string, error) {
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && shardRegexp.MatchString(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "discover shards")
	}
	sort.Strings(entries)
	return entries, nil
}
