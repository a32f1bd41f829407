package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const (
	defaultPendingCap = 1024
	maskSuffix        = ".gt.png"
)

// StreamShard streams image/mask pairs from the shard at path. Members are
// grouped by key: <key>.png (or .jpg) is the image and <key>.gt.png the mask.
func StreamShard(ctx context.Context, path string, pendingCap int) (<-chan Pair, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Pair)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- errors.Wrap(err, "open shard")
			return
		}
		defer f.Close()

		tr := tar.NewReader(bufio.NewReader(f))
		pending := make(map[string]*Pair)

		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errCh <- errors.Wrapf(err, "read tar %s", path)
				return
			}
			if hdr.FileInfo().IsDir() {
				continue
			}
			key, isMask, ok := memberKey(hdr.Name)
			if !ok {
				continue
			}
			data, err := io.ReadAll(tr)
			if err != nil {
				errCh <- errors.Wrapf(err, "read member %s", hdr.Name)
				return
			}
			part := pending[key]
			if part == nil {
				part = &Pair{Key: key}
				pending[key] = part
			}
			if isMask {
				part.Mask = data
			} else {
				part.Image = data
			}
			if len(pending) > pendingCap {
				errCh <- ErrPendingOverflow
				return
			}
			if len(part.Image) == 0 || len(part.Mask) == 0 {
				continue
			}
			delete(pending, key)
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- *part:
			}
		}

		if len(pending) > 0 {
			errCh <- errors.Errorf("shard %s: %d pairs incomplete", path, len(pending))
		}
	}()

	return out, errCh
}

// memberKey splits a tar member name into its pair key and role.
func memberKey(name string) (key string, isMask, ok bool) {
	base := filepath.Base(name)
	lower := strings.ToLower(base)
	if strings.HasSuffix(lower, maskSuffix) {
		return base[:len(base)-len(maskSuffix)], true, true
	}
	switch ext := filepath.Ext(lower); ext {
	case ".png", ".jpg", ".jpeg":
		return base[:len(base)-len(ext)], false, true
	}
	return "", false, false
}
