package cache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/crypto/sha3"
)

// Params are the alignment parameters that change the artifact contents.
type Params struct {
	Tolerance     time.Duration
	Interval      time.Duration
	DecoderMode   string
	ScaleExponent int
	PlausibleMin  float64
	PlausibleMax  float64
	SanityMin     float64
	SanityMax     float64
	FallbackFee   float64
	Extra         string
}

type inputFile struct {
	path  string
	size  int64
	mtime time.Time
}

// Fingerprint identifies a set of inputs and parameters. Directories are
// expanded to their regular files. Missing inputs are hashed as absent so
// that their later appearance invalidates the artifact.
func Fingerprint(inputs []string, p Params) (string, time.Time, error) {
	files, missing, err := collect(inputs)
	if err != nil {
		return "", time.Time{}, err
	}

	h := sha3.New256()
	var newest time.Time
	for _, f := range files {
		fmt.Fprintf(h, "file\t%s\t%d\t%d\n", f.path, f.size, f.mtime.UnixNano())
		if f.mtime.After(newest) {
			newest = f.mtime
		}
	}
	for _, m := range missing {
		fmt.Fprintf(h, "missing\t%s\n", m)
	}
	fmt.Fprintf(h, "params\t%d\t%d\t%s\t%d\t%g\t%g\t%g\t%g\t%g\t%s\n",
		int64(p.Tolerance), int64(p.Interval), p.DecoderMode, p.ScaleExponent,
		p.PlausibleMin, p.PlausibleMax, p.SanityMin, p.SanityMax, p.FallbackFee, p.Extra)

	return hex.EncodeToString(h.Sum(nil)), newest.UTC(), nil
}

func collect(inputs []string) ([]inputFile, []string, error) {
	var files []inputFile
	var missing []string
	for _, in := range inputs {
		if in == "" {
			continue
		}
		info, err := os.Stat(in)
		if errors.Is(err, fs.ErrNotExist) {
			missing = append(missing, filepath.Clean(in))
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("stat input %s: %w", in, err)
		}
		if !info.IsDir() {
			files = append(files, inputFile{path: filepath.Clean(in), size: info.Size(), mtime: info.ModTime()})
			continue
		}
		walkErr := filepath.WalkDir(in, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			files = append(files, inputFile{path: filepath.Clean(path), size: fi.Size(), mtime: fi.ModTime()})
			return nil
		})
		if walkErr != nil {
			return nil, nil, fmt.Errorf("walk input %s: %w", in, walkErr)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	sort.Strings(missing)
	return files, missing, nil
}
