package evaluator

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"tangram/internal/artifact"
	"tangram/internal/blob"
	"tangram/internal/checksum"
	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/terror"
	"tangram/internal/value"
)

// evaluateResource dispatches a Resource operation (spec §4.4 case 2):
// stream the URL's body through a checksum writer into a temp file, verify
// the digest, and either store it as a single File artifact or unpack it
// into a Directory tree.
func (e *Evaluator) evaluateResource(ctx context.Context, r object.Resource, b *logBuilder) (value.Value, []id.ID, error) {
	b.appendLine("fetching " + r.URL)

	tmp, err := os.CreateTemp(e.cfg.Paths().Temps, "resource-*")
	if err != nil {
		return value.Value{}, nil, terror.Wrap(terror.IO, err, "create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	defer tmp.Close()

	algo := checksum.SHA256
	if r.Checksum != nil {
		algo = r.Checksum.Algorithm
	}
	w, err := checksum.NewWriter(algo, tmp)
	if err != nil {
		return value.Value{}, nil, err
	}

	if err := fetch(ctx, r.URL, w); err != nil {
		return value.Value{}, nil, err
	}
	if err := tmp.Close(); err != nil {
		return value.Value{}, nil, terror.Wrap(terror.IO, err, "close temp file")
	}

	sum := w.Sum()
	if r.Checksum != nil {
		if err := w.Verify(*r.Checksum); err != nil {
			return value.Value{}, nil, terror.Wrap(terror.ChecksumMismatch, err, "resource %s", r.URL)
		}
	}
	b.appendLine("checksum " + sum.String())

	var artifactID id.ID
	if r.Unpack == "" {
		artifactID, err = checkInResourceFile(ctx, e, tmpPath)
	} else {
		artifactID, err = unpackResource(ctx, e, tmpPath, r.Unpack)
	}
	if err != nil {
		return value.Value{}, nil, err
	}

	return value.NewArtifact(artifactID), nil, nil
}

func fetch(ctx context.Context, url string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return terror.Wrap(terror.Invalid, err, "build request for %s", url)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return terror.Wrap(terror.Network, err, "fetch %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return terror.New(terror.Network, "fetch %s: status %s", url, resp.Status)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return terror.Wrap(terror.Network, err, "download %s", url)
	}
	return nil
}

func checkInResourceFile(ctx context.Context, e *Evaluator, path string) (id.ID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return id.ID{}, terror.Wrap(terror.IO, err, "read downloaded file")
	}
	blobID, err := blob.New(ctx, e.store, bytes.NewReader(data))
	if err != nil {
		return id.ID{}, err
	}
	return e.store.PutObject(ctx, object.File{Blob: blobID, Executable: false})
}

// unpackResource extracts an archive into a scratch directory and checks it
// in as a Directory artifact tree (spec §3 Resource.unpack:
// tar/tar.gz/tar.bz2/tar.xz/tar.zst/zip).
func unpackResource(ctx context.Context, e *Evaluator, archivePath, kind string) (id.ID, error) {
	dest, err := os.MkdirTemp(e.cfg.Paths().Temps, "unpack-*")
	if err != nil {
		return id.ID{}, terror.Wrap(terror.IO, err, "create unpack dir")
	}
	defer os.RemoveAll(dest)

	f, err := os.Open(archivePath)
	if err != nil {
		return id.ID{}, terror.Wrap(terror.IO, err, "open archive")
	}
	defer f.Close()

	switch kind {
	case "zip":
		if err := unzip(archivePath, dest); err != nil {
			return id.ID{}, err
		}
	case "tar":
		if err := untar(f, dest); err != nil {
			return id.ID{}, err
		}
	case "tar.gz", "tgz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return id.ID{}, terror.Wrap(terror.Invalid, err, "open gzip archive")
		}
		defer gz.Close()
		if err := untar(gz, dest); err != nil {
			return id.ID{}, err
		}
	case "tar.bz2", "tbz2":
		if err := untar(bzip2.NewReader(f), dest); err != nil {
			return id.ID{}, err
		}
	case "tar.xz", "txz":
		xr, err := xz.NewReader(f)
		if err != nil {
			return id.ID{}, terror.Wrap(terror.Invalid, err, "open xz archive")
		}
		if err := untar(xr, dest); err != nil {
			return id.ID{}, err
		}
	case "tar.zst", "tzst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return id.ID{}, terror.Wrap(terror.Invalid, err, "open zstd archive")
		}
		defer zr.Close()
		if err := untar(zr, dest); err != nil {
			return id.ID{}, err
		}
	default:
		return id.ID{}, terror.New(terror.Invalid, "resource: unsupported unpack format %q", kind)
	}

	return artifact.CheckIn(ctx, e.store, dest)
}

func untar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return terror.Wrap(terror.Invalid, err, "read tar entry")
		}
		target := filepath.Join(dest, filepath.Clean("/"+hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return terror.Wrap(terror.IO, err, "mkdir %s", target)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return terror.Wrap(terror.IO, err, "mkdir %s", filepath.Dir(target))
			}
			mode := os.FileMode(0o644)
			if hdr.Mode&0o111 != 0 {
				mode = 0o755
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
			if err != nil {
				return terror.Wrap(terror.IO, err, "create %s", target)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return terror.Wrap(terror.IO, err, "write %s", target)
			}
			out.Close()
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return terror.Wrap(terror.IO, err, "mkdir %s", filepath.Dir(target))
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return terror.Wrap(terror.IO, err, "symlink %s", target)
			}
		}
	}
}

func unzip(archivePath, dest string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return terror.Wrap(terror.Invalid, err, "open zip archive")
	}
	defer zr.Close()

	for _, zf := range zr.File {
		target := filepath.Join(dest, filepath.Clean("/"+zf.Name))
		if strings.HasSuffix(zf.Name, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return terror.Wrap(terror.IO, err, "mkdir %s", target)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return terror.Wrap(terror.IO, err, "mkdir %s", filepath.Dir(target))
		}
		rc, err := zf.Open()
		if err != nil {
			return terror.Wrap(terror.Invalid, err, "open zip entry %s", zf.Name)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, zf.Mode())
		if err != nil {
			rc.Close()
			return terror.Wrap(terror.IO, err, "create %s", target)
		}
		_, copyErr := io.Copy(out, rc)
		out.Close()
		rc.Close()
		if copyErr != nil {
			return terror.Wrap(terror.IO, copyErr, "write %s", target)
		}
	}
	return nil
}
