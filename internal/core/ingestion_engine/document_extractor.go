package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"
	"github.com/gabriel-vasile/mimetype"

	"github.com/markdave123-py/Contexta/internal/core"
	"github.com/markdave123-py/Contexta/internal/models"
)

var _ core.TextExtractor = (*DocconvExtractor)(nil)

// plainTypes are read verbatim instead of going through docconv.
var plainTypes = map[string]string{
	".txt": "text/plain",
	".md":  "text/markdown",
	".vtt": "text/vtt",
	".srt": "application/x-subrip",
}

// DocconvExtractor implements core.TextExtractor using sajari/docconv.
// Sources are local paths or S3 objects (s3://bucket/key or a
// virtual-hosted https URL).
type DocconvExtractor struct {
	obj            core.ObjectClient
	useReadability bool
}

// NewDocconvExtractor builds an extractor; obj may be nil when only local
// files are ingested.
func NewDocconvExtractor(obj core.ObjectClient, useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{obj: obj, useReadability: useReadability}
}

func (e *DocconvExtractor) Extract(ctx context.Context, source string) (*models.RawText, error) {
	data, name, err := e.read(ctx, source)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ct, plain := contentType(name, data)
	var text string
	if plain {
		text = strings.ToValidUTF8(string(data), "�")
	} else {
		res, err := docconv.Convert(bytes.NewReader(data), ct, e.useReadability)
		if err != nil {
			return nil, fmt.Errorf("docconv %s: %w", ct, err)
		}
		text = res.Body
	}

	return &models.RawText{
		Source:      source,
		ContentType: ct,
		Text:        text,
	}, nil
}

// read loads the source bytes and returns the name used for type detection.
func (e *DocconvExtractor) read(ctx context.Context, source string) ([]byte, string, error) {
	if bucket, key, ok := ParseS3URL(source); ok {
		if e.obj == nil {
			return nil, "", fmt.Errorf("no object storage configured for %s", source)
		}
		rc, err := e.obj.GetObjectReader(ctx, bucket, key)
		if err != nil {
			return nil, "", fmt.Errorf("get object reader: %w", err)
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, "", fmt.Errorf("read object: %w", err)
		}
		return data, path.Base(key), nil
	}

	p := strings.TrimPrefix(source, "file://")
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, "", fmt.Errorf("read file: %w", err)
	}
	return data, filepath.Base(p), nil
}

// contentType resolves the MIME type from the extension, sniffing the
// content when the extension is unknown. plain reports text to be used as is.
func contentType(name string, data []byte) (ct string, plain bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := plainTypes[ext]; ok {
		return ct, true
	}
	if ext != "" {
		if ct := docconv.MimeTypeByExtension(name); ct != "" && ct != "application/octet-stream" {
			return ct, false
		}
	}
	ct, _, _ = strings.Cut(mimetype.Detect(data).String(), ";")
	ct = strings.TrimSpace(ct)
	return ct, ct == "text/plain"
}

// ParseS3URL extracts bucket and key from s3://bucket/key or a
// virtual-hosted style URL such as
// https://my-bucket.s3.us-east-2.amazonaws.com/path/to/file.pdf.
func ParseS3URL(raw string) (bucket, key string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	key = strings.TrimPrefix(u.Path, "/")

	switch u.Scheme {
	case "s3":
		bucket = u.Host
	case "https", "http":
		host := u.Hostname()
		i := strings.Index(host, ".s3.")
		if i <= 0 || !strings.HasSuffix(host, ".amazonaws.com") {
			return "", "", false
		}
		bucket = host[:i]
	default:
		return "", "", false
	}
	if bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
