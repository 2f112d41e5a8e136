package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	ContentTypeCSV     = "text/csv"
	ContentTypeParquet = "application/vnd.apache.parquet"
	contentTypeDefault = "application/octet-stream"
)

// Publisher uploads the local files a run produced.
type Publisher struct {
	store ObjectStore
}

func NewPublisher(store ObjectStore) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return &Publisher{store: store}, nil
}

// Publish uploads each file under ArtifactKey(file), checks the stored size
// against the local one, and stops at the first failure. The infos of the files uploaded so far are returned either way.
func (p *Publisher) Publish(ctx context.Context, files ...string) ([]ObjectInfo, error) {
	infos := make([]ObjectInfo, 0, len(files))
	for _, local := range files {
		info, err := p.publishFile(ctx, local)
		if err != nil {
			return infos, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (p *Publisher) publishFile(ctx context.Context, local string) (ObjectInfo, error) {
	key, err := ArtifactKey(local)
	if err != nil {
		return ObjectInfo{}, err
	}
	file, err := os.Open(local)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("open artifact %q: %w", local, err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat artifact %q: %w", local, err)
	}
	info, err := p.store.Put(ctx, key, file, stat.Size(), PutOptions{ContentType: ContentType(local)})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("publish artifact %q: %w", local, err)
	}

	stored, err := p.store.Stat(ctx, key)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("verify artifact %q: %w", local, err)
	}
	if stored.Size != stat.Size() {
		return ObjectInfo{}, fmt.Errorf("verify artifact %q: stored %d bytes, want %d", local, stored.Size, stat.Size())
	}
	info.Size = stored.Size
	return info, nil
}

// ArtifactKey turns a local artifact path into an object key: slash
// separated, cleaned, without a leading slash or parent-directory hops.
func ArtifactKey(local string) (string, error) {
	cleaned := path.Clean(filepath.ToSlash(local))
	parts := strings.Split(cleaned, "/")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		kept = append(kept, part)
	}
	if len(kept) == 0 {
		return "", fmt.Errorf("invalid artifact path: %q", local)
	}
	return strings.Join(kept, "/"), nil
}

func ContentType(local string) string {
	switch strings.ToLower(filepath.Ext(local)) {
	case ".csv":
		return ContentTypeCSV
	case ".parquet":
		return ContentTypeParquet
	default:
		return contentTypeDefault
	}
}
