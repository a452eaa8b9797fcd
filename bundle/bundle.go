// Package bundle moves cache generations in and out of OCI image layouts.
//
// A bundle lets a host start with a populated cache and no network: export a
// cache where the origin is reachable, copy the layout directory, and import
// it on the offline host.
//
// A bundle is an OCI artifact with an empty config and these layers:
//   - one FlatBuffers index listing every stored response without its body
//   - one layer per distinct body, addressed by its sha256 digest
//
// The manifest is tagged with the cache name unless another tag is given.
package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/content/oci"
	"oras.land/oras-go/v2/errdef"

	"github.com/meigma/precache/internal/record"
	"github.com/meigma/precache/store"
)

// Option configures Export and Import.
type Option func(*config)

type config struct {
	tag         string
	name        string
	annotations map[string]string
	log         logr.Logger
}

func newConfig(opts []Option) config {
	cfg := config{log: logr.Discard()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithTag sets the layout tag to write or read. Defaults to the cache name.
func WithTag(tag string) Option {
	return func(c *config) {
		c.tag = tag
	}
}

// WithName imports the bundle under a different cache name.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithAnnotations adds manifest annotations on export.
func WithAnnotations(annotations map[string]string) Option {
	return func(c *config) {
		c.annotations = annotations
	}
}

// WithLogger sets the logger.
func WithLogger(logger logr.Logger) Option {
	return func(c *config) {
		c.log = logger
	}
}

// Export writes the named cache from storage to the OCI layout at dir and
// returns the manifest descriptor.
func Export(ctx context.Context, storage store.Storage, name, dir string, opts ...Option) (ocispec.Descriptor, error) {
	cfg := newConfig(opts)
	tag := cfg.tag
	if tag == "" {
		tag = name
	}

	has, err := storage.Has(ctx, name)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	if !has {
		return ocispec.Descriptor{}, fmt.Errorf("%w: cache %q", ErrNotFound, name)
	}
	resps, err := readCache(ctx, storage, name)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	layout, err := oci.New(dir)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("open layout: %w", err)
	}

	// Step 1: Push empty config blob (required by OCI spec)
	configDesc := content.NewDescriptorFromBytes(ocispec.MediaTypeEmptyJSON, ocispec.DescriptorEmptyJSON.Data)
	if err := pushBlob(ctx, layout, configDesc, ocispec.DescriptorEmptyJSON.Data); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("push config: %w", err)
	}

	// Step 2: Push one body blob per distinct digest
	idx := &record.Index{Name: name, Created: time.Now().UTC()}
	var bodies []ocispec.Descriptor
	seen := make(map[digest.Digest]bool)
	entries := make([]record.Entry, 0, len(resps))
	for _, resp := range resps {
		e := record.FromResponse(resp)
		entries = append(entries, e)
		if seen[e.Digest] {
			continue
		}
		seen[e.Digest] = true
		desc := ocispec.Descriptor{MediaType: MediaTypeBody, Digest: e.Digest, Size: e.Size}
		if err := pushBlob(ctx, layout, desc, resp.Body); err != nil {
			return ocispec.Descriptor{}, fmt.Errorf("push body %s: %w", resp.URL, err)
		}
		bodies = append(bodies, desc)
	}
	idx = idx.Merge(entries)

	// Step 3: Push index blob
	indexData := record.EncodeIndex(idx)
	indexDesc := content.NewDescriptorFromBytes(MediaTypeIndex, indexData)
	if err := pushBlob(ctx, layout, indexDesc, indexData); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("push index: %w", err)
	}

	// Step 4: Push and tag manifest
	manifest := buildManifest(configDesc, indexDesc, bodies, name, cfg.annotations)
	manifestData, err := json.Marshal(manifest)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("marshal manifest: %w", err)
	}
	manifestDesc := content.NewDescriptorFromBytes(ocispec.MediaTypeImageManifest, manifestData)
	manifestDesc.ArtifactType = ArtifactType
	if err := pushBlob(ctx, layout, manifestDesc, manifestData); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("push manifest: %w", err)
	}
	if err := layout.Tag(ctx, manifestDesc, tag); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("tag %q: %w", tag, err)
	}

	cfg.log.Info("exported cache", "cache", name, "tag", tag, "entries", len(entries), "bodies", len(bodies), "digest", manifestDesc.Digest.String())
	return manifestDesc, nil
}

// Import reads the bundle tagged tag from the OCI layout at dir and stores
// every response in storage with one PutAll. It returns the cache name used.
func Import(ctx context.Context, storage store.Storage, dir, tag string, opts ...Option) (string, error) {
	cfg := newConfig(opts)

	layout, err := oci.New(dir)
	if err != nil {
		return "", fmt.Errorf("open layout: %w", err)
	}
	manifestDesc, err := layout.Resolve(ctx, tag)
	if err != nil {
		return "", mapError(fmt.Errorf("resolve %q: %w", tag, err))
	}
	manifestData, err := fetchBlob(ctx, layout, manifestDesc)
	if err != nil {
		return "", fmt.Errorf("fetch manifest: %w", err)
	}
	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if manifest.ArtifactType != ArtifactType {
		return "", fmt.Errorf("%w: artifact type %q", ErrInvalidManifest, manifest.ArtifactType)
	}

	i := slices.IndexFunc(manifest.Layers, func(d ocispec.Descriptor) bool { return d.MediaType == MediaTypeIndex })
	if i < 0 {
		return "", ErrMissingIndex
	}
	indexData, err := fetchBlob(ctx, layout, manifest.Layers[i])
	if err != nil {
		return "", fmt.Errorf("fetch index: %w", err)
	}
	idx, err := record.DecodeIndex(indexData)
	if err != nil {
		return "", err
	}

	name := cfg.name
	if name == "" {
		name = idx.Name
	}
	if name == "" {
		return "", store.ErrInvalidName
	}

	bodies := make(map[digest.Digest][]byte)
	resps := make([]*store.Response, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		body, ok := bodies[e.Digest]
		if !ok {
			desc := ocispec.Descriptor{MediaType: MediaTypeBody, Digest: e.Digest, Size: e.Size}
			body, err = fetchBlob(ctx, layout, desc)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return "", fmt.Errorf("%w: %s", ErrMissingBody, e.Key())
				}
				return "", fmt.Errorf("fetch body %s: %w", e.Key(), err)
			}
			bodies[e.Digest] = body
		}
		resps = append(resps, e.Response(body))
	}

	cache, err := storage.Open(ctx, name)
	if err != nil {
		return "", err
	}
	if err := cache.PutAll(ctx, resps); err != nil {
		return "", fmt.Errorf("store bundle: %w", err)
	}
	cfg.log.Info("imported cache", "cache", name, "tag", tag, "entries", len(resps))
	return name, nil
}

// readCache returns every response stored in the named cache.
func readCache(ctx context.Context, storage store.Storage, name string) ([]*store.Response, error) {
	cache, err := storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	keys, err := cache.Keys(ctx)
	if err != nil {
		return nil, err
	}
	resps := make([]*store.Response, 0, len(keys))
	for _, key := range keys {
		method, uri, ok := strings.Cut(key, " ")
		if !ok {
			return nil, fmt.Errorf("%w: key %q", store.ErrCorrupt, key)
		}
		req, err := http.NewRequestWithContext(ctx, method, uri, nil)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		resp, ok, err := cache.Match(ctx, req)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		resps = append(resps, resp)
	}
	return resps, nil
}

func pushBlob(ctx context.Context, layout *oci.Store, desc ocispec.Descriptor, data []byte) error {
	err := layout.Push(ctx, desc, bytes.NewReader(data))
	if errors.Is(err, errdef.ErrAlreadyExists) {
		return nil
	}
	return err
}

// fetchBlob reads desc from the layout, verifying size and digest.
func fetchBlob(ctx context.Context, layout *oci.Store, desc ocispec.Descriptor) ([]byte, error) {
	rc, err := layout.Fetch(ctx, desc)
	if err != nil {
		return nil, mapError(err)
	}
	defer rc.Close()
	return content.ReadAll(rc, desc)
}

// buildManifest creates an OCI manifest for a cache bundle.
func buildManifest(configDesc, indexDesc ocispec.Descriptor, bodies []ocispec.Descriptor, name string, customAnnotations map[string]string) ocispec.Manifest {
	annotations := make(map[string]string, len(customAnnotations)+2)
	for k, v := range customAnnotations {
		annotations[k] = v
	}
	if _, ok := annotations[ocispec.AnnotationCreated]; !ok {
		annotations[ocispec.AnnotationCreated] = time.Now().UTC().Format(time.RFC3339)
	}
	annotations[AnnotationCacheName] = name

	layers := make([]ocispec.Descriptor, 0, len(bodies)+1)
	layers = append(layers, indexDesc)
	layers = append(layers, bodies...)

	return ocispec.Manifest{
		Versioned:    specs.Versioned{SchemaVersion: 2},
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: ArtifactType,
		Config:       configDesc,
		Layers:       layers,
		Annotations:  annotations,
	}
}

// mapError maps ORAS errors to our sentinel errors.
func mapError(err error) error {
	if errors.Is(err, errdef.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
