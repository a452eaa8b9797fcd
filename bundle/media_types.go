package bundle

// Media types for offline cache bundles in OCI layouts.
const (
	// ArtifactType identifies a cache bundle as an OCI 1.1 artifact type.
	ArtifactType = "application/vnd.meigma.precache.v1"

	// MediaTypeIndex is the media type for the FlatBuffers cache index.
	MediaTypeIndex = "application/vnd.meigma.precache.index.v1+flatbuffers"

	// MediaTypeBody is the media type for a stored response body.
	MediaTypeBody = "application/vnd.meigma.precache.body.v1"

	// AnnotationCacheName records the exported cache name on the manifest.
	AnnotationCacheName = "dev.meigma.precache.cache-name"
)
