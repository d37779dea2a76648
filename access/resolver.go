package access

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/cppla/storefront/models"
	"github.com/cppla/storefront/storage"
)

// ImageResolver turns a stored image reference into something a client can embed directly:
// an absolute URL for public files, a data URI for private ones.
type ImageResolver struct {
	store storage.Store
}

// NewImageResolver builds a resolver over store.
func NewImageResolver(store storage.Store) *ImageResolver {
	return &ImageResolver{store: store}
}

// Resolve returns nil for a nil or empty image. A file present in the private area is read and
// inlined as data:<mime>;base64,<payload>; anything else becomes {baseURL}/{image}.
// Absolute http(s) references are returned unchanged.
func (r *ImageResolver) Resolve(ctx context.Context, baseURL string, image *string) (*string, error) {
	if image == nil || strings.TrimSpace(*image) == "" {
		return nil, nil
	}
	ref := strings.TrimSpace(*image)
	if !storage.IsStoredKey(ref) {
		return &ref, nil
	}

	key, err := storage.CleanKey(ref)
	if err != nil {
		// never a stored file, so never private
		url := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(ref, "/")
		return &url, nil
	}
	private, err := r.store.Exists(ctx, models.VisibilityPrivate, key)
	if err != nil {
		return nil, err
	}
	if !private {
		url := strings.TrimRight(baseURL, "/") + "/" + key
		return &url, nil
	}

	rc, err := r.store.Open(ctx, models.VisibilityPrivate, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	uri := DataURI(key, data)
	return &uri, nil
}

// DataURI encodes data with a mime type taken from the file extension, or sniffed from the
// content when the extension is unknown.
func DataURI(name string, data []byte) string {
	var b bytes.Buffer
	b.WriteString("data:")
	b.WriteString(DetectMimetype(name, data))
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// DetectMimetype prefers the extension and falls back to content sniffing.
func DetectMimetype(name string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(name))); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
	}
	detected := mimetype.Detect(data).String()
	if mt, _, err := mime.ParseMediaType(detected); err == nil {
		return mt
	}
	return detected
}

// BaseURL returns {scheme}://{host} for the request, honouring TLS and X-Forwarded-Proto.
func BaseURL(ctx *gin.Context) string {
	scheme := "http"
	if ctx.Request.TLS != nil {
		scheme = "https"
	}
	if p := ctx.GetHeader("X-Forwarded-Proto"); p != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(p, ",")[0]))
	}
	return scheme + "://" + ctx.Request.Host
}
