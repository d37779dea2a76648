package controllers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/storefront/access"
	"github.com/cppla/storefront/middleware"
	"github.com/cppla/storefront/models"
	"github.com/cppla/storefront/storage"
	"github.com/cppla/storefront/utils"
)

// storedFile describes an upload written to the store.
type storedFile struct {
	Key      string
	Filename string
	Mimetype string
	Size     int64
}

func parseID(ctx *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(ctx.Param(name)), 10, 64)
	if err != nil || id == 0 {
		return 0, utils.Validation(40002, "invalid "+name)
	}
	return uint(id), nil
}

func bindError(err error) error {
	return utils.Validation(40001, "invalid request payload: "+err.Error())
}

func claimsOf(ctx *gin.Context) *utils.Claims {
	claims, _ := middleware.Claims(ctx)
	return claims
}

func isMultipart(ctx *gin.Context) bool {
	return strings.HasPrefix(ctx.ContentType(), "multipart/form-data")
}

// optionalFormFile returns the named multipart file, or nil when the request carries none.
func optionalFormFile(ctx *gin.Context, field string) (*multipart.FileHeader, error) {
	if !isMultipart(ctx) {
		return nil, nil
	}
	fh, err := ctx.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, bindError(err)
	}
	return fh, nil
}

// saveUpload copies fh into the store under a fresh key, enforcing maxBytes.
func saveUpload(ctx context.Context, store storage.Store, fh *multipart.FileHeader, vis models.Visibility, maxBytes int64) (*storedFile, error) {
	if fh.Size > maxBytes {
		return nil, utils.Validation(40030, "file too large")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, utils.Internal(err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, utils.Internal(err)
	}
	if int64(len(data)) > maxBytes {
		return nil, utils.Validation(40030, "file too large")
	}
	if len(data) == 0 {
		return nil, utils.Validation(40031, "empty file")
	}

	key := storage.NewKey(fh.Filename)
	written, err := store.Save(ctx, vis, key, bytes.NewReader(data))
	if err != nil {
		return nil, utils.Internal(err)
	}
	return &storedFile{
		Key:      key,
		Filename: fh.Filename,
		Mimetype: access.DetectMimetype(fh.Filename, data),
		Size:     written,
	}, nil
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// discard removes a file written earlier in a request that then failed.
func discard(store storage.Store, vis models.Visibility, f *storedFile) {
	if f != nil {
		_ = store.Remove(context.Background(), vis, f.Key)
	}
}
