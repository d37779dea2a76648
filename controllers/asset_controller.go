package controllers

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/storefront/access"
	"github.com/cppla/storefront/config"
	"github.com/cppla/storefront/models"
	"github.com/cppla/storefront/storage"
	"github.com/cppla/storefront/utils"
)

// AssetController manages uploaded files and their visibility.
type AssetController struct {
	db     *gorm.DB
	cfg    config.AppConfig
	store  storage.Store
	policy access.Policy
	cache  *utils.Cache
	logger *zap.Logger
}

// NewAssetController creates an AssetController that gates downloads with policy.
func NewAssetController(db *gorm.DB, cfg config.AppConfig, store storage.Store, policy access.Policy,
	cache *utils.Cache, logger *zap.Logger) *AssetController {
	return &AssetController{db: db, cfg: cfg, store: store, policy: policy, cache: cache, logger: logger}
}

// Upload stores a multipart "file" in the area named by the required "visibility" field.
func (a *AssetController) Upload(ctx *gin.Context) {
	if !isMultipart(ctx) {
		utils.Error(ctx, http.StatusBadRequest, 40032, "multipart form with a file is required")
		return
	}
	vis := models.Visibility(strings.ToUpper(strings.TrimSpace(ctx.PostForm("visibility"))))
	if !vis.Valid() {
		utils.Error(ctx, http.StatusBadRequest, 40033, "visibility must be PUBLIC or PRIVATE")
		return
	}
	fh, err := optionalFormFile(ctx, "file")
	if err != nil {
		utils.HandleError(ctx, a.logger, err)
		return
	}
	if fh == nil {
		utils.Error(ctx, http.StatusBadRequest, 40032, "file is required")
		return
	}

	upload, err := saveUpload(ctx.Request.Context(), a.store, fh, vis, int64(a.cfg.MaxUploadMB)<<20)
	if err != nil {
		utils.HandleError(ctx, a.logger, err)
		return
	}

	asset := models.Asset{
		Filename:     upload.Filename,
		Mimetype:     upload.Mimetype,
		Size:         upload.Size,
		Path:         upload.Key,
		Visibility:   vis,
		UploadedByID: claimsOf(ctx).UserID,
	}
	if err := a.db.Create(&asset).Error; err != nil {
		discard(a.store, vis, upload)
		utils.HandleError(ctx, a.logger, err)
		return
	}
	a.logger.Info("asset uploaded", zap.Uint("id", asset.ID), zap.String("visibility", string(vis)), zap.Int64("size", asset.Size))
	utils.Created(ctx, asset)
}

// ListPublic returns every public asset, newest first.
func (a *AssetController) ListPublic(ctx *gin.Context) {
	assets := []models.Asset{}
	if err := a.db.Where("visibility = ?", models.VisibilityPublic).
		Order("uploaded_at DESC").Order("id DESC").Find(&assets).Error; err != nil {
		utils.HandleError(ctx, a.logger, err)
		return
	}
	utils.Success(ctx, assets)
}

// ListPrivate returns the caller's private assets, newest first.
func (a *AssetController) ListPrivate(ctx *gin.Context) {
	assets := []models.Asset{}
	if err := a.db.Where("visibility = ? AND uploaded_by_id = ?", models.VisibilityPrivate, claimsOf(ctx).UserID).
		Order("uploaded_at DESC").Order("id DESC").Find(&assets).Error; err != nil {
		utils.HandleError(ctx, a.logger, err)
		return
	}
	utils.Success(ctx, assets)
}

func (a *AssetController) load(ctx *gin.Context) (*models.Asset, bool) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.HandleError(ctx, a.logger, err)
		return nil, false
	}
	var asset models.Asset
	if err := a.db.First(&asset, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40404, "asset not found")
			return nil, false
		}
		utils.HandleError(ctx, a.logger, err)
		return nil, false
	}
	return &asset, true
}

// Download streams an asset to callers the access policy admits.
func (a *AssetController) Download(ctx *gin.Context) {
	asset, ok := a.load(ctx)
	if !ok {
		return
	}
	if !a.policy.CanAccess(asset, claimsOf(ctx)) {
		utils.HandleError(ctx, a.logger, utils.Forbidden(40305, "you do not have access to this asset"))
		return
	}
	a.stream(ctx, asset)
}

// DownloadPublic streams public assets without authentication.
func (a *AssetController) DownloadPublic(ctx *gin.Context) {
	asset, ok := a.load(ctx)
	if !ok {
		return
	}
	if asset.Visibility != models.VisibilityPublic {
		utils.HandleError(ctx, a.logger, utils.Forbidden(40305, "you do not have access to this asset"))
		return
	}
	a.stream(ctx, asset)
}

func (a *AssetController) stream(ctx *gin.Context, asset *models.Asset) {
	rc, err := a.store.Open(ctx.Request.Context(), asset.Visibility, asset.Path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.logger.Warn("asset content missing", zap.Uint("id", asset.ID), zap.String("path", asset.Path))
			utils.Error(ctx, http.StatusNotFound, 40405, "asset content not found")
			return
		}
		utils.HandleError(ctx, a.logger, err)
		return
	}
	defer rc.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": asset.Filename})
	if disposition == "" {
		disposition = "attachment"
	}
	ctx.DataFromReader(http.StatusOK, asset.Size, asset.Mimetype, rc, map[string]string{
		"Content-Disposition": disposition,
	})
}

// Delete removes an asset. Only the uploader or an admin may do so. The row is removed and the
// file queued in stale_files atomically; the file is then removed and the queue entry cleared.
// A failed removal stays queued for the background sweeper.
func (a *AssetController) Delete(ctx *gin.Context) {
	asset, ok := a.load(ctx)
	if !ok {
		return
	}
	if !access.CanDelete(asset, claimsOf(ctx)) {
		utils.HandleError(ctx, a.logger, utils.Forbidden(40306, "only the uploader or an admin can delete this asset"))
		return
	}

	stale := models.StaleFile{Path: asset.Path, Visibility: asset.Visibility}
	err := a.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM offering_assets WHERE asset_id = ?", asset.ID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Asset{}, asset.ID).Error; err != nil {
			return err
		}
		return tx.Create(&stale).Error
	})
	if err != nil {
		utils.HandleError(ctx, a.logger, err)
		return
	}

	if err := a.store.Remove(ctx.Request.Context(), asset.Visibility, asset.Path); err != nil {
		a.logger.Warn("asset file removal deferred", zap.Uint("id", asset.ID), zap.String("path", asset.Path), zap.Error(err))
	} else if err := a.db.Delete(&models.StaleFile{}, stale.ID).Error; err != nil {
		a.logger.Warn("stale file row cleanup failed", zap.Uint("id", stale.ID), zap.Error(err))
	}
	a.invalidateCatalog(ctx.Request.Context())
	utils.NoContent(ctx)
}

// ServePublicFile streams stored public content addressed by key, so resolved image URLs
// work for every storage driver.
func (a *AssetController) ServePublicFile(ctx *gin.Context) {
	key, err := storage.CleanKey(strings.TrimPrefix(ctx.Param("key"), "/"))
	if err != nil {
		utils.Error(ctx, http.StatusNotFound, 40406, "file not found")
		return
	}
	key = "uploads/" + key
	rc, err := a.store.Open(ctx.Request.Context(), models.VisibilityPublic, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			utils.Error(ctx, http.StatusNotFound, 40406, "file not found")
			return
		}
		utils.HandleError(ctx, a.logger, err)
		return
	}
	defer rc.Close()
	contentType := mime.TypeByExtension(strings.ToLower(path.Ext(key)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ctx.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}

// invalidateCatalog drops cached catalog pages, which embed linked assets.
func (a *AssetController) invalidateCatalog(ctx context.Context) {
	a.cache.InvalidateByPrefix(ctx, catalogCachePrefix)
}
