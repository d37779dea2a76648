package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
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

const (
	catalogPerPage     = 10
	catalogCachePrefix = "cache:catalog:"
)

// CatalogController serves the product catalog.
type CatalogController struct {
	db     *gorm.DB
	cfg    config.AppConfig
	store  storage.Store
	images *access.ImageResolver
	cache  *utils.Cache
	logger *zap.Logger
}

// NewCatalogController creates a CatalogController.
func NewCatalogController(db *gorm.DB, cfg config.AppConfig, store storage.Store, images *access.ImageResolver,
	cache *utils.Cache, logger *zap.Logger) *CatalogController {
	return &CatalogController{db: db, cfg: cfg, store: store, images: images, cache: cache, logger: logger}
}

// offeringView shadows the stored image reference with its resolved form.
type offeringView struct {
	models.Offering
	Image *string `json:"image"`
}

type catalogPage struct {
	Items []models.Offering `json:"items"`
	Total int64             `json:"total"`
}

func (c *CatalogController) present(ctx *gin.Context, offering *models.Offering) (*offeringView, error) {
	image, err := c.images.Resolve(ctx.Request.Context(), access.BaseURL(ctx), offering.Image)
	if err != nil {
		return nil, err
	}
	if offering.Assets == nil {
		offering.Assets = []models.Asset{}
	}
	return &offeringView{Offering: *offering, Image: image}, nil
}

func (c *CatalogController) invalidate(ctx context.Context) {
	c.cache.InvalidateByPrefix(ctx, catalogCachePrefix)
}

// List returns a page of the catalog. Anonymous and non-admin callers only see enabled items.
// Pages are cached unresolved so private images never land in the cache as data URIs.
func (c *CatalogController) List(ctx *gin.Context) {
	page := utils.ParsePage(ctx.Query("page"))
	scope := "enabled"
	if claims := claimsOf(ctx); claims != nil && claims.IsAdmin {
		scope = "all"
	}
	cacheKey := fmt.Sprintf("%s%s:page:%d", catalogCachePrefix, scope, page)

	var cached catalogPage
	if !c.cache.GetJSON(ctx.Request.Context(), cacheKey, &cached) {
		query := c.db.Model(&models.Offering{})
		if scope == "enabled" {
			query = query.Where("enabled = ?", true)
		}
		if err := query.Count(&cached.Total).Error; err != nil {
			utils.HandleError(ctx, c.logger, err)
			return
		}
		cached.Items = []models.Offering{}
		if err := query.Preload("Assets").Order("id ASC").
			Offset((page - 1) * catalogPerPage).Limit(catalogPerPage).Find(&cached.Items).Error; err != nil {
			utils.HandleError(ctx, c.logger, err)
			return
		}
		c.cache.SetJSON(ctx.Request.Context(), cacheKey, cached, 0)
	}

	items := make([]*offeringView, 0, len(cached.Items))
	for i := range cached.Items {
		view, err := c.present(ctx, &cached.Items[i])
		if err != nil {
			utils.HandleError(ctx, c.logger, err)
			return
		}
		items = append(items, view)
	}

	utils.Success(ctx, gin.H{
		"catalog":    items,
		"page":       page,
		"totalPages": utils.TotalPages(cached.Total, catalogPerPage),
		"totalItems": cached.Total,
	})
}

// Get returns one offering with its assets.
func (c *CatalogController) Get(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.HandleError(ctx, c.logger, err)
		return
	}
	var offering models.Offering
	if err := c.db.Preload("Assets").First(&offering, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40402, "catalog item not found")
			return
		}
		utils.HandleError(ctx, c.logger, err)
		return
	}
	view, err := c.present(ctx, &offering)
	if err != nil {
		utils.HandleError(ctx, c.logger, err)
		return
	}
	utils.Success(ctx, view)
}

// loadAssets fetches every id or fails with 400 naming the first missing one.
func loadAssets(tx *gorm.DB, ids []uint) ([]models.Asset, error) {
	assets := []models.Asset{}
	if len(ids) == 0 {
		return assets, nil
	}
	if err := tx.Where("id IN ?", ids).Find(&assets).Error; err != nil {
		return nil, err
	}
	found := make(map[uint]bool, len(assets))
	for _, a := range assets {
		found[a.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return nil, utils.Validation(40020, fmt.Sprintf("asset %d does not exist", id))
		}
	}
	return assets, nil
}

// Create adds an offering. Admin only. A multipart "image" is stored in the public area.
func (c *CatalogController) Create(ctx *gin.Context) {
	var req struct {
		Name        string   `json:"name" form:"name" binding:"required,max=255"`
		Description string   `json:"description" form:"description"`
		Price       *float64 `json:"price" form:"price" binding:"required,gte=0"`
		Image       *string  `json:"image" form:"-"`
		Enabled     *bool    `json:"enabled" form:"enabled"`
		Featured    bool     `json:"featured" form:"featured"`
		AssetIDs    []uint   `json:"assetIds" form:"assetIds"`
	}
	if err := ctx.ShouldBind(&req); err != nil {
		utils.HandleError(ctx, c.logger, bindError(err))
		return
	}
	name := utils.PlainText(req.Name)
	if name == "" {
		utils.Error(ctx, http.StatusBadRequest, 40021, "name cannot be empty")
		return
	}

	fh, err := optionalFormFile(ctx, "image")
	if err != nil {
		utils.HandleError(ctx, c.logger, err)
		return
	}
	var upload *storedFile
	if fh != nil {
		if upload, err = saveUpload(ctx.Request.Context(), c.store, fh, models.VisibilityPublic, int64(c.cfg.MaxUploadMB)<<20); err != nil {
			utils.HandleError(ctx, c.logger, err)
			return
		}
	}

	offering := models.Offering{
		Name:        name,
		Description: utils.Sanitize(req.Description),
		Price:       roundMoney(*req.Price),
		Image:       req.Image,
		Enabled:     req.Enabled == nil || *req.Enabled,
		Featured:    req.Featured,
	}
	if upload != nil {
		offering.Image = &upload.Key
	}

	err = c.db.Transaction(func(tx *gorm.DB) error {
		assets, err := loadAssets(tx, req.AssetIDs)
		if err != nil {
			return err
		}
		offering.Assets = assets
		return tx.Create(&offering).Error
	})
	if err != nil {
		discard(c.store, models.VisibilityPublic, upload)
		utils.HandleError(ctx, c.logger, err)
		return
	}
	c.invalidate(ctx.Request.Context())

	view, err := c.present(ctx, &offering)
	if err != nil {
		utils.HandleError(ctx, c.logger, err)
		return
	}
	utils.Created(ctx, view)
}

// Update changes the supplied fields of an offering. Admin only. When assetIds is present it
// replaces the linked assets.
func (c *CatalogController) Update(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.HandleError(ctx, c.logger, err)
		return
	}
	var req struct {
		Name        *string  `json:"name" binding:"omitempty,max=255"`
		Description *string  `json:"description"`
		Price       *float64 `json:"price" binding:"omitempty,gte=0"`
		Image       *string  `json:"image"`
		Enabled     *bool    `json:"enabled"`
		Featured    *bool    `json:"featured"`
		AssetIDs    *[]uint  `json:"assetIds"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.HandleError(ctx, c.logger, bindError(err))
		return
	}

	var offering models.Offering
	err = c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&offering, id).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{}
		if req.Name != nil {
			name := utils.PlainText(*req.Name)
			if name == "" {
				return utils.Validation(40021, "name cannot be empty")
			}
			updates["name"] = name
		}
		if req.Description != nil {
			updates["description"] = utils.Sanitize(*req.Description)
		}
		if req.Price != nil {
			updates["price"] = roundMoney(*req.Price)
		}
		if req.Image != nil {
			if strings.TrimSpace(*req.Image) == "" {
				updates["image"] = nil
			} else {
				updates["image"] = strings.TrimSpace(*req.Image)
			}
		}
		if req.Enabled != nil {
			updates["enabled"] = *req.Enabled
		}
		if req.Featured != nil {
			updates["featured"] = *req.Featured
		}
		if len(updates) > 0 {
			if err := tx.Model(&offering).Updates(updates).Error; err != nil {
				return err
			}
		}
		if req.AssetIDs != nil {
			assets, err := loadAssets(tx, *req.AssetIDs)
			if err != nil {
				return err
			}
			if err := tx.Model(&offering).Association("Assets").Replace(assets); err != nil {
				return err
			}
		}
		return tx.Preload("Assets").First(&offering, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40402, "catalog item not found")
			return
		}
		utils.HandleError(ctx, c.logger, err)
		return
	}
	c.invalidate(ctx.Request.Context())

	view, err := c.present(ctx, &offering)
	if err != nil {
		utils.HandleError(ctx, c.logger, err)
		return
	}
	utils.Success(ctx, view)
}

// Delete disables an offering so existing orders keep their lines.
func (c *CatalogController) Delete(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.HandleError(ctx, c.logger, err)
		return
	}
	res := c.db.Model(&models.Offering{}).Where("id = ?", id).Update("enabled", false)
	if res.Error != nil {
		utils.HandleError(ctx, c.logger, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := c.db.Model(&models.Offering{}).Where("id = ?", id).Count(&exists).Error; err != nil {
			utils.HandleError(ctx, c.logger, err)
			return
		}
		if exists == 0 {
			utils.Error(ctx, http.StatusNotFound, 40402, "catalog item not found")
			return
		}
	}
	c.invalidate(ctx.Request.Context())
	utils.NoContent(ctx)
}
