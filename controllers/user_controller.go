package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/storefront/access"
	"github.com/cppla/storefront/config"
	"github.com/cppla/storefront/middleware"
	"github.com/cppla/storefront/models"
	"github.com/cppla/storefront/storage"
	"github.com/cppla/storefront/utils"
)

const usersPerPage = 5

// UserController handles registration, login and profile endpoints.
type UserController struct {
	db        *gorm.DB
	cfg       config.AppConfig
	tokens    *utils.TokenService
	blacklist *utils.TokenBlacklist
	store     storage.Store
	images    *access.ImageResolver
	logger    *zap.Logger
}

// NewUserController creates a UserController.
func NewUserController(db *gorm.DB, cfg config.AppConfig, tokens *utils.TokenService, blacklist *utils.TokenBlacklist,
	store storage.Store, images *access.ImageResolver, logger *zap.Logger) *UserController {
	return &UserController{db: db, cfg: cfg, tokens: tokens, blacklist: blacklist, store: store, images: images, logger: logger}
}

type userResponse struct {
	ID          uint    `json:"id"`
	Email       string  `json:"email"`
	Name        string  `json:"name"`
	Image       *string `json:"image"`
	IsAdmin     bool    `json:"is_admin"`
	AccessToken string  `json:"accessToken,omitempty"`
}

func (u *UserController) present(ctx *gin.Context, user *models.User) (*userResponse, error) {
	image, err := u.images.Resolve(ctx.Request.Context(), access.BaseURL(ctx), user.Image)
	if err != nil {
		return nil, err
	}
	return &userResponse{ID: user.ID, Email: user.Email, Name: user.Name, Image: image, IsAdmin: user.IsAdmin}, nil
}

func (u *UserController) withToken(ctx *gin.Context, user *models.User) (*userResponse, error) {
	resp, err := u.present(ctx, user)
	if err != nil {
		return nil, err
	}
	token, _, err := u.tokens.Issue(utils.Identity{ID: user.ID, Email: user.Email, Name: user.Name, IsAdmin: user.IsAdmin})
	if err != nil {
		return nil, err
	}
	resp.AccessToken = token
	return resp, nil
}

// List returns a page of users with public fields only.
func (u *UserController) List(ctx *gin.Context) {
	page := utils.ParsePage(ctx.Query("page"))

	var total int64
	if err := u.db.Model(&models.User{}).Count(&total).Error; err != nil {
		utils.HandleError(ctx, u.logger, err)
		return
	}
	users := []models.UserSummary{}
	if err := u.db.Model(&models.User{}).Select("id", "email", "name").Order("id ASC").
		Offset((page - 1) * usersPerPage).Limit(usersPerPage).Scan(&users).Error; err != nil {
		utils.HandleError(ctx, u.logger, err)
		return
	}

	utils.Success(ctx, gin.H{
		"users":      users,
		"page":       page,
		"totalPages": utils.TotalPages(total, usersPerPage),
		"totalUsers": total,
	})
}

// Register creates an account. The optional multipart "image" is stored privately.
// Administrators are recognised by the configured admin e-mail list only.
func (u *UserController) Register(ctx *gin.Context) {
	var req struct {
		Email    string `json:"email" form:"email" binding:"required,email"`
		Name     string `json:"name" form:"name" binding:"max=128"`
		Password string `json:"password" form:"password"`
	}
	if err := ctx.ShouldBind(&req); err != nil {
		utils.HandleError(ctx, u.logger, bindError(err))
		return
	}
	if len(req.Password) < utils.MinPasswordLength {
		utils.Error(ctx, http.StatusBadRequest, 40003, "password is required and must be at least 8 characters")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	var existing int64
	if err := u.db.Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		utils.HandleError(ctx, u.logger, err)
		return
	}
	if existing > 0 {
		utils.Error(ctx, http.StatusBadRequest, 40004, "email already registered")
		return
	}

	hash, err := utils.HashPassword(req.Password, u.cfg.BcryptCost)
	if err != nil {
		utils.HandleError(ctx, u.logger, err)
		return
	}

	fh, err := optionalFormFile(ctx, "image")
	if err != nil {
		utils.HandleError(ctx, u.logger, err)
		return
	}
	var upload *storedFile
	if fh != nil {
		if upload, err = saveUpload(ctx.Request.Context(), u.store, fh, models.VisibilityPrivate, int64(u.cfg.MaxUploadMB)<<20); err != nil {
			utils.HandleError(ctx, u.logger, err)
			return
		}
	}

	user := models.User{
		Email:        email,
		Name:         utils.PlainText(req.Name),
		PasswordHash: hash,
		IsAdmin:      u.cfg.IsAdminEmail(email),
	}
	if upload != nil {
		user.Image = &upload.Key
	}
	if err := u.db.Create(&user).Error; err != nil {
		discard(u.store, models.VisibilityPrivate, upload)
		utils.HandleError(ctx, u.logger, err)
		return
	}

	resp, err := u.withToken(ctx, &user)
	if err != nil {
		utils.HandleError(ctx, u.logger, err)
		return
	}
	utils.Created(ctx, resp)
}

// Get returns one user with its image resolved.
func (u *UserController) Get(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.HandleError(ctx, u.logger, err)
		return
	}
	var user models.User
	if err := u.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40401, "user not found")
			return
		}
		utils.HandleError(ctx, u.logger, err)
		return
	}
	resp, err := u.present(ctx, &user)
	if err != nil {
		utils.HandleError(ctx, u.logger, err)
		return
	}
	utils.Success(ctx, resp)
}

// Me returns the authenticated caller.
func (u *UserController) Me(ctx *gin.Context) {
	claims := claimsOf(ctx)
	var user models.User
	if err := u.db.First(&user, claims.UserID).Error; err != nil {
		utils.HandleError(ctx, u.logger, err)
		return
	}
	resp, err := u.present(ctx, &user)
	if err != nil {
		utils.HandleError(ctx, u.logger, err)
		return
	}
	utils.Success(ctx, resp)
}

// Update lets users change their own name, e-mail or password.
func (u *UserController) Update(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.HandleError(ctx, u.logger, err)
		return
	}
	claims := claimsOf(ctx)
	if id != claims.UserID {
		utils.HandleError(ctx, u.logger, utils.Forbidden(40303, "you can only update your own profile"))
		return
	}

	var req struct {
		Name     *string `json:"name" binding:"omitempty,max=128"`
		Email    *string `json:"email" binding:"omitempty,email"`
		Password *string `json:"password"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.HandleError(ctx, u.logger, bindError(err))
		return
	}

	var user models.User
	if err := u.db.Where("id = ? AND email = ?", id, claims.Email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.HandleError(ctx, u.logger, utils.Forbidden(40303, "you can only update your own profile"))
			return
		}
		utils.HandleError(ctx, u.logger, err)
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = utils.PlainText(*req.Name)
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if email != user.Email {
			var taken int64
			if err := u.db.Model(&models.User{}).Where("email = ? AND id <> ?", email, id).Count(&taken).Error; err != nil {
				utils.HandleError(ctx, u.logger, err)
				return
			}
			if taken > 0 {
				utils.Error(ctx, http.StatusBadRequest, 40004, "email already registered")
				return
			}
		}
		updates["email"] = email
	}
	if req.Password != nil {
		if len(*req.Password) < utils.MinPasswordLength {
			utils.Error(ctx, http.StatusBadRequest, 40003, "password must be at least 8 characters")
			return
		}
		hash, err := utils.HashPassword(*req.Password, u.cfg.BcryptCost)
		if err != nil {
			utils.HandleError(ctx, u.logger, err)
			return
		}
		updates["password_hash"] = hash
	}

	if len(updates) > 0 {
		if err := u.db.Model(&user).Updates(updates).Error; err != nil {
			utils.HandleError(ctx, u.logger, err)
			return
		}
	}
	resp, err := u.present(ctx, &user)
	if err != nil {
		utils.HandleError(ctx, u.logger, err)
		return
	}
	utils.Success(ctx, resp)
}

// Delete removes a user. Admin only. Orders keep their customer data but lose the account link;
// users that still own assets cannot be removed.
func (u *UserController) Delete(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.HandleError(ctx, u.logger, err)
		return
	}

	var user models.User
	err = u.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, id).Error; err != nil {
			return err
		}
		var owned int64
		if err := tx.Model(&models.Asset{}).Where("uploaded_by_id = ?", id).Count(&owned).Error; err != nil {
			return err
		}
		if owned > 0 {
			return utils.Validation(40005, "user still owns assets")
		}
		if err := tx.Model(&models.Order{}).Where("user_id = ?", id).Update("user_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Delete(&user).Error; err != nil {
			return err
		}
		if user.Image != nil && storage.IsStoredKey(*user.Image) {
			return tx.Create(&models.StaleFile{Path: *user.Image, Visibility: models.VisibilityPrivate}).Error
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40401, "user not found")
			return
		}
		utils.HandleError(ctx, u.logger, err)
		return
	}
	utils.NoContent(ctx)
}

// Login checks credentials and returns the user with a fresh access token.
// Unknown e-mail and wrong password are indistinguishable to the caller.
func (u *UserController) Login(ctx *gin.Context) {
	var req struct {
		Email    string `json:"email" form:"email"`
		Password string `json:"password" form:"password"`
	}
	if err := ctx.ShouldBind(&req); err != nil || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		utils.HandleError(ctx, u.logger, utils.Unauthenticated(40106, "email and password are required"))
		return
	}

	var user models.User
	if err := u.db.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.HandleError(ctx, u.logger, utils.Unauthenticated(40107, "invalid email or password"))
			return
		}
		utils.HandleError(ctx, u.logger, err)
		return
	}
	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		utils.HandleError(ctx, u.logger, utils.Unauthenticated(40107, "invalid email or password"))
		return
	}

	resp, err := u.withToken(ctx, &user)
	if err != nil {
		utils.HandleError(ctx, u.logger, err)
		return
	}
	utils.Success(ctx, resp)
}

// Logout revokes the presented token until it would have expired anyway.
func (u *UserController) Logout(ctx *gin.Context) {
	claims := claimsOf(ctx)
	if claims.ExpiresAt != nil {
		if err := u.blacklist.Revoke(ctx.Request.Context(), middleware.Token(ctx), claims.ExpiresAt.Time); err != nil {
			utils.HandleError(ctx, u.logger, err)
			return
		}
	}
	utils.NoContent(ctx)
}
