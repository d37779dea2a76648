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
	"github.com/cppla/storefront/models"
	"github.com/cppla/storefront/utils"
)

const ordersPerPage = 10

// OrderController handles order placement and fulfilment.
type OrderController struct {
	db     *gorm.DB
	images *access.ImageResolver
	logger *zap.Logger
}

// NewOrderController creates an OrderController.
func NewOrderController(db *gorm.DB, images *access.ImageResolver, logger *zap.Logger) *OrderController {
	return &OrderController{db: db, images: images, logger: logger}
}

// withDetails preloads the customer account and every line's offering.
func withDetails(db *gorm.DB) *gorm.DB {
	return db.Preload("User").Preload("Items.Offering")
}

// present replaces the stored image keys of the preloaded customer and offerings with their
// resolved form. Orders are loaded per request, so they are rewritten in place.
func (o *OrderController) present(ctx *gin.Context, orders ...*models.Order) error {
	base := access.BaseURL(ctx)
	resolved := map[string]*string{}
	resolve := func(c context.Context, image *string) (*string, error) {
		if image == nil {
			return nil, nil
		}
		if v, ok := resolved[*image]; ok {
			return v, nil
		}
		v, err := o.images.Resolve(c, base, image)
		if err != nil {
			return nil, err
		}
		resolved[*image] = v
		return v, nil
	}

	c := ctx.Request.Context()
	for _, order := range orders {
		var err error
		if order.User != nil {
			if order.User.Image, err = resolve(c, order.User.Image); err != nil {
				return err
			}
		}
		for i := range order.Items {
			if off := order.Items[i].Offering; off != nil {
				if off.Image, err = resolve(c, off.Image); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// respond resolves images and writes the order with the given writer.
func (o *OrderController) respond(ctx *gin.Context, order *models.Order, write func(*gin.Context, interface{})) {
	if err := o.present(ctx, order); err != nil {
		utils.HandleError(ctx, o.logger, err)
		return
	}
	write(ctx, order)
}

// List returns orders 10 per page; admins see every order, others their own.
func (o *OrderController) List(ctx *gin.Context) {
	page := utils.ParsePage(ctx.Query("page"))
	claims := claimsOf(ctx)

	scoped := o.db.Model(&models.Order{})
	if !claims.IsAdmin {
		scoped = scoped.Where("user_id = ?", claims.UserID)
	}

	var total int64
	if err := scoped.Count(&total).Error; err != nil {
		utils.HandleError(ctx, o.logger, err)
		return
	}
	orders := []models.Order{}
	if err := withDetails(scoped).Order("id DESC").
		Offset((page - 1) * ordersPerPage).Limit(ordersPerPage).Find(&orders).Error; err != nil {
		utils.HandleError(ctx, o.logger, err)
		return
	}

	refs := make([]*models.Order, len(orders))
	for i := range orders {
		refs[i] = &orders[i]
	}
	if err := o.present(ctx, refs...); err != nil {
		utils.HandleError(ctx, o.logger, err)
		return
	}

	utils.Success(ctx, gin.H{
		"orders":     orders,
		"page":       page,
		"totalPages": utils.TotalPages(total, ordersPerPage),
		"totalItems": total,
	})
}

type orderItemRequest struct {
	ID       uint `json:"id" binding:"required"`
	Quantity int  `json:"quantity" binding:"required,gt=0,lte=1000"`
}

// Create places an order. Prices come from the catalog; the client only names offerings and
// quantities. customerId is honoured for admins only, otherwise the order belongs to the
// authenticated caller, if any.
func (o *OrderController) Create(ctx *gin.Context) {
	var req struct {
		CustomerName    string             `json:"customerName" binding:"required,max=255"`
		CustomerPhone   string             `json:"customerPhone" binding:"required,max=32"`
		CustomerAddress string             `json:"customerAddress" binding:"required,max=512"`
		CustomerID      *uint              `json:"customerId"`
		Items           []orderItemRequest `json:"items" binding:"required,min=1,dive"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.HandleError(ctx, o.logger, bindError(err))
		return
	}

	order := models.Order{
		CustomerName:    utils.PlainText(req.CustomerName),
		CustomerPhone:   strings.TrimSpace(req.CustomerPhone),
		CustomerAddress: utils.PlainText(req.CustomerAddress),
		Status:          models.OrderPending,
	}
	if order.CustomerName == "" || order.CustomerPhone == "" || order.CustomerAddress == "" {
		utils.Error(ctx, http.StatusBadRequest, 40040, "customer name, phone and address are required")
		return
	}
	if claims := claimsOf(ctx); claims != nil {
		id := claims.UserID
		if claims.IsAdmin && req.CustomerID != nil {
			id = *req.CustomerID
		}
		order.UserID = &id
	}

	var created models.Order
	err := o.db.Transaction(func(tx *gorm.DB) error {
		if order.UserID != nil {
			var exists int64
			if err := tx.Model(&models.User{}).Where("id = ?", *order.UserID).Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				return utils.Validation(40041, "customer does not exist")
			}
		}

		ids := make([]uint, 0, len(req.Items))
		for _, it := range req.Items {
			ids = append(ids, it.ID)
		}
		var offerings []models.Offering
		if err := tx.Where("id IN ?", ids).Find(&offerings).Error; err != nil {
			return err
		}
		byID := make(map[uint]models.Offering, len(offerings))
		for _, off := range offerings {
			byID[off.ID] = off
		}

		total := 0.0
		for _, it := range req.Items {
			off, ok := byID[it.ID]
			if !ok || !off.Enabled {
				return utils.Validation(40042, fmt.Sprintf("catalog item %d is not available", it.ID))
			}
			subtotal := roundMoney(off.Price * float64(it.Quantity))
			total += subtotal
			order.Items = append(order.Items, models.OrderOffering{
				OfferingID: off.ID,
				Quantity:   it.Quantity,
				Subtotal:   subtotal,
			})
		}
		order.TotalPrice = roundMoney(total)

		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		return withDetails(tx).First(&created, order.ID).Error
	})
	if err != nil {
		utils.HandleError(ctx, o.logger, err)
		return
	}
	o.respond(ctx, &created, utils.Created)
}

// Get returns an order to an admin or to the user it belongs to.
func (o *OrderController) Get(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.HandleError(ctx, o.logger, err)
		return
	}
	var order models.Order
	if err := withDetails(o.db).First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40403, "order not found")
			return
		}
		utils.HandleError(ctx, o.logger, err)
		return
	}
	claims := claimsOf(ctx)
	if !claims.IsAdmin && (order.UserID == nil || *order.UserID != claims.UserID) {
		utils.HandleError(ctx, o.logger, utils.Forbidden(40304, "you do not have access to this order"))
		return
	}
	o.respond(ctx, &order, utils.Success)
}

// GetByPhone lets an anonymous customer look up an order by id and phone number.
func (o *OrderController) GetByPhone(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.HandleError(ctx, o.logger, err)
		return
	}
	phone := strings.TrimSpace(ctx.Param("customerPhone"))
	var order models.Order
	if err := withDetails(o.db).Where("id = ? AND customer_phone = ?", id, phone).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40403, "order not found")
			return
		}
		utils.HandleError(ctx, o.logger, err)
		return
	}
	order.User = nil
	o.respond(ctx, &order, utils.Success)
}

// UpdateStatus moves an order to another status. Admin only.
func (o *OrderController) UpdateStatus(ctx *gin.Context) {
	id, err := parseID(ctx, "id")
	if err != nil {
		utils.HandleError(ctx, o.logger, err)
		return
	}
	var req struct {
		Status models.OrderStatus `json:"status" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.HandleError(ctx, o.logger, bindError(err))
		return
	}
	status := models.OrderStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	if !status.Valid() {
		utils.Error(ctx, http.StatusBadRequest, 40043, "invalid order status")
		return
	}

	var order models.Order
	if err := o.db.First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40403, "order not found")
			return
		}
		utils.HandleError(ctx, o.logger, err)
		return
	}
	if err := o.db.Model(&order).Update("status", status).Error; err != nil {
		utils.HandleError(ctx, o.logger, err)
		return
	}
	var updated models.Order
	if err := withDetails(o.db).First(&updated, id).Error; err != nil {
		utils.HandleError(ctx, o.logger, err)
		return
	}
	o.respond(ctx, &updated, utils.Success)
}
