// Package access decides who may read stored files and how file references are
// materialized in API responses.
package access

import (
	"github.com/cppla/storefront/models"
	"github.com/cppla/storefront/utils"
)

// Policy decides whether a caller may download an asset. claims is nil for anonymous callers.
type Policy interface {
	CanAccess(asset *models.Asset, claims *utils.Claims) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(asset *models.Asset, claims *utils.Claims) bool

func (f PolicyFunc) CanAccess(asset *models.Asset, claims *utils.Claims) bool { return f(asset, claims) }

// Intended grants PUBLIC assets to everyone and PRIVATE assets to their uploader and to admins.
var Intended Policy = PolicyFunc(func(asset *models.Asset, claims *utils.Claims) bool {
	if asset.Visibility == models.VisibilityPublic {
		return true
	}
	if claims == nil {
		return false
	}
	return claims.UserID == asset.UploadedByID || claims.IsAdmin
})

// Legacy reproduces the historical rule that denies when
// (PRIVATE && uploader != caller) || caller is admin.
// Admin callers are refused every asset, public ones included.
var Legacy Policy = PolicyFunc(func(asset *models.Asset, claims *utils.Claims) bool {
	var callerID uint
	var isAdmin bool
	if claims != nil {
		callerID, isAdmin = claims.UserID, claims.IsAdmin
	}
	deny := (asset.Visibility == models.VisibilityPrivate && (claims == nil || asset.UploadedByID != callerID)) || isAdmin
	return !deny
})

// NewPolicy returns Legacy when legacyAdminPrecedence is set and Intended otherwise.
func NewPolicy(legacyAdminPrecedence bool) Policy {
	if legacyAdminPrecedence {
		return Legacy
	}
	return Intended
}

// CanDelete reports whether the caller may delete the asset: its uploader or an admin.
func CanDelete(asset *models.Asset, claims *utils.Claims) bool {
	if claims == nil {
		return false
	}
	return claims.UserID == asset.UploadedByID || claims.IsAdmin
}
