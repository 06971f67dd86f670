package orders

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
)

// Actor is the authenticated caller of an order operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// SystemActor drives scheduled operations such as pending-order expiry.
var SystemActor = Actor{Role: enums.ActorRoleSystem}

func (a Actor) isBuyer(o *models.Order) bool  { return a.UserID != uuid.Nil && a.UserID == o.BuyerID }
func (a Actor) isSeller(o *models.Order) bool { return a.UserID != uuid.Nil && a.UserID == o.SellerID }

func (a Actor) updatedBy() *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

func (a Actor) role() enums.ActorRole {
	if a.Role == "" {
		return enums.ActorRoleCustomer
	}
	return a.Role
}

func canView(a Actor, o *models.Order) error {
	if a.Role.IsPrivileged() || a.isBuyer(o) || a.isSeller(o) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order not accessible")
}

func canFulfil(a Actor, o *models.Order) error {
	if a.Role.IsPrivileged() || a.isSeller(o) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can update this order")
}

func canCancel(a Actor, o *models.Order) error {
	return canView(a, o)
}
