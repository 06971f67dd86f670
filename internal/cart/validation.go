package cart

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orders/internal/catalog"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
)

const (
	ReasonMissing           = "missing"
	ReasonInactive          = "inactive"
	ReasonInsufficientStock = "insufficient_stock"
	ReasonBelowMinimum      = "below_minimum"
)

// ListingReader is the slice of the catalog the cart needs.
type ListingReader interface {
	FindByID(ctx context.Context, kind enums.ListingKind, id uuid.UUID) (*catalog.Listing, error)
}

type ValidationResult struct {
	IsValid bool
	Errors  []pkgerrors.LineProblem
}

// Err converts an invalid result into a VALIDATION_ERROR carrying every line problem.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "cart validation failed").
		WithDetails(pkgerrors.ValidationFailure{Errors: r.Errors})
}

// ValidateLines re-reads every listing and reports each line that could not be bought
// as-is. It never mutates the cart.
func ValidateLines(ctx context.Context, listings ListingReader, lines []Line) (ValidationResult, error) {
	result := ValidationResult{IsValid: true}
	for _, line := range lines {
		problem, err := checkLine(ctx, listings, line)
		if err != nil {
			return ValidationResult{}, err
		}
		if problem != nil {
			result.Errors = append(result.Errors, *problem)
		}
	}
	result.IsValid = len(result.Errors) == 0
	return result, nil
}

func checkLine(ctx context.Context, listings ListingReader, line Line) (*pkgerrors.LineProblem, error) {
	problem := pkgerrors.LineProblem{ItemRef: line.ItemRef, Kind: string(line.Kind), Requested: line.Quantity}
	listing, err := listings.FindByID(ctx, line.Kind, line.ItemRef)
	if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		problem.Reason = ReasonMissing
		return &problem, nil
	}
	if err != nil {
		return nil, err
	}
	switch {
	case !listing.IsActive:
		problem.Reason = ReasonInactive
	case listing.Stock < line.Quantity:
		problem.Reason = ReasonInsufficientStock
		problem.Available = listing.Stock
	case line.Quantity < listing.MinimumOrderQuantity:
		problem.Reason = ReasonBelowMinimum
		problem.Minimum = listing.MinimumOrderQuantity
	default:
		return nil, nil
	}
	return &problem, nil
}
