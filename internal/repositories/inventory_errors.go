package repositories

import (
	"errors"
	"fmt"
)

// InventoryErrorCode enumerates repository error causes for stock operations.
type InventoryErrorCode string

const (
	// InventoryErrorUnknown represents an unspecified failure.
	InventoryErrorUnknown InventoryErrorCode = "inventory_unknown"
	// InventoryErrorStockNotFound indicates the variant does not have a stock record.
	InventoryErrorStockNotFound InventoryErrorCode = "inventory_stock_not_found"
	// InventoryErrorInvalidInput indicates a negative stock value or missing identifiers.
	InventoryErrorInvalidInput InventoryErrorCode = "inventory_invalid_input"
)

// InventoryError wraps inventory-specific failures with machine readable codes.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	ProductID string
	VariantID string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the stock record was missing.
func (e *InventoryError) IsNotFound() bool {
	return e != nil && e.Code == InventoryErrorStockNotFound
}

// IsConflict always reports false; stock writes are last-write-wins.
func (e *InventoryError) IsConflict() bool { return false }

// IsUnavailable reports whether the underlying store was unreachable.
func (e *InventoryError) IsUnavailable() bool {
	if e == nil {
		return false
	}
	var repoErr RepositoryError
	if errors.As(e.Err, &repoErr) {
		return repoErr.IsUnavailable()
	}
	return false
}

// NewInventoryError constructs a typed inventory error for a variant.
func NewInventoryError(op string, code InventoryErrorCode, productID, variantID string, err error) *InventoryError {
	message := string(code)
	if productID != "" || variantID != "" {
		message = fmt.Sprintf("%s (%s/%s)", code, productID, variantID)
	}
	return &InventoryError{
		Op:        op,
		Code:      code,
		ProductID: productID,
		VariantID: variantID,
		Message:   message,
		Err:       err,
	}
}
