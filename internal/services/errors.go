package services

import (
	"errors"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/repositories"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/tenantstore"
)

var (
	// ErrInvalidPayload marks permanent entry failures: the payload does not
	// match the declared entity type, or the entry itself is malformed.
	// Retrying cannot fix these.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrDeliveryFailed marks websocket delivery failures. They happen after
	// commit and never affect persisted state.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// Retryable classifies a processing error. Validation failures are permanent.
// A missing target is permanent for updates since retrying cannot make it
// exist, but benign elsewhere. Store and transport failures, and anything
// unclassified, are worth retrying.
func Retryable(op models.OperationType, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidPayload):
		return false
	case errors.Is(err, tenantstore.ErrInvalidTenantID):
		return false
	case errors.Is(err, repositories.ErrNotFound):
		return op != models.OpUpdate
	case errors.Is(err, tenantstore.ErrStoreUnavailable):
		return true
	case errors.Is(err, ErrDeliveryFailed):
		return true
	default:
		return true
	}
}
