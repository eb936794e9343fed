package cluster

import (
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// NotFoundError is returned when the requested object does not exist (anymore).
type NotFoundError struct {
	GVK schema.GroupVersionKind
	Key client.ObjectKey
	Err error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.GVK.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// DeletionError is returned when deleting a primary object fails.
type DeletionError struct {
	GVK schema.GroupVersionKind
	Key client.ObjectKey
	Err error
}

func (e *DeletionError) Error() string {
	return fmt.Sprintf("failed to delete %s %s: %s", e.GVK.Kind, e.Key, e.Err)
}

func (e *DeletionError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the object is gone, either as a *NotFoundError
// or as a raw API NotFound status.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound) || apierrors.IsNotFound(err)
}

// IsDeletionError reports whether err is (or wraps) a *DeletionError.
func IsDeletionError(err error) bool {
	var deletionErr *DeletionError
	return errors.As(err, &deletionErr)
}
