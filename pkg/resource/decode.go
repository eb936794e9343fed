package resource

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

// DecodeError is returned when a fetched document does not hold a valid status.
type DecodeError struct {
	Identity Identity
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid status on %s: %s", e.Identity, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NotConfiguredError is returned when an optional section of a document is absent.
type NotConfiguredError struct {
	Identity Identity
	Section  string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("%s has no %s section configured", e.Identity, e.Section)
}

// ConditionsStatus is the snapshot of kinds that only report conditions.
type ConditionsStatus struct {
	ObservedGeneration int64              `json:"observedGeneration,omitempty"`
	Conditions         []metav1.Condition `json:"conditions,omitempty"`
}

func (s ConditionsStatus) GetConditions() []metav1.Condition {
	return s.Conditions
}

// DecodeConditions is the Decoder for ConditionsStatus.
func DecodeConditions(obj *unstructured.Unstructured) (ConditionsStatus, error) {
	status := ConditionsStatus{}
	raw, found, err := unstructured.NestedMap(obj.Object, "status")
	if err != nil {
		return status, err
	}
	if !found {
		return status, nil
	}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(raw, &status); err != nil {
		return status, err
	}
	return status, nil
}

// FromUnstructured converts a raw document into a typed API object.
func FromUnstructured[T any](obj *unstructured.Unstructured) (*T, error) {
	typed := new(T)
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.UnstructuredContent(), typed); err != nil {
		return nil, err
	}
	return typed, nil
}

// ToUnstructured converts a typed API object into a raw document.
func ToUnstructured(typed any) (*unstructured.Unstructured, error) {
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(typed)
	if err != nil {
		return nil, err
	}
	return &unstructured.Unstructured{Object: content}, nil
}
