/*
Copyright 2024 Red Hat, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package resource wraps cluster objects whose status is observed by the testsuite.
//
// A Resource keeps the last fetched document together with a typed status snapshot.
// Both are replaced wholesale on every refresh and nothing is kept coherent in the
// background: callers refresh before every evaluation.
package resource

import (
	"context"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/kuadrant/testsuite/pkg/cluster"
	"github.com/kuadrant/testsuite/pkg/conditions"
	"github.com/kuadrant/testsuite/pkg/log"
)

const (
	DefaultDeletionTimeout      = 2 * time.Minute
	DefaultDeletionPollInterval = time.Second
)

// Identity names an object on the cluster.
type Identity struct {
	GVK       schema.GroupVersionKind
	Namespace string
	Name      string
}

func IdentityOf(obj *unstructured.Unstructured) Identity {
	return Identity{GVK: obj.GroupVersionKind(), Namespace: obj.GetNamespace(), Name: obj.GetName()}
}

func (i Identity) Key() client.ObjectKey {
	return client.ObjectKey{Namespace: i.Namespace, Name: i.Name}
}

func (i Identity) String() string {
	return fmt.Sprintf("%s %s", i.GVK.Kind, i.Key())
}

// Snapshot is the typed status of a kind, decoded once per refresh.
type Snapshot interface {
	GetConditions() []metav1.Condition
}

// Decoder builds the typed snapshot out of a freshly fetched document.
type Decoder[S Snapshot] func(obj *unstructured.Unstructured) (S, error)

// Companion is an object created by the control plane on behalf of the primary one
// that is not garbage collected with it.
type Companion struct {
	GVK       schema.GroupVersionKind
	Namespace string
	Name      string
}

func (c Companion) String() string {
	return fmt.Sprintf("%s %s/%s", c.GVK.Kind, c.Namespace, c.Name)
}

type Option func(*options)

type options struct {
	readyCondition string
	companions     []Companion
}

// WithReadyCondition sets the condition type IsReady checks. Defaults to Ready.
func WithReadyCondition(conditionType string) Option {
	return func(o *options) {
		o.readyCondition = conditionType
	}
}

// WithCompanions declares the objects Delete cleans up after the primary object.
func WithCompanions(companions ...Companion) Option {
	return func(o *options) {
		o.companions = append(o.companions, companions...)
	}
}

// Resource is a cluster object observed through its status conditions.
// It is not safe for concurrent use.
type Resource[S Snapshot] struct {
	client         cluster.Client
	identity       Identity
	obj            *unstructured.Unstructured
	snapshot       S
	decode         Decoder[S]
	readyCondition string
	companions     []Companion
	committed      bool
}

// New builds a resource out of a desired document. Nothing is sent to the cluster until Commit.
func New[S Snapshot](cl cluster.Client, obj *unstructured.Unstructured, decode Decoder[S], opts ...Option) *Resource[S] {
	o := &options{readyCondition: conditions.ReadyConditionType}
	for _, opt := range opts {
		opt(o)
	}

	return &Resource[S]{
		client:         cl,
		identity:       IdentityOf(obj),
		obj:            obj.DeepCopy(),
		decode:         decode,
		readyCondition: o.readyCondition,
		companions:     o.companions,
	}
}

// Fetch wraps an object that already exists on the cluster.
func Fetch[S Snapshot](ctx context.Context, cl cluster.Client, gvk schema.GroupVersionKind, key client.ObjectKey, decode Decoder[S], opts ...Option) (*Resource[S], error) {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)
	obj.SetNamespace(key.Namespace)
	obj.SetName(key.Name)

	r := New(cl, obj, decode, opts...)
	r.committed = true
	if _, err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Commit creates the object on the cluster.
func (r *Resource[S]) Commit(ctx context.Context) error {
	created, err := r.client.Create(ctx, r.obj)
	if err != nil {
		return err
	}
	if err := r.replace(created); err != nil {
		return err
	}
	r.committed = true
	log.FromContext(ctx).Info("committed", "object", r.identity.String())
	return nil
}

// Refresh re-fetches the object and replaces the cached document and snapshot.
// Nothing is replaced on failure. A vanished object yields a *cluster.NotFoundError.
func (r *Resource[S]) Refresh(ctx context.Context) (S, error) {
	var zero S
	obj, err := r.client.Get(ctx, r.identity.GVK, r.identity.Key())
	if err != nil {
		return zero, err
	}
	if err := r.replace(obj); err != nil {
		return zero, err
	}
	log.FromContext(ctx).V(1).Info("refreshed", "object", r.identity.String(), "conditions", conditions.Summary(r.snapshot.GetConditions()))
	return r.snapshot, nil
}

func (r *Resource[S]) replace(obj *unstructured.Unstructured) error {
	snapshot, err := r.decode(obj)
	if err != nil {
		return &DecodeError{Identity: r.identity, Err: err}
	}
	if err := conditions.Validate(snapshot.GetConditions()); err != nil {
		return &DecodeError{Identity: r.identity, Err: err}
	}
	r.obj = obj
	r.snapshot = snapshot
	return nil
}

// Update sends the cached document to the cluster.
func (r *Resource[S]) Update(ctx context.Context) error {
	updated, err := r.client.Update(ctx, r.obj)
	if err != nil {
		return err
	}
	return r.replace(updated)
}

// Modify applies mutate to the latest version of the document and updates it.
// Before Commit only the local desired document is changed.
func (r *Resource[S]) Modify(ctx context.Context, mutate func(obj *unstructured.Unstructured) error) error {
	if !r.committed {
		return mutate(r.obj)
	}
	if _, err := r.Refresh(ctx); err != nil {
		return err
	}
	if err := mutate(r.obj); err != nil {
		return err
	}
	return r.Update(ctx)
}

type DeleteOption func(*deleteOptions)

type deleteOptions struct {
	ignoreNotFound bool
	wait           bool
	timeout        time.Duration
	interval       time.Duration
}

// IgnoreNotFound treats an already deleted primary object as success.
func IgnoreNotFound() DeleteOption {
	return func(o *deleteOptions) {
		o.ignoreNotFound = true
	}
}

// WaitForFinalizers waits up to timeout for the primary object to be gone.
func WaitForFinalizers(timeout time.Duration) DeleteOption {
	return func(o *deleteOptions) {
		o.wait = true
		o.timeout = timeout
	}
}

// NoWait returns right after the deletion request was accepted.
func NoWait() DeleteOption {
	return func(o *deleteOptions) {
		o.wait = false
	}
}

// Delete deletes the primary object and then, best-effort, its companions.
// A failure on the primary object is returned as *cluster.DeletionError and the
// companions are left alone. Companion failures are only logged.
func (r *Resource[S]) Delete(ctx context.Context, opts ...DeleteOption) error {
	o := &deleteOptions{wait: true, timeout: DefaultDeletionTimeout, interval: DefaultDeletionPollInterval}
	for _, opt := range opts {
		opt(o)
	}
	logger := log.FromContext(ctx).WithValues("object", r.identity.String())

	if err := r.client.Delete(ctx, r.identity.GVK, r.identity.Key(), o.ignoreNotFound); err != nil {
		return err
	}

	if o.wait {
		if err := r.waitUntilGone(ctx, o.timeout, o.interval); err != nil {
			return &cluster.DeletionError{GVK: r.identity.GVK, Key: r.identity.Key(), Err: err}
		}
	}
	logger.Info("deleted")

	for _, c := range r.companions {
		if err := r.client.Delete(ctx, c.GVK, client.ObjectKey{Namespace: c.Namespace, Name: c.Name}, true); err != nil {
			logger.Error(err, "companion cleanup failed", "companion", c.String())
			continue
		}
		logger.V(1).Info("companion deleted", "companion", c.String())
	}
	return nil
}

func (r *Resource[S]) waitUntilGone(ctx context.Context, timeout, interval time.Duration) error {
	return wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		_, err := r.client.Get(ctx, r.identity.GVK, r.identity.Key())
		if cluster.IsNotFound(err) {
			return true, nil
		}
		return false, err
	})
}

// IsReady checks the readiness condition on the cached snapshot.
func (r *Resource[S]) IsReady() bool {
	return conditions.IsTrue(r.Conditions(), r.readyCondition)
}

func (r *Resource[S]) ReadyCondition() string {
	return r.readyCondition
}

// Snapshot returns the status decoded by the last refresh.
func (r *Resource[S]) Snapshot() S {
	return r.snapshot
}

func (r *Resource[S]) Conditions() []metav1.Condition {
	if any(r.snapshot) == nil {
		return nil
	}
	return r.snapshot.GetConditions()
}

// Object returns a copy of the cached document.
func (r *Resource[S]) Object() *unstructured.Unstructured {
	return r.obj.DeepCopy()
}

func (r *Resource[S]) Identity() Identity {
	return r.identity
}

func (r *Resource[S]) Name() string {
	return r.identity.Name
}

func (r *Resource[S]) Namespace() string {
	return r.identity.Namespace
}

func (r *Resource[S]) Companions() []Companion {
	return r.companions
}

func (r *Resource[S]) Client() cluster.Client {
	return r.client
}

func (r *Resource[S]) Committed() bool {
	return r.committed
}

func (r *Resource[S]) String() string {
	return r.identity.String()
}
