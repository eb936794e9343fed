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

// Package cluster is the thin transport the testsuite uses to read and write raw
// documents on the cluster API.
package cluster

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/kuadrant/testsuite/pkg/log"
)

// Client is the set of cluster operations the testsuite depends on.
type Client interface {
	Get(ctx context.Context, gvk schema.GroupVersionKind, key client.ObjectKey) (*unstructured.Unstructured, error)
	Create(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error)
	Update(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error)
	Delete(ctx context.Context, gvk schema.GroupVersionKind, key client.ObjectKey, ignoreNotFound bool) error
	List(ctx context.Context, gvk schema.GroupVersionKind, namespace string, selector labels.Set) ([]unstructured.Unstructured, error)
	DeleteAllOf(ctx context.Context, gvk schema.GroupVersionKind, namespace string, selector labels.Set) error
}

var _ Client = &KubeClient{}

// KubeClient implements Client on top of a controller-runtime client
type KubeClient struct {
	client client.Client
}

// New wraps a controller-runtime client
func New(cl client.Client) *KubeClient {
	return &KubeClient{client: cl}
}

// NewForConfig builds a client for the cluster behind cfg
func NewForConfig(cfg *rest.Config) (*KubeClient, error) {
	cl, err := client.New(cfg, client.Options{Scheme: NewScheme()})
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster client: %w", err)
	}
	return New(cl), nil
}

func (k *KubeClient) Get(ctx context.Context, gvk schema.GroupVersionKind, key client.ObjectKey) (*unstructured.Unstructured, error) {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)
	if err := k.client.Get(ctx, key, obj); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, &NotFoundError{GVK: gvk, Key: key, Err: err}
		}
		return nil, fmt.Errorf("failed to get %s %s: %w", gvk.Kind, key, err)
	}
	log.FromContext(ctx).V(1).Info("fetched object", "kind", gvk.Kind, "key", key, "resourceVersion", obj.GetResourceVersion())
	return obj, nil
}

func (k *KubeClient) Create(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	created := obj.DeepCopy()
	if err := k.client.Create(ctx, created); err != nil {
		return nil, fmt.Errorf("failed to create %s %s: %w", obj.GetKind(), client.ObjectKeyFromObject(obj), err)
	}
	log.FromContext(ctx).V(1).Info("created object", "kind", obj.GetKind(), "key", client.ObjectKeyFromObject(created))
	return created, nil
}

func (k *KubeClient) Update(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	updated := obj.DeepCopy()
	if err := k.client.Update(ctx, updated); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, &NotFoundError{GVK: obj.GroupVersionKind(), Key: client.ObjectKeyFromObject(obj), Err: err}
		}
		return nil, fmt.Errorf("failed to update %s %s: %w", obj.GetKind(), client.ObjectKeyFromObject(obj), err)
	}
	return updated, nil
}

func (k *KubeClient) Delete(ctx context.Context, gvk schema.GroupVersionKind, key client.ObjectKey, ignoreNotFound bool) error {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)
	obj.SetNamespace(key.Namespace)
	obj.SetName(key.Name)

	err := k.client.Delete(ctx, obj)
	if err == nil || (ignoreNotFound && apierrors.IsNotFound(err)) {
		log.FromContext(ctx).V(1).Info("deleted object", "kind", gvk.Kind, "key", key, "error", err)
		return nil
	}
	return &DeletionError{GVK: gvk, Key: key, Err: err}
}

func (k *KubeClient) List(ctx context.Context, gvk schema.GroupVersionKind, namespace string, selector labels.Set) ([]unstructured.Unstructured, error) {
	list := &unstructured.UnstructuredList{}
	list.SetGroupVersionKind(gvk.GroupVersion().WithKind(gvk.Kind + "List"))

	opts := []client.ListOption{client.MatchingLabels(selector)}
	if namespace != "" {
		opts = append(opts, client.InNamespace(namespace))
	}
	if err := k.client.List(ctx, list, opts...); err != nil {
		return nil, fmt.Errorf("failed to list %s in %q: %w", gvk.Kind, namespace, err)
	}
	return list.Items, nil
}

// DeleteAllOf deletes every object of the kind matching the label selector.
// Objects that disappear in the meantime are ignored.
func (k *KubeClient) DeleteAllOf(ctx context.Context, gvk schema.GroupVersionKind, namespace string, selector labels.Set) error {
	items, err := k.List(ctx, gvk, namespace, selector)
	if err != nil {
		return err
	}
	for i := range items {
		if err := k.Delete(ctx, gvk, client.ObjectKeyFromObject(&items[i]), true); err != nil {
			return err
		}
	}
	return nil
}
