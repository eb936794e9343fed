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

// Package authorino builds the Authorino resources the testsuite observes: standalone
// Authorino instances, usually sharded by label selector, and the AuthConfigs they reconcile.
package authorino

import (
	"context"
	"errors"
	"fmt"
	"time"

	authorinooperatorv1beta1 "github.com/kuadrant/authorino-operator/api/v1beta1"
	"github.com/samber/lo"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/utils/ptr"

	"github.com/kuadrant/testsuite/pkg/cluster"
	"github.com/kuadrant/testsuite/pkg/conditions"
	"github.com/kuadrant/testsuite/pkg/poll"
	"github.com/kuadrant/testsuite/pkg/resource"
)

const (
	// ShardingLabel is the label key AuthConfigs are sharded by
	ShardingLabel = "sharding"

	DefaultReadyTimeout = 2 * time.Minute
)

var AuthorinoGVK = authorinooperatorv1beta1.GroupVersion.WithKind("Authorino")

// ShardSelector is the AuthConfig label selector of the instance serving shard.
func ShardSelector(shard string) string {
	return fmt.Sprintf("%s=%s", ShardingLabel, shard)
}

type AuthorinoOptions struct {
	Name      string
	Namespace string
	Labels    map[string]string
	// Shard restricts the instance to AuthConfigs labelled sharding=<Shard>. Empty serves all.
	Shard       string
	ClusterWide bool
}

// AuthorinoSnapshot is the status reported by the authorino operator.
type AuthorinoSnapshot struct {
	Conditions []metav1.Condition
}

func (s AuthorinoSnapshot) GetConditions() []metav1.Condition {
	return s.Conditions
}

func DecodeAuthorino(obj *unstructured.Unstructured) (AuthorinoSnapshot, error) {
	authorino, err := resource.FromUnstructured[authorinooperatorv1beta1.Authorino](obj)
	if err != nil {
		return AuthorinoSnapshot{}, err
	}
	return AuthorinoSnapshot{Conditions: lo.Map(authorino.Status.Conditions, conditions.FromAuthorino)}, nil
}

// Authorino is a standalone Authorino instance deployed through the authorino operator.
type Authorino struct {
	*resource.Resource[AuthorinoSnapshot]
	shard string
}

func NewAuthorino(cl cluster.Client, opts AuthorinoOptions) (*Authorino, error) {
	if opts.Name == "" || opts.Namespace == "" {
		return nil, errors.New("authorino needs a name and a namespace")
	}

	authorino := &authorinooperatorv1beta1.Authorino{
		TypeMeta: metav1.TypeMeta{APIVersion: AuthorinoGVK.GroupVersion().String(), Kind: AuthorinoGVK.Kind},
		ObjectMeta: metav1.ObjectMeta{
			Name:      opts.Name,
			Namespace: opts.Namespace,
			Labels:    opts.Labels,
		},
		Spec: authorinooperatorv1beta1.AuthorinoSpec{
			ClusterWide: opts.ClusterWide,
			Listener: authorinooperatorv1beta1.Listener{
				Tls: authorinooperatorv1beta1.Tls{Enabled: ptr.To(false)},
			},
			OIDCServer: authorinooperatorv1beta1.OIDCServer{
				Tls: authorinooperatorv1beta1.Tls{Enabled: ptr.To(false)},
			},
		},
	}
	if opts.Shard != "" {
		authorino.Spec.AuthConfigLabelSelectors = ShardSelector(opts.Shard)
	}

	obj, err := resource.ToUnstructured(authorino)
	if err != nil {
		return nil, err
	}
	unstructured.RemoveNestedField(obj.Object, "status")

	return &Authorino{
		Resource: resource.New(cl, obj, DecodeAuthorino),
		shard:    opts.Shard,
	}, nil
}

// Shard is the label value the instance is restricted to.
func (a *Authorino) Shard() string {
	return a.shard
}

// WaitForReady waits until the operator reports the instance as Ready.
func (a *Authorino) WaitForReady(ctx context.Context, timeout time.Duration, opts ...poll.Option) error {
	outcome, err := poll.ForReady(ctx, a.Resource, timeout, opts...)
	if err != nil {
		return err
	}
	return outcome.Expect("ready")
}
