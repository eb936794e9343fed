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

// Package policy builds the Kuadrant policies attached to gateways and routes.
package policy

import (
	"context"
	"errors"
	"fmt"

	certmanmetav1 "github.com/cert-manager/cert-manager/pkg/apis/meta/v1"
	kuadrantdnsv1alpha1 "github.com/kuadrant/dns-operator/api/v1alpha1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	gatewayapiv1alpha2 "sigs.k8s.io/gateway-api/apis/v1alpha2"

	"github.com/kuadrant/testsuite/pkg/cluster"
	"github.com/kuadrant/testsuite/pkg/conditions"
	"github.com/kuadrant/testsuite/pkg/resource"
)

var (
	DNSPolicyGVK       = schema.GroupVersionKind{Group: "kuadrant.io", Version: "v1", Kind: "DNSPolicy"}
	TLSPolicyGVK       = schema.GroupVersionKind{Group: "kuadrant.io", Version: "v1", Kind: "TLSPolicy"}
	AuthPolicyGVK      = schema.GroupVersionKind{Group: "kuadrant.io", Version: "v1", Kind: "AuthPolicy"}
	RateLimitPolicyGVK = schema.GroupVersionKind{Group: "kuadrant.io", Version: "v1", Kind: "RateLimitPolicy"}
)

// Identity of a policy. It carries no state of its own.
type Identity struct {
	Kind      string
	Namespace string
	Name      string
	TargetRef gatewayapiv1alpha2.LocalPolicyTargetReference
}

func (i Identity) Key() client.ObjectKey {
	return client.ObjectKey{Namespace: i.Namespace, Name: i.Name}
}

func (i Identity) String() string {
	return fmt.Sprintf("%s %s", i.Kind, i.Key())
}

// Referenceable objects can be the target of a policy.
type Referenceable interface {
	Reference() gatewayapiv1alpha2.LocalPolicyTargetReference
}

// Policy is a committed or to-be-committed policy object.
type Policy struct {
	*resource.Resource[resource.ConditionsStatus]
	targetRef gatewayapiv1alpha2.LocalPolicyTargetReference
}

// New builds a policy of the given kind whose spec is spec plus the targetRef.
func New(cl cluster.Client, gvk schema.GroupVersionKind, key client.ObjectKey, labels map[string]string, target gatewayapiv1alpha2.LocalPolicyTargetReference, spec map[string]interface{}) (*Policy, error) {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)
	obj.SetNamespace(key.Namespace)
	obj.SetName(key.Name)
	obj.SetLabels(labels)

	if spec == nil {
		spec = map[string]interface{}{}
	}
	ref, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&target)
	if err != nil {
		return nil, err
	}
	spec["targetRef"] = ref
	if err := unstructured.SetNestedField(obj.Object, spec, "spec"); err != nil {
		return nil, err
	}

	return &Policy{
		Resource:  resource.New(cl, obj, resource.DecodeConditions, resource.WithReadyCondition(conditions.EnforcedConditionType)),
		targetRef: target,
	}, nil
}

// Ref returns the identity recorded on the objects the policy affects.
func (p *Policy) Ref() Identity {
	return Identity{
		Kind:      p.Identity().GVK.Kind,
		Namespace: p.Namespace(),
		Name:      p.Name(),
		TargetRef: p.targetRef,
	}
}

func (p *Policy) TargetRef() gatewayapiv1alpha2.LocalPolicyTargetReference {
	return p.targetRef
}

// IsAccepted checks the Accepted condition on the cached snapshot.
func (p *Policy) IsAccepted() bool {
	return conditions.IsTrue(p.Conditions(), conditions.AcceptedConditionType)
}

// GatewayPolicyOptions are the parameters shared by the policies attached to a gateway.
type GatewayPolicyOptions struct {
	Name      string
	Namespace string
	Labels    map[string]string
	Target    Referenceable

	// ProviderSecret is the DNS provider credentials secret. DNSPolicy only.
	ProviderSecret string
	// LoadBalancing is the DNS load balancing section. DNSPolicy only.
	LoadBalancing *LoadBalancing
	// Issuer is the cert-manager issuer. TLSPolicy only.
	Issuer *certmanmetav1.ObjectReference
}

// GatewayPolicyFactory is the constructor signature shared by DNSPolicy and TLSPolicy.
type GatewayPolicyFactory func(cl cluster.Client, opts GatewayPolicyOptions) (*Policy, error)

var (
	_ GatewayPolicyFactory = NewDNSPolicy
	_ GatewayPolicyFactory = NewTLSPolicy
)

type dnsPolicySpec struct {
	ProviderRefs  []kuadrantdnsv1alpha1.ProviderRef `json:"providerRefs"`
	LoadBalancing *LoadBalancing                    `json:"loadBalancing,omitempty"`
}

// NewDNSPolicy builds a DNSPolicy. Issuer is ignored.
func NewDNSPolicy(cl cluster.Client, opts GatewayPolicyOptions) (*Policy, error) {
	if opts.Target == nil {
		return nil, errors.New("DNSPolicy needs a target")
	}
	spec := dnsPolicySpec{}
	if opts.ProviderSecret != "" {
		spec.ProviderRefs = []kuadrantdnsv1alpha1.ProviderRef{{Name: opts.ProviderSecret}}
	}
	if opts.LoadBalancing != nil {
		if err := opts.LoadBalancing.Validate(); err != nil {
			return nil, err
		}
		spec.LoadBalancing = opts.LoadBalancing
	}
	raw, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&spec)
	if err != nil {
		return nil, err
	}
	return New(cl, DNSPolicyGVK, client.ObjectKey{Namespace: opts.Namespace, Name: opts.Name}, opts.Labels, opts.Target.Reference(), raw)
}

type tlsPolicySpec struct {
	IssuerRef certmanmetav1.ObjectReference `json:"issuerRef"`
}

// NewTLSPolicy builds a TLSPolicy. ProviderSecret and LoadBalancing are ignored.
func NewTLSPolicy(cl cluster.Client, opts GatewayPolicyOptions) (*Policy, error) {
	if opts.Target == nil {
		return nil, errors.New("TLSPolicy needs a target")
	}
	if opts.Issuer == nil {
		return nil, errors.New("TLSPolicy needs an issuer")
	}
	raw, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&tlsPolicySpec{IssuerRef: *opts.Issuer})
	if err != nil {
		return nil, err
	}
	return New(cl, TLSPolicyGVK, client.ObjectKey{Namespace: opts.Namespace, Name: opts.Name}, opts.Labels, opts.Target.Reference(), raw)
}

// Placement attaches one load balancing entry to the gateway of one cluster.
type Placement struct {
	Client        cluster.Client
	Target        Referenceable
	LoadBalancing LoadBalancing
}

// NewLoadBalancedDNSPolicies builds one DNSPolicy per placement, all serving hostname.
// The placements are validated as a LoadBalancingSet before any policy is built.
func NewLoadBalancedDNSPolicies(hostname string, opts GatewayPolicyOptions, placements ...Placement) ([]*Policy, error) {
	entries := make([]LoadBalancing, 0, len(placements))
	for _, p := range placements {
		entries = append(entries, p.LoadBalancing)
	}
	if _, err := NewLoadBalancingSet(hostname, entries...); err != nil {
		return nil, err
	}

	policies := make([]*Policy, 0, len(placements))
	for i := range placements {
		o := opts
		o.Target = placements[i].Target
		o.LoadBalancing = &placements[i].LoadBalancing
		p, err := NewDNSPolicy(placements[i].Client, o)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// CommitAll commits the policies in order and stops at the first failure.
func CommitAll(ctx context.Context, policies ...*Policy) error {
	for _, p := range policies {
		if err := p.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit %s: %w", p, err)
		}
	}
	return nil
}
