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

package kuadrant

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/json"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/kuadrant/testsuite/pkg/cluster"
	"github.com/kuadrant/testsuite/pkg/poll"
	"github.com/kuadrant/testsuite/pkg/resource"
)

const (
	// DefaultReadyTimeout is how long the operator usually takes to report every condition True
	DefaultReadyTimeout = 90 * time.Second

	AuthorinoSection = "authorino"
	LimitadorSection = "limitador"
)

var KuadrantGVK = schema.GroupVersionKind{Group: "kuadrant.io", Version: "v1beta1", Kind: "Kuadrant"}

// Kuadrant is the Kuadrant CR of a cluster.
type Kuadrant struct {
	*resource.Resource[resource.ConditionsStatus]
}

// NewKuadrant builds a Kuadrant CR with the given spec sections.
func NewKuadrant(cl cluster.Client, key client.ObjectKey, spec map[string]interface{}) (*Kuadrant, error) {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(KuadrantGVK)
	obj.SetNamespace(key.Namespace)
	obj.SetName(key.Name)
	if spec == nil {
		spec = map[string]interface{}{}
	}
	if err := unstructured.SetNestedMap(obj.Object, spec, "spec"); err != nil {
		return nil, err
	}
	return &Kuadrant{Resource: resource.New(cl, obj, resource.DecodeConditions)}, nil
}

// Fetch wraps the existing Kuadrant CR.
func Fetch(ctx context.Context, cl cluster.Client, key client.ObjectKey) (*Kuadrant, error) {
	r, err := resource.Fetch(ctx, cl, KuadrantGVK, key, resource.DecodeConditions)
	if err != nil {
		return nil, err
	}
	return &Kuadrant{Resource: r}, nil
}

// WaitForReady waits until the CR reports at least one condition and all of them are True.
func (k *Kuadrant) WaitForReady(ctx context.Context, timeout time.Duration, opts ...poll.Option) error {
	outcome, err := poll.WaitUntil[resource.ConditionsStatus](ctx, k, poll.AllConditionsTrue[resource.ConditionsStatus](), timeout, opts...)
	if err != nil {
		return err
	}
	return outcome.Expect("ready")
}

// Authorino returns spec.authorino. A CR without the section yields *resource.NotConfiguredError.
func (k *Kuadrant) Authorino() (*Section, error) {
	return k.section(AuthorinoSection)
}

// Limitador returns spec.limitador. A CR without the section yields *resource.NotConfiguredError.
func (k *Kuadrant) Limitador() (*Section, error) {
	return k.section(LimitadorSection)
}

func (k *Kuadrant) section(name string) (*Section, error) {
	_, found, err := unstructured.NestedMap(k.Object().Object, "spec", name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &resource.NotConfiguredError{Identity: k.Identity(), Section: "spec." + name}
	}
	return &Section{kuadrant: k, name: name}, nil
}

// Section is one of the component sections of the Kuadrant spec.
type Section struct {
	kuadrant *Kuadrant
	name     string
}

func (s *Section) Name() string {
	return s.name
}

// Get reads a field of the section from the last refreshed document.
func (s *Section) Get(field string) (interface{}, bool, error) {
	return unstructured.NestedFieldCopy(s.kuadrant.Object().Object, "spec", s.name, field)
}

// Set writes a field of the section on the cluster. Values are converted to their
// document form, so typed values like a limitador Storage or a []string can be passed as they are.
func (s *Section) Set(ctx context.Context, field string, value interface{}) error {
	raw, err := toDocumentValue(value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", s.name, field, err)
	}
	return s.kuadrant.Modify(ctx, func(obj *unstructured.Unstructured) error {
		return unstructured.SetNestedField(obj.Object, raw, "spec", s.name, field)
	})
}

// toDocumentValue turns value into its JSON document form, integers kept as int64.
func toDocumentValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil, string, bool, int64, float64:
		return v, nil
	}
	content, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("unsupported value of type %T: %w", value, err)
	}
	var doc interface{}
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
