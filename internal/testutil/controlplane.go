// Package testutil provides an in-memory cluster whose objects converge the way the
// real control plane makes them converge: status is written by reconcile hooks that
// run whenever an object is read.
package testutil

import (
	"context"
	"fmt"
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/kuadrant/testsuite/pkg/cluster"
)

// Reconciler mutates the status of obj in place and reports whether it changed anything.
// c reads the rest of the cluster without triggering other reconcilers.
type Reconciler func(ctx context.Context, c client.Client, obj *unstructured.Unstructured) bool

// ControlPlane is a fake cluster with reconcile hooks.
type ControlPlane struct {
	mu          sync.Mutex
	client      client.WithWatch
	reconcilers map[schema.GroupKind][]Reconciler
	calls       map[string]int
}

// NewControlPlane builds a control plane holding objs.
func NewControlPlane(objs ...client.Object) *ControlPlane {
	cp := &ControlPlane{
		reconcilers: map[schema.GroupKind][]Reconciler{},
		calls:       map[string]int{},
	}
	cp.client = fake.NewClientBuilder().
		WithScheme(cluster.NewScheme()).
		WithObjects(objs...).
		WithInterceptorFuncs(interceptor.Funcs{
			Get: func(ctx context.Context, c client.WithWatch, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error {
				cp.count("get")
				if err := c.Get(ctx, key, obj, opts...); err != nil {
					return err
				}
				u, ok := obj.(*unstructured.Unstructured)
				if !ok {
					return nil
				}
				return cp.reconcile(ctx, c, u)
			},
			Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
				cp.count("create")
				return c.Create(ctx, obj, opts...)
			},
			Update: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.UpdateOption) error {
				cp.count("update")
				return c.Update(ctx, obj, opts...)
			},
			Delete: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.DeleteOption) error {
				cp.count("delete")
				return c.Delete(ctx, obj, opts...)
			},
			List: func(ctx context.Context, c client.WithWatch, list client.ObjectList, opts ...client.ListOption) error {
				cp.count("list")
				return c.List(ctx, list, opts...)
			},
		}).
		Build()
	return cp
}

// On registers a reconciler for every object of the given kind.
func (cp *ControlPlane) On(gk schema.GroupKind, r Reconciler) *ControlPlane {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.reconcilers[gk] = append(cp.reconcilers[gk], r)
	return cp
}

func (cp *ControlPlane) reconcile(ctx context.Context, c client.WithWatch, obj *unstructured.Unstructured) error {
	cp.mu.Lock()
	reconcilers := cp.reconcilers[obj.GroupVersionKind().GroupKind()]
	cp.mu.Unlock()

	changed := false
	for _, r := range reconcilers {
		if r(ctx, c, obj) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return c.Update(ctx, obj)
}

func (cp *ControlPlane) count(verb string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.calls[verb]++
}

// Calls returns how many times verb was issued. An empty verb sums them all.
func (cp *ControlPlane) Calls(verb string) int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if verb != "" {
		return cp.calls[verb]
	}
	total := 0
	for _, n := range cp.calls {
		total += n
	}
	return total
}

// Cluster returns the testsuite client talking to this control plane.
func (cp *ControlPlane) Cluster() *cluster.KubeClient {
	return cluster.New(cp.client)
}

// Client returns the underlying client. Reads through it do run the reconcilers.
func (cp *ControlPlane) Client() client.WithWatch {
	return cp.client
}

// Condition builds a condition with the given fields.
func Condition(conditionType string, status metav1.ConditionStatus, reason, message string) metav1.Condition {
	return metav1.Condition{Type: conditionType, Status: status, Reason: reason, Message: message}
}

// SetConditions replaces status.conditions on obj.
func SetConditions(obj *unstructured.Unstructured, conds ...metav1.Condition) {
	raw := make([]interface{}, 0, len(conds))
	for _, c := range conds {
		content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&c)
		if err != nil {
			panic(fmt.Sprintf("unconvertible condition %v: %v", c, err))
		}
		raw = append(raw, content)
	}
	if err := unstructured.SetNestedSlice(obj.Object, raw, "status", "conditions"); err != nil {
		panic(err)
	}
}

// SetConditionsAfter reports the given conditions once an object was read n times.
// Reads are counted per object.
func SetConditionsAfter(n int, conds ...metav1.Condition) Reconciler {
	var mu sync.Mutex
	reads := map[string]int{}
	return func(_ context.Context, _ client.Client, obj *unstructured.Unstructured) bool {
		mu.Lock()
		defer mu.Unlock()
		key := client.ObjectKeyFromObject(obj).String()
		reads[key]++
		if reads[key] < n {
			return false
		}
		SetConditions(obj, conds...)
		return true
	}
}
