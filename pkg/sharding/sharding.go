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

// Package sharding verifies that a deleted control plane shard leaves nothing behind
// that keeps claiming objects later served by another shard.
package sharding

import (
	"context"
	"errors"
	"fmt"

	"github.com/kuadrant/testsuite/pkg/affectation"
	"github.com/kuadrant/testsuite/pkg/conditions"
	"github.com/kuadrant/testsuite/pkg/log"
	"github.com/kuadrant/testsuite/pkg/policy"
	"github.com/kuadrant/testsuite/pkg/resource"
)

// Label selects the objects a shard serves.
type Label string

// Owned is anything an instance deletes when torn down.
type Owned interface {
	Delete(ctx context.Context, opts ...resource.DeleteOption) error
	String() string
}

// Instance is a running shard of the control plane.
type Instance struct {
	Shard Label
	// Claim is what the instance records on the targets it serves
	Claim policy.Identity

	owned []Owned
}

func NewInstance(shard Label, claim policy.Identity) *Instance {
	return &Instance{Shard: shard, Claim: claim}
}

// Own registers objects to delete on Teardown. They are deleted in reverse order.
func (i *Instance) Own(objs ...Owned) {
	i.owned = append(i.owned, objs...)
}

// Teardown deletes everything the instance owns, last owned first.
// Objects already gone are not an error.
func (i *Instance) Teardown(ctx context.Context) error {
	logger := log.FromContext(ctx).WithValues("shard", i.Shard)
	var errs []error
	for idx := len(i.owned) - 1; idx >= 0; idx-- {
		obj := i.owned[idx]
		if err := obj.Delete(ctx, resource.IgnoreNotFound()); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.V(1).Info("torn down", "object", obj.String())
	}
	i.owned = nil
	return errors.Join(errs...)
}

func (i *Instance) String() string {
	return fmt.Sprintf("shard %s", i.Shard)
}

// Target is an object served by exactly one shard at a time.
type Target interface {
	Refresh(ctx context.Context) (resource.Snapshot, error)
	Identity() resource.Identity
	ReadyCondition() string
	Delete(ctx context.Context, opts ...resource.DeleteOption) error
	String() string
}

type observed[S resource.Snapshot] struct {
	*resource.Resource[S]
}

func (o observed[S]) Refresh(ctx context.Context) (resource.Snapshot, error) {
	snapshot, err := o.Resource.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Observe turns a typed resource into a Target.
func Observe[S resource.Snapshot](r *resource.Resource[S]) Target {
	return observed[S]{Resource: r}
}

// Fixtures create the instances and targets of a scenario and tell who claims a target.
type Fixtures interface {
	SetupInstance(ctx context.Context, shard Label) (*Instance, error)
	// SetupTarget creates a target served by instance. Everything it creates is owned by instance.
	SetupTarget(ctx context.Context, instance *Instance, hostname string) (Target, error)
	ClaimedBy(snapshot resource.Snapshot, instance *Instance) bool
}

// AffectationClaims decides claims through the affectation condition of the instance policy.
type AffectationClaims struct {
	Resolver affectation.Resolver
}

func (a AffectationClaims) ClaimedBy(snapshot resource.Snapshot, instance *Instance) bool {
	if snapshot == nil {
		return false
	}
	return a.Resolver.Affected(snapshot.GetConditions(), instance.Claim)
}

// IsolationError reports a target still claimed by a torn down shard.
type IsolationError struct {
	Target resource.Identity
	Stale  Label
	Owner  Label
	// LastSeen summarizes the conditions of the target
	LastSeen string
}

func (e *IsolationError) Error() string {
	return fmt.Sprintf("%s is still claimed by torn down shard %s while served by shard %s, last seen: %s",
		e.Target, e.Stale, e.Owner, e.LastSeen)
}

func isReady(t Target, snapshot resource.Snapshot) bool {
	return snapshot != nil && conditions.IsTrue(snapshot.GetConditions(), t.ReadyCondition())
}
