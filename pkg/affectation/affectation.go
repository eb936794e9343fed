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

// Package affectation tells whether a policy attached its effects to a target object.
//
// The control plane records a successful attachment on the target, not on the policy:
// the target gets a condition of type `<prefix>/<Kind>Affected`, status True, reason
// Accepted and a message naming the affecting policies. Callers poll the target.
package affectation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/kuadrant/testsuite/pkg/conditions"
	"github.com/kuadrant/testsuite/pkg/poll"
	"github.com/kuadrant/testsuite/pkg/policy"
	"github.com/kuadrant/testsuite/pkg/resource"
)

const DefaultPrefix = "kuadrant.io"

// ConditionSource is any object exposing its last refreshed conditions.
type ConditionSource interface {
	Conditions() []metav1.Condition
}

// Resolver computes and checks affectation conditions.
type Resolver struct {
	// Prefix of the condition types. Defaults to DefaultPrefix.
	Prefix string
}

func NewResolver(prefix string) Resolver {
	return Resolver{Prefix: prefix}
}

func (r Resolver) prefix() string {
	if r.Prefix == "" {
		return DefaultPrefix
	}
	return r.Prefix
}

// ConditionType returns the condition type recorded for policies of the given kind,
// e.g. kuadrant.io/DNSPolicyAffected.
func (r Resolver) ConditionType(kind string) string {
	return fmt.Sprintf("%s/%sAffected", r.prefix(), capitalize(kind))
}

// Message returns the message recorded for a single affecting policy.
func Message(p policy.Identity) string {
	return fmt.Sprintf("Object affected by %s %s", capitalize(p.Kind), p.Key())
}

// IsAffectedBy checks the cached conditions of target. An absent condition is not an error:
// not reconciled yet and never attached look the same.
func (r Resolver) IsAffectedBy(target ConditionSource, p policy.Identity) bool {
	return r.Affected(target.Conditions(), p)
}

// Affected is IsAffectedBy over a bare set of conditions.
func (r Resolver) Affected(conds []metav1.Condition, p policy.Identity) bool {
	c := conditions.Find(conds, r.ConditionType(p.Kind))
	if c == nil || c.Status != metav1.ConditionTrue || c.Reason != conditions.AcceptedReason {
		return false
	}
	return names(c.Message, p)
}

// AffectedBy is the poll predicate for IsAffectedBy.
func AffectedBy[S resource.Snapshot](r Resolver, p policy.Identity) poll.Predicate[S] {
	return func(s S) bool {
		return r.Affected(s.GetConditions(), p)
	}
}

// names reports whether message mentions the policy as a whole `<namespace>/<name>` token.
// Both the single form and the list form `[ns/a ns/b]` are understood.
func names(message string, p policy.Identity) bool {
	key := p.Key().String()
	fields := strings.FieldsFunc(message, func(r rune) bool {
		return unicode.IsSpace(r) || r == '[' || r == ']' || r == ','
	})
	for _, f := range fields {
		if f == key {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
