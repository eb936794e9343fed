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

// Package conditions queries sets of status conditions reported by the control plane.
//
// Condition types, statuses and reasons are a contract with the controllers, so every
// match is exact. A set is keyed by condition type; when a type appears more than once
// the last entry wins.
package conditions

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	authorinooperatorv1beta1 "github.com/kuadrant/authorino-operator/api/v1beta1"
	authorinov1beta2 "github.com/kuadrant/authorino/api/v1beta2"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	ReadyConditionType      = "Ready"
	ProgrammedConditionType = "Programmed"
	AcceptedConditionType   = "Accepted"
	EnforcedConditionType   = "Enforced"

	AcceptedReason = "Accepted"
)

// Find returns the condition of the given type, or nil if there is none.
func Find(conditions []metav1.Condition, conditionType string) *metav1.Condition {
	for i := len(conditions) - 1; i >= 0; i-- {
		if conditions[i].Type == conditionType {
			return &conditions[i]
		}
	}
	return nil
}

// Matches returns true iff a condition with exactly the given type and status exists.
func Matches(conditions []metav1.Condition, conditionType string, status metav1.ConditionStatus) bool {
	c := Find(conditions, conditionType)
	return c != nil && c.Status == status
}

// MatchesWithReason is Matches with an additional exact match on the reason.
func MatchesWithReason(conditions []metav1.Condition, conditionType string, status metav1.ConditionStatus, reason string) bool {
	c := Find(conditions, conditionType)
	return c != nil && c.Status == status && c.Reason == reason
}

// IsTrue is a shorthand for Matches(conditions, conditionType, metav1.ConditionTrue).
func IsTrue(conditions []metav1.Condition, conditionType string) bool {
	return Matches(conditions, conditionType, metav1.ConditionTrue)
}

// AllTrue returns true if there is at least one condition and all of them are True.
func AllTrue(conditions []metav1.Condition) bool {
	if len(conditions) == 0 {
		return false
	}
	for _, c := range Dedup(conditions) {
		if c.Status != metav1.ConditionTrue {
			return false
		}
	}
	return true
}

// Dedup collapses duplicated condition types keeping the last entry of each type.
// The order of first appearance is preserved.
func Dedup(conditions []metav1.Condition) []metav1.Condition {
	index := make(map[string]int, len(conditions))
	result := make([]metav1.Condition, 0, len(conditions))
	for _, c := range conditions {
		if i, ok := index[c.Type]; ok {
			result[i] = c
			continue
		}
		index[c.Type] = len(result)
		result = append(result, c)
	}
	return result
}

// Validate checks the fields the control plane must always populate.
func Validate(conditions []metav1.Condition) error {
	for i, c := range conditions {
		if c.Type == "" {
			return fmt.Errorf("condition %d has no type", i)
		}
		switch c.Status {
		case metav1.ConditionTrue, metav1.ConditionFalse, metav1.ConditionUnknown:
		default:
			return fmt.Errorf("condition %q has invalid status %q", c.Type, c.Status)
		}
	}
	return nil
}

// Marshal marshals the set of conditions as a JSON array, sorted by condition type.
func Marshal(conditions []metav1.Condition) ([]byte, error) {
	condCopy := slices.Clone(Dedup(conditions))
	sort.Slice(condCopy, func(a, b int) bool {
		return condCopy[a].Type < condCopy[b].Type
	})
	return json.Marshal(condCopy)
}

// Summary renders the conditions in a single line, e.g. `Accepted=True(Accepted) Programmed=False(Pending)`
func Summary(conditions []metav1.Condition) string {
	if len(conditions) == 0 {
		return "<no conditions>"
	}
	parts := make([]string, 0, len(conditions))
	for _, c := range Dedup(conditions) {
		parts = append(parts, fmt.Sprintf("%s=%s(%s)", c.Type, c.Status, c.Reason))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// FromAuthConfig converts an Authorino AuthConfig condition. Meant to be used with lo.Map.
func FromAuthConfig(cond authorinov1beta2.AuthConfigStatusCondition, _ int) metav1.Condition {
	return metav1.Condition{
		Type:    string(cond.Type),
		Status:  metav1.ConditionStatus(cond.Status),
		Reason:  cond.Reason,
		Message: cond.Message,
	}
}

// FromAuthorino converts an Authorino operator condition. Meant to be used with lo.Map.
func FromAuthorino(cond authorinooperatorv1beta1.Condition, _ int) metav1.Condition {
	return metav1.Condition{
		Type:    string(cond.Type),
		Status:  metav1.ConditionStatus(cond.Status),
		Reason:  cond.Reason,
		Message: cond.Message,
	}
}
