package poll

import (
	"encoding/json"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/kuadrant/testsuite/pkg/conditions"
	"github.com/kuadrant/testsuite/pkg/resource"
)

const (
	PredicateReady      = "ready"
	PredicateProgrammed = "programmed"
	PredicateAccepted   = "accepted"
	PredicateEnforced   = "enforced"
	PredicateAllTrue    = "all-true"
)

// ConditionTrue holds when the condition of the given type is True.
func ConditionTrue[S resource.Snapshot](conditionType string) Predicate[S] {
	return ConditionMatches[S](conditionType, metav1.ConditionTrue)
}

func ConditionMatches[S resource.Snapshot](conditionType string, status metav1.ConditionStatus) Predicate[S] {
	return func(s S) bool {
		return conditions.Matches(s.GetConditions(), conditionType, status)
	}
}

// AllConditionsTrue holds when there is at least one condition and every one of them is True.
func AllConditionsTrue[S resource.Snapshot]() Predicate[S] {
	return func(s S) bool {
		return conditions.AllTrue(s.GetConditions())
	}
}

// Named resolves one of the predicate names ready, programmed, accepted, enforced and all-true.
func Named[S resource.Snapshot](name string) (Predicate[S], error) {
	switch name {
	case PredicateReady:
		return ConditionTrue[S](conditions.ReadyConditionType), nil
	case PredicateProgrammed:
		return ConditionTrue[S](conditions.ProgrammedConditionType), nil
	case PredicateAccepted:
		return ConditionTrue[S](conditions.AcceptedConditionType), nil
	case PredicateEnforced:
		return ConditionTrue[S](conditions.EnforcedConditionType), nil
	case PredicateAllTrue:
		return AllConditionsTrue[S](), nil
	default:
		return nil, fmt.Errorf("unknown predicate %q", name)
	}
}

// And holds when every predicate holds.
func And[S any](predicates ...Predicate[S]) Predicate[S] {
	return func(s S) bool {
		for _, p := range predicates {
			if !p(s) {
				return false
			}
		}
		return true
	}
}

// TimeoutError is the assertion failure for a wait that ran out of time.
type TimeoutError struct {
	Target   resource.Identity
	What     string
	Attempts int
	Elapsed  time.Duration
	LastSeen string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not become %s in time (%d attempts in %s), last seen: %s",
		e.Target, e.What, e.Attempts, e.Elapsed.Round(time.Millisecond), e.LastSeen)
}

func describe(snapshot any) string {
	if s, ok := snapshot.(resource.Snapshot); ok {
		return conditions.Summary(s.GetConditions())
	}
	out, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Sprintf("%+v", snapshot)
	}
	return string(out)
}
