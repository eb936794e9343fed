package authorino

import (
	"context"
	"errors"
	"time"

	authorinov1beta2 "github.com/kuadrant/authorino/api/v1beta2"
	"github.com/samber/lo"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kuadrant/testsuite/pkg/cluster"
	"github.com/kuadrant/testsuite/pkg/conditions"
	"github.com/kuadrant/testsuite/pkg/poll"
	"github.com/kuadrant/testsuite/pkg/resource"
)

var AuthConfigGVK = authorinov1beta2.GroupVersion.WithKind("AuthConfig")

type AuthConfigOptions struct {
	Name      string
	Namespace string
	Labels    map[string]string
	Hosts     []string
	// Spec is merged into the spec of the document, e.g. an authentication section.
	// Values must be JSON compatible.
	Spec map[string]interface{}
}

// AuthConfigSnapshot is the status reported by the Authorino instance that reconciled the AuthConfig.
type AuthConfigSnapshot struct {
	Conditions []metav1.Condition
	// Ready is the summary readiness, distinct from the Ready condition
	Ready      bool
	HostsReady []string
	// Labels of the document at the time of the refresh
	Labels map[string]string
}

func (s AuthConfigSnapshot) GetConditions() []metav1.Condition {
	return s.Conditions
}

// HostReady tells whether host was linked to the AuthConfig.
func (s AuthConfigSnapshot) HostReady(host string) bool {
	return lo.Contains(s.HostsReady, host)
}

func DecodeAuthConfig(obj *unstructured.Unstructured) (AuthConfigSnapshot, error) {
	authConfig, err := resource.FromUnstructured[authorinov1beta2.AuthConfig](obj)
	if err != nil {
		return AuthConfigSnapshot{}, err
	}
	return AuthConfigSnapshot{
		Conditions: lo.Map(authConfig.Status.Conditions, conditions.FromAuthConfig),
		Ready:      authConfig.Status.Summary.Ready,
		HostsReady: authConfig.Status.Summary.HostsReady,
		Labels:     obj.GetLabels(),
	}, nil
}

// AuthConfig is the Authorino protection of a set of hosts.
type AuthConfig struct {
	*resource.Resource[AuthConfigSnapshot]
	hosts []string
}

func NewAuthConfig(cl cluster.Client, opts AuthConfigOptions) (*AuthConfig, error) {
	if len(opts.Hosts) == 0 {
		return nil, errors.New("auth config needs at least one host")
	}

	authConfig := &authorinov1beta2.AuthConfig{
		TypeMeta: metav1.TypeMeta{APIVersion: AuthConfigGVK.GroupVersion().String(), Kind: AuthConfigGVK.Kind},
		ObjectMeta: metav1.ObjectMeta{
			Name:      opts.Name,
			Namespace: opts.Namespace,
			Labels:    opts.Labels,
		},
		Spec: authorinov1beta2.AuthConfigSpec{Hosts: opts.Hosts},
	}
	obj, err := resource.ToUnstructured(authConfig)
	if err != nil {
		return nil, err
	}
	unstructured.RemoveNestedField(obj.Object, "status")
	for key, value := range opts.Spec {
		if err := unstructured.SetNestedField(obj.Object, value, "spec", key); err != nil {
			return nil, err
		}
	}

	return &AuthConfig{
		Resource: resource.New(cl, obj, DecodeAuthConfig),
		hosts:    opts.Hosts,
	}, nil
}

func (a *AuthConfig) Hosts() []string {
	return a.hosts
}

// HostsReady holds when every host of the AuthConfig is linked.
func (a *AuthConfig) HostsReady() poll.Predicate[AuthConfigSnapshot] {
	hosts := a.hosts
	return func(s AuthConfigSnapshot) bool {
		return lo.Every(s.HostsReady, hosts)
	}
}

// WaitForReady waits until the AuthConfig is Ready and all of its hosts are linked.
func (a *AuthConfig) WaitForReady(ctx context.Context, timeout time.Duration, opts ...poll.Option) error {
	ready := poll.And(poll.ConditionTrue[AuthConfigSnapshot](a.ReadyCondition()), a.HostsReady())
	outcome, err := poll.WaitUntil[AuthConfigSnapshot](ctx, a, ready, timeout, opts...)
	if err != nil {
		return err
	}
	return outcome.Expect("ready with all hosts linked")
}
