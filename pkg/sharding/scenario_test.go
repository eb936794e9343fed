//go:build unit

package sharding_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/kuadrant/testsuite/internal/testutil"
	"github.com/kuadrant/testsuite/pkg/authorino"
	"github.com/kuadrant/testsuite/pkg/cluster"
	"github.com/kuadrant/testsuite/pkg/gatewayapi"
	"github.com/kuadrant/testsuite/pkg/poll"
	"github.com/kuadrant/testsuite/pkg/policy"
	"github.com/kuadrant/testsuite/pkg/sharding"
)

const (
	ns       = "kuadrant"
	hostname = "api.example.com"
)

var fastPoll = []poll.Option{poll.WithInterval(10 * time.Millisecond)}

func authorinos(ctx context.Context, c client.Client) []unstructured.Unstructured {
	list := &unstructured.UnstructuredList{}
	list.SetGroupVersionKind(authorino.AuthorinoGVK.GroupVersion().WithKind("AuthorinoList"))
	if err := c.List(ctx, list, client.InNamespace(ns)); err != nil {
		return nil
	}
	return list.Items
}

func shardOf(authorinoName string) string {
	return strings.TrimPrefix(authorinoName, "authorino-")
}

// affectGateways programs every gateway and records the AuthPolicy of each running
// Authorino on it. A stale control plane never forgets an instance it has seen.
func affectGateways(stale bool) testutil.Reconciler {
	seen := map[string]struct{}{}
	return func(ctx context.Context, c client.Client, obj *unstructured.Unstructured) bool {
		current := map[string]struct{}{}
		for _, a := range authorinos(ctx, c) {
			claim := ns + "/auth-" + shardOf(a.GetName())
			current[claim] = struct{}{}
			seen[claim] = struct{}{}
		}
		claims := current
		if stale {
			claims = seen
		}
		keys := make([]string, 0, len(claims))
		for k := range claims {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		conds := []metav1.Condition{testutil.Condition("Programmed", metav1.ConditionTrue, "Programmed", "")}
		switch len(keys) {
		case 0:
		case 1:
			conds = append(conds, testutil.Condition("kuadrant.io/AuthPolicyAffected", metav1.ConditionTrue, "Accepted",
				"Object affected by AuthPolicy "+keys[0]))
		default:
			conds = append(conds, testutil.Condition("kuadrant.io/AuthPolicyAffected", metav1.ConditionTrue, "Accepted",
				"Object affected by AuthPolicy ["+strings.Join(keys, " ")+"]"))
		}
		testutil.SetConditions(obj, conds...)
		return true
	}
}

// simFixtures model a shard as an Authorino whose AuthPolicy affects the gateway of the target.
type simFixtures struct {
	sharding.AffectationClaims
	cl cluster.Client
}

func (f *simFixtures) SetupInstance(ctx context.Context, shard sharding.Label) (*sharding.Instance, error) {
	lower := strings.ToLower(string(shard))
	a, err := authorino.NewAuthorino(f.cl, authorino.AuthorinoOptions{Name: "authorino-" + lower, Namespace: ns, Shard: string(shard)})
	if err != nil {
		return nil, err
	}
	if err := a.Commit(ctx); err != nil {
		return nil, err
	}
	instance := sharding.NewInstance(shard, policy.Identity{Kind: "AuthPolicy", Namespace: ns, Name: "auth-" + lower})
	instance.Own(a)
	return instance, nil
}

func (f *simFixtures) SetupTarget(ctx context.Context, instance *sharding.Instance, host string) (sharding.Target, error) {
	gw, err := gatewayapi.NewGateway(f.cl, gatewayapi.GatewayOptions{
		Name:      "gw-" + strings.ToLower(string(instance.Shard)),
		Namespace: ns,
		Hostname:  host,
	})
	if err != nil {
		return nil, err
	}
	if err := gw.Commit(ctx); err != nil {
		return nil, err
	}
	instance.Own(gw)
	return sharding.Observe(gw.Resource), nil
}

func acceptRoutes(_ context.Context, _ client.Client, obj *unstructured.Unstructured) bool {
	refs, _, _ := unstructured.NestedSlice(obj.Object, "spec", "parentRefs")
	parents := make([]interface{}, 0, len(refs))
	for _, ref := range refs {
		parents = append(parents, map[string]interface{}{
			"parentRef":      ref,
			"controllerName": "istio.io/gateway-controller",
			"conditions": []interface{}{
				map[string]interface{}{"type": "Accepted", "status": "True", "reason": "Accepted", "message": "", "lastTransitionTime": "2024-01-01T00:00:00Z"},
			},
		})
	}
	_ = unstructured.SetNestedSlice(obj.Object, parents, "status", "parents")
	return true
}

// linkHosts links the hosts of an AuthConfig served by a running Authorino shard. A host
// is locked by the first AuthConfig linking it; a stale control plane keeps the lock
// after that AuthConfig is deleted.
func linkHosts(stale bool) testutil.Reconciler {
	locks := map[string]client.ObjectKey{}
	return func(ctx context.Context, c client.Client, obj *unstructured.Unstructured) bool {
		shard := obj.GetLabels()[authorino.ShardingLabel]
		served := false
		for _, a := range authorinos(ctx, c) {
			selector, _, _ := unstructured.NestedString(a.Object, "spec", "authConfigLabelSelectors")
			if selector == authorino.ShardSelector(shard) {
				served = true
			}
		}

		key := client.ObjectKeyFromObject(obj)
		hosts, _, _ := unstructured.NestedStringSlice(obj.Object, "spec", "hosts")
		linked := []interface{}{}
		for _, host := range hosts {
			holder, locked := locks[host]
			if locked && holder != key && !stale {
				existing := &unstructured.Unstructured{}
				existing.SetGroupVersionKind(authorino.AuthConfigGVK)
				if err := c.Get(ctx, holder, existing); apierrors.IsNotFound(err) {
					delete(locks, host)
					locked = false
				}
			}
			if !served || (locked && holder != key) {
				continue
			}
			locks[host] = key
			linked = append(linked, host)
		}

		ready := served && len(linked) == len(hosts)
		condition := map[string]interface{}{"type": "Ready", "status": "False", "reason": "HostsNotLinked"}
		if ready {
			condition = map[string]interface{}{"type": "Ready", "status": "True", "reason": "HostsLinked"}
		}
		_ = unstructured.SetNestedMap(obj.Object, map[string]interface{}{
			"conditions": []interface{}{condition},
			"summary":    map[string]interface{}{"ready": ready, "hostsReady": linked},
		}, "status")
		return true
	}
}

func remaining(ctx context.Context, cp *testutil.ControlPlane) int {
	total := 0
	for _, gvk := range []schema.GroupVersionKind{authorino.AuthorinoGVK, gatewayapi.GatewayGVK, gatewayapi.HTTPRouteGVK, authorino.AuthConfigGVK} {
		items, err := cp.Cluster().List(ctx, gvk, ns, nil)
		Expect(err).ToNot(HaveOccurred())
		total += len(items)
	}
	return total
}

var _ = Describe("Shard isolation scenario", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("with claims recorded as affectation conditions", func() {
		run := func(cp *testutil.ControlPlane) (*sharding.Report, error) {
			scenario := &sharding.Scenario{
				Fixtures:    &simFixtures{cl: cp.Cluster()},
				Hostname:    hostname,
				Timeout:     time.Second,
				PollOptions: fastPoll,
			}
			return scenario.Run(ctx)
		}

		It("passes when the torn down shard stops claiming the target", func() {
			cp := testutil.NewControlPlane().On(gatewayapi.GatewayGVK.GroupKind(), affectGateways(false))

			report, err := run(cp)
			Expect(err).ToNot(HaveOccurred())
			Expect(report.First.Name).To(Equal("gw-a"))
			Expect(report.Second.Name).To(Equal("gw-b"))
			Expect(report.FirstAttempts).To(Equal(1))
			Expect(report.SecondAttempts).To(Equal(1))
			Expect(remaining(ctx, cp)).To(BeZero())
		})

		It("reports a target still claimed by the torn down shard", func() {
			cp := testutil.NewControlPlane().On(gatewayapi.GatewayGVK.GroupKind(), affectGateways(true))

			report, err := run(cp)
			Expect(report).To(BeNil())
			var isolationErr *sharding.IsolationError
			Expect(errors.As(err, &isolationErr)).To(BeTrue())
			Expect(isolationErr.Stale).To(Equal(sharding.Label("A")))
			Expect(isolationErr.Owner).To(Equal(sharding.Label("B")))
			Expect(isolationErr.Target.Name).To(Equal("gw-b"))
			Expect(isolationErr.LastSeen).To(ContainSubstring("kuadrant.io/AuthPolicyAffected=True(Accepted)"))
			Expect(err.Error()).To(ContainSubstring("still claimed by torn down shard A"))
			By("tearing down the second shard anyway")
			Expect(remaining(ctx, cp)).To(BeZero())
		})

		It("times out when the first target is never claimed", func() {
			cp := testutil.NewControlPlane().On(gatewayapi.GatewayGVK.GroupKind(),
				testutil.SetConditionsAfter(1, testutil.Condition("Programmed", metav1.ConditionTrue, "Programmed", "")))

			scenario := &sharding.Scenario{
				Fixtures:    &simFixtures{cl: cp.Cluster()},
				Hostname:    hostname,
				Timeout:     50 * time.Millisecond,
				PollOptions: fastPoll,
			}
			_, err := scenario.Run(ctx)
			var timeoutErr *poll.TimeoutError
			Expect(errors.As(err, &timeoutErr)).To(BeTrue())
			Expect(timeoutErr.What).To(Equal("ready and claimed by shard A"))
			Expect(timeoutErr.LastSeen).To(Equal("Programmed=True(Programmed)"))
			Expect(remaining(ctx, cp)).To(BeZero())
		})
	})

	Context("with Authorino sharded by label selector", func() {
		newControlPlane := func(staleLocks bool) *testutil.ControlPlane {
			ready := testutil.Condition("Ready", metav1.ConditionTrue, "Provisioned", "")
			programmed := testutil.Condition("Programmed", metav1.ConditionTrue, "Programmed", "")
			return testutil.NewControlPlane().
				On(authorino.AuthorinoGVK.GroupKind(), testutil.SetConditionsAfter(1, ready)).
				On(gatewayapi.GatewayGVK.GroupKind(), testutil.SetConditionsAfter(2, programmed)).
				On(gatewayapi.HTTPRouteGVK.GroupKind(), acceptRoutes).
				On(authorino.AuthConfigGVK.GroupKind(), linkHosts(staleLocks))
		}
		newFixtures := func(cp *testutil.ControlPlane) *sharding.AuthorinoFixtures {
			fixtures := sharding.NewAuthorinoFixtures(cp.Cluster(), ns, "*.example.com")
			fixtures.ReadyTimeout = time.Second
			fixtures.PollOptions = fastPoll
			return fixtures
		}

		It("passes when the host lock is released with the first AuthConfig", func() {
			cp := newControlPlane(false)
			fixtures := newFixtures(cp)

			scenario := &sharding.Scenario{Fixtures: fixtures, Hostname: hostname, Timeout: time.Second, PollOptions: fastPoll}
			report, err := scenario.Run(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(report.First.Name).To(Equal(fixtures.Prefix + "-a-auth"))
			Expect(report.Second.Name).To(Equal(fixtures.Prefix + "-b-auth"))
			Expect(report.Second.GVK).To(Equal(authorino.AuthConfigGVK))
			Expect(remaining(ctx, cp)).To(BeZero())
		})

		It("times out while a stale host lock is held", func() {
			cp := newControlPlane(true)
			fixtures := newFixtures(cp)

			scenario := &sharding.Scenario{Fixtures: fixtures, Hostname: hostname, Timeout: 200 * time.Millisecond, PollOptions: fastPoll}
			_, err := scenario.Run(ctx)
			var timeoutErr *poll.TimeoutError
			Expect(errors.As(err, &timeoutErr)).To(BeTrue())
			Expect(timeoutErr.Target.Name).To(Equal(fixtures.Prefix + "-b-auth"))
			Expect(timeoutErr.What).To(Equal("ready and claimed by shard B"))
			Expect(timeoutErr.LastSeen).To(Equal("Ready=False(HostsNotLinked)"))
			Expect(remaining(ctx, cp)).To(BeZero())
		})

		It("rejects a hostname the gateways do not cover", func() {
			cp := newControlPlane(false)

			scenario := &sharding.Scenario{Fixtures: newFixtures(cp), Hostname: "api.example.org", Timeout: time.Second, PollOptions: fastPoll}
			_, err := scenario.Run(ctx)
			Expect(err).To(MatchError(ContainSubstring("api.example.org is not covered by the gateway hostname *.example.com")))
			Expect(remaining(ctx, cp)).To(BeZero())
		})
	})

	Context("with an invalid setup", func() {
		It("needs fixtures and a hostname", func() {
			_, err := (&sharding.Scenario{Hostname: hostname}).Run(ctx)
			Expect(err).To(MatchError("scenario needs fixtures"))

			_, err = (&sharding.Scenario{Fixtures: &simFixtures{}}).Run(ctx)
			Expect(err).To(MatchError("scenario needs a hostname"))
		})

		It("needs two distinct shards", func() {
			cp := testutil.NewControlPlane()
			_, err := (&sharding.Scenario{Fixtures: &simFixtures{cl: cp.Cluster()}, Hostname: hostname, First: "A", Second: "A"}).Run(ctx)
			Expect(err).To(MatchError("both shards are labelled A"))
			Expect(cp.Calls("")).To(BeZero())
		})
	})
})

var _ = Describe("Instance", func() {
	It("tears down owned objects last owned first", func() {
		ctx := context.Background()
		cp := testutil.NewControlPlane()

		instance := sharding.NewInstance("A", policy.Identity{Kind: "AuthPolicy", Namespace: ns, Name: "auth-a"})
		gw, err := gatewayapi.NewGateway(cp.Cluster(), gatewayapi.GatewayOptions{Name: "gw", Namespace: ns})
		Expect(err).ToNot(HaveOccurred())
		Expect(gw.Commit(ctx)).To(Succeed())
		route, err := gatewayapi.NewHTTPRoute(cp.Cluster(), gatewayapi.HTTPRouteOptions{Name: "route", Namespace: ns, Parent: gw})
		Expect(err).ToNot(HaveOccurred())
		Expect(route.Commit(ctx)).To(Succeed())
		instance.Own(gw, route)

		Expect(instance.Teardown(ctx)).To(Succeed())
		Expect(remaining(ctx, cp)).To(BeZero())
		By("ignoring objects already gone")
		instance.Own(gw)
		Expect(instance.Teardown(ctx)).To(Succeed())
	})
})
