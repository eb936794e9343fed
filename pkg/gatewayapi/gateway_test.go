//go:build unit

package gatewayapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"gotest.tools/assert"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	gatewayapiv1 "sigs.k8s.io/gateway-api/apis/v1"

	"github.com/kuadrant/testsuite/internal/testutil"
	"github.com/kuadrant/testsuite/pkg/affectation"
	"github.com/kuadrant/testsuite/pkg/cluster"
	"github.com/kuadrant/testsuite/pkg/poll"
	"github.com/kuadrant/testsuite/pkg/policy"
)

// programGateways behaves like a gateway provider: the gateway is programmed and gets
// an address on the second read.
func programGateways() testutil.Reconciler {
	reads := map[string]int{}
	return func(_ context.Context, _ client.Client, obj *unstructured.Unstructured) bool {
		key := client.ObjectKeyFromObject(obj).String()
		reads[key]++
		if reads[key] < 2 {
			return false
		}
		testutil.SetConditions(obj,
			testutil.Condition("Accepted", metav1.ConditionTrue, "Accepted", ""),
			testutil.Condition("Programmed", metav1.ConditionTrue, "Programmed", ""),
		)
		_ = unstructured.SetNestedSlice(obj.Object, []interface{}{
			map[string]interface{}{"type": "IPAddress", "value": "10.0.0.1"},
		}, "status", "addresses")
		return true
	}
}

func TestNewGateway(t *testing.T) {
	cl := testutil.NewControlPlane().Cluster()

	gw, err := NewGateway(cl, GatewayOptions{Name: "gw", Namespace: "kuadrant", Hostname: "*.example.com", Labels: map[string]string{"app": "testsuite"}})
	assert.NilError(t, err)

	spec, err := gw.Spec()
	assert.NilError(t, err)
	assert.Equal(t, string(spec.GatewayClassName), "istio")
	assert.Equal(t, len(spec.Listeners), 1)
	listener := spec.Listeners[0]
	assert.Equal(t, string(listener.Name), "api")
	assert.Equal(t, string(*listener.Hostname), "*.example.com")
	assert.Equal(t, int(listener.Port), 80)
	assert.Equal(t, listener.Protocol, gatewayapiv1.HTTPProtocolType)
	assert.Equal(t, *listener.AllowedRoutes.Namespaces.From, gatewayapiv1.NamespacesFromAll)
	assert.Assert(t, listener.TLS == nil)

	assert.Equal(t, gw.ServiceName(), "gw-istio")
	assert.Equal(t, gw.ReadyCondition(), "Programmed")
	assert.Equal(t, len(gw.Companions()), 1)

	ref := gw.Reference()
	assert.Equal(t, string(ref.Group), "gateway.networking.k8s.io")
	assert.Equal(t, string(ref.Kind), "Gateway")
	assert.Equal(t, string(ref.Name), "gw")

	_, err = NewGateway(cl, GatewayOptions{Name: "gw"})
	assert.ErrorContains(t, err, "needs a name and a namespace")
}

func TestNewTLSGateway(t *testing.T) {
	cl := testutil.NewControlPlane().Cluster()

	gw, err := NewGateway(cl, GatewayOptions{Name: "gw", Namespace: "kuadrant", Hostname: "*.example.com", TLS: true, GatewayClassName: "eg"})
	assert.NilError(t, err)

	spec, err := gw.Spec()
	assert.NilError(t, err)
	listener := spec.Listeners[0]
	assert.Equal(t, int(listener.Port), 443)
	assert.Equal(t, listener.Protocol, gatewayapiv1.HTTPSProtocolType)
	assert.Equal(t, *listener.TLS.Mode, gatewayapiv1.TLSModeTerminate)
	assert.Equal(t, string(listener.TLS.CertificateRefs[0].Name), "gw-tls")
	assert.Equal(t, string(*listener.TLS.CertificateRefs[0].Kind), "Secret")

	assert.Equal(t, gw.ServiceName(), "gw-eg")
	assert.Equal(t, gw.CertSecretName(), "gw-tls")
	assert.Equal(t, len(gw.Companions()), 2)
}

func TestGatewayWaitForReady(t *testing.T) {
	ctx := context.Background()
	cp := testutil.NewControlPlane().On(GatewayGVK.GroupKind(), programGateways())

	gw, err := NewGateway(cp.Cluster(), GatewayOptions{Name: "gw", Namespace: "kuadrant", Hostname: "*.example.com"})
	assert.NilError(t, err)
	assert.NilError(t, gw.Commit(ctx))

	_, err = gw.ExternalIP(ctx)
	assert.ErrorContains(t, err, "has no address yet")

	assert.NilError(t, gw.WaitForReady(ctx, time.Minute, poll.WithInterval(10*time.Millisecond)))
	assert.Assert(t, gw.IsReady())

	ip, err := gw.ExternalIP(ctx)
	assert.NilError(t, err)
	assert.Equal(t, ip, "10.0.0.1:80")
}

func TestExternalIPRefreshes(t *testing.T) {
	ctx := context.Background()
	cp := testutil.NewControlPlane().On(GatewayGVK.GroupKind(), func(_ context.Context, _ client.Client, obj *unstructured.Unstructured) bool {
		_ = unstructured.SetNestedSlice(obj.Object, []interface{}{
			map[string]interface{}{"type": "IPAddress", "value": "10.0.0.2"},
		}, "status", "addresses")
		return true
	})

	gw, err := NewGateway(cp.Cluster(), GatewayOptions{Name: "gw", Namespace: "kuadrant", Hostname: "*.example.com"})
	assert.NilError(t, err)
	assert.NilError(t, gw.Commit(ctx))
	assert.Equal(t, len(gw.Snapshot().Addresses), 0)

	ip, err := gw.ExternalIP(ctx)
	assert.NilError(t, err)
	assert.Equal(t, ip, "10.0.0.2:80")
	assert.Equal(t, len(gw.Snapshot().Addresses), 1)
}

func TestGatewayWaitForReadyTimesOut(t *testing.T) {
	ctx := context.Background()
	cp := testutil.NewControlPlane()

	gw, err := NewGateway(cp.Cluster(), GatewayOptions{Name: "gw", Namespace: "kuadrant", Hostname: "*.example.com"})
	assert.NilError(t, err)
	assert.NilError(t, gw.Commit(ctx))

	err = gw.WaitForReady(ctx, 100*time.Millisecond, poll.WithInterval(10*time.Millisecond))
	var timeoutErr *poll.TimeoutError
	assert.Assert(t, errors.As(err, &timeoutErr))
	assert.ErrorContains(t, err, "Gateway kuadrant/gw did not become programmed in time")
	assert.ErrorContains(t, err, "<no conditions>")
}

func TestAddListener(t *testing.T) {
	ctx := context.Background()
	cl := testutil.NewControlPlane().Cluster()
	gw, err := NewGateway(cl, GatewayOptions{Name: "gw", Namespace: "kuadrant", Hostname: "*.example.com"})
	assert.NilError(t, err)

	extra := func(name string) gatewayapiv1.Listener {
		return gatewayapiv1.Listener{
			Name:     gatewayapiv1.SectionName(name),
			Hostname: ptr.To(gatewayapiv1.Hostname(name + ".example.com")),
			Port:     8080,
			Protocol: gatewayapiv1.HTTPProtocolType,
		}
	}

	assert.NilError(t, gw.AddListener(ctx, extra("before")))
	assert.NilError(t, gw.Commit(ctx))
	assert.NilError(t, gw.AddListener(ctx, extra("after")))

	stored, err := cl.Get(ctx, GatewayGVK, gw.Identity().Key())
	assert.NilError(t, err)
	listeners, _, _ := unstructured.NestedSlice(stored.Object, "spec", "listeners")
	assert.Equal(t, len(listeners), 3)
}

func TestGatewayIsAffectedBy(t *testing.T) {
	ctx := context.Background()
	dns := policy.Identity{Kind: "DNSPolicy", Namespace: "kuadrant", Name: "dns"}
	cp := testutil.NewControlPlane().On(GatewayGVK.GroupKind(), testutil.SetConditionsAfter(1,
		testutil.Condition("Programmed", metav1.ConditionTrue, "Programmed", ""),
		testutil.Condition("kuadrant.io/DNSPolicyAffected", metav1.ConditionTrue, "Accepted", affectation.Message(dns)),
	))

	gw, err := NewGateway(cp.Cluster(), GatewayOptions{Name: "gw", Namespace: "kuadrant", Hostname: "*.example.com"})
	assert.NilError(t, err)
	assert.NilError(t, gw.Commit(ctx))

	resolver := affectation.Resolver{}
	// nothing is known before the first refresh
	assert.Assert(t, !gw.IsAffectedBy(resolver, dns))

	_, err = gw.Refresh(ctx)
	assert.NilError(t, err)
	assert.Assert(t, gw.IsAffectedBy(resolver, dns))
	assert.Assert(t, !gw.IsAffectedBy(resolver, policy.Identity{Kind: "TLSPolicy", Namespace: "kuadrant", Name: "dns"}))
}

func TestTLSCert(t *testing.T) {
	ctx := context.Background()
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Namespace: "kuadrant", Name: "gw-tls"},
		Type:       corev1.SecretTypeTLS,
		Data: map[string][]byte{
			"tls.key": []byte("key"),
			"tls.crt": []byte("cert"),
			"ca.crt":  []byte("chain"),
		},
	}

	cl := testutil.NewControlPlane(secret).Cluster()
	gw, err := NewGateway(cl, GatewayOptions{Name: "gw", Namespace: "kuadrant", Hostname: "*.example.com", TLS: true})
	assert.NilError(t, err)
	cert, err := gw.TLSCert(ctx)
	assert.NilError(t, err)
	assert.Equal(t, string(cert.Key), "key")
	assert.Equal(t, string(cert.Certificate), "cert")
	assert.Equal(t, string(cert.Chain), "chain")

	cl = testutil.NewControlPlane().Cluster()
	gw, err = NewGateway(cl, GatewayOptions{Name: "gw", Namespace: "kuadrant", Hostname: "*.example.com", TLS: true})
	assert.NilError(t, err)
	_, err = gw.TLSCert(ctx)
	assert.ErrorContains(t, err, "TLS secret was not created")
	assert.Assert(t, cluster.IsNotFound(err))

	plain, err := NewGateway(cl, GatewayOptions{Name: "plain", Namespace: "kuadrant", Hostname: "*.example.com"})
	assert.NilError(t, err)
	_, err = plain.TLSCert(ctx)
	assert.ErrorContains(t, err, "does not terminate TLS")
}

func TestGatewayDeleteRemovesCompanions(t *testing.T) {
	ctx := context.Background()
	cp := testutil.NewControlPlane(
		&corev1.Secret{ObjectMeta: metav1.ObjectMeta{Namespace: "kuadrant", Name: "gw-tls"}},
		&corev1.ServiceAccount{ObjectMeta: metav1.ObjectMeta{Namespace: "kuadrant", Name: "gw-istio"}},
	)
	cl := cp.Cluster()
	gw, err := NewGateway(cl, GatewayOptions{Name: "gw", Namespace: "kuadrant", Hostname: "*.example.com", TLS: true})
	assert.NilError(t, err)
	assert.NilError(t, gw.Commit(ctx))

	assert.NilError(t, gw.Delete(ctx))

	for _, c := range gw.Companions() {
		_, err := cl.Get(ctx, c.GVK, client.ObjectKey{Namespace: c.Namespace, Name: c.Name})
		assert.Assert(t, cluster.IsNotFound(err), "%s survived", c)
	}
}

func TestHTTPRoute(t *testing.T) {
	ctx := context.Background()
	cp := testutil.NewControlPlane().On(HTTPRouteGVK.GroupKind(), func(_ context.Context, _ client.Client, obj *unstructured.Unstructured) bool {
		parents := []interface{}{
			map[string]interface{}{
				"parentRef":      map[string]interface{}{"name": "other"},
				"controllerName": "istio.io/gateway-controller",
				"conditions": []interface{}{
					map[string]interface{}{"type": "Accepted", "status": "False", "reason": "NotAllowedByListeners", "message": "", "lastTransitionTime": "2024-01-01T00:00:00Z"},
				},
			},
			map[string]interface{}{
				"parentRef":      map[string]interface{}{"name": "gw"},
				"controllerName": "istio.io/gateway-controller",
				"conditions": []interface{}{
					map[string]interface{}{"type": "Accepted", "status": "True", "reason": "Accepted", "message": "", "lastTransitionTime": "2024-01-01T00:00:00Z"},
				},
			},
		}
		_ = unstructured.SetNestedSlice(obj.Object, parents, "status", "parents")
		return true
	})
	cl := cp.Cluster()

	gw, err := NewGateway(cl, GatewayOptions{Name: "gw", Namespace: "kuadrant", Hostname: "*.example.com"})
	assert.NilError(t, err)

	route, err := NewHTTPRoute(cl, HTTPRouteOptions{
		Name:      "route",
		Namespace: "kuadrant",
		Parent:    gw,
		Hostnames: []string{"api.example.com"},
		Backend:   &Backend{Name: "httpbin", Port: 8080},
	})
	assert.NilError(t, err)
	assert.NilError(t, route.Commit(ctx))

	outcome, err := poll.ForReady(ctx, route.Resource, time.Second, poll.WithInterval(10*time.Millisecond))
	assert.NilError(t, err)
	assert.Assert(t, outcome.Ready())
	assert.Equal(t, len(outcome.Last.Parents), 2)
	assert.Equal(t, string(route.Reference().Kind), "HTTPRoute")

	_, err = NewHTTPRoute(cl, HTTPRouteOptions{Name: "orphan", Namespace: "kuadrant"})
	assert.ErrorContains(t, err, "needs a parent gateway")
}
