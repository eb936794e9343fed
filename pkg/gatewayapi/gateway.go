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

package gatewayapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	gatewayapiv1 "sigs.k8s.io/gateway-api/apis/v1"
	gatewayapiv1alpha2 "sigs.k8s.io/gateway-api/apis/v1alpha2"

	"github.com/kuadrant/testsuite/pkg/affectation"
	"github.com/kuadrant/testsuite/pkg/cluster"
	"github.com/kuadrant/testsuite/pkg/conditions"
	"github.com/kuadrant/testsuite/pkg/poll"
	"github.com/kuadrant/testsuite/pkg/policy"
	"github.com/kuadrant/testsuite/pkg/resource"
)

const (
	DefaultGatewayClass = "istio"
	// DefaultGatewayReadyTimeout is how long a gateway usually takes to be programmed
	DefaultGatewayReadyTimeout = 10 * time.Minute

	HTTPListenerName = "api"

	// caCertKey holds the issuer chain in secrets written by cert-manager
	caCertKey = "ca.crt"
)

var (
	GatewayGVK        = gatewayapiv1.SchemeGroupVersion.WithKind("Gateway")
	secretGVK         = corev1.SchemeGroupVersion.WithKind("Secret")
	serviceAccountGVK = corev1.SchemeGroupVersion.WithKind("ServiceAccount")
)

// GatewayOptions are the declarative parameters of a gateway.
type GatewayOptions struct {
	Name      string
	Namespace string
	// Hostname of the default listener, usually a wildcard. Empty accepts any hostname.
	Hostname string
	Labels   map[string]string
	// TLS terminates TLS on port 443 with the certificate in CertSecretName
	TLS bool
	// GatewayClassName defaults to DefaultGatewayClass
	GatewayClassName string
}

// GatewaySnapshot is the typed status of a gateway.
type GatewaySnapshot struct {
	Conditions []metav1.Condition
	Addresses  []gatewayapiv1.GatewayStatusAddress
	Listeners  []gatewayapiv1.ListenerStatus
}

func (s GatewaySnapshot) GetConditions() []metav1.Condition {
	return s.Conditions
}

// DecodeGateway is the Decoder of GatewaySnapshot.
func DecodeGateway(obj *unstructured.Unstructured) (GatewaySnapshot, error) {
	gw, err := resource.FromUnstructured[gatewayapiv1.Gateway](obj)
	if err != nil {
		return GatewaySnapshot{}, err
	}
	return GatewaySnapshot{
		Conditions: gw.Status.Conditions,
		Addresses:  gw.Status.Addresses,
		Listeners:  gw.Status.Listeners,
	}, nil
}

// Gateway is a Gateway API gateway reconciled by the gateway provider.
type Gateway struct {
	*resource.Resource[GatewaySnapshot]
	class string
	tls   bool
}

// NewGateway builds a gateway with a single listener for opts.Hostname.
func NewGateway(cl cluster.Client, opts GatewayOptions) (*Gateway, error) {
	if opts.Name == "" || opts.Namespace == "" {
		return nil, errors.New("gateway needs a name and a namespace")
	}
	class := opts.GatewayClassName
	if class == "" {
		class = DefaultGatewayClass
	}

	listener := gatewayapiv1.Listener{
		Name:     HTTPListenerName,
		Port:     gatewayapiv1.PortNumber(80),
		Protocol: gatewayapiv1.HTTPProtocolType,
		AllowedRoutes: &gatewayapiv1.AllowedRoutes{
			Namespaces: &gatewayapiv1.RouteNamespaces{From: ptr.To(gatewayapiv1.NamespacesFromAll)},
		},
	}
	if opts.Hostname != "" {
		listener.Hostname = ptr.To(gatewayapiv1.Hostname(opts.Hostname))
	}
	if opts.TLS {
		listener.Port = gatewayapiv1.PortNumber(443)
		listener.Protocol = gatewayapiv1.HTTPSProtocolType
		listener.TLS = &gatewayapiv1.GatewayTLSConfig{
			Mode: ptr.To(gatewayapiv1.TLSModeTerminate),
			CertificateRefs: []gatewayapiv1.SecretObjectReference{{
				Name: gatewayapiv1.ObjectName(certSecretName(opts.Name)),
				Kind: ptr.To(gatewayapiv1.Kind("Secret")),
			}},
		}
	}

	gw := &gatewayapiv1.Gateway{
		TypeMeta: metav1.TypeMeta{APIVersion: GatewayGVK.GroupVersion().String(), Kind: GatewayGVK.Kind},
		ObjectMeta: metav1.ObjectMeta{
			Name:      opts.Name,
			Namespace: opts.Namespace,
			Labels:    opts.Labels,
		},
		Spec: gatewayapiv1.GatewaySpec{
			GatewayClassName: gatewayapiv1.ObjectName(class),
			Listeners:        []gatewayapiv1.Listener{listener},
		},
	}
	obj, err := resource.ToUnstructured(gw)
	if err != nil {
		return nil, err
	}
	unstructured.RemoveNestedField(obj.Object, "status")

	companions := []resource.Companion{
		{GVK: serviceAccountGVK, Namespace: opts.Namespace, Name: serviceName(opts.Name, class)},
	}
	if opts.TLS {
		companions = append(companions, resource.Companion{GVK: secretGVK, Namespace: opts.Namespace, Name: certSecretName(opts.Name)})
	}

	return &Gateway{
		Resource: resource.New(cl, obj, DecodeGateway,
			resource.WithReadyCondition(conditions.ProgrammedConditionType),
			resource.WithCompanions(companions...)),
		class: class,
		tls:   opts.TLS,
	}, nil
}

// Spec decodes the desired spec from the cached document.
func (g *Gateway) Spec() (gatewayapiv1.GatewaySpec, error) {
	gw, err := resource.FromUnstructured[gatewayapiv1.Gateway](g.Object())
	if err != nil {
		return gatewayapiv1.GatewaySpec{}, err
	}
	return gw.Spec, nil
}

// AddListener appends a listener to the gateway.
func (g *Gateway) AddListener(ctx context.Context, listener gatewayapiv1.Listener) error {
	raw, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&listener)
	if err != nil {
		return err
	}
	return g.Modify(ctx, func(obj *unstructured.Unstructured) error {
		listeners, _, err := unstructured.NestedSlice(obj.Object, "spec", "listeners")
		if err != nil {
			return err
		}
		return unstructured.SetNestedSlice(obj.Object, append(listeners, raw), "spec", "listeners")
	})
}

// ServiceName is the name of the service the gateway provider creates for the gateway.
func (g *Gateway) ServiceName() string {
	return serviceName(g.Name(), g.class)
}

// ExternalIP refreshes the gateway and returns its first address with the HTTP port.
func (g *Gateway) ExternalIP(ctx context.Context) (string, error) {
	snapshot, err := g.Refresh(ctx)
	if err != nil {
		return "", err
	}
	addresses := snapshot.Addresses
	if len(addresses) == 0 {
		return "", fmt.Errorf("%s has no address yet", g)
	}
	return fmt.Sprintf("%s:80", addresses[0].Value), nil
}

// WaitForReady waits until the gateway is programmed.
func (g *Gateway) WaitForReady(ctx context.Context, timeout time.Duration, opts ...poll.Option) error {
	outcome, err := poll.ForReady(ctx, g.Resource, timeout, opts...)
	if err != nil {
		return err
	}
	return outcome.Expect("programmed")
}

// IsAffectedBy checks the cached status for the affectation condition of p.
func (g *Gateway) IsAffectedBy(r affectation.Resolver, p policy.Identity) bool {
	return r.IsAffectedBy(g, p)
}

// CertSecretName is the secret holding the certificate of the TLS listener.
func (g *Gateway) CertSecretName() string {
	return certSecretName(g.Name())
}

// Certificate is the content of a TLS secret.
type Certificate struct {
	Key         []byte
	Certificate []byte
	Chain       []byte
}

// TLSCert reads the certificate issued for the gateway.
func (g *Gateway) TLSCert(ctx context.Context) (*Certificate, error) {
	if !g.tls {
		return nil, fmt.Errorf("%s does not terminate TLS", g)
	}
	obj, err := g.Client().Get(ctx, secretGVK, client.ObjectKey{Namespace: g.Namespace(), Name: g.CertSecretName()})
	if err != nil {
		if cluster.IsNotFound(err) {
			return nil, fmt.Errorf("TLS secret was not created: %w", err)
		}
		return nil, err
	}
	secret, err := resource.FromUnstructured[corev1.Secret](obj)
	if err != nil {
		return nil, err
	}
	return &Certificate{
		Key:         secret.Data[corev1.TLSPrivateKeyKey],
		Certificate: secret.Data[corev1.TLSCertKey],
		Chain:       secret.Data[caCertKey],
	}, nil
}

// Reference returns the policy target reference of the gateway.
func (g *Gateway) Reference() gatewayapiv1alpha2.LocalPolicyTargetReference {
	return gatewayapiv1alpha2.LocalPolicyTargetReference{
		Group: gatewayapiv1.GroupName,
		Kind:  gatewayapiv1.Kind(GatewayGVK.Kind),
		Name:  gatewayapiv1.ObjectName(g.Name()),
	}
}

func serviceName(gateway, class string) string {
	return fmt.Sprintf("%s-%s", gateway, class)
}

func certSecretName(gateway string) string {
	return fmt.Sprintf("%s-tls", gateway)
}
