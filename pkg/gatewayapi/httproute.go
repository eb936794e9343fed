package gatewayapi

import (
	"errors"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/utils/ptr"
	gatewayapiv1 "sigs.k8s.io/gateway-api/apis/v1"
	gatewayapiv1alpha2 "sigs.k8s.io/gateway-api/apis/v1alpha2"

	"github.com/kuadrant/testsuite/pkg/cluster"
	"github.com/kuadrant/testsuite/pkg/conditions"
	"github.com/kuadrant/testsuite/pkg/resource"
)

var HTTPRouteGVK = gatewayapiv1.SchemeGroupVersion.WithKind("HTTPRoute")

// Backend is the service requests are routed to.
type Backend struct {
	Name string
	Port int32
}

type HTTPRouteOptions struct {
	Name      string
	Namespace string
	Labels    map[string]string
	Parent    *Gateway
	Hostnames []string
	Backend   *Backend
}

// HTTPRouteSnapshot is the status the parent gateway reported for the route.
type HTTPRouteSnapshot struct {
	Conditions []metav1.Condition
	Parents    []gatewayapiv1.RouteParentStatus
}

func (s HTTPRouteSnapshot) GetConditions() []metav1.Condition {
	return s.Conditions
}

// DecodeHTTPRoute returns the Decoder picking the conditions reported by the named parent gateway.
func DecodeHTTPRoute(parent string) resource.Decoder[HTTPRouteSnapshot] {
	return func(obj *unstructured.Unstructured) (HTTPRouteSnapshot, error) {
		route, err := resource.FromUnstructured[gatewayapiv1.HTTPRoute](obj)
		if err != nil {
			return HTTPRouteSnapshot{}, err
		}
		snapshot := HTTPRouteSnapshot{Parents: route.Status.Parents}
		for _, p := range route.Status.Parents {
			if string(p.ParentRef.Name) == parent {
				snapshot.Conditions = p.Conditions
				break
			}
		}
		return snapshot, nil
	}
}

// HTTPRoute is a route attached to a single gateway.
type HTTPRoute struct {
	*resource.Resource[HTTPRouteSnapshot]
}

// NewHTTPRoute builds a route attached to opts.Parent. It is ready once the parent accepted it.
func NewHTTPRoute(cl cluster.Client, opts HTTPRouteOptions) (*HTTPRoute, error) {
	if opts.Parent == nil {
		return nil, errors.New("route needs a parent gateway")
	}

	route := &gatewayapiv1.HTTPRoute{
		TypeMeta: metav1.TypeMeta{APIVersion: HTTPRouteGVK.GroupVersion().String(), Kind: HTTPRouteGVK.Kind},
		ObjectMeta: metav1.ObjectMeta{
			Name:      opts.Name,
			Namespace: opts.Namespace,
			Labels:    opts.Labels,
		},
		Spec: gatewayapiv1.HTTPRouteSpec{
			CommonRouteSpec: gatewayapiv1.CommonRouteSpec{
				ParentRefs: []gatewayapiv1.ParentReference{{
					Name:      gatewayapiv1.ObjectName(opts.Parent.Name()),
					Namespace: ptr.To(gatewayapiv1.Namespace(opts.Parent.Namespace())),
				}},
			},
		},
	}
	for _, h := range opts.Hostnames {
		route.Spec.Hostnames = append(route.Spec.Hostnames, gatewayapiv1.Hostname(h))
	}
	if opts.Backend != nil {
		route.Spec.Rules = []gatewayapiv1.HTTPRouteRule{{
			BackendRefs: []gatewayapiv1.HTTPBackendRef{{
				BackendRef: gatewayapiv1.BackendRef{
					BackendObjectReference: gatewayapiv1.BackendObjectReference{
						Name: gatewayapiv1.ObjectName(opts.Backend.Name),
						Port: ptr.To(gatewayapiv1.PortNumber(opts.Backend.Port)),
					},
				},
			}},
		}}
	}

	obj, err := resource.ToUnstructured(route)
	if err != nil {
		return nil, err
	}
	unstructured.RemoveNestedField(obj.Object, "status")

	return &HTTPRoute{
		Resource: resource.New(cl, obj, DecodeHTTPRoute(opts.Parent.Name()),
			resource.WithReadyCondition(conditions.AcceptedConditionType)),
	}, nil
}

// Reference returns the policy target reference of the route.
func (r *HTTPRoute) Reference() gatewayapiv1alpha2.LocalPolicyTargetReference {
	return gatewayapiv1alpha2.LocalPolicyTargetReference{
		Group: gatewayapiv1.GroupName,
		Kind:  gatewayapiv1.Kind(HTTPRouteGVK.Kind),
		Name:  gatewayapiv1.ObjectName(r.Name()),
	}
}
