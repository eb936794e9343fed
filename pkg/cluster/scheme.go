package cluster

import (
	certmanv1 "github.com/cert-manager/cert-manager/pkg/apis/certmanager/v1"
	authorinooperatorv1beta1 "github.com/kuadrant/authorino-operator/api/v1beta1"
	authorinov1beta2 "github.com/kuadrant/authorino/api/v1beta2"
	kuadrantdnsv1alpha1 "github.com/kuadrant/dns-operator/api/v1alpha1"
	limitadorv1alpha1 "github.com/kuadrant/limitador-operator/api/v1alpha1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	gatewayapiv1 "sigs.k8s.io/gateway-api/apis/v1"
)

// NewScheme returns a scheme that knows every typed API the testsuite decodes
func NewScheme() *runtime.Scheme {
	s := runtime.NewScheme()

	sb := runtime.NewSchemeBuilder(
		clientgoscheme.AddToScheme,
		gatewayapiv1.Install,
		authorinooperatorv1beta1.AddToScheme,
		authorinov1beta2.AddToScheme,
		limitadorv1alpha1.AddToScheme,
		kuadrantdnsv1alpha1.AddToScheme,
		certmanv1.AddToScheme,
	)
	utilruntime.Must(sb.AddToScheme(s))

	return s
}
