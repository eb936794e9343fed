package kuadrant

import (
	"context"

	limitadorv1alpha1 "github.com/kuadrant/limitador-operator/api/v1alpha1"
	"github.com/samber/lo"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/kuadrant/testsuite/pkg/cluster"
	"github.com/kuadrant/testsuite/pkg/resource"
)

const (
	LimitadorName = "limitador"
	// LimitadorDeploymentName is the deployment the limitador operator creates for LimitadorName
	LimitadorDeploymentName = "limitador-limitador"

	DeploymentAvailableCondition = string(appsv1.DeploymentAvailable)
)

var (
	LimitadorGVK  = limitadorv1alpha1.GroupVersion.WithKind("Limitador")
	DeploymentGVK = appsv1.SchemeGroupVersion.WithKind("Deployment")
)

// LimitadorSnapshot is the status reported by the limitador operator.
type LimitadorSnapshot struct {
	Conditions         []metav1.Condition
	ObservedGeneration int64
}

func (s LimitadorSnapshot) GetConditions() []metav1.Condition {
	return s.Conditions
}

func DecodeLimitador(obj *unstructured.Unstructured) (LimitadorSnapshot, error) {
	limitador, err := resource.FromUnstructured[limitadorv1alpha1.Limitador](obj)
	if err != nil {
		return LimitadorSnapshot{}, err
	}
	return LimitadorSnapshot{
		Conditions:         limitador.Status.Conditions,
		ObservedGeneration: limitador.Status.ObservedGeneration,
	}, nil
}

// LimitadorCR fetches the Limitador CR managed by the Kuadrant CR.
func (k *Kuadrant) LimitadorCR(ctx context.Context) (*resource.Resource[LimitadorSnapshot], error) {
	return resource.Fetch(ctx, k.Client(), LimitadorGVK, client.ObjectKey{Namespace: k.Namespace(), Name: LimitadorName}, DecodeLimitador)
}

// DeploymentSnapshot is the rollout status of a deployment.
type DeploymentSnapshot struct {
	Conditions    []metav1.Condition
	Replicas      int32
	ReadyReplicas int32
}

func (s DeploymentSnapshot) GetConditions() []metav1.Condition {
	return s.Conditions
}

func DecodeDeployment(obj *unstructured.Unstructured) (DeploymentSnapshot, error) {
	deployment, err := resource.FromUnstructured[appsv1.Deployment](obj)
	if err != nil {
		return DeploymentSnapshot{}, err
	}
	return DeploymentSnapshot{
		Conditions: lo.Map(deployment.Status.Conditions, func(c appsv1.DeploymentCondition, _ int) metav1.Condition {
			return metav1.Condition{
				Type:    string(c.Type),
				Status:  metav1.ConditionStatus(c.Status),
				Reason:  c.Reason,
				Message: c.Message,
			}
		}),
		Replicas:      deployment.Status.Replicas,
		ReadyReplicas: deployment.Status.ReadyReplicas,
	}, nil
}

// LimitadorDeployment fetches the limitador deployment. It is ready once Available.
func (k *Kuadrant) LimitadorDeployment(ctx context.Context) (*resource.Resource[DeploymentSnapshot], error) {
	return FetchDeployment(ctx, k.Client(), client.ObjectKey{Namespace: k.Namespace(), Name: LimitadorDeploymentName})
}

func FetchDeployment(ctx context.Context, cl cluster.Client, key client.ObjectKey) (*resource.Resource[DeploymentSnapshot], error) {
	return resource.Fetch(ctx, cl, DeploymentGVK, key, DecodeDeployment,
		resource.WithReadyCondition(DeploymentAvailableCondition))
}
