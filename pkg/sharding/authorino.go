package sharding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kuadrant/testsuite/internal/utils"
	"github.com/kuadrant/testsuite/pkg/authorino"
	"github.com/kuadrant/testsuite/pkg/cluster"
	"github.com/kuadrant/testsuite/pkg/gatewayapi"
	"github.com/kuadrant/testsuite/pkg/poll"
	"github.com/kuadrant/testsuite/pkg/policy"
	"github.com/kuadrant/testsuite/pkg/resource"
)

// AuthorinoFixtures shard Authorino by AuthConfig label selector. Every instance is an
// Authorino serving sharding=<shard> with its own gateway; a target is the AuthConfig
// protecting a route of that gateway. A target is claimed by the instance whose shard
// label it carries once the hostname of that instance is in its hostsReady summary.
//
// The AuthConfig status does not tell which Authorino linked a host, so the second target
// is never reported as claimed by the first instance. A stale first shard shows up instead
// as a host lock it keeps: the host of the second target is never linked and the wait for
// the second shard fails with a *poll.TimeoutError.
type AuthorinoFixtures struct {
	Client    cluster.Client
	Namespace string
	// Wildcard hostname of the gateways, targets must be covered by it
	Wildcard     string
	GatewayClass string
	// Prefix of every object name, random by default
	Prefix       string
	ReadyTimeout time.Duration
	PollOptions  []poll.Option

	gateways map[Label]*gatewayapi.Gateway
	// hostname of the target of each shard
	hosts map[Label]string
}

func NewAuthorinoFixtures(cl cluster.Client, namespace, wildcard string) *AuthorinoFixtures {
	return &AuthorinoFixtures{
		Client:       cl,
		Namespace:    namespace,
		Wildcard:     wildcard,
		Prefix:       utils.UniqueName("sharding"),
		ReadyTimeout: authorino.DefaultReadyTimeout,
		gateways:     map[Label]*gatewayapi.Gateway{},
		hosts:        map[Label]string{},
	}
}

func (f *AuthorinoFixtures) name(shard Label, kind string) string {
	return fmt.Sprintf("%s-%s-%s", f.Prefix, strings.ToLower(string(shard)), kind)
}

func (f *AuthorinoFixtures) SetupInstance(ctx context.Context, shard Label) (*Instance, error) {
	a, err := authorino.NewAuthorino(f.Client, authorino.AuthorinoOptions{
		Name:      f.name(shard, "authorino"),
		Namespace: f.Namespace,
		Shard:     string(shard),
	})
	if err != nil {
		return nil, err
	}
	instance := NewInstance(shard, policy.Identity{Kind: authorino.AuthorinoGVK.Kind, Namespace: a.Namespace(), Name: a.Name()})
	if err := a.Commit(ctx); err != nil {
		return nil, err
	}
	instance.Own(a)
	if err := a.WaitForReady(ctx, f.ReadyTimeout, f.PollOptions...); err != nil {
		return instance, err
	}

	gw, err := gatewayapi.NewGateway(f.Client, gatewayapi.GatewayOptions{
		Name:             f.name(shard, "gw"),
		Namespace:        f.Namespace,
		Hostname:         f.Wildcard,
		GatewayClassName: f.GatewayClass,
	})
	if err != nil {
		return instance, err
	}
	if err := gw.Commit(ctx); err != nil {
		return instance, err
	}
	instance.Own(gw)
	if err := gw.WaitForReady(ctx, f.ReadyTimeout, f.PollOptions...); err != nil {
		return instance, err
	}

	if f.gateways == nil {
		f.gateways = map[Label]*gatewayapi.Gateway{}
	}
	f.gateways[shard] = gw
	return instance, nil
}

func (f *AuthorinoFixtures) SetupTarget(ctx context.Context, instance *Instance, hostname string) (Target, error) {
	gw, ok := f.gateways[instance.Shard]
	if !ok {
		return nil, fmt.Errorf("%s has no gateway", instance)
	}
	if f.Wildcard != "" && !utils.Name(hostname).SubsetOf(utils.Name(f.Wildcard)) {
		return nil, fmt.Errorf("%s is not covered by the gateway hostname %s", hostname, f.Wildcard)
	}
	labels := map[string]string{authorino.ShardingLabel: string(instance.Shard)}

	route, err := gatewayapi.NewHTTPRoute(f.Client, gatewayapi.HTTPRouteOptions{
		Name:      f.name(instance.Shard, "route"),
		Namespace: f.Namespace,
		Labels:    labels,
		Parent:    gw,
		Hostnames: []string{hostname},
	})
	if err != nil {
		return nil, err
	}
	if err := route.Commit(ctx); err != nil {
		return nil, err
	}
	instance.Own(route)
	outcome, err := poll.ForReady(ctx, route.Resource, f.ReadyTimeout, f.PollOptions...)
	if err != nil {
		return nil, err
	}
	if err := outcome.Expect("accepted"); err != nil {
		return nil, err
	}

	authConfig, err := authorino.NewAuthConfig(f.Client, authorino.AuthConfigOptions{
		Name:      f.name(instance.Shard, "auth"),
		Namespace: f.Namespace,
		Labels:    labels,
		Hosts:     []string{hostname},
	})
	if err != nil {
		return nil, err
	}
	if err := authConfig.Commit(ctx); err != nil {
		return nil, err
	}
	instance.Own(authConfig)

	if f.hosts == nil {
		f.hosts = map[Label]string{}
	}
	f.hosts[instance.Shard] = hostname
	return Observe(authConfig.Resource), nil
}

// ClaimedBy holds for a ready AuthConfig labelled with the shard of instance whose
// hostsReady summary lists the hostname of the target of instance.
func (f *AuthorinoFixtures) ClaimedBy(snapshot resource.Snapshot, instance *Instance) bool {
	s, ok := snapshot.(authorino.AuthConfigSnapshot)
	if !ok {
		return false
	}
	host, ok := f.hosts[instance.Shard]
	if !ok {
		return false
	}
	return s.Ready && s.HostReady(host) && s.Labels[authorino.ShardingLabel] == string(instance.Shard)
}
