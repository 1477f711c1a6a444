package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"

	yaml "gopkg.in/yaml.v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	systemNamespace = "kube-system"

	apiServerLabelSelector = "component=kube-apiserver"
	serviceRangeFlag       = "--service-cluster-ip-range="
)

// clusterConfiguration models the subset of kubeadm's ClusterConfiguration
// document this tool cares about.
type clusterConfiguration struct {
	Networking struct {
		ServiceSubnet string `yaml:"serviceSubnet"`
	} `yaml:"networking"`
}

// kubeProxyConfiguration models the subset of the kube-proxy config document
// this tool cares about.
type kubeProxyConfiguration struct {
	ClusterCIDR string `yaml:"clusterCIDR"`
}

// ServiceCIDR determines the cluster's service network using three lookup
// strategies in priority order, falling back to inferring a /16 from the
// default kubernetes Service's ClusterIP. Every strategy fails soft; an empty
// string means the CIDR could not be determined.
func ServiceCIDR(ctx context.Context, client kubernetes.Interface, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	strategies := []struct {
		name   string
		lookup func(context.Context, kubernetes.Interface) (string, error)
	}{
		{name: "apiserver flags", lookup: cidrFromAPIServerFlags},
		{name: "kubeadm-config", lookup: cidrFromKubeadmConfig},
		{name: "kube-proxy config", lookup: cidrFromKubeProxyConfig},
	}

	for _, strategy := range strategies {
		cidr, err := strategy.lookup(ctx, client)
		if err != nil {
			logger.Debug("service cidr strategy failed", slog.String("strategy", strategy.name), slog.Any("error", err))
			continue
		}
		if cidr != "" {
			logger.Debug("resolved service cidr", slog.String("strategy", strategy.name), slog.String("cidr", cidr))
			return cidr
		}
	}

	cidr := cidrFromDefaultService(ctx, client)
	if cidr != "" {
		logger.Debug("inferred service cidr from kubernetes service", slog.String("cidr", cidr))
	}
	return cidr
}

// cidrFromAPIServerFlags reads the service range from the kube-apiserver
// pod's command line.
func cidrFromAPIServerFlags(ctx context.Context, client kubernetes.Interface) (string, error) {
	pods, err := client.CoreV1().Pods(systemNamespace).List(ctx, metav1.ListOptions{
		LabelSelector: apiServerLabelSelector,
	})
	if err != nil {
		return "", fmt.Errorf("list apiserver pods: %w", err)
	}
	if len(pods.Items) == 0 || len(pods.Items[0].Spec.Containers) == 0 {
		return "", nil
	}

	container := pods.Items[0].Spec.Containers[0]
	for _, arg := range append(container.Command, container.Args...) {
		if value, ok := strings.CutPrefix(arg, serviceRangeFlag); ok {
			return strings.TrimSpace(value), nil
		}
	}
	return "", nil
}

// cidrFromKubeadmConfig reads serviceSubnet out of the kubeadm-config
// ConfigMap's ClusterConfiguration document.
func cidrFromKubeadmConfig(ctx context.Context, client kubernetes.Interface) (string, error) {
	cm, err := client.CoreV1().ConfigMaps(systemNamespace).Get(ctx, "kubeadm-config", metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("get kubeadm-config: %w", err)
	}

	doc, ok := cm.Data["ClusterConfiguration"]
	if !ok {
		return "", nil
	}

	var cfg clusterConfiguration
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		return "", fmt.Errorf("decode ClusterConfiguration: %w", err)
	}
	return cfg.Networking.ServiceSubnet, nil
}

// cidrFromKubeProxyConfig reads clusterCIDR out of the kube-proxy ConfigMap.
func cidrFromKubeProxyConfig(ctx context.Context, client kubernetes.Interface) (string, error) {
	cm, err := client.CoreV1().ConfigMaps(systemNamespace).Get(ctx, "kube-proxy", metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("get kube-proxy config: %w", err)
	}

	doc, ok := cm.Data["config.conf"]
	if !ok {
		return "", nil
	}

	var cfg kubeProxyConfiguration
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		return "", fmt.Errorf("decode kube-proxy config: %w", err)
	}
	return cfg.ClusterCIDR, nil
}

func cidrFromDefaultService(ctx context.Context, client kubernetes.Interface) string {
	svc, err := client.CoreV1().Services("default").Get(ctx, "kubernetes", metav1.GetOptions{})
	if err != nil {
		return ""
	}
	return InferServiceCIDR(svc.Spec.ClusterIP)
}

// InferServiceCIDR derives a /16 from a service ClusterIP: a.b.c.d becomes
// a.b.0.0/16. Returns an empty string for anything that is not an IPv4
// address.
func InferServiceCIDR(clusterIP string) string {
	ip := net.ParseIP(strings.TrimSpace(clusterIP))
	if ip == nil {
		return ""
	}
	v4 := ip.To4()
	if v4 == nil {
		return ""
	}
	return fmt.Sprintf("%d.%d.0.0/16", v4[0], v4[1])
}
