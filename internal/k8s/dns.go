package k8s

import (
	"context"
	"log/slog"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// dnsServiceNames are tried in order; minikube installs kube-dns but some
// cluster flavors only expose coredns.
var dnsServiceNames = []string{"kube-dns", "coredns"}

// DNSServiceIP resolves the cluster DNS service's ClusterIP. Returns an empty
// string when no DNS service can be found; lookups fail soft.
func DNSServiceIP(ctx context.Context, client kubernetes.Interface, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	for _, name := range dnsServiceNames {
		svc, err := client.CoreV1().Services(systemNamespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			logger.Debug("dns service lookup failed", slog.String("service", name), slog.Any("error", err))
			continue
		}
		ip := svc.Spec.ClusterIP
		if ip != "" && ip != "None" {
			logger.Debug("resolved cluster dns service", slog.String("service", name), slog.String("cluster_ip", ip))
			return ip
		}
	}

	return ""
}
