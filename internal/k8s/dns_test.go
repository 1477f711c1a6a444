package k8s

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
)

func dnsService(name, clusterIP string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "kube-system"},
		Spec:       corev1.ServiceSpec{ClusterIP: clusterIP},
	}
}

func TestDNSServiceIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		objects []*corev1.Service
		want    string
	}{
		{
			name:    "kube-dns preferred",
			objects: []*corev1.Service{dnsService("kube-dns", "10.96.0.10"), dnsService("coredns", "10.96.0.99")},
			want:    "10.96.0.10",
		},
		{
			name:    "coredns fallback",
			objects: []*corev1.Service{dnsService("coredns", "10.96.0.99")},
			want:    "10.96.0.99",
		},
		{
			name:    "headless kube-dns falls through",
			objects: []*corev1.Service{dnsService("kube-dns", "None"), dnsService("coredns", "10.96.0.99")},
			want:    "10.96.0.99",
		},
		{
			name:    "no dns service",
			objects: nil,
			want:    "",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var objects []runtime.Object
			for _, svc := range tc.objects {
				objects = append(objects, svc)
			}
			client := fake.NewSimpleClientset(objects...)

			if got := DNSServiceIP(context.Background(), client, discardLogger()); got != tc.want {
				t.Fatalf("DNSServiceIP = %q, want %q", got, tc.want)
			}
		})
	}
}
