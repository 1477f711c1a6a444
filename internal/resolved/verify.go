package resolved

import (
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

const (
	verifyTimeout = 2 * time.Second
	verifyName    = "kubernetes.default.svc.cluster.local."
)

// VerifyClusterDNS sends one A query for the in-cluster kubernetes service
// directly to the DNS IP. A failure only means the cluster DNS could not be
// confirmed, not that the drop-in is wrong.
func VerifyClusterDNS(dnsIP string) error {
	client := &dns.Client{Timeout: verifyTimeout}

	msg := new(dns.Msg)
	msg.SetQuestion(verifyName, dns.TypeA)

	reply, _, err := client.Exchange(msg, net.JoinHostPort(dnsIP, "53"))
	if err != nil {
		return fmt.Errorf("query %s: %w", verifyName, err)
	}
	if reply.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("query %s: rcode %s", verifyName, dns.RcodeToString[reply.Rcode])
	}
	return nil
}
