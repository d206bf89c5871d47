// Package dnsverify checks that custom shop domains point at the servers.
package dnsverify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"github.com/storekit/shopqueue/store"
)

// ownerLabel prefixes the TXT record that ties an apex domain to its shop.
const ownerLabel = "_storekit"

// Result is the outcome of a verification.
type Result struct {
	Valid bool
	// Reason explains an invalid result.
	Reason string
}

// Verifier resolves domains against a single resolver.
type Verifier struct {
	client      *dns.Client
	resolver    string
	cnameTarget string
	addrs       map[string]bool
}

// New creates a Verifier. A domain is valid for a shop when it has a CNAME to
// the shop's own host under cnameTarget (see Target), or when it has an A
// record in addrs and a "_storekit" TXT record naming the shop.
func New(resolver, cnameTarget string, addrs []string) *Verifier {
	v := &Verifier{
		client:      &dns.Client{Timeout: 5 * time.Second},
		resolver:    resolver,
		cnameTarget: dns.Fqdn(strings.ToLower(cnameTarget)),
		addrs:       make(map[string]bool, len(addrs)),
	}
	for _, a := range addrs {
		v.addrs[a] = true
	}
	return v
}

// Target is the host a custom domain of shop on networkID must CNAME to.
func Target(base string, networkID, shopID int64) string {
	return dns.Fqdn(fmt.Sprintf("%d.%d.%s", shopID, networkID, strings.TrimSuffix(strings.ToLower(base), ".")))
}

// OwnerRecord is the TXT value that proves an apex domain belongs to the shop.
func OwnerRecord(networkID, shopID int64) string {
	return fmt.Sprintf("shop=%d-%d", networkID, shopID)
}

// Verify reports whether domain is served by the storefront for shop on the
// given network.
func (v *Verifier) Verify(ctx context.Context, domain string, networkID int64, shop *store.Shop) (Result, error) {
	name := dns.Fqdn(strings.ToLower(strings.TrimSpace(domain)))
	if _, ok := dns.IsDomainName(name); !ok {
		return Result{Reason: "invalid domain name"}, nil
	}
	if shop == nil {
		return Result{Reason: "domain has no shop"}, nil
	}
	if shop.NetworkID != networkID {
		return Result{Reason: fmt.Sprintf("shop %d is not on network %d", shop.ID, networkID)}, nil
	}

	if v.cnameTarget != "." {
		target := Target(v.cnameTarget, networkID, shop.ID)
		records, err := v.lookup(ctx, name, dns.TypeCNAME)
		if err != nil {
			return Result{}, err
		}
		for _, rr := range records {
			if c, ok := rr.(*dns.CNAME); ok && strings.EqualFold(c.Target, target) {
				return Result{Valid: true}, nil
			}
		}
	}

	records, err := v.lookup(ctx, name, dns.TypeA)
	if err != nil {
		return Result{}, err
	}
	served := false
	for _, rr := range records {
		if a, ok := rr.(*dns.A); ok && v.addrs[a.A.String()] {
			served = true
			break
		}
	}
	if !served {
		return Result{Reason: "no record points at the storefront"}, nil
	}

	records, err = v.lookup(ctx, ownerLabel+"."+name, dns.TypeTXT)
	if err != nil {
		return Result{}, err
	}
	want := OwnerRecord(networkID, shop.ID)
	for _, rr := range records {
		if txt, ok := rr.(*dns.TXT); ok && strings.Join(txt.Txt, "") == want {
			return Result{Valid: true}, nil
		}
	}
	return Result{Reason: "owner record does not name the shop"}, nil
}

func (v *Verifier) lookup(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(name, qtype)
	msg.RecursionDesired = true
	resp, _, err := v.client.ExchangeContext(ctx, msg, v.resolver)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s %s", dns.TypeToString[qtype], name)
	}
	if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
		return nil, errors.Errorf("resolve %s %s: %s", dns.TypeToString[qtype], name, dns.RcodeToString[resp.Rcode])
	}
	return resp.Answer, nil
}
