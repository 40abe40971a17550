// Package dnsquery implements the dns-query operation: resolve a name
// against a specific server and return the answer records.
package dnsquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/operation"
)

// Name is the registry name of the operation.
const Name = "dns-query"

const (
	defaultServer  = "8.8.8.8:53"
	defaultTimeout = 5 * time.Second
)

var recordTypes = map[string]uint16{
	"A":     dns.TypeA,
	"AAAA":  dns.TypeAAAA,
	"CNAME": dns.TypeCNAME,
	"MX":    dns.TypeMX,
	"NS":    dns.TypeNS,
	"PTR":   dns.TypePTR,
	"SOA":   dns.TypeSOA,
	"SRV":   dns.TypeSRV,
	"TXT":   dns.TypeTXT,
}

// Op resolves one name per run.
type Op struct {
	operation.Base

	name    string
	qtype   uint16
	server  string
	timeout time.Duration
}

// Register adds the operation to reg.
func Register(reg *operation.Registry) {
	reg.Register(Name, func() operation.Operation { return &Op{} })
}

// Metadata implements operation.Operation.
func (o *Op) Metadata() operation.Metadata {
	return operation.Metadata{
		Name:        Name,
		Version:     "1.0.0",
		Description: "Resolves a DNS name against a chosen server",
	}
}

// Validate implements operation.Operation.
func (o *Op) Validate(params map[string]any) error {
	name, err := operation.RequiredString(params, "name")
	if err != nil {
		return err
	}
	typeName := strings.ToUpper(operation.StringOr(params, "type", "A"))
	qtype, ok := recordTypes[typeName]
	if !ok {
		return fmt.Errorf("unsupported record type %q", typeName)
	}

	o.Params = params
	o.name = dns.Fqdn(name)
	o.qtype = qtype
	o.server = operation.StringOr(params, "server", defaultServer)
	o.timeout = operation.DurationOr(params, "timeout_seconds", defaultTimeout)
	return nil
}

// Run implements operation.Operation. The output lists every answer as
// its presentation-format value plus the full record text.
func (o *Op) Run(ctx context.Context, sender string, inbound, outbound []*message.Chan) operation.Result {
	msg := new(dns.Msg)
	msg.SetQuestion(o.name, o.qtype)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: o.timeout}
	reply, rtt, err := client.ExchangeContext(ctx, msg, o.server)
	if err != nil {
		return operation.Ko(fmt.Errorf("query %s @%s: %w", o.name, o.server, err))
	}
	if reply.Rcode != dns.RcodeSuccess {
		return operation.Kof(fmt.Sprintf("query %s @%s: %s", o.name, o.server, dns.RcodeToString[reply.Rcode]))
	}

	answers := make([]any, 0, len(reply.Answer))
	for _, rr := range reply.Answer {
		answers = append(answers, map[string]any{
			"name":   rr.Header().Name,
			"type":   dns.TypeToString[rr.Header().Rrtype],
			"ttl":    float64(rr.Header().Ttl),
			"value":  recordValue(rr),
			"record": rr.String(),
		})
	}
	return operation.Ok(map[string]any{
		"answers": answers,
		"rtt_ms":  float64(rtt.Milliseconds()),
	})
}

// recordValue extracts the data portion of common record types.
func recordValue(rr dns.RR) string {
	switch v := rr.(type) {
	case *dns.A:
		return v.A.String()
	case *dns.AAAA:
		return v.AAAA.String()
	case *dns.CNAME:
		return v.Target
	case *dns.MX:
		return v.Mx
	case *dns.NS:
		return v.Ns
	case *dns.PTR:
		return v.Ptr
	case *dns.TXT:
		return strings.Join(v.Txt, "")
	case *dns.SRV:
		return v.Target
	default:
		return strings.TrimSpace(strings.TrimPrefix(rr.String(), rr.Header().String()))
	}
}
