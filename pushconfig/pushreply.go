// Package pushconfig implements the PUSH_REPLY directive grammar
// (§6.2) and a builder that assembles one from an address pool
// allocation and server policy.
package pushconfig

import (
	"fmt"
	"strconv"
	"strings"
)

// Topology is the VPN topology mode pushed to the client.
type Topology int

const (
	TopologyUnset Topology = iota
	TopologyNet30
	TopologySubnet
	TopologyP2P
)

func (t Topology) String() string {
	switch t {
	case TopologyNet30:
		return "net30"
	case TopologySubnet:
		return "subnet"
	case TopologyP2P:
		return "p2p"
	default:
		return ""
	}
}

func parseTopology(s string) (Topology, error) {
	switch s {
	case "net30":
		return TopologyNet30, nil
	case "subnet":
		return TopologySubnet, nil
	case "p2p":
		return TopologyP2P, nil
	default:
		return TopologyUnset, fmt.Errorf("pushconfig: unknown topology %q", s)
	}
}

// Route is a single `route NET MASK [GW|vpn_gateway] [metric]` entry.
type Route struct {
	Net        string
	Mask       string
	Gateway    string // "vpn_gateway" or a literal address; empty if absent
	HasGateway bool
	Metric     int
	HasMetric  bool
}

func (r Route) encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "route %s %s", r.Net, r.Mask)
	if r.HasGateway {
		fmt.Fprintf(&b, " %s", r.Gateway)
	}
	if r.HasMetric {
		fmt.Fprintf(&b, " %d", r.Metric)
	}
	return b.String()
}

// DHCPOption is a `dhcp-option DNS IP` or `dhcp-option DOMAIN NAME`
// entry.
type DHCPOption struct {
	Kind  string // "DNS" or "DOMAIN"
	Value string
}

func (d DHCPOption) encode() string {
	return fmt.Sprintf("dhcp-option %s %s", d.Kind, d.Value)
}

// PushReply is the parsed/buildable form of a PUSH_REPLY string.
type PushReply struct {
	Topology    Topology
	HasTopology bool

	IfconfigV4   string
	IfconfigMask string
	HasIfconfig  bool

	IfconfigV6    string
	HasIfconfigV6 bool

	Routes []Route

	RedirectGateway bool

	DHCPOptions []DHCPOption

	Ping        int
	HasPing     bool
	PingRestart int
	HasPingRestart bool

	// UnknownOptions preserves any directive not in the recognized
	// grammar verbatim, in the order encountered.
	UnknownOptions []string
}

// Encode renders r as a comma-separated PUSH_REPLY string, per
// spec.md §6.2's directive order.
func (r *PushReply) Encode() string {
	directives := []string{"PUSH_REPLY"}

	if r.HasTopology {
		directives = append(directives, "topology "+r.Topology.String())
	}
	if r.HasIfconfig {
		directives = append(directives, fmt.Sprintf("ifconfig %s %s", r.IfconfigV4, r.IfconfigMask))
	}
	if r.HasIfconfigV6 {
		directives = append(directives, "ifconfig-ipv6 "+r.IfconfigV6)
	}
	for _, route := range r.Routes {
		directives = append(directives, route.encode())
	}
	if r.RedirectGateway {
		directives = append(directives, "redirect-gateway def1")
	}
	for _, opt := range r.DHCPOptions {
		directives = append(directives, opt.encode())
	}
	if r.HasPing {
		directives = append(directives, fmt.Sprintf("ping %d", r.Ping))
	}
	if r.HasPingRestart {
		directives = append(directives, fmt.Sprintf("ping-restart %d", r.PingRestart))
	}
	directives = append(directives, r.UnknownOptions...)

	return strings.Join(directives, ",")
}

// Parse decodes a PUSH_REPLY string per spec.md §6.2. Unknown
// directives are preserved verbatim rather than rejected.
func Parse(s string) (*PushReply, error) {
	parts := strings.Split(s, ",")
	if len(parts) == 0 || parts[0] != "PUSH_REPLY" {
		return nil, fmt.Errorf("pushconfig: missing leading PUSH_REPLY token")
	}

	r := &PushReply{}
	for _, directive := range parts[1:] {
		fields := strings.Fields(directive)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "topology":
			if len(fields) != 2 {
				return nil, fmt.Errorf("pushconfig: malformed topology directive %q", directive)
			}
			topo, err := parseTopology(fields[1])
			if err != nil {
				return nil, err
			}
			r.Topology, r.HasTopology = topo, true

		case "ifconfig":
			if len(fields) != 3 {
				return nil, fmt.Errorf("pushconfig: malformed ifconfig directive %q", directive)
			}
			r.IfconfigV4, r.IfconfigMask, r.HasIfconfig = fields[1], fields[2], true

		case "ifconfig-ipv6":
			if len(fields) != 2 {
				return nil, fmt.Errorf("pushconfig: malformed ifconfig-ipv6 directive %q", directive)
			}
			r.IfconfigV6, r.HasIfconfigV6 = fields[1], true

		case "route":
			route, err := parseRoute(fields)
			if err != nil {
				return nil, err
			}
			r.Routes = append(r.Routes, route)

		case "redirect-gateway":
			if len(fields) != 2 || fields[1] != "def1" {
				return nil, fmt.Errorf("pushconfig: malformed redirect-gateway directive %q", directive)
			}
			r.RedirectGateway = true

		case "dhcp-option":
			if len(fields) != 3 {
				return nil, fmt.Errorf("pushconfig: malformed dhcp-option directive %q", directive)
			}
			r.DHCPOptions = append(r.DHCPOptions, DHCPOption{Kind: fields[1], Value: fields[2]})

		case "ping":
			v, err := strconv.Atoi(fields[len(fields)-1])
			if err != nil || len(fields) != 2 {
				return nil, fmt.Errorf("pushconfig: malformed ping directive %q", directive)
			}
			r.Ping, r.HasPing = v, true

		case "ping-restart":
			v, err := strconv.Atoi(fields[len(fields)-1])
			if err != nil || len(fields) != 2 {
				return nil, fmt.Errorf("pushconfig: malformed ping-restart directive %q", directive)
			}
			r.PingRestart, r.HasPingRestart = v, true

		default:
			r.UnknownOptions = append(r.UnknownOptions, directive)
		}
	}

	return r, nil
}

func parseRoute(fields []string) (Route, error) {
	if len(fields) < 3 || len(fields) > 5 {
		return Route{}, fmt.Errorf("pushconfig: malformed route directive %q", strings.Join(fields, " "))
	}
	route := Route{Net: fields[1], Mask: fields[2]}
	rest := fields[3:]
	if len(rest) > 0 {
		route.Gateway, route.HasGateway = rest[0], true
		rest = rest[1:]
	}
	if len(rest) > 0 {
		metric, err := strconv.Atoi(rest[0])
		if err != nil {
			return Route{}, fmt.Errorf("pushconfig: malformed route metric %q", rest[0])
		}
		route.Metric, route.HasMetric = metric, true
	}
	return route, nil
}
