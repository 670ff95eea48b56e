package guard

import (
	"fmt"
	"net"
	"time"
)

// EnvironmentConfig configures the request-environment checks. Hours are in
// 24h clock; the window is [StartHour, EndHour) in Timezone and may wrap over
// midnight (StartHour > EndHour).
type EnvironmentConfig struct {
	BusinessHoursStart int      `json:"business_hours_start" yaml:"business_hours_start"`
	BusinessHoursEnd   int      `json:"business_hours_end" yaml:"business_hours_end"`
	Timezone           string   `json:"timezone" yaml:"timezone"`
	InternalCIDRs      []string `json:"internal_cidrs" yaml:"internal_cidrs"`
}

// EnvironmentProvider computes the environment-derived flags of an evaluation
// context. Pure functions of configuration and input; no I/O.
type EnvironmentProvider struct {
	start    int
	end      int
	location *time.Location
	networks []*net.IPNet
}

func NewEnvironmentProvider(cfg EnvironmentConfig) (*EnvironmentProvider, error) {
	if cfg.BusinessHoursStart < 0 || cfg.BusinessHoursStart > 23 || cfg.BusinessHoursEnd < 0 || cfg.BusinessHoursEnd > 24 {
		return nil, fmt.Errorf("business hours window %d-%d out of range", cfg.BusinessHoursStart, cfg.BusinessHoursEnd)
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}
	}
	networks := make([]*net.IPNet, 0, len(cfg.InternalCIDRs))
	for _, c := range cfg.InternalCIDRs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("parse internal cidr %q: %w", c, err)
		}
		networks = append(networks, ipnet)
	}
	return &EnvironmentProvider{
		start:    cfg.BusinessHoursStart,
		end:      cfg.BusinessHoursEnd,
		location: loc,
		networks: networks,
	}, nil
}

// IsWithinBusinessHours reports whether ts, interpreted in the configured
// timezone, falls inside the [start, end) hour window.
func (p *EnvironmentProvider) IsWithinBusinessHours(ts time.Time) bool {
	h := ts.In(p.location).Hour()
	if p.start <= p.end {
		return h >= p.start && h < p.end
	}
	// window wraps over midnight
	return h >= p.start || h < p.end
}

// IsInternalNetwork reports whether ip falls inside any configured CIDR.
// A nil ip is never internal.
func (p *EnvironmentProvider) IsInternalNetwork(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range p.networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// IsInternalAddr is IsInternalNetwork over a textual address; unparseable
// addresses are never internal.
func (p *EnvironmentProvider) IsInternalAddr(addr string) bool {
	return p.IsInternalNetwork(parseClientIP(addr))
}

// parseClientIP accepts a bare IP or a host:port pair.
func parseClientIP(addr string) net.IP {
	if addr == "" {
		return nil
	}
	if ip := net.ParseIP(addr); ip != nil {
		return ip
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.ParseIP(host)
	}
	return nil
}
