// Package segments validates and creates network segments for network
// allocation orders.
package segments

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"unicode"

	"github.com/openfroyo/workorders/pkg/stores"
)

// MaxNameLength is the longest accepted VNI name.
const MaxNameLength = 255

// Config is the segment definition handed to the network controller.
type Config struct {
	VNIName     string `json:"vni_name"`
	CIDR        string `json:"cidr"`
	Gateway     string `json:"gateway"`
	T0Gateway   string `json:"t0_gw"`
	T1Gateway   string `json:"t1_gw"`
	Description string `json:"description"`
	Project     string `json:"project,omitempty"`
	SubnetMask  string `json:"subnet_mask,omitempty"`
	FirstIP     string `json:"first_ip,omitempty"`
	LastIP      string `json:"last_ip,omitempty"`
}

// ConfigFromOrder extracts the segment definition from a network order.
func ConfigFromOrder(no *stores.NetworkOrder) Config {
	return Config{
		VNIName:     no.VNIName,
		CIDR:        no.CIDR,
		Gateway:     no.Gateway,
		T0Gateway:   no.T0Gateway,
		T1Gateway:   no.T1Gateway,
		Description: no.Description,
		Project:     no.Project,
		SubnetMask:  deref(no.SubnetMask),
		FirstIP:     deref(no.FirstIP),
		LastIP:      deref(no.LastIP),
	}
}

// ValidationResult is the outcome of ValidateConfig. Errors make the
// configuration unusable; warnings are informational.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidateConfig checks a segment definition before creation.
func ValidateConfig(cfg Config) ValidationResult {
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}

	required := []struct {
		name  string
		value string
	}{
		{"vni_name", cfg.VNIName},
		{"cidr", cfg.CIDR},
		{"gateway", cfg.Gateway},
		{"t0_gw", cfg.T0Gateway},
		{"t1_gw", cfg.T1Gateway},
		{"description", cfg.Description},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			res.Errors = append(res.Errors, "Missing required field: "+f.name)
		}
	}

	if cfg.CIDR != "" {
		prefix, msg := parseCIDR(cfg.CIDR)
		if msg != "" {
			res.Errors = append(res.Errors, msg)
		} else {
			res.Warnings = append(res.Warnings, containmentWarnings(prefix, cfg)...)
		}
	}

	if cfg.VNIName != "" {
		if len(cfg.VNIName) > MaxNameLength {
			res.Errors = append(res.Errors, fmt.Sprintf("VNI name too long. Maximum %d characters allowed", MaxNameLength))
		}
		if hasSpecialChars(cfg.VNIName) {
			res.Warnings = append(res.Warnings, "VNI name contains special characters")
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// parseCIDR returns the masked prefix or the error message to report.
func parseCIDR(cidr string) (netip.Prefix, string) {
	addr, bits, ok := strings.Cut(cidr, "/")
	if !ok {
		return netip.Prefix{}, "Invalid CIDR format. Expected format: x.x.x.x/y"
	}

	n, err := strconv.Atoi(strings.TrimSpace(bits))
	if err != nil {
		return netip.Prefix{}, "Invalid CIDR format"
	}
	if n < 0 || n > 32 {
		return netip.Prefix{}, "Invalid subnet mask. Must be between 0 and 32"
	}

	ip, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil || !ip.Is4() {
		return netip.Prefix{}, "Invalid CIDR format"
	}

	return netip.PrefixFrom(ip, n).Masked(), ""
}

func containmentWarnings(prefix netip.Prefix, cfg Config) []string {
	var out []string
	check := func(label, value string) {
		if value == "" {
			return
		}
		ip, err := netip.ParseAddr(value)
		if err != nil {
			out = append(out, fmt.Sprintf("%s %s is not a valid IP address", label, value))
			return
		}
		if !prefix.Contains(ip) {
			out = append(out, fmt.Sprintf("%s %s is outside %s", label, value, prefix))
		}
	}
	check("Gateway", cfg.Gateway)
	check("First IP", cfg.FirstIP)
	check("Last IP", cfg.LastIP)
	return out
}

// hasSpecialChars reports whether name contains anything but letters,
// digits, hyphens and underscores.
func hasSpecialChars(name string) bool {
	for _, r := range name {
		if r == '-' || r == '_' {
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
