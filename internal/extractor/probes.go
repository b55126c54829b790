package extractor

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
)

// Probe is one named strategy for locating an element.
type Probe struct {
	Name  string
	XPath string
}

// ProbeSet is an ordered, name-addressable list of probes tried until one
// matches.
type ProbeSet struct {
	probes []Probe
}

// NewProbeSet creates a set in the given priority order.
func NewProbeSet(probes ...Probe) *ProbeSet {
	ps := &ProbeSet{}
	for _, p := range probes {
		ps.Add(p)
	}
	return ps
}

// DefaultProfileProbes returns the seller-profile link strategies.
func DefaultProfileProbes() *ProbeSet {
	return NewProbeSet(
		Probe{Name: "marketplace-profile", XPath: "//a[contains(@href, '/marketplace/profile')]"},
		Probe{Name: "profile-php", XPath: "//a[contains(@href, '/profile.php')]"},
		Probe{Name: "user-path", XPath: "//a[contains(@href, '/user/')]"},
		Probe{Name: "aria-profile", XPath: "//a[contains(@aria-label, 'profile')]"},
		Probe{Name: "seller-information", XPath: "//span[contains(text(), 'Seller information')]/following::a[1]"},
	)
}

// Add appends p, or replaces the probe with the same name in place.
func (s *ProbeSet) Add(p Probe) {
	for i := range s.probes {
		if s.probes[i].Name == p.Name {
			s.probes[i] = p
			return
		}
	}
	s.probes = append(s.probes, p)
}

// Remove drops the named probe and reports whether it existed.
func (s *ProbeSet) Remove(name string) bool {
	for i := range s.probes {
		if s.probes[i].Name == name {
			s.probes = append(s.probes[:i], s.probes[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the named probe.
func (s *ProbeSet) Get(name string) (Probe, bool) {
	for _, p := range s.probes {
		if p.Name == name {
			return p, true
		}
	}
	return Probe{}, false
}

// Names lists probe names in priority order.
func (s *ProbeSet) Names() []string {
	out := make([]string, 0, len(s.probes))
	for _, p := range s.probes {
		out = append(out, p.Name)
	}
	return out
}

// Find returns the first probe whose element exists. When nothing matches,
// the error is nil if every lookup ran cleanly and non-nil if any lookup
// failed, so callers can tell "absent" from "could not look".
func (s *ProbeSet) Find(ctx context.Context, sess marketplace.Session) (Probe, bool, error) {
	var errs []error
	for _, p := range s.probes {
		ok, err := sess.Exists(ctx, p.XPath)
		if err != nil {
			if marketplace.IsSessionError(err) {
				return Probe{}, false, err
			}
			errs = append(errs, fmt.Errorf("probe %s: %w", p.Name, err))
			continue
		}
		if ok {
			return p, true, nil
		}
	}
	return Probe{}, false, errors.Join(errs...)
}
