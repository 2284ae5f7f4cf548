// Package resolvconf reads and validates the resolv.conf-style configuration
// described in spec.md §6: nameservers, search list, sortlist, and options,
// layered with the environment-variable overrides RES_CONF, RES_OPTIONS,
// ADNS_RES_CONF, ADNS_RES_OPTIONS, LOCALDOMAIN and HOSTALIASES.
package resolvconf

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lucab/adns/internal/rrtype"
)

// CIDRBand is one sortlist entry: prefer addresses matching base/mask.
type CIDRBand struct {
	Base net.IP `validate:"required,ip4_addr"`
	Mask net.IP `validate:"required,ip4_addr"`
}

// Config is the fully parsed, validated resolver configuration.
type Config struct {
	NameServers []net.IP `validate:"required,min=1,max=5,dive,ip4_addr"`
	Search      []string `validate:"max=6,dive,fqdn|len=0"`
	NDots       int      `validate:"min=0,max=16"`
	SortList    []CIDRBand `validate:"dive"`
	Timeout     int  `validate:"min=1,max=30"` // seconds, options timeout:n
	Attempts    int  `validate:"min=1,max=5"`  // options attempts:n
	Debug       bool
	NoErrPrint  bool
	NoServerWarn bool
	UseVC       bool
}

func defaultConfig() *Config {
	return &Config{
		NDots:    1,
		Timeout:  3,
		Attempts: 4,
	}
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	if err := validate.RegisterValidation("ip4_addr", validateIP4); err != nil {
		panic(err)
	}
}

func validateIP4(fl validator.FieldLevel) bool {
	switch v := fl.Field().Interface().(type) {
	case net.IP:
		return v.To4() != nil
	default:
		return false
	}
}

// Validate runs struct-tag validation over a parsed Config, mirroring the
// validator/v10 usage pattern for structured configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			var sb strings.Builder
			sb.WriteString("invalid resolver configuration:\n")
			for _, fe := range verrs {
				sb.WriteString(fmt.Sprintf("  %s: failed on %q\n", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%s", sb.String())
		}
		return err
	}
	return nil
}

// Parse reads resolv.conf-grammar text (nameserver/search/domain/sortlist/
// options lines) into a Config, following spec.md §6's parsing rules: a
// single "domain" is equivalent to a one-element search list; a later
// "search" or "domain" line replaces an earlier one; unrecognized lines and
// lines beginning with ';' or '#' are ignored.
func Parse(text string) (*Config, error) {
	cfg := defaultConfig()
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "nameserver":
			if len(fields) < 2 {
				continue
			}
			if len(cfg.NameServers) >= 5 {
				continue
			}
			ip := net.ParseIP(fields[1])
			if ip == nil || ip.To4() == nil {
				return nil, fmt.Errorf("resolvconf: invalid nameserver address %q", fields[1])
			}
			cfg.NameServers = append(cfg.NameServers, ip)
		case "domain":
			if len(fields) < 2 {
				continue
			}
			cfg.Search = []string{strings.TrimSuffix(fields[1], ".")}
		case "search":
			cfg.Search = nil
			for _, s := range fields[1:] {
				if len(cfg.Search) >= 6 {
					break
				}
				cfg.Search = append(cfg.Search, strings.TrimSuffix(s, "."))
			}
		case "sortlist":
			for _, s := range fields[1:] {
				band, err := parseSortlistEntry(s)
				if err != nil {
					return nil, err
				}
				cfg.SortList = append(cfg.SortList, band)
			}
		case "options":
			for _, opt := range fields[1:] {
				applyOption(cfg, opt)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("resolvconf: %w", err)
	}
	return cfg, nil
}

// parseSortlistEntry parses "addr" or "addr/mask" (spec.md §6 "sortlist").
func parseSortlistEntry(s string) (CIDRBand, error) {
	addrPart, maskPart, hasMask := strings.Cut(s, "/")
	base := net.ParseIP(addrPart)
	if base == nil || base.To4() == nil {
		return CIDRBand{}, fmt.Errorf("resolvconf: invalid sortlist address %q", s)
	}
	if !hasMask {
		return CIDRBand{Base: base, Mask: net.IPv4(255, 255, 255, 255)}, nil
	}
	mask := net.ParseIP(maskPart)
	if mask == nil || mask.To4() == nil {
		return CIDRBand{}, fmt.Errorf("resolvconf: invalid sortlist mask %q", maskPart)
	}
	return CIDRBand{Base: base, Mask: mask}, nil
}

func applyOption(cfg *Config, opt string) {
	name, val, hasVal := strings.Cut(opt, ":")
	switch name {
	case "debug":
		cfg.Debug = true
	case "noerrprint":
		cfg.NoErrPrint = true
	case "noserverwarn":
		cfg.NoServerWarn = true
	case "usevc":
		cfg.UseVC = true
	case "ndots":
		if hasVal {
			if n, err := strconv.Atoi(val); err == nil {
				cfg.NDots = n
			}
		}
	case "timeout":
		if hasVal {
			if n, err := strconv.Atoi(val); err == nil {
				cfg.Timeout = n
			}
		}
	case "attempts":
		if hasVal {
			if n, err := strconv.Atoi(val); err == nil {
				cfg.Attempts = n
			}
		}
	}
}

// ToSortContext converts the configured sortlist into the form the rrtype
// package's address-preference ordering consumes.
func (c *Config) ToSortContext() rrtype.SortContext {
	sc := rrtype.SortContext{}
	for _, band := range c.SortList {
		b4 := band.Base.To4()
		m4 := band.Mask.To4()
		if b4 == nil || m4 == nil {
			continue
		}
		sc.SortList = append(sc.SortList, rrtype.CIDRBand{
			Base: be32(b4),
			Mask: be32(m4),
		})
	}
	return sc
}

func be32(ip net.IP) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

// LoadOptions controls where Load reads configuration and environment
// overrides from (spec.md §6).
type LoadOptions struct {
	// Getenv defaults to os.Getenv; tests substitute a fake environment.
	Getenv func(string) string
	// ReadFile defaults to os.ReadFile; tests substitute fixture content.
	ReadFile func(string) ([]byte, error)
}

func (o LoadOptions) getenv(name string) string {
	if o.Getenv != nil {
		return o.Getenv(name)
	}
	return os.Getenv(name)
}

func (o LoadOptions) readFile(path string) ([]byte, error) {
	if o.ReadFile != nil {
		return o.ReadFile(path)
	}
	return os.ReadFile(path)
}

// Load builds a Config the way the reference resolver does: read
// /etc/resolv.conf (or $RES_CONF / $ADNS_RES_CONF if set), then apply
// $RES_OPTIONS / $ADNS_RES_OPTIONS as an extra trailing "options" line, then
// $LOCALDOMAIN as an override for the search list if non-empty.
func Load(opts LoadOptions) (*Config, error) {
	path := "/etc/resolv.conf"
	if v := opts.getenv("ADNS_RES_CONF"); v != "" {
		path = v
	} else if v := opts.getenv("RES_CONF"); v != "" {
		path = v
	}
	text := ""
	if data, err := opts.readFile(path); err == nil {
		text = string(data)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("resolvconf: reading %s: %w", path, err)
	}
	cfg, err := Parse(text)
	if err != nil {
		return nil, err
	}
	resOpts := opts.getenv("ADNS_RES_OPTIONS")
	if resOpts == "" {
		resOpts = opts.getenv("RES_OPTIONS")
	}
	if resOpts != "" {
		for _, opt := range strings.Fields(resOpts) {
			applyOption(cfg, opt)
		}
	}
	if ld := opts.getenv("LOCALDOMAIN"); ld != "" {
		cfg.Search = strings.Fields(ld)
	}
	if len(cfg.NameServers) == 0 {
		cfg.NameServers = []net.IP{net.IPv4(127, 0, 0, 1)}
	}
	return cfg, nil
}

// HostAliases reads the $HOSTALIASES file, if set, into a lookup table of
// alias -> canonical name (spec.md §6). Missing or unset is not an error.
func HostAliases(opts LoadOptions) (map[string]string, error) {
	path := opts.getenv("HOSTALIASES")
	if path == "" {
		return nil, nil
	}
	data, err := opts.readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolvconf: reading HOSTALIASES %s: %w", path, err)
	}
	aliases := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		aliases[strings.ToLower(fields[0])] = fields[1]
	}
	return aliases, nil
}
