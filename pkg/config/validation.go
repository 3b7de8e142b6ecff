package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"time"
)

// RequiredValidator is the only validator consulted for keys that are not
// set at all.
type RequiredValidator struct{}

func (v *RequiredValidator) Validate(key string, value interface{}) error {
	if value == nil {
		return fmt.Errorf("%s is required", key)
	}
	if str, ok := value.(string); ok && str == "" {
		return fmt.Errorf("%s cannot be empty", key)
	}
	return nil
}

type RangeValidator struct {
	Min float64
	Max float64
}

func (v *RangeValidator) Validate(key string, value interface{}) error {
	num, ok := toFloat(value)
	if !ok {
		return fmt.Errorf("%s: expected number, got %T", key, value)
	}
	if num < v.Min || num > v.Max {
		return fmt.Errorf("%s: value %v out of range [%g, %g]", key, value, v.Min, v.Max)
	}
	return nil
}

type PatternValidator struct {
	Pattern string
	regex   *regexp.Regexp
}

func NewPatternValidator(pattern string) (*PatternValidator, error) {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
	}
	return &PatternValidator{Pattern: pattern, regex: regex}, nil
}

func (v *PatternValidator) Validate(key string, value interface{}) error {
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("%s: expected string for pattern validation", key)
	}
	if !v.regex.MatchString(str) {
		return fmt.Errorf("%s: value %q does not match pattern %s", key, str, v.Pattern)
	}
	return nil
}

type EnumValidator struct {
	Allowed []interface{}
}

func (v *EnumValidator) Validate(key string, value interface{}) error {
	for _, allowed := range v.Allowed {
		if reflect.DeepEqual(allowed, value) {
			return nil
		}
	}
	return fmt.Errorf("%s: value %v not in allowed set %v", key, value, v.Allowed)
}

// DurationValidator bounds a duration. A zero Max means no upper bound.
type DurationValidator struct {
	Min time.Duration
	Max time.Duration
}

func (v *DurationValidator) Validate(key string, value interface{}) error {
	d, ok := toDuration(value)
	if !ok {
		return fmt.Errorf("%s: expected duration, got %v (%T)", key, value, value)
	}
	if d < v.Min || (v.Max > 0 && d > v.Max) {
		return fmt.Errorf("%s: duration %v out of range [%v, %v]", key, d, v.Min, v.Max)
	}
	return nil
}

// FileValidator checks a path on disk. An empty path passes, so optional
// keys can be left blank.
type FileValidator struct {
	MustExist  bool
	MustBeDir  bool
	MustBeFile bool
}

func (v *FileValidator) Validate(key string, value interface{}) error {
	path, ok := value.(string)
	if !ok {
		return fmt.Errorf("%s: expected file path string", key)
	}
	if path == "" || !v.MustExist {
		return nil
	}
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%s: %s does not exist", key, path)
	case err != nil:
		return fmt.Errorf("%s: stat %s: %w", key, path, err)
	case v.MustBeFile && info.IsDir():
		return fmt.Errorf("%s: %s is a directory", key, path)
	case v.MustBeDir && !info.IsDir():
		return fmt.Errorf("%s: %s is not a directory", key, path)
	}
	return nil
}

// URLValidator requires an absolute URL, optionally limited to Schemes.
type URLValidator struct {
	Schemes []string
}

func (v *URLValidator) Validate(key string, value interface{}) error {
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("%s: expected URL string", key)
	}
	u, err := url.Parse(str)
	if err != nil {
		return fmt.Errorf("%s: invalid URL %q: %w", key, str, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s: %q is not an absolute URL", key, str)
	}
	if len(v.Schemes) > 0 && !slices.Contains(v.Schemes, u.Scheme) {
		return fmt.Errorf("%s: URL scheme %q not allowed (allowed: %v)", key, u.Scheme, v.Schemes)
	}
	return nil
}

// AddressValidator checks host:port network addresses. The value may be a
// single address or a list of them. When Networks is set, literal IP hosts
// must fall inside one of them.
type AddressValidator struct {
	AllowEmptyHost bool
	Networks       []*net.IPNet
}

// AddNetwork restricts IP hosts to cidr in addition to any earlier networks.
func (v *AddressValidator) AddNetwork(cidr string) error {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		return err
	}
	v.Networks = append(v.Networks, n)
	return nil
}

func (v *AddressValidator) Validate(key string, value interface{}) error {
	addrs, ok := toStringSlice(value)
	if !ok {
		return fmt.Errorf("%s: expected address or list of addresses, got %T", key, value)
	}
	var errs MultiError
	for _, addr := range addrs {
		if err := v.check(addr); err != nil {
			errs.Add(fmt.Errorf("%s: %w", key, err))
		}
	}
	return errs.ErrorOrNil()
}

func (v *AddressValidator) check(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port in %q", addr)
	}
	if host == "" {
		if !v.AllowEmptyHost {
			return fmt.Errorf("address %q has no host", addr)
		}
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || len(v.Networks) == 0 {
		return nil
	}
	for _, n := range v.Networks {
		if n.Contains(ip) {
			return nil
		}
	}
	return fmt.Errorf("address %q is outside the allowed networks", addr)
}
