// Package cookie stores values as cookies in an http.CookieJar scoped to one
// site URL, the Go analogue of document.cookie.
//
// Values are query-escaped before they enter the jar and unescaped on read, so
// any bytes (typically JSON) survive. Cookies are written with Path=/ and an
// Expires attribute when a TTL is given; deletion writes an already-expired
// cookie. The jar can be shared with an http.Client so cookies set by a server
// (e.g. an access token after sign-in) are visible through Get.
package cookie

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/unkn0wn-root/kvstate/store"
)

// MaxValueSize is the usual per-cookie browser limit (name + value).
const MaxValueSize = 4096

var (
	ErrInvalidName = errors.New("cookie store: invalid cookie name")
	ErrTooLarge    = errors.New("cookie store: value too large")
)

var epoch = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

type Store struct {
	mu     sync.RWMutex
	jar    http.CookieJar
	u      *url.URL
	path   string
	secure bool
	same   http.SameSite
	closed bool
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

type Config struct {
	URL      string         // site the cookies belong to, e.g. "http://localhost:3000"
	Jar      http.CookieJar // nil => cookiejar with the public suffix list
	Path     string         // "" => "/"
	Secure   bool
	SameSite http.SameSite
}

func New(cfg Config) (*Store, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("cookie store: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("cookie store: unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("cookie store: url %q has no host", cfg.URL)
	}

	jar := cfg.Jar
	if jar == nil {
		j, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, err
		}
		jar = j
	}

	path := cfg.Path
	if path == "" {
		path = "/"
	}
	site := *u
	site.Path = path
	site.RawQuery = ""
	site.Fragment = ""

	return &Store{
		jar:    jar,
		u:      &site,
		path:   path,
		secure: cfg.Secure,
		same:   cfg.SameSite,
		now:    time.Now,
	}, nil
}

// Jar exposes the underlying jar, e.g. for http.Client{Jar: s.Jar()}.
func (s *Store) Jar() http.CookieJar { return s.jar }

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, store.ErrUnavailable
	}
	var raw string
	found := false
	for _, c := range s.jar.Cookies(s.u) {
		if c.Name == key {
			raw = c.Value // last match wins, like the document.cookie scan
			found = true
		}
	}
	if !found {
		return nil, false, nil
	}
	v, err := url.QueryUnescape(raw)
	if err != nil {
		return nil, false, fmt.Errorf("cookie store: unescape %q: %w", key, err)
	}
	return []byte(v), true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if !validName(key) {
		return false, fmt.Errorf("%w: %q", ErrInvalidName, key)
	}
	escaped := url.QueryEscape(string(value))
	if len(key)+len(escaped) > MaxValueSize {
		return false, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(key)+len(escaped))
	}

	c := s.cookie(key, escaped)
	if ttl > 0 {
		c.Expires = s.now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, store.ErrUnavailable
	}
	s.jar.SetCookies(s.u, []*http.Cookie{c})
	return true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	if !validName(key) {
		return nil // nothing could have been stored under it
	}
	c := s.cookie(key, "")
	c.Expires = epoch
	c.MaxAge = -1

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrUnavailable
	}
	s.jar.SetCookies(s.u, []*http.Cookie{c})
	return nil
}

// Absorb copies the Set-Cookie headers of a response into the store.
func (s *Store) Absorb(resp *http.Response) {
	if resp == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.jar.SetCookies(s.u, resp.Cookies())
}

// Cookies returns the live cookies for the site, suitable for writing back to
// a browser with http.SetCookie.
func (s *Store) Cookies() []*http.Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	out := s.jar.Cookies(s.u)
	for _, c := range out {
		c.Path = s.path
	}
	return out
}

func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Store) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     s.path,
		Secure:   s.secure,
		SameSite: s.same,
	}
}

// validName reports whether name is an RFC 7230 token.
func validName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '!' || c == '#' || c == '$' || c == '%' || c == '&' || c == '\'' ||
			c == '*' || c == '+' || c == '-' || c == '.' || c == '^' || c == '_' ||
			c == '`' || c == '|' || c == '~':
		default:
			return false
		}
	}
	return true
}
