package httpkit

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSOptions configures CORS. Empty method and header lists fall back to
// what the browser client needs.
type CORSOptions struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAgeSeconds    int
}

type corsPolicy struct {
	anyOrigin   bool
	origins     map[string]struct{}
	headers     map[string]string
	credentials bool
}

func newCORSPolicy(opt CORSOptions) *corsPolicy {
	methods := normalizeList(opt.AllowedMethods)
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	headers := normalizeList(opt.AllowedHeaders)
	if len(headers) == 0 {
		headers = []string{"Content-Type", "Accept", "X-Request-ID"}
	}
	maxAge := opt.MaxAgeSeconds
	if maxAge == 0 {
		maxAge = 600
	}

	p := &corsPolicy{
		origins:     make(map[string]struct{}),
		credentials: opt.AllowCredentials,
		headers: map[string]string{
			"Access-Control-Allow-Methods": strings.Join(methods, ", "),
			"Access-Control-Allow-Headers": strings.Join(headers, ", "),
			"Access-Control-Max-Age":       strconv.Itoa(maxAge),
		},
	}
	if exposed := normalizeList(opt.ExposedHeaders); len(exposed) > 0 {
		p.headers["Access-Control-Expose-Headers"] = strings.Join(exposed, ", ")
	}
	if opt.AllowCredentials {
		p.headers["Access-Control-Allow-Credentials"] = "true"
	}
	for _, o := range normalizeList(opt.AllowedOrigins) {
		if o == "*" {
			p.anyOrigin = true
			continue
		}
		p.origins[strings.TrimRight(o, "/")] = struct{}{}
	}
	return p
}

func (p *corsPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.anyOrigin {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// CORS answers preflight requests with 204 and decorates responses for
// allowed origins. The request origin is echoed rather than "*" so that
// cookies keep working for the session.
func CORS(opt CORSOptions) func(http.Handler) http.Handler {
	p := newCORSPolicy(opt)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); p.allows(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				for k, v := range p.headers {
					h.Set(k, v)
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
