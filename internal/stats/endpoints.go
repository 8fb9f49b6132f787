package stats

import (
	"regexp"
	"strings"
)

// Endpoint is an HTTP route declared with a FastAPI or Flask style decorator.
type Endpoint struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Handler string `json:"handler"`
	Router  string `json:"router"`
	Source  string `json:"source"`
	Line    int    `json:"line"`
}

var (
	routeDecoratorRe = regexp.MustCompile(`^\s*@(\w+)\.(get|post|put|patch|delete|options|head|api_route|websocket|route)\((.*)$`)
	leadingPathRe    = regexp.MustCompile(`^\s*(?:path\s*=\s*)?["']([^"']*)["']`)
	pathArgRe        = regexp.MustCompile(`\bpath\s*=\s*["']([^"']*)["']`)
	routerDeclRe     = regexp.MustCompile(`^\s*(\w+)\s*(?::\s*\w+\s*)?=\s*(?:fastapi\.)?APIRouter\((.*)$`)
	prefixArgRe      = regexp.MustCompile(`prefix\s*=\s*["']([^"']*)["']`)
	methodsArgRe     = regexp.MustCompile(`methods\s*=\s*[\[(]([^\])]*)[\])]`)
	quotedRe         = regexp.MustCompile(`["']([A-Za-z]+)["']`)
	handlerDefRe     = regexp.MustCompile(`^\s*(?:async\s+)?def\s+(\w+)`)
)

// endpointParser follows decorators through a single Python file.
type endpointParser struct {
	source   string
	prefixes map[string]string
	open     *openCall
	pending  []Endpoint
	found    []Endpoint
}

// openCall is a router declaration or route decorator whose argument list
// continues on the following lines.
type openCall struct {
	router string
	verb   string // empty for an APIRouter declaration
	line   int
	args   strings.Builder
	depth  int
}

func (c *openCall) add(text string) {
	c.args.WriteString(text)
	c.args.WriteByte(' ')
	c.depth += strings.Count(text, "(") - strings.Count(text, ")")
}

func newEndpointParser(source string) *endpointParser {
	return &endpointParser{source: source, prefixes: make(map[string]string)}
}

func (p *endpointParser) line(lineNo int, text string) {
	if p.open != nil {
		if !handlerDefRe.MatchString(text) {
			p.open.add(text)
			if p.open.depth <= 0 {
				p.close()
			}
			return
		}
		p.close()
	}

	if m := routerDeclRe.FindStringSubmatch(text); m != nil {
		p.begin(m[1], "", lineNo, m[2])
		return
	}

	if m := routeDecoratorRe.FindStringSubmatch(text); m != nil {
		p.begin(m[1], m[2], lineNo, m[3])
		return
	}

	if len(p.pending) == 0 {
		return
	}
	if m := handlerDefRe.FindStringSubmatch(text); m != nil {
		for i := range p.pending {
			p.pending[i].Handler = m[1]
		}
		p.found = append(p.found, p.pending...)
		p.pending = p.pending[:0]
	}
}

// begin starts a call whose arguments begin with args, the text after the
// opening parenthesis. Calls that already balance are resolved at once.
func (p *endpointParser) begin(router, verb string, lineNo int, args string) {
	c := &openCall{router: router, verb: verb, line: lineNo, depth: 1}
	c.add(args)
	p.open = c
	if c.depth <= 0 {
		p.close()
	}
}

// close resolves the open call. A decorator without a literal path is
// dropped.
func (p *endpointParser) close() {
	c := p.open
	p.open = nil
	args := c.args.String()

	if c.verb == "" {
		prefix := ""
		if pm := prefixArgRe.FindStringSubmatch(args); pm != nil {
			prefix = pm[1]
		}
		p.prefixes[c.router] = prefix
		return
	}

	m := leadingPathRe.FindStringSubmatch(args)
	if m == nil {
		m = pathArgRe.FindStringSubmatch(args)
	}
	if m == nil {
		return
	}
	for _, method := range decoratorMethods(c.verb, args) {
		p.pending = append(p.pending, Endpoint{
			Method: method,
			Path:   joinRoute(p.prefixes[c.router], m[1]),
			Router: c.router,
			Source: p.source,
			Line:   c.line,
		})
	}
}

// finish flushes decorators that never reached a function definition.
func (p *endpointParser) finish() []Endpoint {
	if p.open != nil {
		p.close()
	}
	p.found = append(p.found, p.pending...)
	p.pending = nil
	return p.found
}

func decoratorMethods(verb, rest string) []string {
	switch verb {
	case "websocket":
		return []string{"WS"}
	case "route", "api_route":
		m := methodsArgRe.FindStringSubmatch(rest)
		if m == nil {
			return []string{"GET"}
		}
		var methods []string
		for _, q := range quotedRe.FindAllStringSubmatch(m[1], -1) {
			methods = append(methods, strings.ToUpper(q[1]))
		}
		if len(methods) == 0 {
			return []string{"GET"}
		}
		return methods
	default:
		return []string{strings.ToUpper(verb)}
	}
}

func joinRoute(prefix, path string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	switch {
	case prefix == "" && path == "":
		return "/"
	case path == "":
		return prefix
	case !strings.HasPrefix(path, "/"):
		return prefix + "/" + path
	default:
		return prefix + path
	}
}
