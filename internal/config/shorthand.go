package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/maltedev/amazon-product-scraper/internal/identity"
)

// Recognized shorthand keys.
const (
	KeyMaxRetries     = "MAX_RETRIES"
	KeyRequestTimeout = "REQUEST_TIMEOUT"
	KeyDelay          = "DELAY_BETWEEN_REQUESTS"
	KeyImpersonate    = "DEFAULT_IMPERSONATE"
	KeyRotation       = "ROTATION_POLICY"
	KeyProxies        = "PROXIES"
)

// ParseShorthand parses a list of KEY = literal entries such as
//
//	MAX_RETRIES = 5, DELAY_BETWEEN_REQUESTS = (1, 3), DEFAULT_IMPERSONATE = "safari17_0"
//
// Entries are separated by commas, semicolons or newlines. Literals are
// integers, floats, quoted strings, bare identifiers or (a, b) pairs. Every
// malformed entry, unknown key and type mismatch is reported; nothing is
// silently ignored.
func ParseShorthand(input string) (Overrides, error) {
	var out Overrides

	toks, err := lex(input)
	if err != nil {
		return out, err
	}

	p := &shorthandParser{toks: toks}
	entries := p.entries()

	errs := p.errs
	seen := map[string]bool{}
	for _, e := range entries {
		key := strings.ToUpper(e.key)
		if seen[key] {
			errs = append(errs, &Error{Key: key, Msg: "duplicate key"})
			continue
		}
		seen[key] = true
		if err := out.set(key, e.val); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return Overrides{}, errors.Join(errs...)
	}
	return out, nil
}

func (o *Overrides) set(key string, v literal) error {
	switch key {
	case KeyMaxRetries:
		if v.kind != litInt {
			return typeError(key, "an integer", v)
		}
		if v.num < 0 {
			return &Error{Key: key, Msg: "must not be negative"}
		}
		if v.num > MaxRetriesLimit {
			return &Error{Key: key, Msg: fmt.Sprintf("must be at most %d", MaxRetriesLimit)}
		}
		n := int(v.num)
		o.MaxRetries = &n

	case KeyRequestTimeout:
		if !v.numeric() {
			return typeError(key, "a number of seconds", v)
		}
		if v.num <= 0 {
			return &Error{Key: key, Msg: "must be positive"}
		}
		d := seconds(v.num)
		o.RequestTimeout = &d

	case KeyDelay:
		if v.kind != litPair || !v.pair[0].numeric() || !v.pair[1].numeric() {
			return typeError(key, "a (min, max) pair of seconds", v)
		}
		lo, hi := v.pair[0].num, v.pair[1].num
		if lo < 0 || hi < 0 {
			return &Error{Key: key, Msg: "delays must not be negative"}
		}
		if lo > hi {
			return &Error{Key: key, Msg: fmt.Sprintf("min %g exceeds max %g", lo, hi)}
		}
		dlo, dhi := seconds(lo), seconds(hi)
		o.DelayMin, o.DelayMax = &dlo, &dhi

	case KeyImpersonate:
		if !v.textual() {
			return typeError(key, "a profile name", v)
		}
		if _, ok := identity.Lookup(v.text); !ok {
			return &Error{Key: key, Msg: fmt.Sprintf("unknown profile %q (known: %s)", v.text, strings.Join(identity.Names(), ", "))}
		}
		name := strings.ToLower(v.text)
		o.Impersonate = &name

	case KeyRotation:
		if !v.textual() {
			return typeError(key, "a policy name", v)
		}
		pol, err := identity.ParsePolicy(v.text)
		if err != nil {
			return &Error{Key: key, Msg: err.Error()}
		}
		o.Rotation = &pol

	case KeyProxies:
		if v.kind != litString {
			return typeError(key, "a quoted comma-separated list", v)
		}
		proxies := []string{}
		for _, p := range strings.Split(v.text, ",") {
			if p = strings.TrimSpace(p); p != "" {
				proxies = append(proxies, p)
			}
		}
		o.Proxies = proxies

	default:
		return &Error{Key: key, Msg: "unknown key"}
	}
	return nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func typeError(key, want string, got literal) error {
	return &Error{Key: key, Msg: fmt.Sprintf("expected %s, got %s", want, got.describe())}
}

type literalKind int

const (
	litInt literalKind = iota
	litFloat
	litString
	litIdent
	litPair
)

type literal struct {
	kind literalKind
	text string
	num  float64
	pair []literal
}

func (l literal) numeric() bool { return l.kind == litInt || l.kind == litFloat }
func (l literal) textual() bool { return l.kind == litString || l.kind == litIdent }

func (l literal) describe() string {
	switch l.kind {
	case litInt:
		return "integer " + l.text
	case litFloat:
		return "float " + l.text
	case litString:
		return strconv.Quote(l.text)
	case litIdent:
		return "identifier " + l.text
	case litPair:
		return "pair"
	}
	return "?"
}

type tokKind int

const (
	tokIdent tokKind = iota
	tokNumber
	tokString
	tokEquals
	tokComma
	tokSep
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func lex(input string) ([]token, error) {
	var toks []token
	rs := []rune(input)

	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case r == '\n' || r == ';':
			toks = append(toks, token{kind: tokSep, pos: i})
			i++
		case unicode.IsSpace(r):
			i++
		case r == '=':
			toks = append(toks, token{kind: tokEquals, text: "=", pos: i})
			i++
		case r == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '"' || r == '\'':
			j := i + 1
			var sb strings.Builder
			for ; j < len(rs) && rs[j] != r; j++ {
				if rs[j] == '\\' && j+1 < len(rs) {
					j++
				}
				sb.WriteRune(rs[j])
			}
			if j >= len(rs) {
				return nil, &Error{Msg: fmt.Sprintf("unterminated string at offset %d", i)}
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), pos: i})
			i = j + 1
		case unicode.IsDigit(r) || r == '-' || r == '+' || r == '.':
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.' || rs[j] == 'e' || rs[j] == 'E') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[i:j]), pos: i})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || strings.ContainsRune("_-.", rs[j])) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[i:j]), pos: i})
			i = j
		default:
			return nil, &Error{Msg: fmt.Sprintf("unexpected character %q at offset %d", r, i)}
		}
	}

	return append(toks, token{kind: tokEOF, pos: len(rs)}), nil
}

type entry struct {
	key string
	val literal
}

type shorthandParser struct {
	toks []token
	pos  int
	errs []error
}

func (p *shorthandParser) peek() token { return p.toks[p.pos] }

func (p *shorthandParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *shorthandParser) entries() []entry {
	var out []entry
	for {
		for p.peek().kind == tokComma || p.peek().kind == tokSep {
			p.next()
		}
		if p.peek().kind == tokEOF {
			return out
		}

		e, err := p.entry()
		if err != nil {
			p.errs = append(p.errs, err)
			p.skipEntry()
			continue
		}
		out = append(out, e)

		switch p.peek().kind {
		case tokComma, tokSep, tokEOF:
		default:
			t := p.peek()
			p.errs = append(p.errs, &Error{Key: strings.ToUpper(e.key), Msg: fmt.Sprintf("unexpected %q after value at offset %d", t.text, t.pos)})
			p.skipEntry()
		}
	}
}

func (p *shorthandParser) entry() (entry, error) {
	k := p.next()
	if k.kind != tokIdent {
		return entry{}, &Error{Msg: fmt.Sprintf("expected key at offset %d", k.pos)}
	}
	if eq := p.next(); eq.kind != tokEquals {
		return entry{}, &Error{Key: strings.ToUpper(k.text), Msg: "expected '=' after key"}
	}
	v, err := p.literal(true)
	if err != nil {
		return entry{}, &Error{Key: strings.ToUpper(k.text), Msg: err.Error()}
	}
	return entry{key: k.text, val: v}, nil
}

func (p *shorthandParser) literal(allowPair bool) (literal, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		if n, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return literal{kind: litInt, text: t.text, num: float64(n)}, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return literal{}, fmt.Errorf("malformed number %q", t.text)
		}
		return literal{kind: litFloat, text: t.text, num: f}, nil
	case tokString:
		return literal{kind: litString, text: t.text}, nil
	case tokIdent:
		return literal{kind: litIdent, text: t.text}, nil
	case tokLParen:
		if !allowPair {
			return literal{}, errors.New("nested pairs are not supported")
		}
		a, err := p.literal(false)
		if err != nil {
			return literal{}, err
		}
		if c := p.next(); c.kind != tokComma {
			return literal{}, errors.New("expected ',' inside pair")
		}
		b, err := p.literal(false)
		if err != nil {
			return literal{}, err
		}
		if c := p.next(); c.kind != tokRParen {
			return literal{}, errors.New("expected ')' to close pair")
		}
		return literal{kind: litPair, pair: []literal{a, b}}, nil
	case tokEOF:
		return literal{}, errors.New("missing value")
	}
	return literal{}, fmt.Errorf("unexpected %q where a value was expected", t.text)
}

// skipEntry advances to the next top-level separator.
func (p *shorthandParser) skipEntry() {
	depth := 0
	for {
		t := p.peek()
		switch t.kind {
		case tokEOF:
			return
		case tokLParen:
			depth++
		case tokRParen:
			if depth > 0 {
				depth--
			}
		case tokComma, tokSep:
			if depth == 0 {
				return
			}
		}
		p.next()
	}
}
