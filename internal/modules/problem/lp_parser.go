package problem

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ParseLP parses a linear/quadratic program in LP text format into a Model.
//
// The parser covers the subset emitted by the problem generators: an
// objective section (minimize/maximize, optional quadratic block
// "[ ... ] / 2"), a "subject to" section with named constraints, optional
// bounds/binary sections (variables are binary by construction), and "end".
// Bracketed variable names like w[3] are normalized to w_3. Maximization
// objectives are negated so the engine always minimizes.
//
// A file from which no decision variables can be recovered yields a
// MalformedModelError; callers must not construct samplers or optimizers
// from a model that failed to parse.
func ParseLP(name string, r io.Reader) (*Model, error) {
	sections, err := splitSections(r)
	if err != nil {
		return nil, err
	}

	b := NewBuilder(name)

	maximize := sections.maximize
	if sections.objective != "" {
		if err := parseObjective(b, sections.objective, maximize); err != nil {
			return nil, &MalformedModelError{Model: name, Reason: err.Error()}
		}
	}

	for i, raw := range sections.constraints {
		if err := parseConstraint(b, i, raw); err != nil {
			return nil, &MalformedModelError{Model: name, Reason: err.Error()}
		}
	}

	// Binary section only declares variables; it may introduce names the
	// objective never references.
	for _, v := range sections.binaries {
		b.AddVariable(normalizeVarName(v))
	}

	model, err := b.Build()
	if err != nil {
		return nil, err
	}
	return model, nil
}

type lpSections struct {
	objective   string
	maximize    bool
	constraints []string
	binaries    []string
}

var sectionHeaders = map[string]string{
	"minimize": "objective", "minimise": "objective", "min": "objective",
	"maximize": "objective", "maximise": "objective", "max": "objective",
	"subject to": "constraints", "s.t.": "constraints", "st": "constraints", "such that": "constraints",
	"bounds": "bounds", "bound": "bounds",
	"binary": "binary", "binaries": "binary", "bin": "binary",
	"general": "general", "generals": "general",
	"end": "end",
}

func splitSections(r io.Reader) (*lpSections, error) {
	out := &lpSections{}
	section := ""
	var objParts []string
	var current strings.Builder
	currentName := ""

	flushConstraint := func() {
		if currentName != "" || current.Len() > 0 {
			out.constraints = append(out.constraints, strings.TrimSpace(currentName+":"+current.String()))
			currentName = ""
			current.Reset()
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "\\"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		lower := strings.ToLower(line)
		if kind, ok := sectionHeaders[lower]; ok {
			if section == "constraints" {
				flushConstraint()
			}
			if kind == "objective" {
				out.maximize = strings.HasPrefix(lower, "max")
			}
			if kind == "end" {
				break
			}
			section = kind
			continue
		}

		switch section {
		case "objective":
			objParts = append(objParts, line)
		case "constraints":
			// A named header line starts a fresh constraint; continuation
			// lines begin with an operator or a bare term.
			if idx := strings.Index(line, ":"); idx >= 0 && !strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "-") {
				flushConstraint()
				currentName = strings.TrimSpace(line[:idx])
				current.WriteString(line[idx+1:])
			} else {
				current.WriteString(" ")
				current.WriteString(line)
			}
		case "binary", "general":
			for _, tok := range strings.Fields(line) {
				out.binaries = append(out.binaries, tok)
			}
		case "bounds":
			// Binary problems carry implicit [0,1] bounds; nothing to record.
		}
	}
	if section == "constraints" {
		flushConstraint()
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading lp input: %w", err)
	}

	out.objective = strings.TrimSpace(strings.Join(objParts, " "))
	if idx := strings.Index(out.objective, ":"); idx >= 0 && idx < 16 {
		// Strip an "obj:" label.
		out.objective = strings.TrimSpace(out.objective[idx+1:])
	}
	return out, nil
}

var bracketIndexRe = regexp.MustCompile(`\[([0-9]+)\]`)

// normalizeVarName converts names like w[3] into w_3.
func normalizeVarName(v string) string {
	return bracketIndexRe.ReplaceAllString(v, "_$1")
}

var (
	numberPattern = `[+-]?\s*(?:\d+(?:\.\d+)?(?:[eE][+-]?\d+)?)?`
	varPattern    = `[a-zA-Z_][a-zA-Z0-9_\[\]]*`

	linearTermRe = regexp.MustCompile(`(` + numberPattern + `)\s*\*?\s*(` + varPattern + `)`)
	quadTermRe   = regexp.MustCompile(`(` + numberPattern + `)\s*\*?\s*(` + varPattern + `)\s*(?:\^\s*2|\*\s*(` + varPattern + `))`)
)

func parseCoefficient(s string) float64 {
	s = strings.ReplaceAll(s, " ", "")
	switch s {
	case "", "+":
		return 1.0
	case "-":
		return -1.0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 1.0
	}
	return f
}

func parseObjective(b *Builder, text string, maximize bool) error {
	sign := 1.0
	if maximize {
		sign = -1.0
	}

	// Normalize w[3]-style names first so the only remaining bracket is the
	// quadratic block delimiter.
	text = normalizeVarName(text)

	// The quadratic block is bracketed and, by LP convention, divided by two.
	if open := strings.Index(text, "["); open >= 0 {
		closeIdx := strings.Index(text, "]")
		if closeIdx < open {
			return fmt.Errorf("unbalanced quadratic block in objective")
		}
		quad := text[open+1 : closeIdx]
		rest := text[closeIdx+1:]
		divisor := 1.0
		if m := regexp.MustCompile(`^\s*/\s*2`).FindString(rest); m != "" {
			divisor = 2.0
			rest = rest[len(m):]
		}
		for _, m := range quadTermRe.FindAllStringSubmatch(quad, -1) {
			coeff := sign * parseCoefficient(m[1]) / divisor
			v1 := normalizeVarName(m[2])
			v2 := v1
			if m[3] != "" {
				v2 = normalizeVarName(m[3])
			}
			b.AddQuadraticTerm(v1, v2, coeff)
		}
		text = text[:open] + " " + rest
	}

	for _, m := range linearTermRe.FindAllStringSubmatch(text, -1) {
		b.AddLinearTerm(normalizeVarName(m[2]), sign*parseCoefficient(m[1]))
	}
	return nil
}

var (
	rangeLeRe = regexp.MustCompile(`^\s*(` + floatRe + `)\s*<=\s*(.+?)\s*<=\s*(` + floatRe + `)\s*$`)
	rangeGeRe = regexp.MustCompile(`^\s*(` + floatRe + `)\s*>=\s*(.+?)\s*>=\s*(` + floatRe + `)\s*$`)
	senseRe   = regexp.MustCompile(`^(.+?)\s*(<=|>=|=)\s*(` + floatRe + `)\s*$`)
)

const floatRe = `[+-]?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?`

func parseConstraint(b *Builder, idx int, raw string) error {
	name := fmt.Sprintf("c%d", idx+1)
	expr := raw
	if i := strings.Index(raw, ":"); i >= 0 {
		if n := strings.TrimSpace(raw[:i]); n != "" {
			name = n
		}
		expr = strings.TrimSpace(raw[i+1:])
	}
	if expr == "" {
		return fmt.Errorf("constraint %q is empty", name)
	}

	lower := math.Inf(-1)
	upper := math.Inf(1)
	var lhs string

	switch {
	case rangeLeRe.MatchString(expr):
		m := rangeLeRe.FindStringSubmatch(expr)
		lower, _ = strconv.ParseFloat(m[1], 64)
		upper, _ = strconv.ParseFloat(m[3], 64)
		lhs = m[2]
	case rangeGeRe.MatchString(expr):
		m := rangeGeRe.FindStringSubmatch(expr)
		upper, _ = strconv.ParseFloat(m[1], 64)
		lower, _ = strconv.ParseFloat(m[3], 64)
		lhs = m[2]
	case senseRe.MatchString(expr):
		m := senseRe.FindStringSubmatch(expr)
		lhs = m[1]
		rhs, err := strconv.ParseFloat(strings.TrimSpace(m[3]), 64)
		if err != nil {
			return fmt.Errorf("constraint %q: invalid right-hand side %q", name, m[3])
		}
		switch m[2] {
		case "<=":
			upper = rhs
		case ">=":
			lower = rhs
		case "=":
			lower, upper = rhs, rhs
		}
	default:
		return fmt.Errorf("constraint %q has no recognizable sense", name)
	}

	terms := make(map[string]float64)
	for _, m := range linearTermRe.FindAllStringSubmatch(lhs, -1) {
		terms[normalizeVarName(m[2])] += parseCoefficient(m[1])
	}
	if len(terms) == 0 {
		return fmt.Errorf("constraint %q references no variables", name)
	}
	b.AddConstraint(name, terms, lower, upper)
	return nil
}
