package dice

// statement is one top-level roll: an optional label, an optional
// repetition count and either an arithmetic expression or a Lua macro.
type statement struct {
	label  string
	repeat int
	expr   node
	macro  string
	source string
}

type node interface {
	eval(ev *evaluation) (int, string, error)
}

type number struct {
	value int
}

type negate struct {
	x node
}

type binary struct {
	op          byte
	left, right node
}

type group struct {
	x node
}

type diceTerm struct {
	spec   DiceSpec
	source string
}

type parser struct {
	input  string
	tokens []token
	pos    int
}

func parseProgram(input string, tokens []token) ([]statement, error) {
	p := &parser{input: input, tokens: tokens}
	var out []statement
	for {
		stmt, err := p.statement()
		if err != nil {
			return nil, err
		}
		out = append(out, stmt)
		if p.peek().kind == tokSemicolon {
			p.next()
			if p.peek().kind == tokEOF {
				break
			}
			continue
		}
		if p.peek().kind != tokEOF {
			return nil, malformed("unexpected %q at %d", p.peek().text, p.peek().pos)
		}
		break
	}
	return out, nil
}

func parseExpression(input string, tokens []token) (node, error) {
	p := &parser{input: input, tokens: tokens}
	expr, err := p.expression()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, malformed("unexpected %q at %d", p.peek().text, p.peek().pos)
	}
	return expr, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) peekAt(offset int) token {
	if p.pos+offset >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+offset]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		if tok.kind == tokEOF {
			return tok, malformed("expected %s at end of input", what)
		}
		return tok, malformed("expected %s at %d, got %q", what, tok.pos, tok.text)
	}
	return tok, nil
}

func (p *parser) statement() (statement, error) {
	var stmt statement
	start := p.peek().pos
	if p.peek().kind == tokLabel {
		stmt.label = p.next().text
		start = p.peek().pos
	}
	if p.peek().kind == tokInt && p.peekAt(1).kind == tokTimes {
		stmt.repeat = p.next().value
		p.next()
		if stmt.repeat < 1 {
			return stmt, malformed("repetition must be positive")
		}
		if stmt.repeat > MaxRepeat {
			return stmt, malformed("repetition must be at most %d", MaxRepeat)
		}
	}
	if p.peek().kind == tokMacro {
		tok := p.next()
		stmt.macro = tok.text
		stmt.source = p.input[start:tok.end]
		return stmt, nil
	}
	if p.peek().kind == tokEOF || p.peek().kind == tokSemicolon {
		return stmt, malformed("empty expression")
	}
	expr, err := p.expression()
	if err != nil {
		return stmt, err
	}
	stmt.expr = expr
	stmt.source = p.input[start:p.tokens[p.pos-1].end]
	return stmt, nil
}

func (p *parser) expression() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokPlus || p.peek().kind == tokMinus {
		op := p.next().text[0]
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) term() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokStar || p.peek().kind == tokSlash {
		op := p.next().text[0]
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) unary() (node, error) {
	if p.peek().kind == tokMinus {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return negate{x: x}, nil
	}
	return p.atom()
}

func (p *parser) atom() (node, error) {
	tok := p.peek()
	switch tok.kind {
	case tokLParen:
		p.next()
		x, err := p.expression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return group{x: x}, nil
	case tokDice:
		return p.dice(tok.pos, nil, 1)
	case tokInt:
		next := p.peekAt(1).kind
		switch next {
		case tokComma, tokAt:
			return p.selectorDice()
		case tokDice:
			p.next()
			return p.dice(tok.pos, nil, tok.value)
		}
		p.next()
		return number{value: tok.value}, nil
	case tokEOF:
		return nil, malformed("unexpected end of input")
	default:
		return nil, malformed("unexpected %q at %d", tok.text, tok.pos)
	}
}

func (p *parser) selectorDice() (node, error) {
	start := p.peek().pos
	var selectors []int
	for {
		tok, err := p.expect(tokInt, "selector")
		if err != nil {
			return nil, err
		}
		selectors = append(selectors, tok.value)
		if p.peek().kind != tokComma {
			break
		}
		p.next()
	}
	if _, err := p.expect(tokAt, "'@'"); err != nil {
		return nil, err
	}
	count := 1
	if p.peek().kind == tokInt {
		count = p.next().value
	}
	return p.dice(start, selectors, count)
}

func (p *parser) dice(start int, selectors []int, count int) (node, error) {
	if _, err := p.expect(tokDice, "'d'"); err != nil {
		return nil, err
	}
	sides, err := p.expect(tokInt, "number of sides")
	if err != nil {
		return nil, err
	}
	spec := DiceSpec{Sides: sides.value, Count: count, Selectors: selectors}
	switch p.peek().kind {
	case tokHigh, tokLow, tokReroll:
		rule := p.next()
		n, err := p.expect(tokInt, "count after '"+rule.text+"'")
		if err != nil {
			return nil, err
		}
		switch rule.kind {
		case tokHigh:
			spec.Keep, spec.KeepN = KeepHighest, n.value
		case tokLow:
			spec.Keep, spec.KeepN = KeepLowest, n.value
		case tokReroll:
			spec.Reroll = n.value
		}
	}
	if len(spec.Selectors) > 0 && spec.Keep != KeepAll {
		return nil, malformed("selectors cannot be combined with keep rules")
	}
	return diceTerm{spec: spec, source: p.input[start:p.tokens[p.pos-1].end]}, nil
}
