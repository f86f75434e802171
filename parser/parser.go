// Package parser implements a recursive-descent parser over the
// token stream produced by package lexer, producing the ast.Block
// shape. It covers the full statement grammar and the twelve Lua 5.4
// operator-precedence levels; it does not generate bytecode (code
// generation is out of scope, per spec.md's Non-goals).
package parser

import (
	"fmt"

	"github.com/speedata/go-lua54vm/ast"
	"github.com/speedata/go-lua54vm/lexer"
)

// Error reports a syntax error at a token in lexer.Error's
// "source:line: message" shape, without lexer.Error's "near token"
// suffix.
type Error struct {
	Source string
	Line   int
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Source, e.Line, e.Reason)
}

// Parser consumes one token of lookahead from a lexer.Lexer. pending
// holds a token that was fetched to resolve an ambiguity (see
// tableField) and must be returned by the next call to next() before
// the lexer is consulted again.
type Parser struct {
	lex     *lexer.Lexer
	source  string
	tok     lexer.Token
	pending *lexer.Token
}

// Parse tokenizes and parses a complete chunk into a Block.
func Parse(l *lexer.Lexer, source string) (*ast.Block, error) {
	p := &Parser{lex: l, source: source}
	if err := p.next(); err != nil {
		return nil, err
	}
	block, err := p.block()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != lexer.EOF {
		return nil, p.errorf("'<eof>' expected")
	}
	return block, nil
}

func (p *Parser) next() error {
	if p.pending != nil {
		p.tok = *p.pending
		p.pending = nil
		return nil
	}
	t, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *Parser) errorf(format string, args ...any) error {
	return &Error{Source: p.source, Line: p.tok.Line, Reason: fmt.Sprintf(format, args...)}
}

func (p *Parser) expect(k lexer.Kind, what string) error {
	if p.tok.Kind != k {
		return p.errorf("%s expected", what)
	}
	return p.next()
}

func blockEnd(k lexer.Kind) bool {
	switch k {
	case lexer.EOF, lexer.End, lexer.Else, lexer.Elseif, lexer.Until:
		return true
	}
	return false
}

func (p *Parser) block() (*ast.Block, error) {
	b := &ast.Block{}
	for !blockEnd(p.tok.Kind) {
		if p.tok.Kind == lexer.Return {
			stmt, err := p.returnStmt()
			if err != nil {
				return nil, err
			}
			b.Statements = append(b.Statements, stmt)
			break
		}
		stmt, err := p.statement()
		if err != nil {
			return nil, err
		}
		if stmt != nil {
			b.Statements = append(b.Statements, stmt)
		}
	}
	return b, nil
}

func (p *Parser) statement() (ast.Statement, error) {
	line := p.tok.Line
	switch p.tok.Kind {
	case lexer.Semi:
		return nil, p.next()
	case lexer.If:
		return p.ifStmt()
	case lexer.While:
		return p.whileStmt()
	case lexer.Do:
		if err := p.next(); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		if err := p.expect(lexer.End, "'end'"); err != nil {
			return nil, err
		}
		return &ast.DoStmt{Line: line, Body: body}, nil
	case lexer.For:
		return p.forStmt()
	case lexer.Repeat:
		return p.repeatStmt()
	case lexer.Function:
		return p.functionStmt()
	case lexer.Local:
		return p.localStmt()
	case lexer.DColon:
		return p.labelStmt()
	case lexer.Break:
		if err := p.next(); err != nil {
			return nil, err
		}
		return &ast.BreakStmt{Line: line}, nil
	case lexer.Goto:
		if err := p.next(); err != nil {
			return nil, err
		}
		name := p.tok.Str
		if err := p.expect(lexer.Name, "<name>"); err != nil {
			return nil, err
		}
		return &ast.GotoStmt{Line: line, Label: name}, nil
	default:
		return p.exprStmt()
	}
}

func (p *Parser) labelStmt() (ast.Statement, error) {
	line := p.tok.Line
	if err := p.next(); err != nil {
		return nil, err
	}
	name := p.tok.Str
	if err := p.expect(lexer.Name, "<name>"); err != nil {
		return nil, err
	}
	if err := p.expect(lexer.DColon, "'::'"); err != nil {
		return nil, err
	}
	return &ast.LabelStmt{Line: line, Label: name}, nil
}

func (p *Parser) ifStmt() (ast.Statement, error) {
	line := p.tok.Line
	st := &ast.IfStmt{Line: line}
	for {
		if err := p.next(); err != nil {
			return nil, err
		}
		cond, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(lexer.Then, "'then'"); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		st.Clauses = append(st.Clauses, ast.IfClause{Cond: cond, Body: body})
		if p.tok.Kind != lexer.Elseif {
			break
		}
	}
	if p.tok.Kind == lexer.Else {
		if err := p.next(); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		st.Else = body
	}
	if err := p.expect(lexer.End, "'end'"); err != nil {
		return nil, err
	}
	return st, nil
}

func (p *Parser) whileStmt() (ast.Statement, error) {
	line := p.tok.Line
	if err := p.next(); err != nil {
		return nil, err
	}
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(lexer.Do, "'do'"); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if err := p.expect(lexer.End, "'end'"); err != nil {
		return nil, err
	}
	return &ast.WhileStmt{Line: line, Cond: cond, Body: body}, nil
}

func (p *Parser) repeatStmt() (ast.Statement, error) {
	line := p.tok.Line
	if err := p.next(); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if err := p.expect(lexer.Until, "'until'"); err != nil {
		return nil, err
	}
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	return &ast.RepeatStmt{Line: line, Body: body, Cond: cond}, nil
}

func (p *Parser) forStmt() (ast.Statement, error) {
	line := p.tok.Line
	if err := p.next(); err != nil {
		return nil, err
	}
	firstName := p.tok.Str
	if err := p.expect(lexer.Name, "<name>"); err != nil {
		return nil, err
	}
	if p.tok.Kind == lexer.Assign {
		if err := p.next(); err != nil {
			return nil, err
		}
		start, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(lexer.Comma, "','"); err != nil {
			return nil, err
		}
		limit, err := p.expr()
		if err != nil {
			return nil, err
		}
		var step ast.Expression
		if p.tok.Kind == lexer.Comma {
			if err := p.next(); err != nil {
				return nil, err
			}
			step, err = p.expr()
			if err != nil {
				return nil, err
			}
		}
		if err := p.expect(lexer.Do, "'do'"); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		if err := p.expect(lexer.End, "'end'"); err != nil {
			return nil, err
		}
		return &ast.NumericForStmt{Line: line, Name: firstName, Start: start, Limit: limit, Step: step, Body: body}, nil
	}
	names := []string{firstName}
	for p.tok.Kind == lexer.Comma {
		if err := p.next(); err != nil {
			return nil, err
		}
		names = append(names, p.tok.Str)
		if err := p.expect(lexer.Name, "<name>"); err != nil {
			return nil, err
		}
	}
	if err := p.expect(lexer.In, "'in' or '='"); err != nil {
		return nil, err
	}
	exprs, err := p.exprList()
	if err != nil {
		return nil, err
	}
	if err := p.expect(lexer.Do, "'do'"); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if err := p.expect(lexer.End, "'end'"); err != nil {
		return nil, err
	}
	return &ast.GenericForStmt{Line: line, Names: names, Exprs: exprs, Body: body}, nil
}

func (p *Parser) functionStmt() (ast.Statement, error) {
	line := p.tok.Line
	if err := p.next(); err != nil {
		return nil, err
	}
	name := p.tok.Str
	if err := p.expect(lexer.Name, "<name>"); err != nil {
		return nil, err
	}
	var target ast.Expression = &ast.Name{Line: line, Text: name}
	isMethod := false
	for p.tok.Kind == lexer.Dot || p.tok.Kind == lexer.Colon {
		isMethodSep := p.tok.Kind == lexer.Colon
		if err := p.next(); err != nil {
			return nil, err
		}
		field := p.tok.Str
		if err := p.expect(lexer.Name, "<name>"); err != nil {
			return nil, err
		}
		target = &ast.Index{Line: line, Object: target, Key: &ast.StringLiteral{Line: line, Value: field}}
		if isMethodSep {
			isMethod = true
			break
		}
	}
	fn, err := p.functionBody(line, isMethod)
	if err != nil {
		return nil, err
	}
	return &ast.FunctionStmt{Line: line, Target: target, Fn: fn}, nil
}

func (p *Parser) functionBody(line int, isMethod bool) (*ast.FunctionExpr, error) {
	if err := p.expect(lexer.LParen, "'('"); err != nil {
		return nil, err
	}
	var params []string
	if isMethod {
		params = append(params, "self")
	}
	isVararg := false
	for p.tok.Kind != lexer.RParen {
		if p.tok.Kind == lexer.Ellipsis {
			isVararg = true
			if err := p.next(); err != nil {
				return nil, err
			}
			break
		}
		params = append(params, p.tok.Str)
		if err := p.expect(lexer.Name, "<name>"); err != nil {
			return nil, err
		}
		if p.tok.Kind != lexer.Comma {
			break
		}
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if err := p.expect(lexer.RParen, "')'"); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if err := p.expect(lexer.End, "'end'"); err != nil {
		return nil, err
	}
	return &ast.FunctionExpr{Line: line, Params: params, IsVararg: isVararg, Body: body}, nil
}

func (p *Parser) localStmt() (ast.Statement, error) {
	line := p.tok.Line
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.Kind == lexer.Function {
		if err := p.next(); err != nil {
			return nil, err
		}
		name := p.tok.Str
		if err := p.expect(lexer.Name, "<name>"); err != nil {
			return nil, err
		}
		fn, err := p.functionBody(line, false)
		if err != nil {
			return nil, err
		}
		return &ast.FunctionStmt{Line: line, Name: name, IsLocal: true, Fn: fn}, nil
	}
	var names []string
	var attribs []string
	for {
		names = append(names, p.tok.Str)
		if err := p.expect(lexer.Name, "<name>"); err != nil {
			return nil, err
		}
		attrib := ""
		if p.tok.Kind == lexer.LT {
			if err := p.next(); err != nil {
				return nil, err
			}
			attrib = p.tok.Str
			if err := p.expect(lexer.Name, "<name>"); err != nil {
				return nil, err
			}
			if err := p.expect(lexer.GT, "'>'"); err != nil {
				return nil, err
			}
		}
		attribs = append(attribs, attrib)
		if p.tok.Kind != lexer.Comma {
			break
		}
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	var exprs []ast.Expression
	if p.tok.Kind == lexer.Assign {
		if err := p.next(); err != nil {
			return nil, err
		}
		var err error
		exprs, err = p.exprList()
		if err != nil {
			return nil, err
		}
	}
	return &ast.LocalStmt{Line: line, Names: names, Attribs: attribs, Exprs: exprs}, nil
}

func (p *Parser) returnStmt() (ast.Statement, error) {
	line := p.tok.Line
	if err := p.next(); err != nil {
		return nil, err
	}
	var exprs []ast.Expression
	if !blockEnd(p.tok.Kind) && p.tok.Kind != lexer.Semi {
		var err error
		exprs, err = p.exprList()
		if err != nil {
			return nil, err
		}
	}
	if p.tok.Kind == lexer.Semi {
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	return &ast.ReturnStmt{Line: line, Exprs: exprs}, nil
}

// exprStmt parses either an assignment or a bare call used as a
// statement, disambiguated by whether '=' or ',' follows the first
// primary expression.
func (p *Parser) exprStmt() (ast.Statement, error) {
	line := p.tok.Line
	first, err := p.suffixedExpr()
	if err != nil {
		return nil, err
	}
	if call, ok := first.(*ast.Call); ok && p.tok.Kind != lexer.Assign && p.tok.Kind != lexer.Comma {
		return &ast.CallStmt{Line: line, Call: call}, nil
	}
	targets := []ast.Expression{first}
	for p.tok.Kind == lexer.Comma {
		if err := p.next(); err != nil {
			return nil, err
		}
		t, err := p.suffixedExpr()
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	if err := p.expect(lexer.Assign, "'='"); err != nil {
		return nil, err
	}
	exprs, err := p.exprList()
	if err != nil {
		return nil, err
	}
	return &ast.AssignStmt{Line: line, Targets: targets, Exprs: exprs}, nil
}

func (p *Parser) exprList() ([]ast.Expression, error) {
	var list []ast.Expression
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	list = append(list, e)
	for p.tok.Kind == lexer.Comma {
		if err := p.next(); err != nil {
			return nil, err
		}
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, nil
}

// --- expressions, by precedence (mirrors lparser.c's priority table) ---

type precedence struct{ left, right int }

var binPrec = map[lexer.Kind]precedence{
	lexer.Or:      {1, 1},
	lexer.And:     {2, 2},
	lexer.LT:      {3, 3}, lexer.GT: {3, 3}, lexer.LE: {3, 3}, lexer.GE: {3, 3}, lexer.NE: {3, 3}, lexer.Eq: {3, 3},
	lexer.Pipe:    {4, 4},
	lexer.Tilde:   {5, 5},
	lexer.Amp:     {6, 6},
	lexer.Shl:     {7, 7}, lexer.Shr: {7, 7},
	lexer.Concat:  {9, 8}, // right-associative
	lexer.Plus:    {10, 10}, lexer.Minus: {10, 10},
	lexer.Star:    {11, 11}, lexer.Slash: {11, 11}, lexer.DSlash: {11, 11}, lexer.Percent: {11, 11},
	lexer.Caret:   {14, 13}, // right-associative, binds tighter than unary
}

const unaryPrec = 12

var binOps = map[lexer.Kind]ast.BinaryOp{
	lexer.Plus: ast.OpAdd, lexer.Minus: ast.OpSub, lexer.Star: ast.OpMul, lexer.Slash: ast.OpDiv,
	lexer.DSlash: ast.OpIDiv, lexer.Percent: ast.OpMod, lexer.Caret: ast.OpPow, lexer.Concat: ast.OpConcat,
	lexer.Eq: ast.OpEq, lexer.NE: ast.OpNE, lexer.LT: ast.OpLT, lexer.LE: ast.OpLE, lexer.GT: ast.OpGT, lexer.GE: ast.OpGE,
	lexer.And: ast.OpAnd, lexer.Or: ast.OpOr, lexer.Amp: ast.OpBAnd, lexer.Pipe: ast.OpBOr, lexer.Tilde: ast.OpBXor,
	lexer.Shl: ast.OpShl, lexer.Shr: ast.OpShr,
}

func (p *Parser) expr() (ast.Expression, error) { return p.subExpr(0) }

func (p *Parser) subExpr(limit int) (ast.Expression, error) {
	var left ast.Expression
	var err error
	if op, ok := unaryOp(p.tok.Kind); ok {
		line := p.tok.Line
		if err := p.next(); err != nil {
			return nil, err
		}
		operand, err := p.subExpr(unaryPrec)
		if err != nil {
			return nil, err
		}
		left = &ast.UnaryExpr{Line: line, Op: op, Operand: operand}
	} else {
		left, err = p.simpleExpr()
		if err != nil {
			return nil, err
		}
	}
	for {
		prec, ok := binPrec[p.tok.Kind]
		if !ok || prec.left <= limit {
			break
		}
		op := binOps[p.tok.Kind]
		line := p.tok.Line
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.subExpr(prec.right)
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Line: line, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func unaryOp(k lexer.Kind) (ast.UnaryOp, bool) {
	switch k {
	case lexer.Minus:
		return ast.OpNeg, true
	case lexer.Not:
		return ast.OpNot, true
	case lexer.Hash:
		return ast.OpLen, true
	case lexer.Tilde:
		return ast.OpBNot, true
	}
	return 0, false
}

func (p *Parser) simpleExpr() (ast.Expression, error) {
	line := p.tok.Line
	switch p.tok.Kind {
	case lexer.Integer:
		v := p.tok.Int
		return &ast.IntegerLiteral{Line: line, Value: v}, p.next()
	case lexer.Number:
		v := p.tok.Num
		return &ast.NumberLiteral{Line: line, Value: v}, p.next()
	case lexer.String:
		v := p.tok.Str
		return &ast.StringLiteral{Line: line, Value: v}, p.next()
	case lexer.Nil:
		return &ast.NilLiteral{Line: line}, p.next()
	case lexer.True:
		return &ast.TrueLiteral{Line: line}, p.next()
	case lexer.False:
		return &ast.FalseLiteral{Line: line}, p.next()
	case lexer.Ellipsis:
		return &ast.Vararg{Line: line}, p.next()
	case lexer.Function:
		if err := p.next(); err != nil {
			return nil, err
		}
		return p.functionBody(line, false)
	case lexer.LBrace:
		return p.tableExpr()
	default:
		return p.suffixedExpr()
	}
}

func (p *Parser) tableExpr() (ast.Expression, error) {
	line := p.tok.Line
	if err := p.next(); err != nil {
		return nil, err
	}
	t := &ast.TableExpr{Line: line}
	for p.tok.Kind != lexer.RBrace {
		field, err := p.tableField()
		if err != nil {
			return nil, err
		}
		t.Fields = append(t.Fields, field)
		if p.tok.Kind != lexer.Comma && p.tok.Kind != lexer.Semi {
			break
		}
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if err := p.expect(lexer.RBrace, "'}'"); err != nil {
		return nil, err
	}
	return t, nil
}

func (p *Parser) tableField() (ast.TableField, error) {
	if p.tok.Kind == lexer.LBracket {
		if err := p.next(); err != nil {
			return ast.TableField{}, err
		}
		key, err := p.expr()
		if err != nil {
			return ast.TableField{}, err
		}
		if err := p.expect(lexer.RBracket, "']'"); err != nil {
			return ast.TableField{}, err
		}
		if err := p.expect(lexer.Assign, "'='"); err != nil {
			return ast.TableField{}, err
		}
		val, err := p.expr()
		if err != nil {
			return ast.TableField{}, err
		}
		return ast.TableField{Key: key, Value: val}, nil
	}
	if p.tok.Kind == lexer.Name {
		save := p.tok
		if err := p.next(); err != nil {
			return ast.TableField{}, err
		}
		if p.tok.Kind == lexer.Assign {
			if err := p.next(); err != nil {
				return ast.TableField{}, err
			}
			val, err := p.expr()
			if err != nil {
				return ast.TableField{}, err
			}
			return ast.TableField{Key: &ast.StringLiteral{Line: save.Line, Value: save.Str}, Value: val}, nil
		}
		// not a key = value field after all: push the token fetched to
		// check for '=' back as pending, and reparse from the name.
		pending := p.tok
		p.tok = save
		p.pending = &pending
	}
	val, err := p.expr()
	if err != nil {
		return ast.TableField{}, err
	}
	return ast.TableField{Value: val}, nil
}

// suffixedExpr parses a primary expression followed by any run of
// indexing, field, method-call, and call suffixes.
func (p *Parser) suffixedExpr() (ast.Expression, error) {
	e, err := p.primaryExpr()
	if err != nil {
		return nil, err
	}
	for {
		line := p.tok.Line
		switch p.tok.Kind {
		case lexer.Dot:
			if err := p.next(); err != nil {
				return nil, err
			}
			field := p.tok.Str
			if err := p.expect(lexer.Name, "<name>"); err != nil {
				return nil, err
			}
			e = &ast.Index{Line: line, Object: e, Key: &ast.StringLiteral{Line: line, Value: field}}
		case lexer.LBracket:
			if err := p.next(); err != nil {
				return nil, err
			}
			key, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(lexer.RBracket, "']'"); err != nil {
				return nil, err
			}
			e = &ast.Index{Line: line, Object: e, Key: key}
		case lexer.Colon:
			if err := p.next(); err != nil {
				return nil, err
			}
			method := p.tok.Str
			if err := p.expect(lexer.Name, "<name>"); err != nil {
				return nil, err
			}
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &ast.Call{Line: line, Fn: e, Method: method, Args: args}
		case lexer.LParen, lexer.String, lexer.LBrace:
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &ast.Call{Line: line, Fn: e, Args: args}
		default:
			return e, nil
		}
	}
}

func (p *Parser) callArgs() ([]ast.Expression, error) {
	switch p.tok.Kind {
	case lexer.String:
		s := p.tok.Str
		line := p.tok.Line
		if err := p.next(); err != nil {
			return nil, err
		}
		return []ast.Expression{&ast.StringLiteral{Line: line, Value: s}}, nil
	case lexer.LBrace:
		t, err := p.tableExpr()
		if err != nil {
			return nil, err
		}
		return []ast.Expression{t}, nil
	default:
		if err := p.expect(lexer.LParen, "'('"); err != nil {
			return nil, err
		}
		if p.tok.Kind == lexer.RParen {
			return nil, p.next()
		}
		args, err := p.exprList()
		if err != nil {
			return nil, err
		}
		return args, p.expect(lexer.RParen, "')'")
	}
}

func (p *Parser) primaryExpr() (ast.Expression, error) {
	line := p.tok.Line
	switch p.tok.Kind {
	case lexer.LParen:
		if err := p.next(); err != nil {
			return nil, err
		}
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(lexer.RParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	case lexer.Name:
		name := p.tok.Str
		if err := p.next(); err != nil {
			return nil, err
		}
		return &ast.Name{Line: line, Text: name}, nil
	default:
		return nil, p.errorf("unexpected symbol")
	}
}
