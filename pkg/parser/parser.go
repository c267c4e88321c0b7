// Package parser builds a pkg/ast.Program from tokens produced by pkg/lexer
// using straightforward recursive-descent with precedence climbing for
// expressions.
package parser

import (
	"fmt"
	"strconv"

	"github.com/smogvm/core/pkg/ast"
	"github.com/smogvm/core/pkg/lexer"
)

// Parser consumes a token stream one lookahead token at a time.
type Parser struct {
	lex  *lexer.Lexer
	cur  lexer.Token
	peek lexer.Token
}

// New lexes src fully into a Parser ready to produce a Program.
func New(src string) (*Parser, error) {
	p := &Parser{lex: lexer.New(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	p.cur = p.peek
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.peek = tok
	return nil
}

func (p *Parser) expect(k lexer.Kind, what string) (lexer.Token, error) {
	if p.cur.Kind != k {
		return lexer.Token{}, fmt.Errorf("parser: line %d: expected %s, got %q", p.cur.Line, what, p.cur.Text)
	}
	tok := p.cur
	if err := p.advance(); err != nil {
		return lexer.Token{}, err
	}
	return tok, nil
}

// ParseProgram parses the entire token stream into a Program.
func ParseProgram(src string) (*ast.Program, error) {
	p, err := New(src)
	if err != nil {
		return nil, err
	}
	prog := &ast.Program{}
	for p.cur.Kind != lexer.EOF {
		stmt, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		prog.Statements = append(prog.Statements, stmt)
	}
	return prog, nil
}

func (p *Parser) parseBlock() ([]ast.Stmt, error) {
	if _, err := p.expect(lexer.LBrace, "'{'"); err != nil {
		return nil, err
	}
	var stmts []ast.Stmt
	for p.cur.Kind != lexer.RBrace {
		if p.cur.Kind == lexer.EOF {
			return nil, fmt.Errorf("parser: line %d: unterminated block", p.cur.Line)
		}
		stmt, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	if _, err := p.expect(lexer.RBrace, "'}'"); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *Parser) parseStmt() (ast.Stmt, error) {
	switch p.cur.Kind {
	case lexer.KwLet:
		return p.parseLet()
	case lexer.KwFn:
		return p.parseFn()
	case lexer.KwIf:
		return p.parseIf()
	case lexer.KwWhile:
		return p.parseWhile()
	case lexer.KwReturn:
		return p.parseReturn()
	case lexer.KwPrint:
		return p.parsePrint()
	default:
		return p.parseExprStmt()
	}
}

func (p *Parser) parseLet() (ast.Stmt, error) {
	line := p.cur.Line
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expect(lexer.Ident, "identifier")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Eq, "'='"); err != nil {
		return nil, err
	}
	val, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Semicolon, "';'"); err != nil {
		return nil, err
	}
	return &ast.LetStmt{Name: name.Text, Value: val, Line: line}, nil
}

func (p *Parser) parseFn() (ast.Stmt, error) {
	line := p.cur.Line
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expect(lexer.Ident, "function name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LParen, "'('"); err != nil {
		return nil, err
	}
	var params []string
	for p.cur.Kind != lexer.RParen {
		tok, err := p.expect(lexer.Ident, "parameter name")
		if err != nil {
			return nil, err
		}
		params = append(params, tok.Text)
		if p.cur.Kind == lexer.Comma {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(lexer.RParen, "')'"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ast.FnStmt{Name: name.Text, Params: params, Body: body, Line: line}, nil
}

func (p *Parser) parseIf() (ast.Stmt, error) {
	line := p.cur.Line
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LParen, "'('"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.RParen, "')'"); err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	var elseBody []ast.Stmt
	if p.cur.Kind == lexer.KwElse {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.Kind == lexer.KwIf {
			elseIf, err := p.parseIf()
			if err != nil {
				return nil, err
			}
			elseBody = []ast.Stmt{elseIf}
		} else {
			elseBody, err = p.parseBlock()
			if err != nil {
				return nil, err
			}
		}
	}
	return &ast.IfStmt{Cond: cond, Then: then, Else: elseBody, Line: line}, nil
}

func (p *Parser) parseWhile() (ast.Stmt, error) {
	line := p.cur.Line
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LParen, "'('"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.RParen, "')'"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ast.WhileStmt{Cond: cond, Body: body, Line: line}, nil
}

func (p *Parser) parseReturn() (ast.Stmt, error) {
	line := p.cur.Line
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.cur.Kind == lexer.Semicolon {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.ReturnStmt{Line: line}, nil
	}
	val, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Semicolon, "';'"); err != nil {
		return nil, err
	}
	return &ast.ReturnStmt{Value: val, Line: line}, nil
}

func (p *Parser) parsePrint() (ast.Stmt, error) {
	line := p.cur.Line
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LParen, "'('"); err != nil {
		return nil, err
	}
	val, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.RParen, "')'"); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Semicolon, "';'"); err != nil {
		return nil, err
	}
	return &ast.PrintStmt{X: val, Line: line}, nil
}

func (p *Parser) parseExprStmt() (ast.Stmt, error) {
	line := p.cur.Line
	x, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Semicolon, "';'"); err != nil {
		return nil, err
	}
	return &ast.ExprStmt{X: x, Line: line}, nil
}

// precedence table for infix operators; higher binds tighter.
var binPrec = map[lexer.Kind]int{
	lexer.EqEq:    1,
	lexer.BangEq:  1,
	lexer.Lt:      2,
	lexer.LtEq:    2,
	lexer.Gt:      2,
	lexer.GtEq:    2,
	lexer.Plus:    3,
	lexer.Minus:   3,
	lexer.Star:    4,
	lexer.Slash:   4,
	lexer.Percent: 4,
}

var binOpText = map[lexer.Kind]string{
	lexer.EqEq: "==", lexer.BangEq: "!=",
	lexer.Lt: "<", lexer.LtEq: "<=", lexer.Gt: ">", lexer.GtEq: ">=",
	lexer.Plus: "+", lexer.Minus: "-", lexer.Star: "*", lexer.Slash: "/", lexer.Percent: "%",
}

// parseExpr parses an expression binding at least as tightly as minPrec,
// handling assignment (`name = expr`, right-associative, lowest precedence)
// specially since it is not a symmetric binary operator.
func (p *Parser) parseExpr(minPrec int) (ast.Expr, error) {
	if p.cur.Kind == lexer.Ident && p.peek.Kind == lexer.Eq {
		name := p.cur
		line := name.Line
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		val, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		return &ast.Assign{Name: name.Text, Value: val, Line: line}, nil
	}

	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		prec, ok := binPrec[p.cur.Kind]
		if !ok || prec < minPrec {
			return left, nil
		}
		opTok := p.cur
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: binOpText[opTok.Kind], Left: left, Right: right, Line: opTok.Line}
	}
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	if p.cur.Kind == lexer.Minus || p.cur.Kind == lexer.Bang {
		op := p.cur
		opText := "-"
		if op.Kind == lexer.Bang {
			opText = "!"
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.Unary{Op: opText, Right: right, Line: op.Line}, nil
	}
	return p.parseCallOrPrimary()
}

func (p *Parser) parseCallOrPrimary() (ast.Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == lexer.LParen {
		line := p.cur.Line
		if err := p.advance(); err != nil {
			return nil, err
		}
		var args []ast.Expr
		for p.cur.Kind != lexer.RParen {
			arg, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.cur.Kind == lexer.Comma {
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
		}
		if _, err := p.expect(lexer.RParen, "')'"); err != nil {
			return nil, err
		}
		expr = &ast.Call{Callee: expr, Args: args, Line: line}
	}
	return expr, nil
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	tok := p.cur
	switch tok.Kind {
	case lexer.Number:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if containsDot(tok.Text) {
			f, err := strconv.ParseFloat(tok.Text, 64)
			if err != nil {
				return nil, fmt.Errorf("parser: line %d: bad float literal %q: %w", tok.Line, tok.Text, err)
			}
			return &ast.NumberLit{IsFloat: true, FVal: f, Line: tok.Line}, nil
		}
		n, err := strconv.ParseInt(tok.Text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parser: line %d: bad integer literal %q: %w", tok.Line, tok.Text, err)
		}
		return &ast.NumberLit{IVal: n, Line: tok.Line}, nil
	case lexer.String:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.StringLit{Value: tok.Text, Line: tok.Line}, nil
	case lexer.KwTrue:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.BoolLit{Value: true, Line: tok.Line}, nil
	case lexer.KwFalse:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.BoolLit{Value: false, Line: tok.Line}, nil
	case lexer.KwNull:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.NullLit{Line: tok.Line}, nil
	case lexer.Ident:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ast.Identifier{Name: tok.Text, Line: tok.Line}, nil
	case lexer.LParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.RParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, fmt.Errorf("parser: line %d: unexpected token %q", tok.Line, tok.Text)
}

func containsDot(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return true
		}
	}
	return false
}
