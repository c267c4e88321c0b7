package bytecode

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/imroc/biu"
	"github.com/olekukonko/tablewriter"
)

// Disassemble writes a full human-readable listing of c (and, recursively,
// every nested function constant) to w. Output is colorized when w's
// terminal-ness has already been decided by the caller (disassembler
// callers from cmd/smogvm wrap w in github.com/mattn/go-colorable /
// go-isatty-gated color.Output; tests pass a plain buffer and see plain
// text because color.NoColor is honored by the color package itself).
func Disassemble(w io.Writer, c *Chunk) {
	fmt.Fprintf(w, "== %s ==\n", c.Name)
	offset := 0
	for offset < len(c.Code) {
		offset = disassembleInstruction(w, c, offset)
	}
	for _, k := range c.Constants {
		if k.Kind == ConstFunction && k.Fn != nil {
			fmt.Fprintln(w)
			Disassemble(w, k.Fn)
		}
	}
}

var (
	opColor  = color.New(color.FgCyan).SprintFunc()
	offColor = color.New(color.FgYellow).SprintFunc()
)

func disassembleInstruction(w io.Writer, c *Chunk, offset int) int {
	line := c.LineAt(offset)
	op := Opcode(c.Code[offset])
	fmt.Fprintf(w, "%s  L%-4d %-16s", offColor(fmt.Sprintf("%04d", offset)), line, opColor(op.String()))

	width := op.operandWidth()
	next := offset + 1

	switch op {
	case OpClosure:
		idx := ReadUint16(c.Code, next)
		upvalCount := int(c.Code[next+2])
		fmt.Fprintf(w, " const=%d upvalues=%d", idx, upvalCount)
		next += 3
		for i := 0; i < upvalCount; i++ {
			isLocal := c.Code[next] != 0
			index := c.Code[next+1]
			fmt.Fprintf(w, "\n       %s local=%v index=%d", biu.ByteToBinaryString(c.Code[next]), isLocal, index)
			next += 2
		}
	default:
		switch width {
		case 1:
			fmt.Fprintf(w, " %d", c.Code[next])
			next++
		case 2:
			fmt.Fprintf(w, " %d", ReadUint16(c.Code, next))
			next += 2
		case 3:
			fmt.Fprintf(w, " %d %d", ReadUint16(c.Code, next), c.Code[next+2])
			next += 3
		case 4:
			fmt.Fprintf(w, " catch=%d finally=%d", ReadUint16(c.Code, next), ReadUint16(c.Code, next+2))
			next += 4
		}
	}
	if isConstRef(op) {
		appendConstantComment(w, c, c.Code, next, op)
	}
	fmt.Fprintln(w)
	return next
}

func isConstRef(op Opcode) bool {
	switch op {
	case OpConst, OpGetGlobal, OpSetGlobal, OpDefineGlobal, OpGetProperty, OpSetProperty:
		return true
	}
	return false
}

func appendConstantComment(w io.Writer, c *Chunk, code []byte, afterOperand int, op Opcode) {
	width := op.operandWidth()
	if width != 2 {
		return
	}
	idx := int(ReadUint16(code, afterOperand-2))
	if idx < 0 || idx >= len(c.Constants) {
		return
	}
	fmt.Fprintf(w, " ; %s", describeConstant(c.Constants[idx]))
}

func describeConstant(k Constant) string {
	switch k.Kind {
	case ConstInt:
		return fmt.Sprintf("%d", k.I)
	case ConstFloat:
		return fmt.Sprintf("%g", k.F)
	case ConstString:
		return fmt.Sprintf("%q", k.S)
	case ConstIdent:
		return k.S
	case ConstFunction:
		return fmt.Sprintf("<fn %s>", k.Fn.Name)
	}
	return "?"
}

// ConstantTable renders the chunk's constant pool as an aligned table using
// github.com/olekukonko/tablewriter, for the `smogvm disassemble` CLI.
func ConstantTable(w io.Writer, c *Chunk) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "kind", "value"})
	for i, k := range c.Constants {
		kind := "int"
		switch k.Kind {
		case ConstFloat:
			kind = "float"
		case ConstString:
			kind = "string"
		case ConstIdent:
			kind = "ident"
		case ConstFunction:
			kind = "function"
		}
		table.Append([]string{fmt.Sprintf("%d", i), kind, describeConstant(k)})
	}
	table.Render()
}

// Summary returns a one-line stats string for quick REPL/CLI feedback.
func Summary(c *Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d bytes, %d constants, arity=%d", c.Name, len(c.Code), len(c.Constants), c.Arity)
	if c.HasRest {
		b.WriteString("+rest")
	}
	if c.IsAsync {
		b.WriteString(" async")
	}
	return b.String()
}
