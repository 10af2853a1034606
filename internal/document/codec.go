package document

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Declaration is written before every root element.
const Declaration = `<?xml version="1.0" encoding="UTF-8"?>`

// Encode serializes root into the canonical byte form: declaration, no
// indentation, attributes in stored order, escaped text. The output is a pure
// function of the tree.
func Encode(root *Node) []byte {
	var buf bytes.Buffer
	buf.WriteString(Declaration)
	encodeNode(&buf, root)
	return buf.Bytes()
}

// Marshal serializes n without the XML declaration.
func (n *Node) Marshal() []byte {
	var buf bytes.Buffer
	encodeNode(&buf, n)
	return buf.Bytes()
}

func encodeNode(buf *bytes.Buffer, n *Node) {
	buf.WriteByte('<')
	buf.WriteString(n.Name)
	for _, a := range n.Attrs {
		buf.WriteByte(' ')
		buf.WriteString(a.Name)
		buf.WriteString(`="`)
		escape(buf, a.Value)
		buf.WriteByte('"')
	}
	if len(n.Children) == 0 && n.Value == "" {
		buf.WriteString("/>")
		return
	}
	buf.WriteByte('>')
	if len(n.Children) == 0 {
		escape(buf, n.Value)
	} else {
		for _, c := range n.Children {
			encodeNode(buf, c)
		}
	}
	buf.WriteString("</")
	buf.WriteString(n.Name)
	buf.WriteByte('>')
}

func escape(buf *bytes.Buffer, s string) {
	// EscapeText only fails when the writer fails; bytes.Buffer never does.
	_ = xml.EscapeText(buf, []byte(s))
}

// SyntaxError reports malformed input with its position.
type SyntaxError struct {
	Line    int
	Column  int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Message)
}

// Parse reads a serialized document into a tree. Namespace prefixes are kept
// verbatim in names so Encode(Parse(b)) reproduces canonical input exactly.
// Whitespace-only text between elements is dropped; mixed content is rejected.
func Parse(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	var (
		root  *Node
		stack []*Node
		text  []*strings.Builder
	)
	for {
		line, col := dec.InputPos()
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var se *xml.SyntaxError
			if errors.As(err, &se) {
				return nil, &SyntaxError{Line: se.Line, Message: se.Msg}
			}
			return nil, &SyntaxError{Line: line, Column: col, Message: err.Error()}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 && root != nil {
				return nil, &SyntaxError{Line: line, Column: col, Message: "multiple root elements"}
			}
			n := &Node{Name: qualified(t.Name), Line: line, Column: col}
			for _, a := range t.Attr {
				n.Attrs = append(n.Attrs, Attr{Name: qualified(a.Name), Value: a.Value})
			}
			if len(stack) == 0 {
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
			text = append(text, new(strings.Builder))

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, &SyntaxError{Line: line, Column: col, Message: "unexpected end element"}
			}
			n := stack[len(stack)-1]
			if qualified(t.Name) != n.Name {
				return nil, &SyntaxError{Line: line, Column: col,
					Message: fmt.Sprintf("element <%s> closed by </%s>", n.Name, qualified(t.Name))}
			}
			content := text[len(text)-1].String()
			if len(n.Children) == 0 {
				n.Value = content
			} else if strings.TrimSpace(content) != "" {
				return nil, &SyntaxError{Line: n.Line, Column: n.Column,
					Message: fmt.Sprintf("element <%s> mixes text and child elements", n.Name)}
			}
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]

		case xml.CharData:
			if len(stack) == 0 {
				if strings.TrimSpace(string(t)) != "" {
					return nil, &SyntaxError{Line: line, Column: col, Message: "text outside root element"}
				}
				continue
			}
			text[len(text)-1].Write(t)
		}
	}

	if root == nil {
		return nil, &SyntaxError{Line: 1, Column: 1, Message: "document has no root element"}
	}
	if len(stack) > 0 {
		return nil, &SyntaxError{Line: stack[0].Line, Column: stack[0].Column,
			Message: fmt.Sprintf("element <%s> is not closed", stack[len(stack)-1].Name)}
	}
	return root, nil
}

func qualified(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}
