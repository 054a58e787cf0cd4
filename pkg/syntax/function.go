package syntax

import "fmt"

// Function is a function definition found in a translation unit.
type Function struct {
	Name      string
	Node      Node // function_definition
	Body      Node // compound_statement
	StartLine int
	EndLine   int
}

// Functions returns every function definition in source order, including
// those nested in preprocessor conditionals.
func (t *Tree) Functions() []Function {
	var functions []Function

	stack := []Node{t.Root()}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if node.Kind() == "function_definition" {
			if fn, ok := newFunction(node); ok {
				functions = append(functions, fn)
			}
			continue
		}

		children := node.NamedChildren()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	return functions
}

// Function returns the first definition of the named function.
func (t *Tree) Function(name string) (Function, error) {
	for _, fn := range t.Functions() {
		if fn.Name == name {
			return fn, nil
		}
	}
	return Function{}, fmt.Errorf("function %q: %w", name, ErrFunctionNotFound)
}

func newFunction(node Node) (Function, bool) {
	body := node.Field("body")
	if body.IsZero() {
		return Function{}, false
	}

	name := declaratorName(node.Field("declarator"))
	if name == "" {
		return Function{}, false
	}

	return Function{
		Name:      name,
		Node:      node,
		Body:      body,
		StartLine: node.Line(),
		EndLine:   int(node.n.EndPoint().Row) + 1,
	}, true
}

// declaratorName unwraps pointer, function and parenthesized declarators
// down to the identifier they declare.
func declaratorName(decl Node) string {
	for !decl.IsZero() {
		switch decl.Kind() {
		case "identifier", "field_identifier":
			return decl.Text()
		case "parenthesized_declarator":
			named := decl.NamedChildren()
			if len(named) == 0 {
				return ""
			}
			decl = named[0]
		default:
			decl = decl.Field("declarator")
		}
	}
	return ""
}
