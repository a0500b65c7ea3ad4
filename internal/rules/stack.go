package rules

// Stack is an immutable stack of rules. Push and Pop return new stacks, so a
// stack handed to one subtree is never affected by its siblings.
type Stack struct {
	items []*RenderRules
}

// NewStack seeds a stack with base, or the default rules when base is nil.
func NewStack(base *RenderRules) Stack {
	if base == nil {
		base = Default()
	}
	return Stack{items: []*RenderRules{base}}
}

// Push returns a copy of s with r on top.
func (s Stack) Push(r *RenderRules) Stack {
	items := make([]*RenderRules, len(s.items), len(s.items)+1)
	copy(items, s.items)
	return Stack{items: append(items, r)}
}

// Pop returns a copy of s without its top. The seed is never popped.
func (s Stack) Pop() Stack {
	if len(s.items) <= 1 {
		return s
	}
	return Stack{items: s.items[: len(s.items)-1 : len(s.items)-1]}
}

// Top returns the resolved rules.
func (s Stack) Top() *RenderRules {
	if len(s.items) == 0 {
		return Default()
	}
	return s.items[len(s.items)-1]
}

// Depth reports the number of rules on the stack including the seed.
func (s Stack) Depth() int { return len(s.items) }
