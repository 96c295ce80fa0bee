package tree

// Builder represents one node created in a session. Creating a Builder
// always appends a new node, even if a node with the same path exists.
//
// Replacing or adding a line in /etc/hosts looks like this:
//
//	root, _ := s.BuildNode("/scratch/01")
//	root.Child("ipaddr", "10.0.0.1")
//	root.Child("canonical", "srv.example.com")
//	root.Child("alias", "srv")
//	root.MoveOrCreate("/files/etc/hosts/*[canonical = 'srv.example.com']",
//	    "/files/etc/hosts/01")
type Builder struct {
	s    *Session
	path string
}

// Build appends a new node at path with value val. The value is set even
// when it is the empty string; use BuildNode for a node without a value.
func (s *Session) Build(path, val string) (*Builder, error) {
	return newBuilder(s, path, &val)
}

// BuildNode appends a new node at path that has no value.
func (s *Session) BuildNode(path string) (*Builder, error) {
	return newBuilder(s, path, nil)
}

// newBuilder appends a node at path. A nil val leaves the node without a
// value, which is not the same as an empty one.
func newBuilder(s *Session, path string, val *string) (*Builder, error) {
	var err error
	if val == nil {
		err = s.eng.Clear(path + "[last()+1]")
	} else {
		err = s.eng.Set(path+"[last()+1]", *val)
	}
	if err != nil {
		return nil, err
	}
	// resolve to the canonical path of the node just appended
	canon, err := s.Resolve(path + "[last()]")
	if err != nil {
		return nil, err
	}
	return &Builder{s: s, path: canon}, nil
}

// Path returns the canonical path of the node.
func (b *Builder) Path() string {
	return b.path
}

// Child appends a new child labeled lbl with value val.
func (b *Builder) Child(lbl, val string) (*Builder, error) {
	return newBuilder(b.s, b.path+"/"+lbl, &val)
}

// ChildNode appends a new child labeled lbl without a value.
func (b *Builder) ChildNode(lbl string) (*Builder, error) {
	return newBuilder(b.s, b.path+"/"+lbl, nil)
}

// Move relocates the node to target.
func (b *Builder) Move(target string) error {
	if err := b.s.eng.Move(b.path, target); err != nil {
		return err
	}
	b.path = target
	if canon, err := b.s.Resolve(target); err == nil {
		b.path = canon
	}
	return nil
}

// MoveOrCreate relocates the node to target if a node matches target,
// replacing it. Otherwise the node is moved to create.
func (b *Builder) MoveOrCreate(target, create string) error {
	exists, err := b.s.Exists(target)
	if err != nil {
		return err
	}
	if !exists {
		return b.Move(create)
	}
	return b.Move(target)
}
