package sessions

// Kind names a family of session values that share a Go type. The name is
// the runtime tag hosts use to group and list values.
type Kind[T any] struct {
	name string
}

// NewKind declares a value kind. Names must be unique per value type within a
// deployment.
func NewKind[T any](name string) Kind[T] {
	return Kind[T]{name: name}
}

// Name returns the kind's runtime tag.
func (k Kind[T]) Name() string { return k.name }

// Key addresses a single value of kind k.
func (k Kind[T]) Key(name string) Key[T] {
	return Key[T]{kind: k.name, name: name}
}

// Key is a typed address of one session value.
type Key[T any] struct {
	kind string
	name string
}

// Kind returns the key's kind tag.
func (k Key[T]) Kind() string { return k.kind }

// Name returns the key's name within its kind.
func (k Key[T]) Name() string { return k.name }

func (k Key[T]) String() string { return k.kind + "/" + k.name }

// Entry is a decoded listing result.
type Entry[T any] struct {
	Name  string
	Value T
}
