package gitstore

import "fmt"

// TagExistsError reports an attempt to rebind an existing tag. Tags are
// created once and never moved.
type TagExistsError struct {
	Name string
}

func (e *TagExistsError) Error() string {
	return fmt.Sprintf("tag %q already exists", e.Name)
}

// TagNotFoundError reports a lookup of a tag that was never created.
type TagNotFoundError struct {
	Name string
}

func (e *TagNotFoundError) Error() string {
	return fmt.Sprintf("tag %q not found", e.Name)
}
