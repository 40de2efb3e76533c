package snapshot

import "fmt"

// MetadataError reports a failure to create a staging node or apply one
// of its attributes. Attr names what failed ("node", "permissions",
// "timestamps", "ownership") so partial-attribute failures are
// distinguishable from node-creation failure.
type MetadataError struct {
	Path string
	Attr string
	Err  error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata %s on %s: %v", e.Attr, e.Path, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }

// ContentError reports a failure while materializing a staged file's
// content, either copying bytes or setting the sparse logical size.
type ContentError struct {
	Path string
	Err  error
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("content of %s: %v", e.Path, e.Err)
}

func (e *ContentError) Unwrap() error { return e.Err }
