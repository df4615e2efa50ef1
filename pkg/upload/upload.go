// Package upload implements the multipart file upload convention: uploaded
// file handles, the Upload scalar exposed to the execution engine, and the
// injection of handles into the null placeholders of an operations document.
package upload

import (
	"fmt"
	"mime/multipart"
)

// File is the handle to one uploaded multipart part. It is grafted into the
// variables tree of an operation and surfaces in resolvers via the Upload
// scalar.
type File struct {
	// Field is the multipart form part name the file arrived under.
	Field string
	// Header is the underlying multipart part.
	Header *multipart.FileHeader
}

// Filename reports the client-provided file name.
func (f *File) Filename() string {
	return f.Header.Filename
}

// Size reports the size of the uploaded content in bytes.
func (f *File) Size() int64 {
	return f.Header.Size
}

// Open returns a reader over the uploaded content. The caller closes it.
func (f *File) Open() (multipart.File, error) {
	return f.Header.Open()
}

// Upload is the scalar type resolvers declare for file-typed arguments. It
// satisfies the graph-gophers custom scalar contract, so a variables tree
// holding *File values unmarshals into resolver arguments directly.
type Upload struct {
	File *File
}

// ImplementsGraphQLType makes Upload usable for the "Upload" scalar.
func (Upload) ImplementsGraphQLType(name string) bool {
	return name == "Upload"
}

// UnmarshalGraphQL accepts the injected file handle as the variable value.
func (u *Upload) UnmarshalGraphQL(input interface{}) error {
	switch input := input.(type) {
	case *File:
		u.File = input
		return nil
	case Upload:
		u.File = input.File
		return nil
	default:
		return fmt.Errorf("wrong type for Upload: %T", input)
	}
}
